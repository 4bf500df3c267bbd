// Package externalclient handles one inbound TCP connection on the
// rendezvous's public Minecraft port: it sniffs the handshake, looks the
// hostname up in the registry, and either hands the connection off to the
// owning session or answers with a synthesized "server offline" response.
package externalclient

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"oretunnel/common/bufpool"
	"oretunnel/protocol"
	"oretunnel/protocol/minecraft"
	"oretunnel/registry"
	"oretunnel/stats"
)

// SniffDeadline bounds how long a connection has to produce a recognizable
// Minecraft handshake before it's dropped.
const SniffDeadline = 20 * time.Second

// Handle owns conn until either the external client is fully routed to a
// session or an offline response has been written and the connection
// closed. It never returns an error to the caller: everything it can't
// recover from it logs and closes.
func Handle(conn net.Conn, reg *registry.Registry, log *zap.Logger) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(SniffDeadline)); err != nil {
		return
	}

	br := bufio.NewReader(conn)
	hello, buffered, err := sniff(br)
	if err != nil {
		log.Debug("handshake sniff failed", zap.Error(err))
		return
	}

	hostname := registry.Clean(hello.Hostname)
	inbox, ok := reg.Lookup(hostname)
	if !ok {
		writeOffline(conn, br, hello, buffered, log)
		return
	}

	route(conn, br, buffered, inbox, reg, log)
}

// sniff feeds br into the handshake sniffer until it yields a Hello,
// growing the buffer each time the sniffer reports it needs more bytes.
// It returns the Hello and every byte consumed from br, so the caller can
// forward them as the session's first ProxyData frame unmodified.
func sniff(br *bufio.Reader) (minecraft.Hello, []byte, error) {
	buf := make([]byte, 0, 256)
	tmp := make([]byte, 256)
	for {
		hello, err := minecraft.Sniff(buf)
		if err == nil {
			return hello, buf, nil
		}
		if err != protocol.ErrNeedMore {
			return minecraft.Hello{}, nil, err
		}
		n, rerr := br.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if rerr != nil {
			return minecraft.Hello{}, nil, rerr
		}
	}
}

// writeOffline answers conn with the offline response for hello's variant.
// For ModernPing it also echoes the client's follow-up status-request/ping
// pair, reading through whatever of it sniff already pulled off the socket
// (buffered[hello.Consumed:]) before falling back to br, so nothing sniff
// already consumed is stranded.
func writeOffline(conn net.Conn, br *bufio.Reader, hello minecraft.Hello, buffered []byte, log *zap.Logger) {
	switch hello.Variant {
	case minecraft.ModernPing:
		if err := minecraft.WriteStatusResponse(conn); err != nil {
			log.Debug("write status response", zap.Error(err))
			return
		}
		leftover := buffered[hello.Consumed:]
		r := io.MultiReader(bytes.NewReader(leftover), br)
		// Best-effort: a client that skips the ping-token round trip
		// simply never gets a reply to it, which is a legal client action.
		_ = minecraft.EchoStatusPing(r, conn)
	case minecraft.ModernConnect:
		if err := minecraft.WriteKickResponse(conn, minecraft.OfflineMessage); err != nil {
			log.Debug("write kick response", zap.Error(err))
		}
	case minecraft.LegacyPing, minecraft.LegacyConnect:
		if err := minecraft.WriteLegacyKick(conn, byte(hello.ProtocolVersion), minecraft.OfflineMessage, ""); err != nil {
			log.Debug("write legacy kick", zap.Error(err))
		}
	}
}

// route hands the connection to the session that owns hostname: it
// allocates a slot, forwards the sniffed bytes as the first ProxyData
// frame (join-before-data), then pumps bytes in both directions until
// either side closes. It keeps reading the post-handshake stream through
// br, the same bufio.Reader the sniffer used — br may already hold bytes
// the client sent just after the handshake in the same TCP segment, and
// reading raw off conn instead would strand them.
func route(conn net.Conn, br *bufio.Reader, sniffed []byte, inbox registry.Inbox, reg *registry.Registry, log *zap.Logger) {
	outbox := make(chan protocol.ProxyData, 64)
	id, err := inbox.AddExternalClient(outbox)
	if err != nil {
		log.Debug("add external client", zap.Error(err))
		return
	}
	reg.IncrementClients()
	stats.Global().ClientJoined()
	defer reg.DecrementClients()
	defer stats.Global().ClientLeft()

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return
	}

	type sessionHandle interface {
		RemoveExternalClient(protocol.ClientID)
		Data(protocol.ClientID, []byte)
		ClientClosed(protocol.ClientID) <-chan struct{}
	}
	sess, ok := inbox.(sessionHandle)
	if !ok {
		return
	}

	if len(sniffed) > 0 {
		sess.Data(id, sniffed)
	}

	closed := sess.ClientClosed(id)
	go func() {
		<-closed
		conn.Close()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case data := <-outbox:
				if _, err := conn.Write(data.Bytes); err != nil {
					sess.RemoveExternalClient(id)
					return
				}
				stats.Global().AddBytesToClients(uint64(len(data.Bytes)))
			case <-closed:
				return
			}
		}
	}()

	buf := bufpool.LargePool.Get()
	defer bufpool.LargePool.Put(buf)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			sess.Data(id, cp)
		}
		if err != nil {
			break
		}
	}
	sess.RemoveExternalClient(id)
	<-done
}
