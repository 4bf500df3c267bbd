// Package agent implements the home-side proxy-client: it dials the
// rendezvous, authenticates with an Ed25519 key, and multiplexes every
// external Minecraft stream the rendezvous announces with ProxyJoin onto
// its own TCP connection to the local Minecraft server. It is the other
// end of session.Session's wire protocol, generalized from the same
// frame-codec/slot-table shape but driven by the peer's id assignments
// instead of allocating its own.
package agent

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"oretunnel/auth"
	commonnet "oretunnel/common/net"
	"oretunnel/protocol"
)

// Config holds everything one connect attempt needs.
type Config struct {
	// ServerAddr is host:port of the rendezvous.
	ServerAddr string
	// LocalAddr is host:port of the home Minecraft server new streams are
	// dialed against.
	LocalAddr string
	// Seed is the 32-byte Ed25519 seed this agent authenticates with.
	Seed []byte
	// KeySuffix must match the rendezvous's configured suffix.
	KeySuffix string
	// RetryInterval is the minimum sleep between reconnect attempts.
	RetryInterval time.Duration

	Log *zap.Logger
}

// RetryInterval default, matching spec.md §5's "sleep ≥ 5 s between
// attempts".
const DefaultRetryInterval = 5 * time.Second

// idleTimeout and pingInterval mirror session.Timeout/PingInterval on the
// rendezvous side: the wire protocol is symmetric, so both ends apply the
// same 20s/5s liveness discipline.
const (
	idleTimeout  = 20 * time.Second
	pingInterval = 5 * time.Second
)

// Run dials cfg.ServerAddr and multiplexes until ctx is canceled,
// reconnecting with RetryInterval between attempts. It only returns once
// ctx is done.
func Run(ctx context.Context, cfg Config) error {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	priv := ed25519.NewKeyFromSeed(cfg.Seed)
	hostname := auth.HostnameForKey(priv.Public().(ed25519.PublicKey), cfg.KeySuffix)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Info("connecting to rendezvous", zap.String("server", cfg.ServerAddr), zap.String("hostname", hostname))
		err := connectOnce(ctx, cfg, priv, hostname, log)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("disconnected from rendezvous, retrying", zap.Error(err), zap.Duration("after", cfg.RetryInterval))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.RetryInterval):
		}
	}
}

func connectOnce(ctx context.Context, cfg Config, priv ed25519.PrivateKey, hostname string, log *zap.Logger) error {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("dial rendezvous: %w", err)
	}
	defer conn.Close()
	_ = commonnet.OptimizeTCPConn(conn)

	// The encoder/decoder pair is created once, before the handshake, and
	// reused for the multiplexing session that follows: the decoder's
	// bufio.Reader may already hold bytes the rendezvous sent right after
	// ProxyHelloResponse (e.g. an immediate ProxyJoin), and building a
	// fresh Decoder for the session would strand them.
	enc := protocol.NewEncoder(conn)
	dec := protocol.NewDecoder(conn)

	if err := handshake(conn, enc, dec, priv, hostname); err != nil {
		return err
	}

	log.Info("authenticated with rendezvous", zap.String("hostname", hostname))

	s := &muxSession{
		conn:      conn,
		enc:       enc,
		dec:       dec,
		localAddr: cfg.LocalAddr,
		log:       log,
		inbox:     newQueue(),
	}
	return s.run(ctx)
}

// handshake writes the magic preamble and protocol version directly to
// conn (ahead of any framed traffic), sends ProxyHello, then runs the
// Ed25519 challenge/response and waits for ProxyHelloResponse.
func handshake(conn net.Conn, enc *protocol.Encoder, dec *protocol.Decoder, priv ed25519.PrivateKey, hostname string) error {
	if _, err := conn.Write([]byte(protocol.Magic)); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	var verBuf [2]byte
	binary.BigEndian.PutUint16(verBuf[:], protocol.ProtocolVersion)
	if _, err := conn.Write(verBuf[:]); err != nil {
		return fmt.Errorf("write protocol version: %w", err)
	}

	var pubKey [32]byte
	copy(pubKey[:], priv.Public().(ed25519.PublicKey))
	if err := enc.Encode(protocol.ProxyHello{
		Version:  protocol.ProtocolVersion,
		Hostname: hostname,
		Auth:     pubKey,
	}); err != nil {
		return fmt.Errorf("write hello: %w", err)
	}

	if err := auth.ClientExchange(enc, dec, priv); err != nil {
		return fmt.Errorf("auth exchange: %w", err)
	}

	msg, err := dec.Decode()
	if err != nil {
		return fmt.Errorf("read hello response: %w", err)
	}
	switch m := msg.(type) {
	case protocol.ProxyHelloResponse:
		return nil
	case protocol.ProxyError:
		return fmt.Errorf("rendezvous rejected connection: %s", m.Text)
	default:
		return fmt.Errorf("expected ProxyHelloResponse, got %T", msg)
	}
}

// muxSession is the agent-side counterpart to session.Session: one reader
// goroutine decoding frames off the rendezvous socket, one writer
// goroutine draining an unbounded inbox onto it, and one pump goroutine
// per locally-dialed Minecraft connection.
type muxSession struct {
	conn      net.Conn
	enc       *protocol.Encoder
	dec       *protocol.Decoder
	localAddr string
	log       *zap.Logger

	table clientTable
	inbox *queue

	pingNonce uint16
}

type cmdData struct {
	id    protocol.ClientID
	bytes []byte
}

type cmdPong struct {
	nonce uint16
}

type cmdPing struct {
	nonce uint16
}

func (s *muxSession) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pingNonce++
			s.inbox.push(cmdPing{nonce: s.pingNonce})
		}
	}
}

func (s *muxSession) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readerLoop() })
	g.Go(func() error { return s.writerLoop() })
	g.Go(func() error { s.keepaliveLoop(gctx); return nil })
	g.Go(func() error {
		<-gctx.Done()
		s.inbox.close()
		s.conn.Close()
		return nil
	})
	err := g.Wait()
	for _, c := range s.table.clearAll() {
		c.Close()
	}
	return err
}

func (s *muxSession) readerLoop() error {
	defer s.inbox.close()
	defer s.conn.Close()
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
			return err
		}
		msg, err := s.dec.Decode()
		if err != nil {
			// Decode reports a clean EOF or closed connection the same way
			// it reports a frame that simply hasn't arrived yet, both as
			// ErrNeedMore (see protocol.Decoder.Decode): there is no more
			// data coming either way, so this must return rather than spin.
			if errors.Is(err, protocol.ErrNeedMore) || errors.Is(err, io.EOF) {
				return err
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.log.Debug("session idle timeout")
			}
			return err
		}
		s.handleInbound(msg)
	}
}

func (s *muxSession) handleInbound(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.ProxyJoin:
		s.onJoin(m.ClientID)
	case protocol.ProxyData:
		s.onData(m.ClientID, m.Bytes)
	case protocol.ProxyDisconnect:
		if c, ok := s.table.clear(m.ClientID); ok {
			c.Close()
		}
	case protocol.ProxyPing:
		s.inbox.push(cmdPong{nonce: m.Nonce})
	case protocol.ProxyPong:
		// liveness already refreshed by having received any frame.
	case protocol.ProxyError:
		s.log.Warn("rendezvous reported error", zap.String("text", m.Text))
	default:
		s.log.Debug("unexpected message on established session")
	}
}

// onJoin dials the local Minecraft server for a newly announced client_id
// and starts the pump goroutine that forwards its bytes back as
// ProxyData.
func (s *muxSession) onJoin(id protocol.ClientID) {
	conn, err := net.DialTimeout("tcp", s.localAddr, 5*time.Second)
	if err != nil {
		s.log.Warn("dial local minecraft server failed", zap.Error(err), zap.Uint16("client_id", uint16(id)))
		return
	}
	_ = commonnet.OptimizeTCPConn(conn)
	s.table.set(id, conn)
	go s.pump(id, conn)
}

func (s *muxSession) onData(id protocol.ClientID, b []byte) {
	conn, ok := s.table.get(id)
	if !ok {
		return // unknown id: matches spec.md §9's "drop silently"
	}
	if _, err := conn.Write(b); err != nil {
		if c, ok := s.table.clear(id); ok {
			c.Close()
		}
	}
}

// pump reads id's local Minecraft connection until EOF or error, framing
// every read as Data on the writer's inbox, then clears the slot and
// tells the rendezvous the stream is gone.
func (s *muxSession) pump(id protocol.ClientID, conn net.Conn) {
	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			s.inbox.push(cmdData{id: id, bytes: cp})
		}
		if err != nil {
			break
		}
	}
	if _, ok := s.table.clear(id); ok {
		s.inbox.push(cmdDisconnect{id: id})
	}
}

type cmdDisconnect struct {
	id protocol.ClientID
}

func (s *muxSession) writerLoop() error {
	for {
		cmd, ok := s.inbox.pop()
		if !ok {
			return io.EOF
		}
		if err := s.apply(cmd); err != nil {
			return err
		}
		for {
			next, ok := s.inbox.tryPop()
			if !ok {
				break
			}
			if err := s.apply(next); err != nil {
				return err
			}
		}
		if err := s.enc.Flush(); err != nil {
			return err
		}
	}
}

func (s *muxSession) apply(cmd any) error {
	switch v := cmd.(type) {
	case cmdData:
		return s.enc.Feed(protocol.ProxyData{ClientID: v.id, Bytes: v.bytes})
	case cmdPong:
		return s.enc.Feed(protocol.ProxyPong{Nonce: v.nonce})
	case cmdPing:
		return s.enc.Feed(protocol.ProxyPing{Nonce: v.nonce})
	case cmdDisconnect:
		return s.enc.Feed(protocol.ProxyDisconnect{ClientID: v.id})
	}
	return nil
}
