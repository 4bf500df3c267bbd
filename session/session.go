// Package session implements the authenticated proxy-client connection:
// the reader/writer goroutine pair, the per-connection slot table, and the
// writer's unbounded command queue that lets external-client handlers and
// the reader hand work to the single goroutine allowed to write frames.
package session

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"oretunnel/protocol"
	"oretunnel/stats"
)

// Timeout is the idle deadline: if no frame arrives from the peer within
// this long, the session is considered dead and torn down.
const Timeout = 20 * time.Second

// PingInterval is how often the session emits a keepalive ProxyPing while
// otherwise idle.
const PingInterval = 5 * time.Second

// State is the session's lifecycle stage. A Session is only ever
// constructed once authentication has already succeeded, so Session never
// models NotAuthenticated itself — that stage lives in the handshake code
// that calls auth.ServerExchange before creating a Session.
type State int32

const (
	Authenticated State = iota
	Disconnected
)

// Session owns one authenticated proxy-client connection for the lifetime
// of that TCP connection. One goroutine reads frames from the socket into
// the slot table's outboxes; a second drains a command queue and writes
// frames out. Neither goroutine touches the other's side of the split
// directly; they only share the slot table and the queue.
type Session struct {
	Hostname string

	conn net.Conn
	enc  *protocol.Encoder
	dec  *protocol.Decoder
	log  *zap.Logger

	slots slotTable
	inbox *queue

	state      atomicState
	closeOnce  sync.Once
	done       chan struct{}
	unregister func()

	pingNonce uint16
}

type atomicState struct {
	mu sync.Mutex
	v  State
}

func (s *atomicState) load() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v
}

func (s *atomicState) store(v State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = v
}

// New wraps conn as an authenticated session for hostname. unregister is
// called exactly once, when the session tears down, so the caller can
// remove it from the registry.
func New(conn net.Conn, hostname string, log *zap.Logger, unregister func()) *Session {
	s := &Session{
		Hostname:   hostname,
		conn:       conn,
		enc:        protocol.NewEncoder(conn),
		dec:        protocol.NewDecoder(conn),
		log:        log.With(zap.String("hostname", hostname)),
		inbox:      newQueue(),
		done:       make(chan struct{}),
		unregister: unregister,
	}
	s.state.store(Authenticated)
	return s
}

// Run starts the reader and writer goroutines and blocks until the
// session tears down, either because the connection died or Close was
// called. Either goroutine exiting triggers Close, which unblocks the
// other (closing the connection unblocks the reader's pending Decode;
// closing the inbox unblocks the writer's pending pop). It is the
// caller's one blocking entry point.
func (s *Session) Run() {
	var g errgroup.Group
	g.Go(func() error { s.readerLoop(); return nil })
	g.Go(func() error { s.writerLoop(); return nil })
	go s.keepaliveLoop()
	_ = g.Wait()
}

// Close tears the session down: it stops the writer, unblocks the reader
// by closing the underlying connection, and unregisters the hostname. It
// is safe to call more than once and from either goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.store(Disconnected)
		close(s.done)
		s.inbox.close()
		s.conn.Close()
		s.slots.clearAll()
		if s.unregister != nil {
			s.unregister()
		}
	})
}

func (s *Session) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// AddExternalClient occupies a slot for a newly-accepted Minecraft
// connection and tells the peer to expect data on it. It satisfies
// registry.Inbox.
func (s *Session) AddExternalClient(outbox chan<- protocol.ProxyData) (protocol.ClientID, error) {
	if s.isDone() {
		return 0, protocol.NewError(protocol.KindIO, "session closed")
	}
	reply := make(chan addResult, 1)
	s.inbox.push(cmdAddClient{outbox: outbox, reply: reply})
	select {
	case r := <-reply:
		return r.id, r.err
	case <-s.done:
		return 0, protocol.NewError(protocol.KindIO, "session closed")
	}
}

// ClientClosed returns a channel that closes once id's slot is cleared,
// whether by RemoveExternalClient, an inbound ProxyDisconnect, or session
// teardown. An external-client handler selects on it to stop pumping
// without ever receiving on a channel it also sends to.
func (s *Session) ClientClosed(id protocol.ClientID) <-chan struct{} {
	return s.slots.doneChan(id)
}

// Data enqueues bytes originating from external client id to be framed
// and written to the proxy-client.
func (s *Session) Data(id protocol.ClientID, b []byte) {
	s.inbox.push(cmdData{id: id, bytes: b})
}

// RemoveExternalClient tells the writer to clear id's slot and notify the
// peer with ProxyDisconnect. It is safe to call more than once for the
// same id.
func (s *Session) RemoveExternalClient(id protocol.ClientID) {
	s.inbox.push(cmdRemoveClient{id: id})
}

type cmdAddClient struct {
	outbox chan<- protocol.ProxyData
	reply  chan<- addResult
}

type addResult struct {
	id  protocol.ClientID
	err error
}

type cmdData struct {
	id    protocol.ClientID
	bytes []byte
}

type cmdRemoveClient struct {
	id protocol.ClientID
}

type cmdClearSlotSilent struct {
	id protocol.ClientID
}

type cmdPing struct {
	nonce uint16
}

type cmdPong struct {
	nonce uint16
}

// writerLoop is the only goroutine permitted to call s.enc.Feed/Flush or
// mutate s.slots. It pops one command (blocking), then drains everything
// already queued without flushing, and flushes once before going back to
// sleep — so a burst of enqueued work costs one syscall, not one per item.
func (s *Session) writerLoop() {
	for {
		cmd, ok := s.inbox.pop()
		if !ok {
			return
		}
		s.apply(cmd)
		for {
			next, ok := s.inbox.tryPop()
			if !ok {
				break
			}
			s.apply(next)
		}
		if err := s.enc.Flush(); err != nil {
			s.log.Debug("flush failed", zap.Error(err))
			s.Close()
			return
		}
	}
}

func (s *Session) apply(cmd any) {
	switch v := cmd.(type) {
	case cmdAddClient:
		id, ok := s.slots.allocate(v.outbox)
		if !ok {
			v.reply <- addResult{err: protocol.NewError(protocol.KindTooManyClients, s.Hostname)}
			return
		}
		v.reply <- addResult{id: id}
		s.feed(protocol.ProxyJoin{ClientID: id})
	case cmdData:
		s.feed(protocol.ProxyData{ClientID: v.id, Bytes: v.bytes})
	case cmdRemoveClient:
		if s.slots.clear(v.id) {
			s.feed(protocol.ProxyDisconnect{ClientID: v.id})
		}
	case cmdClearSlotSilent:
		s.slots.clear(v.id)
	case cmdPing:
		s.feed(protocol.ProxyPing{Nonce: v.nonce})
	case cmdPong:
		s.feed(protocol.ProxyPong{Nonce: v.nonce})
	}
}

func (s *Session) feed(m protocol.Message) {
	if err := s.enc.Feed(m); err != nil {
		s.log.Debug("feed failed", zap.Error(err))
		s.Close()
	}
}

// readerLoop is the only goroutine that calls s.dec.Decode or dispatches
// inbound ProxyData to the outboxes named in the slot table.
func (s *Session) readerLoop() {
	defer s.Close()
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(Timeout)); err != nil {
			return
		}
		msg, err := s.dec.Decode()
		if err != nil {
			if errors.Is(err, protocol.ErrNeedMore) || errors.Is(err, io.EOF) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.log.Debug("session idle timeout")
			}
			return
		}
		s.handleInbound(msg)
	}
}

func (s *Session) handleInbound(msg protocol.Message) {
	if _, isData := msg.(protocol.ProxyData); !isData {
		stats.Global().ControlMessage(msgTypeName(msg))
	}
	switch v := msg.(type) {
	case protocol.ProxyData:
		outbox, ok := s.slots.get(v.ClientID)
		if !ok {
			return // unknown slot: silently dropped, matches a client torn down moments earlier
		}
		select {
		case outbox <- v:
			stats.Global().AddBytesFromHome(uint64(len(v.Bytes)))
		default:
			// external client isn't draining fast enough; give up on it
			// rather than block the whole session on one slow reader.
			s.inbox.push(cmdRemoveClient{id: v.ClientID})
		}
	case protocol.ProxyDisconnect:
		s.inbox.push(cmdClearSlotSilent{id: v.ClientID})
	case protocol.ProxyPing:
		s.inbox.push(cmdPong{nonce: v.Nonce})
	case protocol.ProxyPong:
		// liveness already refreshed by having received any frame at all.
	default:
		s.log.Debug("unexpected message on established session", zap.String("type", msgTypeName(msg)))
	}
}

func (s *Session) keepaliveLoop() {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.pingNonce++
			s.inbox.push(cmdPing{nonce: s.pingNonce})
		}
	}
}

func msgTypeName(m protocol.Message) string {
	switch m.(type) {
	case protocol.ProxyHello:
		return "ProxyHello"
	case protocol.ProxyAuthRequest:
		return "ProxyAuthRequest"
	case protocol.ProxyAuthResponse:
		return "ProxyAuthResponse"
	case protocol.ProxyHelloResponse:
		return "ProxyHelloResponse"
	case protocol.ProxyError:
		return "ProxyError"
	case protocol.ProxyJoin:
		return "ProxyJoin"
	case protocol.ProxyDisconnect:
		return "ProxyDisconnect"
	case protocol.ProxyPing:
		return "ProxyPing"
	case protocol.ProxyPong:
		return "ProxyPong"
	default:
		return "unknown"
	}
}
