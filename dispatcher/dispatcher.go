// Package dispatcher accepts inbound TCP connections on the rendezvous's
// single public port and routes each one to either the proxy-client
// handshake (auth + session) or the external Minecraft client handler,
// based on whether the connection opens with the proxy-client magic
// preamble.
package dispatcher

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"oretunnel/auth"
	"oretunnel/externalclient"
	"oretunnel/protocol"
	"oretunnel/registry"
	"oretunnel/session"
	"oretunnel/stats"
)

// Timeout bounds how long a connection may take to reach a routed state:
// either the external-client handshake sniff or the proxy-client
// authentication exchange.
const Timeout = 20 * time.Second

// Config holds the knobs a Dispatcher needs beyond the registry and logger
// it's constructed with.
type Config struct {
	// KeySuffix is appended to the base32 public key when deriving a
	// proxy-client's hostname. Defaults to auth.DefaultKeySuffix.
	KeySuffix string

	// AdmitRate and AdmitBurst gate how fast new connections are accepted
	// before any sniffing or auth work is done. A zero AdmitRate disables
	// the limiter entirely, matching the teacher's unthrottled accept loop.
	AdmitRate  rate.Limit
	AdmitBurst int
}

// Dispatcher is the top-level accept loop.
type Dispatcher struct {
	cfg     Config
	reg     *registry.Registry
	log     *zap.Logger
	limiter *rate.Limiter
}

func New(cfg Config, reg *registry.Registry, log *zap.Logger) *Dispatcher {
	if cfg.KeySuffix == "" {
		cfg.KeySuffix = auth.DefaultKeySuffix
	}
	d := &Dispatcher{cfg: cfg, reg: reg, log: log}
	if cfg.AdmitRate > 0 {
		d.limiter = rate.NewLimiter(cfg.AdmitRate, cfg.AdmitBurst)
	}
	return d
}

// Serve accepts connections from ln until it errors or ctx is canceled,
// in which case it returns nil instead of the listener's close error.
func (d *Dispatcher) Serve(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		if d.limiter != nil && !d.limiter.Allow() {
			conn.Close()
			continue
		}
		go d.handle(conn)
	}
}

// peekedConn lets dispatcher buffer-peek a connection's opening bytes
// through a bufio.Reader to decide which path to take, then hand the same
// Reader on to whichever handler it picked, so nothing already read off
// the socket gets stranded in a buffer the handler never sees.
type peekedConn struct {
	net.Conn
	r *bufio.Reader
}

func (p *peekedConn) Read(b []byte) (int, error) { return p.r.Read(b) }

func (d *Dispatcher) handle(conn net.Conn) {
	connID := uuid.NewString()
	log := d.log.With(zap.String("conn_id", connID), zap.String("remote", conn.RemoteAddr().String()))

	if err := conn.SetDeadline(time.Now().Add(Timeout)); err != nil {
		conn.Close()
		return
	}

	br := bufio.NewReader(conn)
	pc := &peekedConn{Conn: conn, r: br}

	peeked, err := br.Peek(len(protocol.Magic))
	if err == nil && string(peeked) == protocol.Magic {
		br.Discard(len(protocol.Magic))
		d.handleProxyClient(pc, br, log)
		return
	}

	externalclient.Handle(pc, d.reg, log)
}

func (d *Dispatcher) handleProxyClient(conn net.Conn, br *bufio.Reader, log *zap.Logger) {
	defer conn.Close()

	var clientVersion uint16
	if err := binary.Read(br, binary.BigEndian, &clientVersion); err != nil {
		log.Debug("read client version", zap.Error(err))
		return
	}

	dec := protocol.NewDecoder(conn)
	enc := protocol.NewEncoder(conn)

	var hello protocol.ProxyHello
	for {
		msg, err := dec.Decode()
		if err != nil {
			log.Debug("decode before hello", zap.Error(err))
			return
		}
		switch m := msg.(type) {
		case protocol.ProxyHello:
			hello = m
		case protocol.ProxyPing:
			if err := enc.Encode(protocol.ProxyPong{Nonce: m.Nonce}); err != nil {
				return
			}
			continue
		default:
			log.Debug("unexpected message before hello")
			return
		}
		break
	}

	if err := auth.ServerExchange(enc, dec, hello, d.cfg.KeySuffix); err != nil {
		log.Info("authentication failed", zap.String("hostname", hello.Hostname), zap.Error(err))
		stats.Global().AuthFailed()
		_ = enc.Encode(protocol.ProxyError{Text: fmt.Sprintf("Error authenticating: %s", errorKind(err))})
		return
	}

	var sess *session.Session
	sess = session.New(conn, hello.Hostname, log, func() {
		d.reg.Unregister(hello.Hostname, sess)
	})

	if err := d.reg.Register(hello.Hostname, sess); err != nil {
		log.Info("hostname already connected", zap.String("hostname", hello.Hostname))
		_ = enc.Encode(protocol.ProxyError{Text: "Server already connected. Try again later!"})
		return
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		d.reg.Unregister(hello.Hostname, sess)
		return
	}

	if err := enc.Encode(protocol.ProxyHelloResponse{Version: protocol.ProtocolVersion}); err != nil {
		d.reg.Unregister(hello.Hostname, sess)
		return
	}

	log.Info("proxy-client connected", zap.String("hostname", hello.Hostname))
	stats.Global().SessionOpened()
	sess.Run()
	stats.Global().SessionClosed()
	log.Info("proxy-client disconnected", zap.String("hostname", hello.Hostname))
}

// errorKind names the Kind behind err, for wire-level error text that
// names a category rather than a full, potentially wrapped message.
func errorKind(err error) string {
	var pe *protocol.Error
	if errors.As(err, &pe) {
		return pe.Kind.String()
	}
	return "AuthError"
}
