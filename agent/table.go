package agent

import (
	"net"
	"sync"

	"oretunnel/protocol"
)

// clientTable tracks the local TCP connection (to the home Minecraft
// server) backing each client_id the rendezvous has assigned via
// ProxyJoin. Unlike session.slotTable on the rendezvous side, ids here are
// never allocated locally — they arrive already chosen by the peer — so
// the table is just a fixed-size array indexed directly by id, guarded by
// one mutex since both the reader goroutine (on ProxyJoin/ProxyDisconnect)
// and each per-client pump goroutine (on local EOF) mutate it.
type clientTable struct {
	mu    sync.Mutex
	conns [protocol.MaxClients]net.Conn
}

func (t *clientTable) set(id protocol.ClientID, conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[id] = conn
}

func (t *clientTable) get(id protocol.ClientID) (net.Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.conns[id]
	return c, c != nil
}

// clear removes id's entry and returns the connection that was there, if
// any, so the caller can close it exactly once.
func (t *clientTable) clear(id protocol.ClientID) (net.Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.conns[id]
	t.conns[id] = nil
	return c, c != nil
}

// clearAll empties every occupied entry and returns the connections that
// were present, for session teardown.
func (t *clientTable) clearAll() []net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []net.Conn
	for i := range t.conns {
		if t.conns[i] != nil {
			out = append(out, t.conns[i])
			t.conns[i] = nil
		}
	}
	return out
}
