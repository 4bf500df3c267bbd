// Package registry implements the process-wide hostname → session mapping
// that lets an external Minecraft connection be routed to the proxy-client
// session that authenticated for that hostname.
package registry

import (
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"oretunnel/protocol"
)

// caser performs Unicode-correct case folding for hostnames, rather than
// strings.ToLower's byte-oriented ASCII-only folding — internationalized
// virtual hostnames (IDN labels) fold correctly under it.
var caser = cases.Lower(language.Und)

// Inbox is the narrow view the registry needs of a session: just enough to
// hand an external client off to the session's writer. session.Session
// satisfies this.
type Inbox interface {
	AddExternalClient(outbox chan<- protocol.ProxyData) (protocol.ClientID, error)
}

// Registry is the single-owner hostname → session map. Reads dominate
// writes, matching the teacher's RWMutex-guarded manager maps.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Inbox

	clientCount atomic.Int64
}

func New() *Registry {
	return &Registry{entries: make(map[string]Inbox)}
}

// Clean strips a trailing dot and, if the first label matches the
// "random-*" DNS-cache-busting convention some clients use, drops that
// label before the lookup key is computed.
func Clean(hostname string) string {
	h := strings.TrimSuffix(caser.String(hostname), ".")
	if idx := strings.IndexByte(h, '.'); idx >= 0 {
		if strings.HasPrefix(h[:idx], "random-") {
			return h[idx+1:]
		}
	} else if strings.HasPrefix(h, "random-") {
		return ""
	}
	return h
}

// Register atomically inserts inbox under hostname, or reports
// ServerAlreadyConnected if another session already owns it.
func (r *Registry) Register(hostname string, inbox Inbox) error {
	h := Clean(hostname)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[h]; exists {
		return protocol.NewError(protocol.KindServerAlreadyConnected, h)
	}
	r.entries[h] = inbox
	return nil
}

// Lookup returns the current owner of hostname, if any.
func (r *Registry) Lookup(hostname string) (Inbox, bool) {
	h := Clean(hostname)
	r.mu.RLock()
	defer r.mu.RUnlock()
	inbox, ok := r.entries[h]
	return inbox, ok
}

// Unregister removes hostname's entry. It is idempotent: unregistering an
// absent or already-replaced hostname is a no-op.
func (r *Registry) Unregister(hostname string, owner Inbox) {
	h := Clean(hostname)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[h] == owner {
		delete(r.entries, h)
	}
}

// ServerCount returns the number of currently registered hostnames.
func (r *Registry) ServerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// IncrementClients and DecrementClients track how many external Minecraft
// connections are currently routed through any session, for telemetry.
func (r *Registry) IncrementClients() { r.clientCount.Add(1) }
func (r *Registry) DecrementClients() { r.clientCount.Add(-1) }
func (r *Registry) ClientCount() int64 { return r.clientCount.Load() }
