// Package stats collects process-wide atomic counters and exposes them as
// a point-in-time Snapshot. The telemetry reporter (external.StatsReporter)
// does not read them: cmd/rendezvous fills its snapshot from the registry's
// server and client counts.
package stats

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Stats holds every counter as a go.uber.org/atomic value so increments
// from session/dispatcher/externalclient goroutines never need their own
// locking.
type Stats struct {
	TotalSessions  atomic.Uint64
	ActiveSessions atomic.Uint64
	FailedAuths    atomic.Uint64

	TotalClients  atomic.Uint64
	ActiveClients atomic.Uint64

	BytesToClients atomic.Uint64
	BytesFromHome  atomic.Uint64

	TotalErrors atomic.Uint64

	startTime    time.Time
	lastActivity atomic.Time

	controlMsgMu sync.RWMutex
	controlMsgs  map[string]uint64
}

func New() *Stats {
	s := &Stats{
		startTime:   time.Now(),
		controlMsgs: make(map[string]uint64),
	}
	s.lastActivity.Store(time.Now())
	return s
}

func (s *Stats) SessionOpened() {
	s.TotalSessions.Inc()
	s.ActiveSessions.Inc()
	s.touch()
}

func (s *Stats) SessionClosed() {
	s.ActiveSessions.Dec()
}

func (s *Stats) AuthFailed() {
	s.FailedAuths.Inc()
	s.TotalErrors.Inc()
}

func (s *Stats) ClientJoined() {
	s.TotalClients.Inc()
	s.ActiveClients.Inc()
	s.touch()
}

func (s *Stats) ClientLeft() {
	s.ActiveClients.Dec()
}

func (s *Stats) AddBytesToClients(n uint64) {
	s.BytesToClients.Add(n)
	s.touch()
}

func (s *Stats) AddBytesFromHome(n uint64) {
	s.BytesFromHome.Add(n)
	s.touch()
}

// ControlMessage tallies a named control-message kind (e.g. "ProxyPing")
// for diagnostics.
func (s *Stats) ControlMessage(kind string) {
	s.controlMsgMu.Lock()
	s.controlMsgs[kind]++
	s.controlMsgMu.Unlock()
}

func (s *Stats) touch() {
	s.lastActivity.Store(time.Now())
}

// Snapshot is a point-in-time copy of Stats, safe to serialize.
type Snapshot struct {
	TotalSessions  uint64
	ActiveSessions uint64
	FailedAuths    uint64

	TotalClients  uint64
	ActiveClients uint64

	BytesToClients uint64
	BytesFromHome  uint64

	TotalErrors uint64

	Uptime       time.Duration
	LastActivity time.Time

	ControlMessages map[string]uint64
}

func (s *Stats) Snapshot() Snapshot {
	s.controlMsgMu.RLock()
	msgs := make(map[string]uint64, len(s.controlMsgs))
	for k, v := range s.controlMsgs {
		msgs[k] = v
	}
	s.controlMsgMu.RUnlock()

	return Snapshot{
		TotalSessions:  s.TotalSessions.Load(),
		ActiveSessions: s.ActiveSessions.Load(),
		FailedAuths:    s.FailedAuths.Load(),

		TotalClients:  s.TotalClients.Load(),
		ActiveClients: s.ActiveClients.Load(),

		BytesToClients: s.BytesToClients.Load(),
		BytesFromHome:  s.BytesFromHome.Load(),

		TotalErrors: s.TotalErrors.Load(),

		Uptime:       time.Since(s.startTime),
		LastActivity: s.lastActivity.Load(),

		ControlMessages: msgs,
	}
}

var global = New()

// Global returns the process-wide Stats instance used outside tests.
func Global() *Stats { return global }
