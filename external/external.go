// Package external defines the narrow interfaces this module uses to stand
// in for everything §1 scopes out of the core: the desktop GUI, the
// auto-updater, persistent key storage, and telemetry posting. The
// multiplexing engine never depends on a concrete implementation of any of
// these; it only ever sees the interface, so a GUI or OS-keychain-backed
// store can be swapped in later without touching auth, session, or
// dispatcher.
package external

import "context"

// KeyStore supplies the Ed25519 seed a proxy-client authenticates with.
// The reference CLI's implementation just holds a seed handed to it on the
// command line or through the environment; a GUI build would back this
// with an OS keychain instead.
type KeyStore interface {
	// Seed returns the 32-byte Ed25519 private key seed to sign challenges
	// with.
	Seed() ([]byte, error)
}

// Updater checks for and applies new signed release artifacts. It is never
// called from the core tunnel path; the CLI binaries in this module do not
// implement it at all, only declare the seam for a future build that does.
type Updater interface {
	CheckForUpdate(ctx context.Context) (available bool, version string, err error)
}

// GUI is the seam a desktop front-end would implement to observe
// connection lifecycle events without the core caring whether anything is
// listening.
type GUI interface {
	OnConnected(hostname string)
	OnDisconnected(reason string)
	OnStatus(activeClients int)
}

// StatsSnapshot is the payload a StatsReporter posts periodically. It
// mirrors the JSON shape spec.md §6 names for the rendezvous's optional
// telemetry POST.
type StatsSnapshot struct {
	Auth        string `json:"auth"`
	ServerCount int    `json:"server_count"`
	ClientCount int64  `json:"client_count"`
}

// StatsReporter posts a StatsSnapshot to an external collector. Report is
// called on a timer from the owning cmd package; a failure is logged and
// retried next tick, never propagated into the hot path.
type StatsReporter interface {
	Report(ctx context.Context, snap StatsSnapshot) error
}

// NoopGUI discards every event. It is the default when no GUI is attached.
type NoopGUI struct{}

func (NoopGUI) OnConnected(string)    {}
func (NoopGUI) OnDisconnected(string) {}
func (NoopGUI) OnStatus(int)          {}

// NoopReporter discards every snapshot. The CLI binaries do not use it:
// with STATS_URL unset, cmd/rendezvous runs no reporter at all.
type NoopReporter struct{}

func (NoopReporter) Report(context.Context, StatsSnapshot) error { return nil }
