package stats

import "testing"

func TestSessionAndClientCounters(t *testing.T) {
	s := New()
	s.SessionOpened()
	s.SessionOpened()
	s.SessionClosed()
	s.ClientJoined()

	snap := s.Snapshot()
	if snap.TotalSessions != 2 {
		t.Fatalf("TotalSessions = %d, want 2", snap.TotalSessions)
	}
	if snap.ActiveSessions != 1 {
		t.Fatalf("ActiveSessions = %d, want 1", snap.ActiveSessions)
	}
	if snap.TotalClients != 1 || snap.ActiveClients != 1 {
		t.Fatalf("client counters = %+v", snap)
	}
}

func TestControlMessageTally(t *testing.T) {
	s := New()
	s.ControlMessage("ProxyPing")
	s.ControlMessage("ProxyPing")
	s.ControlMessage("ProxyJoin")

	snap := s.Snapshot()
	if snap.ControlMessages["ProxyPing"] != 2 {
		t.Fatalf("ProxyPing count = %d, want 2", snap.ControlMessages["ProxyPing"])
	}
	if snap.ControlMessages["ProxyJoin"] != 1 {
		t.Fatalf("ProxyJoin count = %d, want 1", snap.ControlMessages["ProxyJoin"])
	}

	// Snapshot's map must be a copy: mutating it must not affect Stats.
	snap.ControlMessages["ProxyJoin"] = 99
	if got := s.Snapshot().ControlMessages["ProxyJoin"]; got != 1 {
		t.Fatalf("Snapshot leaked its internal map: got %d", got)
	}
}

func TestBytesAndErrors(t *testing.T) {
	s := New()
	s.AddBytesToClients(100)
	s.AddBytesFromHome(50)
	s.AuthFailed()

	snap := s.Snapshot()
	if snap.BytesToClients != 100 || snap.BytesFromHome != 50 {
		t.Fatalf("byte counters = %+v", snap)
	}
	if snap.FailedAuths != 1 || snap.TotalErrors != 1 {
		t.Fatalf("error counters = %+v", snap)
	}
}
