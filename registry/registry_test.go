package registry

import (
	"sync"
	"testing"

	"oretunnel/protocol"
)

type fakeInbox struct{ id string }

func (f *fakeInbox) AddExternalClient(chan<- protocol.ProxyData) (protocol.ClientID, error) {
	return 0, nil
}

func TestClean(t *testing.T) {
	cases := map[string]string{
		"Example.com.":         "example.com",
		"random-abc123.foo.net": "foo.net",
		"foo.net":               "foo.net",
		"random-onlylabel":      "",
	}
	for in, want := range cases {
		if got := Clean(in); got != want {
			t.Errorf("Clean(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRegisterSingleOwner(t *testing.T) {
	r := New()
	a := &fakeInbox{id: "a"}
	b := &fakeInbox{id: "b"}

	if err := r.Register("host.t.test.net", a); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register("host.t.test.net", b); err == nil {
		t.Fatal("expected AlreadyConnected on second register")
	}

	got, ok := r.Lookup("HOST.t.test.net.")
	if !ok || got != a {
		t.Fatalf("lookup mismatch: got %v ok=%v", got, ok)
	}
}

func TestRegisterUniquenessUnderConcurrency(t *testing.T) {
	const n = 64
	r := New()
	var wg sync.WaitGroup
	oks := make([]bool, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := r.Register("race.t.test.net", &fakeInbox{})
			oks[i] = err == nil
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range oks {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 winning register, got %d", count)
	}
}

func TestUnregisterIdempotentAndOwnerChecked(t *testing.T) {
	r := New()
	a := &fakeInbox{}
	b := &fakeInbox{}

	r.Register("h.t.test.net", a)
	r.Unregister("h.t.test.net", b) // not the owner, must be a no-op
	if _, ok := r.Lookup("h.t.test.net"); !ok {
		t.Fatal("unregister by non-owner removed the entry")
	}

	r.Unregister("h.t.test.net", a)
	if _, ok := r.Lookup("h.t.test.net"); ok {
		t.Fatal("entry still present after real owner unregistered")
	}

	r.Unregister("h.t.test.net", a) // idempotent
}
