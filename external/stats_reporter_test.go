package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPStatsReporterPostsSnapshot(t *testing.T) {
	received := make(chan StatsSnapshot, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("got method %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("got content-type %q", ct)
		}
		var snap StatsSnapshot
		if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
			t.Errorf("decode body: %v", err)
		}
		received <- snap
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reporter := NewHTTPStatsReporter(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	want := StatsSnapshot{Auth: "secret", ServerCount: 3, ClientCount: 12}
	if err := reporter.Report(ctx, want); err != nil {
		t.Fatalf("report: %v", err)
	}

	select {
	case got := <-received:
		if got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the snapshot")
	}
}

func TestHTTPStatsReporterErrorsOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	reporter := NewHTTPStatsReporter(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := reporter.Report(ctx, StatsSnapshot{}); err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}
