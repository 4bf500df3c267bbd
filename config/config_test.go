package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadRendezvousConfigDefaults(t *testing.T) {
	v := NewViper("RENDEZVOUS", "")
	cfg, err := LoadRendezvousConfig(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := DefaultRendezvousConfig()
	if cfg != want {
		t.Fatalf("got %+v, want %+v", cfg, want)
	}
}

func TestLoadRendezvousConfigFromEnv(t *testing.T) {
	os.Setenv("RENDEZVOUS_BIND_ADDR", "0.0.0.0:9999")
	os.Setenv("RENDEZVOUS_STATS_URL", "https://stats.example.net/report")
	defer os.Unsetenv("RENDEZVOUS_BIND_ADDR")
	defer os.Unsetenv("RENDEZVOUS_STATS_URL")

	v := NewViper("RENDEZVOUS", "")
	cfg, err := LoadRendezvousConfig(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BindAddr != "0.0.0.0:9999" {
		t.Errorf("bind_addr = %q, want override from env", cfg.BindAddr)
	}
	if cfg.StatsURL != "https://stats.example.net/report" {
		t.Errorf("stats_url = %q, want override from env", cfg.StatsURL)
	}
	if cfg.KeySuffix != DefaultRendezvousConfig().KeySuffix {
		t.Errorf("key_suffix should keep its default when unset, got %q", cfg.KeySuffix)
	}
}

func TestLoadAgentConfigDefaults(t *testing.T) {
	v := NewViper("AGENT", "")
	cfg, err := LoadAgentConfig(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RetryInterval != 5*time.Second {
		t.Errorf("retry_interval = %v, want 5s default", cfg.RetryInterval)
	}
	if cfg.LocalAddr == "" {
		t.Error("expected a non-empty default local_addr")
	}
}

func TestLoadAgentConfigFromEnv(t *testing.T) {
	os.Setenv("AGENT_SERVER_ADDR", "rendezvous.example.net:25565")
	os.Setenv("AGENT_KEY_SEED", "deadbeef")
	defer os.Unsetenv("AGENT_SERVER_ADDR")
	defer os.Unsetenv("AGENT_KEY_SEED")

	v := NewViper("AGENT", "")
	cfg, err := LoadAgentConfig(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerAddr != "rendezvous.example.net:25565" {
		t.Errorf("server_addr = %q, want override from env", cfg.ServerAddr)
	}
	if cfg.KeySeed != "deadbeef" {
		t.Errorf("key_seed = %q, want override from env", cfg.KeySeed)
	}
}
