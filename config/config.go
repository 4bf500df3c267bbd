// Package config binds the two process configurations this module ships —
// the rendezvous's and the agent's — to flags, environment variables, and
// an optional YAML file, through spf13/viper. Neither struct is read
// directly by the core packages (dispatcher, session, auth, registry);
// cmd/rendezvous and cmd/agent translate a loaded config into the plain
// Config/Option values those packages already take, keeping viper's
// dynamic-lookup style out of the hot path.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RendezvousConfig is the public rendezvous process's configuration.
type RendezvousConfig struct {
	// BindAddr is the single TCP port both proxy-clients and Minecraft
	// clients connect to.
	BindAddr string `mapstructure:"bind_addr"`

	// KeySuffix is appended to every key-derived hostname.
	KeySuffix string `mapstructure:"key_suffix"`

	// LogLevel is one of debug/info/warn/error/fatal.
	LogLevel string `mapstructure:"log_level"`

	// AdmitRatePerSec and AdmitBurst gate the accept loop's admission
	// limiter; a zero rate disables it.
	AdmitRatePerSec float64 `mapstructure:"admit_rate_per_sec"`
	AdmitBurst      int     `mapstructure:"admit_burst"`

	// StatsAuth and StatsURL configure the optional telemetry reporter;
	// StatsURL empty means no reporter runs.
	StatsAuth string `mapstructure:"stats_auth"`
	StatsURL  string `mapstructure:"stats_url"`

	// StatsInterval is how often the reporter posts, when enabled.
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

// DefaultRendezvousConfig mirrors spec.md §6's named constants.
func DefaultRendezvousConfig() RendezvousConfig {
	return RendezvousConfig{
		BindAddr:        "127.0.0.1:25565",
		KeySuffix:       ".t.example.net",
		LogLevel:        "info",
		AdmitRatePerSec: 0,
		AdmitBurst:      0,
		StatsInterval:   30 * time.Second,
	}
}

// AgentConfig is the home-side proxy-client process's configuration.
type AgentConfig struct {
	// ServerAddr is the rendezvous's host:port.
	ServerAddr string `mapstructure:"server_addr"`

	// LocalAddr is the home Minecraft server's host:port.
	LocalAddr string `mapstructure:"local_addr"`

	// KeySeed is the hex-encoded Ed25519 seed. Persistent storage of this
	// value is out of scope (§1); it is read from a flag or environment
	// variable and handed to external.KeyStore by cmd/agent.
	KeySeed string `mapstructure:"key_seed"`

	// KeySuffix must match the rendezvous's configured suffix.
	KeySuffix string `mapstructure:"key_suffix"`

	LogLevel string `mapstructure:"log_level"`

	RetryInterval time.Duration `mapstructure:"retry_interval"`

	StatsAuth string `mapstructure:"stats_auth"`
	StatsURL  string `mapstructure:"stats_url"`
}

func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		ServerAddr:    "127.0.0.1:25565",
		LocalAddr:     "127.0.0.1:25566",
		KeySuffix:     ".t.example.net",
		LogLevel:      "info",
		RetryInterval: 5 * time.Second,
	}
}

// NewViper builds a viper instance bound to envPrefix (upper-cased,
// "_"-joined from dotted keys) and, when configFile is non-empty, an
// optional YAML file. Flags are expected to already be bound by the
// caller via BindPFlag, each under its mapstructure key, before Load is
// called.
func NewViper(envPrefix, configFile string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
	}
	return v
}

// LoadRendezvousConfig merges defaults, an optional YAML file, environment
// variables (RENDEZVOUS_ prefix), and whatever flags were already bound
// into v, in viper's usual precedence order (flag > env > file > default).
func LoadRendezvousConfig(v *viper.Viper) (RendezvousConfig, error) {
	cfg := DefaultRendezvousConfig()
	setDefaults(v, cfg)

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal rendezvous config: %w", err)
	}
	return cfg, nil
}

// LoadAgentConfig is LoadRendezvousConfig's counterpart for the agent
// process.
func LoadAgentConfig(v *viper.Viper) (AgentConfig, error) {
	cfg := DefaultAgentConfig()
	setDefaults(v, cfg)

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal agent config: %w", err)
	}
	return cfg, nil
}

// setDefaults seeds v with every exported field of cfg under its
// mapstructure tag, so Unmarshal always has a value even when neither a
// flag, nor an env var, nor a config file set one.
func setDefaults(v *viper.Viper, cfg any) {
	switch c := cfg.(type) {
	case RendezvousConfig:
		v.SetDefault("bind_addr", c.BindAddr)
		v.SetDefault("key_suffix", c.KeySuffix)
		v.SetDefault("log_level", c.LogLevel)
		v.SetDefault("admit_rate_per_sec", c.AdmitRatePerSec)
		v.SetDefault("admit_burst", c.AdmitBurst)
		v.SetDefault("stats_auth", c.StatsAuth)
		v.SetDefault("stats_url", c.StatsURL)
		v.SetDefault("stats_interval", c.StatsInterval)
	case AgentConfig:
		v.SetDefault("server_addr", c.ServerAddr)
		v.SetDefault("local_addr", c.LocalAddr)
		v.SetDefault("key_seed", c.KeySeed)
		v.SetDefault("key_suffix", c.KeySuffix)
		v.SetDefault("log_level", c.LogLevel)
		v.SetDefault("retry_interval", c.RetryInterval)
		v.SetDefault("stats_auth", c.StatsAuth)
		v.SetDefault("stats_url", c.StatsURL)
	}
}
