// Command agent runs the home-side proxy-client: it dials the rendezvous,
// authenticates with an Ed25519 key, and forwards every external
// Minecraft stream the rendezvous announces to a local Minecraft server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"oretunnel/agent"
	"oretunnel/config"
	"oretunnel/external"
	"oretunnel/logger"
)

var configFile string

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agent",
		Short: "Home-side proxy-client for the Minecraft reverse tunnel",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "optional YAML config file")
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the rendezvous and forward Minecraft traffic",
		RunE:  runAgent,
	}
	cmd.Flags().String("server", "", "rendezvous host:port")
	cmd.Flags().String("local-addr", "", "home Minecraft server host:port")
	cmd.Flags().String("key", "", "hex-encoded Ed25519 seed (32 bytes)")
	cmd.Flags().String("key-suffix", "", "must match the rendezvous's configured suffix")
	cmd.Flags().String("log-level", "", "debug|info|warn|error|fatal")
	cmd.Flags().String("stats-auth", "", "telemetry auth token (loaded into config; the agent posts no telemetry)")
	cmd.Flags().String("stats-url", "", "telemetry collector URL (loaded into config; the agent posts no telemetry)")
	return cmd
}

func runAgent(cmd *cobra.Command, args []string) error {
	v := config.NewViper("AGENT", configFile)
	// Each flag is bound under its config key so Unmarshal sees it.
	for key, flag := range map[string]string{
		"server_addr": "server",
		"local_addr":  "local-addr",
		"key_seed":    "key",
		"key_suffix":  "key-suffix",
		"log_level":   "log-level",
		"stats_auth":  "stats-auth",
		"stats_url":   "stats-url",
	} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind flags: %w", err)
		}
	}

	cfg, err := config.LoadAgentConfig(v)
	if err != nil {
		return err
	}
	if cfg.KeySeed == "" {
		return fmt.Errorf("a key seed is required: pass --key or set AGENT_KEY_SEED")
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log := logger.New(level)
	defer log.Sync()

	keyStore, err := external.NewSeedKeyStore(cfg.KeySeed)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}
	seed, err := keyStore.Seed()
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("starting agent", zap.String("server", cfg.ServerAddr), zap.String("local_addr", cfg.LocalAddr))
	err = agent.Run(ctx, agent.Config{
		ServerAddr:    cfg.ServerAddr,
		LocalAddr:     cfg.LocalAddr,
		Seed:          seed,
		KeySuffix:     cfg.KeySuffix,
		RetryInterval: cfg.RetryInterval,
		Log:           log,
	})
	if err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("agent stopped")
	return nil
}
