// Command rendezvous runs the public tunnel endpoint: it accepts both
// proxy-client control connections and external Minecraft-client TCP on
// one port and multiplexes them per spec.md.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"oretunnel/config"
	"oretunnel/dispatcher"
	"oretunnel/external"
	"oretunnel/logger"
	"oretunnel/registry"
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
		Use:   "rendezvous",
		Short: "Public rendezvous endpoint for the Minecraft reverse tunnel",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "optional YAML config file")
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [bind_addr]",
		Short: "Accept proxy-client and Minecraft-client connections",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runServe,
	}
	cmd.Flags().String("bind-addr", "", "override bind_addr (default 127.0.0.1:25565)")
	cmd.Flags().String("key-suffix", "", "hostname suffix derived keys are given")
	cmd.Flags().String("log-level", "", "debug|info|warn|error|fatal")
	cmd.Flags().Float64("admit-rate", 0, "max accepted connections per second (0 disables)")
	cmd.Flags().Int("admit-burst", 0, "admission limiter burst size")
	cmd.Flags().String("stats-auth", "", "opaque auth token sent with telemetry POSTs")
	cmd.Flags().String("stats-url", "", "telemetry collector URL; empty disables reporting")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	v := config.NewViper("RENDEZVOUS", configFile)
	// Each flag is bound under its config key so Unmarshal sees it.
	for key, flag := range map[string]string{
		"bind_addr":          "bind-addr",
		"key_suffix":         "key-suffix",
		"log_level":          "log-level",
		"admit_rate_per_sec": "admit-rate",
		"admit_burst":        "admit-burst",
		"stats_auth":         "stats-auth",
		"stats_url":          "stats-url",
	} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind flags: %w", err)
		}
	}

	cfg, err := config.LoadRendezvousConfig(v)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.BindAddr = args[0]
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log := logger.New(level)
	defer log.Sync()

	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", cfg.BindAddr, err)
	}
	log.Info("listening", zap.String("addr", cfg.BindAddr))

	reg := registry.New()
	d := dispatcher.New(dispatcher.Config{
		KeySuffix:  cfg.KeySuffix,
		AdmitRate:  rate.Limit(cfg.AdmitRatePerSec),
		AdmitBurst: cfg.AdmitBurst,
	}, reg, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.Serve(gctx, ln)
	})
	if cfg.StatsURL != "" {
		g.Go(func() error {
			runStatsReporter(gctx, cfg, reg, log)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func runStatsReporter(ctx context.Context, cfg config.RendezvousConfig, reg *registry.Registry, log *zap.Logger) {
	reporter := external.NewHTTPStatsReporter(cfg.StatsURL)
	ticker := time.NewTicker(cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := external.StatsSnapshot{
				Auth:        cfg.StatsAuth,
				ServerCount: reg.ServerCount(),
				ClientCount: reg.ClientCount(),
			}
			reportCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := reporter.Report(reportCtx, snap)
			cancel()
			if err != nil {
				log.Debug("stats report failed", zap.Error(err))
			}
		}
	}
}
