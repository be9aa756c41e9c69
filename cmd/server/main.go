// Command server runs the lobby game server over the framed TCP transport.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LemmyAI/gamenet/internal/config"
	"github.com/LemmyAI/gamenet/internal/lobby"
	"github.com/LemmyAI/gamenet/internal/logging"
	"github.com/LemmyAI/gamenet/internal/server"
	"github.com/LemmyAI/gamenet/internal/tick"
	"github.com/LemmyAI/gamenet/internal/transport"
)

type options struct {
	configPath string
	addr       string
	adminAddr  string
	tickRate   int
	logLevel   string
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:           "server",
		Short:         "Run the lobby game server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Server.Addr = opts.addr
			}
			if flags.Changed("admin-addr") {
				cfg.Server.AdminAddr = opts.adminAddr
			}
			if flags.Changed("tick-rate") {
				cfg.Server.TickRate = opts.tickRate
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = opts.logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&opts.addr, "addr", "", "game listen address")
	flags.StringVar(&opts.adminAddr, "admin-addr", "", "admin HTTP address (empty disables)")
	flags.IntVar(&opts.tickRate, "tick-rate", 0, "simulation ticks per second")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer log.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	tcfg := cfg.Transport
	tcfg.Logger = log
	tcfg.Metrics = transport.NewMetrics(reg, "gamenet")

	lob := lobby.New(cfg.Lobby, cfg.Server.TickRate, log)
	srv, err := server.Listen(cfg.Server.Addr, lob.Factory(), tcfg)
	if err != nil {
		return err
	}

	loop := tick.NewLoop(cfg.Server.TickRate, srv.Update, log)
	loop.Start()

	var admin *http.Server
	if cfg.Server.AdminAddr != "" {
		admin = &http.Server{
			Addr:              cfg.Server.AdminAddr,
			Handler:           newAdminRouter(srv, lob.Roster(), loop, reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("admin listening", zap.String("addr", admin.Addr))
			if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("admin server failed", zap.Error(err))
			}
		}()
	}

	log.Info("server ready", zap.Stringer("addr", srv.Addr()), zap.Int("tick_rate", cfg.Server.TickRate))
	<-ctx.Done()
	log.Info("shutting down")

	if admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := admin.Shutdown(shutdownCtx); err != nil {
			log.Warn("admin shutdown", zap.Error(err))
		}
	}

	// Stop the loop first so no state method runs concurrently with Close.
	loop.Stop()
	return srv.Close()
}
