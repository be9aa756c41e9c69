// Command webbridge lets browsers reach the game server. Each binary
// WebSocket message becomes one frame, and each frame from the game server
// becomes one binary WebSocket message.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LemmyAI/gamenet/internal/config"
	"github.com/LemmyAI/gamenet/internal/logging"
	"github.com/LemmyAI/gamenet/internal/tick"
)

type options struct {
	configPath string
	addr       string
	gameAddr   string
	logLevel   string
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:           "webbridge",
		Short:         "Bridge browser WebSockets to the framed game transport",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Bridge.Addr = opts.addr
			}
			if flags.Changed("game-addr") {
				cfg.Bridge.GameAddr = opts.gameAddr
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = opts.logLevel
			}
			// Render and similar hosts hand us the port to bind.
			if port := os.Getenv("PORT"); port != "" && !flags.Changed("addr") {
				cfg.Bridge.Addr = ":" + port
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
	flags.StringVar(&opts.addr, "addr", "", "HTTP listen address")
	flags.StringVar(&opts.gameAddr, "game-addr", "", "game server address")
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

	tcfg := cfg.Transport
	tcfg.Logger = log

	bridge := NewBridge(cfg.Bridge.GameAddr, cfg.Bridge.ReconnectInterval, tcfg)
	loop := tick.NewLoop(cfg.Bridge.TickRate, bridge.Update, log)
	loop.Start()

	httpServer := &http.Server{
		Addr:              cfg.Bridge.Addr,
		Handler:           bridge.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("web bridge listening", zap.String("addr", cfg.Bridge.Addr), zap.String("game", cfg.Bridge.GameAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		log.Error("http server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)

	loop.Stop()
	bridge.Close()
	return err
}
