// Command client is an interactive lobby chat client.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LemmyAI/gamenet/internal/config"
	"github.com/LemmyAI/gamenet/internal/logging"
	"github.com/LemmyAI/gamenet/internal/tick"
)

type options struct {
	configPath string
	addr       string
	name       string
	tickRate   int
	logLevel   string
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:           "client",
		Short:         "Join the lobby and chat from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Client.Addr = opts.addr
			}
			if flags.Changed("name") {
				cfg.Client.Name = opts.name
			}
			if flags.Changed("tick-rate") {
				cfg.Client.TickRate = opts.tickRate
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
	flags.StringVar(&opts.addr, "addr", "", "server address")
	flags.StringVar(&opts.name, "name", "", "player name")
	flags.IntVar(&opts.tickRate, "tick-rate", 0, "client updates per second")
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

	s := newSession(cfg.Client.Addr, cfg.Client.Name, cfg.Client.ReconnectInterval, os.Stdout, tcfg)
	loop := tick.NewLoop(cfg.Client.TickRate, s.update, log)
	loop.Start()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "/quit" {
				return
			}
			if line != "" {
				s.Say(line)
			}
		}
	}()

	fmt.Printf("Connecting to %s as %s. Type a message and press Enter, /quit to exit.\n", cfg.Client.Addr, cfg.Client.Name)
	<-ctx.Done()

	loop.Stop()
	if err := s.close(); err != nil {
		log.Warn("close", zap.Error(err))
	}
	return nil
}
