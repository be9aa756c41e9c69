// Package config loads the YAML configuration shared by the server, client
// and bridge binaries.
package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/LemmyAI/gamenet/internal/lobby"
	"github.com/LemmyAI/gamenet/internal/transport"
)

// Config is the root of the configuration file.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Client    ClientConfig     `yaml:"client"`
	Bridge    BridgeConfig     `yaml:"bridge"`
	Lobby     lobby.Config     `yaml:"lobby"`
	Transport transport.Config `yaml:"transport"`
	Log       LogConfig        `yaml:"log"`
}

// ServerConfig configures cmd/server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	AdminAddr string `yaml:"admin_addr"` // empty disables the admin endpoint
	TickRate  int    `yaml:"tick_rate"`
}

// ClientConfig configures cmd/client.
type ClientConfig struct {
	Addr              string        `yaml:"addr"`
	Name              string        `yaml:"name"`
	TickRate          int           `yaml:"tick_rate"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// BridgeConfig configures cmd/webbridge.
type BridgeConfig struct {
	Addr              string        `yaml:"addr"`
	GameAddr          string        `yaml:"game_addr"`
	TickRate          int           `yaml:"tick_rate"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns sensible defaults
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:      ":9000",
			AdminAddr: ":9090",
			TickRate:  60,
		},
		Client: ClientConfig{
			Addr:              "localhost:9000",
			Name:              "Player",
			TickRate:          30,
			ReconnectInterval: 2 * time.Second,
		},
		Bridge: BridgeConfig{
			Addr:              ":8081",
			GameAddr:          "localhost:9000",
			TickRate:          60,
			ReconnectInterval: 2 * time.Second,
		},
		Lobby:     lobby.DefaultConfig(),
		Transport: transport.DefaultConfig(),
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, errors.Wrap(err, "decode")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Client.Addr == "" {
		return errors.New("client.addr is required")
	}
	if c.Bridge.GameAddr == "" {
		return errors.New("bridge.game_addr is required")
	}
	for name, rate := range map[string]int{
		"server.tick_rate": c.Server.TickRate,
		"client.tick_rate": c.Client.TickRate,
		"bridge.tick_rate": c.Bridge.TickRate,
	} {
		if rate <= 0 || rate > 1000 {
			return errors.Errorf("%s must be in 1..1000, got %d", name, rate)
		}
	}
	if c.Transport.InboxSize <= 0 {
		return errors.Errorf("transport.inbox_size must be positive, got %d", c.Transport.InboxSize)
	}
	if c.Transport.SendQueueSize <= 0 {
		return errors.Errorf("transport.send_queue_size must be positive, got %d", c.Transport.SendQueueSize)
	}
	if c.Lobby.MaxPlayers < 0 {
		return errors.Errorf("lobby.max_players must not be negative, got %d", c.Lobby.MaxPlayers)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	return nil
}
