// Package config loads the roomchat client configuration.
package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/omochice/roomchat/internal/flood"
	"github.com/omochice/roomchat/internal/logger"
	"github.com/omochice/roomchat/internal/session"
	wstransport "github.com/omochice/roomchat/internal/transport/ws"
	"github.com/omochice/roomchat/pkg/protocol"
)

const (
	// DefaultURL is the chat endpoint of a locally running server.
	DefaultURL = "ws://localhost:8080/ws/chat"

	// UIConsole and UITUI name the presentation front ends.
	UIConsole = "console"
	UITUI     = "tui"
)

// Config is the complete client configuration.
type Config struct {
	// URL is the WebSocket endpoint of the chat server.
	URL string `yaml:"url"`

	// Name is the display name used by `run` when given.
	Name string `yaml:"name"`

	// Room is joined right after connecting. Zero means no auto-join.
	Room int64 `yaml:"room"`

	// UI is "console" or "tui".
	UI string `yaml:"ui"`

	Transport TransportConfig `yaml:"transport"`
	Flood     FloodConfig     `yaml:"flood"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	Log       logger.Config   `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// TransportConfig tunes the WebSocket connection.
type TransportConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	CloseGrace     time.Duration `yaml:"close_grace"`
	QueueSize      int           `yaml:"queue_size"`
}

// FloodConfig tunes the local anti-flood guard.
type FloodConfig struct {
	Limit  int `yaml:"limit"`
	WarnAt int `yaml:"warn_at"`
}

// ProtocolConfig tunes inbound frame classification.
type ProtocolConfig struct {
	// Markers are the forced-disconnect substrings. Empty keeps the defaults.
	Markers []string `yaml:"markers"`
	// SniffStructured also matches markers inside structured chat frames.
	SniffStructured bool `yaml:"sniff_structured"`
}

// MetricsConfig controls the debug HTTP endpoint.
type MetricsConfig struct {
	// Listen is the address of the /metrics endpoint. Empty disables it.
	Listen string `yaml:"listen"`
}

// Default returns the built-in configuration.
func Default() *Config {
	tc := wstransport.DefaultConfig()
	return &Config{
		URL: DefaultURL,
		UI:  UIConsole,
		Transport: TransportConfig{
			ConnectTimeout: tc.ConnectTimeout,
			WriteTimeout:   tc.WriteTimeout,
			CloseGrace:     tc.CloseGrace,
			QueueSize:      tc.QueueSize,
		},
		Flood: FloodConfig{
			Limit:  flood.DefaultLimit,
			WarnAt: flood.DefaultWarnAt,
		},
		Log: logger.DefaultConfig(),
	}
}

// Load reads a YAML file on top of the defaults.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "failed to parse config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := session.ValidateURL(c.URL); err != nil {
		return err
	}
	if c.Room < 0 || c.Room > protocol.MaxRoomID {
		return errors.Errorf("room must be between 0 and %d, got %d", protocol.MaxRoomID, c.Room)
	}
	if c.UI != UIConsole && c.UI != UITUI {
		return errors.Errorf("ui must be %q or %q, got %q", UIConsole, UITUI, c.UI)
	}

	t := c.Transport
	if t.ConnectTimeout < 0 || t.WriteTimeout < 0 || t.CloseGrace < 0 {
		return errors.New("transport timeouts must not be negative")
	}
	if t.QueueSize <= 0 {
		return errors.Errorf("transport.queue_size must be positive, got %d", t.QueueSize)
	}

	if c.Flood.Limit <= 0 {
		return errors.Errorf("flood.limit must be positive, got %d", c.Flood.Limit)
	}
	if c.Flood.WarnAt <= 0 || c.Flood.WarnAt > c.Flood.Limit {
		return errors.Errorf("flood.warn_at must be in 1..%d, got %d", c.Flood.Limit, c.Flood.WarnAt)
	}
	for _, m := range c.Protocol.Markers {
		if m == "" {
			return errors.New("protocol.markers must not contain empty strings")
		}
	}
	return nil
}

// TransportSettings converts the transport section for the ws package.
func (c *Config) TransportSettings() wstransport.Config {
	return wstransport.Config{
		ConnectTimeout: c.Transport.ConnectTimeout,
		WriteTimeout:   c.Transport.WriteTimeout,
		CloseGrace:     c.Transport.CloseGrace,
		QueueSize:      c.Transport.QueueSize,
	}
}

// Guard builds the flood guard for the configured thresholds.
func (c *Config) Guard() *flood.Guard {
	return flood.New(flood.WithLimit(c.Flood.Limit), flood.WithWarnAt(c.Flood.WarnAt))
}

// Codec builds the inbound frame classifier.
func (c *Config) Codec() *protocol.Codec {
	opts := []protocol.CodecOption{protocol.WithStructuredSniffing(c.Protocol.SniffStructured)}
	if len(c.Protocol.Markers) > 0 {
		opts = append(opts, protocol.WithMarkers(c.Protocol.Markers...))
	}
	return protocol.NewCodec(opts...)
}
