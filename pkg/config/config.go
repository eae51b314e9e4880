// Package config loads the viewer's configuration from defaults, an optional YAML file and
// MOVESTREAM_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/sudorandom/move-stream/pkg/layers"
	"github.com/sudorandom/move-stream/pkg/sources"
)

const (
	EnvPrefix  = "MOVESTREAM_"
	PathEnvVar = "MOVESTREAM_CONFIG"
)

var DefaultPaths = []string{"config.yaml", "config.yml"}

type Config struct {
	Stream   StreamConfig   `koanf:"stream"`
	Overlay  OverlayConfig  `koanf:"overlay"`
	Recorder RecorderConfig `koanf:"recorder"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type StreamConfig struct {
	URL              string        `koanf:"url"`
	FallbackURL      string        `koanf:"fallback_url"`
	UseFallback      bool          `koanf:"use_fallback"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
}

type OverlayConfig struct {
	DefaultMode string  `koanf:"default_mode"`
	Opacity     float64 `koanf:"opacity"`
}

type RecorderConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

func Defaults() *Config {
	return &Config{
		Stream: StreamConfig{
			URL:              sources.StreamURL,
			FallbackURL:      sources.FallbackURL,
			HandshakeTimeout: 10 * time.Second,
		},
		Overlay: OverlayConfig{
			DefaultMode: string(layers.ModeArc),
			Opacity:     0.8,
		},
		Recorder: RecorderConfig{Path: "data/recordings"},
		Server:   ServerConfig{Addr: "127.0.0.1:8450"},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load layers defaults, the config file (explicit path, MOVESTREAM_CONFIG, or the first of
// DefaultPaths that exists) and the environment, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = findFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sections = []string{"stream", "overlay", "recorder", "server", "logging"}

// envKey maps MOVESTREAM_STREAM_FALLBACK_URL to stream.fallback_url: the first segment
// after the prefix names the section, the rest is the field.
func envKey(s string) string {
	if s == PathEnvVar {
		return ""
	}
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, sec := range sections {
		if strings.HasPrefix(key, sec+"_") {
			return sec + "." + strings.TrimPrefix(key, sec+"_")
		}
	}
	return key
}

func (c *Config) Validate() error {
	var errs []error
	if c.Stream.UseFallback {
		if err := validURL(c.Stream.FallbackURL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("stream.fallback_url: %w", err))
		}
	} else if err := validURL(c.Stream.URL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("stream.url: %w", err))
	}
	if c.Stream.HandshakeTimeout < 0 {
		errs = append(errs, errors.New("stream.handshake_timeout must not be negative"))
	}
	if _, err := layers.ParseMode(c.Overlay.DefaultMode); err != nil {
		errs = append(errs, fmt.Errorf("overlay.default_mode: %w", err))
	}
	if c.Overlay.Opacity < 0 || c.Overlay.Opacity > 1 {
		errs = append(errs, fmt.Errorf("overlay.opacity %v outside [0,1]", c.Overlay.Opacity))
	}
	if c.Recorder.Enabled && c.Recorder.Path == "" {
		errs = append(errs, errors.New("recorder.path is required when the recorder is enabled"))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func validURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q is not a %s URL", raw, strings.Join(schemes, "/"))
}
