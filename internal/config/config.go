package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/danmuck/rtdb/internal/logging"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidConfig = errors.New("config: invalid")

// File is the rtdbctl configuration file.
type File struct {
	Session SessionConfig `toml:"session"`
	Admin   AdminConfig   `toml:"admin"`
	Log     LogConfig     `toml:"log"`
	Watch   []WatchConfig `toml:"watch"`
}

type SessionConfig struct {
	Host             string        `toml:"host"`
	Namespace        string        `toml:"namespace"`
	Secure           bool          `toml:"secure"`
	AuthToken        string        `toml:"auth_token"`
	HandshakeTimeout string        `toml:"handshake_timeout"`
	WriteTimeout     string        `toml:"write_timeout"`
	KeepAlive        string        `toml:"keepalive"`
	EventBuffer      int           `toml:"event_buffer"`
	Backoff          BackoffConfig `toml:"backoff"`
}

type BackoffConfig struct {
	Initial    string  `toml:"initial"`
	Multiplier float64 `toml:"multiplier"`
	Max        string  `toml:"max"`
	Jitter     bool    `toml:"jitter"`
}

type AdminConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Token       string   `toml:"token"`
	CorsOrigins []string `toml:"cors_origins"`
}

type LogConfig struct {
	Level     string `toml:"level"`
	Timestamp bool   `toml:"timestamp"`
	NoColor   bool   `toml:"no_color"`
	JSON      bool   `toml:"json"`
}

// WatchConfig is one path rtdbctl listens on at startup.
type WatchConfig struct {
	Path        string `toml:"path"`
	OrderBy     string `toml:"order_by"`
	Limit       int    `toml:"limit"`
	LimitToLast bool   `toml:"limit_to_last"`
	Hash        string `toml:"hash"`
}

// Default returns a complete configuration except for the session host.
func Default() File {
	return File{
		Session: SessionConfig{
			Secure:           true,
			HandshakeTimeout: "30s",
			WriteTimeout:     "10s",
			KeepAlive:        "45s",
			EventBuffer:      64,
			Backoff: BackoffConfig{
				Initial:    "1s",
				Multiplier: 1.0,
			},
		},
		Admin: AdminConfig{
			Addr:        "127.0.0.1:9400",
			CorsOrigins: []string{},
		},
		Log: LogConfig{
			Level:     "info",
			Timestamp: true,
		},
		Watch: []WatchConfig{},
	}
}

// Load reads path strictly: keys the File does not define are errors. Unset
// keys keep their Default values.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := Decode(data)
	if err != nil {
		return File{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return cfg, nil
}

// Decode parses data over Default and validates the result.
func Decode(data []byte) (File, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return File{}, fmt.Errorf("%w: unknown keys:\n%s", ErrInvalidConfig, strict.String())
		}
		return File{}, err
	}
	if err := cfg.Validate(); err != nil {
		return File{}, err
	}
	return cfg, nil
}

// Encode writes cfg as TOML.
func Encode(w io.Writer, cfg File) error {
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	return enc.Encode(cfg)
}

func (f File) Validate() error {
	if strings.TrimSpace(f.Session.Host) == "" {
		return fmt.Errorf("%w: session.host is required", ErrInvalidConfig)
	}
	for name, raw := range map[string]string{
		"session.handshake_timeout": f.Session.HandshakeTimeout,
		"session.write_timeout":     f.Session.WriteTimeout,
		"session.keepalive":         f.Session.KeepAlive,
		"session.backoff.initial":   f.Session.Backoff.Initial,
		"session.backoff.max":       f.Session.Backoff.Max,
	} {
		if _, err := parseDuration(raw); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
		}
	}
	if f.Session.EventBuffer < 0 {
		return fmt.Errorf("%w: session.event_buffer must not be negative", ErrInvalidConfig)
	}
	if f.Session.Backoff.Multiplier < 0 {
		return fmt.Errorf("%w: session.backoff.multiplier must not be negative", ErrInvalidConfig)
	}
	if f.Admin.Enabled && strings.TrimSpace(f.Admin.Addr) == "" {
		return fmt.Errorf("%w: admin.addr is required when admin is enabled", ErrInvalidConfig)
	}
	if _, ok := logging.ParseLevel(f.Log.Level); !ok && strings.TrimSpace(f.Log.Level) != "" {
		return fmt.Errorf("%w: log.level %q unknown", ErrInvalidConfig, f.Log.Level)
	}
	for i, w := range f.Watch {
		if strings.TrimSpace(w.Path) == "" {
			return fmt.Errorf("%w: watch[%d] missing path", ErrInvalidConfig, i)
		}
		if err := w.query().Validate(); err != nil {
			return fmt.Errorf("%w: watch[%d]: %v", ErrInvalidConfig, i, err)
		}
	}
	return nil
}

// parseDuration accepts an empty string as zero.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", raw)
	}
	return d, nil
}
