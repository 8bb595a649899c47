package config

import (
	"github.com/danmuck/rtdb/internal/logging"
	"github.com/danmuck/rtdb/internal/session"
	"github.com/danmuck/rtdb/internal/tree"
)

// SessionConfig converts the file's session section. Durations were checked by
// Validate; a zero result means "use the session default".
func (f File) SessionConfig() session.Config {
	s := f.Session
	cfg := session.Config{
		Host:        s.Host,
		Namespace:   s.Namespace,
		Secure:      s.Secure,
		EventBuffer: s.EventBuffer,
	}
	cfg.HandshakeTimeout, _ = parseDuration(s.HandshakeTimeout)
	cfg.WriteTimeout, _ = parseDuration(s.WriteTimeout)
	cfg.KeepAlive, _ = parseDuration(s.KeepAlive)
	cfg.Backoff.InitialDelay, _ = parseDuration(s.Backoff.Initial)
	cfg.Backoff.MaxDelay, _ = parseDuration(s.Backoff.Max)
	cfg.Backoff.Multiplier = s.Backoff.Multiplier
	cfg.Backoff.Jitter = s.Backoff.Jitter
	return cfg.WithDefaults()
}

// LoggingConfig converts the log section. Env overrides are applied on top by
// the caller.
func (f File) LoggingConfig() logging.Config {
	cfg := logging.Defaults(logging.ProfileRuntime)
	if lvl, ok := logging.ParseLevel(f.Log.Level); ok {
		cfg.Level = lvl
	}
	cfg.Timestamp = f.Log.Timestamp
	cfg.NoColor = f.Log.NoColor
	cfg.JSON = f.Log.JSON
	return cfg
}

// Query builds the listen filter of w; nil means unfiltered.
func (w WatchConfig) Query() *tree.Query {
	q := w.query()
	if q.IsDefault() {
		return nil
	}
	return &q
}

func (w WatchConfig) query() tree.Query {
	return tree.Query{OrderBy: w.OrderBy, Limit: w.Limit, LimitToLast: w.LimitToLast}
}
