package session

import (
	"strings"
	"time"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines the session target and connection timing.
type Config struct {
	Host      string
	Namespace string
	Secure    bool

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	KeepAlive        time.Duration

	// EventBuffer is the channel capacity handed to each stream subscriber.
	EventBuffer int
	Backoff     BackoffConfig

	// Metrics receives session counters. Nil records nothing.
	Metrics Metrics
}

// DefaultConfig returns the session defaults. Reconnects wait a fixed second.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 30 * time.Second,
		WriteTimeout:     10 * time.Second,
		KeepAlive:        45 * time.Second,
		EventBuffer:      64,
		Backoff: BackoffConfig{
			InitialDelay: time.Second,
			Multiplier:   1.0,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	c.Host = strings.TrimSpace(c.Host)
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = def.KeepAlive
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	if c.Metrics == nil {
		c.Metrics = nopMetrics{}
	}
	return c
}

// Metrics is the counter surface the session reports to.
type Metrics interface {
	Connected()
	Disconnected()
	ReconnectScheduled(delay time.Duration)
	Request(action, outcome string)
	Event(kind string)
	StalePush()
	DroppedEvent(stream string)
	Listens(n int)
	Outstanding(n int)
}

type nopMetrics struct{}

func (nopMetrics) Connected()                       {}
func (nopMetrics) Disconnected()                    {}
func (nopMetrics) ReconnectScheduled(time.Duration) {}
func (nopMetrics) Request(string, string)           {}
func (nopMetrics) Event(string)                     {}
func (nopMetrics) StalePush()                       {}
func (nopMetrics) DroppedEvent(string)              {}
func (nopMetrics) Listens(int)                      {}
func (nopMetrics) Outstanding(int)                  {}
