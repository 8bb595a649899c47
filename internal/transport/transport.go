package transport

import (
	"errors"
	"time"

	"github.com/danmuck/rtdb/internal/protocol"
)

var (
	ErrClosed   = errors.New("transport: closed")
	ErrNotReady = errors.New("transport: not ready")
)

// Info describes the server side of a ready transport.
type Info struct {
	SessionID string
	// Timestamp is the server clock reported in the handshake.
	Timestamp time.Time
	// Host is the server host to prefer on the next connection.
	Host    string
	Version string
}

// Transport is one bidirectional message channel to the server. It is created
// connecting; Ready closes once the handshake completes and Done closes when the
// transport ends for any reason. A transport is never reused after Done.
type Transport interface {
	ID() string
	Ready() <-chan struct{}
	Done() <-chan struct{}
	// Info is valid once Ready is closed.
	Info() Info
	// Add sends req numbered num.
	Add(num int, req protocol.Request) error
	// Messages yields inbound data messages in arrival order. It is closed after Done.
	Messages() <-chan protocol.Message
	// Err reports why the transport ended, if it has.
	Err() error
	Close() error
}

// DialConfig is everything a transport needs to start connecting.
type DialConfig struct {
	Host string
	// Hint is the server host learned from an earlier handshake or redirect.
	Hint          string
	LastSessionID string
	Namespace     string
	Secure        bool

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	KeepAlive        time.Duration
}

// Target is the host to dial: the hint when present, else Host.
func (c DialConfig) Target() string {
	if c.Hint != "" {
		return c.Hint
	}
	return c.Host
}

// Dialer starts a transport. It must not block on network I/O.
type Dialer func(cfg DialConfig) Transport
