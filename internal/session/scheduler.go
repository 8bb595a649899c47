package session

import (
	"math/rand"
	"time"
)

// State is the connection state of a session.
type State int32

const (
	// StateIdle has no transport and no reconnect pending.
	StateIdle State = iota
	// StateConnecting has a reconnect timer armed or a transport not yet ready.
	StateConnecting
	// StateConnected has a ready transport.
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// reconnectTimer holds at most one armed connect timer. Arming a new one stops
// and drops the previous handle.
type reconnectTimer struct {
	cfg     BackoffConfig
	rng     *rand.Rand
	timer   *time.Timer
	attempt int
}

func newReconnectTimer(cfg BackoffConfig) *reconnectTimer {
	return &reconnectTimer{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *reconnectTimer) arm(delay time.Duration) {
	r.cancel()
	r.timer = time.NewTimer(delay)
}

func (r *reconnectTimer) cancel() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// C is nil while nothing is armed, which blocks forever in a select.
func (r *reconnectTimer) C() <-chan time.Time {
	if r.timer == nil {
		return nil
	}
	return r.timer.C
}

// fired drops the handle after its channel delivered.
func (r *reconnectTimer) fired() {
	r.timer = nil
}

func (r *reconnectTimer) armed() bool {
	return r.timer != nil
}

// next advances the failure count and returns the delay before the next try.
func (r *reconnectTimer) next() time.Duration {
	r.attempt++
	return NextBackoffDelay(r.cfg, r.attempt, r.rng)
}

func (r *reconnectTimer) reset() {
	r.attempt = 0
}
