package session

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Subscription is one observer of an event stream. C is closed when the
// subscription is cancelled or the session closes.
type Subscription[T any] struct {
	C <-chan T

	ch chan T
	b  *broadcaster[T]
}

// Cancel detaches the subscription and closes C. It is safe to call twice.
func (s *Subscription[T]) Cancel() {
	s.b.unsubscribe(s)
}

// broadcaster fans events out to every current subscriber. Publishing never
// blocks: a subscriber whose buffer is full misses the event. Subscribers only
// see events published after they attach.
type broadcaster[T any] struct {
	name   string
	onDrop func(stream string)

	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

func newBroadcaster[T any](name string, onDrop func(stream string)) *broadcaster[T] {
	return &broadcaster[T]{
		name:   name,
		onDrop: onDrop,
		subs:   make(map[*Subscription[T]]struct{}),
	}
}

func (b *broadcaster[T]) subscribe(buffer int) *Subscription[T] {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan T, buffer)
	sub := &Subscription[T]{C: ch, ch: ch, b: b}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

func (b *broadcaster[T]) unsubscribe(sub *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

func (b *broadcaster[T]) publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- v:
		default:
			log.Warn().Str("stream", b.name).Msg("subscriber full, event dropped")
			if b.onDrop != nil {
				b.onDrop(b.name)
			}
		}
	}
}

func (b *broadcaster[T]) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *broadcaster[T]) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	clear(b.subs)
}
