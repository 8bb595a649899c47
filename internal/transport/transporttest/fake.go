// Package transporttest provides a scriptable in-memory Transport.
package transporttest

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/rtdb/internal/protocol"
	"github.com/danmuck/rtdb/internal/transport"
)

// Sent is one request observed by a Fake.
type Sent struct {
	Num     int
	Request protocol.Request
}

// Fake is a Transport driven by the test. It never becomes ready on its own.
type Fake struct {
	id  string
	cfg transport.DialConfig

	ready    chan struct{}
	done     chan struct{}
	messages chan protocol.Message

	mu        sync.Mutex
	info      transport.Info
	err       error
	sent      []Sent
	sentCh    chan Sent
	readyOnce sync.Once
	doneOnce  sync.Once
	// AddErr, when set, is returned by Add instead of recording the request.
	AddErr error
}

var _ transport.Transport = (*Fake)(nil)

func NewFake(id string, cfg transport.DialConfig) *Fake {
	return &Fake{
		id:       id,
		cfg:      cfg,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		messages: make(chan protocol.Message, 256),
		sentCh:   make(chan Sent, 256),
	}
}

func (f *Fake) ID() string                        { return f.id }
func (f *Fake) Ready() <-chan struct{}            { return f.ready }
func (f *Fake) Done() <-chan struct{}             { return f.done }
func (f *Fake) Messages() <-chan protocol.Message { return f.messages }

// Config is the DialConfig the fake was created with.
func (f *Fake) Config() transport.DialConfig { return f.cfg }

func (f *Fake) Info() transport.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info
}

func (f *Fake) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Fake) Add(num int, req protocol.Request) error {
	select {
	case <-f.done:
		return transport.ErrClosed
	case <-f.ready:
	default:
		return transport.ErrNotReady
	}
	f.mu.Lock()
	if f.AddErr != nil {
		err := f.AddErr
		f.mu.Unlock()
		return err
	}
	s := Sent{Num: num, Request: req}
	f.sent = append(f.sent, s)
	f.mu.Unlock()
	f.sentCh <- s
	return nil
}

func (f *Fake) Close() error {
	f.Drop(transport.ErrClosed)
	return nil
}

// MarkReady completes the handshake with info.
func (f *Fake) MarkReady(info transport.Info) {
	f.mu.Lock()
	f.info = info
	f.mu.Unlock()
	f.readyOnce.Do(func() { close(f.ready) })
}

// Drop ends the transport with err.
func (f *Fake) Drop(err error) {
	f.doneOnce.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.done)
	})
}

// Push delivers an unsolicited message.
func (f *Fake) Push(msg protocol.Message) {
	f.messages <- msg
}

// PushSet delivers a set push for path with the JSON encoding of data.
func (f *Fake) PushSet(path string, tag *int, data any) {
	f.push(protocol.PushSet, path, tag, data)
}

// PushMerge delivers a merge push.
func (f *Fake) PushMerge(path string, tag *int, data any) {
	f.push(protocol.PushMerge, path, tag, data)
}

func (f *Fake) push(action, path string, tag *int, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(fmt.Sprintf("transporttest: encode push data: %v", err))
	}
	body := protocol.MessageBody{Tag: tag, Data: raw}
	if path != "" {
		body.Path = &path
	}
	f.Push(protocol.Message{Action: action, Body: body})
}

// Respond replies to request num with status and data.
func (f *Fake) Respond(num int, status string, data any) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			panic(fmt.Sprintf("transporttest: encode response data: %v", err))
		}
		raw = encoded
	}
	f.Push(protocol.Message{
		RequestNumber: &num,
		Body:          protocol.MessageBody{Status: status, Data: raw},
	})
}

// RespondOK replies ok with no data.
func (f *Fake) RespondOK(num int) {
	f.Respond(num, protocol.StatusOK, nil)
}

// Sent returns every request added so far.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Sent, len(f.sent))
	copy(out, f.sent)
	return out
}

// NextSent waits for the next request added to the fake.
func (f *Fake) NextSent(timeout time.Duration) (Sent, bool) {
	select {
	case s := <-f.sentCh:
		return s, true
	case <-time.After(timeout):
		return Sent{}, false
	}
}

// Dialer hands out Fakes and records them in dial order.
type Dialer struct {
	mu    sync.Mutex
	fakes []*Fake
	dials chan *Fake
}

func NewDialer() *Dialer {
	return &Dialer{dials: make(chan *Fake, 64)}
}

// Dial satisfies transport.Dialer.
func (d *Dialer) Dial(cfg transport.DialConfig) transport.Transport {
	d.mu.Lock()
	f := NewFake(fmt.Sprintf("fake-%d", len(d.fakes)+1), cfg)
	d.fakes = append(d.fakes, f)
	d.mu.Unlock()
	d.dials <- f
	return f
}

// Next waits for the next dial.
func (d *Dialer) Next(timeout time.Duration) (*Fake, bool) {
	select {
	case f := <-d.dials:
		return f, true
	case <-time.After(timeout):
		return nil, false
	}
}

func (d *Dialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fakes)
}
