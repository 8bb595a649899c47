package session

import (
	"context"
	"sync"

	"github.com/danmuck/rtdb/internal/protocol"
)

// pendingRequest is one request and its single-assignment outcome.
type pendingRequest struct {
	req protocol.Request
	// seq orders outstanding requests by admission.
	seq uint64
	// replay marks the internal auth request sent while restoring state.
	replay bool

	done chan struct{}
	once sync.Once
	resp protocol.Response
	err  error
}

func newPendingRequest(req protocol.Request) *pendingRequest {
	return &pendingRequest{req: req, done: make(chan struct{})}
}

// complete records the outcome. Only the first call has any effect; it reports
// whether this call was the one that did.
func (p *pendingRequest) complete(resp protocol.Response, err error) bool {
	completed := false
	p.once.Do(func() {
		p.resp = resp
		p.err = err
		close(p.done)
		completed = true
	})
	return completed
}

func (p *pendingRequest) fail(err error) bool {
	return p.complete(protocol.Response{}, err)
}

func (p *pendingRequest) isDone() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// wait blocks until the request completes or ctx ends. Abandoning the wait does
// not withdraw the request.
func (p *pendingRequest) wait(ctx context.Context) (protocol.Response, error) {
	select {
	case <-p.done:
		return p.resp, p.err
	case <-ctx.Done():
		return protocol.Response{}, ctx.Err()
	}
}
