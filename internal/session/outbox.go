package session

import "sort"

// outbox holds outstanding non-listen requests until their response arrives.
// Requests survive transport loss and are resent in admission order.
type outbox struct {
	next  uint64
	items map[uint64]*pendingRequest
}

func newOutbox() *outbox {
	return &outbox{items: make(map[uint64]*pendingRequest)}
}

// add admits p and stamps its sequence number.
func (o *outbox) add(p *pendingRequest) {
	o.next++
	p.seq = o.next
	o.items[p.seq] = p
}

func (o *outbox) remove(p *pendingRequest) bool {
	if _, ok := o.items[p.seq]; !ok {
		return false
	}
	delete(o.items, p.seq)
	return true
}

func (o *outbox) list() []*pendingRequest {
	out := make([]*pendingRequest, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].seq < out[j].seq
	})
	return out
}

func (o *outbox) len() int {
	return len(o.items)
}
