package session

import (
	"sort"

	"github.com/danmuck/rtdb/internal/tree"
)

// listenEntry is one active subscription and the listen request that created
// it. The request is replayed unchanged after every reconnect.
type listenEntry struct {
	key   tree.SubscriptionKey
	query *tree.Query
	tag   int
	req   *pendingRequest
	seq   uint64
}

// listenRegistry records active subscriptions by path, then by query key.
type listenRegistry struct {
	next   uint64
	byPath map[string]map[string]*listenEntry
	count  int
}

func newListenRegistry() *listenRegistry {
	return &listenRegistry{byPath: make(map[string]map[string]*listenEntry)}
}

// add records e unless its subscription is already registered.
func (r *listenRegistry) add(e *listenEntry) bool {
	queries, ok := r.byPath[e.key.Path]
	if !ok {
		queries = make(map[string]*listenEntry)
		r.byPath[e.key.Path] = queries
	}
	if _, exists := queries[e.key.Query]; exists {
		return false
	}
	r.next++
	e.seq = r.next
	queries[e.key.Query] = e
	r.count++
	return true
}

func (r *listenRegistry) get(key tree.SubscriptionKey) (*listenEntry, bool) {
	e, ok := r.byPath[key.Path][key.Query]
	return e, ok
}

func (r *listenRegistry) remove(key tree.SubscriptionKey) (*listenEntry, bool) {
	queries, ok := r.byPath[key.Path]
	if !ok {
		return nil, false
	}
	e, ok := queries[key.Query]
	if !ok {
		return nil, false
	}
	delete(queries, key.Query)
	if len(queries) == 0 {
		delete(r.byPath, key.Path)
	}
	r.count--
	return e, true
}

// list returns entries in registration order.
func (r *listenRegistry) list() []*listenEntry {
	out := make([]*listenEntry, 0, r.count)
	for _, queries := range r.byPath {
		for _, e := range queries {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].seq < out[j].seq
	})
	return out
}

func (r *listenRegistry) len() int {
	return r.count
}
