package session

import "github.com/danmuck/rtdb/internal/tree"

// tagTable maps tags to subscriptions in both directions. The two maps only
// change together through assign and release.
type tagTable struct {
	next  int
	byTag map[int]tree.SubscriptionKey
	byKey map[tree.SubscriptionKey]int
}

func newTagTable() *tagTable {
	return &tagTable{
		byTag: make(map[int]tree.SubscriptionKey),
		byKey: make(map[tree.SubscriptionKey]int),
	}
}

// assign hands key the next tag. The counter only grows, so a released tag is
// never handed out again.
func (t *tagTable) assign(key tree.SubscriptionKey) int {
	t.release(key)
	t.next++
	t.byTag[t.next] = key
	t.byKey[key] = t.next
	return t.next
}

func (t *tagTable) release(key tree.SubscriptionKey) (int, bool) {
	tag, ok := t.byKey[key]
	if !ok {
		return 0, false
	}
	delete(t.byKey, key)
	delete(t.byTag, tag)
	return tag, true
}

func (t *tagTable) lookupByTag(tag int) (tree.SubscriptionKey, bool) {
	key, ok := t.byTag[tag]
	return key, ok
}

func (t *tagTable) lookupByKey(key tree.SubscriptionKey) (int, bool) {
	tag, ok := t.byKey[key]
	return tag, ok
}

func (t *tagTable) len() int {
	return len(t.byTag)
}
