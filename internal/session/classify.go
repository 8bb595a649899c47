package session

import (
	"encoding/json"
	"fmt"

	"github.com/danmuck/rtdb/internal/protocol"
	"github.com/danmuck/rtdb/internal/tree"
)

// OperationKind is the kind of change a server push describes.
type OperationKind int

const (
	OperationOverwrite OperationKind = iota + 1
	OperationMerge
	OperationListenRevoked
)

func (k OperationKind) String() string {
	switch k {
	case OperationOverwrite:
		return "overwrite"
	case OperationMerge:
		return "merge"
	case OperationListenRevoked:
		return "listen_revoked"
	default:
		return "unknown"
	}
}

// OperationEvent is one decoded data push.
type OperationEvent struct {
	Kind OperationKind
	// Path is nil when the push names no path and no subscription supplies one.
	// A nil path means the root.
	Path *tree.Path
	// Query identifies the subscription that produced the push; nil is the
	// unfiltered listen.
	Query *tree.Query
	Data  json.RawMessage
}

// Target is the affected path with nil read as the root.
func (e OperationEvent) Target() tree.Path {
	if e.Path == nil {
		return tree.Root()
	}
	return *e.Path
}

// Mutation derives the tree change described by the event. Listen revocations
// carry no mutation.
func (e OperationEvent) Mutation() (tree.Mutation, error) {
	switch e.Kind {
	case OperationOverwrite:
		node, err := tree.FromJSON(e.Data)
		if err != nil {
			return nil, err
		}
		return tree.OverwriteAt(e.Target(), node), nil
	case OperationMerge:
		var v any
		if len(e.Data) > 0 {
			if err := json.Unmarshal(e.Data, &v); err != nil {
				return nil, fmt.Errorf("tree: decode merge payload: %w", err)
			}
		}
		return tree.MergeAt(e.Target(), v), nil
	default:
		return nil, nil
	}
}

type disposition int

const (
	dispatchOperation disposition = iota
	dispatchAuthRevoked
	dispatchSecurityDebug
	dispatchStale
)

// classification is what the run loop does with one push.
type classification struct {
	disposition disposition
	event       OperationEvent
	// key is the subscription the push resolved to, when subscribed is set.
	key        tree.SubscriptionKey
	subscribed bool
	tag        *int
	text       string
}

// classify routes an unsolicited push. lookup resolves a tag to its active
// subscription; a tag without one is a stale push, not an error. Unknown actions
// are protocol violations.
func classify(msg protocol.Message, lookup func(tag int) (*listenEntry, bool)) (classification, error) {
	var c classification
	switch msg.Action {
	case protocol.PushAuthRevoked:
		c.disposition = dispatchAuthRevoked
		c.text = msg.Body.Message
		return c, nil
	case protocol.PushSecurityDebug:
		c.disposition = dispatchSecurityDebug
		c.text = msg.Body.Message
		return c, nil
	case protocol.PushSet:
		c.event.Kind = OperationOverwrite
	case protocol.PushMerge:
		c.event.Kind = OperationMerge
	case protocol.PushListenRevoked:
		c.event.Kind = OperationListenRevoked
	default:
		return c, fmt.Errorf("%w: unknown action %q", ErrProtocolViolation, msg.Action)
	}

	var path *tree.Path
	if msg.Body.Path != nil {
		p := tree.ParsePath(*msg.Body.Path)
		path = &p
	}
	c.tag = msg.Body.Tag

	query, err := tree.QueryFromParams(msg.Body.Query)
	if err != nil {
		return c, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	switch {
	case query != nil:
		c.event.Query = query
		c.key = tree.NewSubscriptionKey(pathString(path), query)
		c.subscribed = true
	case msg.Body.Tag != nil:
		entry, ok := lookup(*msg.Body.Tag)
		if !ok {
			c.disposition = dispatchStale
			return c, nil
		}
		c.key = entry.key
		c.event.Query = entry.query
		c.subscribed = true
		if path == nil {
			p := tree.ParsePath(entry.key.Path)
			path = &p
		}
	case c.event.Kind == OperationListenRevoked:
		c.key = tree.NewSubscriptionKey(pathString(path), nil)
		c.subscribed = true
	}

	c.event.Path = path
	c.event.Data = msg.Body.Data
	c.disposition = dispatchOperation
	return c, nil
}

func pathString(p *tree.Path) string {
	if p == nil {
		return tree.Root().String()
	}
	return p.String()
}
