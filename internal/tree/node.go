package tree

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Node is a decoded tree value. Leaves carry Value; interior nodes carry Children.
type Node struct {
	Value    any
	Priority any
	Children map[string]*Node
}

// FromJSON decodes a raw payload into a Node. An empty or null payload is an empty node.
func FromJSON(raw json.RawMessage) (*Node, error) {
	if len(raw) == 0 {
		return &Node{}, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("tree: decode payload: %w", err)
	}
	return FromValue(v), nil
}

// FromValue builds a Node from a value produced by encoding/json.
func FromValue(v any) *Node {
	obj, ok := v.(map[string]any)
	if !ok {
		return &Node{Value: v}
	}
	n := &Node{Priority: obj[PriorityKey]}
	if leaf, ok := obj[ValueKey]; ok {
		n.Value = leaf
		return n
	}
	for name, child := range obj {
		if name == PriorityKey || child == nil {
			continue
		}
		if n.Children == nil {
			n.Children = make(map[string]*Node, len(obj))
		}
		n.Children[name] = FromValue(child)
	}
	return n
}

func (n *Node) IsLeaf() bool {
	return n == nil || len(n.Children) == 0
}

// IsEmpty reports whether the node holds neither a value nor children.
func (n *Node) IsEmpty() bool {
	return n == nil || (n.Value == nil && len(n.Children) == 0)
}

func (n *Node) Child(name string) *Node {
	if n == nil || n.Children == nil {
		return nil
	}
	return n.Children[name]
}

// ChildNames returns the child names in sorted order.
func (n *Node) ChildNames() []string {
	if n == nil {
		return nil
	}
	names := make([]string, 0, len(n.Children))
	for name := range n.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
