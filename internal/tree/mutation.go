package tree

// Mutation describes one change to apply to a local copy of the tree.
type Mutation interface {
	Target() Path
}

// Overwrite replaces the subtree at Path.
type Overwrite struct {
	Path Path
	Node *Node
}

// SetPriority sets the priority of the node at Path.
type SetPriority struct {
	Path     Path
	Priority any
}

// Merge replaces the named children of the subtree at Path, leaving the others.
type Merge struct {
	Path     Path
	Children map[string]*Node
}

func (m Overwrite) Target() Path   { return m.Path }
func (m SetPriority) Target() Path { return m.Path }
func (m Merge) Target() Path       { return m.Path }

// OverwriteAt builds the mutation for a set at path. A terminal priority segment
// becomes a priority update of the parent.
func OverwriteAt(path Path, node *Node) Mutation {
	if !path.IsEmpty() && path.Last() == PriorityKey {
		var priority any
		if node != nil {
			priority = node.Value
		}
		return SetPriority{Path: path.Parent(), Priority: priority}
	}
	return Overwrite{Path: path, Node: node}
}

// MergeAt builds the mutation for a merge of the object v at path. A null child
// decodes to an empty node, which deletes that child.
func MergeAt(path Path, v any) Mutation {
	children := map[string]*Node{}
	if obj, ok := v.(map[string]any); ok {
		for name, child := range obj {
			children[name] = FromValue(child)
		}
	}
	return Merge{Path: path, Children: children}
}
