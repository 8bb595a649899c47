package tree

import "strings"

const (
	// PriorityKey is the reserved child name carrying a node's priority.
	PriorityKey = ".priority"
	// ValueKey is the reserved child name carrying a leaf value next to a priority.
	ValueKey = ".value"
)

// Path is a normalized slash-separated location in the data tree.
type Path struct {
	segments []string
}

// ParsePath splits raw on '/' and drops empty segments, so "a//b/" == "/a/b".
func ParsePath(raw string) Path {
	parts := strings.Split(raw, "/")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		segments = append(segments, part)
	}
	return Path{segments: segments}
}

// Root returns the empty path.
func Root() Path {
	return Path{}
}

func (p Path) IsEmpty() bool {
	return len(p.segments) == 0
}

// Last returns the terminal segment, or "" for the root.
func (p Path) Last() string {
	if p.IsEmpty() {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent returns the path without its terminal segment. The root is its own parent.
func (p Path) Parent() Path {
	if p.IsEmpty() {
		return p
	}
	return Path{segments: p.segments[:len(p.segments)-1]}
}

func (p Path) Child(name string) Path {
	next := ParsePath(name)
	segments := make([]string, 0, len(p.segments)+len(next.segments))
	segments = append(segments, p.segments...)
	segments = append(segments, next.segments...)
	return Path{segments: segments}
}

func (p Path) Equal(other Path) bool {
	if len(p.segments) != len(other.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != other.segments[i] {
			return false
		}
	}
	return true
}

func (p Path) String() string {
	return "/" + strings.Join(p.segments, "/")
}
