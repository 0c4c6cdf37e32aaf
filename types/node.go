package types

import "time"

// TestNode is a leaf in the test tree. Its ID is the stable identity string
// reported by the framework; it is matched by ID across reloads and runs.
type TestNode struct {
	ID      string
	Label   string
	File    string
	Line    int
	Skipped bool
	Tags    []string

	State    RunState
	Duration time.Duration

	parent *Group
	seq    int
}

// NewTestNode creates a leaf with the given identity and display label.
func NewTestNode(id, label string) *TestNode {
	return &TestNode{
		ID:    id,
		Label: label,
		State: StateUnset,
	}
}

// Parent returns the owning group, or nil if the node is detached.
func (n *TestNode) Parent() *Group {
	return n.parent
}

// Route returns the ordered ancestor chain from the tree root down to the
// node's parent. Route comparisons drive group transition events, so the
// order is always root-first.
func (n *TestNode) Route() []*Group {
	var route []*Group
	for g := n.parent; g != nil; g = g.parent {
		route = append(route, g)
	}
	// reverse to root-first order
	for i, j := 0, len(route)-1; i < j; i, j = i+1, j-1 {
		route[i], route[j] = route[j], route[i]
	}
	return route
}
