package types

import (
	"fmt"
)

// Group is an internal node ("suite") of the test tree. Children are owned
// through the Subgroups and Leaves slices; parent pointers are non-owning
// back-references. Sibling insertion order is preserved and significant,
// even where subgroups and leaves interleave under one parent: every child
// carries the sequence number its parent assigned on attach.
type Group struct {
	Label       string
	Description string
	Tooltip     string

	Subgroups []*Group
	Leaves    []*TestNode

	parent  *Group
	seq     int
	nextSeq int
}

// Parent returns the enclosing group, or nil for the root.
func (g *Group) Parent() *Group {
	return g.parent
}

// GetOrCreateGroup returns the existing child group matching (label,
// description), or creates and appends a new one. No two siblings ever share
// the same (label, description) pair.
func (g *Group) GetOrCreateGroup(label, description, tooltip string) *Group {
	for _, child := range g.Subgroups {
		if child.Label == label && child.Description == description {
			return child
		}
	}
	child := &Group{
		Label:       label,
		Description: description,
		Tooltip:     tooltip,
		parent:      g,
		seq:         g.nextSeq,
	}
	g.nextSeq++
	g.Subgroups = append(g.Subgroups, child)
	return child
}

// Empty reports whether the group has no children at all.
func (g *Group) Empty() bool {
	return len(g.Subgroups) == 0 && len(g.Leaves) == 0
}

// Path returns the labels from the root (exclusive) down to this group.
func (g *Group) Path() []string {
	var path []string
	for cur := g; cur != nil && cur.parent != nil; cur = cur.parent {
		path = append(path, cur.Label)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Tree is the ownership hierarchy for one runnable's test set. Leaves are
// additionally indexed by identity for O(1) matching during parsing and
// reconciliation.
type Tree struct {
	Root  *Group
	nodes map[string]*TestNode
}

// NewTree creates an empty tree whose root group carries the runnable label.
func NewTree(rootLabel string) *Tree {
	return &Tree{
		Root:  &Group{Label: rootLabel},
		nodes: make(map[string]*TestNode),
	}
}

// Lookup returns the leaf with the given identity, or nil.
func (t *Tree) Lookup(id string) *TestNode {
	return t.nodes[id]
}

// Len returns the number of leaves in the tree.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// IDs returns the identities of all leaves in sibling insertion order.
func (t *Tree) IDs() []string {
	ids := make([]string, 0, len(t.nodes))
	t.walkGroup(t.Root, func(n *TestNode) bool {
		ids = append(ids, n.ID)
		return true
	})
	return ids
}

// AddLeaf attaches the node under the given group. Identities are unique per
// tree; adding a second leaf with a known ID is an error.
func (t *Tree) AddLeaf(g *Group, n *TestNode) error {
	if _, exists := t.nodes[n.ID]; exists {
		return fmt.Errorf("duplicate test identity %q", n.ID)
	}
	n.parent = g
	n.seq = g.nextSeq
	g.nextSeq++
	g.Leaves = append(g.Leaves, n)
	t.nodes[n.ID] = n
	return nil
}

// RemoveLeaf detaches the node and prunes any ancestor groups left empty by
// the removal, stopping at the root.
func (t *Tree) RemoveLeaf(n *TestNode) {
	g := n.parent
	if g == nil {
		delete(t.nodes, n.ID)
		return
	}
	for i, leaf := range g.Leaves {
		if leaf == n {
			g.Leaves = append(g.Leaves[:i], g.Leaves[i+1:]...)
			break
		}
	}
	n.parent = nil
	delete(t.nodes, n.ID)
	t.prune(g)
}

// MoveLeaf reparents an existing node, pruning the old ancestor chain.
func (t *Tree) MoveLeaf(n *TestNode, dest *Group) {
	old := n.parent
	if old == dest {
		return
	}
	if old != nil {
		for i, leaf := range old.Leaves {
			if leaf == n {
				old.Leaves = append(old.Leaves[:i], old.Leaves[i+1:]...)
				break
			}
		}
	}
	n.parent = dest
	n.seq = dest.nextSeq
	dest.nextSeq++
	dest.Leaves = append(dest.Leaves, n)
	if old != nil {
		t.prune(old)
	}
}

func (t *Tree) prune(g *Group) {
	for g != nil && g.parent != nil && g.Empty() {
		parent := g.parent
		for i, child := range parent.Subgroups {
			if child == g {
				parent.Subgroups = append(parent.Subgroups[:i], parent.Subgroups[i+1:]...)
				break
			}
		}
		g.parent = nil
		g = parent
	}
}

// Collect returns all leaves matching the predicate, in sibling insertion
// order. A nil predicate selects every leaf.
func (t *Tree) Collect(pred func(*TestNode) bool) []*TestNode {
	var out []*TestNode
	t.walkGroup(t.Root, func(n *TestNode) bool {
		if pred == nil || pred(n) {
			out = append(out, n)
		}
		return true
	})
	return out
}

// FindGroup returns the first group (pre-order) matching the predicate.
func (t *Tree) FindGroup(pred func(*Group) bool) *Group {
	var found *Group
	t.WalkGroups(func(g *Group) bool {
		if pred(g) {
			found = g
			return false
		}
		return true
	})
	return found
}

// WalkGroups traverses groups pre-order; the visitor returns false to stop.
func (t *Tree) WalkGroups(visit func(*Group) bool) {
	var rec func(g *Group) bool
	rec = func(g *Group) bool {
		if !visit(g) {
			return false
		}
		for _, child := range g.Subgroups {
			if !rec(child) {
				return false
			}
		}
		return true
	}
	rec(t.Root)
}

// walkGroup visits a group's children in sibling insertion order. Both child
// slices are already sequence-sorted (appends get increasing numbers and
// removals keep relative order), so a two-finger merge suffices.
func (t *Tree) walkGroup(g *Group, visit func(*TestNode) bool) bool {
	gi, li := 0, 0
	for gi < len(g.Subgroups) || li < len(g.Leaves) {
		if li == len(g.Leaves) || (gi < len(g.Subgroups) && g.Subgroups[gi].seq < g.Leaves[li].seq) {
			if !t.walkGroup(g.Subgroups[gi], visit) {
				return false
			}
			gi++
		} else {
			if !visit(g.Leaves[li]) {
				return false
			}
			li++
		}
	}
	return true
}
