package model

import (
	"errors"
	"sync"
)

var (
	// ErrLastRoot is returned when removing the only remaining root without
	// confirmation.
	ErrLastRoot = errors.New("cannot remove the last root without confirmation")
	// ErrNotRoot is returned when a non-root node is passed where a root is
	// required.
	ErrNotRoot = errors.New("node is not a root")
	// ErrNotInTree is returned when a node does not belong to the tree.
	ErrNotInTree = errors.New("node is not part of this tree")
)

// Policy holds the opt-in behaviors that couple one property to another.
type Policy struct {
	// SetHostnameLikeDisplayName copies a connection's new name into its
	// Hostname on rename.
	SetHostnameLikeDisplayName bool
}

// Tree is the in-memory connection hierarchy. It is not safe for
// concurrent mutation; observers are called on the mutating goroutine.
type Tree struct {
	Policy Policy

	roots []*Node

	mu        sync.Mutex
	observers []observerEntry
	nextObs   int
}

type observerEntry struct {
	id  int
	obs Observer
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{}
}

// Subscribe registers obs and returns a function that removes it.
// Observers are called in registration order.
func (t *Tree) Subscribe(obs Observer) func() {
	t.mu.Lock()
	id := t.nextObs
	t.nextObs++
	t.observers = append(t.observers, observerEntry{id: id, obs: obs})
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, e := range t.observers {
			if e.id == id {
				t.observers = append(t.observers[:i:i], t.observers[i+1:]...)
				return
			}
		}
	}
}

func (t *Tree) notify(c Change) {
	t.mu.Lock()
	entries := make([]observerEntry, len(t.observers))
	copy(entries, t.observers)
	t.mu.Unlock()
	for _, e := range entries {
		e.obs(c)
	}
}

// Roots returns a copy of the root list.
func (t *Tree) Roots() []*Node {
	out := make([]*Node, len(t.roots))
	copy(out, t.roots)
	return out
}

// ConnectionsRoot returns the first root of type RootConnections.
func (t *Tree) ConnectionsRoot() *Node {
	for _, r := range t.roots {
		if r.RootType() == RootConnections {
			return r
		}
	}
	return nil
}

// AddRoot attaches a root and its subtree.
func (t *Tree) AddRoot(n *Node) error {
	if !n.IsRoot() {
		return ErrNotRoot
	}
	for _, r := range t.roots {
		if r == n {
			return nil
		}
	}
	t.roots = append(t.roots, n)
	n.setTree(t)
	t.notify(Change{Kind: ChangeAdded, Node: n})
	return nil
}

// RemoveRoot detaches a root. Removing the last remaining root requires
// confirm to be true.
func (t *Tree) RemoveRoot(n *Node, confirm bool) error {
	idx := -1
	for i, r := range t.roots {
		if r == n {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotInTree
	}
	if len(t.roots) == 1 && !confirm {
		return ErrLastRoot
	}
	t.roots = append(t.roots[:idx:idx], t.roots[idx+1:]...)
	n.setTree(nil)
	t.notify(Change{Kind: ChangeRemoved, Node: n})
	return nil
}

// Reset replaces every root and emits a single reset notification.
func (t *Tree) Reset(roots ...*Node) error {
	for _, r := range roots {
		if !r.IsRoot() {
			return ErrNotRoot
		}
	}
	for _, r := range t.roots {
		r.setTree(nil)
	}
	t.roots = append([]*Node(nil), roots...)
	for _, r := range t.roots {
		r.setTree(t)
	}
	t.notify(Change{Kind: ChangeReset})
	return nil
}

// FindByID searches every root depth-first.
func (t *Tree) FindByID(id string) *Node {
	for _, r := range t.roots {
		if r.ID == id {
			return r
		}
		for _, d := range r.Descendants() {
			if d.ID == id {
				return d
			}
		}
	}
	return nil
}

// AllNodes returns every non-root node in pre-order, root by root.
func (t *Tree) AllNodes() []*Node {
	var out []*Node
	for _, r := range t.roots {
		out = append(out, r.Descendants()...)
	}
	return out
}

// AllConnections returns every leaf connection.
func (t *Tree) AllConnections() []*Node {
	var out []*Node
	for _, n := range t.AllNodes() {
		if n.Kind() == KindConnection {
			out = append(out, n)
		}
	}
	return out
}

// NodeCount returns the number of non-root nodes.
func (t *Tree) NodeCount() int {
	return len(t.AllNodes())
}

// Rename changes n's name. Under SetHostnameLikeDisplayName, connections
// also take the new name as their Hostname.
func (t *Tree) Rename(n *Node, name string) {
	n.Name = name
	if t.Policy.SetHostnameLikeDisplayName && n.Kind() == KindConnection {
		n.Props.Hostname = name
		t.notify(Change{Kind: ChangePropertyChanged, Node: n, Property: "Hostname"})
	}
	t.notify(Change{Kind: ChangePropertyChanged, Node: n, Property: "Name"})
}

// Delete removes n from its parent. Roots are left untouched; use
// RemoveRoot for those.
func (t *Tree) Delete(n *Node) {
	if n.IsRoot() || n.parent == nil {
		return
	}
	n.parent.RemoveChild(n)
}

// Move places n under parent at index.
func (t *Tree) Move(n, parent *Node, index int) error {
	if parent.tree != t {
		return ErrNotInTree
	}
	return parent.InsertChild(index, n)
}

// ResolveLink follows LinkedID references until a node without a link is
// reached. It returns nil for a dangling reference or a cycle.
func (t *Tree) ResolveLink(n *Node) *Node {
	visited := make(map[string]struct{})
	cur := n
	for cur.LinkedID != "" {
		if _, seen := visited[cur.ID]; seen {
			return nil
		}
		visited[cur.ID] = struct{}{}
		next := t.FindByID(cur.LinkedID)
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

// UpdateProperties applies fn to n's properties. It fails with
// ErrNotInTree when n belongs to another tree.
func (t *Tree) UpdateProperties(n *Node, fn func(p *Properties)) error {
	if n.tree != t {
		return ErrNotInTree
	}
	n.UpdateProperties(fn)
	return nil
}
