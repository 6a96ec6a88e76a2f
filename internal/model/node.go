package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Kind distinguishes leaf connections from containers and roots. The string
// values match the Type column/attribute used by the persistence backends.
type Kind string

const (
	KindConnection Kind = "Connection"
	KindContainer  Kind = "Container"
	KindRoot       Kind = "Root"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// IsValid checks whether the kind is a known value.
func (k Kind) IsValid() bool {
	switch k {
	case KindConnection, KindContainer, KindRoot:
		return true
	}
	return false
}

// RootType separates the regular connection root from roots fed by an
// external session source.
type RootType string

const (
	RootConnections   RootType = "Connections"
	RootPuttySessions RootType = "PuttySessions"
)

var (
	// ErrNotContainer is returned when a child is added to a leaf.
	ErrNotContainer = errors.New("node is not a container")
	// ErrCycle is returned when a node would become its own ancestor.
	ErrCycle = errors.New("node cannot be added beneath itself")
	// ErrRootChild is returned when a root is added as a child.
	ErrRootChild = errors.New("root nodes cannot have a parent")
)

// Node is a connection, a container, or a root. Container state is only
// present on containers and roots; root state only on roots.
type Node struct {
	ID       string
	Name     string
	LinkedID string
	Props    Properties
	Inherit  InheritanceFlags

	// Local-only state; never written to shared storage.
	Favorite  bool
	Connected bool

	kind      Kind
	parent    *Node
	tree      *Tree
	container *containerState
	root      *rootState
}

type containerState struct {
	children     []*Node
	expanded     bool
	autoSort     bool
	passwordGate bool
}

type rootState struct {
	rootType RootType
	// protected reports whether a master password other than the default
	// guards the document.
	protected bool
	password  []byte
	version   string
	export    bool
	autoLock  bool
}

// NewConnection creates a leaf connection with default properties.
func NewConnection(name string) *Node {
	return &Node{
		ID:    uuid.NewString(),
		Name:  name,
		Props: DefaultProperties(),
		kind:  KindConnection,
	}
}

// NewContainer creates an empty container with default properties.
func NewContainer(name string) *Node {
	return &Node{
		ID:        uuid.NewString(),
		Name:      name,
		Props:     DefaultProperties(),
		kind:      KindContainer,
		container: &containerState{},
	}
}

// NewRoot creates a root. Roots never inherit.
func NewRoot(name string, rootType RootType) *Node {
	return &Node{
		ID:        uuid.NewString(),
		Name:      name,
		Props:     DefaultProperties(),
		kind:      KindRoot,
		container: &containerState{expanded: true},
		root:      &rootState{rootType: rootType},
	}
}

// NewNode creates a node of the given kind. Deserializers use it when the
// kind is read from storage.
func NewNode(kind Kind, id, name string) (*Node, error) {
	var n *Node
	switch kind {
	case KindConnection:
		n = NewConnection(name)
	case KindContainer:
		n = NewContainer(name)
	case KindRoot:
		n = NewRoot(name, RootConnections)
	default:
		return nil, fmt.Errorf("unknown node kind %q", kind)
	}
	if id != "" {
		n.ID = id
	}
	return n, nil
}

// Kind returns the node's kind.
func (n *Node) Kind() Kind { return n.kind }

// IsContainer reports whether n can hold children. Roots are containers.
func (n *Node) IsContainer() bool { return n.container != nil }

// IsRoot reports whether n is a root.
func (n *Node) IsRoot() bool { return n.root != nil }

// Parent returns the owning container, or nil for roots and detached nodes.
func (n *Node) Parent() *Node { return n.parent }

// Tree returns the tree n is attached to, if any.
func (n *Node) Tree() *Tree { return n.tree }

// Children returns a copy of the ordered child list.
func (n *Node) Children() []*Node {
	if n.container == nil {
		return nil
	}
	out := make([]*Node, len(n.container.children))
	copy(out, n.container.children)
	return out
}

// ChildCount returns the number of direct children.
func (n *Node) ChildCount() int {
	if n.container == nil {
		return 0
	}
	return len(n.container.children)
}

// Index returns n's position in its parent, or -1.
func (n *Node) Index() int {
	if n.parent == nil {
		return -1
	}
	for i, c := range n.parent.container.children {
		if c == n {
			return i
		}
	}
	return -1
}

// HasAncestor reports whether a is a strict ancestor of n.
func (n *Node) HasAncestor(a *Node) bool {
	for p := n.parent; p != nil; p = p.parent {
		if p == a {
			return true
		}
	}
	return false
}

// RootNode walks up to the topmost ancestor.
func (n *Node) RootNode() *Node {
	cur := n
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// AddChild appends child, detaching it from any previous parent first.
func (n *Node) AddChild(child *Node) error {
	return n.InsertChild(n.ChildCount(), child)
}

// InsertChild places child at index i (clamped to the valid range),
// detaching it from any previous parent first. A child moved within the
// same parent keeps single membership.
func (n *Node) InsertChild(i int, child *Node) error {
	if n.container == nil {
		return ErrNotContainer
	}
	if child.IsRoot() {
		return ErrRootChild
	}
	if child == n || n.HasAncestor(child) {
		return ErrCycle
	}

	oldParent := child.parent
	if oldParent != nil {
		oldParent.detach(child)
	}

	if i < 0 {
		i = 0
	}
	if i > len(n.container.children) {
		i = len(n.container.children)
	}
	kids := n.container.children
	kids = append(kids, nil)
	copy(kids[i+1:], kids[i:])
	kids[i] = child
	n.container.children = kids
	child.parent = n

	oldTree := child.tree
	child.setTree(n.tree)

	if oldParent != nil {
		notifyBoth(oldTree, n.tree, Change{Kind: ChangeMoved, Node: child, Parent: n, OldParent: oldParent})
	} else {
		n.notify(Change{Kind: ChangeAdded, Node: child, Parent: n})
	}

	if n.container.autoSort {
		n.SortChildren(false)
	}
	return nil
}

// RemoveChild detaches child. It reports whether child was present.
func (n *Node) RemoveChild(child *Node) bool {
	if n.container == nil || child.parent != n {
		return false
	}
	t := child.tree
	n.detach(child)
	child.setTree(nil)
	if t != nil {
		t.notify(Change{Kind: ChangeRemoved, Node: child, OldParent: n})
	}
	return true
}

func (n *Node) detach(child *Node) {
	kids := n.container.children
	for i, c := range kids {
		if c == child {
			n.container.children = append(kids[:i:i], kids[i+1:]...)
			break
		}
	}
	child.parent = nil
}

func (n *Node) setTree(t *Tree) {
	n.tree = t
	if n.container == nil {
		return
	}
	for _, c := range n.container.children {
		c.setTree(t)
	}
}

func (n *Node) notify(c Change) {
	if n.tree != nil {
		n.tree.notify(c)
	}
}

func notifyBoth(a, b *Tree, c Change) {
	if b != nil {
		b.notify(c)
	}
	if a != nil && a != b {
		a.notify(c)
	}
}

// Descendants returns every node beneath n in pre-order, parents before
// their children. The result is a snapshot.
func (n *Node) Descendants() []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(p *Node) {
		if p.container == nil {
			return
		}
		for _, c := range p.container.children {
			out = append(out, c)
			walk(c)
		}
	}
	walk(n)
	return out
}

// SortChildren orders the children by name, case-insensitively. With
// recursive set, nested containers are sorted too.
func (n *Node) SortChildren(recursive bool) {
	if n.container == nil {
		return
	}
	kids := n.container.children
	sort.SliceStable(kids, func(i, j int) bool {
		return strings.ToLower(kids[i].Name) < strings.ToLower(kids[j].Name)
	})
	if recursive {
		for _, c := range kids {
			c.SortChildren(true)
		}
	}
	n.notify(Change{Kind: ChangeReset, Node: n})
}

// UpdateProperties applies fn to n's properties and emits a
// property-changed notification.
func (n *Node) UpdateProperties(fn func(p *Properties)) {
	fn(&n.Props)
	n.notify(Change{Kind: ChangePropertyChanged, Node: n})
}

// Clone returns a detached deep copy of n with fresh IDs.
func (n *Node) Clone() *Node {
	c := &Node{
		ID:       uuid.NewString(),
		Name:     n.Name,
		LinkedID: n.LinkedID,
		Props:    n.Props,
		Inherit:  n.Inherit,
		Favorite: n.Favorite,
		kind:     n.kind,
	}
	if n.root != nil {
		r := *n.root
		r.password = append([]byte(nil), n.root.password...)
		c.root = &r
	}
	if n.container != nil {
		c.container = &containerState{
			expanded:     n.container.expanded,
			autoSort:     n.container.autoSort,
			passwordGate: n.container.passwordGate,
		}
		for _, child := range n.container.children {
			cc := child.Clone()
			cc.parent = c
			c.container.children = append(c.container.children, cc)
		}
	}
	return c
}

// Expanded reports the container's expansion state.
func (n *Node) Expanded() bool {
	return n.container != nil && n.container.expanded
}

// SetExpanded sets the container's expansion state.
func (n *Node) SetExpanded(v bool) {
	if n.container != nil {
		n.container.expanded = v
	}
}

// AutoSort reports whether children are kept sorted by name.
func (n *Node) AutoSort() bool {
	return n.container != nil && n.container.autoSort
}

// SetAutoSort enables or disables name ordering and sorts immediately when
// enabled.
func (n *Node) SetAutoSort(v bool) {
	if n.container == nil {
		return
	}
	n.container.autoSort = v
	if v {
		n.SortChildren(false)
	}
}

// RestoreAutoSort sets the auto-sort flag without reordering. Deserializers
// use it so the stored child order survives a round trip.
func (n *Node) RestoreAutoSort(v bool) {
	if n.container != nil {
		n.container.autoSort = v
	}
}

// PasswordGate reports whether opening the container asks for a password.
func (n *Node) PasswordGate() bool {
	return n.container != nil && n.container.passwordGate
}

// SetPasswordGate sets the container's password gate.
func (n *Node) SetPasswordGate(v bool) {
	if n.container != nil {
		n.container.passwordGate = v
	}
}

// RootType returns the root's type, or "" for non-roots.
func (n *Node) RootType() RootType {
	if n.root == nil {
		return ""
	}
	return n.root.rootType
}

// Protected reports whether the root is guarded by a custom master password.
func (n *Node) Protected() bool {
	return n.root != nil && n.root.protected
}

// SetProtected marks the root as protected without changing the password.
func (n *Node) SetProtected(v bool) {
	if n.root != nil {
		n.root.protected = v
	}
}

// Password returns the in-memory master password of a root.
func (n *Node) Password() string {
	if n.root == nil {
		return ""
	}
	return string(n.root.password)
}

// SetPassword stores the master password in memory. A non-empty password
// marks the root as protected.
func (n *Node) SetPassword(pw string) {
	if n.root == nil {
		return
	}
	n.root.password = []byte(pw)
	n.root.protected = pw != ""
}

// ClearPassword wipes the in-memory master password.
func (n *Node) ClearPassword() {
	if n.root == nil {
		return
	}
	for i := range n.root.password {
		n.root.password[i] = 0
	}
	n.root.password = nil
	n.root.protected = false
}

// Version returns the document version recorded on a root.
func (n *Node) Version() string {
	if n.root == nil {
		return ""
	}
	return n.root.version
}

// SetVersion records the document version on a root.
func (n *Node) SetVersion(v string) {
	if n.root != nil {
		n.root.version = v
	}
}

// Export reports the root's export flag.
func (n *Node) Export() bool {
	return n.root != nil && n.root.export
}

// SetExport sets the root's export flag.
func (n *Node) SetExport(v bool) {
	if n.root != nil {
		n.root.export = v
	}
}

// AutoLockOnMinimize reports the root's auto-lock preference.
func (n *Node) AutoLockOnMinimize() bool {
	return n.root != nil && n.root.autoLock
}

// SetAutoLockOnMinimize sets the root's auto-lock preference.
func (n *Node) SetAutoLockOnMinimize(v bool) {
	if n.root != nil {
		n.root.autoLock = v
	}
}
