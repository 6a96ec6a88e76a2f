package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTree(t *testing.T) (*Tree, *Node) {
	t.Helper()
	tree := NewTree()
	root := NewRoot("Connections", RootConnections)
	require.NoError(t, tree.AddRoot(root))
	return tree, root
}

func TestAddChild_MovesFromPreviousParent(t *testing.T) {
	_, root := newTestTree(t)
	a := NewContainer("a")
	b := NewContainer("b")
	leaf := NewConnection("leaf")
	require.NoError(t, root.AddChild(a))
	require.NoError(t, root.AddChild(b))
	require.NoError(t, a.AddChild(leaf))

	require.NoError(t, b.AddChild(leaf))

	assert.Equal(t, 0, a.ChildCount())
	assert.Equal(t, []*Node{leaf}, b.Children())
	assert.Same(t, b, leaf.Parent())
}

func TestAddChild_SameParentKeepsSingleMembership(t *testing.T) {
	_, root := newTestTree(t)
	x := NewConnection("x")
	y := NewConnection("y")
	require.NoError(t, root.AddChild(x))
	require.NoError(t, root.AddChild(y))

	require.NoError(t, root.InsertChild(0, y))

	assert.Equal(t, []*Node{y, x}, root.Children())
}

func TestAddChild_RejectsCycles(t *testing.T) {
	_, root := newTestTree(t)
	outer := NewContainer("outer")
	inner := NewContainer("inner")
	require.NoError(t, root.AddChild(outer))
	require.NoError(t, outer.AddChild(inner))

	assert.ErrorIs(t, inner.AddChild(outer), ErrCycle)
	assert.ErrorIs(t, outer.AddChild(outer), ErrCycle)
	assert.Same(t, root, outer.Parent())
}

func TestAddChild_LeafRejectsChildren(t *testing.T) {
	leaf := NewConnection("leaf")
	assert.ErrorIs(t, leaf.AddChild(NewConnection("x")), ErrNotContainer)
}

func TestRemoveRoot_LastRootNeedsConfirmation(t *testing.T) {
	tree, root := newTestTree(t)

	assert.ErrorIs(t, tree.RemoveRoot(root, false), ErrLastRoot)
	assert.Len(t, tree.Roots(), 1)

	putty := NewRoot("PuTTY Sessions", RootPuttySessions)
	require.NoError(t, tree.AddRoot(putty))
	require.NoError(t, tree.RemoveRoot(putty, false))

	require.NoError(t, tree.RemoveRoot(root, true))
	assert.Empty(t, tree.Roots())
}

func TestFindByID_SearchesAllRoots(t *testing.T) {
	tree, root := newTestTree(t)
	putty := NewRoot("PuTTY Sessions", RootPuttySessions)
	require.NoError(t, tree.AddRoot(putty))
	session := NewConnection("session")
	require.NoError(t, putty.AddChild(session))
	folder := NewContainer("folder")
	require.NoError(t, root.AddChild(folder))

	assert.Same(t, session, tree.FindByID(session.ID))
	assert.Same(t, folder, tree.FindByID(folder.ID))
	assert.Nil(t, tree.FindByID("missing"))
}

func TestDescendants_PreOrder(t *testing.T) {
	_, root := newTestTree(t)
	a := NewContainer("a")
	a1 := NewConnection("a1")
	a2 := NewContainer("a2")
	a2x := NewConnection("a2x")
	b := NewConnection("b")
	require.NoError(t, root.AddChild(a))
	require.NoError(t, a.AddChild(a1))
	require.NoError(t, a.AddChild(a2))
	require.NoError(t, a2.AddChild(a2x))
	require.NoError(t, root.AddChild(b))

	assert.Equal(t, []*Node{a, a1, a2, a2x, b}, root.Descendants())
}

func TestDelete_IsNoOpOnRoots(t *testing.T) {
	tree, root := newTestTree(t)
	leaf := NewConnection("leaf")
	require.NoError(t, root.AddChild(leaf))

	tree.Delete(root)
	assert.Len(t, tree.Roots(), 1)

	tree.Delete(leaf)
	assert.Equal(t, 0, root.ChildCount())
	assert.Nil(t, leaf.Parent())
}

func TestRename_HostnamePolicy(t *testing.T) {
	for _, tc := range []struct {
		name         string
		policy       bool
		wantHostname string
	}{
		{"PolicyOff", false, "10.0.0.1"},
		{"PolicyOn", true, "db01"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tree, root := newTestTree(t)
			tree.Policy.SetHostnameLikeDisplayName = tc.policy
			n := NewConnection("old")
			n.Props.Hostname = "10.0.0.1"
			require.NoError(t, root.AddChild(n))

			tree.Rename(n, "db01")

			assert.Equal(t, "db01", n.Name)
			assert.Equal(t, tc.wantHostname, n.Props.Hostname)
		})
	}
}

func TestNotifications(t *testing.T) {
	tree, root := newTestTree(t)
	var got []ChangeKind
	unsubscribe := tree.Subscribe(func(c Change) { got = append(got, c.Kind) })

	folder := NewContainer("folder")
	leaf := NewConnection("leaf")
	require.NoError(t, root.AddChild(folder))
	require.NoError(t, root.AddChild(leaf))
	require.NoError(t, tree.Move(leaf, folder, 0))
	leaf.UpdateProperties(func(p *Properties) { p.Hostname = "h" })
	tree.Delete(leaf)
	require.NoError(t, tree.Reset(root))

	assert.Equal(t, []ChangeKind{
		ChangeAdded, ChangeAdded, ChangeMoved, ChangePropertyChanged, ChangeRemoved, ChangeReset,
	}, got)

	unsubscribe()
	require.NoError(t, root.AddChild(NewConnection("quiet")))
	assert.Len(t, got, 6)
}

func TestAutoSort(t *testing.T) {
	_, root := newTestTree(t)
	folder := NewContainer("folder")
	require.NoError(t, root.AddChild(folder))
	for _, name := range []string{"charlie", "Alpha", "bravo"} {
		require.NoError(t, folder.AddChild(NewConnection(name)))
	}

	folder.SetAutoSort(true)
	require.NoError(t, folder.AddChild(NewConnection("aardvark")))

	var names []string
	for _, c := range folder.Children() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"aardvark", "Alpha", "bravo", "charlie"}, names)
}

func TestClone_IsDeepAndDetached(t *testing.T) {
	folder := NewContainer("folder")
	child := NewConnection("child")
	require.NoError(t, folder.AddChild(child))

	c := folder.Clone()

	assert.NotEqual(t, folder.ID, c.ID)
	assert.Nil(t, c.Parent())
	require.Equal(t, 1, c.ChildCount())
	assert.NotSame(t, child, c.Children()[0])
	assert.Same(t, c, c.Children()[0].Parent())
}

func TestRootPassword(t *testing.T) {
	root := NewRoot("Connections", RootConnections)
	assert.False(t, root.Protected())

	root.SetPassword("s3cret")
	assert.True(t, root.Protected())
	assert.Equal(t, "s3cret", root.Password())

	root.ClearPassword()
	assert.False(t, root.Protected())
	assert.Empty(t, root.Password())
}
