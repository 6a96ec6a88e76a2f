package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveValue_NearestNonInheritingAncestor(t *testing.T) {
	_, root := newTestTree(t)
	top := NewContainer("top")
	top.Props.Username = "top-user"
	mid := NewContainer("mid")
	mid.Props.Username = "mid-user"
	mid.Inherit.Username = true
	leaf := NewConnection("leaf")
	leaf.Props.Username = "leaf-user"
	leaf.Inherit.Username = true
	require.NoError(t, root.AddChild(top))
	require.NoError(t, top.AddChild(mid))
	require.NoError(t, mid.AddChild(leaf))

	v, err := EffectiveValue(leaf, "Username")
	require.NoError(t, err)
	assert.Equal(t, "top-user", v)

	mid.Inherit.Username = false
	v, err = EffectiveValue(leaf, "Username")
	require.NoError(t, err)
	assert.Equal(t, "mid-user", v)

	leaf.Inherit.Username = false
	v, err = EffectiveValue(leaf, "Username")
	require.NoError(t, err)
	assert.Equal(t, "leaf-user", v)
}

func TestEffectiveValue_StopsAtRoot(t *testing.T) {
	_, root := newTestTree(t)
	root.Props.Port = 1
	root.Inherit.Port = true
	leaf := NewConnection("leaf")
	leaf.Inherit.Port = true
	require.NoError(t, root.AddChild(leaf))

	v, err := EffectiveValue(leaf, "Port")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestEffectiveValue_DetachedNodeUsesOwnValue(t *testing.T) {
	leaf := NewConnection("leaf")
	leaf.Props.Domain = "corp"
	leaf.Inherit.Domain = true

	v, err := EffectiveValue(leaf, "Domain")
	require.NoError(t, err)
	assert.Equal(t, "corp", v)
}

func TestEffectiveValue_UnknownProperty(t *testing.T) {
	_, err := EffectiveValue(NewConnection("x"), "NoSuchThing")
	assert.Error(t, err)
}

func TestEffectiveProperties(t *testing.T) {
	_, root := newTestTree(t)
	folder := NewContainer("folder")
	folder.Props.Domain = "corp"
	folder.Props.RedirectPrinters = true
	require.NoError(t, root.AddChild(folder))
	leaf := NewConnection("leaf")
	leaf.Props.Hostname = "web01"
	leaf.Inherit.Domain = true
	leaf.Inherit.RedirectPrinters = true
	require.NoError(t, folder.AddChild(leaf))

	got := leaf.EffectiveProperties()

	assert.Equal(t, "corp", got.Domain)
	assert.True(t, got.RedirectPrinters)
	assert.Equal(t, "web01", got.Hostname)
	assert.Empty(t, leaf.Props.Domain, "stored value must not change")
}

func TestApplyPropertiesToChildren_IgnoresChildFlags(t *testing.T) {
	_, root := newTestTree(t)
	folder := NewContainer("folder")
	folder.Props.Username = "admin"
	folder.Props.Port = 2222
	require.NoError(t, root.AddChild(folder))
	sub := NewContainer("sub")
	leaf := NewConnection("leaf")
	leaf.Props.Hostname = "keep-me"
	leaf.Inherit.Username = true
	require.NoError(t, folder.AddChild(sub))
	require.NoError(t, sub.AddChild(leaf))

	folder.ApplyPropertiesToChildren()

	for _, n := range []*Node{sub, leaf} {
		assert.Equal(t, "admin", n.Props.Username)
		assert.Equal(t, 2222, n.Props.Port)
	}
	assert.Equal(t, "keep-me", leaf.Props.Hostname)
	assert.True(t, leaf.Inherit.Username, "flags are a separate operation")
	assert.False(t, sub.Inherit.Username)
}

func TestApplyInheritanceToChildren(t *testing.T) {
	_, root := newTestTree(t)
	folder := NewContainer("folder")
	folder.Inherit.SetAll(true)
	require.NoError(t, root.AddChild(folder))
	leaf := NewConnection("leaf")
	leaf.Props.Username = "own"
	require.NoError(t, folder.AddChild(leaf))

	folder.ApplyInheritanceToChildren()

	assert.True(t, leaf.Inherit.Everything())
	assert.Equal(t, "own", leaf.Props.Username, "values are a separate operation")
}

func TestApplyPropertiesToChildren_WithAutoSortObserver(t *testing.T) {
	tree, root := newTestTree(t)
	folder := NewContainer("folder")
	folder.SetAutoSort(true)
	require.NoError(t, root.AddChild(folder))
	for _, name := range []string{"c", "b", "a"} {
		require.NoError(t, folder.AddChild(NewConnection(name)))
	}
	folder.Props.Icon = "Server"

	// Re-sorting on every property change must not disturb the walk.
	unsubscribe := tree.Subscribe(func(c Change) {
		if c.Kind == ChangePropertyChanged {
			folder.SortChildren(false)
		}
	})
	defer unsubscribe()

	folder.ApplyPropertiesToChildren()

	for _, c := range folder.Children() {
		assert.Equal(t, "Server", c.Props.Icon)
	}
}

func TestInheritanceFlags_SetAll(t *testing.T) {
	var f InheritanceFlags
	assert.False(t, f.Any())
	f.SetAll(true)
	assert.True(t, f.Everything())
	f.Password = false
	assert.False(t, f.Everything())
	assert.True(t, f.Any())
}
