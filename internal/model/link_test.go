package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLink(t *testing.T) {
	tree, root := newTestTree(t)
	target := NewConnection("target")
	hop := NewConnection("hop")
	start := NewConnection("start")
	for _, n := range []*Node{target, hop, start} {
		require.NoError(t, root.AddChild(n))
	}
	hop.LinkedID = target.ID
	start.LinkedID = hop.ID

	assert.Same(t, target, tree.ResolveLink(start))
	assert.Same(t, target, tree.ResolveLink(target))
}

func TestResolveLink_Cycle(t *testing.T) {
	tree, root := newTestTree(t)
	a := NewConnection("a")
	b := NewConnection("b")
	require.NoError(t, root.AddChild(a))
	require.NoError(t, root.AddChild(b))
	a.LinkedID = b.ID
	b.LinkedID = a.ID

	assert.Nil(t, tree.ResolveLink(a))
	assert.Nil(t, tree.ResolveLink(b))
}

func TestResolveLink_Dangling(t *testing.T) {
	tree, root := newTestTree(t)
	a := NewConnection("a")
	require.NoError(t, root.AddChild(a))
	a.LinkedID = "gone"

	assert.Nil(t, tree.ResolveLink(a))
}
