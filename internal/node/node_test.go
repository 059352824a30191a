package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddChildRejectsDuplicate(t *testing.T) {
	root := New("")
	require.NoError(t, root.AddChild(New("a")))
	err := root.AddChild(New("a"))
	assert.Error(t, err)
}

func TestChildrenPreserveInsertionOrder(t *testing.T) {
	root := New("")
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, root.AddChild(New(name)))
	}
	var names []string
	for _, c := range root.Children() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)
}

func TestRemoveChildDetachesAndUpdatesOrder(t *testing.T) {
	root := New("")
	a, b := New("a"), New("b")
	require.NoError(t, root.AddChild(a))
	require.NoError(t, root.AddChild(b))

	removed, ok := root.RemoveChild("a")
	require.True(t, ok)
	assert.Same(t, a, removed)
	assert.Nil(t, removed.Parent)
	assert.False(t, root.HasChild("a"))

	_, ok = root.RemoveChild("missing")
	assert.False(t, ok)

	names := []string{}
	for _, c := range root.Children() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"b"}, names)
}

func TestInvokableDefaultsToNever(t *testing.T) {
	n := New("x")
	assert.Equal(t, InvokeNever, n.Invokable())

	n.SetMeta("$invokable", InvokeConfig)
	assert.Equal(t, InvokeConfig, n.Invokable())

	n.SetMeta("$invokable", 42)
	assert.Equal(t, InvokeNever, n.Invokable(), "non-string $invokable must fall back to never")
}

func TestTreeResolve(t *testing.T) {
	tree := NewTree()
	a := New("a")
	require.NoError(t, tree.Root().AddChild(a))
	b := New("b")
	require.NoError(t, a.AddChild(b))
	tree.Invalidate()

	got, ok := tree.Resolve("/a/b")
	require.True(t, ok)
	assert.Same(t, b, got)

	got, ok = tree.Resolve("/")
	require.True(t, ok)
	assert.Same(t, tree.Root(), got)

	_, ok = tree.Resolve("/a/missing")
	assert.False(t, ok)
}

func TestTreeResolveCacheInvalidatedOnMutation(t *testing.T) {
	tree := NewTree()
	require.NoError(t, tree.Root().AddChild(New("a")))
	tree.Invalidate()

	_, ok := tree.Resolve("/a")
	require.True(t, ok)

	_, ok = tree.Root().RemoveChild("a")
	require.True(t, ok)
	tree.Invalidate()

	_, ok = tree.Resolve("/a")
	assert.False(t, ok, "resolving a removed path after Invalidate must miss")
}

func TestTreeResolveRepeatedMissDoesNotReturnStaleHit(t *testing.T) {
	tree := NewTree()
	require.NoError(t, tree.Root().AddChild(New("a")))
	tree.Invalidate()

	for i := 0; i < 3; i++ {
		got, ok := tree.Resolve("/a/missing")
		assert.Nil(t, got)
		assert.False(t, ok, "cached miss must stay a miss on repeated lookups within the TTL")
	}
}

func TestListUpdatesIncludesChildrenAndMeta(t *testing.T) {
	root := New("")
	root.SetMeta("$is", "broker")
	require.NoError(t, root.AddChild(New("child")))

	updates := root.ListUpdates()
	assert.Len(t, updates, 2)
}
