package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/pathcast/errors"
)

func TestTreeInsertAndContains(t *testing.T) {
	tr := newTree()
	require.NoError(t, tr.insert("a/b/c"))
	require.NoError(t, tr.insert("a/b/d"))
	require.NoError(t, tr.insert("x"))

	assert.True(t, tr.contains("a/b/c"))
	assert.True(t, tr.contains("a/b/d"))
	assert.True(t, tr.contains("x"))
	assert.False(t, tr.contains("a/b"))
	assert.False(t, tr.contains("a"))
	assert.False(t, tr.contains("a/b/c/e"))
}

func TestTreeRejectsDuplicate(t *testing.T) {
	tr := newTree()
	require.NoError(t, tr.insert("a/b"))

	err := tr.insert("a/b")
	assert.ErrorIs(t, err, errors.ErrDuplicatePath)
}

func TestTreeRejectsAncestorOfRegistered(t *testing.T) {
	tr := newTree()
	require.NoError(t, tr.insert("a/b/c"))

	assert.ErrorIs(t, tr.insert("a/b"), errors.ErrHierarchyViolation)
	assert.ErrorIs(t, tr.insert("a"), errors.ErrHierarchyViolation)
}

func TestTreeRejectsDescendantOfRegistered(t *testing.T) {
	tr := newTree()
	require.NoError(t, tr.insert("a/b"))

	assert.ErrorIs(t, tr.insert("a/b/c"), errors.ErrHierarchyViolation)
	assert.ErrorIs(t, tr.insert("a/b/c/d"), errors.ErrHierarchyViolation)
}

func TestTreeRemovePrunesBranch(t *testing.T) {
	tr := newTree()
	require.NoError(t, tr.insert("a/b/c"))
	require.NoError(t, tr.remove("a/b/c"))

	// The whole branch is gone, so the ancestor is registrable again.
	require.NoError(t, tr.insert("a"))
}

func TestTreeRemoveKeepsSharedAncestors(t *testing.T) {
	tr := newTree()
	require.NoError(t, tr.insert("a/b/c"))
	require.NoError(t, tr.insert("a/b/d"))
	require.NoError(t, tr.remove("a/b/c"))

	assert.True(t, tr.contains("a/b/d"))
	// a/b still shelters a registration.
	assert.ErrorIs(t, tr.insert("a/b"), errors.ErrHierarchyViolation)
	// The removed leaf can come back.
	require.NoError(t, tr.insert("a/b/c"))
}

func TestTreeRemoveMissing(t *testing.T) {
	tr := newTree()
	require.NoError(t, tr.insert("a/b"))

	assert.ErrorIs(t, tr.remove("a/c"), errors.ErrNotFound)
	assert.ErrorIs(t, tr.remove("a"), errors.ErrNotFound)
	assert.ErrorIs(t, tr.remove("a/b/c"), errors.ErrNotFound)
}

func TestTreeSnapshotOrdersChildren(t *testing.T) {
	tr := newTree()
	require.NoError(t, tr.insert("b/z"))
	require.NoError(t, tr.insert("b/a"))
	require.NoError(t, tr.insert("a"))

	root := tr.snapshot()
	require.Len(t, root.Children, 2)
	assert.Equal(t, "a", root.Children[0].Name)
	assert.True(t, root.Children[0].Registered)
	assert.Equal(t, "b", root.Children[1].Name)
	assert.False(t, root.Children[1].Registered)

	require.Len(t, root.Children[1].Children, 2)
	assert.Equal(t, "a", root.Children[1].Children[0].Name)
	assert.Equal(t, "z", root.Children[1].Children[1].Name)
}
