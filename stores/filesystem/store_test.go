package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"codocs/core"

	"github.com/stretchr/testify/require"
)

func TestNewStoreCreatesDirectories(t *testing.T) {
	tempDir := t.TempDir()
	store := NewStore(tempDir)
	require.NotNil(t, store)

	for _, dir := range []string{"documents", "versions"} {
		_, err := os.Stat(filepath.Join(tempDir, dir))
		require.NoError(t, err)
	}
}

func TestCreateAndFind(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()

	id, err := store.Create(ctx, &core.Document{OwnerID: "alice", Title: "notes", Content: "hello"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, err := store.FindID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "alice", doc.OwnerID)
	require.Equal(t, "hello", doc.Content)
	require.Equal(t, 1, doc.Revision)
}

func TestFindUnknown(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.FindID(context.Background(), "missing")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestRejectsPathTraversalID(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.FindID(context.Background(), "../escape")
	require.Error(t, err)
	require.NotErrorIs(t, err, core.ErrNotFound)
}

func TestUpdateContentAppendsVersions(t *testing.T) {
	tempDir := t.TempDir()
	store := NewStore(tempDir)
	ctx := context.Background()

	id, err := store.Create(ctx, &core.Document{OwnerID: "alice", Content: "v1"})
	require.NoError(t, err)

	doc, err := store.UpdateContent(ctx, id, "v2")
	require.NoError(t, err)
	require.Equal(t, 2, doc.Revision)

	versions, err := store.Versions(ctx, id)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, "v1", versions[0].Content)
	require.Equal(t, "v2", versions[1].Content)

	// Reopening the directory sees the same state.
	reopened := NewStore(tempDir)
	doc, err = reopened.FindID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "v2", doc.Content)
}

func TestListByOwnerAndCollaborator(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()

	id1, err := store.Create(ctx, &core.Document{OwnerID: "alice", Content: "a"})
	require.NoError(t, err)
	_, err = store.Create(ctx, &core.Document{OwnerID: "bob", Content: "b"})
	require.NoError(t, err)

	_, err = store.SetCollaborators(ctx, id1, []core.Collaborator{
		{UserID: "bob", Permission: core.PermissionRead},
	})
	require.NoError(t, err)

	owned, err := store.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	require.Equal(t, id1, owned[0].ID)

	shared, err := store.ListByCollaborator(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, shared, 1)
	require.Equal(t, id1, shared[0].ID)
}
