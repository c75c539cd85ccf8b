package memory

import (
	"context"
	"testing"

	"codocs/core"

	"github.com/stretchr/testify/require"
)

func TestCreateAssignsIDAndInitialVersion(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()

	id, err := store.Create(ctx, &core.Document{OwnerID: "alice", Title: "notes", Content: "hello"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, err := store.FindID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "alice", doc.OwnerID)
	require.Equal(t, "hello", doc.Content)
	require.Equal(t, 1, doc.Revision)
	require.False(t, doc.CreatedAt.IsZero())

	versions, err := store.Versions(ctx, id)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.Equal(t, 1, versions[0].Revision)
	require.Equal(t, "hello", versions[0].Content)
}

func TestFindIDUnknown(t *testing.T) {
	t.Parallel()

	store := NewStore()
	_, err := store.FindID(context.Background(), "missing")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestUpdateContentBumpsRevision(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()

	id, err := store.Create(ctx, &core.Document{OwnerID: "alice", Content: "v1"})
	require.NoError(t, err)

	doc, err := store.UpdateContent(ctx, id, "v2")
	require.NoError(t, err)
	require.Equal(t, "v2", doc.Content)
	require.Equal(t, 2, doc.Revision)

	doc, err = store.UpdateContent(ctx, id, "v3")
	require.NoError(t, err)
	require.Equal(t, 3, doc.Revision)

	versions, err := store.Versions(ctx, id)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	require.Equal(t, "v1", versions[0].Content)
	require.Equal(t, "v3", versions[2].Content)

	_, err = store.UpdateContent(ctx, "missing", "x")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestSetCollaborators(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()

	id, err := store.Create(ctx, &core.Document{OwnerID: "alice", Content: "v1"})
	require.NoError(t, err)

	grants := []core.Collaborator{{UserID: "bob", Permission: core.PermissionWrite}}
	doc, err := store.SetCollaborators(ctx, id, grants)
	require.NoError(t, err)
	require.Equal(t, grants, doc.Collaborators)

	// Membership changes do not create version records.
	versions, err := store.Versions(ctx, id)
	require.NoError(t, err)
	require.Len(t, versions, 1)

	_, err = store.SetCollaborators(ctx, "missing", grants)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestListByOwnerAndCollaborator(t *testing.T) {
	t.Parallel()

	store := NewStore()
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

	none, err := store.ListByCollaborator(ctx, "carol")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestFindIDReturnsCopy(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()

	id, err := store.Create(ctx, &core.Document{OwnerID: "alice", Content: "v1"})
	require.NoError(t, err)

	doc, err := store.FindID(ctx, id)
	require.NoError(t, err)
	doc.Content = "mutated"

	again, err := store.FindID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "v1", again.Content)
}
