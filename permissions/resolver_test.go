package permissions_test

import (
	"context"
	"testing"

	"codocs/core"
	"codocs/permissions"
	"codocs/stores/memory"

	"github.com/stretchr/testify/require"
)

func seedDoc(t *testing.T, store core.DocumentStore) string {
	t.Helper()

	doc := &core.Document{
		OwnerID: "owner",
		Title:   "notes",
		Content: "hello",
		Collaborators: []core.Collaborator{
			{UserID: "reader", Permission: core.PermissionRead},
			{UserID: "writer", Permission: core.PermissionWrite},
			{UserID: "manager", Permission: core.PermissionAdmin},
		},
	}
	id, err := store.Create(context.Background(), doc)
	require.NoError(t, err)
	return id
}

func TestResolveOwnerIsAdmin(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	docID := seedDoc(t, store)
	gate := permissions.NewResolver(store)

	level, err := gate.Resolve(context.Background(), docID, "owner")
	require.NoError(t, err)
	require.Equal(t, core.PermissionAdmin, level)
}

func TestResolveCollaboratorLevels(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	docID := seedDoc(t, store)
	gate := permissions.NewResolver(store)

	for user, want := range map[string]core.Permission{
		"reader":   core.PermissionRead,
		"writer":   core.PermissionWrite,
		"manager":  core.PermissionAdmin,
		"stranger": core.PermissionNone,
	} {
		level, err := gate.Resolve(context.Background(), docID, user)
		require.NoError(t, err)
		require.Equal(t, want, level, "user %s", user)
	}
}

func TestResolveUnknownDocument(t *testing.T) {
	t.Parallel()

	gate := permissions.NewResolver(memory.NewStore())

	_, err := gate.Resolve(context.Background(), "missing", "owner")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestRequireEnforcesOrdering(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	docID := seedDoc(t, store)
	gate := permissions.NewResolver(store)
	ctx := context.Background()

	// A writer can read and write but not administer.
	require.NoError(t, gate.Require(ctx, docID, "writer", core.PermissionRead))
	require.NoError(t, gate.Require(ctx, docID, "writer", core.PermissionWrite))
	require.ErrorIs(t, gate.Require(ctx, docID, "writer", core.PermissionAdmin), permissions.ErrAccessDenied)

	// A reader cannot write.
	require.ErrorIs(t, gate.Require(ctx, docID, "reader", core.PermissionWrite), permissions.ErrAccessDenied)

	// A stranger cannot even read.
	require.ErrorIs(t, gate.Require(ctx, docID, "stranger", core.PermissionRead), permissions.ErrAccessDenied)

	// The owner passes every check.
	require.NoError(t, gate.Require(ctx, docID, "owner", core.PermissionAdmin))
}
