package websocket

import (
	"context"
	"sync"
	"testing"

	"codocs/collab"
	"codocs/core"
	"codocs/permissions"
	"codocs/stores/memory"

	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	ConnID  string
	Event   string
	Payload any
}

// recordingEmitter captures every emitted event in order.
type recordingEmitter struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingEmitter) Emit(connID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{ConnID: connID, Event: event, Payload: payload})
}

func (r *recordingEmitter) all() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func (r *recordingEmitter) forConn(connID string) []recordedEvent {
	var out []recordedEvent
	for _, e := range r.all() {
		if e.ConnID == connID {
			out = append(out, e)
		}
	}
	return out
}

type sessionFixture struct {
	store    core.DocumentStore
	cache    *collab.Cache
	sessions *Sessions
	emitter  *recordingEmitter
	docID    string
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	store := memory.NewStore()
	docID, err := store.Create(context.Background(), &core.Document{
		OwnerID: "owner",
		Title:   "notes",
		Content: "hello",
		Collaborators: []core.Collaborator{
			{UserID: "reader", Permission: core.PermissionRead},
			{UserID: "writer", Permission: core.PermissionWrite},
		},
	})
	require.NoError(t, err)

	cache := collab.NewCache(store)
	emitter := &recordingEmitter{}
	sessions := NewSessions(SessionsConfig{
		Cache:   cache,
		Gate:    permissions.NewResolver(store),
		Emitter: emitter,
	})

	return &sessionFixture{
		store:    store,
		cache:    cache,
		sessions: sessions,
		emitter:  emitter,
		docID:    docID,
	}
}

func TestConnectRequiresIdentity(t *testing.T) {
	t.Parallel()

	fx := newSessionFixture(t)
	require.ErrorIs(t, fx.sessions.Connect("c1", ""), ErrUnauthenticated)
	require.NoError(t, fx.sessions.Connect("c1", "owner"))
	require.Equal(t, 1, fx.sessions.ConnCount())
}

func TestJoinReturnsCurrentContent(t *testing.T) {
	t.Parallel()

	fx := newSessionFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.sessions.Connect("c1", "owner"))

	content, err := fx.sessions.Join(ctx, "c1", fx.docID)
	require.NoError(t, err)
	require.Equal(t, "hello", content)
	require.Equal(t, 1, fx.sessions.RoomCount(fx.docID))

	// A later join sees cached content, including unflushed edits.
	require.NoError(t, fx.sessions.Connect("c2", "writer"))
	require.NoError(t, fx.sessions.Edit(ctx, "c1", fx.docID, "draft"))

	content, err = fx.sessions.Join(ctx, "c2", fx.docID)
	require.NoError(t, err)
	require.Equal(t, "draft", content)
}

func TestJoinDeniedHasNoSideEffects(t *testing.T) {
	t.Parallel()

	fx := newSessionFixture(t)
	require.NoError(t, fx.sessions.Connect("c1", "stranger"))

	_, err := fx.sessions.Join(context.Background(), "c1", fx.docID)
	require.ErrorIs(t, err, permissions.ErrAccessDenied)
	require.Equal(t, 0, fx.sessions.RoomCount(fx.docID))
	require.Equal(t, 0, fx.cache.Len())
}

func TestJoinUnknownDocument(t *testing.T) {
	t.Parallel()

	fx := newSessionFixture(t)
	require.NoError(t, fx.sessions.Connect("c1", "owner"))

	_, err := fx.sessions.Join(context.Background(), "c1", "missing")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestEditBroadcastsToOthersOnly(t *testing.T) {
	t.Parallel()

	fx := newSessionFixture(t)
	ctx := context.Background()
	for conn, user := range map[string]string{"c1": "owner", "c2": "writer", "c3": "reader"} {
		require.NoError(t, fx.sessions.Connect(conn, user))
		_, err := fx.sessions.Join(ctx, conn, fx.docID)
		require.NoError(t, err)
	}

	require.NoError(t, fx.sessions.Edit(ctx, "c1", fx.docID, "v2"))

	// Co-editors receive the update, the sender does not.
	require.Empty(t, fx.emitter.forConn("c1"))
	for _, conn := range []string{"c2", "c3"} {
		events := fx.emitter.forConn(conn)
		require.Len(t, events, 1, "conn %s", conn)
		require.Equal(t, EventUpdated, events[0].Event)
		require.Equal(t, UpdatedPayload{Content: "v2"}, events[0].Payload)
	}

	content, ok := fx.cache.Get(fx.docID)
	require.True(t, ok)
	require.Equal(t, "v2", content)
}

func TestEditOrderPreserved(t *testing.T) {
	t.Parallel()

	fx := newSessionFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.sessions.Connect("c1", "owner"))
	require.NoError(t, fx.sessions.Connect("c2", "writer"))
	_, err := fx.sessions.Join(ctx, "c1", fx.docID)
	require.NoError(t, err)
	_, err = fx.sessions.Join(ctx, "c2", fx.docID)
	require.NoError(t, err)

	require.NoError(t, fx.sessions.Edit(ctx, "c1", fx.docID, "v1"))
	require.NoError(t, fx.sessions.Edit(ctx, "c1", fx.docID, "v2"))
	require.NoError(t, fx.sessions.Edit(ctx, "c1", fx.docID, "v3"))

	events := fx.emitter.forConn("c2")
	require.Len(t, events, 3)
	for i, want := range []string{"v1", "v2", "v3"} {
		require.Equal(t, UpdatedPayload{Content: want}, events[i].Payload)
	}

	content, _ := fx.cache.Get(fx.docID)
	require.Equal(t, "v3", content)
}

func TestEditDeniedForReader(t *testing.T) {
	t.Parallel()

	fx := newSessionFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.sessions.Connect("c1", "reader"))
	require.NoError(t, fx.sessions.Connect("c2", "owner"))
	_, err := fx.sessions.Join(ctx, "c1", fx.docID)
	require.NoError(t, err)
	_, err = fx.sessions.Join(ctx, "c2", fx.docID)
	require.NoError(t, err)

	err = fx.sessions.Edit(ctx, "c1", fx.docID, "hijacked")
	require.ErrorIs(t, err, permissions.ErrAccessDenied)

	// The rejected edit left no trace: cache unchanged, nothing broadcast.
	content, ok := fx.cache.Get(fx.docID)
	require.True(t, ok)
	require.Equal(t, "hello", content)
	require.Empty(t, fx.emitter.all())
}

func TestEditFromUnknownConnection(t *testing.T) {
	t.Parallel()

	fx := newSessionFixture(t)
	err := fx.sessions.Edit(context.Background(), "ghost", fx.docID, "v2")
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestExternalEditReachesAllMembers(t *testing.T) {
	t.Parallel()

	fx := newSessionFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.sessions.Connect("c1", "owner"))
	require.NoError(t, fx.sessions.Connect("c2", "reader"))
	_, err := fx.sessions.Join(ctx, "c1", fx.docID)
	require.NoError(t, err)
	_, err = fx.sessions.Join(ctx, "c2", fx.docID)
	require.NoError(t, err)

	require.NoError(t, fx.sessions.ApplyExternalEdit(ctx, "writer", fx.docID, "v2"))

	// No sender connection to exclude: every member hears about it.
	require.Len(t, fx.emitter.forConn("c1"), 1)
	require.Len(t, fx.emitter.forConn("c2"), 1)
}

func TestDisconnectLeavesRoom(t *testing.T) {
	t.Parallel()

	fx := newSessionFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.sessions.Connect("c1", "owner"))
	require.NoError(t, fx.sessions.Connect("c2", "writer"))
	_, err := fx.sessions.Join(ctx, "c1", fx.docID)
	require.NoError(t, err)
	_, err = fx.sessions.Join(ctx, "c2", fx.docID)
	require.NoError(t, err)

	fx.sessions.Disconnect("c2")
	require.Equal(t, 1, fx.sessions.RoomCount(fx.docID))
	require.Equal(t, 1, fx.sessions.ConnCount())

	// The departed connection no longer receives broadcasts, and the cached
	// document survives the disconnect.
	require.NoError(t, fx.sessions.Edit(ctx, "c1", fx.docID, "v2"))
	require.Empty(t, fx.emitter.forConn("c2"))
	require.Equal(t, 1, fx.cache.Len())
}

func TestJoinSecondDocumentLeavesFirst(t *testing.T) {
	t.Parallel()

	fx := newSessionFixture(t)
	ctx := context.Background()

	otherID, err := fx.store.Create(ctx, &core.Document{OwnerID: "owner", Content: "other"})
	require.NoError(t, err)

	require.NoError(t, fx.sessions.Connect("c1", "owner"))
	_, err = fx.sessions.Join(ctx, "c1", fx.docID)
	require.NoError(t, err)
	_, err = fx.sessions.Join(ctx, "c1", otherID)
	require.NoError(t, err)

	require.Equal(t, 0, fx.sessions.RoomCount(fx.docID))
	require.Equal(t, 1, fx.sessions.RoomCount(otherID))
}
