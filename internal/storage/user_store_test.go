package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quantumlife/scheduler/internal/core"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func TestUserStore_UpsertAndGet(t *testing.T) {
	db := newTestDB(t)
	store := NewUserStore(db)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, core.User{ID: "u1", DisplayName: "Alice"}, "alice@example.com"))

	got, err := store.GetByID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "Alice", got.DisplayName)

	require.NoError(t, store.Upsert(ctx, core.User{ID: "u1", DisplayName: "Alice Kim"}, "alice@example.com"))
	got, err = store.GetByID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "Alice Kim", got.DisplayName)
}

func TestUserStore_GetByID_NotFound(t *testing.T) {
	db := newTestDB(t)
	store := NewUserStore(db)

	_, err := store.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, core.ErrRecordNotFound)
}

func TestUserStore_GetDisplayNames(t *testing.T) {
	db := newTestDB(t)
	store := NewUserStore(db)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, core.User{ID: "u1", DisplayName: "Alice"}, ""))
	require.NoError(t, store.Upsert(ctx, core.User{ID: "u2", DisplayName: "Bob"}, ""))

	names, err := store.GetDisplayNames(ctx, []core.UserID{"u1", "u2", "u3"})
	require.NoError(t, err)
	require.Equal(t, map[core.UserID]string{"u1": "Alice", "u2": "Bob"}, names)
}

func TestUserStore_FindByDisplayName(t *testing.T) {
	db := newTestDB(t)
	store := NewUserStore(db)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, core.User{ID: "u1", DisplayName: "민수"}, ""))

	got, err := store.FindByDisplayName(ctx, "민수")
	require.NoError(t, err)
	require.Equal(t, core.UserID("u1"), got.ID)

	_, err = store.FindByDisplayName(ctx, "없음")
	require.ErrorIs(t, err, core.ErrRecordNotFound)
}

func TestUserStore_GetDisplayNames_Empty(t *testing.T) {
	db := newTestDB(t)
	store := NewUserStore(db)

	names, err := store.GetDisplayNames(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, names)
}
