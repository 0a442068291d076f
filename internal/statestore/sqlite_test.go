// ABOUTME: Tests for the SQLite state store
// ABOUTME: CRUD, prefix listing, room enumeration, and upsert semantics

package statestore

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetPut(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "!room:example.org", "schedule/abc")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "!room:example.org", "schedule/abc", []byte("v1")))
	got, err := store.Get(ctx, "!room:example.org", "schedule/abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	// Put replaces.
	require.NoError(t, store.Put(ctx, "!room:example.org", "schedule/abc", []byte("v2")))
	got, err = store.Get(ctx, "!room:example.org", "schedule/abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestKeysAreRoomScoped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "!a:example.org", "k", []byte("a")))
	require.NoError(t, store.Put(ctx, "!b:example.org", "k", []byte("b")))

	got, err := store.Get(ctx, "!a:example.org", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)
}

func TestListPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	room := "!room:example.org"

	require.NoError(t, store.Put(ctx, room, "schedule/one", []byte("1")))
	require.NoError(t, store.Put(ctx, room, "schedule/two", []byte("2")))
	require.NoError(t, store.Put(ctx, room, "other/three", []byte("3")))

	got, err := store.List(ctx, room, "schedule/")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, []byte("1"), got["schedule/one"])
	assert.Equal(t, []byte("2"), got["schedule/two"])
}

func TestRooms(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "!a:example.org", "schedule/x", []byte("1")))
	require.NoError(t, store.Put(ctx, "!b:example.org", "schedule/y", []byte("2")))
	require.NoError(t, store.Put(ctx, "!c:example.org", "other/z", []byte("3")))

	rooms, err := store.Rooms(ctx, "schedule/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"!a:example.org", "!b:example.org"}, rooms)
}

func TestStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path, slog.Default())
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "!room:example.org", "schedule/abc", []byte("durable")))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path, slog.Default())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "!room:example.org", "schedule/abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), got)
}
