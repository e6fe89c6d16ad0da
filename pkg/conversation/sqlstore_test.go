package conversation

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLStore(db, "sqlite")
	require.NoError(t, err)
	return store
}

func TestSQLStore_AppendAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1, err := store.Append(ctx, "t1", "a1", "c1", "user", "hello", false, time.Time{})
	require.NoError(t, err)
	id2, err := store.Append(ctx, "t1", "a1", "c1", "assistant", "hi back", false, time.Time{})
	require.NoError(t, err)
	require.Greater(t, id2, id1)

	items, total, err := store.List(ctx, "t1", "a1", "c1", 0, 0, false)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, items, 2)
	require.Equal(t, "hello", items[0].Message)
	require.Equal(t, "hi back", items[1].Message)
}

func TestSQLStore_ListNewestFirstAndPaging(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, msg := range []string{"one", "two", "three"} {
		_, err := store.Append(ctx, "t1", "a1", "c1", "user", msg, false, time.Time{})
		require.NoError(t, err)
	}

	items, total, err := store.List(ctx, "t1", "a1", "c1", 2, 0, true)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, items, 2)
	require.Equal(t, "three", items[0].Message)
	require.Equal(t, "two", items[1].Message)
}

func TestSQLStore_UpdateAndDeleteMessage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Append(ctx, "t1", "a1", "c1", "user", "original", false, time.Time{})
	require.NoError(t, err)

	require.NoError(t, store.UpdateMessage(ctx, "t1", "a1", "c1", id, "edited"))
	items, _, err := store.List(ctx, "t1", "a1", "c1", 0, 0, false)
	require.NoError(t, err)
	require.Equal(t, "edited", items[0].Message)
	require.Equal(t, id, items[0].ID)

	require.NoError(t, store.DeleteMessage(ctx, "t1", "a1", "c1", id))
	items, total, err := store.List(ctx, "t1", "a1", "c1", 0, 0, false)
	require.NoError(t, err)
	require.Equal(t, 0, total)
	require.Empty(t, items)
}

func TestSQLStore_DeleteConversation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, "t1", "a1", "c1", "user", "x", false, time.Time{})
	require.NoError(t, err)

	require.NoError(t, store.DeleteConversation(ctx, "t1", "a1", "c1"))
	_, total, err := store.List(ctx, "t1", "a1", "c1", 0, 0, false)
	require.NoError(t, err)
	require.Equal(t, 0, total)
}

func TestSQLStore_RenameRejectsCollision(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, "t1", "a1", "c1", "user", "x", false, time.Time{})
	require.NoError(t, err)
	_, err = store.Append(ctx, "t1", "a1", "c2", "user", "y", false, time.Time{})
	require.NoError(t, err)

	require.Error(t, store.Rename(ctx, "t1", "a1", "c1", "c2"))

	require.NoError(t, store.Rename(ctx, "t1", "a1", "c1", "c3"))
	_, total, err := store.List(ctx, "t1", "a1", "c3", 0, 0, false)
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

func TestSQLStore_ScopeIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, "t1", "a1", "c1", "user", "tenant one", false, time.Time{})
	require.NoError(t, err)
	_, err = store.Append(ctx, "t2", "a1", "c1", "user", "tenant two", false, time.Time{})
	require.NoError(t, err)

	items, total, err := store.List(ctx, "t1", "a1", "c1", 0, 0, false)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "tenant one", items[0].Message)
}
