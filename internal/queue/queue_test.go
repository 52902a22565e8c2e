package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclairamb/yachtsync/internal/kv"
)

func TestManager_SaveLoadClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kv.NewMemoryStore()
	qm := NewManager(store, "import_worklist/", nil)

	_, ok, err := qm.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ids := make([]int64, 1234)
	for i := range ids {
		ids[i] = int64(1000 + i)
	}
	require.NoError(t, qm.Save(ctx, ids))

	keys, err := store.List(ctx, "import_worklist/")
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	got, ok, err := qm.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ids, got)

	// Saving a shorter list drops the extra chunks.
	require.NoError(t, qm.Save(ctx, ids[:10]))
	got, _, err = qm.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids[:10], got)

	require.NoError(t, qm.Clear(ctx))
	_, ok, err = qm.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_PrefixesAreIsolated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kv.NewMemoryStore()
	imp := NewManager(store, "import_worklist/", nil)
	daily := NewManager(store, "daily_sync_worklist/", nil)

	require.NoError(t, imp.Save(ctx, []int64{1, 2}))
	require.NoError(t, daily.Save(ctx, []int64{3}))
	require.NoError(t, daily.Clear(ctx))

	got, ok, err := imp.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int64{1, 2}, got)
}

func TestManager_EmptyListIsNotStored(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	qm := NewManager(kv.NewMemoryStore(), "import_worklist/", nil)
	require.NoError(t, qm.Save(ctx, nil))

	_, ok, err := qm.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
