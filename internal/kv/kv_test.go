package kv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclairamb/yachtsync/internal/apperrors"
)

func runContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "import_lock")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, s.Put(ctx, "import_lock", []byte(`{"owner":"a"}`)))
	v, err := s.Get(ctx, "import_lock")
	require.NoError(t, err)
	assert.JSONEq(t, `{"owner":"a"}`, string(v))

	// Update sees the current value.
	err = s.Update(ctx, "import_lock", func(cur []byte, exists bool) ([]byte, error) {
		assert.True(t, exists)
		assert.JSONEq(t, `{"owner":"a"}`, string(cur))
		return []byte(`{"owner":"b"}`), nil
	})
	require.NoError(t, err)

	// ErrNoChange writes nothing and is not an error.
	err = s.Update(ctx, "import_lock", func([]byte, bool) ([]byte, error) {
		return nil, ErrNoChange
	})
	require.NoError(t, err)
	v, err = s.Get(ctx, "import_lock")
	require.NoError(t, err)
	assert.JSONEq(t, `{"owner":"b"}`, string(v))

	// Other errors are returned as is.
	boom := errors.New("boom")
	err = s.Update(ctx, "import_lock", func([]byte, bool) ([]byte, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	// Returning nil deletes.
	require.NoError(t, s.Update(ctx, "import_lock", func([]byte, bool) ([]byte, error) {
		return nil, nil
	}))
	_, err = s.Get(ctx, "import_lock")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	// Missing keys.
	require.NoError(t, s.Update(ctx, "fresh", func(_ []byte, exists bool) ([]byte, error) {
		assert.False(t, exists)
		return []byte(`1`), nil
	}))
	require.NoError(t, s.Delete(ctx, "fresh"))
	require.NoError(t, s.Delete(ctx, "never"))

	// Prefix listing.
	for i := range 3 {
		require.NoError(t, s.Put(ctx, fmt.Sprintf("import_worklist/%08d", i), []byte(`[]`)))
	}
	require.NoError(t, s.Put(ctx, "daily_sync_worklist/00000000", []byte(`[]`)))
	keys, err := s.List(ctx, "import_worklist/")
	require.NoError(t, err)
	assert.Equal(t, []string{"import_worklist/00000000", "import_worklist/00000001", "import_worklist/00000002"}, keys)
}

func runConcurrentUpdates(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			err := s.Update(ctx, "counter", func(cur []byte, _ bool) ([]byte, error) {
				return append(cur, 'x'), nil
			})
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	v, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Len(t, v, 20)
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	runContract(t, NewMemoryStore())
	runConcurrentUpdates(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	t.Parallel()

	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	runContract(t, s)
	runConcurrentUpdates(t, s)
}

func TestFileStore_SharedDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a, err := NewFileStore(dir)
	require.NoError(t, err)
	b, err := NewFileStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Put(ctx, "daily_sync_stop_flag", []byte(`"now"`)))
	v, err := b.Get(ctx, "daily_sync_stop_flag")
	require.NoError(t, err)
	assert.Equal(t, `"now"`, string(v))
}

func TestFileStore_RejectsEscapingKeys(t *testing.T) {
	t.Parallel()

	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../x", "/etc/passwd", "a/../../b", "a//b"} {
		require.ErrorIs(t, s.Put(context.Background(), key, []byte("1")), ErrInvalidKey, key)
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("YS_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("YS_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := NewPostgresStore(pool)
	require.NoError(t, s.Migrate(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE yachtsync_kv`)
	require.NoError(t, err)

	runContract(t, s)
	runConcurrentUpdates(t, s)
}
