package catalog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclairamb/yachtsync/internal/apperrors"
	"github.com/fclairamb/yachtsync/internal/store"
	"github.com/fclairamb/yachtsync/internal/vessel"
)

// runContract exercises the behavior every backend must share.
func runContract(t *testing.T, c Catalog) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Empty catalog.
	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = c.Get(ctx, "vessel-1")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	// Create under the canonical key.
	rec := &vessel.Record{
		Identity:    vessel.Identity{VesselID: 1, MLSID: "9001"},
		Name:        vessel.Ptr("Blue Horizon"),
		Active:      true,
		LastUpdated: now,
	}
	id, err := c.Upsert(ctx, "", rec)
	require.NoError(t, err)
	assert.Equal(t, "vessel-1", id)

	mlsOnly := &vessel.Record{Identity: vessel.Identity{MLSID: "42"}, Active: true, LastUpdated: now}
	mlsStored, err := c.Upsert(ctx, "", mlsOnly)
	require.NoError(t, err)
	assert.Equal(t, "mls-42", mlsStored)

	// Point lookups.
	got, ok, err := c.FindByVesselID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "vessel-1", got)

	got, ok, err = c.FindByMLSID(ctx, "9001")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "vessel-1", got)

	_, ok, err = c.FindByVesselID(ctx, 404)
	require.NoError(t, err)
	assert.False(t, ok)

	// An MLS-first record keeps its stored ID when a vessel ID shows up.
	mlsOnly.Identity.VesselID = 77
	again, err := c.Upsert(ctx, mlsStored, mlsOnly)
	require.NoError(t, err)
	assert.Equal(t, "mls-42", again)

	idx, err := c.BulkIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())
	s, ok := idx.Lookup(vessel.Identity{VesselID: 77})
	assert.True(t, ok)
	assert.Equal(t, "mls-42", s)
	assert.True(t, idx.ContainsKey(1))
	assert.False(t, idx.ContainsKey(9001))

	n, err = c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Soft remove keeps the data.
	removedAt := now.Add(time.Hour)
	require.NoError(t, c.MarkInactive(ctx, "vessel-1", removedAt))
	stored, err := c.Get(ctx, "vessel-1")
	require.NoError(t, err)
	assert.False(t, stored.Active)
	require.NotNil(t, stored.RemovedAt)
	assert.True(t, removedAt.Equal(*stored.RemovedAt))
	assert.Equal(t, "Blue Horizon", vessel.Deref(stored.Name))

	require.ErrorIs(t, c.MarkInactive(ctx, "vessel-404", removedAt), apperrors.ErrNotFound)
}

func TestMemoryCatalog(t *testing.T) {
	t.Parallel()
	runContract(t, NewMemoryCatalog())
}

func TestFileCatalog(t *testing.T) {
	t.Parallel()

	st, err := store.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	c := NewFileCatalog(st)

	runContract(t, c)
	require.NoError(t, c.Commit(context.Background(), "contract"))
}

// recordingStore records the files each transaction applies.
type recordingStore struct {
	store.Store
	applied [][]string
}

type recordingTx struct {
	store.Transaction
	parent *recordingStore
	paths  []string
}

func (s *recordingStore) BeginTx(ctx context.Context) (store.Transaction, error) {
	tx, err := s.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return &recordingTx{Transaction: tx, parent: s}, nil
}

func (t *recordingTx) Write(path string, content []byte) error {
	t.paths = append(t.paths, path)
	return t.Transaction.Write(path, content)
}

func (t *recordingTx) Apply(ctx context.Context) error {
	t.parent.applied = append(t.parent.applied, t.paths)
	return t.Transaction.Apply(ctx)
}

func TestFileCatalog_UpsertAppliesRecordAndAliasesTogether(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	local, err := store.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	st := &recordingStore{Store: local}
	c := NewFileCatalog(st)

	_, err = c.Upsert(ctx, "", &vessel.Record{Identity: vessel.Identity{VesselID: 5, MLSID: "A-1"}, Active: true})
	require.NoError(t, err)

	require.Len(t, st.applied, 1)
	assert.Equal(t, []string{
		"vessels/vessel-5.json",
		".yachtsync/ids/vessel-5.json",
		".yachtsync/ids/mls-A-1.json",
	}, st.applied[0])
}

func TestFileCatalog_RejectsPathLikeIdentifiers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st, err := store.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	c := NewFileCatalog(st)

	for _, mls := range []string{"../../x", `a\b`, "a/b", ".."} {
		_, err := c.Upsert(ctx, "", &vessel.Record{Identity: vessel.Identity{VesselID: 8, MLSID: mls}})
		require.ErrorIs(t, err, apperrors.ErrStoreWrite, mls)
	}

	_, err = c.Upsert(ctx, "../escape", &vessel.Record{Identity: vessel.Identity{VesselID: 8}})
	require.ErrorIs(t, err, apperrors.ErrStoreWrite)

	// Nothing was written.
	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = st.Read(ctx, ".yachtsync/x.json")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, ok, err := c.FindByMLSID(ctx, "../../x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresCatalog(t *testing.T) {
	dsn := os.Getenv("YS_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("YS_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	c := NewPostgresCatalog(pool)
	require.NoError(t, c.Migrate(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE vessels`)
	require.NoError(t, err)

	runContract(t, c)
}

func TestIndex_LookupOrder(t *testing.T) {
	t.Parallel()

	idx := NewIndex()
	idx.Add(vessel.Identity{VesselID: 10}, "vessel-10")
	idx.Add(vessel.Identity{MLSID: "500"}, "mls-500")

	tests := []struct {
		name string
		id   vessel.Identity
		want string
		ok   bool
	}{
		{"vessel hit", vessel.Identity{VesselID: 10}, "vessel-10", true},
		{"vessel miss falls back to mls", vessel.Identity{VesselID: 11, MLSID: "500"}, "mls-500", true},
		{"vessel miss without mls", vessel.Identity{VesselID: 11}, "", false},
		{"mls only", vessel.Identity{MLSID: "500"}, "mls-500", true},
		{"mls miss", vessel.Identity{MLSID: "10"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := idx.Lookup(tt.id)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	var empty *Index
	_, ok := empty.Lookup(vessel.Identity{VesselID: 1})
	assert.False(t, ok)
	assert.Zero(t, empty.Len())
}
