package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclairamb/yachtsync/internal/catalog"
	"github.com/fclairamb/yachtsync/internal/jobstate"
	"github.com/fclairamb/yachtsync/internal/vessel"
	"github.com/fclairamb/yachtsync/internal/yachtapi/yachtapitest"
)

func indexOf(ids ...int64) *catalog.Index {
	idx := catalog.NewIndex()
	for _, id := range ids {
		idx.Add(vessel.Identity{VesselID: id}, vessel.Identity{VesselID: id}.Key())
	}
	return idx
}

func TestComputeDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		known   []int64
		current []int64
		stored  []int64
		want    Diff
	}{
		{
			name:    "new listing not yet stored",
			known:   []int64{1, 2, 3},
			current: []int64{2, 3, 4},
			stored:  []int64{1, 2, 3},
			want:    Diff{Removed: []int64{1}, New: []int64{4}, Existing: []int64{2, 3}},
		},
		{
			name:    "listing imported out of band is compared, not imported",
			known:   []int64{1, 2, 3},
			current: []int64{2, 3, 4},
			stored:  []int64{1, 2, 3, 4},
			want:    Diff{Removed: []int64{1}, Existing: []int64{2, 3, 4}},
		},
		{
			name:    "known but never stored stays out",
			known:   []int64{5},
			current: []int64{5, 6},
			want:    Diff{New: []int64{6}},
		},
		{
			name:    "stored but never known is removed",
			current: []int64{1, 2},
			stored:  []int64{1, 2, 3},
			want:    Diff{Removed: []int64{3}, Existing: []int64{1, 2}},
		},
		{
			name:    "first run has nothing to remove",
			current: []int64{1, 2, 2},
			stored:  []int64{2},
			want:    Diff{New: []int64{1}, Existing: []int64{2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ComputeDiff(tt.known, tt.current, indexOf(tt.stored...)))
		})
	}
}

func TestRunDailySync_AppliesDelta(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	f.addListings(1, 3)

	for id := int64(1); id <= 3; id++ {
		_, err := f.engine.ImportOne(ctx, id)
		require.NoError(t, err)
	}
	state := f.engine.State(jobstate.KindDailySync)
	require.NoError(t, state.SaveKnownIDs(ctx, []int64{1, 2, 3}))

	repriced := yachtapitest.Viable(2)
	repriced.PriceUSD = 690000
	f.remote.SetPayload(2, repriced.JSON())
	aged := yachtapitest.Viable(3)
	aged.DaysOnMkt = 11
	f.remote.SetPayload(3, aged.JSON())
	f.remote.SetPayload(4, yachtapitest.Viable(4).JSON())
	f.remote.SetActive(2, 3, 4)

	res := f.engine.RunDailySync(ctx, ModeStart)
	require.Equal(t, OutcomeCompleted, res.Outcome)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Progress.Removed)
	assert.Equal(t, 1, res.Progress.New)
	assert.Equal(t, 1, res.Progress.PriceUpdates)
	assert.Equal(t, 1, res.Progress.DOMUpdates)
	assert.Equal(t, 4, res.Progress.Processed)

	one, err := f.catalog.Get(ctx, "vessel-1")
	require.NoError(t, err)
	assert.False(t, one.Active)
	assert.NotNil(t, one.RemovedAt)
	assert.Equal(t, "Vessel 1", vessel.Deref(one.Name), "soft-remove keeps the data")

	two, err := f.catalog.Get(ctx, "vessel-2")
	require.NoError(t, err)
	assert.InDelta(t, 690000.0, vessel.Deref(two.PriceUSD), 0.001)

	known, ok, err := state.KnownIDs(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int64{2, 3, 4}, known)

	history, err := state.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "2026-06-01", history[0].Date)
	assert.Equal(t, 1, history[0].Removed)
	assert.Equal(t, 1, history[0].New)
	assert.Equal(t, 1, history[0].PriceUpdates)
	assert.Equal(t, 1, history[0].DOMUpdates)

	// Nothing moved: no write and no history churn.
	writes := f.catalog.Writes()
	res = f.engine.RunDailySync(ctx, ModeStart)
	require.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, writes, f.catalog.Writes())

	history, err = state.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].New)
}

func TestRunDailySync_RemovesListingImportedBeforeFirstSync(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	f.addListings(1, 5)

	require.Equal(t, OutcomeCompleted, f.engine.RunImport(ctx, ModeStart).Outcome)

	f.remote.SetActive(1, 2, 4, 5)
	res := f.engine.RunDailySync(ctx, ModeStart)
	require.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 1, res.Progress.Removed)
	assert.Zero(t, res.Progress.New)

	three, err := f.catalog.Get(ctx, "vessel-3")
	require.NoError(t, err)
	assert.False(t, three.Active)
	assert.NotNil(t, three.RemovedAt)

	// Already inactive: the next sync leaves it alone.
	writes := f.catalog.Writes()
	res = f.engine.RunDailySync(ctx, ModeStart)
	require.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Zero(t, res.Progress.Removed)
	assert.Equal(t, writes, f.catalog.Writes())
}

func TestRunDailySync_ReactivatesReturningListing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	f.addListings(1, 2)

	for id := int64(1); id <= 2; id++ {
		_, err := f.engine.ImportOne(ctx, id)
		require.NoError(t, err)
	}
	state := f.engine.State(jobstate.KindDailySync)
	require.NoError(t, state.SaveKnownIDs(ctx, []int64{1, 2}))

	f.remote.SetActive(2)
	require.Equal(t, OutcomeCompleted, f.engine.RunDailySync(ctx, ModeStart).Outcome)

	f.remote.SetActive(1, 2)
	res := f.engine.RunDailySync(ctx, ModeStart)
	require.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Zero(t, res.Progress.New, "a stored listing is refreshed, not imported")

	one, err := f.catalog.Get(ctx, "vessel-1")
	require.NoError(t, err)
	assert.True(t, one.Active)
	assert.Nil(t, one.RemovedAt)
}

func TestRunDailySync_StopKeepsKnownIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	f.addListings(1, 4)
	state := f.engine.State(jobstate.KindDailySync)
	require.NoError(t, state.SaveKnownIDs(ctx, []int64{9}))

	f.remote.AfterFetch = func(_ int64, fetches int) {
		if fetches == 2 {
			assert.NoError(t, state.RequestStop(ctx))
		}
	}

	res := f.engine.RunDailySync(ctx, ModeStart)
	require.Equal(t, OutcomeStopped, res.Outcome)
	assert.Equal(t, 1, res.Progress.New)

	known, _, err := state.KnownIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{9}, known)

	history, err := state.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].New)
}
