package sync

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclairamb/yachtsync/internal/apperrors"
)

func TestWatchdog_HeapShare(t *testing.T) {
	t.Parallel()

	heap := uint64(800)
	w := &watchdog{now: time.Now, heap: func() uint64 { return heap }}
	w.setHeapCap(1000, 0.9)
	assert.Equal(t, uint64(900), w.heapCap)
	require.NoError(t, w.check())

	heap = 900
	err := w.check()
	require.ErrorIs(t, err, apperrors.ErrRunInterrupted)
	assert.Contains(t, err.Error(), "heap at 900 bytes")
}

func TestWatchdog_NoLimitDisablesHeapCheck(t *testing.T) {
	t.Parallel()

	for _, limit := range []int64{0, math.MaxInt64} {
		w := &watchdog{now: time.Now, heap: func() uint64 { return math.MaxUint64 }}
		w.setHeapCap(limit, 0.9)
		require.NoError(t, w.check())
	}

	w := &watchdog{now: time.Now, heap: func() uint64 { return math.MaxUint64 }}
	w.setHeapCap(1000, 0)
	require.NoError(t, w.check())
}

func TestWatchdog_ReadsRuntimeHeap(t *testing.T) {
	t.Parallel()

	// Any live heap exceeds a cap of a few bytes.
	w := &watchdog{now: time.Now, heap: readHeap}
	w.setHeapCap(4, 1)
	require.ErrorIs(t, w.check(), apperrors.ErrRunInterrupted)
	assert.Positive(t, readHeap())
}

func TestWatchdog_Deadline(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	w := newWatchdog(clock.now, time.Hour, 10*time.Minute, 0)
	require.NoError(t, w.check())

	clock.t = clock.t.Add(49 * time.Minute)
	require.NoError(t, w.check())

	clock.t = clock.t.Add(time.Minute)
	require.ErrorIs(t, w.check(), apperrors.ErrRunInterrupted)
}
