package sync

import (
	"fmt"
	"math"
	"runtime/debug"
	rtmetrics "runtime/metrics"
	"time"

	"github.com/fclairamb/yachtsync/internal/apperrors"
)

const heapMetric = "/memory/classes/heap/objects:bytes"

// watchdog interrupts a run before the process hits its time budget or its
// memory limit, so that the run ends resumable instead of being killed.
type watchdog struct {
	now      func() time.Time
	deadline time.Time
	heapCap  uint64
	heap     func() uint64
}

func newWatchdog(now func() time.Time, maxRunTime, margin time.Duration, memoryRatio float64) *watchdog {
	w := &watchdog{now: now, heap: readHeap}

	if maxRunTime > 0 {
		w.deadline = now().Add(max(maxRunTime-margin, 0))
	}
	w.setHeapCap(debug.SetMemoryLimit(-1), memoryRatio)

	return w
}

// setHeapCap arms the heap check at ratio of limit. No limit disables it.
func (w *watchdog) setHeapCap(limit int64, ratio float64) {
	if ratio <= 0 || limit <= 0 || limit == math.MaxInt64 {
		w.heapCap = 0
		return
	}
	w.heapCap = uint64(float64(limit) * ratio)
}

func readHeap() uint64 {
	sample := []rtmetrics.Sample{{Name: heapMetric}}
	rtmetrics.Read(sample)
	if sample[0].Value.Kind() != rtmetrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

func (w *watchdog) check() error {
	if !w.deadline.IsZero() && !w.now().Before(w.deadline) {
		return fmt.Errorf("%w: run time budget reached", apperrors.ErrRunInterrupted)
	}

	if w.heapCap > 0 {
		if heap := w.heap(); heap >= w.heapCap {
			return fmt.Errorf("%w: heap at %d bytes, limit share %d", apperrors.ErrRunInterrupted, heap, w.heapCap)
		}
	}

	return nil
}
