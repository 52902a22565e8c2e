package sync

import (
	"context"
	"time"
)

// sleep waits for d in DelayStep increments, returning early with the error
// of the first failing check.
func (r *run) sleep(ctx context.Context, d time.Duration) error {
	step := r.e.settings.DelayStep

	for d > 0 {
		wait := min(step, d)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
		d -= wait

		if err := r.quickCheck(ctx); err != nil {
			return err
		}
	}

	return nil
}
