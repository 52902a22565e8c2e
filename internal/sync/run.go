package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/fclairamb/yachtsync/internal/apperrors"
	"github.com/fclairamb/yachtsync/internal/jobstate"
)

// run is one execution of a job, from lock acquisition to its terminal state.
type run struct {
	e        *Engine
	kind     jobstate.Kind
	state    *jobstate.State
	owner    string
	progress *jobstate.Progress
	watchdog *watchdog
	commits  *commitTracker

	lastHeartbeat time.Time
	// inItem is set while an item is being processed.
	inItem bool
	// finish runs once the outcome is known, before the lock is released.
	// It is not called when the lock was lost.
	finish func(ctx context.Context, outcome Outcome)
	// summary renders job specific counters for status lines.
	summary func() string
}

type body func(r *run, ctx context.Context) error

func (e *Engine) execute(ctx context.Context, kind jobstate.Kind, mode Mode, fn body) (res *Result) {
	state := e.State(kind)
	res = &Result{Job: kind}

	r := &run{
		e:        e,
		kind:     kind,
		state:    state,
		owner:    uuid.NewString(),
		progress: &jobstate.Progress{},
		commits:  newCommitTracker(e.commitPeriod, e.now),
	}

	previous := ""
	if ar, err := state.AutoResume(ctx); err != nil {
		e.logger.WarnContext(ctx, "could not read auto-resume marker", "job", kind, "error", err)
	} else if ar != nil {
		previous = ar.Owner
	}

	reclaimed, err := state.TakeOverLock(ctx, previous, r.owner, e.settings.LockTTL)
	if err != nil {
		res.Err = err
		res.Outcome = OutcomeFailed
		if errors.Is(err, apperrors.ErrLockConflict) {
			res.Outcome = OutcomeLockConflict
		}
		e.logger.WarnContext(ctx, "run not started", "job", kind, "outcome", res.Outcome, "error", err)
		e.metrics.ObserveRun(string(kind), string(res.Outcome))
		return res
	}
	r.lastHeartbeat = e.now()

	if reclaimed {
		if previous != "" {
			state.Logf(ctx, slog.LevelInfo, "resuming interrupted run %s", previous)
		} else {
			state.Logf(ctx, slog.LevelWarn, "reclaimed a stale lock")
		}
	}

	if mode == ModeStart {
		if err := state.ClearStop(ctx); err != nil {
			e.logger.WarnContext(ctx, "could not clear stop flag", "job", kind, "error", err)
		}
	}
	if err := state.ClearAutoResume(ctx); err != nil {
		e.logger.WarnContext(ctx, "could not clear auto-resume marker", "job", kind, "error", err)
	}

	r.watchdog = newWatchdog(e.now, e.settings.MaxRunTime, e.settings.RunTimeMargin, e.settings.MemoryRatio)

	e.logger.InfoContext(ctx, "run started", "job", kind, "mode", mode, "owner", r.owner)

	defer r.guard(ctx, res)

	res.Err = fn(r, ctx)
	return res
}

// guard resolves every way out of a run, panics included, into a terminal
// state.
func (r *run) guard(ctx context.Context, res *Result) {
	if p := recover(); p != nil {
		r.e.logger.ErrorContext(ctx, "run panicked", "job", r.kind, "panic", p, "stack", string(debug.Stack()))
		res.Err = fmt.Errorf("%w: panic: %v", apperrors.ErrRunInterrupted, p)
	}

	if r.inItem {
		// The item is retried on resume.
		r.progress.Attempted--
		r.inItem = false
	}

	err := res.Err
	switch {
	case err == nil:
		res.Outcome = OutcomeCompleted
	case errors.Is(err, apperrors.ErrLockLost):
		res.Outcome = OutcomeLockLost
	case errors.Is(err, apperrors.ErrStopRequested):
		res.Outcome = OutcomeStopped
	default:
		res.Outcome = OutcomeInterrupted
	}
	res.Progress = r.snapshot()

	r.e.metrics.ObserveRun(string(r.kind), string(res.Outcome))

	if res.Outcome == OutcomeLockLost {
		// Another run owns the shared state now.
		r.e.logger.WarnContext(ctx, "run lost its lock", "job", r.kind, "owner", r.owner)
		return
	}

	ctx = context.WithoutCancel(ctx)

	if r.finish != nil {
		r.finish(ctx, res.Outcome)
	}
	r.commit(ctx, string(res.Outcome), true)

	r.progress.Update(r.e.now())
	if err := r.state.SaveProgress(ctx, r.progress); err != nil {
		r.e.logger.ErrorContext(ctx, "could not save progress", "job", r.kind, "error", err)
	}
	res.Progress = r.snapshot()

	switch res.Outcome {
	case OutcomeCompleted:
		r.setStatus(ctx, fmt.Sprintf("completed: %s", r.statusLine()))
		r.state.Logf(ctx, slog.LevelInfo, "%s completed: %s", r.kind, r.statusLine())
		if err := r.state.ClearStop(ctx); err != nil {
			r.e.logger.WarnContext(ctx, "could not clear stop flag", "error", err)
		}
		r.release(ctx)

	case OutcomeStopped:
		r.setStatus(ctx, fmt.Sprintf("stopped by user: %s", r.statusLine()))
		r.state.Logf(ctx, slog.LevelWarn, "%s stopped by user: %s", r.kind, r.statusLine())
		r.release(ctx)

	case OutcomeInterrupted:
		reason := err.Error()
		r.setStatus(ctx, fmt.Sprintf("interrupted (%s), will resume: %s", reason, r.statusLine()))
		r.state.Logf(ctx, slog.LevelError, "%s interrupted: %s", r.kind, reason)
		ar := &jobstate.AutoResume{
			At:     r.e.now(),
			Owner:  r.owner,
			LastID: r.progress.LastID,
			Reason: reason,
		}
		if err := r.state.SetAutoResume(ctx, ar); err != nil {
			r.e.logger.ErrorContext(ctx, "could not set auto-resume marker", "job", r.kind, "error", err)
		}
		// The lock is kept for the resuming run to take over.
	}

	r.e.logger.InfoContext(ctx, "run finished", "job", r.kind, "outcome", res.Outcome,
		"attempted", r.progress.Attempted, "processed", r.progress.Processed, "failed", r.progress.Failed)
}

func (r *run) release(ctx context.Context) {
	if err := r.state.ReleaseLock(ctx, r.owner); err != nil {
		r.e.logger.WarnContext(ctx, "could not release lock", "job", r.kind, "error", err)
	}
}

func (r *run) snapshot() *jobstate.Progress {
	p := *r.progress
	return &p
}

// checkpoint ends the run when it was cancelled, stopped, lost its lock or
// ran into a resource limit.
func (r *run) checkpoint(ctx context.Context) error {
	if err := r.quickCheck(ctx); err != nil {
		return err
	}
	return r.checkLock(ctx)
}

// quickCheck is the part of checkpoint that delays poll.
func (r *run) quickCheck(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrRunInterrupted, context.Cause(ctx))
	}
	if err := r.watchdog.check(); err != nil {
		return err
	}
	stop, err := r.state.IsStopRequested(ctx)
	if err != nil {
		return fmt.Errorf("%w: read stop flag: %w", apperrors.ErrRunInterrupted, err)
	}
	if stop {
		return apperrors.ErrStopRequested
	}
	return nil
}

// checkLock verifies ownership, refreshing the heartbeat when it is due.
func (r *run) checkLock(ctx context.Context) error {
	now := r.e.now()
	if now.Sub(r.lastHeartbeat) >= r.heartbeatInterval() {
		if err := r.state.Heartbeat(ctx, r.owner); err != nil {
			if errors.Is(err, apperrors.ErrLockLost) {
				return err
			}
			return fmt.Errorf("%w: heartbeat: %w", apperrors.ErrRunInterrupted, err)
		}
		r.lastHeartbeat = now
		return nil
	}

	l, err := r.state.Lock(ctx)
	if err != nil {
		return fmt.Errorf("%w: read lock: %w", apperrors.ErrRunInterrupted, err)
	}
	if l == nil || l.Owner != r.owner {
		return apperrors.ErrLockLost
	}
	return nil
}

func (r *run) heartbeatInterval() time.Duration {
	return max(r.e.settings.LockTTL/4, time.Second)
}

// isRunLevel reports whether err ends the run rather than the item.
func (r *run) isRunLevel(ctx context.Context, err error) bool {
	return apperrors.IsRunLevel(err) || ctx.Err() != nil
}

// process works through ids in batches, pausing between items and batches.
func (r *run) process(ctx context.Context, ids []int64, fn func(ctx context.Context, id int64) error) error {
	size := r.e.settings.BatchSize

	for start := 0; start < len(ids); start += size {
		if err := r.checkpoint(ctx); err != nil {
			return err
		}

		end := min(start+size, len(ids))
		for i := start; i < end; i++ {
			if err := r.checkpoint(ctx); err != nil {
				return err
			}
			if err := r.step(ctx, ids[i], fn); err != nil {
				return err
			}
			if i < end-1 {
				if err := r.sleep(ctx, r.e.settings.ItemDelay); err != nil {
					return err
				}
			}
		}

		r.commit(ctx, "periodic", false)

		if end < len(ids) {
			if err := r.sleep(ctx, r.e.settings.BatchDelay); err != nil {
				return err
			}
		}
	}

	return nil
}

// step processes one item and persists the counters. Item failures are
// counted and logged; only run level errors are returned.
func (r *run) step(ctx context.Context, id int64, fn func(ctx context.Context, id int64) error) error {
	r.progress.Attempted++
	r.inItem = true
	start := r.e.now()

	err := fn(ctx, id)
	if err != nil && r.isRunLevel(ctx, err) {
		r.progress.Attempted--
		r.inItem = false
		return err
	}
	r.inItem = false

	outcome := "processed"
	if err != nil {
		r.progress.Failed++
		outcome = string(apperrors.KindOf(err))
		r.state.Logf(ctx, slog.LevelWarn, "item %d failed (%s): %v", id, outcome, err)
	} else {
		r.progress.Processed++
	}
	r.progress.LastID = id
	r.progress.Cursor++
	r.e.metrics.ObserveItem(string(r.kind), outcome, r.e.now().Sub(start))

	// The lock may have been reclaimed while the item ran.
	if err := r.checkLock(ctx); err != nil {
		return err
	}
	return r.persist(ctx)
}

// persist saves the counters and the status line.
func (r *run) persist(ctx context.Context) error {
	r.progress.Update(r.e.now())
	if err := r.state.SaveProgress(ctx, r.progress); err != nil {
		return fmt.Errorf("%w: save progress: %w", apperrors.ErrRunInterrupted, err)
	}
	r.setStatus(ctx, "running: "+r.statusLine())
	r.e.metrics.SetProgress(string(r.kind), r.progress.Percent)
	return nil
}

func (r *run) setStatus(ctx context.Context, msg string) {
	if err := r.state.SetStatus(ctx, msg); err != nil {
		r.e.logger.WarnContext(ctx, "could not save status", "job", r.kind, "error", err)
	}
}

func (r *run) statusLine() string {
	p := r.progress
	line := fmt.Sprintf("%d/%d attempted, %d processed, %d failed (%.2f%%)",
		p.Attempted, p.Total, p.Processed, p.Failed, p.Percent)
	if r.summary != nil {
		line += ", " + r.summary()
	}
	return line
}
