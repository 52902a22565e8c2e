package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	pushMaxTries     = 4
	pushInitialDelay = 5 * time.Second
)

// commitTracker tracks time since last commit for periodic commits.
type commitTracker struct {
	now        func() time.Time
	lastCommit time.Time
	period     time.Duration
}

func newCommitTracker(period time.Duration, now func() time.Time) *commitTracker {
	return &commitTracker{
		now:        now,
		lastCommit: now(),
		period:     period,
	}
}

// shouldCommit returns true if enough time has passed since last commit.
func (t *commitTracker) shouldCommit() bool {
	if t.period == 0 {
		return false
	}
	return t.now().Sub(t.lastCommit) >= t.period
}

func (t *commitTracker) markCommitted() {
	t.lastCommit = t.now()
}

// commit commits the catalog when a period elapsed, or always when final is
// set. Commit and push failures are logged and never end a run.
func (r *run) commit(ctx context.Context, reason string, final bool) {
	if r.e.committer == nil || (!final && !r.commits.shouldCommit()) {
		return
	}
	r.commits.markCommitted()
	r.e.commitAndPush(ctx, fmt.Sprintf("%s %s", r.kind, reason))
}

func (e *Engine) commitAndPush(ctx context.Context, reason string) {
	if e.committer == nil {
		return
	}

	message := fmt.Sprintf("[yachtsync] %s at %s", reason, e.now().Format(time.RFC3339))
	if err := e.committer.Commit(ctx, message); err != nil {
		e.logger.WarnContext(ctx, "failed to commit changes", "error", err, "reason", reason)
		return
	}

	if !e.push {
		return
	}
	if err := e.pushWithRetry(ctx); err != nil {
		e.logger.WarnContext(ctx, "failed to push changes", "error", err, "reason", reason)
	}
}

func (e *Engine) pushWithRetry(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = pushInitialDelay

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := e.committer.Push(ctx); err != nil {
			e.logger.WarnContext(ctx, "push failed", "attempt", attempt, "max_attempts", pushMaxTries, "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(pushMaxTries))
	if err != nil {
		return fmt.Errorf("push failed after %d attempts: %w", attempt, err)
	}
	return nil
}
