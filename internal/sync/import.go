package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fclairamb/yachtsync/internal/apperrors"
	"github.com/fclairamb/yachtsync/internal/catalog"
	"github.com/fclairamb/yachtsync/internal/jobstate"
	"github.com/fclairamb/yachtsync/internal/queue"
	"github.com/fclairamb/yachtsync/internal/upsert"
)

// importAll enumerates the active listings, drops those already stored and
// imports the rest. A persisted work list from an interrupted run is resumed
// from its cursor instead.
func (r *run) importAll(ctx context.Context) error {
	worklist := queue.NewManager(r.state.Store(), r.state.WorklistPrefix(), r.e.logger)
	r.finish = func(ctx context.Context, outcome Outcome) {
		if outcome == OutcomeInterrupted {
			return
		}
		if err := worklist.Clear(ctx); err != nil {
			r.e.logger.WarnContext(ctx, "could not clear work list", "error", err)
		}
	}

	idx, err := r.e.catalog.BulkIndex(ctx)
	if err != nil {
		return fmt.Errorf("%w: build index: %w", apperrors.ErrRunInterrupted, err)
	}

	ids, resumed, err := worklist.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: load work list: %w", apperrors.ErrRunInterrupted, err)
	}

	if resumed {
		prev, err := r.state.Progress(ctx)
		if err != nil {
			return fmt.Errorf("%w: load progress: %w", apperrors.ErrRunInterrupted, err)
		}
		if prev != nil && prev.Total == len(ids) {
			r.progress = prev
		} else {
			r.progress.Total = len(ids)
		}
		r.progress.Cursor = min(r.progress.Cursor, len(ids))
		r.state.Logf(ctx, slog.LevelInfo, "resuming import at item %d of %d", r.progress.Cursor, len(ids))
	} else {
		if err := r.checkpoint(ctx); err != nil {
			return err
		}

		all, err := r.e.remote.ListActiveIDs(ctx)
		if err != nil {
			return fmt.Errorf("%w: list active listings: %w", apperrors.ErrRunInterrupted, err)
		}

		var present int
		ids, present = filterPresent(all, idx)
		r.progress.Total = len(ids)
		r.progress.TotalFromSource = len(all)
		r.progress.AlreadyPresent = present

		if err := worklist.Save(ctx, ids); err != nil {
			return fmt.Errorf("%w: save work list: %w", apperrors.ErrRunInterrupted, err)
		}
		r.state.Logf(ctx, slog.LevelInfo, "import of %d listings: %d active, %d already present",
			len(ids), len(all), present)
	}

	if err := r.persist(ctx); err != nil {
		return err
	}

	return r.process(ctx, ids[r.progress.Cursor:], func(ctx context.Context, id int64) error {
		_, err := r.importOne(ctx, idx, id)
		return err
	})
}

// filterPresent returns the distinct IDs of all that idx does not know, in
// enumeration order, and how many it knows.
func filterPresent(all []int64, idx *catalog.Index) ([]int64, int) {
	seen := make(map[int64]bool, len(all))
	todo := make([]int64, 0, len(all))
	present := 0

	for _, id := range all {
		if seen[id] {
			continue
		}
		seen[id] = true
		if idx.ContainsKey(id) {
			present++
			continue
		}
		todo = append(todo, id)
	}

	return todo, present
}

// importOne runs the resolve, normalize and upsert path for one lookup key.
func (r *run) importOne(ctx context.Context, idx *catalog.Index, lookupKey int64) (*upsert.Outcome, error) {
	return r.e.importKey(ctx, idx, lookupKey, r.checkpoint)
}

func (e *Engine) importKey(
	ctx context.Context, idx *catalog.Index, lookupKey int64, checkpoint func(context.Context) error,
) (*upsert.Outcome, error) {
	res, err := e.resolver.Resolve(ctx, lookupKey, checkpoint)
	if err != nil {
		return nil, err
	}

	rec, err := e.normalizer.Normalize(res.Payload, res.Identity)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", res.Identity, err)
	}

	return e.upsert.Apply(ctx, idx, rec)
}

// ImportOne imports a single lookup key outside of any job run. It takes no
// lock and leaves the job state alone apart from the activity log.
func (e *Engine) ImportOne(ctx context.Context, lookupKey int64) (*upsert.Outcome, error) {
	state := e.State(jobstate.KindImport)

	outcome, err := e.importKey(ctx, nil, lookupKey, nil)
	if err != nil {
		state.Logf(ctx, slog.LevelWarn, "single import of %d failed (%s): %v", lookupKey, apperrors.KindOf(err), err)
		return nil, err
	}

	state.Logf(ctx, slog.LevelInfo, "single import of %d stored as %s (created=%t, changed=%t)",
		lookupKey, outcome.StoredID, outcome.Created, outcome.Changed)
	e.commitAndPush(ctx, fmt.Sprintf("import %d", lookupKey))

	return outcome, nil
}
