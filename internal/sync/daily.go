package sync

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/fclairamb/yachtsync/internal/apperrors"
	"github.com/fclairamb/yachtsync/internal/catalog"
	"github.com/fclairamb/yachtsync/internal/jobstate"
)

// Diff is the classification of a daily sync.
type Diff struct {
	// Removed were known at the last completed sync or are stored, and are
	// no longer active.
	Removed []int64
	// New are active, were not known and are not stored.
	New []int64
	// Existing are active and stored.
	Existing []int64
}

// ComputeDiff classifies the current active IDs against the known ones and
// the catalog index. IDs that were known but never stored are neither new nor
// existing: they stay out until a full import picks them up. Stored IDs are
// removal candidates even when no sync saw them, so a listing imported and
// delisted before the first daily sync is still removed.
func ComputeDiff(known, current []int64, idx *catalog.Index) Diff {
	var d Diff

	active := make(map[int64]bool, len(current))
	for _, id := range current {
		active[id] = true
	}

	knownSet := make(map[int64]bool, len(known))
	for _, id := range known {
		knownSet[id] = true
	}

	candidates := make(map[int64]bool, len(knownSet))
	for id := range knownSet {
		candidates[id] = true
	}
	if idx != nil {
		for id := range idx.Vessel {
			candidates[id] = true
		}
	}
	for id := range candidates {
		if !active[id] {
			d.Removed = append(d.Removed, id)
		}
	}
	slices.Sort(d.Removed)

	seen := make(map[int64]bool, len(current))
	for _, id := range current {
		if seen[id] {
			continue
		}
		seen[id] = true
		switch {
		case idx.ContainsKey(id):
			d.Existing = append(d.Existing, id)
		case !knownSet[id]:
			d.New = append(d.New, id)
		}
	}

	return d
}

// dailySync soft-removes listings that left the active set, imports new ones
// and refreshes price and days on market of the stored ones.
func (r *run) dailySync(ctx context.Context) error {
	r.summary = func() string {
		p := r.progress
		return fmt.Sprintf("%d new, %d removed, %d price updates, %d days-on-market updates",
			p.New, p.Removed, p.PriceUpdates, p.DOMUpdates)
	}
	r.finish = func(ctx context.Context, _ Outcome) {
		p := r.progress
		if p.New+p.Removed+p.PriceUpdates+p.DOMUpdates == 0 {
			return
		}
		err := r.state.RecordHistory(ctx, jobstate.HistoryEntry{
			Removed:      p.Removed,
			New:          p.New,
			PriceUpdates: p.PriceUpdates,
			DOMUpdates:   p.DOMUpdates,
		})
		if err != nil {
			r.e.logger.WarnContext(ctx, "could not record history", "error", err)
		}
	}

	if err := r.checkpoint(ctx); err != nil {
		return err
	}

	current, err := r.e.remote.ListActiveIDs(ctx)
	if err != nil {
		return fmt.Errorf("%w: list active listings: %w", apperrors.ErrRunInterrupted, err)
	}

	known, _, err := r.state.KnownIDs(ctx)
	if err != nil {
		return fmt.Errorf("%w: load known ids: %w", apperrors.ErrRunInterrupted, err)
	}

	idx, err := r.e.catalog.BulkIndex(ctx)
	if err != nil {
		return fmt.Errorf("%w: build index: %w", apperrors.ErrRunInterrupted, err)
	}

	diff := ComputeDiff(known, current, idx)
	r.progress.Total = len(diff.Removed) + len(diff.New) + len(diff.Existing)
	r.progress.TotalFromSource = len(current)
	r.progress.AlreadyPresent = len(diff.Existing)
	r.state.Logf(ctx, slog.LevelInfo, "daily sync: %d active, %d removed, %d new, %d existing",
		len(current), len(diff.Removed), len(diff.New), len(diff.Existing))

	if err := r.persist(ctx); err != nil {
		return err
	}

	if err := r.process(ctx, diff.Removed, func(ctx context.Context, id int64) error {
		return r.removeOne(ctx, idx, id)
	}); err != nil {
		return err
	}

	if err := r.process(ctx, diff.New, func(ctx context.Context, id int64) error {
		if _, err := r.importOne(ctx, idx, id); err != nil {
			return err
		}
		r.progress.New++
		return nil
	}); err != nil {
		return err
	}

	if err := r.process(ctx, diff.Existing, func(ctx context.Context, id int64) error {
		return r.refreshOne(ctx, idx, id)
	}); err != nil {
		return err
	}

	if err := r.state.SaveKnownIDs(ctx, current); err != nil {
		return fmt.Errorf("%w: save known ids: %w", apperrors.ErrRunInterrupted, err)
	}
	return nil
}

// removeOne soft-removes a listing that is stored and still active.
func (r *run) removeOne(ctx context.Context, idx *catalog.Index, id int64) error {
	storedID, ok := idx.LookupKey(id)
	if !ok {
		return nil
	}

	rec, err := r.e.catalog.Get(ctx, storedID)
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", apperrors.ErrStoreWrite, storedID, err)
	}
	if !rec.Active {
		return nil
	}

	if err := r.e.upsert.SoftRemove(ctx, storedID); err != nil {
		return err
	}
	r.progress.Removed++
	return nil
}

// refreshOne fetches a stored listing and writes its market fields when they
// moved.
func (r *run) refreshOne(ctx context.Context, idx *catalog.Index, id int64) error {
	storedID, _ := idx.LookupKey(id)

	res, err := r.e.resolver.Fetch(ctx, id, r.checkpoint)
	if err != nil {
		return err
	}

	out, err := r.e.upsert.ApplyMarket(ctx, storedID, r.e.normalizer.MarketFields(res.Payload))
	if err != nil {
		return err
	}

	if out.PriceChanged {
		r.progress.PriceUpdates++
	}
	if out.DaysOnMarketChange {
		r.progress.DOMUpdates++
	}
	if out.Reactivated {
		r.state.Logf(ctx, slog.LevelInfo, "listing %d is active again (%s)", id, storedID)
	}
	return nil
}
