// Package upsert maps normalized records onto stored records without ever
// creating a duplicate or erasing a field the latest payload did not carry.
package upsert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fclairamb/yachtsync/internal/apperrors"
	"github.com/fclairamb/yachtsync/internal/catalog"
	"github.com/fclairamb/yachtsync/internal/normalize"
	"github.com/fclairamb/yachtsync/internal/vessel"
)

// Outcome describes what Apply did.
type Outcome struct {
	StoredID string
	Created  bool
	// Changed is false when the stored data was already identical, apart
	// from the last update time.
	Changed bool
}

// MarketOutcome describes what ApplyMarket did.
type MarketOutcome struct {
	PriceChanged       bool
	DaysOnMarketChange bool
	Reactivated        bool
}

// Written reports whether the record was written.
func (o MarketOutcome) Written() bool {
	return o.PriceChanged || o.DaysOnMarketChange || o.Reactivated
}

// Engine applies records to a catalog.
type Engine struct {
	catalog catalog.Catalog
	images  ImageFetcher
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithImageFetcher enables primary image downloads.
func WithImageFetcher(f ImageFetcher) Option {
	return func(e *Engine) {
		e.images = f
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an engine writing to c.
func New(c catalog.Catalog, opts ...Option) *Engine {
	e := &Engine{
		catalog: c,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Find returns the stored ID of identity, checking idx first and the catalog
// second. The second lookup covers records written after idx was built.
func (e *Engine) Find(ctx context.Context, idx *catalog.Index, identity vessel.Identity) (string, bool, error) {
	if storedID, ok := idx.Lookup(identity); ok {
		return storedID, true, nil
	}

	if identity.VesselID != 0 {
		storedID, ok, err := e.catalog.FindByVesselID(ctx, identity.VesselID)
		if err != nil || ok {
			return storedID, ok, err
		}
	}
	if identity.MLSID != "" {
		return e.catalog.FindByMLSID(ctx, identity.MLSID)
	}
	return "", false, nil
}

// Apply creates or updates the record of rec.Identity.
func (e *Engine) Apply(ctx context.Context, idx *catalog.Index, rec *vessel.Record) (*Outcome, error) {
	if rec.Identity.IsZero() {
		return nil, apperrors.ErrNoIdentifier
	}

	storedID, found, err := e.Find(ctx, idx, rec.Identity)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup %s: %w", apperrors.ErrStoreWrite, rec.Identity, err)
	}

	var existing *vessel.Record
	if found {
		existing, err = e.catalog.Get(ctx, storedID)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			// Dangling alias: recreate the record under the same ID.
			existing = nil
		case err != nil:
			return nil, fmt.Errorf("%w: read %s: %w", apperrors.ErrStoreWrite, storedID, err)
		}
	} else {
		storedID = rec.Identity.Key()
	}

	merged := &vessel.Record{}
	if existing != nil {
		merged = existing.Clone()
	}
	merged.Merge(rec)
	merged.Active = true
	merged.RemovedAt = nil

	if merged.PrimaryImagePath == "" {
		e.attachImage(ctx, storedID, merged)
	}

	outcome := &Outcome{
		StoredID: storedID,
		Created:  existing == nil,
		Changed:  existing == nil || !existing.Equal(merged),
	}

	merged.LastUpdated = e.now()
	writeID := storedID
	if !found {
		writeID = ""
	}
	if outcome.StoredID, err = e.catalog.Upsert(ctx, writeID, merged); err != nil {
		return nil, wrapWrite(err)
	}

	e.logger.DebugContext(ctx, "record applied",
		"stored_id", outcome.StoredID,
		"identity", rec.Identity.String(),
		"created", outcome.Created,
		"changed", outcome.Changed)

	return outcome, nil
}

// attachImage downloads the primary image once per record. Failures only
// cost the image.
func (e *Engine) attachImage(ctx context.Context, storedID string, rec *vessel.Record) {
	imageURL := vessel.Deref(rec.ImageURL)
	if e.images == nil || imageURL == "" {
		return
	}

	imgPath, err := e.images.FetchPrimary(ctx, storedID, imageURL)
	if err != nil {
		e.logger.WarnContext(ctx, "primary image not stored", "stored_id", storedID, "url", imageURL, "error", err)
		return
	}
	rec.PrimaryImagePath = imgPath
}

// ApplyMarket patches price and days on market of an existing record. It
// writes only when a value differs or the record must be reactivated. Values
// missing from market leave the stored ones untouched.
func (e *Engine) ApplyMarket(ctx context.Context, storedID string, market normalize.Market) (MarketOutcome, error) {
	var out MarketOutcome

	rec, err := e.catalog.Get(ctx, storedID)
	if err != nil {
		return out, fmt.Errorf("%w: read %s: %w", apperrors.ErrStoreWrite, storedID, err)
	}

	if market.PriceUSD != nil && (rec.PriceUSD == nil || *rec.PriceUSD != *market.PriceUSD) {
		rec.PriceUSD = market.PriceUSD
		if market.PriceFormatted != nil {
			rec.PriceFormatted = market.PriceFormatted
		}
		out.PriceChanged = true
	}
	if market.DaysOnMarket != nil && (rec.DaysOnMarket == nil || *rec.DaysOnMarket != *market.DaysOnMarket) {
		rec.DaysOnMarket = market.DaysOnMarket
		out.DaysOnMarketChange = true
	}
	if !rec.Active {
		rec.Active = true
		rec.RemovedAt = nil
		out.Reactivated = true
	}

	if !out.Written() {
		return out, nil
	}

	rec.LastUpdated = e.now()
	if _, err := e.catalog.Upsert(ctx, storedID, rec); err != nil {
		return MarketOutcome{}, wrapWrite(err)
	}
	return out, nil
}

// SoftRemove marks a record inactive.
func (e *Engine) SoftRemove(ctx context.Context, storedID string) error {
	if err := e.catalog.MarkInactive(ctx, storedID, e.now()); err != nil {
		return wrapWrite(err)
	}
	return nil
}

func wrapWrite(err error) error {
	if errors.Is(err, apperrors.ErrStoreWrite) {
		return err
	}
	return fmt.Errorf("%w: %w", apperrors.ErrStoreWrite, err)
}
