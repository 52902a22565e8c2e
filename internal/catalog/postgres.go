package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fclairamb/yachtsync/internal/apperrors"
	"github.com/fclairamb/yachtsync/internal/vessel"
)

// DB is the subset of pgxpool.Pool used by the Postgres backends.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const vesselsSchema = `
CREATE TABLE IF NOT EXISTS vessels (
	stored_id    TEXT PRIMARY KEY,
	vessel_id    BIGINT,
	mls_id       TEXT,
	active       BOOLEAN NOT NULL DEFAULT TRUE,
	doc          JSONB NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS vessels_vessel_id_idx ON vessels (vessel_id) WHERE vessel_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS vessels_mls_id_idx ON vessels (mls_id) WHERE mls_id IS NOT NULL;
`

// PostgresCatalog stores records as JSONB documents. Identifier columns are
// kept next to the document for lookups.
type PostgresCatalog struct {
	db DB
}

// NewPostgresCatalog creates a catalog. Call Migrate once before use.
func NewPostgresCatalog(db DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

// Migrate creates the vessels table if needed.
func (c *PostgresCatalog) Migrate(ctx context.Context) error {
	if _, err := c.db.Exec(ctx, vesselsSchema); err != nil {
		return fmt.Errorf("migrate vessels: %w", err)
	}
	return nil
}

// Upsert implements Catalog.
func (c *PostgresCatalog) Upsert(ctx context.Context, storedID string, rec *vessel.Record) (string, error) {
	if storedID == "" {
		storedID = rec.Identity.Key()
	}
	if storedID == "" {
		return "", fmt.Errorf("%w: record has no identity", apperrors.ErrStoreWrite)
	}

	doc, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("%w: marshal %s: %w", apperrors.ErrStoreWrite, storedID, err)
	}

	_, err = c.db.Exec(ctx, `
		INSERT INTO vessels (stored_id, vessel_id, mls_id, active, doc, last_updated)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		ON CONFLICT (stored_id) DO UPDATE SET
			vessel_id = EXCLUDED.vessel_id,
			mls_id = EXCLUDED.mls_id,
			active = EXCLUDED.active,
			doc = EXCLUDED.doc,
			last_updated = EXCLUDED.last_updated`,
		storedID, nullInt(rec.Identity.VesselID), nullString(rec.Identity.MLSID), rec.Active, doc, rec.LastUpdated)
	if err != nil {
		return "", fmt.Errorf("%w: upsert %s: %w", apperrors.ErrStoreWrite, storedID, err)
	}

	return storedID, nil
}

// Get implements Catalog.
func (c *PostgresCatalog) Get(ctx context.Context, storedID string) (*vessel.Record, error) {
	var doc []byte
	err := c.db.QueryRow(ctx, `SELECT doc FROM vessels WHERE stored_id = $1`, storedID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNotFound, storedID)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", storedID, err)
	}

	var rec vessel.Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", storedID, err)
	}
	return &rec, nil
}

// FindByVesselID implements Catalog.
func (c *PostgresCatalog) FindByVesselID(ctx context.Context, vesselID int64) (string, bool, error) {
	return c.findOne(ctx, `SELECT stored_id FROM vessels WHERE vessel_id = $1 LIMIT 1`, vesselID)
}

// FindByMLSID implements Catalog.
func (c *PostgresCatalog) FindByMLSID(ctx context.Context, mlsID string) (string, bool, error) {
	return c.findOne(ctx, `SELECT stored_id FROM vessels WHERE mls_id = $1 LIMIT 1`, mlsID)
}

func (c *PostgresCatalog) findOne(ctx context.Context, query string, arg any) (string, bool, error) {
	var storedID string
	err := c.db.QueryRow(ctx, query, arg).Scan(&storedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find %v: %w", arg, err)
	}
	return storedID, true, nil
}

// MarkInactive implements Catalog.
func (c *PostgresCatalog) MarkInactive(ctx context.Context, storedID string, at time.Time) error {
	removedAt, err := json.Marshal(at)
	if err != nil {
		return fmt.Errorf("marshal time: %w", err)
	}

	tag, err := c.db.Exec(ctx, `
		UPDATE vessels SET
			active = FALSE,
			last_updated = $2,
			doc = doc || jsonb_build_object('active', false, 'removed_at', $3::jsonb, 'last_updated', $3::jsonb)
		WHERE stored_id = $1`,
		storedID, at, string(removedAt))
	if err != nil {
		return fmt.Errorf("%w: mark inactive %s: %w", apperrors.ErrStoreWrite, storedID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrNotFound, storedID)
	}
	return nil
}

// BulkIndex implements Catalog.
func (c *PostgresCatalog) BulkIndex(ctx context.Context) (*Index, error) {
	rows, err := c.db.Query(ctx, `SELECT stored_id, vessel_id, mls_id FROM vessels`)
	if err != nil {
		return nil, fmt.Errorf("scan vessels: %w", err)
	}
	defer rows.Close()

	idx := NewIndex()
	for rows.Next() {
		var (
			storedID string
			vesselID *int64
			mlsID    *string
		)
		if err := rows.Scan(&storedID, &vesselID, &mlsID); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		idx.Add(vessel.Identity{VesselID: vessel.Deref(vesselID), MLSID: vessel.Deref(mlsID)}, storedID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan vessels: %w", err)
	}

	return idx, nil
}

// Count implements Catalog.
func (c *PostgresCatalog) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRow(ctx, `SELECT count(*) FROM vessels`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count vessels: %w", err)
	}
	return n, nil
}

func nullInt(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
