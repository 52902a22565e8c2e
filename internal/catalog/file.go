package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/fclairamb/yachtsync/internal/apperrors"
	"github.com/fclairamb/yachtsync/internal/store"
	"github.com/fclairamb/yachtsync/internal/vessel"
	"github.com/fclairamb/yachtsync/internal/version"
)

const (
	recordsDir = "vessels"
	stateDir   = ".yachtsync"
	idsDir     = "ids"

	vesselAliasPrefix = "vessel-"
	mlsAliasPrefix    = "mls-"
)

// alias points an identifier at the stored ID of its record.
type alias struct {
	YachtsyncVersion string    `json:"yachtsync_version"`
	StoredID         string    `json:"stored_id"`
	LastUpdated      time.Time `json:"last_updated"`
}

// FileCatalog stores one JSON document per record in a git-backed store.
// Identifier lookups go through small alias files so that MLS IDs resolve
// without scanning every record.
type FileCatalog struct {
	st     store.Store
	logger *slog.Logger
}

// FileOption configures a FileCatalog.
type FileOption func(*FileCatalog)

// WithFileLogger sets a custom logger.
func WithFileLogger(l *slog.Logger) FileOption {
	return func(c *FileCatalog) {
		c.logger = l
	}
}

// NewFileCatalog creates a catalog on top of st.
func NewFileCatalog(st store.Store, opts ...FileOption) *FileCatalog {
	c := &FileCatalog{st: st, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func recordPath(storedID string) string {
	return path.Join(recordsDir, storedID+".json")
}

func aliasPath(name string) string {
	return path.Join(stateDir, idsDir, name+".json")
}

// validPathPart rejects identifiers that would leave their directory.
func validPathPart(s string) bool {
	return s != "" && !strings.ContainsAny(s, `/\`) && !strings.Contains(s, "..")
}

// Upsert implements Catalog. The record and its alias files are applied to
// the working tree together.
func (c *FileCatalog) Upsert(ctx context.Context, storedID string, rec *vessel.Record) (string, error) {
	if storedID == "" {
		storedID = rec.Identity.Key()
	}
	if !validPathPart(storedID) {
		return "", fmt.Errorf("%w: invalid stored id %q", apperrors.ErrStoreWrite, storedID)
	}
	if rec.Identity.MLSID != "" && !validPathPart(rec.Identity.MLSID) {
		return "", fmt.Errorf("%w: invalid mls id %q", apperrors.ErrStoreWrite, rec.Identity.MLSID)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: marshal %s: %w", apperrors.ErrStoreWrite, storedID, err)
	}

	tx, err := c.st.BeginTx(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: begin transaction: %w", apperrors.ErrStoreWrite, err)
	}
	if err := stageRecord(tx, storedID, rec, data); err != nil {
		_ = tx.Rollback()
		return "", err
	}
	if err := tx.Apply(ctx); err != nil {
		return "", fmt.Errorf("%w: %s: %w", apperrors.ErrStoreWrite, storedID, err)
	}

	return storedID, nil
}

func stageRecord(tx store.Transaction, storedID string, rec *vessel.Record, data []byte) error {
	if err := tx.Write(recordPath(storedID), data); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrStoreWrite, err)
	}

	var names []string
	if rec.Identity.VesselID != 0 {
		names = append(names, vesselAliasPrefix+strconv.FormatInt(rec.Identity.VesselID, 10))
	}
	if rec.Identity.MLSID != "" {
		names = append(names, mlsAliasPrefix+rec.Identity.MLSID)
	}

	for _, name := range names {
		a, err := json.MarshalIndent(&alias{
			YachtsyncVersion: version.Version,
			StoredID:         storedID,
			LastUpdated:      rec.LastUpdated,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("%w: marshal alias: %w", apperrors.ErrStoreWrite, err)
		}
		if err := tx.Write(aliasPath(name), a); err != nil {
			return fmt.Errorf("%w: alias %s: %w", apperrors.ErrStoreWrite, name, err)
		}
	}
	return nil
}

func (c *FileCatalog) readAlias(ctx context.Context, name string) (string, bool, error) {
	data, err := c.st.Read(ctx, aliasPath(name))
	if errors.Is(err, apperrors.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read alias %s: %w", name, err)
	}

	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return "", false, fmt.Errorf("unmarshal alias %s: %w", name, err)
	}
	return a.StoredID, a.StoredID != "", nil
}

// Get implements Catalog.
func (c *FileCatalog) Get(ctx context.Context, storedID string) (*vessel.Record, error) {
	if !validPathPart(storedID) {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrNotFound, storedID)
	}
	data, err := c.st.Read(ctx, recordPath(storedID))
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", storedID, err)
	}

	var rec vessel.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record %s: %w", storedID, err)
	}
	return &rec, nil
}

// FindByVesselID implements Catalog.
func (c *FileCatalog) FindByVesselID(ctx context.Context, vesselID int64) (string, bool, error) {
	return c.readAlias(ctx, vesselAliasPrefix+strconv.FormatInt(vesselID, 10))
}

// FindByMLSID implements Catalog.
func (c *FileCatalog) FindByMLSID(ctx context.Context, mlsID string) (string, bool, error) {
	if !validPathPart(mlsID) {
		return "", false, nil
	}
	return c.readAlias(ctx, mlsAliasPrefix+mlsID)
}

// MarkInactive implements Catalog.
func (c *FileCatalog) MarkInactive(ctx context.Context, storedID string, at time.Time) error {
	rec, err := c.Get(ctx, storedID)
	if err != nil {
		return err
	}
	rec.Active = false
	rec.RemovedAt = &at
	rec.LastUpdated = at

	_, err = c.Upsert(ctx, storedID, rec)
	return err
}

// BulkIndex implements Catalog. It reads the alias files only.
func (c *FileCatalog) BulkIndex(ctx context.Context) (*Index, error) {
	entries, err := c.st.List(ctx, path.Join(stateDir, idsDir))
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}

	idx := NewIndex()
	for i := range entries {
		entry := &entries[i]
		base := path.Base(entry.Path)
		if entry.IsDir || !strings.HasSuffix(base, ".json") {
			continue
		}
		name := strings.TrimSuffix(base, ".json")

		storedID, ok, err := c.readAlias(ctx, name)
		if err != nil {
			c.logger.WarnContext(ctx, "skipping unreadable alias", "alias", name, "error", err)
			continue
		}
		if !ok {
			continue
		}

		switch {
		case strings.HasPrefix(name, vesselAliasPrefix):
			id, err := strconv.ParseInt(strings.TrimPrefix(name, vesselAliasPrefix), 10, 64)
			if err != nil {
				continue
			}
			idx.Vessel[id] = storedID
		case strings.HasPrefix(name, mlsAliasPrefix):
			idx.MLS[strings.TrimPrefix(name, mlsAliasPrefix)] = storedID
		}
	}

	return idx, nil
}

// Count implements Catalog.
func (c *FileCatalog) Count(ctx context.Context) (int, error) {
	entries, err := c.st.List(ctx, recordsDir)
	if err != nil {
		return 0, fmt.Errorf("list records: %w", err)
	}

	count := 0
	for i := range entries {
		if !entries[i].IsDir && strings.HasSuffix(entries[i].Path, ".json") {
			count++
		}
	}
	return count, nil
}

// Commit records every pending change of the working tree in one commit.
func (c *FileCatalog) Commit(ctx context.Context, message string) error {
	if err := c.st.Commit(ctx, message); err != nil {
		return fmt.Errorf("commit catalog: %w", err)
	}
	return nil
}

// Push implements Committer.
func (c *FileCatalog) Push(ctx context.Context) error {
	return c.st.Push(ctx)
}
