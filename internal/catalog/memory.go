package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fclairamb/yachtsync/internal/apperrors"
	"github.com/fclairamb/yachtsync/internal/vessel"
)

// MemoryCatalog keeps records in memory. It is used by tests and dry runs.
type MemoryCatalog struct {
	mu      sync.RWMutex
	records map[string]*vessel.Record
	writes  int
}

// NewMemoryCatalog creates an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{records: make(map[string]*vessel.Record)}
}

// Upsert implements Catalog.
func (c *MemoryCatalog) Upsert(_ context.Context, storedID string, rec *vessel.Record) (string, error) {
	if storedID == "" {
		storedID = rec.Identity.Key()
	}
	if storedID == "" {
		return "", fmt.Errorf("%w: record has no identity", apperrors.ErrStoreWrite)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[storedID] = rec.Clone()
	c.writes++
	return storedID, nil
}

// Get implements Catalog.
func (c *MemoryCatalog) Get(_ context.Context, storedID string) (*vessel.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[storedID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNotFound, storedID)
	}
	return rec.Clone(), nil
}

// FindByVesselID implements Catalog.
func (c *MemoryCatalog) FindByVesselID(_ context.Context, vesselID int64) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, rec := range c.records {
		if rec.Identity.VesselID == vesselID {
			return id, true, nil
		}
	}
	return "", false, nil
}

// FindByMLSID implements Catalog.
func (c *MemoryCatalog) FindByMLSID(_ context.Context, mlsID string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, rec := range c.records {
		if rec.Identity.MLSID == mlsID {
			return id, true, nil
		}
	}
	return "", false, nil
}

// MarkInactive implements Catalog.
func (c *MemoryCatalog) MarkInactive(_ context.Context, storedID string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[storedID]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrNotFound, storedID)
	}
	rec.Active = false
	rec.RemovedAt = &at
	rec.LastUpdated = at
	c.writes++
	return nil
}

// BulkIndex implements Catalog.
func (c *MemoryCatalog) BulkIndex(_ context.Context) (*Index, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx := NewIndex()
	for id, rec := range c.records {
		idx.Add(rec.Identity, id)
	}
	return idx, nil
}

// Count implements Catalog.
func (c *MemoryCatalog) Count(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records), nil
}

// Writes returns how many mutations were applied.
func (c *MemoryCatalog) Writes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.writes
}
