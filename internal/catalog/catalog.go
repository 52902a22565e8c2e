// Package catalog stores vessel records and answers identity lookups.
//
// A catalog addresses records by a stored ID. New records are stored under
// the canonical key of their identity (vessel-N or mls-X); the stored ID of an
// existing record never changes, even when a later payload adds a vessel ID to
// a record first created from an MLS ID.
package catalog

import (
	"context"
	"time"

	"github.com/fclairamb/yachtsync/internal/vessel"
)

// Catalog is the content store boundary.
type Catalog interface {
	// Upsert writes rec. An empty storedID creates the record under
	// rec.Identity.Key(). It returns the stored ID.
	Upsert(ctx context.Context, storedID string, rec *vessel.Record) (string, error)
	// Get returns the record stored under storedID or apperrors.ErrNotFound.
	Get(ctx context.Context, storedID string) (*vessel.Record, error)
	FindByVesselID(ctx context.Context, vesselID int64) (string, bool, error)
	FindByMLSID(ctx context.Context, mlsID string) (string, bool, error)
	// MarkInactive soft-removes a record. Its data is kept.
	MarkInactive(ctx context.Context, storedID string, at time.Time) error
	// BulkIndex builds both identity indexes in a single scan.
	BulkIndex(ctx context.Context) (*Index, error)
	Count(ctx context.Context) (int, error)
}

// Committer is implemented by catalogs with a history (the git-backed one).
type Committer interface {
	Commit(ctx context.Context, message string) error
	Push(ctx context.Context) error
}

// Index maps both identifier schemes to stored IDs.
type Index struct {
	Vessel map[int64]string
	MLS    map[string]string
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		Vessel: make(map[int64]string),
		MLS:    make(map[string]string),
	}
}

// Add registers the identifiers of a stored record.
func (x *Index) Add(id vessel.Identity, storedID string) {
	if id.VesselID != 0 {
		x.Vessel[id.VesselID] = storedID
	}
	if id.MLSID != "" {
		x.MLS[id.MLSID] = storedID
	}
}

// Lookup searches the index in the order the identity dictates: a vessel
// identity checks the vessel index, then the MLS index when the payload also
// carried an MLS ID. An MLS-only identity checks the MLS index only.
func (x *Index) Lookup(id vessel.Identity) (string, bool) {
	if x == nil {
		return "", false
	}
	if id.VesselID != 0 {
		if s, ok := x.Vessel[id.VesselID]; ok {
			return s, true
		}
	}
	if id.MLSID != "" {
		if s, ok := x.MLS[id.MLSID]; ok {
			return s, true
		}
	}
	return "", false
}

// LookupKey returns the stored ID for an enumerated vessel ID.
func (x *Index) LookupKey(vesselID int64) (string, bool) {
	if x == nil {
		return "", false
	}
	s, ok := x.Vessel[vesselID]
	return s, ok
}

// ContainsKey reports whether an enumerated vessel ID is already stored.
func (x *Index) ContainsKey(vesselID int64) bool {
	_, ok := x.LookupKey(vesselID)
	return ok
}

// Len returns the number of distinct stored records in the index.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	seen := make(map[string]struct{}, len(x.Vessel)+len(x.MLS))
	for _, s := range x.Vessel {
		seen[s] = struct{}{}
	}
	for _, s := range x.MLS {
		seen[s] = struct{}{}
	}
	return len(seen)
}
