// Package resolver determines which identifier scheme a lookup key belongs to
// and extracts the authoritative identity from the fetched payload.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/fclairamb/yachtsync/internal/apperrors"
	"github.com/fclairamb/yachtsync/internal/vessel"
	"github.com/fclairamb/yachtsync/internal/yachtapi"
)

// Remote is the subset of the listing API used for resolution.
type Remote interface {
	FetchFullRecord(ctx context.Context, vesselID int64) (*yachtapi.Payload, error)
	ConvertMLSToVessel(ctx context.Context, mlsID int64) (int64, error)
	ConvertVesselToMLS(ctx context.Context, vesselID int64) (int64, error)
}

// Checkpoint is called right before and right after the remote fetch.
// A non-nil error aborts the resolution and is returned unchanged.
type Checkpoint func(ctx context.Context) error

// KeyKind tells which scheme the lookup key turned out to belong to.
type KeyKind string

// Key kinds.
const (
	KeyKindMLS    KeyKind = "mls"
	KeyKindVessel KeyKind = "vessel"
)

// Resolution is the outcome of a successful resolution.
type Resolution struct {
	Payload  *yachtapi.Payload
	Identity vessel.Identity
	KeyKind  KeyKind
	// FetchedID is the vessel ID the payload was fetched with.
	FetchedID int64
}

// Resolver resolves lookup keys against the remote API.
type Resolver struct {
	remote Remote
	logger *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// New creates a resolver.
func New(remote Remote, opts ...Option) *Resolver {
	r := &Resolver{
		remote: remote,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve determines the kind of lookupKey, fetches its payload and derives
// the identity from the payload fields. The lookup key itself is never used
// as an identity.
func (r *Resolver) Resolve(ctx context.Context, lookupKey int64, checkpoint Checkpoint) (*Resolution, error) {
	kind, vesselID, err := r.classify(ctx, lookupKey)
	if err != nil {
		return nil, err
	}

	payload, err := r.fetch(ctx, vesselID, checkpoint)
	if err != nil {
		return nil, err
	}

	identity, err := IdentityFromPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("lookup key %d: %w", lookupKey, err)
	}

	if identity.HasVessel() && identity.VesselID != vesselID {
		r.logger.WarnContext(ctx, "payload identity differs from fetched id",
			"lookup_key", lookupKey,
			"fetched_id", vesselID,
			"vessel_id", identity.VesselID)
	}

	return &Resolution{
		Payload:   payload,
		Identity:  identity,
		KeyKind:   kind,
		FetchedID: vesselID,
	}, nil
}

// Fetch fetches a payload for a known vessel ID and derives its identity.
func (r *Resolver) Fetch(ctx context.Context, vesselID int64, checkpoint Checkpoint) (*Resolution, error) {
	payload, err := r.fetch(ctx, vesselID, checkpoint)
	if err != nil {
		return nil, err
	}

	identity, err := IdentityFromPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("vessel %d: %w", vesselID, err)
	}

	return &Resolution{Payload: payload, Identity: identity, KeyKind: KeyKindVessel, FetchedID: vesselID}, nil
}

// classify tries the MLS → vessel conversion first, then vessel → MLS.
func (r *Resolver) classify(ctx context.Context, lookupKey int64) (KeyKind, int64, error) {
	vesselID, mlsErr := r.remote.ConvertMLSToVessel(ctx, lookupKey)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", 0, ctxErr
	}
	if mlsErr == nil && vesselID != 0 && vesselID != lookupKey {
		r.logger.DebugContext(ctx, "lookup key is an MLS ID", "lookup_key", lookupKey, "vessel_id", vesselID)
		return KeyKindMLS, vesselID, nil
	}

	_, vesselErr := r.remote.ConvertVesselToMLS(ctx, lookupKey)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", 0, ctxErr
	}
	if vesselErr == nil {
		r.logger.DebugContext(ctx, "lookup key is a vessel ID", "lookup_key", lookupKey)
		return KeyKindVessel, lookupKey, nil
	}

	if mlsErr == nil {
		mlsErr = fmt.Errorf("conversion returned %d", vesselID)
	}

	return "", 0, fmt.Errorf("lookup key %d: %w", lookupKey,
		errors.Join(apperrors.ErrUnresolvedID, mlsErr, vesselErr))
}

func (r *Resolver) fetch(ctx context.Context, vesselID int64, checkpoint Checkpoint) (*yachtapi.Payload, error) {
	if checkpoint != nil {
		if err := checkpoint(ctx); err != nil {
			return nil, err
		}
	}

	payload, err := r.remote.FetchFullRecord(ctx, vesselID)
	if err != nil {
		return nil, err
	}

	if checkpoint != nil {
		if err := checkpoint(ctx); err != nil {
			return nil, err
		}
	}

	return payload, nil
}

// IdentityFromPayload reads the identifiers a payload states about itself.
// An explicit vessel ID wins over an MLS ID.
func IdentityFromPayload(payload *yachtapi.Payload) (vessel.Identity, error) {
	var identity vessel.Identity

	if v := payload.First("basicInfo.vesselId", "result.vesselId", "vesselId"); v.Exists() {
		identity.VesselID = v.Int()
	}
	if v := payload.First("basicInfo.mlsId", "result.mlsId", "mlsId"); v.Exists() {
		switch mls := v.String(); mls {
		case "", "0":
		default:
			identity.MLSID = mls
		}
	}

	if identity.VesselID < 0 {
		identity.VesselID = 0
	}
	if identity.IsZero() {
		return identity, apperrors.ErrNoIdentifier
	}

	return identity, nil
}

// FormatKey renders a lookup key as an MLS ID string, the form MLS IDs are stored in.
func FormatKey(lookupKey int64) string {
	return strconv.FormatInt(lookupKey, 10)
}
