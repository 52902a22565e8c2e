// Package jobstate is the persisted state of the import and daily sync jobs:
// run lock, stop flag, progress, status line, auto-resume marker, activity
// log and daily history. Every process reads and writes it through a kv.Store.
package jobstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fclairamb/yachtsync/internal/apperrors"
	"github.com/fclairamb/yachtsync/internal/kv"
)

// Kind names a job.
type Kind string

// Job kinds.
const (
	KindImport    Kind = "import"
	KindDailySync Kind = "daily_sync"
)

// Kinds lists every job kind.
var Kinds = []Kind{KindImport, KindDailySync}

// ParseKind accepts "import", "daily_sync" and "daily-sync".
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")) {
	case KindImport:
		return KindImport, nil
	case KindDailySync:
		return KindDailySync, nil
	default:
		return "", fmt.Errorf("%w: %q", apperrors.ErrUnknownJob, s)
	}
}

// Shared keys.
const (
	keyHistory  = "daily_sync_history"
	keyKnownIDs = "daily_sync_known_ids"
	keyLog      = "activity_log"
)

// Defaults.
const (
	DefaultLogCapacity = 200
	DefaultHistoryDays = 90
)

// Lock is the persisted run lock.
type Lock struct {
	Owner       string    `json:"owner"`
	AcquiredAt  time.Time `json:"acquired_at"`
	HeartbeatAt time.Time `json:"heartbeat_at,omitzero"`
}

// LastSeen returns the newer of acquisition and heartbeat.
func (l *Lock) LastSeen() time.Time {
	if l.HeartbeatAt.After(l.AcquiredAt) {
		return l.HeartbeatAt
	}
	return l.AcquiredAt
}

// Fresh reports whether the lock is younger than ttl at now.
func (l *Lock) Fresh(now time.Time, ttl time.Duration) bool {
	return l != nil && now.Sub(l.LastSeen()) < ttl
}

// Progress is the resumable cursor and counters of a run.
type Progress struct {
	Attempted       int       `json:"attempted"`
	Processed       int       `json:"processed"`
	Failed          int       `json:"failed"`
	Pending         int       `json:"pending"`
	Total           int       `json:"total"`
	TotalFromSource int       `json:"total_from_source"`
	AlreadyPresent  int       `json:"already_present"`
	Percent         float64   `json:"percent"`
	LastID          int64     `json:"last_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	// Cursor is the index of the next work list item.
	Cursor int `json:"cursor"`

	// Daily sync counters.
	New          int `json:"new,omitempty"`
	Removed      int `json:"removed,omitempty"`
	PriceUpdates int `json:"price_updates,omitempty"`
	DOMUpdates   int `json:"days_on_market_updates,omitempty"`
}

// Update recomputes the derived fields.
func (p *Progress) Update(now time.Time) {
	p.Pending = max(p.Total-p.Attempted, 0)
	if p.Total > 0 {
		p.Percent = float64(int(float64(p.Attempted)*10000/float64(p.Total))) / 100
	} else {
		p.Percent = 100
	}
	p.Timestamp = now
}

// AutoResume marks an interrupted run that should be continued.
type AutoResume struct {
	At     time.Time `json:"at"`
	Owner  string    `json:"owner"`
	LastID int64     `json:"last_id,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// State is the job state of one job kind.
type State struct {
	store       kv.Store
	kind        Kind
	now         func() time.Time
	logger      *slog.Logger
	logCapacity int
	historyDays int
}

// Option configures a State.
type Option func(*State)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *State) {
		s.now = now
	}
}

// WithLogger sets the logger activity log entries are mirrored to.
func WithLogger(l *slog.Logger) Option {
	return func(s *State) {
		s.logger = l
	}
}

// WithLogCapacity sets how many activity log entries are kept.
func WithLogCapacity(n int) Option {
	return func(s *State) {
		if n > 0 {
			s.logCapacity = n
		}
	}
}

// WithHistoryDays sets how many daily history entries are kept.
func WithHistoryDays(n int) Option {
	return func(s *State) {
		if n > 0 {
			s.historyDays = n
		}
	}
}

// New returns the state of kind.
func New(store kv.Store, kind Kind, opts ...Option) *State {
	s := &State{
		store:       store,
		kind:        kind,
		now:         time.Now,
		logger:      slog.Default(),
		logCapacity: DefaultLogCapacity,
		historyDays: DefaultHistoryDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Kind returns the job kind.
func (s *State) Kind() Kind {
	return s.kind
}

// Store returns the underlying store.
func (s *State) Store() kv.Store {
	return s.store
}

// Now returns the current time of the state clock.
func (s *State) Now() time.Time {
	return s.now()
}

func (s *State) key(name string) string {
	return string(s.kind) + "_" + name
}

// WorklistPrefix is the key prefix of the persisted work list.
func (s *State) WorklistPrefix() string {
	return s.key("worklist/")
}

// AcquireLock takes the lock for owner. A fresh lock of another owner fails
// with ErrLockConflict; a stale one is reclaimed. It reports whether a stale
// lock was reclaimed.
func (s *State) AcquireLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	return s.acquire(ctx, "", owner, ttl)
}

// TakeOverLock is AcquireLock where a lock still held by previous counts as
// free. An interrupted run keeps its lock; the run resuming it takes it over.
// Of two concurrent takeovers only one succeeds.
func (s *State) TakeOverLock(ctx context.Context, previous, owner string, ttl time.Duration) (bool, error) {
	return s.acquire(ctx, previous, owner, ttl)
}

func (s *State) acquire(ctx context.Context, previous, owner string, ttl time.Duration) (bool, error) {
	reclaimed := false
	err := s.store.Update(ctx, s.key("lock"), func(cur []byte, exists bool) ([]byte, error) {
		now := s.now()
		if exists {
			var held Lock
			if err := json.Unmarshal(cur, &held); err == nil && held.Owner != owner {
				if held.Fresh(now, ttl) && (previous == "" || held.Owner != previous) {
					return nil, fmt.Errorf("%w: owner %s since %s", apperrors.ErrLockConflict,
						held.Owner, held.AcquiredAt.Format(time.RFC3339))
				}
				reclaimed = true
			}
		}
		return json.Marshal(&Lock{Owner: owner, AcquiredAt: now, HeartbeatAt: now})
	})
	if err != nil {
		return false, err
	}
	return reclaimed, nil
}

// Heartbeat refreshes the lock. It fails with ErrLockLost once another owner
// holds the lock or the lock is gone.
func (s *State) Heartbeat(ctx context.Context, owner string) error {
	return s.store.Update(ctx, s.key("lock"), func(cur []byte, exists bool) ([]byte, error) {
		var held Lock
		if !exists || json.Unmarshal(cur, &held) != nil || held.Owner != owner {
			return nil, apperrors.ErrLockLost
		}
		held.HeartbeatAt = s.now()
		return json.Marshal(&held)
	})
}

// ReleaseLock removes the lock when owner still holds it.
func (s *State) ReleaseLock(ctx context.Context, owner string) error {
	return s.store.Update(ctx, s.key("lock"), func(cur []byte, exists bool) ([]byte, error) {
		var held Lock
		if !exists || json.Unmarshal(cur, &held) != nil || held.Owner != owner {
			return nil, kv.ErrNoChange
		}
		return nil, nil
	})
}

// ForceReleaseLock removes the lock whoever holds it.
func (s *State) ForceReleaseLock(ctx context.Context) error {
	return s.store.Delete(ctx, s.key("lock"))
}

// Lock returns the current lock, or nil.
func (s *State) Lock(ctx context.Context) (*Lock, error) {
	var l Lock
	ok, err := s.get(ctx, s.key("lock"), &l)
	if err != nil || !ok {
		return nil, err
	}
	return &l, nil
}

// IsLocked reports whether a fresh lock is held.
func (s *State) IsLocked(ctx context.Context, ttl time.Duration) (bool, error) {
	l, err := s.Lock(ctx)
	if err != nil {
		return false, err
	}
	return l.Fresh(s.now(), ttl), nil
}

// RequestStop raises the stop flag. Only a fresh run start clears it.
func (s *State) RequestStop(ctx context.Context) error {
	return s.put(ctx, s.key("stop_flag"), s.now())
}

// ClearStop lowers the stop flag.
func (s *State) ClearStop(ctx context.Context) error {
	return s.store.Delete(ctx, s.key("stop_flag"))
}

// IsStopRequested reports whether the stop flag is raised.
func (s *State) IsStopRequested(ctx context.Context) (bool, error) {
	var at time.Time
	return s.get(ctx, s.key("stop_flag"), &at)
}

// SaveProgress persists p.
func (s *State) SaveProgress(ctx context.Context, p *Progress) error {
	return s.put(ctx, s.key("progress"), p)
}

// Progress returns the persisted progress, or nil.
func (s *State) Progress(ctx context.Context) (*Progress, error) {
	var p Progress
	ok, err := s.get(ctx, s.key("progress"), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// ClearProgress removes the persisted progress.
func (s *State) ClearProgress(ctx context.Context) error {
	return s.store.Delete(ctx, s.key("progress"))
}

// SetStatus stores the latest human readable status line.
func (s *State) SetStatus(ctx context.Context, msg string) error {
	return s.put(ctx, s.key("status_message"), msg)
}

// Status returns the latest status line.
func (s *State) Status(ctx context.Context) (string, error) {
	var msg string
	_, err := s.get(ctx, s.key("status_message"), &msg)
	return msg, err
}

// SetAutoResume marks the job for automatic continuation.
func (s *State) SetAutoResume(ctx context.Context, ar *AutoResume) error {
	return s.put(ctx, s.key("auto_resume"), ar)
}

// AutoResume returns the auto-resume marker, or nil.
func (s *State) AutoResume(ctx context.Context) (*AutoResume, error) {
	var ar AutoResume
	ok, err := s.get(ctx, s.key("auto_resume"), &ar)
	if err != nil || !ok {
		return nil, err
	}
	return &ar, nil
}

// ClearAutoResume removes the auto-resume marker.
func (s *State) ClearAutoResume(ctx context.Context) error {
	return s.store.Delete(ctx, s.key("auto_resume"))
}

// KnownIDs returns the active ID set saved by the last completed daily sync.
// The boolean is false when no daily sync ever completed.
func (s *State) KnownIDs(ctx context.Context) ([]int64, bool, error) {
	var ids []int64
	ok, err := s.get(ctx, keyKnownIDs, &ids)
	return ids, ok, err
}

// SaveKnownIDs replaces the known ID set.
func (s *State) SaveKnownIDs(ctx context.Context, ids []int64) error {
	if ids == nil {
		ids = []int64{}
	}
	return s.put(ctx, keyKnownIDs, ids)
}

// Snapshot is a read-only view for status displays.
type Snapshot struct {
	Job           Kind        `json:"job"`
	Running       bool        `json:"running"`
	Lock          *Lock       `json:"lock,omitempty"`
	StopRequested bool        `json:"stop_requested"`
	Progress      *Progress   `json:"progress,omitempty"`
	Status        string      `json:"status,omitempty"`
	AutoResume    *AutoResume `json:"auto_resume,omitempty"`
}

// Snapshot reads every per-job key.
func (s *State) Snapshot(ctx context.Context, ttl time.Duration) (*Snapshot, error) {
	snap := &Snapshot{Job: s.kind}

	var err error
	if snap.Lock, err = s.Lock(ctx); err != nil {
		return nil, err
	}
	snap.Running = snap.Lock.Fresh(s.now(), ttl)
	if snap.StopRequested, err = s.IsStopRequested(ctx); err != nil {
		return nil, err
	}
	if snap.Progress, err = s.Progress(ctx); err != nil {
		return nil, err
	}
	if snap.Status, err = s.Status(ctx); err != nil {
		return nil, err
	}
	if snap.AutoResume, err = s.AutoResume(ctx); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *State) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// get decodes key into v. It reports false when the key is absent.
func (s *State) get(ctx context.Context, key string, v any) (bool, error) {
	data, err := s.store.Get(ctx, key)
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}
