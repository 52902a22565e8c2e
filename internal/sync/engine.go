// Package sync runs the import and daily sync jobs: it enumerates the active
// listings, works through them in rate-limited batches and keeps the job
// state resumable across stops, crashes and resource limits.
package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/fclairamb/yachtsync/internal/catalog"
	"github.com/fclairamb/yachtsync/internal/jobstate"
	"github.com/fclairamb/yachtsync/internal/kv"
	"github.com/fclairamb/yachtsync/internal/metrics"
	"github.com/fclairamb/yachtsync/internal/normalize"
	"github.com/fclairamb/yachtsync/internal/resolver"
	"github.com/fclairamb/yachtsync/internal/upsert"
)

// Remote is the listing API as seen by the jobs.
type Remote interface {
	resolver.Remote
	ListActiveIDs(ctx context.Context) ([]int64, error)
}

// Settings are the pacing and safety limits of a run.
type Settings struct {
	BatchSize  int
	ItemDelay  time.Duration
	BatchDelay time.Duration
	// DelayStep is the granularity at which delays observe a stop request.
	DelayStep time.Duration
	LockTTL   time.Duration

	// MaxRunTime bounds a run; RunTimeMargin is kept in reserve before it.
	MaxRunTime    time.Duration
	RunTimeMargin time.Duration
	// MemoryRatio is the share of the Go memory limit the heap may reach.
	MemoryRatio float64
}

// DefaultSettings returns the default pacing.
func DefaultSettings() Settings {
	return Settings{
		BatchSize:     2,
		ItemDelay:     time.Second,
		BatchDelay:    3 * time.Second,
		DelayStep:     250 * time.Millisecond,
		LockTTL:       10 * time.Minute,
		RunTimeMargin: 30 * time.Second,
		MemoryRatio:   0.9,
	}
}

// Mode tells how a run was started.
type Mode int

const (
	// ModeStart is an explicit operator start. It clears the stop flag.
	ModeStart Mode = iota
	// ModeResume continues an interrupted run and keeps the stop flag.
	ModeResume
)

func (m Mode) String() string {
	if m == ModeResume {
		return "resume"
	}
	return "start"
}

// Outcome is the terminal state of a run.
type Outcome string

// Run outcomes.
const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeStopped      Outcome = "stopped"
	OutcomeInterrupted  Outcome = "incomplete_autoresume"
	OutcomeLockConflict Outcome = "lock_conflict"
	OutcomeLockLost     Outcome = "lock_lost"
	// OutcomeFailed is a run that could not even take its lock.
	OutcomeFailed Outcome = "failed"
)

// Result describes a finished run.
type Result struct {
	Job      jobstate.Kind
	Outcome  Outcome
	Progress *jobstate.Progress
	Err      error
}

// Engine runs the jobs.
type Engine struct {
	remote     Remote
	resolver   *resolver.Resolver
	catalog    catalog.Catalog
	upsert     *upsert.Engine
	normalizer *normalize.Normalizer
	images     upsert.ImageFetcher
	kv         kv.Store
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
	settings   Settings
	stateOpts  []jobstate.Option

	committer    catalog.Committer
	commitPeriod time.Duration
	push         bool
}

// Option configures the engine.
type Option func(*Engine)

// WithSettings sets the pacing and limits.
func WithSettings(s Settings) Option {
	return func(e *Engine) {
		e.settings = s
	}
}

// WithNormalizer sets the normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(e *Engine) {
		e.normalizer = n
	}
}

// WithImageFetcher enables primary image downloads.
func WithImageFetcher(f upsert.ImageFetcher) Option {
	return func(e *Engine) {
		e.images = f
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
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

// WithStateOptions passes options to every job state the engine opens.
func WithStateOptions(opts ...jobstate.Option) Option {
	return func(e *Engine) {
		e.stateOpts = append(e.stateOpts, opts...)
	}
}

// WithCommitter commits the catalog every period during a run and once at
// its end, pushing after each commit when push is set. A zero period only
// commits at the end.
func WithCommitter(c catalog.Committer, period time.Duration, push bool) Option {
	return func(e *Engine) {
		e.committer = c
		e.commitPeriod = period
		e.push = push
	}
}

// New creates an engine.
func New(remote Remote, cat catalog.Catalog, store kv.Store, opts ...Option) *Engine {
	e := &Engine{
		remote:   remote,
		catalog:  cat,
		kv:       store,
		logger:   slog.Default(),
		now:      time.Now,
		settings: DefaultSettings(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.normalizer == nil {
		e.normalizer = &normalize.Normalizer{}
	}
	if e.settings.BatchSize < 1 {
		e.settings.BatchSize = 1
	}
	if e.settings.DelayStep <= 0 {
		e.settings.DelayStep = DefaultSettings().DelayStep
	}
	if e.settings.LockTTL <= 0 {
		e.settings.LockTTL = DefaultSettings().LockTTL
	}

	e.resolver = resolver.New(remote, resolver.WithLogger(e.logger))

	upsertOpts := []upsert.Option{upsert.WithLogger(e.logger), upsert.WithClock(e.now)}
	if e.images != nil {
		upsertOpts = append(upsertOpts, upsert.WithImageFetcher(e.images))
	}
	e.upsert = upsert.New(cat, upsertOpts...)

	return e
}

// State opens the job state of kind.
func (e *Engine) State(kind jobstate.Kind) *jobstate.State {
	opts := append([]jobstate.Option{jobstate.WithClock(e.now), jobstate.WithLogger(e.logger)}, e.stateOpts...)
	return jobstate.New(e.kv, kind, opts...)
}

// Settings returns the effective settings.
func (e *Engine) Settings() Settings {
	return e.settings
}

// Run runs the job of kind.
func (e *Engine) Run(ctx context.Context, kind jobstate.Kind, mode Mode) *Result {
	if kind == jobstate.KindDailySync {
		return e.RunDailySync(ctx, mode)
	}
	return e.RunImport(ctx, mode)
}

// RunImport imports every active listing not yet in the catalog.
func (e *Engine) RunImport(ctx context.Context, mode Mode) *Result {
	return e.execute(ctx, jobstate.KindImport, mode, (*run).importAll)
}

// RunDailySync applies the difference between the known and the current
// active listings.
func (e *Engine) RunDailySync(ctx context.Context, mode Mode) *Result {
	return e.execute(ctx, jobstate.KindDailySync, mode, (*run).dailySync)
}
