package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fclairamb/yachtsync/internal/jobstate"
	ysync "github.com/fclairamb/yachtsync/internal/sync"
)

// Engine runs jobs and exposes their state.
type Engine interface {
	Run(ctx context.Context, kind jobstate.Kind, mode ysync.Mode) *ysync.Result
	State(kind jobstate.Kind) *jobstate.State
}

// Worker runs requested jobs in the background, one at a time.
type Worker struct {
	engine      Engine
	logger      *slog.Logger
	resumeDelay time.Duration
	notify      chan struct{}

	mu      sync.Mutex
	pending map[jobstate.Kind]ysync.Mode
	timers  map[jobstate.Kind]*time.Timer
	// done is signalled after every run, for tests.
	done chan *ysync.Result
}

// WorkerOption configures the Worker.
type WorkerOption func(*Worker)

// WithResumeDelay sets how long an interrupted job waits before it resumes.
func WithResumeDelay(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.resumeDelay = d
	}
}

// WithWorkerLogger sets a custom logger.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = l
	}
}

// NewWorker creates a worker.
func NewWorker(engine Engine, opts ...WorkerOption) *Worker {
	w := &Worker{
		engine:      engine,
		logger:      slog.Default(),
		resumeDelay: time.Minute,
		notify:      make(chan struct{}, 1),
		pending:     make(map[jobstate.Kind]ysync.Mode),
		timers:      make(map[jobstate.Kind]*time.Timer),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Notify requests a run of kind. It never blocks. A pending explicit start
// is not downgraded by a later resume request.
func (w *Worker) Notify(kind jobstate.Kind, mode ysync.Mode) {
	w.mu.Lock()
	if cur, ok := w.pending[kind]; !ok || cur == ysync.ModeResume {
		w.pending[kind] = mode
	}
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
		w.logger.Debug("worker notified", "job", kind, "mode", mode)
	default:
		w.logger.Debug("worker notification coalesced", "job", kind, "mode", mode)
	}
}

// Start runs the worker until ctx is canceled. Jobs left interrupted by a
// previous process are resumed first.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "worker started", "resume_delay", w.resumeDelay)

	for _, kind := range jobstate.Kinds {
		ar, err := w.engine.State(kind).AutoResume(ctx)
		if err != nil {
			w.logger.WarnContext(ctx, "could not read auto-resume marker", "job", kind, "error", err)
			continue
		}
		if ar != nil {
			w.logger.InfoContext(ctx, "resuming interrupted job", "job", kind, "since", ar.At, "reason", ar.Reason)
			w.Notify(kind, ysync.ModeResume)
		}
	}

	defer w.stopTimers()

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "worker stopping")
			return nil
		case <-w.notify:
			w.drain(ctx)
		}
	}
}

// drain runs every pending job, imports first.
func (w *Worker) drain(ctx context.Context) {
	for {
		kind, mode, ok := w.next()
		if !ok || ctx.Err() != nil {
			return
		}

		res := w.engine.Run(ctx, kind, mode)
		w.logger.InfoContext(ctx, "job finished", "job", kind, "mode", mode, "outcome", res.Outcome, "error", res.Err)

		if res.Outcome == ysync.OutcomeInterrupted && ctx.Err() == nil {
			w.scheduleResume(kind)
		}

		if w.done != nil {
			w.done <- res
		}
	}
}

func (w *Worker) next() (jobstate.Kind, ysync.Mode, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, kind := range jobstate.Kinds {
		if mode, ok := w.pending[kind]; ok {
			delete(w.pending, kind)
			return kind, mode, true
		}
	}
	return "", 0, false
}

func (w *Worker) scheduleResume(kind jobstate.Kind) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t := w.timers[kind]; t != nil {
		t.Stop()
	}
	w.logger.Info("job resume scheduled", "job", kind, "delay", w.resumeDelay)
	w.timers[kind] = time.AfterFunc(w.resumeDelay, func() {
		w.Notify(kind, ysync.ModeResume)
	})
}

func (w *Worker) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for kind, t := range w.timers {
		t.Stop()
		delete(w.timers, kind)
	}
}
