package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"cocowallet-sync/internal/models"
	"cocowallet-sync/internal/status"
	"cocowallet-sync/internal/telemetry"
)

// JobFunc performs one synchronization run, reporting progress as it goes.
// Returning nil marks the job successful; the last reported message becomes
// the final status message.
type JobFunc func(ctx context.Context, report ProgressFunc) error

// ProgressFunc publishes a progress percentage and human-readable message.
type ProgressFunc func(progress int, message string)

// Runner owns the registry of named sync jobs and enforces that at most one
// run per job name is active at a time. A start while running is a no-op.
type Runner struct {
	log   zerolog.Logger
	store *status.Store
	base  context.Context

	mu       sync.Mutex
	jobs     map[string]JobFunc
	running  map[string]bool
	lastSeen map[string]int
}

// New builds a runner. Jobs started later run under baseCtx, not the
// request context that triggered them.
func New(baseCtx context.Context, store *status.Store, log zerolog.Logger) *Runner {
	return &Runner{
		log:      log,
		store:    store,
		base:     baseCtx,
		jobs:     make(map[string]JobFunc),
		running:  make(map[string]bool),
		lastSeen: make(map[string]int),
	}
}

// Register binds a job function to a name. Empty names and nil funcs are ignored.
func (r *Runner) Register(name string, fn JobFunc) {
	if name == "" || fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[name] = fn
}

// Has reports whether a job name is registered.
func (r *Runner) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[name]
	return ok
}

// Names returns the registered job names, sorted.
func (r *Runner) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches a job in the background. It returns false with a nil error
// when the job is already running, which callers treat as accepted.
func (r *Runner) Start(name string) (bool, error) {
	r.mu.Lock()
	fn, ok := r.jobs[name]
	if !ok {
		r.mu.Unlock()
		return false, fmt.Errorf("unknown sync job %q", name)
	}
	if r.running[name] {
		r.mu.Unlock()
		telemetry.SyncRejected.Inc()
		return false, nil
	}
	r.running[name] = true
	r.lastSeen[name] = 0
	r.mu.Unlock()

	r.setStatus(name, models.SyncSnapshot{Status: models.SyncRunning, Progress: 0, Message: "starting"})
	telemetry.SyncStarted.Inc()
	r.log.Info().Str("job", name).Msg("sync job started")

	go r.run(name, fn)
	return true, nil
}

func (r *Runner) run(name string, fn JobFunc) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Str("job", name).Interface("panic", rec).Msg("sync job panicked")
			r.finish(name, models.SyncSnapshot{
				Status:  models.SyncError,
				Message: fmt.Sprintf("sync failed: %v", rec),
			})
			telemetry.SyncFailed.Inc()
		}
	}()

	var lastMessage string
	report := func(progress int, message string) {
		clamped := r.clampProgress(name, progress)
		lastMessage = message
		r.setStatus(name, models.SyncSnapshot{Status: models.SyncRunning, Progress: clamped, Message: message})
	}

	err := fn(r.base, report)
	if err != nil {
		r.log.Error().Str("job", name).Err(err).Msg("sync job failed")
		r.finish(name, models.SyncSnapshot{
			Status:  models.SyncError,
			Message: fmt.Sprintf("sync failed: %s", err),
		})
		telemetry.SyncFailed.Inc()
		return
	}

	if lastMessage == "" {
		lastMessage = "sync complete"
	}
	r.finish(name, models.SyncSnapshot{Status: models.SyncSuccess, Progress: 100, Message: lastMessage})
	telemetry.SyncSucceeded.Inc()
	r.log.Info().Str("job", name).Msg("sync job succeeded")
}

// clampProgress keeps progress monotonically non-decreasing within a run.
func (r *Runner) clampProgress(name string, progress int) int {
	if progress > 100 {
		progress = 100
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if progress < r.lastSeen[name] {
		return r.lastSeen[name]
	}
	r.lastSeen[name] = progress
	return progress
}

func (r *Runner) finish(name string, snap models.SyncSnapshot) {
	r.setStatus(name, snap)
	r.mu.Lock()
	delete(r.running, name)
	r.mu.Unlock()
}

func (r *Runner) setStatus(name string, snap models.SyncSnapshot) {
	if err := r.store.Set(r.base, name, snap); err != nil {
		r.log.Error().Str("job", name).Err(err).Msg("write sync status")
	}
}
