// Package reloader periodically re-checks the configured policy/entity
// sources and, on a version change, publishes a freshly-built Snapshot via
// an atomic pointer swap, per spec.md §4.6: lock-free reads for every Check
// call, with a single writer goroutine doing the reload work. Grounded on
// the teacher's internal/policy.FileWatcher (fsnotify + debounce), extended
// with the periodic ticker a config-map source needs since it has no
// filesystem event to watch.
package reloader

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/authz-engine/go-core/internal/audit"
	"github.com/authz-engine/go-core/internal/config"
	"github.com/authz-engine/go-core/internal/loader"
	"github.com/authz-engine/go-core/internal/metrics"
)

// Reloader owns the current Snapshot and keeps it fresh. All reads go
// through Current, which is a single atomic load; all writes are
// serialized through the reload goroutine started by Run.
type Reloader struct {
	Loader  *loader.Loader
	Config  *config.Config
	Metrics metrics.Metrics
	Audit   audit.Logger
	Logger  *zap.Logger

	current atomic.Pointer[loader.Snapshot]

	mu              sync.Mutex
	healthy         bool
	lastError       error
	debounceTimeout time.Duration
	reloadNow       chan chan error
	stop            chan struct{}
	wg              sync.WaitGroup
}

// New builds a Reloader and performs the initial synchronous load: a
// Reloader with no loaded Snapshot would leave every Check call with
// nothing to evaluate, so construction fails fast instead of starting
// unhealthy.
func New(ld *loader.Loader, cfg *config.Config, m metrics.Metrics, al audit.Logger, logger *zap.Logger) (*Reloader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	r := &Reloader{
		Loader:          ld,
		Config:          cfg,
		Metrics:         m,
		Audit:           al,
		Logger:          logger,
		debounceTimeout: 500 * time.Millisecond,
		reloadNow:       make(chan chan error),
		stop:            make(chan struct{}),
	}

	if err := r.reload("startup"); err != nil {
		return nil, fmt.Errorf("initial snapshot load: %w", err)
	}
	return r, nil
}

// Current returns the most recently published Snapshot. Safe to call
// concurrently from any number of goroutines without blocking a reload.
func (r *Reloader) Current() *loader.Snapshot {
	return r.current.Load()
}

// Healthy reports whether the last reload attempt (startup or otherwise)
// succeeded, per spec.md §6.5: the engine keeps serving the last-known-good
// Snapshot on a failed reload but reports unhealthy until one succeeds.
func (r *Reloader) Healthy() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.healthy, r.lastError
}

// ReloadNow forces an out-of-schedule reload attempt and waits for its
// outcome, for an operator-triggered refresh endpoint or test.
func (r *Reloader) ReloadNow(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case r.reloadNow <- reply:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stop:
		return fmt.Errorf("reloader stopped")
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the periodic ticker and, for local file sources, an fsnotify
// watcher, and blocks processing reload triggers until ctx is done or Stop
// is called. Run is meant to be started in its own goroutine by the
// Authorizer.
func (r *Reloader) Run(ctx context.Context) {
	r.wg.Add(1)
	defer r.wg.Done()

	interval := r.Config.RefreshInterval()
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	watcher, watchedPaths := r.startFileWatcher()
	if watcher != nil {
		defer watcher.Close()
	}

	var debounceTimer *time.Timer
	debounceFired := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return

		case <-ticker.C:
			r.attemptReload("scheduled")

		case reply := <-r.reloadNow:
			reply <- r.reload("manual")

		case event, ok := <-watcherEvents(watcher):
			if !ok {
				continue
			}
			if !isWatchedPath(event.Name, watchedPaths) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(r.debounceTimeout, func() {
				select {
				case debounceFired <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcherErrors(watcher):
			if !ok {
				continue
			}
			r.Logger.Warn("fsnotify watcher error", zap.Error(err))

		case <-debounceFired:
			r.attemptReload("fs_event")
		}
	}
}

// Stop terminates Run and waits for it to return.
func (r *Reloader) Stop() {
	close(r.stop)
	r.wg.Wait()
}

// attemptReload checks the source version cheaply first (spec.md §4.6:
// hashing file contents on every tick would be wasteful) and only calls
// Load when something actually changed.
func (r *Reloader) attemptReload(trigger string) {
	version, err := r.Loader.Versions(r.Config)
	if err != nil {
		r.Logger.Warn("version check failed", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	if cur := r.current.Load(); cur != nil && cur.Version == version {
		return
	}
	if err := r.reload(trigger); err != nil {
		r.Logger.Error("reload failed", zap.String("trigger", trigger), zap.Error(err))
	}
}

func (r *Reloader) reload(trigger string) error {
	start := time.Now()
	snap, err := r.Loader.Load(r.Config)
	duration := time.Since(start)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.healthy = false
		r.lastError = err
		r.Metrics.RecordReload("failure", duration)
		if r.Audit != nil {
			r.Audit.LogPolicyChange(context.Background(), &audit.PolicyChange{
				Operation: "reload_failure",
				ActorID:   trigger,
				Changes:   err.Error(),
			})
		}
		return err
	}

	r.current.Store(snap)
	r.healthy = true
	r.lastError = nil
	r.Metrics.RecordReload("success", duration)
	if r.Audit != nil {
		r.Audit.LogPolicyChange(context.Background(), &audit.PolicyChange{
			Operation:     "reload_success",
			PolicyVersion: snap.Version,
			ActorID:       trigger,
		})
	}
	r.Metrics.SetHealthy(true)
	return nil
}

func (r *Reloader) startFileWatcher() (*fsnotify.Watcher, map[string]bool) {
	paths := append([]string{}, r.Config.PolicySources.LocalFiles...)
	paths = append(paths, r.Config.EntityJSONSources.LocalFiles...)
	if len(paths) == 0 {
		return nil, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.Logger.Warn("fsnotify unavailable, falling back to ticker-only polling", zap.Error(err))
		return nil, nil
	}

	watched := make(map[string]bool, len(paths))
	for _, p := range paths {
		if err := watcher.Add(p); err != nil {
			r.Logger.Warn("failed to watch path", zap.String("path", p), zap.Error(err))
			continue
		}
		watched[p] = true
	}
	return watcher, watched
}

func watcherEvents(w *fsnotify.Watcher) chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}

func watcherErrors(w *fsnotify.Watcher) chan error {
	if w == nil {
		return nil
	}
	return w.Errors
}

func isWatchedPath(name string, watched map[string]bool) bool {
	if watched == nil {
		return false
	}
	if watched[name] {
		return true
	}
	return watched[filepath.Dir(name)]
}
