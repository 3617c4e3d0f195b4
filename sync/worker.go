package sync

import (
	"context"
	"expense-categories/services"
	"log/slog"
	"sync"
	"time"
)

// Stores is the view of the store registry the worker supervises
type Stores interface {
	Users() []string
	Get(userID string) (*services.CategoryStore, bool)
	Held(userID string) bool
	Release(userID string)
}

// Worker supervises the open category subscriptions in the background.
// See retry.go for the reopen backoff.
type Worker struct {
	stores          Stores
	sessions        services.SessionChecker
	baseInterval    time.Duration
	maxInterval     time.Duration
	currentInterval time.Duration
	running         bool
	mu              sync.Mutex
	stopChan        chan struct{}
	doneChan        chan struct{}
	failures        map[string]*reopenState
	now             func() time.Time
	logger          *slog.Logger
}

// NewWorker creates a new subscription supervisor
func NewWorker(stores Stores, sessions services.SessionChecker, baseInterval, maxInterval time.Duration) *Worker {
	if baseInterval <= 0 {
		baseInterval = 30 * time.Second
	}
	if maxInterval < baseInterval {
		maxInterval = baseInterval
	}
	return &Worker{
		stores:          stores,
		sessions:        sessions,
		baseInterval:    baseInterval,
		maxInterval:     maxInterval,
		currentInterval: baseInterval,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
		failures:        make(map[string]*reopenState),
		now:             time.Now,
		logger:          slog.With("component", "sync_worker"),
	}
}

// Start begins the background supervisor
func (w *Worker) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("[Sync Worker] Starting subscription supervisor", "interval", w.baseInterval)

	go w.run()
}

// Stop gracefully stops the supervisor and waits for the current sweep
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.logger.Info("[Sync Worker] Stopping subscription supervisor")
	close(w.stopChan)
	w.running = false
	w.mu.Unlock()

	<-w.doneChan
}

// Interval returns the current sweep interval.
func (w *Worker) Interval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentInterval
}

// run is the main worker loop with adaptive backoff
func (w *Worker) run() {
	defer close(w.doneChan)

	ticker := time.NewTicker(w.currentInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hadWork := w.Sweep(context.Background())

			// Adaptive backoff: stretch the interval while nothing needs attention
			w.mu.Lock()
			if hadWork {
				if w.currentInterval != w.baseInterval {
					w.currentInterval = w.baseInterval
					ticker.Reset(w.currentInterval)
					w.logger.Debug("[Sync Worker] Work found, reset interval", "interval", w.currentInterval)
				}
			} else if w.currentInterval < w.maxInterval {
				w.currentInterval = min(w.currentInterval*2, w.maxInterval)
				ticker.Reset(w.currentInterval)
				w.logger.Debug("[Sync Worker] No work, increased interval", "interval", w.currentInterval)
			}
			w.mu.Unlock()
		case <-w.stopChan:
			return
		}
	}
}

// Sweep releases stores whose user has no live session and no open stream, and
// reopens stores whose subscription failed. It reports whether anything needed
// attention. Reopened subscriptions are not bound to ctx.
func (w *Worker) Sweep(ctx context.Context) bool {
	hadWork := false

	for _, userID := range w.stores.Users() {
		if !w.sessions.HasUser(userID) && !w.stores.Held(userID) {
			w.stores.Release(userID)
			w.forget(userID)
			w.logger.Info("[Sync Worker] Released store without session", "user_id", userID)
			hadWork = true
			continue
		}

		store, ok := w.stores.Get(userID)
		if !ok || store.Running() {
			w.forget(userID)
			continue
		}

		hadWork = true
		if w.reopenedLastSweep(userID) {
			attempts := w.recordFailure(userID)
			w.logger.Warn("[Sync Worker] Subscription failed again after reopen", "user_id", userID, "attempts", attempts, "error", store.Err())
		}
		if !w.dueForReopen(userID) {
			continue
		}

		if err := store.Reopen(context.WithoutCancel(ctx)); err != nil {
			attempts := w.recordFailure(userID)
			w.logger.Error("[Sync Worker] Failed to reopen subscription", "user_id", userID, "attempts", attempts, "error", err)
			continue
		}
		w.markReopened(userID)
		w.logger.Info("[Sync Worker] Reopened subscription", "user_id", userID)
	}

	return hadWork
}
