package sync

import "time"

// ==================== REOPEN BACKOFF ====================

const maxReopenBackoff = 10 * time.Minute

// reopenState tracks consecutive reopen failures of one user's subscription.
// A reopen that succeeds but whose stream fails before the next sweep counts
// as a failure too.
type reopenState struct {
	attempts int
	nextAt   time.Time
	reopened bool
}

// backoffFor doubles the base interval per failed attempt, capped at maxReopenBackoff
func backoffFor(base time.Duration, attempts int) time.Duration {
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxReopenBackoff {
			return maxReopenBackoff
		}
	}
	return min(d, maxReopenBackoff)
}

func (w *Worker) dueForReopen(userID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	state, ok := w.failures[userID]
	return !ok || !w.now().Before(state.nextAt)
}

func (w *Worker) recordFailure(userID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	state, ok := w.failures[userID]
	if !ok {
		state = &reopenState{}
		w.failures[userID] = state
	}
	state.attempts++
	state.nextAt = w.now().Add(backoffFor(w.baseInterval, state.attempts))
	state.reopened = false
	return state.attempts
}

func (w *Worker) markReopened(userID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	state, ok := w.failures[userID]
	if !ok {
		state = &reopenState{}
		w.failures[userID] = state
	}
	state.reopened = true
}

func (w *Worker) reopenedLastSweep(userID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	state, ok := w.failures[userID]
	return ok && state.reopened
}

func (w *Worker) forget(userID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.failures, userID)
}
