package database

import (
	"expense-categories/storage"
	"sync"
)

// hub fans out change signals to every live subscription of a collection.
type hub struct {
	mu       sync.Mutex
	watchers map[storage.Collection]map[*watcher]struct{}
	done     chan struct{}
	closed   bool
}

// watcher holds at most one pending signal; bursts of writes coalesce into one resnapshot.
type watcher struct {
	changed chan struct{}
}

func newHub() *hub {
	return &hub{
		watchers: make(map[storage.Collection]map[*watcher]struct{}),
		done:     make(chan struct{}),
	}
}

func (h *hub) watch(col storage.Collection) *watcher {
	h.mu.Lock()
	defer h.mu.Unlock()

	w := &watcher{changed: make(chan struct{}, 1)}
	if h.watchers[col] == nil {
		h.watchers[col] = make(map[*watcher]struct{})
	}
	h.watchers[col][w] = struct{}{}
	return w
}

func (h *hub) unwatch(col storage.Collection, w *watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.watchers[col], w)
	if len(h.watchers[col]) == 0 {
		delete(h.watchers, col)
	}
}

func (h *hub) notify(col storage.Collection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for w := range h.watchers[col] {
		select {
		case w.changed <- struct{}{}:
		default:
		}
	}
}

// count returns the number of live watchers on a collection.
func (h *hub) count(col storage.Collection) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers[col])
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
}
