package services

import (
	"context"
	"expense-categories/models"
	"expense-categories/storage"
	"fmt"
	"log/slog"
	"sync"
)

// Registry keeps one open CategoryStore per signed-in user.
type Registry struct {
	docs   storage.Provider
	opts   []Option
	logger *slog.Logger

	mu     sync.Mutex
	stores map[string]*CategoryStore
	// holds counts long-lived readers per user; Release skips held stores
	holds map[string]int
}

func NewRegistry(docs storage.Provider, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		docs:   docs,
		opts:   append(opts, WithLogger(logger)),
		logger: logger,
		stores: make(map[string]*CategoryStore),
		holds:  make(map[string]int),
	}
}

// Acquire returns the user's store, opening it on first use. The subscription
// outlives ctx; it ends with Release or CloseAll. A nil user gets an inert store
// that is not tracked.
func (r *Registry) Acquire(ctx context.Context, user *models.User) (*CategoryStore, error) {
	if user == nil || user.ID == "" {
		return NewCategoryStore(r.docs, nil, r.opts...), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acquireLocked(ctx, user)
}

// Hold acquires the user's store for a long-lived reader such as an event
// stream. Release leaves a held store open until every hold is dropped through
// the returned func; the store is then closed by the next Release.
func (r *Registry) Hold(ctx context.Context, user *models.User) (*CategoryStore, func(), error) {
	if user == nil || user.ID == "" {
		return NewCategoryStore(r.docs, nil, r.opts...), func() {}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	store, err := r.acquireLocked(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	r.holds[user.ID]++

	var once sync.Once
	drop := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.holds[user.ID] <= 1 {
				delete(r.holds, user.ID)
				return
			}
			r.holds[user.ID]--
		})
	}
	return store, drop, nil
}

// Held reports whether a reader currently holds the user's store.
func (r *Registry) Held(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.holds[userID] > 0
}

func (r *Registry) acquireLocked(ctx context.Context, user *models.User) (*CategoryStore, error) {
	if store, ok := r.stores[user.ID]; ok {
		return store, nil
	}

	store := NewCategoryStore(r.docs, user, r.opts...)
	if err := store.Open(context.WithoutCancel(ctx)); err != nil {
		return nil, fmt.Errorf("failed to open category store: %w", err)
	}
	r.stores[user.ID] = store

	r.logger.Info("category store opened", "user_id", user.ID)
	return store, nil
}

// Get returns the open store for userID, if any.
func (r *Registry) Get(userID string) (*CategoryStore, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	store, ok := r.stores[userID]
	return store, ok
}

// Release closes and forgets the user's store. Unknown users and held stores
// are ignored.
func (r *Registry) Release(userID string) {
	r.mu.Lock()
	if r.holds[userID] > 0 {
		r.mu.Unlock()
		r.logger.Debug("category store still held, not released", "user_id", userID)
		return
	}
	store, ok := r.stores[userID]
	delete(r.stores, userID)
	r.mu.Unlock()

	if !ok {
		return
	}
	store.Close()
	r.logger.Info("category store released", "user_id", userID)
}

// Users lists the ids of users with an open store.
func (r *Registry) Users() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.stores))
	for id := range r.stores {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	stores := r.stores
	r.stores = make(map[string]*CategoryStore)
	r.holds = make(map[string]int)
	r.mu.Unlock()

	for _, store := range stores {
		store.Close()
	}
	r.logger.Info("category stores closed", "count", len(stores))
}
