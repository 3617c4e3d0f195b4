package services

import (
	"context"
	"encoding/json"
	"errors"
	"expense-categories/models"
	"expense-categories/storage"
	"expense-categories/validator"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CategoriesCollection is the per-user collection holding categories.
const CategoriesCollection = "categories"

// CategoryStore mirrors one user's category collection through a live subscription
// and turns the mutation operations into document store writes.
//
// A store built without a user never subscribes, always reports an empty list, and
// treats every mutation as a successful no-op.
type CategoryStore struct {
	docs      storage.Provider
	user      *models.User
	col       storage.Collection
	colors    *ColorPicker
	validator *validator.Validator
	now       Clock
	newID     IDGenerator
	logger    *slog.Logger

	mu           sync.RWMutex
	categories   []models.Category
	ready        chan struct{}
	isReady      bool
	err          error
	listeners    map[int]Listener
	nextListener int
	closed       chan struct{}

	// lifeMu serializes Open, Reopen and Close
	lifeMu sync.Mutex
	it     storage.Iterator
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a CategoryStore.
type Option func(*CategoryStore)

func WithColorPicker(p *ColorPicker) Option {
	return func(s *CategoryStore) { s.colors = p }
}

func WithClock(c Clock) Option {
	return func(s *CategoryStore) { s.now = c }
}

func WithIDGenerator(g IDGenerator) Option {
	return func(s *CategoryStore) { s.newID = g }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *CategoryStore) { s.logger = l }
}

func WithValidator(v *validator.Validator) Option {
	return func(s *CategoryStore) { s.validator = v }
}

// NewExpenseID returns a time-ordered UUIDv7 string.
func NewExpenseID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewCategoryStore creates a store for user. A nil user yields an inert store.
func NewCategoryStore(docs storage.Provider, user *models.User, opts ...Option) *CategoryStore {
	s := &CategoryStore{
		docs:       docs,
		user:       user,
		categories: []models.Category{},
		ready:      make(chan struct{}),
		listeners:  make(map[int]Listener),
		closed:     make(chan struct{}),
		now:        time.Now,
		newID:      NewExpenseID,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.colors == nil {
		s.colors = NewRandomColorPicker()
	}
	if s.validator == nil {
		s.validator = validator.New()
	}

	if user == nil || user.ID == "" {
		s.user = nil
		s.isReady = true
		close(s.ready)
	} else {
		s.col = storage.UserCollection(user.ID, CategoriesCollection)
		s.logger = s.logger.With("user_id", user.ID)
	}

	return s
}

// Authenticated reports whether the store belongs to a user. Mutations on an
// unauthenticated store return nil without touching the document store.
func (s *CategoryStore) Authenticated() bool {
	return s.user != nil
}

func (s *CategoryStore) User() *models.User {
	return s.user
}

// ==================== LIFECYCLE ====================

// Open starts the live subscription. It is a no-op without a user or when the
// subscription is already running.
func (s *CategoryStore) Open(ctx context.Context) error {
	if !s.Authenticated() {
		return nil
	}

	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.it != nil {
		return nil
	}
	return s.startLocked(ctx)
}

// Reopen tears down the current subscription and opens a new one while keeping the
// last snapshot visible until the new subscription delivers.
func (s *CategoryStore) Reopen(ctx context.Context) error {
	if !s.Authenticated() {
		return nil
	}

	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.stopLocked()
	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()

	return s.startLocked(ctx)
}

// Close releases the subscription and discards the local mirror.
func (s *CategoryStore) Close() {
	if !s.Authenticated() {
		return
	}

	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.stopLocked()

	s.mu.Lock()
	s.categories = []models.Category{}
	s.err = nil
	if s.isReady {
		s.ready = make(chan struct{})
		s.isReady = false
	}
	close(s.closed)
	s.closed = make(chan struct{})
	s.mu.Unlock()
}

// Closed returns a channel that is closed by the next Close. Listeners get no
// further snapshots after it fires.
func (s *CategoryStore) Closed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Running reports whether a subscription is open and has not failed.
func (s *CategoryStore) Running() bool {
	s.lifeMu.Lock()
	open := s.it != nil
	s.lifeMu.Unlock()
	return open && s.Err() == nil
}

func (s *CategoryStore) startLocked(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	it, err := s.docs.Subscribe(ctx, s.col)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to %s: %w", s.col, err)
	}

	s.it = it
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.listen(it, s.done)

	s.logger.Debug("category subscription opened", "collection", s.col.String())
	return nil
}

func (s *CategoryStore) stopLocked() {
	if s.it == nil {
		return
	}
	s.cancel()
	s.it.Stop()
	<-s.done

	s.it = nil
	s.cancel = nil
	s.done = nil
	s.logger.Debug("category subscription closed", "collection", s.col.String())
}

// listen applies snapshots until the iterator stops or fails.
func (s *CategoryStore) listen(it storage.Iterator, done chan struct{}) {
	defer close(done)

	for {
		snap, err := it.Next()
		if errors.Is(err, storage.ErrStopped) {
			return
		}
		if err != nil {
			s.logger.Error("category subscription failed", "error", err)
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}

		categories := s.decodeSnapshot(snap)
		s.apply(categories)
	}
}

// apply swaps in a full snapshot and notifies listeners with their own copy.
func (s *CategoryStore) apply(categories []models.Category) {
	s.mu.Lock()
	s.categories = categories
	if !s.isReady {
		s.isReady = true
		close(s.ready)
	}
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(cloneCategories(categories))
	}
}

// ==================== STATE ====================

// Categories returns a copy of the last snapshot.
func (s *CategoryStore) Categories() []models.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneCategories(s.categories)
}

// Category looks up a category in the local mirror.
func (s *CategoryStore) Category(id string) (models.Category, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.categories {
		if c.ID == id {
			return cloneCategory(c), true
		}
	}
	return models.Category{}, false
}

// WaitReady blocks until the first snapshot has been applied.
func (s *CategoryStore) WaitReady(ctx context.Context) error {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the error that ended the subscription, if any.
func (s *CategoryStore) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Listen registers fn for every future snapshot and returns a function removing it.
func (s *CategoryStore) Listen(fn Listener) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// ==================== MUTATIONS ====================

// AddCategory creates a category document with an empty expense list. The new
// category becomes visible through the subscription.
func (s *CategoryStore) AddCategory(ctx context.Context, in models.NewCategory) error {
	if !s.Authenticated() {
		return nil
	}
	if err := s.validator.Validate(&in); err != nil {
		return err
	}

	color := in.Color
	if color == "" {
		color = s.colors.Pick()
	}

	_, err := s.docs.Create(ctx, s.col, storage.Fields{
		"name":     in.Name,
		"icon":     in.Icon,
		"color":    color,
		"expenses": []any{},
	})
	if err != nil {
		return fmt.Errorf("failed to add category: %w", err)
	}
	return nil
}

func (s *CategoryStore) DeleteCategory(ctx context.Context, id string) error {
	if !s.Authenticated() {
		return nil
	}
	if err := s.docs.Delete(ctx, s.col, id); err != nil {
		return fmt.Errorf("failed to delete category %s: %w", id, err)
	}
	return nil
}

// UpdateCategory merges the supplied fields into the category document.
func (s *CategoryStore) UpdateCategory(ctx context.Context, id string, upd models.CategoryUpdate) error {
	if !s.Authenticated() {
		return nil
	}
	if err := s.validator.Validate(&upd); err != nil {
		return err
	}
	if upd.Empty() {
		return nil
	}

	fields := storage.Fields{}
	if upd.Name != nil {
		fields["name"] = *upd.Name
	}
	if upd.Icon != nil {
		fields["icon"] = *upd.Icon
	}
	if upd.Color != nil {
		fields["color"] = *upd.Color
	}
	if upd.Expenses != nil {
		fields["expenses"] = expenseFields(*upd.Expenses)
	}

	if err := s.docs.Update(ctx, s.col, id, fields); err != nil {
		return fmt.Errorf("failed to update category %s: %w", id, err)
	}
	return nil
}

// AddExpense appends an expense to a category known to the local mirror. The
// append runs as a transaction on the stored document, so concurrent appends
// never overwrite each other.
func (s *CategoryStore) AddExpense(ctx context.Context, categoryID string, in models.NewExpense) error {
	if !s.Authenticated() {
		return nil
	}
	if err := s.validator.Validate(&in); err != nil {
		return err
	}
	if _, ok := s.Category(categoryID); !ok {
		return nil
	}

	expense := models.Expense{
		ID:          s.newID(),
		Amount:      in.Amount,
		Description: in.Description,
		Date:        in.Date,
	}
	if expense.Date == "" {
		expense.Date = s.now().UTC().Format(models.DateLayout)
	}

	err := s.modifyExpenses(ctx, categoryID, func(expenses []any) []any {
		return append(expenses, expenseMap(expense))
	})
	if err != nil {
		return fmt.Errorf("failed to add expense to category %s: %w", categoryID, err)
	}
	return nil
}

// DeleteExpense removes an expense by id. The replacement list is written even
// when no expense matched.
func (s *CategoryStore) DeleteExpense(ctx context.Context, categoryID, expenseID string) error {
	if !s.Authenticated() {
		return nil
	}
	if _, ok := s.Category(categoryID); !ok {
		return nil
	}

	err := s.modifyExpenses(ctx, categoryID, func(expenses []any) []any {
		kept := make([]any, 0, len(expenses))
		for _, e := range expenses {
			if m, ok := e.(map[string]any); ok && m["id"] == expenseID {
				continue
			}
			kept = append(kept, e)
		}
		return kept
	})
	if err != nil {
		return fmt.Errorf("failed to delete expense %s: %w", expenseID, err)
	}
	return nil
}

// modifyExpenses rewrites a category's expense list from its stored state.
// Stored entries are passed through untouched, including fields this service
// does not know. A category deleted since the local lookup is treated as absent.
func (s *CategoryStore) modifyExpenses(ctx context.Context, categoryID string, fn func([]any) []any) error {
	err := s.docs.Transact(ctx, s.col, categoryID, func(current storage.Document) (storage.Fields, error) {
		stored, _ := current.Data["expenses"].([]any)
		return storage.Fields{"expenses": fn(slices.Clone(stored))}, nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Debug("category vanished before expense write", "category_id", categoryID)
		return nil
	}
	return err
}

// ==================== MAPPING ====================

// decodeSnapshot maps every document of snap. Documents with fields of an
// unexpected shape are kept with those fields zeroed.
func (s *CategoryStore) decodeSnapshot(snap *storage.Snapshot) []models.Category {
	categories := make([]models.Category, 0, len(snap.Documents))
	for _, doc := range snap.Documents {
		c, malformed := categoryFromDocument(doc)
		if len(malformed) > 0 {
			s.logger.Warn("category document has unexpected fields", "category_id", doc.ID, "fields", malformed)
		}
		categories = append(categories, c)
	}
	return categories
}

// categoryFromDocument reads a category field by field and returns the names of
// fields it could not interpret.
func categoryFromDocument(doc storage.Document) (models.Category, []string) {
	var malformed []string
	str := func(data map[string]any, key, path string) string {
		v, ok := stringValue(data[key])
		if !ok {
			malformed = append(malformed, path)
		}
		return v
	}

	c := models.Category{
		ID:       doc.ID,
		Name:     str(doc.Data, "name", "name"),
		Icon:     str(doc.Data, "icon", "icon"),
		Color:    str(doc.Data, "color", "color"),
		Expenses: []models.Expense{},
	}

	raw := doc.Data["expenses"]
	if raw == nil {
		return c, malformed
	}
	list, ok := raw.([]any)
	if !ok {
		return c, append(malformed, "expenses")
	}

	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			malformed = append(malformed, fmt.Sprintf("expenses[%d]", i))
			continue
		}
		amount, ok := numberValue(m["amount"])
		if !ok {
			malformed = append(malformed, fmt.Sprintf("expenses[%d].amount", i))
		}
		c.Expenses = append(c.Expenses, models.Expense{
			ID:          str(m, "id", fmt.Sprintf("expenses[%d].id", i)),
			Amount:      amount,
			Description: str(m, "description", fmt.Sprintf("expenses[%d].description", i)),
			Date:        str(m, "date", fmt.Sprintf("expenses[%d].date", i)),
		})
	}
	return c, malformed
}

// stringValue accepts a missing value or a string.
func stringValue(v any) (string, bool) {
	switch v := v.(type) {
	case nil:
		return "", true
	case string:
		return v, true
	default:
		return "", false
	}
}

// numberValue accepts a missing value, any JSON or Firestore number, or a
// numeric string.
func numberValue(v any) (float64, bool) {
	switch v := v.(type) {
	case nil:
		return 0, true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func expenseMap(e models.Expense) map[string]any {
	return map[string]any{
		"id":          e.ID,
		"amount":      e.Amount,
		"description": e.Description,
		"date":        e.Date,
	}
}

func expenseFields(expenses []models.Expense) []any {
	out := make([]any, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, expenseMap(e))
	}
	return out
}

func cloneCategory(c models.Category) models.Category {
	c.Expenses = append([]models.Expense{}, c.Expenses...)
	return c
}

func cloneCategories(in []models.Category) []models.Category {
	out := make([]models.Category, len(in))
	for i, c := range in {
		out[i] = cloneCategory(c)
	}
	return out
}
