package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"expense-categories/storage"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxRetries bounds compare-and-swap attempts for a single update.
const DefaultMaxRetries = 25

// Repository is a SQLite-backed document store. It implements storage.Provider.
type Repository struct {
	db         *DB
	hub        *hub
	maxRetries int
}

var _ storage.Provider = (*Repository)(nil)

func NewRepository(db *DB) *Repository {
	return &Repository{
		db:         db,
		hub:        newHub(),
		maxRetries: DefaultMaxRetries,
	}
}

// ==================== READS ====================

// GetDocument returns a document and its version.
func (r *Repository) GetDocument(ctx context.Context, col storage.Collection, id string) (*storage.Document, int64, error) {
	var raw string
	var version int64
	err := r.db.QueryRowContext(ctx, `
		SELECT data, version
		FROM documents
		WHERE collection = ? AND id = ?
	`, string(col), id).Scan(&raw, &version)

	if err == sql.ErrNoRows {
		return nil, 0, storage.ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}

	data, err := decodeFields(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("document %s: %w", id, err)
	}
	return &storage.Document{ID: id, Data: data}, version, nil
}

// GetSnapshot reads every document of a collection in creation order.
func (r *Repository) GetSnapshot(ctx context.Context, col storage.Collection) (*storage.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, data
		FROM documents
		WHERE collection = ?
		ORDER BY seq ASC
	`, string(col))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// Initialize with empty slice to avoid returning nil
	snap := &storage.Snapshot{Collection: col, Documents: make([]storage.Document, 0)}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		data, err := decodeFields(raw)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", id, err)
		}
		snap.Documents = append(snap.Documents, storage.Document{ID: id, Data: data})
	}

	return snap, rows.Err()
}

// ==================== WRITES ====================

func (r *Repository) Create(ctx context.Context, col storage.Collection, data storage.Fields) (string, error) {
	if !col.Valid() {
		return "", fmt.Errorf("invalid collection path %q", col)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}

	id := uuid.New().String()
	now := time.Now()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, version, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
	`, string(col), id, string(raw), now, now)
	if err != nil {
		return "", fmt.Errorf("failed to create document: %w", err)
	}

	r.hub.notify(col)
	return id, nil
}

func (r *Repository) Delete(ctx context.Context, col storage.Collection, id string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM documents
		WHERE collection = ? AND id = ?
	`, string(col), id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		r.hub.notify(col)
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, col storage.Collection, id string, data storage.Fields) error {
	return r.Transact(ctx, col, id, func(storage.Document) (storage.Fields, error) {
		return data, nil
	})
}

// Transact runs fn against the latest version of the document and merges its result
// with a version check. On a lost race fn is re-run on the fresh document.
func (r *Repository) Transact(ctx context.Context, col storage.Collection, id string, fn func(current storage.Document) (storage.Fields, error)) error {
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		doc, version, err := r.GetDocument(ctx, col, id)
		if err != nil {
			return err
		}

		changes, err := fn(*doc)
		if errors.Is(err, storage.ErrSkip) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			return nil
		}

		for k, v := range changes {
			doc.Data[k] = v
		}
		raw, err := json.Marshal(doc.Data)
		if err != nil {
			return fmt.Errorf("failed to encode document: %w", err)
		}

		res, err := r.db.ExecContext(ctx, `
			UPDATE documents SET
				data = ?,
				version = version + 1,
				updated_at = ?
			WHERE collection = ? AND id = ? AND version = ?
		`, string(raw), time.Now(), string(col), id, version)
		if err != nil {
			return fmt.Errorf("failed to update document: %w", err)
		}

		if n, _ := res.RowsAffected(); n == 1 {
			r.hub.notify(col)
			return nil
		}
	}

	return storage.ErrConflict
}

// ==================== SUBSCRIPTIONS ====================

func (r *Repository) Subscribe(ctx context.Context, col storage.Collection) (storage.Iterator, error) {
	if !col.Valid() {
		return nil, fmt.Errorf("invalid collection path %q", col)
	}

	ctx, cancel := context.WithCancel(ctx)
	return &snapshotIterator{
		repo:   r,
		col:    col,
		ctx:    ctx,
		cancel: cancel,
		w:      r.hub.watch(col),
	}, nil
}

// Subscribers returns the number of live subscriptions on a collection.
func (r *Repository) Subscribers(col storage.Collection) int {
	return r.hub.count(col)
}

// Close stops every subscription and closes the database.
func (r *Repository) Close() error {
	r.hub.close()
	return r.db.Close()
}

type snapshotIterator struct {
	repo    *Repository
	col     storage.Collection
	ctx     context.Context
	cancel  context.CancelFunc
	w       *watcher
	started bool
	once    sync.Once
}

func (it *snapshotIterator) Next() (*storage.Snapshot, error) {
	if it.started {
		select {
		case <-it.w.changed:
		case <-it.ctx.Done():
			return nil, it.stopped()
		case <-it.repo.hub.done:
			return nil, it.stopped()
		}
	}
	it.started = true

	if it.ctx.Err() != nil {
		return nil, it.stopped()
	}

	snap, err := it.repo.GetSnapshot(it.ctx, it.col)
	if err != nil {
		if it.ctx.Err() != nil {
			return nil, it.stopped()
		}
		return nil, fmt.Errorf("failed to snapshot %s: %w", it.col, err)
	}
	return snap, nil
}

func (it *snapshotIterator) Stop() {
	it.cancel()
	it.once.Do(func() {
		it.repo.hub.unwatch(it.col, it.w)
	})
}

func (it *snapshotIterator) stopped() error {
	it.Stop()
	return storage.ErrStopped
}

func decodeFields(raw string) (storage.Fields, error) {
	data := storage.Fields{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	return data, nil
}
