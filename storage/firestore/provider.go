package firestore

import (
	"context"
	"errors"
	"expense-categories/storage"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"golang.org/x/oauth2"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Provider implements storage.Provider on top of Cloud Firestore.
type Provider struct {
	client *firestore.Client
}

var _ storage.Provider = (*Provider)(nil)

// New wraps an existing Firestore client.
func New(client *firestore.Client) *Provider {
	return &Provider{client: client}
}

// NewFromApp returns a provider backed by the Firestore client of an initialized Firebase app.
func NewFromApp(ctx context.Context, app *firebase.App) (*Provider, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting firestore client: %w", err)
	}

	slog.Info("connected to Cloud Firestore")
	return New(client), nil
}

// NewWithToken builds a Firestore client authorized by a static OAuth2 access token.
func NewWithToken(ctx context.Context, projectID, accessToken string) (*Provider, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	client, err := firestore.NewClient(ctx, projectID, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("error creating firestore client: %w", err)
	}
	return New(client), nil
}

func (p *Provider) collection(col storage.Collection) (*firestore.CollectionRef, error) {
	if !col.Valid() {
		return nil, fmt.Errorf("invalid collection path %q", col)
	}
	segs := col.Segments()
	ref := p.client.Collection(segs[0])
	for i := 1; i+1 < len(segs); i += 2 {
		ref = ref.Doc(segs[i]).Collection(segs[i+1])
	}
	return ref, nil
}

func (p *Provider) Subscribe(ctx context.Context, col storage.Collection) (storage.Iterator, error) {
	ref, err := p.collection(col)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	return &snapshotIterator{
		col:    col,
		ctx:    ctx,
		cancel: cancel,
		it:     ref.Snapshots(ctx),
	}, nil
}

func (p *Provider) Create(ctx context.Context, col storage.Collection, data storage.Fields) (string, error) {
	ref, err := p.collection(col)
	if err != nil {
		return "", err
	}
	doc, _, err := ref.Add(ctx, map[string]interface{}(data))
	if err != nil {
		return "", fmt.Errorf("failed to create document in %s: %w", col, err)
	}
	return doc.ID, nil
}

func (p *Provider) Delete(ctx context.Context, col storage.Collection, id string) error {
	ref, err := p.collection(col)
	if err != nil {
		return err
	}
	if _, err := ref.Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, mapError(err))
	}
	return nil
}

func (p *Provider) Update(ctx context.Context, col storage.Collection, id string, data storage.Fields) error {
	ref, err := p.collection(col)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := ref.Doc(id).Update(ctx, toUpdates(data)); err != nil {
		return fmt.Errorf("failed to update document %s: %w", id, mapError(err))
	}
	return nil
}

func (p *Provider) Transact(ctx context.Context, col storage.Collection, id string, fn func(current storage.Document) (storage.Fields, error)) error {
	ref, err := p.collection(col)
	if err != nil {
		return err
	}
	doc := ref.Doc(id)

	err = p.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil {
			return mapError(err)
		}
		data, err := fn(storage.Document{ID: snap.Ref.ID, Data: snap.Data()})
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return nil
		}
		return tx.Update(doc, toUpdates(data))
	})
	if errors.Is(err, storage.ErrSkip) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("transaction on document %s failed: %w", id, err)
	}
	return nil
}

func (p *Provider) Close() error {
	return p.client.Close()
}

// toUpdates converts a field set to top-level Firestore updates in a stable order.
func toUpdates(data storage.Fields) []firestore.Update {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	updates := make([]firestore.Update, 0, len(keys))
	for _, k := range keys {
		updates = append(updates, firestore.Update{Path: k, Value: data[k]})
	}
	return updates
}

func mapError(err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %v", storage.ErrNotFound, err)
	}
	return err
}

type snapshotIterator struct {
	col    storage.Collection
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	it   *firestore.QuerySnapshotIterator
	done bool
}

func (s *snapshotIterator) Next() (*storage.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil, storage.ErrStopped
	}

	qs, err := s.it.Next()
	if err != nil {
		s.done = true
		s.it.Stop()
		if err == iterator.Done || s.ctx.Err() != nil || status.Code(err) == codes.Canceled {
			return nil, storage.ErrStopped
		}
		return nil, fmt.Errorf("snapshot listener on %s failed: %w", s.col, err)
	}

	docs, err := qs.Documents.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot of %s: %w", s.col, err)
	}

	snap := &storage.Snapshot{Collection: s.col, Documents: make([]storage.Document, 0, len(docs))}
	for _, d := range docs {
		snap.Documents = append(snap.Documents, storage.Document{ID: d.Ref.ID, Data: d.Data()})
	}
	return snap, nil
}

// Stop cancels the listener. A blocked Next returns ErrStopped.
func (s *snapshotIterator) Stop() {
	s.cancel()
}
