package storage

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrConflict = errors.New("document changed concurrently")
	ErrStopped  = errors.New("subscription stopped")
	// ErrSkip is returned from a Transact callback to abort without writing.
	ErrSkip = errors.New("transaction skipped")
)

// Provider is the interface for all document store backends.
// Every operation is scoped to a Collection built from a user id.
type Provider interface {
	// Subscribe opens a live subscription. The first Next call returns the current
	// state of the collection; each later call blocks until the collection changes.
	Subscribe(ctx context.Context, col Collection) (Iterator, error)

	// Create adds a document and returns its store-assigned id.
	Create(ctx context.Context, col Collection, data Fields) (string, error)

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, col Collection, id string) error

	// Update merges data into an existing document. Returns ErrNotFound when absent.
	Update(ctx context.Context, col Collection, id string, data Fields) error

	// Transact reads the current document and writes the fields returned by fn
	// atomically. fn may run more than once.
	Transact(ctx context.Context, col Collection, id string, fn func(current Document) (Fields, error)) error

	Close() error
}

// Iterator yields full snapshots of a collection.
type Iterator interface {
	Next() (*Snapshot, error)
	Stop()
}

// Fields is the field set of a document.
type Fields map[string]any

type Document struct {
	ID   string
	Data Fields
}

// Snapshot is a point-in-time view of every document in a collection, in store order.
type Snapshot struct {
	Collection Collection
	Documents  []Document
}

// Collection is a slash separated path to a collection, e.g. usernames/u1/categories.
type Collection string

// UserCollection returns the named collection owned by userID.
func UserCollection(userID, name string) Collection {
	return Collection("usernames/" + userID + "/" + name)
}

// Segments splits the path into its components.
func (c Collection) Segments() []string {
	return strings.Split(string(c), "/")
}

func (c Collection) String() string {
	return string(c)
}

// Valid reports whether the path has an odd number of non-empty segments.
func (c Collection) Valid() bool {
	segs := c.Segments()
	if len(segs)%2 == 0 {
		return false
	}
	for _, s := range segs {
		if s == "" {
			return false
		}
	}
	return true
}
