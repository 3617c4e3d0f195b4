package database

import (
	"context"
	"expense-categories/storage"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRepo(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "docstore-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := New(dbPath)
	require.NoError(t, err)

	err = db.Migrate()
	require.NoError(t, err)

	repo := NewRepository(db)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}

	return repo, cleanup
}

func nextWithin(t *testing.T, it storage.Iterator, d time.Duration) *storage.Snapshot {
	t.Helper()

	type result struct {
		snap *storage.Snapshot
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		snap, err := it.Next()
		ch <- result{snap, err}
	}()

	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.snap
	case <-time.After(d):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func TestDocumentCRUD(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	ctx := context.Background()
	col := storage.UserCollection("user-1", "categories")

	t.Run("Create assigns id and snapshot keeps creation order", func(t *testing.T) {
		first, err := repo.Create(ctx, col, storage.Fields{"name": "Food"})
		require.NoError(t, err)
		second, err := repo.Create(ctx, col, storage.Fields{"name": "Transport"})
		require.NoError(t, err)

		assert.NotEmpty(t, first)
		assert.NotEqual(t, first, second)

		snap, err := repo.GetSnapshot(ctx, col)
		require.NoError(t, err)
		require.Len(t, snap.Documents, 2)
		assert.Equal(t, first, snap.Documents[0].ID)
		assert.Equal(t, "Food", snap.Documents[0].Data["name"])
		assert.Equal(t, second, snap.Documents[1].ID)
	})

	t.Run("Collections are isolated per user", func(t *testing.T) {
		other := storage.UserCollection("user-2", "categories")
		snap, err := repo.GetSnapshot(ctx, other)
		require.NoError(t, err)
		assert.Empty(t, snap.Documents)
		assert.NotNil(t, snap.Documents)
	})

	t.Run("Update merges only supplied fields", func(t *testing.T) {
		id, err := repo.Create(ctx, col, storage.Fields{"name": "Rent", "icon": "home", "color": "#FF6B6B"})
		require.NoError(t, err)

		err = repo.Update(ctx, col, id, storage.Fields{"name": "Housing"})
		require.NoError(t, err)

		doc, version, err := repo.GetDocument(ctx, col, id)
		require.NoError(t, err)
		assert.Equal(t, "Housing", doc.Data["name"])
		assert.Equal(t, "home", doc.Data["icon"])
		assert.Equal(t, "#FF6B6B", doc.Data["color"])
		assert.Equal(t, int64(2), version)
	})

	t.Run("Update missing document returns ErrNotFound", func(t *testing.T) {
		err := repo.Update(ctx, col, "missing", storage.Fields{"name": "X"})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Delete is idempotent", func(t *testing.T) {
		id, err := repo.Create(ctx, col, storage.Fields{"name": "Gone"})
		require.NoError(t, err)

		require.NoError(t, repo.Delete(ctx, col, id))
		require.NoError(t, repo.Delete(ctx, col, id))

		_, _, err = repo.GetDocument(ctx, col, id)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Invalid collection path is rejected", func(t *testing.T) {
		_, err := repo.Create(ctx, storage.Collection("usernames//categories"), storage.Fields{})
		assert.Error(t, err)
	})
}

func TestTransact(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	ctx := context.Background()
	col := storage.UserCollection("user-1", "categories")

	t.Run("Skip leaves document untouched", func(t *testing.T) {
		id, err := repo.Create(ctx, col, storage.Fields{"name": "Food"})
		require.NoError(t, err)

		err = repo.Transact(ctx, col, id, func(storage.Document) (storage.Fields, error) {
			return nil, storage.ErrSkip
		})
		require.NoError(t, err)

		_, version, err := repo.GetDocument(ctx, col, id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), version)
	})

	t.Run("Concurrent appends all survive", func(t *testing.T) {
		id, err := repo.Create(ctx, col, storage.Fields{"items": []any{}})
		require.NoError(t, err)

		const workers = 8
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				errs <- repo.Transact(ctx, col, id, func(doc storage.Document) (storage.Fields, error) {
					items, _ := doc.Data["items"].([]any)
					next := append(append([]any{}, items...), fmt.Sprintf("item-%d", n))
					return storage.Fields{"items": next}, nil
				})
			}(i)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		doc, _, err := repo.GetDocument(ctx, col, id)
		require.NoError(t, err)
		assert.Len(t, doc.Data["items"], workers)
	})

	t.Run("Callback error is returned", func(t *testing.T) {
		id, err := repo.Create(ctx, col, storage.Fields{})
		require.NoError(t, err)

		boom := fmt.Errorf("boom")
		err = repo.Transact(ctx, col, id, func(storage.Document) (storage.Fields, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
	})
}

func TestSubscribe(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	ctx := context.Background()
	col := storage.UserCollection("user-1", "categories")

	_, err := repo.Create(ctx, col, storage.Fields{"name": "Food"})
	require.NoError(t, err)

	it, err := repo.Subscribe(ctx, col)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.Subscribers(col))

	t.Run("First snapshot is the current state", func(t *testing.T) {
		snap := nextWithin(t, it, time.Second)
		require.Len(t, snap.Documents, 1)
	})

	t.Run("Writes deliver a full resnapshot", func(t *testing.T) {
		_, err := repo.Create(ctx, col, storage.Fields{"name": "Transport"})
		require.NoError(t, err)

		snap := nextWithin(t, it, time.Second)
		require.Len(t, snap.Documents, 2)
		assert.Equal(t, "Transport", snap.Documents[1].Data["name"])
	})

	t.Run("Writes to other collections do not wake the subscription", func(t *testing.T) {
		_, err := repo.Create(ctx, storage.UserCollection("user-2", "categories"), storage.Fields{"name": "Other"})
		require.NoError(t, err)

		done := make(chan struct{})
		go func() {
			it.Next()
			close(done)
		}()

		select {
		case <-done:
			t.Fatal("unexpected snapshot")
		case <-time.After(100 * time.Millisecond):
		}

		// Stop unblocks the pending Next
		it.Stop()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Next did not return after Stop")
		}
	})

	t.Run("Stopped iterator reports ErrStopped", func(t *testing.T) {
		_, err := it.Next()
		assert.ErrorIs(t, err, storage.ErrStopped)
		assert.Equal(t, 0, repo.Subscribers(col))
	})
}
