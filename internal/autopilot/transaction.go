package autopilot

import (
	"fmt"
	"os"

	"github.com/veilleur-project/veilleur/internal/watcher"
)

// storeTransaction guards vector store mutations. The snapshot is
// taken up front; Close rolls back unless Commit was called, which
// also covers panics and context cancellation via defer.
type storeTransaction struct {
	snapshotter watcher.SnapshotStore
	token       []byte
	path        string
	hadFile     bool
	committed   bool
}

// beginStoreTransaction snapshots the store. Stores without snapshot
// support fall back to a raw copy of their backing file.
func beginStoreTransaction(store watcher.VectorStore) (*storeTransaction, error) {
	tx := &storeTransaction{}
	if snapshotter, ok := store.(watcher.SnapshotStore); ok {
		token, err := snapshotter.Snapshot()
		if err != nil {
			return nil, fmt.Errorf("snapshot store: %w", err)
		}
		tx.snapshotter = snapshotter
		tx.token = token
		return tx, nil
	}
	if fileBacked, ok := store.(watcher.FileBackedStore); ok {
		tx.path = fileBacked.Path()
		raw, err := os.ReadFile(tx.path)
		switch {
		case os.IsNotExist(err):
			tx.hadFile = false
		case err != nil:
			return nil, fmt.Errorf("snapshot store file: %w", err)
		default:
			tx.hadFile = true
			tx.token = raw
		}
	}
	return tx, nil
}

// Commit marks the transaction successful; Close becomes a no-op.
func (t *storeTransaction) Commit() {
	t.committed = true
}

// Close rolls the store back to the snapshot unless committed.
func (t *storeTransaction) Close() error {
	if t.committed {
		return nil
	}
	return t.rollback()
}

func (t *storeTransaction) rollback() error {
	if t.snapshotter != nil {
		if err := t.snapshotter.Restore(t.token); err != nil {
			return fmt.Errorf("restore store: %w", err)
		}
		return nil
	}
	if t.path == "" {
		return nil
	}
	if !t.hadFile {
		if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove store file: %w", err)
		}
		return nil
	}
	if err := os.WriteFile(t.path, t.token, 0o644); err != nil {
		return fmt.Errorf("restore store file: %w", err)
	}
	return nil
}
