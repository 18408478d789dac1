// Package repository defines the durable session store and its implementations.
package repository

import (
	"context"

	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
)

// Store persists session rows shared by every station of a session.
type Store interface {
	// Apply writes the rows of one delta and bumps the session revision.
	// It returns the revision the write produced.
	Apply(ctx context.Context, sessionID string, d *model.Delta) (int64, error)

	// Snapshot returns the authoritative state of a session.
	// Returns ErrNotFound if the session was never written.
	Snapshot(ctx context.Context, sessionID string) (*model.Snapshot, error)

	// Watch streams session revisions until ctx is done. Consecutive
	// revisions may be coalesced; only the latest matters to readers.
	Watch(ctx context.Context, sessionID string) (<-chan int64, error)

	// Close releases the underlying connections.
	Close() error
}

// Driver names accepted by the configuration.
const (
	DriverMemory    = "memory"
	DriverSQLite    = "sqlite"
	DriverFirestore = "firestore"
)

// offer hands the latest revision to a watcher without blocking. A pending
// older revision is replaced.
func offer(ch chan int64, rev int64) {
	select {
	case ch <- rev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- rev:
	default:
	}
}
