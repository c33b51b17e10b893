package repositories

import (
	"context"

	"github.com/prudhvinik1/pharmasync/internal/models"
)

// QueueRepository is the durable store of pending mutations.
// ListPending always yields entries in ascending id order.
type QueueRepository interface {
	Enqueue(ctx context.Context, endpoint string, method models.Method, payload any) (*models.QueueEntry, error)
	ListPending(ctx context.Context) ([]*models.QueueEntry, error)
	Remove(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// SyncLock serializes sync passes across processes. When ok is false another
// holder owns the lock and the lease is nil.
type SyncLock interface {
	Acquire(ctx context.Context) (lease Lease, ok bool, err error)
}

// Lease is a held SyncLock. Extend pushes the expiry out by the lock TTL and
// returns ErrLockLost once another holder has taken over.
type Lease interface {
	Extend(ctx context.Context) error
	Release(ctx context.Context) error
}
