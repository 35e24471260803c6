package storer

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Storer persists memory records. Implementations must be safe for
// concurrent use; each call is atomic on its own.
type Storer interface {
	// Insert assigns a fresh Id (and CreatedAt when zero) and returns the stored record.
	Insert(ctx context.Context, rec Record) (Record, error)
	// Delete removes a record. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
	// Scan returns every record in a stable, store-defined order.
	Scan(ctx context.Context) ([]Record, error)
	// Search returns the nearest neighbors of vector with Score set to their similarity.
	Search(ctx context.Context, vector []float32, limit int) ([]Record, error)
	// Recent returns records created within window, newest first.
	Recent(ctx context.Context, limit int, window time.Duration) ([]Record, error)
	Close() error
}
