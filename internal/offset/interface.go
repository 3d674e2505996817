package offset

import (
	"context"
	"time"

	"github.com/SteelMorgan/cutthelog/internal/domain"
)

// OffsetStore stores and retrieves the read state of log files
// Implementations: text cache file (primary), BoltDB (optional)
type OffsetStore interface {
	// Get retrieves the state for a given file
	// Returns nil when nothing is stored
	Get(ctx context.Context, id domain.FileIdentity) (*domain.StateRecord, error)

	// Set replaces the state for a given file
	Set(ctx context.Context, id domain.FileIdentity, record domain.StateRecord) error

	// Delete removes the state for a given file
	Delete(ctx context.Context, id domain.FileIdentity) error

	// List returns all stored states
	List(ctx context.Context) (map[domain.FileIdentity]domain.StateRecord, error)

	// Close releases the store and any lock it holds
	Close() error
}

// Locker is implemented by stores that need an explicit lock to keep two
// runs from interleaving their read-modify-write cycles
type Locker interface {
	Lock(ctx context.Context, timeout time.Duration) error
}
