package ports

import (
	"context"

	"github.com/aretw0/audiencia/pkg/domain"
)

// SnapshotStore mirrors the sync engine cache outside the process.
// Keys are session ids; the engine deletes the entry when the session is left.
type SnapshotStore interface {
	// Save persists the snapshot for a session.
	Save(ctx context.Context, sessionID int64, snap *domain.Snapshot) error

	// Load retrieves the snapshot for a session.
	// Returns domain.ErrNotFound if there is none.
	Load(ctx context.Context, sessionID int64) (*domain.Snapshot, error)

	// Delete removes the snapshot for a session.
	Delete(ctx context.Context, sessionID int64) error

	// List returns the session ids with a stored snapshot.
	List(ctx context.Context) ([]int64, error)
}
