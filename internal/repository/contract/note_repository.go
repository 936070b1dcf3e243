package contract

import (
	"context"

	"collab-notes-core/internal/entity"
)

// NoteRepository owns the authoritative local view of the note collection.
// Observe runs the reconciliation pass on every remote snapshot; mutations
// are partial-field patches against the remote store with last-write-wins
// semantics.
type NoteRepository interface {
	// Observe subscribes to the full collection and delivers the
	// reconciled, sorted list after each remote snapshot. Re-callable;
	// the returned cancel tears down only this observation.
	Observe(ctx context.Context, onList func([]*entity.Note), onErr func(error)) (func(), error)

	Create(ctx context.Context, name string) (*entity.Note, error)
	Rename(ctx context.Context, id, newName string) error
	TogglePin(ctx context.Context, id string) error
	SetLock(ctx context.Context, id, pinCode string) error
	Unlock(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) error
	DeleteAll(ctx context.Context) error

	// Get and Search read the cached reconciled view.
	Get(id string) (*entity.Note, bool)
	Search(term string) []*entity.Note
}
