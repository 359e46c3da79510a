// Package remote provides the typed sync client over the persistence and
// realtime collaborators.
//
// The Store and Feed interfaces are the contracts any backing store must
// honor. Client layers error classification, session checks and commit hooks
// on top of them.
package remote

import (
	"context"

	"github.com/quillnotes/quill/internal/note"
)

// CreateInput holds the user-supplied fields of a new note.
type CreateInput struct {
	Title   string
	Content string
}

// Store is the persistence collaborator.
//
// Every operation is atomic for a single record. Implementations wrap the
// sentinel errors in errors.go so failures can be classified.
type Store interface {
	// Create inserts a note for ownerID. The store assigns the ID and both
	// timestamps. Tags start empty and the note starts unpinned.
	Create(ctx context.Context, ownerID string, in CreateInput) (note.Note, error)

	// Get reads one of ownerID's notes.
	//
	// Returns ErrNotFound if the note does not exist or belongs to another
	// owner.
	Get(ctx context.Context, ownerID, id string) (note.Note, error)

	// Update applies only the fields present in patch and bumps UpdatedAt.
	//
	// Returns ErrNotFound if ownerID has no such note.
	Update(ctx context.Context, ownerID, id string, patch note.Patch) (note.Note, error)

	// Delete removes one of ownerID's notes. Deleting a missing note, or one
	// that belongs to another owner, is a no-op.
	Delete(ctx context.Context, ownerID, id string) error

	// List returns the owner's notes, pinned first, then most recently
	// updated first.
	List(ctx context.Context, ownerID string) ([]note.Note, error)

	// Search returns the owner's notes whose title or content contains text,
	// ignoring case, in List order. A blank text equals List.
	Search(ctx context.Context, ownerID, text string) ([]note.Note, error)
}

// EventKind is the type of change a Feed reports.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"

	// EventRefresh means something changed but the source cannot say what,
	// e.g. another process wrote to a shared database file.
	EventRefresh EventKind = "refresh"
)

// Event is a change notification. It only identifies the record; listeners
// must not treat it as a snapshot.
type Event struct {
	Kind    EventKind `json:"kind"`
	OwnerID string    `json:"owner_id"`
	NoteID  string    `json:"note_id,omitempty"`
}

// Feed is the realtime change collaborator.
type Feed interface {
	// Subscribe starts delivering events scoped to ownerID.
	Subscribe(ctx context.Context, ownerID string) (Subscription, error)
}

// Subscription is a live change stream.
type Subscription interface {
	// Events delivers change notifications.
	Events() <-chan Event

	// Done is closed when the stream ends, either because Close was called
	// or because the transport was lost.
	Done() <-chan struct{}

	// Err returns why the stream ended, or nil after Close.
	Err() error

	// Close ends the stream.
	Close() error
}
