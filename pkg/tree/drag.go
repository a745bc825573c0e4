package tree

import (
	"context"
	"fmt"
	"sync"

	"github.com/codenotes/notesync/pkg/models"
)

// DropTarget tracks one drag gesture over the note tree. It holds
// presentation state only; nothing is written until Drop.
type DropTarget struct {
	store *Store

	mu        sync.Mutex
	dragged   *models.NoteID
	candidate *models.NoteID
}

func NewDropTarget(s *Store) *DropTarget {
	return &DropTarget{store: s}
}

// BeginDrag starts dragging a loaded note, replacing any earlier drag.
func (d *DropTarget) BeginDrag(id models.NoteID) error {
	if _, ok := d.store.Note(id); !ok {
		return fmt.Errorf("note %s: %w", id, ErrNotFound)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dragged = id.Ptr()
	d.candidate = nil
	return nil
}

// Hover records id as the note the dragged note would be dropped into, or
// the topic root when id is nil. The dragged note itself and its
// descendants are never candidates; Hover reports false for them and
// clears the candidate.
func (d *DropTarget) Hover(id *models.NoteID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dragged == nil {
		return false
	}
	if id == nil {
		d.candidate = nil
		return true
	}
	if *id == *d.dragged || d.store.IsDescendant(*d.dragged, *id) {
		d.candidate = nil
		return false
	}
	d.candidate = id.Ptr()
	return true
}

// Candidate returns the current drop target, nil meaning the topic root.
func (d *DropTarget) Candidate() *models.NoteID {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.candidate == nil {
		return nil
	}
	return d.candidate.Ptr()
}

// Dragging returns the dragged note.
func (d *DropTarget) Dragging() (models.NoteID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dragged == nil {
		return models.NoteID{}, false
	}
	return *d.dragged, true
}

// Drop reparents the dragged note under the candidate and ends the drag.
func (d *DropTarget) Drop(ctx context.Context) error {
	d.mu.Lock()
	dragged, target := d.dragged, d.candidate
	d.dragged, d.candidate = nil, nil
	d.mu.Unlock()

	if dragged == nil {
		return ErrNoDrag
	}
	return d.store.Reparent(ctx, *dragged, target)
}

// Cancel ends the drag without writing anything.
func (d *DropTarget) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dragged, d.candidate = nil, nil
}
