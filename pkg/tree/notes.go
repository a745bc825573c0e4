package tree

import (
	"context"
	"errors"
	"fmt"

	"github.com/codenotes/notesync/pkg/cache"
	"github.com/codenotes/notesync/pkg/models"
)

// NewNote describes a note to create in the active topic.
type NewNote struct {
	Title    string
	Type     models.NoteType
	ParentID *models.NoteID
	Language string
}

// AddNote creates a note in the active topic with the stub content of its
// type and makes it the active note.
func (s *Store) AddNote(ctx context.Context, nn NewNote) (models.Note, error) {
	if !nn.Type.Valid() {
		return models.Note{}, fmt.Errorf("%w: %q", ErrInvalidType, nn.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return models.Note{}, err
	}
	if s.activeTopic.IsZero() {
		return models.Note{}, ErrNoActiveTopic
	}
	if nn.ParentID != nil {
		if err := s.checkParentLocked(ctx, *nn.ParentID); err != nil {
			return models.Note{}, err
		}
	}

	now := s.now()
	n := models.Note{
		ID:        models.NewNoteID(),
		TopicID:   s.activeTopic,
		Title:     nn.Title,
		Type:      nn.Type,
		Content:   nn.Type.Stub(),
		Language:  nn.Language,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if nn.ParentID != nil {
		n.ParentID = nn.ParentID.Ptr()
	}
	// Reordered siblings carry positions above zero; a new note goes last.
	for _, sib := range s.index.of(n.ParentID) {
		if sib.Position > n.Position {
			n.Position = sib.Position
		}
	}

	if err := s.cache.PutNote(ctx, n); err != nil {
		return models.Note{}, fmt.Errorf("cache note: %w", err)
	}

	stored := n.Clone()
	s.notes[n.ID] = &stored
	s.index.insert(&stored)
	s.activeNote = n.ID.Ptr()
	s.submitLocked(models.AddMutation(models.NoteDocument(n), now))
	s.notifyLocked()
	return n.Clone(), nil
}

// checkParentLocked makes sure parent is a note of the active topic.
func (s *Store) checkParentLocked(ctx context.Context, parent models.NoteID) error {
	if _, ok := s.notes[parent]; ok {
		return nil
	}
	cached, err := s.cache.GetNote(ctx, parent)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return fmt.Errorf("parent %s: %w", parent, ErrNotFound)
	case err != nil:
		return fmt.Errorf("load parent %s: %w", parent, err)
	case cached.TopicID != s.activeTopic:
		return fmt.Errorf("parent %s: %w", parent, ErrCrossTopic)
	}
	return fmt.Errorf("parent %s: %w", parent, ErrNotFound)
}

// UpdateNote applies patch to a loaded note and stamps UpdatedAt. Only the
// title, content and language can change this way.
func (s *Store) UpdateNote(ctx context.Context, id models.NoteID, patch models.NotePatch) error {
	if patch.IsEmpty() {
		return models.ErrEmptyPatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	cur, ok := s.notes[id]
	if !ok {
		return fmt.Errorf("note %s: %w", id, ErrNotFound)
	}

	fields := models.NoteFields(patch, s.stamp(cur.UpdatedAt))
	next := cur.Clone()
	fields.ApplyNote(&next)
	if err := s.cache.PutNote(ctx, next); err != nil {
		return fmt.Errorf("cache note: %w", err)
	}

	// Title, content and language never move a note among its siblings.
	*cur = next
	if s.activeNote != nil && *s.activeNote == id {
		s.dirty = false
	}
	s.submitLocked(models.UpdateMutation(models.NotePath(s.owner, cur.TopicID, id), fields, fields.UpdatedAt))
	s.notifyLocked()
	return nil
}

// DeleteNote deletes a note and all of its descendants as one unit. If the
// local delete fails nothing changes.
func (s *Store) DeleteNote(ctx context.Context, id models.NoteID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	root, ok := s.notes[id]
	if !ok {
		return fmt.Errorf("note %s: %w", id, ErrNotFound)
	}
	victims := append([]*models.Note{root}, s.index.descendants(id)...)

	batch := cache.Batch{DeleteNotes: make([]models.NoteID, 0, len(victims))}
	paths := make([]models.DocumentPath, 0, len(victims))
	for _, n := range victims {
		batch.DeleteNotes = append(batch.DeleteNotes, n.ID)
		paths = append(paths, models.NotePath(s.owner, n.TopicID, n.ID))
	}
	if err := s.cache.Apply(ctx, batch); err != nil {
		return fmt.Errorf("delete note %s: %w", id, err)
	}

	for _, n := range victims {
		s.index.remove(n)
		delete(s.notes, n.ID)
		if s.activeNote != nil && *s.activeNote == n.ID {
			s.activeNote = nil
			s.dirty = false
		}
	}
	s.submitLocked(models.DeleteMutation(paths, s.now()))
	s.log.Debug("note deleted", "note", id.String(), "descendants", len(victims)-1)
	s.notifyLocked()
	return nil
}
