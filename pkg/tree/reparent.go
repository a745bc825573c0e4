package tree

import (
	"context"
	"fmt"

	"github.com/codenotes/notesync/pkg/cache"
	"github.com/codenotes/notesync/pkg/models"
)

// Reparent moves dragged under target, or to the topic root when target is
// nil. Dropping a note on itself or on its current parent changes nothing.
// A target below dragged is rejected with ErrCycle, a target in another
// topic with ErrCrossTopic. The note keeps its position value.
func (s *Store) Reparent(ctx context.Context, dragged models.NoteID, target *models.NoteID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	cur, ok := s.notes[dragged]
	if !ok {
		return fmt.Errorf("note %s: %w", dragged, ErrNotFound)
	}
	if target != nil && *target == dragged {
		return nil
	}
	if models.SameNote(cur.ParentID, target) {
		return nil
	}
	if target != nil {
		if err := s.checkParentLocked(ctx, *target); err != nil {
			return err
		}
		if s.isDescendantLocked(dragged, *target) {
			return fmt.Errorf("move %s under %s: %w", dragged, target, ErrCycle)
		}
	}

	fields := models.MoveFields(target, s.stamp(cur.UpdatedAt))
	next := cur.Clone()
	fields.ApplyNote(&next)
	if err := s.cache.PutNote(ctx, next); err != nil {
		return fmt.Errorf("cache note: %w", err)
	}

	s.index.remove(cur)
	*cur = next
	s.index.insert(cur)
	s.submitLocked(models.UpdateMutation(models.NotePath(s.owner, cur.TopicID, dragged), fields, fields.UpdatedAt))
	s.notifyLocked()
	return nil
}

// MoveBefore reorders dragged among its siblings so it sits right before
// before, or last when before is nil. The note gets a position between its
// new neighbours; when they share a position the whole sibling list is
// renumbered.
func (s *Store) MoveBefore(ctx context.Context, dragged models.NoteID, before *models.NoteID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	cur, ok := s.notes[dragged]
	if !ok {
		return fmt.Errorf("note %s: %w", dragged, ErrNotFound)
	}
	if before != nil && *before == dragged {
		return nil
	}

	var sibs []*models.Note
	at := -1
	for _, n := range s.index.of(cur.ParentID) {
		if n.ID == dragged {
			at = len(sibs)
			continue
		}
		sibs = append(sibs, n)
	}

	k := len(sibs)
	if before != nil {
		b, ok := s.notes[*before]
		if !ok {
			return fmt.Errorf("note %s: %w", before, ErrNotFound)
		}
		if !models.SameNote(b.ParentID, cur.ParentID) {
			return fmt.Errorf("move %s before %s: %w", dragged, before, ErrNotSibling)
		}
		for i, n := range sibs {
			if n.ID == *before {
				k = i
				break
			}
		}
	}
	if k == at || len(sibs) == 0 {
		return nil
	}

	var (
		pos      float64
		renumber bool
	)
	switch {
	case k == 0:
		pos = sibs[0].Position - 1
	case k == len(sibs):
		pos = sibs[k-1].Position + 1
	default:
		lo, hi := sibs[k-1].Position, sibs[k].Position
		pos = lo + (hi-lo)/2
		renumber = pos <= lo || pos >= hi
	}

	order := make([]*models.Note, 0, len(sibs)+1)
	order = append(order, sibs[:k]...)
	order = append(order, cur)
	order = append(order, sibs[k:]...)

	positions := map[models.NoteID]float64{dragged: pos}
	if renumber {
		positions = make(map[models.NoteID]float64, len(order))
		for i, n := range order {
			if p := float64(i + 1); p != n.Position || n.ID == dragged {
				positions[n.ID] = p
			}
		}
	}
	return s.repositionLocked(ctx, order, positions)
}

// repositionLocked writes new positions for the notes in order as one cache
// batch and one update per changed note. Must hold s.mu.
func (s *Store) repositionLocked(ctx context.Context, order []*models.Note, positions map[models.NoteID]float64) error {
	var (
		batch   cache.Batch
		updated []models.Note
		writes  []models.Mutation
	)
	for _, n := range order {
		p, ok := positions[n.ID]
		if !ok {
			continue
		}
		fields := models.Fields{Position: &p, UpdatedAt: s.stamp(n.UpdatedAt)}
		next := n.Clone()
		fields.ApplyNote(&next)
		batch.PutNotes = append(batch.PutNotes, next)
		updated = append(updated, next)
		writes = append(writes, models.UpdateMutation(models.NotePath(s.owner, n.TopicID, n.ID), fields, fields.UpdatedAt))
	}
	if err := s.cache.Apply(ctx, batch); err != nil {
		return fmt.Errorf("reorder notes: %w", err)
	}

	for _, next := range updated {
		*s.notes[next.ID] = next
	}
	if len(order) > 0 {
		s.index.resort(order[0].ParentID)
	}
	for _, m := range writes {
		s.submitLocked(m)
	}
	s.notifyLocked()
	return nil
}
