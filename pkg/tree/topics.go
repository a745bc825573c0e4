package tree

import (
	"context"
	"fmt"
	"strings"

	"github.com/codenotes/notesync/pkg/cache"
	"github.com/codenotes/notesync/pkg/models"
)

// SetActiveTopic switches the loaded notes to topic id. The active note and
// the unsaved-edit flag are cleared; unsaved edits are abandoned. The zero
// ID leaves no topic active.
func (s *Store) SetActiveTopic(ctx context.Context, id models.TopicID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	if id.IsZero() {
		s.clearActiveTopicLocked()
		s.notifyLocked()
		return nil
	}
	if s.topicIndexLocked(id) < 0 {
		return fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}

	cached, err := s.cache.NotesForTopic(ctx, id)
	if err != nil {
		return fmt.Errorf("load cached notes: %w", err)
	}

	s.clearActiveTopicLocked()
	s.activeTopic = id
	for i := range cached {
		n := cached[i]
		s.notes[n.ID] = &n
	}
	s.index.rebuild(s.notes)
	s.notesLoading = true

	s.wg.Add(1)
	go s.subscribeNotes(s.notesGen, id)

	s.log.Debug("active topic changed", "topic", id.String(), "cached_notes", len(cached))
	s.notifyLocked()
	return nil
}

// AddTopic creates a topic owned by the store's user.
func (s *Store) AddTopic(ctx context.Context, name string) (models.Topic, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Topic{}, ErrEmptyName
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return models.Topic{}, err
	}

	now := s.now()
	t := models.Topic{
		ID:        models.NewTopicID(),
		OwnerID:   s.owner,
		Name:      name,
		CreatedAt: now,
	}
	if err := s.cache.PutTopic(ctx, t); err != nil {
		return models.Topic{}, fmt.Errorf("cache topic: %w", err)
	}

	s.topics = append(s.topics, t)
	s.sortTopicsLocked()
	s.submitLocked(models.AddMutation(models.TopicDocument(t), now))
	s.notifyLocked()
	return t, nil
}

// RenameTopic changes a topic's name in place.
func (s *Store) RenameTopic(ctx context.Context, id models.TopicID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	i := s.topicIndexLocked(id)
	if i < 0 {
		return fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}
	if s.topics[i].Name == name {
		return nil
	}

	fields := models.TopicFields(models.TopicPatch{Name: &name}, s.now())
	t := s.topics[i]
	fields.ApplyTopic(&t)
	if err := s.cache.PutTopic(ctx, t); err != nil {
		return fmt.Errorf("cache topic: %w", err)
	}

	s.topics[i] = t
	s.submitLocked(models.UpdateMutation(models.TopicPath(s.owner, id), fields, fields.UpdatedAt))
	s.notifyLocked()
	return nil
}

// DeleteTopic deletes a topic together with every one of its notes, cached
// or loaded, as one unit. If the local delete fails nothing changes.
func (s *Store) DeleteTopic(ctx context.Context, id models.TopicID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	i := s.topicIndexLocked(id)
	if i < 0 {
		return fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}

	cached, err := s.cache.NotesForTopic(ctx, id)
	if err != nil {
		return fmt.Errorf("load cached notes: %w", err)
	}
	victims := make(map[models.NoteID]struct{}, len(cached))
	for _, n := range cached {
		victims[n.ID] = struct{}{}
	}
	if s.activeTopic == id {
		for nid := range s.notes {
			victims[nid] = struct{}{}
		}
	}

	batch := cache.Batch{DeleteTopics: []models.TopicID{id}}
	paths := []models.DocumentPath{models.TopicPath(s.owner, id)}
	for nid := range victims {
		batch.DeleteNotes = append(batch.DeleteNotes, nid)
		paths = append(paths, models.NotePath(s.owner, id, nid))
	}
	if err := s.cache.Apply(ctx, batch); err != nil {
		return fmt.Errorf("delete topic %s: %w", id, err)
	}

	s.topics = append(s.topics[:i], s.topics[i+1:]...)
	if s.activeTopic == id {
		s.clearActiveTopicLocked()
	}
	s.submitLocked(models.DeleteMutation(paths, s.now()))
	s.log.Info("topic deleted", "topic", id.String(), "notes", len(victims))
	s.notifyLocked()
	return nil
}
