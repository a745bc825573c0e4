package tree

import (
	"context"
	"errors"

	"github.com/codenotes/notesync/pkg/cache"
	"github.com/codenotes/notesync/pkg/models"
	"github.com/codenotes/notesync/pkg/remote"
)

// send runs on the writer goroutine. A write never overtakes the replay
// queue: while anything is queued, new writes are queued behind it.
func (s *Store) send(m models.Mutation) {
	pending, err := s.cache.Pending(context.WithoutCancel(s.ctx))
	if err != nil {
		s.log.Warn("failed to read replay queue length", "error", err)
	}
	if err != nil || pending > 0 {
		s.enqueue(m, nil)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	err = remote.Apply(ctx, s.remote, s.owner, m)
	cancel()

	switch {
	case err == nil:
		s.log.Debug("remote write applied", "mutation", m.String())
	case remote.IsPermanent(err):
		ev := remote.EventFromError(string(m.Action), remote.MutationPath(s.owner, m), err)
		s.log.Error("remote write rejected", "op", ev.Op, "path", ev.Path, "error", err)
		s.onError(ev)
	default:
		s.enqueue(m, err)
	}
}

func (s *Store) enqueue(m models.Mutation, cause error) {
	if cause != nil {
		m.MarkError(cause.Error())
	}
	id, err := s.queue.Enqueue(context.WithoutCancel(s.ctx), m)
	if err != nil {
		if errors.Is(err, cache.ErrClosed) {
			s.log.Error("write lost, cache closed", "mutation", m.String())
			return
		}
		s.log.Error("failed to queue write", "mutation", m.String(), "error", err)
		return
	}
	s.log.Info("write queued for replay", "mutation", m.String(), "queue_id", id, "cause", errString(cause))
	if s.notifier != nil {
		s.notifier.Notify()
	}
}

func errString(err error) string {
	if err == nil {
		return "queue not empty"
	}
	return err.Error()
}

// subscribeTopics runs on its own goroutine for one topic generation.
func (s *Store) subscribeTopics(gen uint64) {
	defer s.wg.Done()

	sub, err := s.remote.Subscribe(s.ctx, remote.TopicsQuery(s.owner))
	if err != nil {
		s.log.Warn("topic subscription failed, serving cached topics", "error", err)
		s.mu.Lock()
		if gen == s.topicsGen {
			s.topicsLoading = false
			s.notifyLocked()
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if gen != s.topicsGen || s.closed {
		s.mu.Unlock()
		sub.Cancel()
		return
	}
	s.topicsSub = sub
	s.mu.Unlock()

	for snap := range sub.Snapshots() {
		s.mu.Lock()
		if gen == s.topicsGen {
			s.applyTopicsLocked(snap)
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	if s.topicsSub == sub {
		s.topicsSub = nil
	}
	s.mu.Unlock()
}

// subscribeNotes runs on its own goroutine for one note generation.
func (s *Store) subscribeNotes(gen uint64, topic models.TopicID) {
	defer s.wg.Done()

	sub, err := s.remote.Subscribe(s.ctx, remote.NotesQuery(s.owner, topic))
	if err != nil {
		s.log.Warn("note subscription failed, serving cached notes", "topic", topic.String(), "error", err)
		s.mu.Lock()
		if gen == s.notesGen {
			s.notesLoading = false
			s.notifyLocked()
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if gen != s.notesGen || s.closed {
		s.mu.Unlock()
		sub.Cancel()
		return
	}
	s.notesSub = sub
	s.mu.Unlock()

	for snap := range sub.Snapshots() {
		s.mu.Lock()
		// Snapshots of a topic we already left are dropped.
		if gen == s.notesGen {
			s.applyNotesLocked(topic, snap)
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	if s.notesSub == sub {
		s.notesSub = nil
	}
	s.mu.Unlock()
}

// Reconnect re-establishes subscriptions that failed or were closed by the
// remote store. Call it when the remote becomes reachable again.
func (s *Store) Reconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.topicsSub == nil {
		s.topicsGen++
		s.wg.Add(1)
		go s.subscribeTopics(s.topicsGen)
	}
	if s.notesSub == nil && !s.activeTopic.IsZero() {
		s.notesGen++
		s.wg.Add(1)
		go s.subscribeNotes(s.notesGen, s.activeTopic)
	}
}

// applyTopicsLocked replaces the topic list with snap and mirrors it into
// the cache. Must hold s.mu.
func (s *Store) applyTopicsLocked(snap remote.Snapshot) {
	topics := snap.Topics()
	keep := make(map[models.TopicID]bool, len(topics))
	for _, t := range topics {
		keep[t.ID] = true
	}

	batch := cache.Batch{PutTopics: topics}
	cached, err := s.cache.ListTopics(s.ctx, s.owner)
	if err != nil {
		s.log.Warn("failed to list cached topics", "error", err)
	}
	for _, t := range cached {
		if keep[t.ID] {
			continue
		}
		batch.DeleteTopics = append(batch.DeleteTopics, t.ID)
		orphans, err := s.cache.NotesForTopic(s.ctx, t.ID)
		if err != nil {
			s.log.Warn("failed to list cached notes", "topic", t.ID.String(), "error", err)
			continue
		}
		for _, n := range orphans {
			batch.DeleteNotes = append(batch.DeleteNotes, n.ID)
		}
	}
	if err := s.cache.Apply(s.ctx, batch); err != nil {
		s.log.Warn("failed to mirror topic snapshot", "error", err)
	}

	s.topics = topics
	s.sortTopicsLocked()
	s.topicsLoading = false

	if !s.activeTopic.IsZero() && !keep[s.activeTopic] {
		s.log.Info("active topic removed remotely", "topic", s.activeTopic.String())
		s.clearActiveTopicLocked()
	}
	s.notifyLocked()
}

// applyNotesLocked replaces the active topic's notes with snap and mirrors
// them into the cache. Must hold s.mu.
func (s *Store) applyNotesLocked(topic models.TopicID, snap remote.Snapshot) {
	notes := snap.Notes()
	next := make(map[models.NoteID]*models.Note, len(notes))
	for i := range notes {
		n := notes[i]
		next[n.ID] = &n
	}

	batch := cache.Batch{PutNotes: notes}
	cached, err := s.cache.NotesForTopic(s.ctx, topic)
	if err != nil {
		s.log.Warn("failed to list cached notes", "topic", topic.String(), "error", err)
	}
	for _, n := range cached {
		if _, ok := next[n.ID]; !ok {
			batch.DeleteNotes = append(batch.DeleteNotes, n.ID)
		}
	}
	if err := s.cache.Apply(s.ctx, batch); err != nil {
		s.log.Warn("failed to mirror note snapshot", "topic", topic.String(), "error", err)
	}

	s.notes = next
	s.index.rebuild(next)
	s.notesLoading = false
	s.notifyLocked()
}

// clearActiveTopicLocked drops the active topic, its notes and its
// subscription. Must hold s.mu.
func (s *Store) clearActiveTopicLocked() {
	if s.notesSub != nil {
		sub := s.notesSub
		s.notesSub = nil
		// Cancel may wait on the network.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sub.Cancel()
		}()
	}
	s.notesGen++
	s.activeTopic = models.TopicID{}
	s.activeNote = nil
	s.dirty = false
	s.notes = make(map[models.NoteID]*models.Note)
	s.index.rebuild(s.notes)
	s.notesLoading = false
}
