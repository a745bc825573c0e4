// Package tree keeps the signed-in user's topics and the active topic's
// notes in memory and is the only way the UI reads or edits them.
//
// Every edit is applied optimistically: the in-memory forest and the local
// cache are updated before the call returns, and the remote write happens
// later on a background writer. When the remote store cannot be reached
// the write goes into the durable replay queue instead, and the caller is
// never told. Writes the remote store rejects for good are reported
// through the error handler; local state is not rolled back.
//
// The remote store pushes full snapshots of the topic list and of the
// active topic's notes. Each snapshot replaces the matching in-memory set
// wholesale and is mirrored into the cache, so an optimistic edit is only
// final once it comes back in a snapshot.
package tree

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/codenotes/notesync/pkg/cache"
	"github.com/codenotes/notesync/pkg/logger"
	"github.com/codenotes/notesync/pkg/models"
	"github.com/codenotes/notesync/pkg/remote"
)

// DefaultRemoteTimeout bounds a direct remote write.
const DefaultRemoteTimeout = 10 * time.Second

// Notifier is poked after a write lands in the replay queue.
type Notifier interface {
	Notify()
}

// Enqueuer appends a write to the replay queue. The cache itself is used
// when none is configured.
type Enqueuer interface {
	Enqueue(ctx context.Context, m models.Mutation) (uint64, error)
}

// Status reports background activity.
type Status struct {
	// TopicsLoading is true until the first topic snapshot arrives.
	TopicsLoading bool

	// NotesLoading is true from a topic switch until the first note
	// snapshot of the new topic arrives.
	NotesLoading bool

	// IsSaving is true while remote writes are pending on the writer.
	IsSaving bool
}

// Store is the in-memory topic/note tree of one user.
type Store struct {
	owner    models.UserID
	cache    cache.Cache
	remote   remote.DocumentStore
	notifier Notifier
	queue    Enqueuer
	log      logger.Logger
	onError  remote.ErrorHandler
	now      func() time.Time
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	writer *writer
	wg     sync.WaitGroup

	mu          sync.RWMutex
	topics      []models.Topic
	notes       map[models.NoteID]*models.Note
	index       *childIndex
	activeTopic models.TopicID
	activeNote  *models.NoteID
	dirty       bool
	closed      bool

	topicsLoading bool
	notesLoading  bool
	topicsGen     uint64
	notesGen      uint64
	topicsSub     *remote.Subscription
	notesSub      *remote.Subscription
	changed       chan struct{}
}

// Option configures a Store.
type Option func(*Store)

func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithErrorHandler receives remote writes rejected for good.
func WithErrorHandler(h remote.ErrorHandler) Option {
	return func(s *Store) { s.onError = h }
}

// WithNotifier is poked whenever a write is queued for replay.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithQueue routes writes that cannot go direct through q instead of
// straight into the cache's queue.
func WithQueue(q Enqueuer) Option {
	return func(s *Store) { s.queue = q }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRemoteTimeout bounds each direct remote write.
func WithRemoteTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// New loads owner's topics from the cache, starts the background writer
// and subscribes to the remote topic list. Caller must call Close.
func New(ctx context.Context, owner models.UserID, c cache.Cache, r remote.DocumentStore, opts ...Option) (*Store, error) {
	if owner.IsZero() {
		return nil, fmt.Errorf("tree: owner is required")
	}

	s := &Store{
		owner:   owner,
		cache:   c,
		remote:  r,
		log:     logger.Nop(),
		onError: func(remote.ErrorEvent) {},
		now:     func() time.Time { return time.Now().UTC() },
		timeout: DefaultRemoteTimeout,
		notes:   make(map[models.NoteID]*models.Note),
		index:   newChildIndex(),
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.queue == nil {
		s.queue = c
	}

	topics, err := c.ListTopics(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load cached topics: %w", err)
	}
	s.topics = topics

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.writer = newWriter(s.send)

	s.mu.Lock()
	s.topicsLoading = true
	gen := s.topicsGen
	s.mu.Unlock()

	s.wg.Add(1)
	go s.subscribeTopics(gen)

	s.log.Info("tree store started", "owner", owner.String(), "cached_topics", len(topics))
	return s, nil
}

// Close cancels both subscriptions and flushes the writer. Writes that did
// not reach the remote store by then are queued for replay.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	topicsSub, notesSub := s.topicsSub, s.notesSub
	s.topicsSub, s.notesSub = nil, nil
	s.topicsGen++
	s.notesGen++
	s.mu.Unlock()

	if topicsSub != nil {
		topicsSub.Cancel()
	}
	if notesSub != nil {
		notesSub.Cancel()
	}
	s.cancel()
	s.writer.close()
	s.wg.Wait()
	return nil
}

// WaitIdle blocks until every remote write issued so far has completed or
// been queued for replay.
func (s *Store) WaitIdle(ctx context.Context) error {
	return s.writer.wait(ctx)
}

// WaitLoaded blocks until neither the topic list nor the active topic's
// notes are waiting for their first snapshot.
func (s *Store) WaitLoaded(ctx context.Context) error {
	for {
		s.mu.RLock()
		loading := s.topicsLoading || s.notesLoading
		changed := s.changed
		s.mu.RUnlock()
		if !loading {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Changed returns a channel closed on the next change of the tree.
func (s *Store) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// notifyLocked wakes everyone waiting on Changed. Must hold s.mu.
func (s *Store) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Status reports background activity.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		TopicsLoading: s.topicsLoading,
		NotesLoading:  s.notesLoading,
		IsSaving:      s.writer.saving(),
	}
}

// Owner returns the user whose tree this is.
func (s *Store) Owner() models.UserID {
	return s.owner
}

// Topics returns the topics in creation order.
func (s *Store) Topics() []models.Topic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Topic(nil), s.topics...)
}

// Topic returns one topic.
func (s *Store) Topic(id models.TopicID) (models.Topic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.topicIndexLocked(id)
	if i < 0 {
		return models.Topic{}, false
	}
	return s.topics[i], true
}

// Notes returns every note of the active topic, roots first, each level in
// sibling order (depth first).
func (s *Store) Notes() []models.Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Note, 0, len(s.notes))
	var walk func(parent *models.NoteID)
	walk = func(parent *models.NoteID) {
		for _, n := range s.index.of(parent) {
			out = append(out, n.Clone())
			walk(n.ID.Ptr())
		}
	}
	walk(nil)
	return out
}

// Note returns one note of the active topic.
func (s *Store) Note(id models.NoteID) (models.Note, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[id]
	if !ok {
		return models.Note{}, false
	}
	return n.Clone(), true
}

// SubNotes returns the direct children of parent, or the roots when parent
// is nil, in sibling order. It reads the in-memory index only.
func (s *Store) SubNotes(parent *models.NoteID) []models.Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	children := s.index.of(parent)
	out := make([]models.Note, len(children))
	for i, n := range children {
		out[i] = n.Clone()
	}
	return out
}

// ActiveTopic returns the active topic.
func (s *Store) ActiveTopic() (models.Topic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeTopic.IsZero() {
		return models.Topic{}, false
	}
	i := s.topicIndexLocked(s.activeTopic)
	if i < 0 {
		return models.Topic{ID: s.activeTopic}, true
	}
	return s.topics[i], true
}

// ActiveNote returns the active note if it is still loaded.
func (s *Store) ActiveNote() (models.Note, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeNote == nil {
		return models.Note{}, false
	}
	n, ok := s.notes[*s.activeNote]
	if !ok {
		return models.Note{}, false
	}
	return n.Clone(), true
}

// SetActiveNote selects a loaded note, or clears the selection when id is
// nil.
func (s *Store) SetActiveNote(id *models.NoteID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == nil {
		s.activeNote = nil
		s.notifyLocked()
		return nil
	}
	if _, ok := s.notes[*id]; !ok {
		return fmt.Errorf("note %s: %w", id, ErrNotFound)
	}
	s.activeNote = id.Ptr()
	s.notifyLocked()
	return nil
}

// MarkDirty sets the unsaved-edit flag.
func (s *Store) MarkDirty(dirty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = dirty
}

// Dirty reports the unsaved-edit flag.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// IsDescendant reports whether id sits anywhere below ancestor.
func (s *Store) IsDescendant(ancestor, id models.NoteID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isDescendantLocked(ancestor, id)
}

// isDescendantLocked walks the parent chain upward from id.
func (s *Store) isDescendantLocked(ancestor, id models.NoteID) bool {
	seen := map[models.NoteID]bool{}
	cur, ok := s.notes[id]
	for ok && cur.ParentID != nil {
		parent := *cur.ParentID
		if parent == ancestor {
			return true
		}
		if seen[parent] {
			return false
		}
		seen[parent] = true
		cur, ok = s.notes[parent]
	}
	return false
}

func (s *Store) topicIndexLocked(id models.TopicID) int {
	for i := range s.topics {
		if s.topics[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) sortTopicsLocked() {
	sort.SliceStable(s.topics, func(i, j int) bool { return models.TopicLess(&s.topics[i], &s.topics[j]) })
}

// stamp returns the current time, strictly after prev.
func (s *Store) stamp(prev time.Time) time.Time {
	now := s.now()
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	return now
}

// submitLocked hands m to the background writer. Must hold s.mu.
func (s *Store) submitLocked(m models.Mutation) {
	if err := s.writer.push(m); err != nil {
		s.log.Warn("write dropped after close", "mutation", m.String())
	}
}

func (s *Store) checkOpen() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}
