// Package memstore is an in-process remote.DocumentStore. It keeps every
// document in memory, pushes full snapshots to subscribers in write order
// and can inject failures, which makes it the backend for tests and for the
// offline demo mode of the CLI.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/codenotes/notesync/pkg/models"
	"github.com/codenotes/notesync/pkg/remote"
)

type noteEntry struct {
	owner models.UserID
	note  models.Note
}

type subscriber struct {
	query remote.Query
	sub   *remote.Subscription
}

// Store is an in-memory document store. The zero value is not usable; call New.
type Store struct {
	mu      sync.Mutex
	topics  map[models.TopicID]models.Topic
	notes   map[models.NoteID]noteEntry
	subs    map[int]*subscriber
	nextSub int

	offline  bool
	failNext []error
	denied   []string
	calls    map[string]int
}

var _ remote.DocumentStore = (*Store)(nil)

func New() *Store {
	return &Store{
		topics: make(map[models.TopicID]models.Topic),
		notes:  make(map[models.NoteID]noteEntry),
		subs:   make(map[int]*subscriber),
		calls:  make(map[string]int),
	}
}

// SetOffline makes every call fail with remote.ErrUnavailable until it is
// switched back.
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// FailNext makes the next write (create, update or delete) fail with err.
// Calls queue up: each injected error is consumed by one write.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, err)
}

// DenyPath rejects writes to every document whose path starts with prefix
// with remote.ErrPermissionDenied.
func (s *Store) DenyPath(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied = append(s.denied, prefix)
}

// Calls returns how many times op reached the store, failed calls included.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Writes returns the number of create, update and delete calls.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[remote.OpCreate] + s.calls[remote.OpUpdate] + s.calls[remote.OpDelete]
}

// Subscribers returns the number of live subscriptions.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Topic returns a stored topic.
func (s *Store) Topic(id models.TopicID) (models.Topic, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[id]
	return t, ok
}

// Note returns a stored note.
func (s *Store) Note(id models.NoteID) (models.Note, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.notes[id]
	if !ok {
		return models.Note{}, false
	}
	return e.note.Clone(), true
}

// begin records the call and returns the injected failure, if any. Must be
// called with s.mu held.
func (s *Store) begin(op, path string, write bool) error {
	s.calls[op]++
	if s.offline {
		return &remote.OpError{Op: op, Path: path, Err: remote.ErrUnavailable}
	}
	if !write {
		return nil
	}
	if len(s.failNext) > 0 {
		err := s.failNext[0]
		s.failNext = s.failNext[1:]
		return &remote.OpError{Op: op, Path: path, Err: err}
	}
	return nil
}

func (s *Store) isDenied(path string) bool {
	for _, prefix := range s.denied {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (s *Store) Subscribe(ctx context.Context, q remote.Query) (*remote.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(remote.OpSubscribe, q.Collection.String(), false); err != nil {
		return nil, err
	}

	id := s.nextSub
	s.nextSub++
	sub := remote.NewSubscription(func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	})
	s.subs[id] = &subscriber{query: q, sub: sub}
	sub.Publish(remote.Snapshot{Query: q, Documents: s.match(q)})
	return sub, nil
}

func (s *Store) Create(ctx context.Context, collection models.CollectionPath, doc models.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(remote.OpCreate, collection.String(), true); err != nil {
		return "", err
	}

	var path models.DocumentPath
	switch doc.Kind {
	case models.KindTopic:
		if doc.Topic == nil || collection.Kind != models.KindTopic || doc.Topic.OwnerID != collection.OwnerID {
			return "", &remote.OpError{Op: remote.OpCreate, Path: collection.String(), Err: remote.ErrPermissionDenied}
		}
		path = models.TopicPath(collection.OwnerID, doc.Topic.ID)
	case models.KindNote:
		if doc.Note == nil || collection.Kind != models.KindNote || doc.Note.TopicID != collection.TopicID {
			return "", &remote.OpError{Op: remote.OpCreate, Path: collection.String(), Err: remote.ErrPermissionDenied}
		}
		path = models.NotePath(collection.OwnerID, collection.TopicID, doc.Note.ID)
	default:
		return "", &remote.OpError{Op: remote.OpCreate, Path: collection.String(), Err: remote.ErrPermissionDenied}
	}
	if s.isDenied(path.String()) {
		return "", &remote.OpError{Op: remote.OpCreate, Path: path.String(), Err: remote.ErrPermissionDenied}
	}

	if doc.Kind == models.KindTopic {
		s.topics[doc.Topic.ID] = *doc.Topic
	} else {
		s.notes[doc.Note.ID] = noteEntry{owner: collection.OwnerID, note: doc.Note.Clone()}
	}
	s.publish(collection)
	return path.ID, nil
}

func (s *Store) Update(ctx context.Context, path models.DocumentPath, fields models.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(remote.OpUpdate, path.String(), true); err != nil {
		return err
	}
	if s.isDenied(path.String()) {
		return &remote.OpError{Op: remote.OpUpdate, Path: path.String(), Err: remote.ErrPermissionDenied}
	}

	switch path.Collection.Kind {
	case models.KindTopic:
		id, err := models.ParseTopicID(path.ID)
		if err != nil {
			return &remote.OpError{Op: remote.OpUpdate, Path: path.String(), Err: remote.ErrNotFound}
		}
		t, ok := s.topics[id]
		if !ok || t.OwnerID != path.Collection.OwnerID {
			return &remote.OpError{Op: remote.OpUpdate, Path: path.String(), Err: remote.ErrNotFound}
		}
		fields.ApplyTopic(&t)
		s.topics[id] = t
	default:
		id, err := models.ParseNoteID(path.ID)
		if err != nil {
			return &remote.OpError{Op: remote.OpUpdate, Path: path.String(), Err: remote.ErrNotFound}
		}
		e, ok := s.notes[id]
		if !ok || e.note.TopicID != path.Collection.TopicID {
			return &remote.OpError{Op: remote.OpUpdate, Path: path.String(), Err: remote.ErrNotFound}
		}
		fields.ApplyNote(&e.note)
		s.notes[id] = e
	}
	s.publish(path.Collection)
	return nil
}

// DeleteBatch removes every path in one step. Missing documents are
// skipped so a replayed delete succeeds.
func (s *Store) DeleteBatch(ctx context.Context, paths []models.DocumentPath) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	first := ""
	if len(paths) > 0 {
		first = paths[0].String()
	}
	if err := s.begin(remote.OpDelete, first, true); err != nil {
		return err
	}
	for _, p := range paths {
		if s.isDenied(p.String()) {
			return &remote.OpError{Op: remote.OpDelete, Path: p.String(), Err: remote.ErrPermissionDenied}
		}
	}

	touched := map[string]models.CollectionPath{}
	for _, p := range paths {
		switch p.Collection.Kind {
		case models.KindTopic:
			if id, err := models.ParseTopicID(p.ID); err == nil {
				delete(s.topics, id)
			}
		default:
			if id, err := models.ParseNoteID(p.ID); err == nil {
				delete(s.notes, id)
			}
		}
		touched[p.Collection.String()] = p.Collection
	}
	for _, c := range touched {
		s.publish(c)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q remote.Query) ([]models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(remote.OpQuery, q.Collection.String(), false); err != nil {
		return nil, err
	}
	return s.match(q), nil
}

// match returns the documents of q in sibling order. Must be called with
// s.mu held.
func (s *Store) match(q remote.Query) []models.Document {
	docs := []models.Document{}
	switch q.Collection.Kind {
	case models.KindTopic:
		topics := make([]models.Topic, 0)
		for _, t := range s.topics {
			if t.OwnerID == q.Collection.OwnerID {
				topics = append(topics, t)
			}
		}
		sort.Slice(topics, func(i, j int) bool { return models.TopicLess(&topics[i], &topics[j]) })
		for _, t := range topics {
			docs = append(docs, models.TopicDocument(t))
		}
	case models.KindNote:
		notes := make([]models.Note, 0)
		for _, e := range s.notes {
			if e.owner != q.Collection.OwnerID {
				continue
			}
			if q.Matches(models.NoteDocument(e.note)) {
				notes = append(notes, e.note)
			}
		}
		sort.Slice(notes, func(i, j int) bool { return models.SiblingLess(&notes[i], &notes[j]) })
		for _, n := range notes {
			docs = append(docs, models.NoteDocument(n))
		}
	}
	return docs
}

// publish pushes a fresh snapshot to every subscriber of collection. Must
// be called with s.mu held, which keeps snapshots in write order.
func (s *Store) publish(collection models.CollectionPath) {
	for _, sub := range s.subs {
		if sub.query.Collection != collection {
			continue
		}
		sub.sub.Publish(remote.Snapshot{Query: sub.query, Documents: s.match(sub.query)})
	}
}
