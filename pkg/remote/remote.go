// Package remote defines the capability contract notesync consumes from the
// realtime document database that holds the canonical copy of every topic
// and note.
//
// The contract is deliberately small: full-collection snapshot
// subscriptions, idempotent create, partial update, all-or-nothing batch
// delete and a filtered query used to discover cascade members. Two
// implementations ship with the module: [github.com/codenotes/notesync/pkg/remote/surrealdb]
// for production and [github.com/codenotes/notesync/pkg/remote/memstore] for
// tests and offline demos.
package remote

import (
	"context"

	"github.com/codenotes/notesync/pkg/models"
)

// Query selects the documents of one collection.
type Query struct {
	Collection models.CollectionPath

	// Parent restricts a note query to the direct children of a note.
	// HasParent must be set for Parent to apply; a nil Parent with
	// HasParent selects root notes.
	Parent    *models.NoteID
	HasParent bool
}

// TopicsQuery selects every topic owned by owner.
func TopicsQuery(owner models.UserID) Query {
	return Query{Collection: models.TopicsOf(owner)}
}

// NotesQuery selects every note of a topic.
func NotesQuery(owner models.UserID, topic models.TopicID) Query {
	return Query{Collection: models.NotesOf(owner, topic)}
}

// ChildrenQuery selects the direct children of parent, or the roots when
// parent is nil.
func ChildrenQuery(owner models.UserID, topic models.TopicID, parent *models.NoteID) Query {
	return Query{Collection: models.NotesOf(owner, topic), Parent: parent, HasParent: true}
}

// Matches reports whether doc belongs to the result set of q.
func (q Query) Matches(doc models.Document) bool {
	switch q.Collection.Kind {
	case models.KindTopic:
		return doc.Kind == models.KindTopic && doc.Topic != nil &&
			doc.Topic.OwnerID == q.Collection.OwnerID
	case models.KindNote:
		if doc.Kind != models.KindNote || doc.Note == nil || doc.Note.TopicID != q.Collection.TopicID {
			return false
		}
		if q.HasParent {
			return models.SameNote(doc.Note.ParentID, q.Parent)
		}
		return true
	}
	return false
}

// Snapshot is the full current content of a subscribed collection.
type Snapshot struct {
	Query     Query
	Documents []models.Document
}

// Topics returns the topics carried by the snapshot.
func (s Snapshot) Topics() []models.Topic {
	topics := make([]models.Topic, 0, len(s.Documents))
	for _, doc := range s.Documents {
		if doc.Kind == models.KindTopic && doc.Topic != nil {
			topics = append(topics, *doc.Topic)
		}
	}
	return topics
}

// Notes returns the notes carried by the snapshot.
func (s Snapshot) Notes() []models.Note {
	notes := make([]models.Note, 0, len(s.Documents))
	for _, doc := range s.Documents {
		if doc.Kind == models.KindNote && doc.Note != nil {
			notes = append(notes, doc.Note.Clone())
		}
	}
	return notes
}

// DocumentStore is the remote document database.
type DocumentStore interface {
	// Subscribe starts a live query. The first snapshot carries the current
	// content; each later one is pushed after any document in the set
	// changes. Snapshots of one subscription arrive in write order.
	Subscribe(ctx context.Context, q Query) (*Subscription, error)

	// Create stores doc under collection and returns its ID. Creating a
	// document whose ID already exists overwrites it, so replaying an add
	// is harmless.
	Create(ctx context.Context, collection models.CollectionPath, doc models.Document) (string, error)

	// Update merges the allow-listed fields into the document at path.
	Update(ctx context.Context, path models.DocumentPath, fields models.Fields) error

	// DeleteBatch deletes every path or none of them.
	DeleteBatch(ctx context.Context, paths []models.DocumentPath) error

	// Query returns the documents matching q.
	Query(ctx context.Context, q Query) ([]models.Document, error)
}

// Apply replays a queued mutation against store.
func Apply(ctx context.Context, store DocumentStore, owner models.UserID, m models.Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}
	switch m.Action {
	case models.ActionAdd:
		path, err := m.Document.Path(owner)
		if err != nil {
			return err
		}
		_, err = store.Create(ctx, path.Collection, *m.Document)
		return err
	case models.ActionUpdate:
		return store.Update(ctx, m.Update.Path, m.Update.Fields)
	default:
		paths, err := CascadePaths(ctx, store, m.Delete)
		if err != nil {
			return err
		}
		return store.DeleteBatch(ctx, paths)
	}
}

// CascadePaths completes a delete batch with every remote note of each
// deleted topic and every remote descendant of each deleted note. Notes never
// loaded on this device, or added by another device after the delete was
// queued, are still part of the cascade.
func CascadePaths(ctx context.Context, store DocumentStore, paths []models.DocumentPath) ([]models.DocumentPath, error) {
	seen := make(map[string]struct{}, len(paths))
	out := make([]models.DocumentPath, 0, len(paths))
	add := func(p models.DocumentPath) bool {
		if _, ok := seen[p.String()]; ok {
			return false
		}
		seen[p.String()] = struct{}{}
		out = append(out, p)
		return true
	}
	for _, p := range paths {
		add(p)
	}

	wholeTopic := make(map[models.TopicID]struct{})
	for _, p := range paths {
		if p.Collection.Kind != models.KindTopic {
			continue
		}
		topic, err := models.ParseTopicID(p.ID)
		if err != nil {
			return nil, err
		}
		wholeTopic[topic] = struct{}{}
		owner := p.Collection.OwnerID
		docs, err := store.Query(ctx, NotesQuery(owner, topic))
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			if doc.Note != nil {
				add(models.NotePath(owner, topic, doc.Note.ID))
			}
		}
	}

	// Breadth-first over the deleted notes of topics that stay.
	var pending []models.DocumentPath
	for _, p := range paths {
		if p.Collection.Kind != models.KindNote {
			continue
		}
		if _, ok := wholeTopic[p.Collection.TopicID]; !ok {
			pending = append(pending, p)
		}
	}
	for len(pending) > 0 {
		p := pending[0]
		pending = pending[1:]
		id, err := models.ParseNoteID(p.ID)
		if err != nil {
			return nil, err
		}
		owner, topic := p.Collection.OwnerID, p.Collection.TopicID
		docs, err := store.Query(ctx, ChildrenQuery(owner, topic, &id))
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			if doc.Note == nil {
				continue
			}
			child := models.NotePath(owner, topic, doc.Note.ID)
			if add(child) {
				pending = append(pending, child)
			}
		}
	}
	return out, nil
}
