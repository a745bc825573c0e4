package models

import "fmt"

// Kind identifies which entity collection a document or mutation targets.
type Kind string

const (
	KindTopic Kind = "topic"
	KindNote  Kind = "note"
)

// Table returns the remote table backing documents of this kind.
func (k Kind) Table() string {
	if k == KindTopic {
		return TableTopics
	}
	return TableNotes
}

// CollectionPath addresses a collection of documents: all topics of an owner,
// or all notes of one topic.
type CollectionPath struct {
	Kind    Kind    `json:"kind"`
	OwnerID UserID  `json:"owner_id"`
	TopicID TopicID `json:"topic_id"`
}

// TopicsOf returns the collection holding every topic of owner.
func TopicsOf(owner UserID) CollectionPath {
	return CollectionPath{Kind: KindTopic, OwnerID: owner}
}

// NotesOf returns the collection holding every note of a topic.
func NotesOf(owner UserID, topic TopicID) CollectionPath {
	return CollectionPath{Kind: KindNote, OwnerID: owner, TopicID: topic}
}

func (c CollectionPath) String() string {
	if c.Kind == KindTopic {
		return fmt.Sprintf("users/%s/topics", c.OwnerID)
	}
	return fmt.Sprintf("users/%s/topics/%s/notes", c.OwnerID, c.TopicID)
}

// DocumentPath addresses a single document inside a collection.
type DocumentPath struct {
	Collection CollectionPath `json:"collection"`
	ID         string         `json:"id"`
}

// TopicPath returns the path of a topic document.
func TopicPath(owner UserID, id TopicID) DocumentPath {
	return DocumentPath{Collection: TopicsOf(owner), ID: id.String()}
}

// NotePath returns the path of a note document.
func NotePath(owner UserID, topic TopicID, id NoteID) DocumentPath {
	return DocumentPath{Collection: NotesOf(owner, topic), ID: id.String()}
}

func (p DocumentPath) String() string {
	return p.Collection.String() + "/" + p.ID
}

// Document is a tagged variant carrying exactly one entity.
type Document struct {
	Kind  Kind   `json:"kind"`
	Topic *Topic `json:"topic,omitempty"`
	Note  *Note  `json:"note,omitempty"`
}

// TopicDocument wraps a topic.
func TopicDocument(t Topic) Document {
	return Document{Kind: KindTopic, Topic: &t}
}

// NoteDocument wraps a note.
func NoteDocument(n Note) Document {
	n = n.Clone()
	return Document{Kind: KindNote, Note: &n}
}

// Path returns the document path of the wrapped entity.
func (d Document) Path(owner UserID) (DocumentPath, error) {
	switch d.Kind {
	case KindTopic:
		if d.Topic == nil {
			return DocumentPath{}, fmt.Errorf("topic document without topic")
		}
		return TopicPath(owner, d.Topic.ID), nil
	case KindNote:
		if d.Note == nil {
			return DocumentPath{}, fmt.Errorf("note document without note")
		}
		return NotePath(owner, d.Note.TopicID, d.Note.ID), nil
	default:
		return DocumentPath{}, fmt.Errorf("unknown document kind %q", d.Kind)
	}
}
