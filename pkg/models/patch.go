package models

import (
	"errors"
	"time"
)

// ErrEmptyPatch is returned when a patch would change nothing.
var ErrEmptyPatch = errors.New("patch changes no fields")

// TopicPatch lists the topic fields a caller may change.
type TopicPatch struct {
	Name *string
}

// NotePatch lists the note fields a caller may change through an edit.
// Structural fields (parent, topic, type) are not patchable here; they change
// only through creation or reparenting.
type NotePatch struct {
	Title    *string
	Content  *string
	Language *string
}

// IsEmpty reports whether the patch sets no field.
func (p NotePatch) IsEmpty() bool {
	return p.Title == nil && p.Content == nil && p.Language == nil
}

// ParentChange describes a structural move. A nil ID promotes to root.
type ParentChange struct {
	ID *NoteID `json:"id,omitempty"`
}

// Fields is the full allow-list of document fields an update mutation can
// carry. Every update stamps UpdatedAt.
type Fields struct {
	Name      *string       `json:"name,omitempty"`
	Title     *string       `json:"title,omitempty"`
	Content   *string       `json:"content,omitempty"`
	Language  *string       `json:"language,omitempty"`
	Parent    *ParentChange `json:"parent,omitempty"`
	Position  *float64      `json:"position,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// TopicFields converts a topic patch into update fields.
func TopicFields(p TopicPatch, now time.Time) Fields {
	return Fields{Name: p.Name, UpdatedAt: now}
}

// NoteFields converts a note patch into update fields.
func NoteFields(p NotePatch, now time.Time) Fields {
	return Fields{Title: p.Title, Content: p.Content, Language: p.Language, UpdatedAt: now}
}

// MoveFields builds the update fields for a reparent.
func MoveFields(parent *NoteID, now time.Time) Fields {
	var change ParentChange
	if parent != nil {
		change.ID = parent.Ptr()
	}
	return Fields{Parent: &change, UpdatedAt: now}
}

// Map returns the remote field names and values to merge into a document of
// the given kind. Fields that do not belong to the kind are dropped.
func (f Fields) Map(kind Kind) map[string]any {
	m := map[string]any{}
	if kind == KindTopic {
		if f.Name != nil {
			m["name"] = *f.Name
		}
		return m
	}
	if f.Title != nil {
		m["title"] = *f.Title
	}
	if f.Content != nil {
		m["content"] = *f.Content
	}
	if f.Language != nil {
		m["language"] = *f.Language
	}
	if f.Parent != nil {
		if f.Parent.ID == nil {
			m["parent_id"] = nil
		} else {
			m["parent_id"] = *f.Parent.ID
		}
	}
	if f.Position != nil {
		m["position"] = *f.Position
	}
	m["updated_at"] = f.UpdatedAt
	return m
}

// ApplyTopic writes the fields onto t.
func (f Fields) ApplyTopic(t *Topic) {
	if f.Name != nil {
		t.Name = *f.Name
	}
}

// ApplyNote writes the fields onto n.
func (f Fields) ApplyNote(n *Note) {
	if f.Title != nil {
		n.Title = *f.Title
	}
	if f.Content != nil {
		n.Content = *f.Content
	}
	if f.Language != nil {
		n.Language = *f.Language
	}
	if f.Parent != nil {
		if f.Parent.ID == nil {
			n.ParentID = nil
		} else {
			n.ParentID = f.Parent.ID.Ptr()
		}
	}
	if f.Position != nil {
		n.Position = *f.Position
	}
	if !f.UpdatedAt.IsZero() {
		n.UpdatedAt = f.UpdatedAt
	}
}
