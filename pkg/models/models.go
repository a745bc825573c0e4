package models

import (
	"fmt"
	"strings"
	"time"
)

// NoteType represents the kind of content a note holds
type NoteType string

const (
	NoteTypeCode   NoteType = "code"
	NoteTypeText   NoteType = "text"
	NoteTypeFolder NoteType = "folder"
)

// Default content written into freshly created notes.
const (
	CodeStub = "// Start coding here..."
	TextStub = "<p>Start writing your notes here...</p>"
)

// ParseNoteType validates s against the known note types.
func ParseNoteType(s string) (NoteType, error) {
	t := NoteType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown note type %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the known note types.
func (t NoteType) Valid() bool {
	switch t {
	case NoteTypeCode, NoteTypeText, NoteTypeFolder:
		return true
	}
	return false
}

// Stub returns the placeholder content for a new note of type t.
func (t NoteType) Stub() string {
	if t == NoteTypeCode {
		return CodeStub
	}
	return TextStub
}

// Topic is the top-level grouping of a user's notes.
type Topic struct {
	ID        TopicID   `json:"id"`
	OwnerID   UserID    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Note is a titled content unit inside a topic, optionally nested under
// another note of the same topic.
//
// Position is an optional explicit sibling order. Notes that were never
// reordered keep position 0 and sort by creation time.
type Note struct {
	ID        NoteID    `json:"id"`
	TopicID   TopicID   `json:"topic_id"`
	ParentID  *NoteID   `json:"parent_id,omitempty"`
	Title     string    `json:"title"`
	Type      NoteType  `json:"type"`
	Content   string    `json:"content"`
	Language  string    `json:"language,omitempty"`
	Position  float64   `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsRoot reports whether n sits at the top of its topic's forest.
func (n *Note) IsRoot() bool {
	return n.ParentID == nil
}

// Clone returns a deep copy of n.
func (n Note) Clone() Note {
	if n.ParentID != nil {
		n.ParentID = n.ParentID.Ptr()
	}
	return n
}

// SiblingLess orders notes by explicit position, then creation time, then ID.
// The ID tie-break keeps ordering stable for notes created in the same instant.
func SiblingLess(a, b *Note) bool {
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// TopicLess orders topics by creation time, then ID.
func TopicLess(a, b *Topic) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}
