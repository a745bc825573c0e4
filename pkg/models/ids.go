package models

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Table names used for record IDs in the remote store.
const (
	TableUsers  = "users"
	TableTopics = "topics"
	TableNotes  = "notes"
)

// recordIDTag is the CBOR tag SurrealDB uses for record IDs.
const recordIDTag = 8

// UserID is a typed ID for the signed-in account owning topics
type UserID struct {
	uuid uuid.UUID
}

func NewUserID() UserID {
	return UserID{uuid: uuid.New()}
}

func ParseUserID(s string) (UserID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return UserID{}, fmt.Errorf("invalid user ID: %w", err)
	}
	return UserID{uuid: id}, nil
}

func (u UserID) UUID() uuid.UUID { return u.uuid }
func (u UserID) String() string  { return u.uuid.String() }
func (u UserID) IsZero() bool    { return u.uuid == uuid.Nil }

func (u UserID) RecordID() surrealmodels.RecordID {
	return surrealmodels.RecordID{Table: TableUsers, ID: u.uuid.String()}
}

func (u UserID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.uuid.String())
}

func (u *UserID) UnmarshalJSON(data []byte) error {
	return unmarshalJSONID(data, &u.uuid)
}

func (u UserID) MarshalCBOR() ([]byte, error) {
	return marshalCBORID(TableUsers, u.uuid)
}

func (u *UserID) UnmarshalCBOR(data []byte) error {
	return unmarshalCBORID(data, TableUsers, &u.uuid)
}

// TopicID is a typed ID for topics
type TopicID struct {
	uuid uuid.UUID
}

func NewTopicID() TopicID {
	return TopicID{uuid: uuid.New()}
}

func ParseTopicID(s string) (TopicID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return TopicID{}, fmt.Errorf("invalid topic ID: %w", err)
	}
	return TopicID{uuid: id}, nil
}

func (t TopicID) UUID() uuid.UUID { return t.uuid }
func (t TopicID) String() string  { return t.uuid.String() }
func (t TopicID) IsZero() bool    { return t.uuid == uuid.Nil }

func (t TopicID) RecordID() surrealmodels.RecordID {
	return surrealmodels.RecordID{Table: TableTopics, ID: t.uuid.String()}
}

func (t TopicID) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.uuid.String())
}

func (t *TopicID) UnmarshalJSON(data []byte) error {
	return unmarshalJSONID(data, &t.uuid)
}

func (t TopicID) MarshalCBOR() ([]byte, error) {
	return marshalCBORID(TableTopics, t.uuid)
}

func (t *TopicID) UnmarshalCBOR(data []byte) error {
	return unmarshalCBORID(data, TableTopics, &t.uuid)
}

// NoteID is a typed ID for notes and sub-notes
type NoteID struct {
	uuid uuid.UUID
}

func NewNoteID() NoteID {
	return NoteID{uuid: uuid.New()}
}

func ParseNoteID(s string) (NoteID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NoteID{}, fmt.Errorf("invalid note ID: %w", err)
	}
	return NoteID{uuid: id}, nil
}

func (n NoteID) UUID() uuid.UUID { return n.uuid }
func (n NoteID) String() string  { return n.uuid.String() }
func (n NoteID) IsZero() bool    { return n.uuid == uuid.Nil }

// Ptr returns a pointer to a copy of n, handy for optional parent references.
func (n NoteID) Ptr() *NoteID { return &n }

func (n NoteID) RecordID() surrealmodels.RecordID {
	return surrealmodels.RecordID{Table: TableNotes, ID: n.uuid.String()}
}

func (n NoteID) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.uuid.String())
}

func (n *NoteID) UnmarshalJSON(data []byte) error {
	return unmarshalJSONID(data, &n.uuid)
}

func (n NoteID) MarshalCBOR() ([]byte, error) {
	return marshalCBORID(TableNotes, n.uuid)
}

func (n *NoteID) UnmarshalCBOR(data []byte) error {
	return unmarshalCBORID(data, TableNotes, &n.uuid)
}

// SameNote reports whether two optional note references point at the same note.
// Two nil references are equal.
func SameNote(a, b *NoteID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func unmarshalJSONID(data []byte, target *uuid.UUID) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*target = id
	return nil
}

func marshalCBORID(table string, id uuid.UUID) ([]byte, error) {
	return cbor.Marshal(cbor.Tag{
		Number:  recordIDTag,
		Content: []any{table, id.String()},
	})
}

// unmarshalCBORID decodes a SurrealDB record ID (CBOR tag 8 wrapping
// [table, id]) into target, checking the table matches.
func unmarshalCBORID(data []byte, expectedTable string, target *uuid.UUID) error {
	if len(data) == 0 {
		return fmt.Errorf("empty CBOR data")
	}

	// Major type 6 is a tag.
	majorType := data[0] >> 5
	if majorType != 6 {
		return fmt.Errorf("expected CBOR tag for record ID, got major type %d", majorType)
	}

	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return fmt.Errorf("failed to unmarshal CBOR tag: %w", err)
	}

	if tag.Number != recordIDTag {
		return fmt.Errorf("expected record ID tag (%d), got %d", recordIDTag, tag.Number)
	}

	arr, ok := tag.Content.([]any)
	if !ok || len(arr) != 2 {
		return fmt.Errorf("invalid record ID format: expected [table, id] array")
	}

	table, ok := arr[0].(string)
	if !ok {
		return fmt.Errorf("invalid record ID format: table name must be string")
	}
	if table != expectedTable {
		return fmt.Errorf("expected table %s, got %s", expectedTable, table)
	}

	idStr, ok := arr[1].(string)
	if !ok {
		return fmt.Errorf("invalid record ID format: ID must be string")
	}

	parsed, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("invalid UUID in record ID: %w", err)
	}

	*target = parsed
	return nil
}
