package models

import (
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoteIDCBORRecordID(t *testing.T) {
	id := NewNoteID()

	data, err := cbor.Marshal(id)
	require.NoError(t, err)

	var tag cbor.Tag
	require.NoError(t, cbor.Unmarshal(data, &tag))
	assert.Equal(t, uint64(8), tag.Number)
	assert.Equal(t, []any{"notes", id.String()}, tag.Content)

	var decoded NoteID
	require.NoError(t, cbor.Unmarshal(data, &decoded))
	assert.Equal(t, id, decoded)
}

func TestNoteIDRejectsForeignTable(t *testing.T) {
	topic := NewTopicID()
	data, err := cbor.Marshal(topic)
	require.NoError(t, err)

	var note NoteID
	err = cbor.Unmarshal(data, &note)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected table notes")
}

func TestTopicIDJSON(t *testing.T) {
	id := NewTopicID()
	data, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"`+id.String()+`"`, string(data))

	var decoded TopicID
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, id, decoded)
}

func TestParseNoteType(t *testing.T) {
	typ, err := ParseNoteType(" Code ")
	require.NoError(t, err)
	assert.Equal(t, NoteTypeCode, typ)

	_, err = ParseNoteType("spreadsheet")
	require.Error(t, err)
}

func TestNoteTypeStub(t *testing.T) {
	assert.Equal(t, CodeStub, NoteTypeCode.Stub())
	assert.Equal(t, TextStub, NoteTypeText.Stub())
	assert.Equal(t, TextStub, NoteTypeFolder.Stub())
}

func TestSiblingLess(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first := &Note{ID: NewNoteID(), CreatedAt: base}
	second := &Note{ID: NewNoteID(), CreatedAt: base.Add(time.Second)}
	moved := &Note{ID: NewNoteID(), CreatedAt: base.Add(2 * time.Second), Position: -1}

	notes := []*Note{second, moved, first}
	sort.SliceStable(notes, func(i, j int) bool { return SiblingLess(notes[i], notes[j]) })
	assert.Equal(t, []*Note{moved, first, second}, notes)
}

func TestNoteCloneCopiesParent(t *testing.T) {
	parent := NewNoteID()
	n := Note{ID: NewNoteID(), ParentID: &parent}

	c := n.Clone()
	*c.ParentID = NewNoteID()
	assert.Equal(t, parent, *n.ParentID)
}

func TestFieldsMapAllowList(t *testing.T) {
	title := "Array Sorting"
	name := "JavaScript"
	now := time.Now()

	f := Fields{Name: &name, Title: &title, UpdatedAt: now}

	assert.Equal(t, map[string]any{"name": name}, f.Map(KindTopic))
	assert.Equal(t, map[string]any{"title": title, "updated_at": now}, f.Map(KindNote))
}

func TestMoveFieldsPromoteToRoot(t *testing.T) {
	parent := NewNoteID()
	n := Note{ID: NewNoteID(), ParentID: &parent}

	f := MoveFields(nil, time.Now())
	m := f.Map(KindNote)
	v, ok := m["parent_id"]
	assert.True(t, ok)
	assert.Nil(t, v)

	f.ApplyNote(&n)
	assert.Nil(t, n.ParentID)
}

func TestMutationValidate(t *testing.T) {
	owner := NewUserID()
	topic := Topic{ID: NewTopicID(), OwnerID: owner, Name: "Go"}

	add := AddMutation(TopicDocument(topic), time.Now())
	require.NoError(t, add.Validate())
	assert.Equal(t, KindTopic, add.Target)

	del := DeleteMutation([]DocumentPath{TopicPath(owner, topic.ID)}, time.Now())
	require.NoError(t, del.Validate())

	bad := Mutation{Action: ActionUpdate}
	require.Error(t, bad.Validate())
}

func TestMutationCBORRoundTrip(t *testing.T) {
	owner := NewUserID()
	parent := NewNoteID()
	note := Note{
		ID:        NewNoteID(),
		TopicID:   NewTopicID(),
		ParentID:  &parent,
		Title:     "Edge Cases",
		Type:      NoteTypeCode,
		Content:   CodeStub,
		CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	m := AddMutation(NoteDocument(note), note.CreatedAt)
	m.ID = 7

	data, err := cbor.Marshal(m)
	require.NoError(t, err)

	var decoded Mutation
	require.NoError(t, cbor.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.Document)
	require.NotNil(t, decoded.Document.Note)
	assert.Equal(t, note.ID, decoded.Document.Note.ID)
	assert.Equal(t, parent, *decoded.Document.Note.ParentID)

	path, err := decoded.Document.Path(owner)
	require.NoError(t, err)
	assert.Equal(t, NotePath(owner, note.TopicID, note.ID), path)
}
