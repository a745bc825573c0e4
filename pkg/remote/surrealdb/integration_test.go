package surrealdb_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codenotes/notesync/internal/testenv"
	"github.com/codenotes/notesync/pkg/models"
	"github.com/codenotes/notesync/pkg/remote"
	"github.com/codenotes/notesync/pkg/remote/surrealdb"
)

func dial(t *testing.T) *surrealdb.Store {
	t.Helper()
	ep := testenv.SurrealDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := surrealdb.Dial(ctx, surrealdb.Config{
		URL:       ep.URL,
		Namespace: ep.Namespace,
		Database:  ep.Database,
		Username:  ep.Username,
		Password:  ep.Password,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func waitFor(t *testing.T, sub *remote.Subscription, ok func(remote.Snapshot) bool) remote.Snapshot {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case snap, open := <-sub.Snapshots():
			require.True(t, open, "subscription closed")
			if ok(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
		}
	}
}

func TestIntegration_NoteLifecycle(t *testing.T) {
	store := dial(t)
	ctx := context.Background()

	owner := models.NewUserID()
	now := time.Now().UTC().Truncate(time.Microsecond)
	topic := models.Topic{ID: models.NewTopicID(), OwnerID: owner, Name: "JavaScript", CreatedAt: now}

	_, err := store.Create(ctx, models.TopicsOf(owner), models.TopicDocument(topic))
	require.NoError(t, err)
	// Replaying the add is harmless.
	_, err = store.Create(ctx, models.TopicsOf(owner), models.TopicDocument(topic))
	require.NoError(t, err)

	sub, err := store.Subscribe(ctx, remote.NotesQuery(owner, topic.ID))
	require.NoError(t, err)
	defer sub.Cancel()
	waitFor(t, sub, func(s remote.Snapshot) bool { return len(s.Notes()) == 0 })

	parent := models.Note{ID: models.NewNoteID(), TopicID: topic.ID, Title: "Array Sorting", Type: models.NoteTypeFolder, Content: models.TextStub, CreatedAt: now, UpdatedAt: now}
	child := models.Note{ID: models.NewNoteID(), TopicID: topic.ID, ParentID: parent.ID.Ptr(), Title: "Edge Cases", Type: models.NoteTypeCode, Content: models.CodeStub, CreatedAt: now.Add(time.Millisecond), UpdatedAt: now}
	for _, n := range []models.Note{parent, child} {
		_, err := store.Create(ctx, models.NotesOf(owner, topic.ID), models.NoteDocument(n))
		require.NoError(t, err)
	}

	snap := waitFor(t, sub, func(s remote.Snapshot) bool { return len(s.Notes()) == 2 })
	notes := snap.Notes()
	assert.Equal(t, parent.ID, notes[0].ID)
	assert.True(t, models.SameNote(notes[1].ParentID, parent.ID.Ptr()))

	title := "Edge cases (sorted)"
	err = store.Update(ctx, models.NotePath(owner, topic.ID, child.ID), models.NoteFields(models.NotePatch{Title: &title}, time.Now().UTC()))
	require.NoError(t, err)
	waitFor(t, sub, func(s remote.Snapshot) bool {
		for _, n := range s.Notes() {
			if n.ID == child.ID {
				return n.Title == title
			}
		}
		return false
	})

	err = store.Update(ctx, models.NotePath(owner, topic.ID, models.NewNoteID()), models.Fields{UpdatedAt: time.Now()})
	assert.ErrorIs(t, err, remote.ErrNotFound)

	err = store.DeleteBatch(ctx, []models.DocumentPath{
		models.TopicPath(owner, topic.ID),
		models.NotePath(owner, topic.ID, parent.ID),
		models.NotePath(owner, topic.ID, child.ID),
	})
	require.NoError(t, err)
	waitFor(t, sub, func(s remote.Snapshot) bool { return len(s.Notes()) == 0 })

	docs, err := store.Query(ctx, remote.TopicsQuery(owner))
	require.NoError(t, err)
	assert.Empty(t, docs)
}
