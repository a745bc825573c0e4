package remote_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codenotes/notesync/pkg/models"
	"github.com/codenotes/notesync/pkg/remote"
	"github.com/codenotes/notesync/pkg/remote/memstore"
)

func TestIsTransient(t *testing.T) {
	assert.False(t, remote.IsTransient(nil))
	assert.True(t, remote.IsTransient(remote.ErrUnavailable))
	assert.True(t, remote.IsTransient(fmt.Errorf("write: %w", context.DeadlineExceeded)))
	assert.True(t, remote.IsTransient(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.False(t, remote.IsTransient(remote.ErrPermissionDenied))

	assert.True(t, remote.IsPermanent(remote.WrapOp(remote.OpUpdate, "p", remote.ErrNotFound)))
	assert.False(t, remote.IsPermanent(remote.ErrUnavailable))
	assert.NoError(t, remote.WrapOp(remote.OpUpdate, "p", nil))
}

func TestOpError(t *testing.T) {
	err := remote.WrapOp(remote.OpDelete, "users/a/topics/b", remote.ErrPermissionDenied)
	assert.Equal(t, "remote delete users/a/topics/b: remote: permission denied", err.Error())
}

func TestSubscription_LatestWins(t *testing.T) {
	closed := 0
	sub := remote.NewSubscription(func() { closed++ })

	q := remote.Query{Collection: models.TopicsOf(models.NewUserID())}
	first := models.Topic{ID: models.NewTopicID(), Name: "first"}
	second := models.Topic{ID: models.NewTopicID(), Name: "second"}

	assert.True(t, sub.Publish(remote.Snapshot{Query: q, Documents: []models.Document{models.TopicDocument(first)}}))
	assert.True(t, sub.Publish(remote.Snapshot{Query: q, Documents: []models.Document{models.TopicDocument(second)}}))

	snap := <-sub.Snapshots()
	assert.Equal(t, "second", snap.Topics()[0].Name)

	sub.Cancel()
	sub.Cancel()
	assert.Equal(t, 1, closed)
	assert.False(t, sub.Publish(snap))
	_, ok := <-sub.Snapshots()
	assert.False(t, ok)
}

func TestSwitch(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	sw := remote.NewSwitch(store)
	owner := models.NewUserID()
	topic := models.Topic{ID: models.NewTopicID(), OwnerID: owner, Name: "t", CreatedAt: time.Now().UTC()}

	assert.True(t, sw.Online())
	sw.SetOffline(true)
	_, err := sw.Create(ctx, models.TopicsOf(owner), models.TopicDocument(topic))
	assert.ErrorIs(t, err, remote.ErrUnavailable)
	assert.Zero(t, store.Writes(), "offline calls never reach the store")

	sw.SetOffline(false)
	_, err = sw.Create(ctx, models.TopicsOf(owner), models.TopicDocument(topic))
	require.NoError(t, err)
	assert.Same(t, store, sw.Unwrap())
}

func TestSwitch_Detached(t *testing.T) {
	ctx := context.Background()
	sw := remote.NewSwitch(nil)
	assert.False(t, sw.Online())

	_, err := sw.Query(ctx, remote.TopicsQuery(models.NewUserID()))
	assert.ErrorIs(t, err, remote.ErrUnavailable)
	assert.True(t, remote.IsTransient(err))

	sw.Attach(memstore.New())
	assert.True(t, sw.Online())
	_, err = sw.Query(ctx, remote.TopicsQuery(models.NewUserID()))
	require.NoError(t, err)
}

func TestApply_TopicDeleteCascadesRemoteNotes(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	owner := models.NewUserID()
	now := time.Now().UTC()

	topic := models.Topic{ID: models.NewTopicID(), OwnerID: owner, Name: "t", CreatedAt: now}
	note := models.Note{ID: models.NewNoteID(), TopicID: topic.ID, Title: "unseen", Type: models.NoteTypeCode, CreatedAt: now, UpdatedAt: now}

	require.NoError(t, remote.Apply(ctx, store, owner, models.AddMutation(models.TopicDocument(topic), now)))
	require.NoError(t, remote.Apply(ctx, store, owner, models.AddMutation(models.NoteDocument(note), now)))

	// The queued delete only knows the topic; the note must go too.
	m := models.DeleteMutation([]models.DocumentPath{models.TopicPath(owner, topic.ID)}, now)
	require.NoError(t, remote.Apply(ctx, store, owner, m))

	_, ok := store.Topic(topic.ID)
	assert.False(t, ok)
	_, ok = store.Note(note.ID)
	assert.False(t, ok)
}

func TestApply_NoteDeleteCascadesRemoteDescendants(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	owner := models.NewUserID()
	topic := models.NewTopicID()
	now := time.Now().UTC()

	mk := func(title string, parent *models.NoteID) models.Note {
		n := models.Note{ID: models.NewNoteID(), TopicID: topic, ParentID: parent, Title: title, Type: models.NoteTypeText, CreatedAt: now, UpdatedAt: now}
		require.NoError(t, remote.Apply(ctx, store, owner, models.AddMutation(models.NoteDocument(n), now)))
		return n
	}
	root := mk("root", nil)
	child := mk("child", root.ID.Ptr())
	grandchild := mk("grandchild", child.ID.Ptr())
	sibling := mk("sibling", nil)

	paths, err := remote.CascadePaths(ctx, store, []models.DocumentPath{models.NotePath(owner, topic, root.ID)})
	require.NoError(t, err)
	got := make([]string, 0, len(paths))
	for _, p := range paths {
		got = append(got, p.ID)
	}
	assert.Equal(t, []string{root.ID.String(), child.ID.String(), grandchild.ID.String()}, got)

	m := models.DeleteMutation([]models.DocumentPath{models.NotePath(owner, topic, root.ID)}, now)
	require.NoError(t, remote.Apply(ctx, store, owner, m))
	for _, id := range []models.NoteID{root.ID, child.ID, grandchild.ID} {
		_, ok := store.Note(id)
		assert.False(t, ok, "note %s", id)
	}
	_, ok := store.Note(sibling.ID)
	assert.True(t, ok)
}

func TestApply_Update(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	owner := models.NewUserID()
	now := time.Now().UTC()

	note := models.Note{ID: models.NewNoteID(), TopicID: models.NewTopicID(), Title: "a", Type: models.NoteTypeText, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, remote.Apply(ctx, store, owner, models.AddMutation(models.NoteDocument(note), now)))

	title := "b"
	later := now.Add(time.Minute)
	path := models.NotePath(owner, note.TopicID, note.ID)
	require.NoError(t, remote.Apply(ctx, store, owner, models.UpdateMutation(path, models.NoteFields(models.NotePatch{Title: &title}, later), later)))

	got, ok := store.Note(note.ID)
	require.True(t, ok)
	assert.Equal(t, "b", got.Title)
	assert.True(t, got.UpdatedAt.Equal(later))

	assert.Error(t, remote.Apply(ctx, store, owner, models.Mutation{Action: "bogus"}))
}
