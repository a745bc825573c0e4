package tree

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codenotes/notesync/pkg/models"
	"github.com/codenotes/notesync/pkg/remote"
	"github.com/codenotes/notesync/pkg/syncqueue"
)

func TestOffline_AddNoteIsQueuedAndReplayed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	topic := f.topic(t, "Offline")
	p := syncqueue.New(f.cache, f.sw, f.owner)

	f.sw.SetOffline(true)
	x, err := f.store.AddNote(ctx, NewNote{Title: "X", Type: models.NoteTypeText})
	require.NoError(t, err)
	assert.Equal(t, []string{"X"}, titles(f.store.SubNotes(nil)), "visible before any remote ack")
	require.NoError(t, f.store.WaitIdle(ctx))

	queued, err := p.Queued(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, models.ActionAdd, queued[0].Action)
	require.NotNil(t, queued[0].Document)
	require.NotNil(t, queued[0].Document.Note)
	assert.Equal(t, x.ID, queued[0].Document.Note.ID)
	_, ok := f.remote.Note(x.ID)
	assert.False(t, ok)

	_, err = p.Drain(ctx)
	assert.ErrorIs(t, err, remote.ErrUnavailable, "still offline")

	f.sw.SetOffline(false)
	res, err := p.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	pending, err := p.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	sub, err := f.remote.Subscribe(ctx, remote.NotesQuery(f.owner, topic.ID))
	require.NoError(t, err)
	defer sub.Cancel()
	snap := <-sub.Snapshots()
	assert.Equal(t, []string{"X"}, titles(snap.Notes()))

	f.settle(t)
	_, ok = f.store.Note(x.ID)
	assert.True(t, ok)
}

func TestOffline_ReplayKeepsDependentOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.topic(t, "Order")
	p := syncqueue.New(f.cache, f.sw, f.owner)

	f.sw.SetOffline(true)
	parent, err := f.store.AddNote(ctx, NewNote{Title: "parent", Type: models.NoteTypeFolder})
	require.NoError(t, err)
	child, err := f.store.AddNote(ctx, NewNote{Title: "child", Type: models.NoteTypeCode, ParentID: parent.ID.Ptr()})
	require.NoError(t, err)
	title := "child v2"
	require.NoError(t, f.store.UpdateNote(ctx, child.ID, models.NotePatch{Title: &title}))
	require.NoError(t, f.store.Reparent(ctx, child.ID, nil))
	require.NoError(t, f.store.WaitIdle(ctx))

	queued, err := p.Queued(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 4)
	for i := 1; i < len(queued); i++ {
		assert.Less(t, queued[i-1].ID, queued[i].ID)
	}

	f.sw.SetOffline(false)
	res, err := p.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, syncqueue.Result{Applied: 4}, res)

	got, ok := f.remote.Note(child.ID)
	require.True(t, ok)
	assert.Equal(t, "child v2", got.Title)
	assert.Nil(t, got.ParentID)

	// Writes go direct again once the queue is empty.
	f.note(t, "online", nil)
	pending, err := p.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestOffline_DeleteTopicReplaysWholeCascade(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	topic := f.topic(t, "Cascade")
	a := f.note(t, "a", nil)
	f.note(t, "b", a.ID.Ptr())
	p := syncqueue.New(f.cache, f.sw, f.owner)

	f.sw.SetOffline(true)
	require.NoError(t, f.store.DeleteTopic(ctx, topic.ID))
	require.NoError(t, f.store.WaitIdle(ctx))

	queued, err := p.Queued(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Len(t, queued[0].Delete, 3)
	assert.Equal(t, models.KindTopic, queued[0].Target)

	docs, err := f.remote.Query(ctx, remote.NotesQuery(f.owner, topic.ID))
	require.NoError(t, err)
	assert.Len(t, docs, 2, "remote untouched while offline")

	f.sw.SetOffline(false)
	_, err = p.Drain(ctx)
	require.NoError(t, err)

	docs, err = f.remote.Query(ctx, remote.NotesQuery(f.owner, topic.ID))
	require.NoError(t, err)
	assert.Empty(t, docs)
	_, ok := f.remote.Topic(topic.ID)
	assert.False(t, ok)
}

func TestOffline_DeleteNoteReplayReachesRemoteOnlyChildren(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	topic := f.topic(t, "Shared")
	parent := f.note(t, "parent", nil)
	kept := f.note(t, "kept", nil)
	p := syncqueue.New(f.cache, f.sw, f.owner)

	f.sw.SetOffline(true)
	require.NoError(t, f.store.DeleteNote(ctx, parent.ID))
	require.NoError(t, f.store.WaitIdle(ctx))

	// Another device adds below the deleted note before the replay.
	now := f.now()
	child := models.Note{ID: models.NewNoteID(), TopicID: topic.ID, ParentID: parent.ID.Ptr(), Title: "child", Type: models.NoteTypeText, CreatedAt: now, UpdatedAt: now}
	grandchild := models.Note{ID: models.NewNoteID(), TopicID: topic.ID, ParentID: child.ID.Ptr(), Title: "grandchild", Type: models.NoteTypeText, CreatedAt: now, UpdatedAt: now}
	for _, n := range []models.Note{child, grandchild} {
		_, err := f.remote.Create(ctx, models.NotesOf(f.owner, topic.ID), models.NoteDocument(n))
		require.NoError(t, err)
	}

	f.sw.SetOffline(false)
	res, err := p.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	for _, id := range []models.NoteID{parent.ID, child.ID, grandchild.ID} {
		_, ok := f.remote.Note(id)
		assert.False(t, ok, "note %s", id)
	}
	docs, err := f.remote.Query(ctx, remote.NotesQuery(f.owner, topic.ID))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, kept.ID, docs[0].Note.ID)

	f.settle(t)
	assert.Equal(t, []string{"kept"}, titles(f.store.Notes()))
}

func TestOffline_QueuedWritesRaisePendingGauge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.Close())

	metrics := syncqueue.NewMetrics(prometheus.NewRegistry())
	p := syncqueue.New(f.cache, f.sw, f.owner, syncqueue.WithMetrics(metrics))
	f.store = f.open(t, WithQueue(p), WithNotifier(p))
	f.topic(t, "Gauge")

	f.sw.SetOffline(true)
	for i, title := range []string{"a", "b"} {
		_, err := f.store.AddNote(ctx, NewNote{Title: title, Type: models.NoteTypeText})
		require.NoError(t, err)
		require.NoError(t, f.store.WaitIdle(ctx))
		assert.Equal(t, float64(i+1), testutil.ToFloat64(metrics.Pending))
	}

	f.sw.SetOffline(false)
	res, err := p.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.Pending))
}
