package syncqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	badgercache "github.com/codenotes/notesync/pkg/cache/badger"
	"github.com/codenotes/notesync/pkg/models"
	"github.com/codenotes/notesync/pkg/remote"
	"github.com/codenotes/notesync/pkg/remote/memstore"
)

type fixture struct {
	cache   *badgercache.Cache
	store   *memstore.Store
	owner   models.UserID
	topic   models.Topic
	metrics *Metrics

	mu     sync.Mutex
	events []remote.ErrorEvent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c, err := badgercache.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	owner := models.NewUserID()
	return &fixture{
		cache:   c,
		store:   memstore.New(),
		owner:   owner,
		topic:   models.Topic{ID: models.NewTopicID(), OwnerID: owner, Name: "JavaScript", CreatedAt: time.Now().UTC()},
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
}

func (f *fixture) processor(opts ...Option) *Processor {
	opts = append([]Option{
		WithMetrics(f.metrics),
		WithErrorHandler(func(ev remote.ErrorEvent) {
			f.mu.Lock()
			f.events = append(f.events, ev)
			f.mu.Unlock()
		}),
	}, opts...)
	return New(f.cache, f.store, f.owner, opts...)
}

func (f *fixture) Events() []remote.ErrorEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remote.ErrorEvent(nil), f.events...)
}

func (f *fixture) note(parent *models.NoteID, title string) models.Note {
	now := time.Now().UTC()
	return models.Note{
		ID:        models.NewNoteID(),
		TopicID:   f.topic.ID,
		ParentID:  parent,
		Title:     title,
		Type:      models.NoteTypeText,
		Content:   models.TextStub,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (f *fixture) enqueue(t *testing.T, p *Processor, m models.Mutation) uint64 {
	t.Helper()
	id, err := p.Enqueue(context.Background(), m)
	require.NoError(t, err)
	return id
}

func TestDrain_ReplaysInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor()

	parent := f.note(nil, "Array Sorting")
	child := f.note(parent.ID.Ptr(), "Edge Cases")
	now := time.Now().UTC()

	f.enqueue(t, p, models.AddMutation(models.TopicDocument(f.topic), now))
	f.enqueue(t, p, models.AddMutation(models.NoteDocument(parent), now))
	f.enqueue(t, p, models.AddMutation(models.NoteDocument(child), now))

	title := "Edge Cases!"
	f.enqueue(t, p, models.UpdateMutation(models.NotePath(f.owner, f.topic.ID, child.ID),
		models.NoteFields(models.NotePatch{Title: &title}, now.Add(time.Second)), now))

	res, err := p.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Applied: 4}, res)

	got, ok := f.store.Note(child.ID)
	require.True(t, ok)
	assert.Equal(t, "Edge Cases!", got.Title)
	assert.True(t, models.SameNote(got.ParentID, parent.ID.Ptr()))

	pending, err := p.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Equal(t, float64(4), testutil.ToFloat64(f.metrics.Replayed))
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.Pending))
}

func TestDrain_TransientFailureStopsAndKeepsOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor()
	now := time.Now().UTC()

	first := f.enqueue(t, p, models.AddMutation(models.TopicDocument(f.topic), now))
	f.enqueue(t, p, models.AddMutation(models.NoteDocument(f.note(nil, "a")), now))

	f.store.FailNext(remote.ErrUnavailable)
	res, err := p.Drain(ctx)
	assert.ErrorIs(t, err, remote.ErrUnavailable)
	assert.Equal(t, Result{Remaining: 2}, res)
	assert.Equal(t, 1, f.store.Writes(), "nothing after the failed mutation is attempted")

	queued, err := p.Queued(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, first, queued[0].ID)
	assert.Equal(t, 1, queued[0].Attempts)
	assert.NotEmpty(t, queued[0].LastError)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Failures.WithLabelValues(ReasonTransient)))

	res, err = p.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	_, ok := f.store.Topic(f.topic.ID)
	assert.True(t, ok)
}

func TestDrain_PermanentFailureIsDroppedAndReported(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor()
	now := time.Now().UTC()

	missing := models.NotePath(f.owner, f.topic.ID, models.NewNoteID())
	title := "ghost"
	dropped := f.enqueue(t, p, models.UpdateMutation(missing, models.NoteFields(models.NotePatch{Title: &title}, now), now))
	f.enqueue(t, p, models.AddMutation(models.TopicDocument(f.topic), now))

	res, err := p.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Applied: 1, Dropped: 1}, res)

	events := f.Events()
	require.Len(t, events, 1)
	assert.Equal(t, dropped, events[0].MutationID)
	assert.Equal(t, remote.OpUpdate, events[0].Op)
	assert.Equal(t, missing.String(), events[0].Path)
	assert.ErrorIs(t, events[0].Err, remote.ErrNotFound)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Failures.WithLabelValues(ReasonNotFound)))
}

func TestDrain_PermissionDenied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor()

	f.store.DenyPath(models.TopicsOf(f.owner).String())
	f.enqueue(t, p, models.AddMutation(models.TopicDocument(f.topic), time.Now().UTC()))

	res, err := p.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)
	require.Len(t, f.Events(), 1)
	assert.ErrorIs(t, f.Events()[0].Err, remote.ErrPermissionDenied)
}

func TestDrain_ConcurrentCallersNeverReplayTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor()
	now := time.Now().UTC()

	f.enqueue(t, p, models.AddMutation(models.TopicDocument(f.topic), now))
	const notes = 20
	for i := 0; i < notes; i++ {
		f.enqueue(t, p, models.AddMutation(models.NoteDocument(f.note(nil, "n")), now))
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Drain(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, notes+1, f.store.Calls(remote.OpCreate))
	pending, err := p.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestDrain_DeleteCascadeReplaysAsOneBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor()
	now := time.Now().UTC()

	parent := f.note(nil, "parent")
	child := f.note(parent.ID.Ptr(), "child")
	f.enqueue(t, p, models.AddMutation(models.TopicDocument(f.topic), now))
	f.enqueue(t, p, models.AddMutation(models.NoteDocument(parent), now))
	f.enqueue(t, p, models.AddMutation(models.NoteDocument(child), now))
	f.enqueue(t, p, models.DeleteMutation([]models.DocumentPath{
		models.NotePath(f.owner, f.topic.ID, parent.ID),
		models.NotePath(f.owner, f.topic.ID, child.ID),
	}, now))

	_, err := p.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.Calls(remote.OpDelete))
	_, ok := f.store.Note(child.ID)
	assert.False(t, ok)
}

func TestRun_DrainsOnNotify(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t)
	p := f.processor()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	f.enqueue(t, p, models.AddMutation(models.TopicDocument(f.topic), time.Now().UTC()))
	p.Notify()
	p.Notify()

	require.Eventually(t, func() bool {
		_, ok := f.store.Topic(f.topic.ID)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRun_RetryerSchedulesNextDrain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t)
	p := f.processor(WithRetryer(NewFixedDelayRetryer(10*time.Millisecond, 0)))

	f.enqueue(t, p, models.AddMutation(models.TopicDocument(f.topic), time.Now().UTC()))
	f.store.FailNext(remote.ErrUnavailable)
	f.store.FailNext(remote.ErrUnavailable)

	go func() { _ = p.Run(ctx) }()
	p.Notify()

	require.Eventually(t, func() bool {
		n, err := p.Pending(context.Background())
		return err == nil && n == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, f.store.Calls(remote.OpCreate))
}

func TestRun_WithoutRetryerWaitsForSignal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t)
	p := f.processor()

	f.enqueue(t, p, models.AddMutation(models.TopicDocument(f.topic), time.Now().UTC()))
	f.store.FailNext(remote.ErrUnavailable)

	go func() { _ = p.Run(ctx) }()
	p.Notify()

	require.Eventually(t, func() bool { return f.store.Calls(remote.OpCreate) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.store.Calls(remote.OpCreate), "no timer driven retry")

	p.Notify()
	require.Eventually(t, func() bool { return f.store.Calls(remote.OpCreate) == 2 }, 2*time.Second, 5*time.Millisecond)
}
