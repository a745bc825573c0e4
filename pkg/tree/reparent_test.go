package tree

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codenotes/notesync/pkg/models"
	"github.com/codenotes/notesync/pkg/remote"
)

// chain builds a → b → c in a fresh topic.
func chain(t *testing.T, f *fixture) (a, b, c models.Note) {
	t.Helper()
	f.topic(t, "Chain")
	a = f.note(t, "a", nil)
	b = f.note(t, "b", a.ID.Ptr())
	c = f.note(t, "c", b.ID.Ptr())
	return a, b, c
}

func TestReparent_RejectsCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b, c := chain(t, f)
	writes := f.remote.Writes()
	before := outline(f.store)

	assert.ErrorIs(t, f.store.Reparent(ctx, a.ID, c.ID.Ptr()), ErrCycle)
	assert.ErrorIs(t, f.store.Reparent(ctx, a.ID, b.ID.Ptr()), ErrCycle)
	require.NoError(t, f.store.WaitIdle(ctx))

	assert.Equal(t, writes, f.remote.Writes())
	if diff := cmp.Diff(before, outline(f.store)); diff != "" {
		t.Errorf("forest changed (-want +got):\n%s", diff)
	}
	assert.True(t, f.store.IsDescendant(a.ID, c.ID))
	assert.False(t, f.store.IsDescendant(c.ID, a.ID))
}

func TestReparent_NoOps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b, _ := chain(t, f)
	writes := f.remote.Writes()

	require.NoError(t, f.store.Reparent(ctx, a.ID, a.ID.Ptr()), "drop on itself")
	require.NoError(t, f.store.Reparent(ctx, a.ID, nil), "root to root")
	require.NoError(t, f.store.Reparent(ctx, b.ID, a.ID.Ptr()), "onto current parent")
	require.NoError(t, f.store.WaitIdle(ctx))

	assert.Equal(t, writes, f.remote.Writes())
	got, ok := f.store.Note(a.ID)
	require.True(t, ok)
	assert.True(t, got.UpdatedAt.Equal(a.UpdatedAt), "a no-op does not touch UpdatedAt")
}

func TestReparent_PromoteAndMove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, _, c := chain(t, f)

	require.NoError(t, f.store.Reparent(ctx, c.ID, nil))
	want := []string{"a", "  b", "c"}
	if diff := cmp.Diff(want, outline(f.store)); diff != "" {
		t.Errorf("after promote (-want +got):\n%s", diff)
	}
	f.settle(t)
	remoteC, ok := f.remote.Note(c.ID)
	require.True(t, ok)
	assert.Nil(t, remoteC.ParentID)

	require.NoError(t, f.store.Reparent(ctx, a.ID, c.ID.Ptr()))
	want = []string{"c", "  a", "    b"}
	if diff := cmp.Diff(want, outline(f.store)); diff != "" {
		t.Errorf("after move (-want +got):\n%s", diff)
	}
	f.settle(t)

	got, ok := f.store.Note(a.ID)
	require.True(t, ok)
	assert.True(t, models.SameNote(got.ParentID, c.ID.Ptr()))
	assert.True(t, got.UpdatedAt.After(a.UpdatedAt))

	cached, err := f.cache.GetNote(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, models.SameNote(cached.ParentID, c.ID.Ptr()))
}

func TestReparent_CrossTopic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.topic(t, "Elsewhere")
	foreign := f.note(t, "foreign", nil)
	f.topic(t, "Here")
	local := f.note(t, "local", nil)

	assert.ErrorIs(t, f.store.Reparent(ctx, local.ID, foreign.ID.Ptr()), ErrCrossTopic)
	assert.ErrorIs(t, f.store.Reparent(ctx, local.ID, models.NewNoteID().Ptr()), ErrNotFound)
	assert.ErrorIs(t, f.store.Reparent(ctx, models.NewNoteID(), nil), ErrNotFound)
}

func TestMoveBefore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.topic(t, "Order")
	a := f.note(t, "a", nil)
	b := f.note(t, "b", nil)
	c := f.note(t, "c", nil)
	child := f.note(t, "child", a.ID.Ptr())

	// All three share position 0, so the siblings are renumbered.
	writes := f.remote.Writes()
	require.NoError(t, f.store.MoveBefore(ctx, c.ID, b.ID.Ptr()))
	assert.Equal(t, []string{"a", "c", "b"}, titles(f.store.SubNotes(nil)))
	f.settle(t)
	assert.Equal(t, writes+3, f.remote.Writes(), "one update per renumbered note")

	writes = f.remote.Writes()
	require.NoError(t, f.store.MoveBefore(ctx, b.ID, a.ID.Ptr()))
	assert.Equal(t, []string{"b", "a", "c"}, titles(f.store.SubNotes(nil)))
	f.settle(t)
	assert.Equal(t, writes+1, f.remote.Writes())

	require.NoError(t, f.store.MoveBefore(ctx, b.ID, nil))
	assert.Equal(t, []string{"a", "c", "b"}, titles(f.store.SubNotes(nil)))

	require.NoError(t, f.store.MoveBefore(ctx, c.ID, a.ID.Ptr()))
	assert.Equal(t, []string{"c", "a", "b"}, titles(f.store.SubNotes(nil)))
	f.settle(t)
	assert.Equal(t, []string{"c", "a", "b"}, titles(f.store.SubNotes(nil)), "order survives the snapshot")

	writes = f.remote.Writes()
	require.NoError(t, f.store.MoveBefore(ctx, c.ID, a.ID.Ptr()), "already in place")
	require.NoError(t, f.store.MoveBefore(ctx, c.ID, c.ID.Ptr()))
	require.NoError(t, f.store.WaitIdle(ctx))
	assert.Equal(t, writes, f.remote.Writes())

	assert.ErrorIs(t, f.store.MoveBefore(ctx, child.ID, b.ID.Ptr()), ErrNotSibling)
	assert.ErrorIs(t, f.store.MoveBefore(ctx, c.ID, models.NewNoteID().Ptr()), ErrNotFound)
}

func TestAddNote_AfterReorderGoesLast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.topic(t, "Last")
	a := f.note(t, "a", nil)
	f.note(t, "b", nil)
	require.NoError(t, f.store.MoveBefore(ctx, a.ID, nil))
	f.settle(t)

	f.note(t, "c", nil)
	assert.Equal(t, []string{"b", "a", "c"}, titles(f.store.SubNotes(nil)))
}

func TestDropTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b, c := chain(t, f)
	other := f.note(t, "other", nil)

	d := NewDropTarget(f.store)
	assert.ErrorIs(t, d.Drop(ctx), ErrNoDrag)
	assert.False(t, d.Hover(other.ID.Ptr()), "no drag in progress")

	require.NoError(t, d.BeginDrag(a.ID))
	dragged, ok := d.Dragging()
	require.True(t, ok)
	assert.Equal(t, a.ID, dragged)

	assert.False(t, d.Hover(a.ID.Ptr()))
	assert.False(t, d.Hover(c.ID.Ptr()))
	assert.Nil(t, d.Candidate())

	assert.True(t, d.Hover(other.ID.Ptr()))
	require.NotNil(t, d.Candidate())
	assert.Equal(t, other.ID, *d.Candidate())

	require.NoError(t, d.Drop(ctx))
	_, ok = d.Dragging()
	assert.False(t, ok)
	want := []string{"other", "  a", "    b", "      c"}
	if diff := cmp.Diff(want, outline(f.store)); diff != "" {
		t.Errorf("after drop (-want +got):\n%s", diff)
	}
	f.settle(t)

	require.NoError(t, d.BeginDrag(b.ID))
	assert.True(t, d.Hover(nil))
	require.NoError(t, d.Drop(ctx))
	got, ok := f.store.Note(b.ID)
	require.True(t, ok)
	assert.True(t, got.IsRoot())

	require.NoError(t, d.BeginDrag(c.ID))
	d.Cancel()
	assert.ErrorIs(t, d.Drop(ctx), ErrNoDrag)

	assert.ErrorIs(t, d.BeginDrag(models.NewNoteID()), ErrNotFound)
	assert.Zero(t, f.remote.Calls(remote.OpDelete))
}
