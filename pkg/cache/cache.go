// Package cache defines the on-device persistent store for topics, notes and
// the durable mutation queue.
//
// The cache keeps the last known copy of every entity so the tree can be
// rebuilt without network access, and it owns the FIFO queue of writes that
// still have to reach the remote store. Implementations must be durable
// across process restarts; see [github.com/codenotes/notesync/pkg/cache/badger]
// for the BadgerDB implementation.
//
// # Ownership
//
// The cache is written by two parties: the tree store (optimistic writes and
// snapshot mirroring) and the sync queue processor (queue bookkeeping).
// Implementations serialize writes per entity key so neither side loses the
// other's write.
package cache

import (
	"context"
	"errors"

	"github.com/codenotes/notesync/pkg/models"
)

var (
	// ErrNotFound is returned by Get methods when no entity has the given ID.
	ErrNotFound = errors.New("cache: not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("cache: closed")
)

// Batch is a set of writes applied as one atomic unit.
type Batch struct {
	PutTopics    []models.Topic
	PutNotes     []models.Note
	DeleteTopics []models.TopicID
	DeleteNotes  []models.NoteID

	// Enqueue, when set, is appended to the mutation queue in the same
	// transaction as the entity writes.
	Enqueue *models.Mutation
}

// IsEmpty reports whether the batch writes nothing.
func (b *Batch) IsEmpty() bool {
	return len(b.PutTopics) == 0 && len(b.PutNotes) == 0 &&
		len(b.DeleteTopics) == 0 && len(b.DeleteNotes) == 0 && b.Enqueue == nil
}

// Entities holds per-kind entity storage keyed by ID.
type Entities interface {
	// GetTopic returns ErrNotFound when the topic is not cached.
	GetTopic(ctx context.Context, id models.TopicID) (*models.Topic, error)
	PutTopic(ctx context.Context, topic models.Topic) error
	DeleteTopic(ctx context.Context, id models.TopicID) error

	// ListTopics returns the cached topics of owner ordered by creation time.
	ListTopics(ctx context.Context, owner models.UserID) ([]models.Topic, error)

	// GetNote returns ErrNotFound when the note is not cached.
	GetNote(ctx context.Context, id models.NoteID) (*models.Note, error)
	PutNote(ctx context.Context, note models.Note) error
	DeleteNote(ctx context.Context, id models.NoteID) error

	// NotesForTopic is an indexed lookup of every cached note of a topic,
	// ordered by sibling order.
	NotesForTopic(ctx context.Context, topic models.TopicID) ([]models.Note, error)

	// Apply writes the whole batch or nothing.
	Apply(ctx context.Context, batch Batch) error
}

// Queue is the durable FIFO of mutations awaiting replay.
type Queue interface {
	// Enqueue appends m and returns the ID assigned to it. IDs grow
	// monotonically, so ID order is enqueue order.
	Enqueue(ctx context.Context, m models.Mutation) (uint64, error)

	// Drain returns every mutation not yet removed, oldest first. It does
	// not remove anything.
	Drain(ctx context.Context) ([]models.Mutation, error)

	// Remove deletes a mutation after it was applied remotely.
	Remove(ctx context.Context, id uint64) error

	// MarkAttempt records a failed replay attempt on a queued mutation.
	MarkAttempt(ctx context.Context, id uint64, reason string) error

	// Pending returns the number of queued mutations.
	Pending(ctx context.Context) (int, error)

	// Clear drops every queued mutation.
	Clear(ctx context.Context) error
}

// Cache is the full local persistent cache.
type Cache interface {
	Entities
	Queue
	Close() error
}
