// Package badger implements the local persistent cache on BadgerDB.
//
// Layout of the key space:
//
//	topic/<topic>                     topic document
//	note/<note>                       note document
//	idx/owner-topics/<owner>/<topic>  owner → topic index
//	idx/topic-notes/<topic>/<note>    topic → note index
//	queue/<uint64 big-endian>         queued mutation
//	seq/queue                         queue ID sequence
//
// Values are CBOR encoded. Queue keys sort in enqueue order, so a prefix
// iteration over queue/ yields the FIFO.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/codenotes/notesync/pkg/cache"
	"github.com/codenotes/notesync/pkg/logger"
	"github.com/codenotes/notesync/pkg/models"
)

const (
	prefixTopic      = "topic/"
	prefixNote       = "note/"
	prefixOwnerIndex = "idx/owner-topics/"
	prefixTopicIndex = "idx/topic-notes/"
	prefixQueue      = "queue/"
	sequenceKey      = "seq/queue"

	// lockQueue serializes queue bookkeeping against itself.
	lockQueue = "queue"

	maxConflictRetries = 3
)

// Cache is a cache.Cache backed by BadgerDB.
type Cache struct {
	db     *badger.DB
	seq    *badger.Sequence
	gc     *gcRunner
	locks  *keyLocks
	enc    cbor.EncMode
	logger logger.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

var _ cache.Cache = (*Cache)(nil)

// Open opens the cache described by cfg. Caller must call Close when done.
func Open(cfg Config) (*Cache, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	bandwidth := cfg.SequenceBandwidth
	if bandwidth == 0 {
		bandwidth = 64
	}
	seq, err := db.GetSequence([]byte(sequenceKey), bandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("lease queue sequence: %w", err)
	}

	// Nanosecond timestamps keep sibling ordering exact across restarts.
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		seq.Release()
		db.Close()
		return nil, fmt.Errorf("cbor encoder: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	c := &Cache{
		db:     db,
		seq:    seq,
		locks:  newKeyLocks(),
		enc:    enc,
		logger: log,
		closed: make(chan struct{}),
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, log)
		if err != nil {
			seq.Release()
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		c.gc = runner
		runner.start()
	}

	return c, nil
}

// OpenInMemory opens a throwaway in-memory cache.
func OpenInMemory() (*Cache, error) {
	return Open(InMemoryConfig())
}

// Close stops garbage collection, returns the unused part of the sequence
// lease and closes the database. Safe to call multiple times.
func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.gc != nil {
			c.gc.stop()
		}
		if releaseErr := c.seq.Release(); releaseErr != nil {
			err = fmt.Errorf("release queue sequence: %w", releaseErr)
		}
		if closeErr := c.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close badger cache: %w", closeErr))
		}
	})
	return err
}

func (c *Cache) check(ctx context.Context) error {
	select {
	case <-c.closed:
		return cache.ErrClosed
	default:
	}
	return ctx.Err()
}

func topicKey(id models.TopicID) []byte { return []byte(prefixTopic + id.String()) }
func noteKey(id models.NoteID) []byte   { return []byte(prefixNote + id.String()) }

func ownerIndexKey(owner models.UserID, topic models.TopicID) []byte {
	return []byte(prefixOwnerIndex + owner.String() + "/" + topic.String())
}

func topicIndexKey(topic models.TopicID, note models.NoteID) []byte {
	return []byte(prefixTopicIndex + topic.String() + "/" + note.String())
}

func queueKey(id uint64) []byte {
	key := make([]byte, len(prefixQueue)+8)
	copy(key, prefixQueue)
	binary.BigEndian.PutUint64(key[len(prefixQueue):], id)
	return key
}

func queueID(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(prefixQueue):])
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (c *Cache) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = c.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (c *Cache) set(txn *badger.Txn, key []byte, v any) error {
	data, err := c.enc.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func get[T any](txn *badger.Txn, key []byte) (*T, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var v T
	err = item.Value(func(val []byte) error {
		return cbor.Unmarshal(val, &v)
	})
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

// Topics

func (c *Cache) GetTopic(ctx context.Context, id models.TopicID) (*models.Topic, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	var topic *models.Topic
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		topic, err = get[models.Topic](txn, topicKey(id))
		return err
	})
	return topic, err
}

func (c *Cache) PutTopic(ctx context.Context, topic models.Topic) error {
	return c.Apply(ctx, cache.Batch{PutTopics: []models.Topic{topic}})
}

func (c *Cache) DeleteTopic(ctx context.Context, id models.TopicID) error {
	return c.Apply(ctx, cache.Batch{DeleteTopics: []models.TopicID{id}})
}

func (c *Cache) ListTopics(ctx context.Context, owner models.UserID) ([]models.Topic, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	topics := []models.Topic{}
	prefix := []byte(prefixOwnerIndex + owner.String() + "/")
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id, err := models.ParseTopicID(string(it.Item().Key()[len(prefix):]))
			if err != nil {
				return err
			}
			topic, err := get[models.Topic](txn, topicKey(id))
			if errors.Is(err, cache.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			topics = append(topics, *topic)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(topics, func(i, j int) bool { return models.TopicLess(&topics[i], &topics[j]) })
	return topics, nil
}

// Notes

func (c *Cache) GetNote(ctx context.Context, id models.NoteID) (*models.Note, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	var note *models.Note
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		note, err = get[models.Note](txn, noteKey(id))
		return err
	})
	return note, err
}

func (c *Cache) PutNote(ctx context.Context, note models.Note) error {
	return c.Apply(ctx, cache.Batch{PutNotes: []models.Note{note}})
}

func (c *Cache) DeleteNote(ctx context.Context, id models.NoteID) error {
	return c.Apply(ctx, cache.Batch{DeleteNotes: []models.NoteID{id}})
}

func (c *Cache) NotesForTopic(ctx context.Context, topic models.TopicID) ([]models.Note, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	notes := []models.Note{}
	prefix := []byte(prefixTopicIndex + topic.String() + "/")
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id, err := models.ParseNoteID(string(it.Item().Key()[len(prefix):]))
			if err != nil {
				return err
			}
			note, err := get[models.Note](txn, noteKey(id))
			if errors.Is(err, cache.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			notes = append(notes, *note)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(notes, func(i, j int) bool { return models.SiblingLess(&notes[i], &notes[j]) })
	return notes, nil
}

// Apply writes the batch in a single transaction while holding the locks of
// every entity key it touches.
func (c *Cache) Apply(ctx context.Context, batch cache.Batch) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	if batch.IsEmpty() {
		return nil
	}

	unlock := c.locks.lock(batchKeys(batch)...)
	defer unlock()

	var queueEntry []byte
	if batch.Enqueue != nil {
		id, err := c.nextID()
		if err != nil {
			return err
		}
		batch.Enqueue.ID = id
		queueEntry = queueKey(id)
	}

	err := c.update(func(txn *badger.Txn) error {
		for _, id := range batch.DeleteNotes {
			if err := c.deleteNote(txn, id); err != nil {
				return err
			}
		}
		for _, id := range batch.DeleteTopics {
			if err := c.deleteTopic(txn, id); err != nil {
				return err
			}
		}
		for _, topic := range batch.PutTopics {
			if err := c.set(txn, topicKey(topic.ID), topic); err != nil {
				return err
			}
			if err := txn.Set(ownerIndexKey(topic.OwnerID, topic.ID), nil); err != nil {
				return err
			}
		}
		for _, note := range batch.PutNotes {
			if err := c.set(txn, noteKey(note.ID), note); err != nil {
				return err
			}
			if err := txn.Set(topicIndexKey(note.TopicID, note.ID), nil); err != nil {
				return err
			}
		}
		if batch.Enqueue != nil {
			return c.set(txn, queueEntry, batch.Enqueue)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply cache batch: %w", err)
	}
	return nil
}

func (c *Cache) deleteNote(txn *badger.Txn, id models.NoteID) error {
	note, err := get[models.Note](txn, noteKey(id))
	if errors.Is(err, cache.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := txn.Delete(topicIndexKey(note.TopicID, id)); err != nil {
		return err
	}
	return txn.Delete(noteKey(id))
}

func (c *Cache) deleteTopic(txn *badger.Txn, id models.TopicID) error {
	topic, err := get[models.Topic](txn, topicKey(id))
	if errors.Is(err, cache.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := txn.Delete(ownerIndexKey(topic.OwnerID, id)); err != nil {
		return err
	}
	return txn.Delete(topicKey(id))
}

func batchKeys(batch cache.Batch) []string {
	keys := make([]string, 0, len(batch.PutTopics)+len(batch.PutNotes)+len(batch.DeleteTopics)+len(batch.DeleteNotes)+1)
	for _, t := range batch.PutTopics {
		keys = append(keys, prefixTopic+t.ID.String())
	}
	for _, id := range batch.DeleteTopics {
		keys = append(keys, prefixTopic+id.String())
	}
	for _, n := range batch.PutNotes {
		keys = append(keys, prefixNote+n.ID.String())
	}
	for _, id := range batch.DeleteNotes {
		keys = append(keys, prefixNote+id.String())
	}
	if batch.Enqueue != nil {
		keys = append(keys, lockQueue)
	}
	return keys
}

// Queue

func (c *Cache) nextID() (uint64, error) {
	id, err := c.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("next queue id: %w", err)
	}
	// Sequences start at zero; queue IDs start at one.
	return id + 1, nil
}

func (c *Cache) Enqueue(ctx context.Context, m models.Mutation) (uint64, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}
	batch := cache.Batch{Enqueue: &m}
	if err := c.Apply(ctx, batch); err != nil {
		return 0, err
	}
	c.logger.Debug("mutation queued", "id", m.ID, "action", m.Action, "target", m.Target)
	return m.ID, nil
}

func (c *Cache) Drain(ctx context.Context) ([]models.Mutation, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	mutations := []models.Mutation{}
	prefix := []byte(prefixQueue)
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m models.Mutation
			err := it.Item().Value(func(val []byte) error {
				return cbor.Unmarshal(val, &m)
			})
			if err != nil {
				return fmt.Errorf("decode queued mutation %d: %w", queueID(it.Item().Key()), err)
			}
			mutations = append(mutations, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mutations, nil
}

func (c *Cache) Remove(ctx context.Context, id uint64) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	unlock := c.locks.lock(lockQueue)
	defer unlock()

	return c.update(func(txn *badger.Txn) error {
		return txn.Delete(queueKey(id))
	})
}

func (c *Cache) MarkAttempt(ctx context.Context, id uint64, reason string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	unlock := c.locks.lock(lockQueue)
	defer unlock()

	return c.update(func(txn *badger.Txn) error {
		m, err := get[models.Mutation](txn, queueKey(id))
		if err != nil {
			return err
		}
		m.MarkError(reason)
		return c.set(txn, queueKey(id), m)
	})
}

func (c *Cache) Pending(ctx context.Context) (int, error) {
	if err := c.check(ctx); err != nil {
		return 0, err
	}
	n := 0
	prefix := []byte(prefixQueue)
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (c *Cache) Clear(ctx context.Context) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	unlock := c.locks.lock(lockQueue)
	defer unlock()

	return c.db.DropPrefix([]byte(prefixQueue))
}
