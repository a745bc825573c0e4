package remote

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/codenotes/notesync/pkg/models"
)

// Switch wraps a DocumentStore and can take it offline at runtime. While
// offline, or while no store is attached, every call fails with
// ErrUnavailable; existing subscriptions keep running.
type Switch struct {
	mu      sync.RWMutex
	store   DocumentStore
	offline atomic.Bool
}

var _ DocumentStore = (*Switch)(nil)

// NewSwitch wraps store. A nil store is allowed and keeps the switch
// unavailable until Attach.
func NewSwitch(store DocumentStore) *Switch {
	return &Switch{store: store}
}

// Attach replaces the underlying store, for example after a late connect.
func (s *Switch) Attach(store DocumentStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = store
}

// Unwrap returns the underlying store, or nil.
func (s *Switch) Unwrap() DocumentStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store
}

// SetOffline toggles the offline state.
func (s *Switch) SetOffline(offline bool) {
	s.offline.Store(offline)
}

// Online reports whether calls pass through.
func (s *Switch) Online() bool {
	return !s.offline.Load() && s.Unwrap() != nil
}

func (s *Switch) current(op, path string) (DocumentStore, error) {
	store := s.Unwrap()
	if s.offline.Load() || store == nil {
		return nil, &OpError{Op: op, Path: path, Err: ErrUnavailable}
	}
	return store, nil
}

func (s *Switch) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	store, err := s.current(OpSubscribe, q.Collection.String())
	if err != nil {
		return nil, err
	}
	return store.Subscribe(ctx, q)
}

func (s *Switch) Create(ctx context.Context, collection models.CollectionPath, doc models.Document) (string, error) {
	store, err := s.current(OpCreate, collection.String())
	if err != nil {
		return "", err
	}
	return store.Create(ctx, collection, doc)
}

func (s *Switch) Update(ctx context.Context, path models.DocumentPath, fields models.Fields) error {
	store, err := s.current(OpUpdate, path.String())
	if err != nil {
		return err
	}
	return store.Update(ctx, path, fields)
}

func (s *Switch) DeleteBatch(ctx context.Context, paths []models.DocumentPath) error {
	path := ""
	if len(paths) > 0 {
		path = paths[0].String()
	}
	store, err := s.current(OpDelete, path)
	if err != nil {
		return err
	}
	return store.DeleteBatch(ctx, paths)
}

func (s *Switch) Query(ctx context.Context, q Query) ([]models.Document, error) {
	store, err := s.current(OpQuery, q.Collection.String())
	if err != nil {
		return nil, err
	}
	return store.Query(ctx, q)
}
