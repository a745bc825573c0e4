// Package surrealdb implements [github.com/codenotes/notesync/pkg/remote.DocumentStore]
// on SurrealDB.
//
// Topics live in the topics table and notes in the notes table, keyed by
// record IDs derived from the client-generated UUIDs, so an add replayed
// from the offline queue lands on the same record. Values go over the wire
// with the surrealcbor codec, which keeps typed IDs as record IDs and
// timestamps as native datetimes.
//
// Writes map onto SurrealQL as follows:
//
//	Create       UPSERT $id CONTENT $doc
//	Update       UPDATE $id MERGE $fields
//	DeleteBatch  BEGIN TRANSACTION; DELETE ...; COMMIT TRANSACTION;
//	Subscribe    LIVE SELECT with the query filter
//
// A live query notification only tells us that the set changed. Each one
// triggers a fresh SELECT, and the full result is pushed as the next
// snapshot.
//
// Queries are always parameterized; no value is ever spliced into SurrealQL.
package surrealdb

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	surrealdb "github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
	"github.com/surrealdb/surrealdb.go/surrealcbor"

	"github.com/codenotes/notesync/pkg/logger"
	"github.com/codenotes/notesync/pkg/models"
	"github.com/codenotes/notesync/pkg/remote"
)

// Config describes how to reach SurrealDB.
type Config struct {
	// URL is the WebSocket endpoint, e.g. ws://localhost:8000.
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string

	// Logger receives subscription lifecycle events. Optional.
	Logger logger.Logger
}

// Store is a remote.DocumentStore backed by a SurrealDB connection.
type Store struct {
	db  *surrealdb.DB
	log logger.Logger

	mu   sync.Mutex
	live map[string]*remote.Subscription
	wg   sync.WaitGroup
}

var _ remote.DocumentStore = (*Store)(nil)

// Dial connects, signs in and selects the namespace and database.
func Dial(ctx context.Context, cfg Config) (*Store, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	conf := connection.NewConfig(u)
	codec := surrealcbor.New()
	conf.Marshaler = codec
	conf.Unmarshaler = codec

	db, err := surrealdb.FromConnection(ctx, gorillaws.New(conf))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to SurrealDB: %w", remote.ErrUnavailable, err)
	}

	if cfg.Username != "" && cfg.Password != "" {
		if _, err := db.SignIn(ctx, &surrealdb.Auth{
			Username: cfg.Username,
			Password: cfg.Password,
		}); err != nil {
			_ = db.Close(context.Background())
			return nil, fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = db.Close(context.Background())
		return nil, fmt.Errorf("failed to use namespace/database: %w", err)
	}

	return New(db, cfg.Logger), nil
}

// New wraps an already connected and authenticated client.
func New(db *surrealdb.DB, log logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{db: db, log: log, live: make(map[string]*remote.Subscription)}
}

// Close kills every live query and closes the connection.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	subs := make([]*remote.Subscription, 0, len(s.live))
	for _, sub := range s.live {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	s.wg.Wait()
	return s.db.Close(ctx)
}

func recordID(path models.DocumentPath) (surrealmodels.RecordID, error) {
	switch path.Collection.Kind {
	case models.KindTopic:
		id, err := models.ParseTopicID(path.ID)
		if err != nil {
			return surrealmodels.RecordID{}, err
		}
		return id.RecordID(), nil
	case models.KindNote:
		id, err := models.ParseNoteID(path.ID)
		if err != nil {
			return surrealmodels.RecordID{}, err
		}
		return id.RecordID(), nil
	}
	return surrealmodels.RecordID{}, fmt.Errorf("unknown collection kind %q", path.Collection.Kind)
}

// selectStatement returns the SELECT body and parameters of q. The same
// filter drives one-shot queries and live queries.
func selectStatement(q remote.Query) (string, map[string]any) {
	if q.Collection.Kind == models.KindTopic {
		return "FROM topics WHERE owner_id = $owner",
			map[string]any{"owner": q.Collection.OwnerID}
	}

	where := "FROM notes WHERE topic_id = $topic"
	vars := map[string]any{"topic": q.Collection.TopicID}
	if q.HasParent {
		if q.Parent == nil {
			where += " AND (parent_id = NONE OR parent_id = NULL)"
		} else {
			where += " AND parent_id = $parent"
			vars["parent"] = *q.Parent
		}
	}
	return where, vars
}

func (s *Store) Query(ctx context.Context, q remote.Query) ([]models.Document, error) {
	where, vars := selectStatement(q)
	path := q.Collection.String()

	if q.Collection.Kind == models.KindTopic {
		res, err := surrealdb.Query[[]models.Topic](ctx, s.db, "SELECT * "+where+" ORDER BY created_at, id", vars)
		if err != nil {
			return nil, classify(remote.OpQuery, path, err)
		}
		docs := []models.Document{}
		for _, t := range firstResult(res) {
			docs = append(docs, models.TopicDocument(t))
		}
		return docs, nil
	}

	res, err := surrealdb.Query[[]models.Note](ctx, s.db, "SELECT * "+where+" ORDER BY position, created_at, id", vars)
	if err != nil {
		return nil, classify(remote.OpQuery, path, err)
	}
	docs := []models.Document{}
	for _, n := range firstResult(res) {
		docs = append(docs, models.NoteDocument(n))
	}
	return docs, nil
}

func firstResult[T any](res *[]surrealdb.QueryResult[[]T]) []T {
	if res == nil || len(*res) == 0 {
		return nil
	}
	return (*res)[0].Result
}

func (s *Store) Create(ctx context.Context, collection models.CollectionPath, doc models.Document) (string, error) {
	path, err := doc.Path(collection.OwnerID)
	if err != nil {
		return "", err
	}
	if path.Collection != collection {
		return "", remote.WrapOp(remote.OpCreate, collection.String(), remote.ErrPermissionDenied)
	}
	rid, err := recordID(path)
	if err != nil {
		return "", err
	}

	var content any
	if doc.Kind == models.KindTopic {
		content = doc.Topic
	} else {
		content = doc.Note
	}

	// UPSERT keeps a replayed add from failing on the existing record.
	_, err = surrealdb.Query[[]any](ctx, s.db, "UPSERT $id CONTENT $doc", map[string]any{
		"id":  rid,
		"doc": content,
	})
	if err != nil {
		return "", classify(remote.OpCreate, path.String(), err)
	}
	return path.ID, nil
}

func (s *Store) Update(ctx context.Context, path models.DocumentPath, fields models.Fields) error {
	rid, err := recordID(path)
	if err != nil {
		return remote.WrapOp(remote.OpUpdate, path.String(), remote.ErrNotFound)
	}

	sql := "UPDATE $id MERGE $fields WHERE topic_id = $topic"
	vars := map[string]any{
		"id":     rid,
		"fields": fields.Map(path.Collection.Kind),
		"topic":  path.Collection.TopicID,
	}
	if path.Collection.Kind == models.KindTopic {
		sql = "UPDATE $id MERGE $fields WHERE owner_id = $owner"
		vars["owner"] = path.Collection.OwnerID
		delete(vars, "topic")
	}

	res, err := surrealdb.Query[[]any](ctx, s.db, sql, vars)
	if err != nil {
		return classify(remote.OpUpdate, path.String(), err)
	}
	// UPDATE on a missing record returns no rows instead of failing.
	if len(firstResult(res)) == 0 {
		return remote.WrapOp(remote.OpUpdate, path.String(), remote.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteBatch(ctx context.Context, paths []models.DocumentPath) error {
	if len(paths) == 0 {
		return nil
	}

	var topics, notes []surrealmodels.RecordID
	for _, p := range paths {
		rid, err := recordID(p)
		if err != nil {
			return remote.WrapOp(remote.OpDelete, p.String(), err)
		}
		if p.Collection.Kind == models.KindTopic {
			topics = append(topics, rid)
		} else {
			notes = append(notes, rid)
		}
	}

	const sql = `
		BEGIN TRANSACTION;
		DELETE notes WHERE id IN $notes;
		DELETE topics WHERE id IN $topics;
		COMMIT TRANSACTION;
	`
	_, err := surrealdb.Query[[]any](ctx, s.db, sql, map[string]any{
		"notes":  notes,
		"topics": topics,
	})
	if err != nil {
		return classify(remote.OpDelete, paths[0].String(), err)
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, q remote.Query) (*remote.Subscription, error) {
	where, vars := selectStatement(q)
	path := q.Collection.String()

	res, err := surrealdb.Query[surrealmodels.UUID](ctx, s.db, "LIVE SELECT * "+where, vars)
	if err != nil {
		return nil, classify(remote.OpSubscribe, path, err)
	}
	if res == nil || len(*res) == 0 {
		return nil, remote.WrapOp(remote.OpSubscribe, path, errors.New("live query returned no id"))
	}
	liveID := (*res)[0].Result.String()

	notifications, err := s.db.LiveNotifications(liveID)
	if err != nil {
		_ = surrealdb.Kill(context.Background(), s.db, liveID)
		return nil, classify(remote.OpSubscribe, path, err)
	}

	sub := remote.NewSubscription(func() {
		s.mu.Lock()
		delete(s.live, liveID)
		s.mu.Unlock()

		killCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := surrealdb.Kill(killCtx, s.db, liveID); err != nil {
			s.log.Warn("failed to kill live query", "live_id", liveID, "path", path, "error", err)
		}
	})

	s.mu.Lock()
	s.live[liveID] = sub
	s.mu.Unlock()

	s.wg.Add(1)
	go s.pump(q, sub, notifications)
	return sub, nil
}

// pump publishes the current set, then re-queries after every notification
// until the subscription is cancelled or the server closes the channel.
func (s *Store) pump(q remote.Query, sub *remote.Subscription, notifications chan connection.Notification) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sub.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	refresh := func() {
		docs, err := s.Query(ctx, q)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("snapshot refresh failed", "path", q.Collection.String(), "error", err)
			}
			return
		}
		sub.Publish(remote.Snapshot{Query: q, Documents: docs})
	}

	refresh()
	for {
		select {
		case <-sub.Done():
			return
		case _, ok := <-notifications:
			if !ok {
				s.log.Debug("live query closed", "path", q.Collection.String())
				sub.Cancel()
				return
			}
			refresh()
		}
	}
}

// classify maps SurrealDB and transport errors onto the remote error
// taxonomy and wraps them with the attempted path.
func classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, remote.ErrUnavailable) || errors.Is(err, remote.ErrNotFound) || errors.Is(err, remote.ErrPermissionDenied) {
		return remote.WrapOp(op, path, err)
	}
	if remote.IsTransient(err) {
		return remote.WrapOp(op, path, fmt.Errorf("%w: %w", remote.ErrUnavailable, err))
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not allowed"),
		strings.Contains(msg, "permission"),
		strings.Contains(msg, "not enough permissions"),
		strings.Contains(msg, "iam error"):
		return remote.WrapOp(op, path, fmt.Errorf("%w: %w", remote.ErrPermissionDenied, err))
	case strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "not found"):
		return remote.WrapOp(op, path, fmt.Errorf("%w: %w", remote.ErrNotFound, err))
	case strings.Contains(msg, "connection"),
		strings.Contains(msg, "closed"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "eof"),
		strings.Contains(msg, "broken pipe"):
		return remote.WrapOp(op, path, fmt.Errorf("%w: %w", remote.ErrUnavailable, err))
	}
	return remote.WrapOp(op, path, err)
}
