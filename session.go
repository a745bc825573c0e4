package notesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codenotes/notesync/pkg/cache"
	"github.com/codenotes/notesync/pkg/cache/badger"
	"github.com/codenotes/notesync/pkg/config"
	"github.com/codenotes/notesync/pkg/logger"
	"github.com/codenotes/notesync/pkg/models"
	"github.com/codenotes/notesync/pkg/remote"
	"github.com/codenotes/notesync/pkg/remote/memstore"
	"github.com/codenotes/notesync/pkg/remote/surrealdb"
	"github.com/codenotes/notesync/pkg/syncqueue"
	"github.com/codenotes/notesync/pkg/tree"
)

// closeTimeout bounds closing the SurrealDB connection.
const closeTimeout = 5 * time.Second

// Session owns everything one signed-in user needs: the tree store, the
// local cache, the remote connection and the replay queue.
type Session struct {
	cfg   config.Config
	owner models.UserID
	log   logger.Logger

	logData   *logger.LogData
	cache     cache.Cache
	ownsCache bool
	remote    *remote.Switch
	tree      *tree.Store
	queue     *syncqueue.Processor

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	surreal *surrealdb.Store

	closeOnce sync.Once
	closeErr  error
}

type options struct {
	log     logger.Logger
	cache   cache.Cache
	remote  remote.DocumentStore
	reg     prometheus.Registerer
	onError remote.ErrorHandler
}

// Option configures Open.
type Option func(*options)

// WithLogger replaces the logger built from the config.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithCache uses c instead of opening the Badger cache. The session does
// not close it.
func WithCache(c cache.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithRemote uses store instead of the configured backend. The session does
// not close it.
func WithRemote(store remote.DocumentStore) Option {
	return func(o *options) { o.remote = store }
}

// WithRegisterer registers the queue metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// WithErrorHandler receives every write the remote store rejected for good,
// whether it was sent directly or replayed from the queue.
func WithErrorHandler(h remote.ErrorHandler) Option {
	return func(o *options) { o.onError = h }
}

// Open validates cfg, opens the cache and the remote store, starts the
// replay loop and loads the tree. Caller must call Close.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (_ *Session, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	owner, err := models.ParseUserID(cfg.Owner)
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}

	s := &Session{cfg: cfg, owner: owner, log: o.log, done: make(chan struct{})}
	defer func() {
		if err != nil {
			s.release()
		}
	}()

	if s.log == nil {
		s.logData, err = logger.New().FromPath(cfg.Log.Path).WithLevel(cfg.Log.Level).Make()
		if err != nil {
			return nil, fmt.Errorf("open log: %w", err)
		}
		s.log = s.logData
	}

	s.cache = o.cache
	if s.cache == nil {
		s.cache, err = openCache(cfg.Cache, s.log)
		if err != nil {
			return nil, err
		}
		s.ownsCache = true
	}

	s.remote = remote.NewSwitch(o.remote)
	s.remote.SetOffline(cfg.Remote.Offline)
	if o.remote == nil {
		if err := s.attachBackend(ctx); err != nil {
			if !remote.IsTransient(err) {
				return nil, err
			}
			s.log.Warn("remote store unreachable, starting offline", "backend", cfg.Remote.Backend, "error", err)
		}
	}

	onError := o.onError
	if onError == nil {
		onError = func(ev remote.ErrorEvent) {
			s.log.Error("remote write rejected", "op", ev.Op, "path", ev.Path, "mutation", ev.MutationID, "error", ev.Err)
		}
	}

	s.queue = syncqueue.New(s.cache, s.remote, owner,
		syncqueue.WithLogger(s.log),
		syncqueue.WithErrorHandler(onError),
		syncqueue.WithRetryer(&syncqueue.ExponentialBackoffRetryer{
			InitialDelay: cfg.Sync.RetryInitial,
			MaxDelay:     cfg.Sync.RetryMax,
			Multiplier:   cfg.Sync.RetryMultiplier,
			MaxRetries:   cfg.Sync.MaxRetries,
			JitterFactor: cfg.Sync.RetryJitter,
		}),
		syncqueue.WithMetrics(syncqueue.NewMetrics(o.reg)),
		syncqueue.WithTimeout(cfg.Sync.RemoteTimeout),
	)

	s.tree, err = tree.New(ctx, owner, s.cache, s.remote,
		tree.WithLogger(s.log),
		tree.WithErrorHandler(onError),
		tree.WithNotifier(s.queue),
		tree.WithQueue(s.queue),
		tree.WithRemoteTimeout(cfg.Sync.RemoteTimeout),
	)
	if err != nil {
		return nil, err
	}

	var runCtx context.Context
	runCtx, s.cancel = context.WithCancel(context.Background())
	go func() {
		defer close(s.done)
		_ = s.queue.Run(runCtx)
	}()
	s.queue.Notify()

	s.log.Info("session opened", "owner", owner.String(), "backend", cfg.Remote.Backend, "online", s.remote.Online())
	return s, nil
}

func openCache(cfg config.CacheConfig, log logger.Logger) (*badger.Cache, error) {
	bcfg := badger.InMemoryConfig()
	if !cfg.InMemory {
		bcfg = badger.DefaultConfig(cfg.Path)
		bcfg.SyncWrites = cfg.SyncWrites
		bcfg.GCInterval = cfg.GCInterval
	}
	bcfg.Logger = log

	c, err := badger.Open(bcfg)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return c, nil
}

// attachBackend connects the configured backend unless the session starts
// offline. Must not race with Online.
func (s *Session) attachBackend(ctx context.Context) error {
	switch s.cfg.Remote.Backend {
	case config.BackendMemory:
		s.remote.Attach(memstore.New())
		return nil
	case config.BackendSurrealDB:
		if s.cfg.Remote.Offline {
			return nil
		}
		return s.dial(ctx)
	default:
		return fmt.Errorf("unknown remote backend %q", s.cfg.Remote.Backend)
	}
}

// dial connects to SurrealDB and attaches the connection. Must hold s.mu
// or run before Open returns.
func (s *Session) dial(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Sync.RemoteTimeout)
	defer cancel()

	st, err := surrealdb.Dial(ctx, surrealdb.Config{
		URL:       s.cfg.Remote.URL,
		Namespace: s.cfg.Remote.Namespace,
		Database:  s.cfg.Remote.Database,
		Username:  s.cfg.Remote.Username,
		Password:  s.cfg.Remote.Password,
		Logger:    s.log,
	})
	if err != nil {
		return err
	}
	s.surreal = st
	s.remote.Attach(st)
	return nil
}

// Tree returns the user's tree store.
func (s *Session) Tree() *tree.Store {
	return s.tree
}

// Queue returns the replay queue processor.
func (s *Session) Queue() *syncqueue.Processor {
	return s.queue
}

// Owner returns the signed-in user.
func (s *Session) Owner() models.UserID {
	return s.owner
}

// IsOnline reports whether remote calls currently pass through.
func (s *Session) IsOnline() bool {
	return s.remote.Online()
}

// Online signals that the network is back. It connects to SurrealDB if the
// session has no connection yet, resubscribes whatever subscription was
// lost and starts draining the replay queue. A failed connect leaves the
// session offline and returns the error.
func (s *Session) Online(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.remote.Unwrap() == nil {
		if err := s.dial(ctx); err != nil {
			s.log.Warn("reconnect failed", "error", err)
			return err
		}
	}
	s.remote.SetOffline(false)
	s.tree.Reconnect()
	s.queue.Notify()
	s.log.Info("remote store online")
	return nil
}

// Offline signals that the network is gone. Writes go to the replay queue
// until Online.
func (s *Session) Offline() {
	s.remote.SetOffline(true)
	s.log.Info("remote store offline")
}

// Close stops the tree store and the replay loop, then closes the remote
// connection, the cache and the log. Writes that did not reach the remote
// store stay queued for the next session. Safe to call multiple times.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.tree != nil {
			errs = append(errs, s.tree.Close())
		}
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		errs = append(errs, s.release())
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// release closes what Open acquired itself.
func (s *Session) release() error {
	var errs []error

	s.mu.Lock()
	surreal := s.surreal
	s.surreal = nil
	s.mu.Unlock()
	if surreal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		errs = append(errs, surreal.Close(ctx))
		cancel()
	}
	if s.ownsCache && s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.logData != nil {
		errs = append(errs, s.logData.Close())
	}
	return errors.Join(errs...)
}
