// Package syncqueue replays the durable mutation queue against the remote
// store.
//
// Replay is strictly oldest first and strictly sequential. A mutation that
// fails for a transient reason stops the drain and stays queued together
// with everything behind it, since later entries may depend on it (a
// sub-note's add needs its parent's add). A mutation the remote store
// rejects for good, because the document is gone or the user may not write
// it, is reported through the error handler and dropped so it cannot block
// the queue forever.
//
// A drain runs when Drain is called, when Notify signals that the remote
// became reachable, and, when a Retryer is configured, after the retryer's
// delay following a failed drain.
package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/codenotes/notesync/pkg/cache"
	"github.com/codenotes/notesync/pkg/logger"
	"github.com/codenotes/notesync/pkg/models"
	"github.com/codenotes/notesync/pkg/remote"
)

// DefaultTimeout bounds a single remote call during replay.
const DefaultTimeout = 10 * time.Second

// Result summarizes one drain.
type Result struct {
	Applied   int
	Dropped   int
	Remaining int
}

// Processor drains one queue. It is safe for concurrent use; concurrent
// Drain calls share a single pass over the queue.
type Processor struct {
	queue   cache.Queue
	store   remote.DocumentStore
	owner   models.UserID
	log     logger.Logger
	onError remote.ErrorHandler
	retryer Retryer
	metrics *Metrics
	timeout time.Duration

	mu     sync.Mutex
	flight singleflight.Group
	signal chan struct{}
}

// Option configures a Processor.
type Option func(*Processor)

func WithLogger(l logger.Logger) Option {
	return func(p *Processor) { p.log = l }
}

// WithErrorHandler receives an event for every dropped mutation.
func WithErrorHandler(h remote.ErrorHandler) Option {
	return func(p *Processor) { p.onError = h }
}

// WithRetryer enables timer driven retries in Run.
func WithRetryer(r Retryer) Option {
	return func(p *Processor) { p.retryer = r }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithTimeout bounds each remote call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(p *Processor) { p.timeout = d }
}

// New returns a processor replaying queue against store on behalf of owner.
func New(queue cache.Queue, store remote.DocumentStore, owner models.UserID, opts ...Option) *Processor {
	p := &Processor{
		queue:   queue,
		store:   store,
		owner:   owner,
		log:     logger.Nop(),
		onError: func(remote.ErrorEvent) {},
		timeout: DefaultTimeout,
		signal:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	return p
}

// Notify asks Run to drain. It never blocks; signals sent while a drain is
// already requested collapse into one.
func (p *Processor) Notify() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued mutations.
func (p *Processor) Pending(ctx context.Context) (int, error) {
	return p.queue.Pending(ctx)
}

// Queued returns the queued mutations, oldest first.
func (p *Processor) Queued(ctx context.Context) ([]models.Mutation, error) {
	return p.queue.Drain(ctx)
}

// Enqueue appends m to the queue.
func (p *Processor) Enqueue(ctx context.Context, m models.Mutation) (uint64, error) {
	id, err := p.queue.Enqueue(ctx, m)
	if err != nil {
		return 0, err
	}
	p.metrics.Pending.Inc()
	return id, nil
}

// Drain replays queued mutations until the queue is empty or one fails
// transiently. The returned error is that failure, or a local cache error.
func (p *Processor) Drain(ctx context.Context) (Result, error) {
	v, err, _ := p.flight.Do("drain", func() (any, error) {
		return p.drain(ctx)
	})
	res, _ := v.(Result)
	return res, err
}

func (p *Processor) drain(ctx context.Context) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var res Result
	pending, err := p.queue.Drain(ctx)
	if err != nil {
		return res, fmt.Errorf("read queue: %w", err)
	}
	defer func() {
		if n, err := p.queue.Pending(context.WithoutCancel(ctx)); err == nil {
			p.metrics.Pending.Set(float64(n))
		}
	}()

	for i, m := range pending {
		if err := ctx.Err(); err != nil {
			res.Remaining = len(pending) - i
			return res, err
		}

		err := p.apply(ctx, m)
		switch {
		case err == nil:
			if err := p.queue.Remove(ctx, m.ID); err != nil {
				res.Remaining = len(pending) - i
				return res, fmt.Errorf("remove replayed mutation %d: %w", m.ID, err)
			}
			res.Applied++
			p.metrics.Replayed.Inc()
			p.log.Debug("replayed queued mutation", "mutation", m.String())

		case remote.IsPermanent(err):
			reason := ReasonNotFound
			if errors.Is(err, remote.ErrPermissionDenied) {
				reason = ReasonDenied
			}
			p.metrics.Failures.WithLabelValues(reason).Inc()

			ev := remote.EventFromError(string(m.Action), remote.MutationPath(p.owner, m), err)
			ev.MutationID = m.ID
			p.log.Error("dropping queued mutation", "mutation", m.String(), "path", ev.Path, "error", err)
			p.onError(ev)

			if err := p.queue.Remove(ctx, m.ID); err != nil {
				res.Remaining = len(pending) - i
				return res, fmt.Errorf("remove rejected mutation %d: %w", m.ID, err)
			}
			res.Dropped++

		default:
			reason := ReasonTransient
			if !remote.IsTransient(err) {
				reason = ReasonUnknown
			}
			p.metrics.Failures.WithLabelValues(reason).Inc()
			if markErr := p.queue.MarkAttempt(ctx, m.ID, err.Error()); markErr != nil {
				p.log.Warn("failed to record replay attempt", "mutation", m.String(), "error", markErr)
			}
			res.Remaining = len(pending) - i
			p.log.Info("replay stopped", "mutation", m.String(), "remaining", res.Remaining, "reason", reason, "error", err)
			return res, err
		}
	}
	return res, nil
}

func (p *Processor) apply(ctx context.Context, m models.Mutation) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return remote.Apply(ctx, p.store, p.owner, m)
}

// Run drains on every Notify until ctx is cancelled. With a Retryer, a
// failed drain also schedules the next one.
func (p *Processor) Run(ctx context.Context) error {
	var (
		timer    *time.Timer
		timerC   <-chan time.Time
		failures int
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.signal:
		case <-timerC:
		}
		stopTimer()

		_, err := p.Drain(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			if failures > 0 && p.retryer != nil {
				p.retryer.Reset()
			}
			failures = 0
			continue
		}
		if p.retryer == nil {
			continue
		}

		delay, ok := p.retryer.NextDelay(failures, err)
		failures++
		if !ok {
			p.log.Warn("giving up timed replay until next signal", "attempts", failures, "error", err)
			failures = 0
			continue
		}
		timer = time.NewTimer(delay)
		timerC = timer.C
	}
}
