package tree

import (
	"context"
	"sync"

	"github.com/codenotes/notesync/pkg/models"
)

// writer hands mutations to send one at a time, in submission order, on
// its own goroutine. The backlog is unbounded so submitting never blocks.
type writer struct {
	send func(models.Mutation)

	mu     sync.Mutex
	jobs   []models.Mutation
	busy   int
	idle   chan struct{}
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newWriter(send func(models.Mutation)) *writer {
	idle := make(chan struct{})
	close(idle)
	w := &writer{
		send: send,
		idle: idle,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *writer) push(m models.Mutation) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.busy == 0 {
		w.idle = make(chan struct{})
	}
	w.busy++
	w.jobs = append(w.jobs, m)
	w.mu.Unlock()

	w.poke()
	return nil
}

func (w *writer) poke() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *writer) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for len(w.jobs) == 0 {
			if w.closed {
				w.mu.Unlock()
				return
			}
			w.mu.Unlock()
			<-w.wake
			w.mu.Lock()
		}
		m := w.jobs[0]
		w.jobs = w.jobs[1:]
		w.mu.Unlock()

		w.send(m)

		w.mu.Lock()
		w.busy--
		if w.busy == 0 {
			close(w.idle)
		}
		w.mu.Unlock()
	}
}

// saving reports whether any write is queued or in flight.
func (w *writer) saving() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy > 0
}

// wait blocks until every write pushed so far is done.
func (w *writer) wait(ctx context.Context) error {
	w.mu.Lock()
	idle := w.idle
	w.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting writes, lets the backlog finish and returns once
// the goroutine exited.
func (w *writer) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.poke()
	<-w.done
}
