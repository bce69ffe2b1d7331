package hub

import (
	"context"
	"sync"
)

// taskTracker counts running background tasks and lets callers wait for
// the count to reach zero. Unlike a sync.WaitGroup it tolerates Add being
// called while another goroutine is waiting, which is what happens when a
// task spawns follow-up tasks.
type taskTracker struct {
	mu      sync.Mutex
	pending int
	idle    chan struct{}
}

func newTaskTracker() *taskTracker {
	idle := make(chan struct{})
	close(idle)
	return &taskTracker{idle: idle}
}

func (t *taskTracker) add() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending == 0 {
		t.idle = make(chan struct{})
	}
	t.pending++
}

func (t *taskTracker) done() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending--
	if t.pending == 0 {
		close(t.idle)
	}
}

func (t *taskTracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// wait blocks until no task is pending or ctx is done.
func (t *taskTracker) wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.pending == 0 {
			t.mu.Unlock()
			return nil
		}
		idle := t.idle
		t.mu.Unlock()

		select {
		case <-idle:
			// Re-check: a task may have been added after the channel closed.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
