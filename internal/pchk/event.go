package pchk

import (
	"context"
	"sync"
)

// Event is a one-shot signal. Once Set it stays set; waiters are released
// together.
type Event struct {
	once sync.Once
	ch   chan struct{}
	init sync.Once
}

func (e *Event) channel() chan struct{} {
	e.init.Do(func() { e.ch = make(chan struct{}) })
	return e.ch
}

// Set marks the event. Calling Set more than once is harmless.
func (e *Event) Set() {
	ch := e.channel()
	e.once.Do(func() { close(ch) })
}

// IsSet reports whether Set has been called.
func (e *Event) IsSet() bool {
	select {
	case <-e.channel():
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once the event is set.
func (e *Event) Done() <-chan struct{} {
	return e.channel()
}

// Wait blocks until the event is set or ctx is done.
func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.channel():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
