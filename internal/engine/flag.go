package engine

import (
	"sync"
	"sync/atomic"
)

// RunFlag is the cooperative cancellation token checked once per
// controller iteration.
type RunFlag interface {
	IsActive() bool
	Stop()
}

// Flag is a RunFlag that can be stopped from any goroutine. Stop is
// idempotent. The zero value is an active flag.
type Flag struct {
	stopped atomic.Bool
	once    sync.Once
	mu      sync.Mutex
	done    chan struct{}
}

// NewFlag returns an active flag.
func NewFlag() *Flag {
	return &Flag{done: make(chan struct{})}
}

// IsActive reports whether Stop has not been called.
func (f *Flag) IsActive() bool {
	return !f.stopped.Load()
}

// Stop deactivates the flag.
func (f *Flag) Stop() {
	f.once.Do(func() {
		f.stopped.Store(true)
		close(f.doneChan())
	})
}

// Done is closed when the flag is stopped.
func (f *Flag) Done() <-chan struct{} {
	return f.doneChan()
}

func (f *Flag) doneChan() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done == nil {
		f.done = make(chan struct{})
	}
	return f.done
}

var _ RunFlag = (*Flag)(nil)
