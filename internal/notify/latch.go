// Package notify provides one-shot readiness signaling between long-running tasks.
package notify

import "sync"

// Latch is a one-shot gate. Callers wait on C(); exactly one call to Open()
// ever unblocks them, by closing the channel once and for all. Unlike a
// repeating broadcast, a Latch cannot be closed twice and never resets —
// it models a fact that, once true, stays true for the lifetime of the
// process (e.g. "the index has completed its initial reconcile").
type Latch struct {
	once sync.Once
	ch   chan struct{}
}

// NewLatch creates a closed-gate Latch ready to be waited on.
func NewLatch() *Latch {
	return &Latch{ch: make(chan struct{})}
}

// Open releases all current and future waiters. Safe to call more than
// once or from multiple goroutines; only the first call has any effect.
func (l *Latch) Open() {
	l.once.Do(func() { close(l.ch) })
}

// C returns a channel that is closed once Open() has been called.
func (l *Latch) C() <-chan struct{} {
	return l.ch
}
