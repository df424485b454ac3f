// Package playsync provides the cancellation primitive shared by every
// medium driver of a playback session.
package playsync

import (
	"sync"
	"sync/atomic"
)

const (
	stateUntouched int32 = iota
	stateCancelled
	stateExpired
)

// CancelHandle is a shared, monotonic done-flag with wait support.
// It distinguishes an explicit stop (Cancel) from natural completion
// (Expire): drivers poll IsCancelled at their suspension points and
// keep playing through an expiry, while anything blocked in Wait is
// released by either transition. Once done, a handle never un-sets.
type CancelHandle struct {
	state atomic.Int32

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// NewCancelHandle returns an untouched handle.
func NewCancelHandle() *CancelHandle {
	return &CancelHandle{done: make(chan struct{})}
}

// Cancel marks the handle cancelled and releases all waiters. It is
// idempotent and always wins over Expire, even when the expiry
// happened first.
func (h *CancelHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.Store(stateCancelled)
	h.release()
}

// Expire releases all waiters without marking the handle cancelled.
// It only transitions an untouched handle; a cancelled handle stays
// cancelled.
func (h *CancelHandle) Expire() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Load() != stateUntouched {
		return
	}
	h.state.Store(stateExpired)
	h.release()
}

// IsCancelled reports whether Cancel has been called. Safe to poll
// from the audio render path: a single atomic load, no locks.
func (h *CancelHandle) IsCancelled() bool {
	return h.state.Load() == stateCancelled
}

// IsDone reports whether the handle has been cancelled or expired.
func (h *CancelHandle) IsDone() bool {
	return h.state.Load() != stateUntouched
}

// Done returns a channel closed on the first Cancel or Expire.
func (h *CancelHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the handle is cancelled or expired.
func (h *CancelHandle) Wait() {
	<-h.done
}

// release closes the done channel exactly once. Callers hold mu.
func (h *CancelHandle) release() {
	if !h.closed {
		h.closed = true
		close(h.done)
	}
}
