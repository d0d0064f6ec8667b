package core

import (
	"context"
	"sync"
)

// CancelHandle is the capability to abort one in-flight message exchange.
// Cancel is idempotent. The send continuation compares the tab's pending
// handle against its own before touching typing state, so a stale handle
// can never clobber a newer exchange.
type CancelHandle struct {
	mu        sync.Mutex
	cancelled bool
	cancel    context.CancelFunc
}

func newCancelHandle(cancel context.CancelFunc) *CancelHandle {
	return &CancelHandle{cancel: cancel}
}

// Cancel aborts the exchange. Safe to call more than once.
func (h *CancelHandle) Cancel() {
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		return
	}
	h.cancelled = true
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Cancelled reports whether Cancel has been called.
func (h *CancelHandle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// release frees the context without marking the handle cancelled. Called
// when the exchange completed on its own.
func (h *CancelHandle) release() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
