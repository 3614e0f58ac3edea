package services

import "context"

// requestLimiter caps the number of in-flight page requests across all
// concurrent syncs on one client. Excess requests queue on Acquire rather
// than being rejected.
type requestLimiter struct {
	slots chan struct{}
}

// newRequestLimiter creates a limiter admitting up to n concurrent requests.
// n < 1 is treated as 1.
func newRequestLimiter(n int) *requestLimiter {
	if n < 1 {
		n = 1
	}
	return &requestLimiter{slots: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or the context is cancelled.
func (l *requestLimiter) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case l.slots <- struct{}{}:
		return nil
	}
}

// Release frees a previously acquired slot.
func (l *requestLimiter) Release() {
	<-l.slots
}

// InFlight returns the number of currently held slots.
func (l *requestLimiter) InFlight() int {
	return len(l.slots)
}
