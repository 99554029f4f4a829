package relayer

import (
	"context"
	"sync"

	"github.com/xexd/xexd/pkg/log"
)

// NonceTracker hands out transaction nonces for one target account. The next
// nonce is incremented before a submission's outcome is known so that
// concurrent submissions pipeline instead of serializing on finality, and
// rolled back on definite failure. Each vendor's relayer owns exactly one
// tracker; callers never share one across vendors.
type NonceTracker struct {
	logger log.Logger

	mu   sync.Mutex
	next uint64
	// inFlight counts reservations not yet confirmed or rolled back.
	inFlight int
}

// NewNonceTracker creates a tracker starting at the given on-chain nonce.
func NewNonceTracker(start uint64, logger log.Logger) *NonceTracker {
	return &NonceTracker{logger: logger, next: start}
}

// Reserve returns the next nonce and optimistically advances the counter.
func (t *NonceTracker) Reserve() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.next
	t.next++
	t.inFlight++
	return n
}

// Confirm marks one reserved nonce as used on chain.
func (t *NonceTracker) Confirm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inFlight > 0 {
		t.inFlight--
	}
}

// Rollback returns one reserved nonce after a definite submission failure.
// Skipping the rollback would leave a gap that stalls every later nonce.
func (t *NonceTracker) Rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inFlight == 0 {
		t.logger.Warn("nonce rollback with no reservation in flight")
		return
	}
	t.inFlight--
	t.next--
	t.logger.Debug("rolled back nonce after failed submission", "next", t.next)
}

// Resync replaces the counter with a nonce re-derived from chain state. Used
// on startup and on every new target block to reconcile submissions whose
// outcome was lost, for example across a process restart. Pending
// reservations are discarded; their submissions either landed (reflected in
// the chain nonce) or never will.
func (t *NonceTracker) Resync(ctx context.Context, fetch func(context.Context) (uint64, error)) error {
	chainNonce, err := fetch(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inFlight > 0 {
		t.logger.Debug("nonce resync discarding in-flight reservations",
			"inFlight", t.inFlight, "local", t.next, "chain", chainNonce)
	}
	t.next = chainNonce
	t.inFlight = 0
	return nil
}

// Next returns the nonce the following Reserve call would hand out.
func (t *NonceTracker) Next() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}
