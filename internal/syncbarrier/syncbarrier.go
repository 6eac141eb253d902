// Package syncbarrier is the durability acknowledgment between writers
// and storage: a broadcast channel of zero-sized messages that lets an
// HTTP handler await confirmation from a Backend.Publish call without the
// backend knowing anything about HTTP.
package syncbarrier

import (
	"context"

	"github.com/sensapp/sensapp/internal/sensapperr"
)

// signal is the zero-sized broadcast payload.
type signal struct{}

// Sender is handed into Backend.Publish/Sync; calling Broadcast notifies
// every outstanding Receiver. A Sender may be used by only one publish
// call — call New for a fresh Sender/Receiver pair per HTTP request.
type Sender struct {
	ch     chan signal
	closed bool
}

// Receiver is the one-shot await side created by the HTTP handler before it
// calls Backend.Publish.
type Receiver struct {
	ch chan signal
}

// New creates a connected (Sender, Receiver) pair for one publish/await
// cycle.
func New() (*Sender, *Receiver) {
	ch := make(chan signal, 1)
	return &Sender{ch: ch}, &Receiver{ch: ch}
}

// Broadcast signals durability. Safe to call at most once; subsequent
// calls are no-ops. Broadcast must not block: the channel is buffered so
// the backend never waits on a reader that already gave up.
func (s *Sender) Broadcast() {
	if s.closed {
		return
	}
	s.closed = true
	s.ch <- signal{}
}

// Await blocks until Broadcast is called, ctx is cancelled, or the
// surrounding code abandons the wait. It does not itself apply the default
// 15s timeout; callers construct ctx with that deadline.
func (r *Receiver) Await(ctx context.Context) error {
	select {
	case <-r.ch:
		return nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return sensapperr.New(sensapperr.KindTimeout, "syncbarrier.await",
				"persistence not confirmed within deadline")
		}
		return sensapperr.New(sensapperr.KindCancelled, "syncbarrier.await", "caller cancelled")
	}
}

// DefaultTimeoutSeconds is the default sync barrier timeout.
const DefaultTimeoutSeconds = 15
