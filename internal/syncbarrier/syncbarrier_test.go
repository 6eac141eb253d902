package syncbarrier

import (
	"context"
	"testing"
	"time"

	"github.com/sensapp/sensapp/internal/sensapperr"
)

func TestBroadcastUnblocksAwait(t *testing.T) {
	sender, receiver := New()
	done := make(chan error, 1)
	go func() {
		done <- receiver.Await(context.Background())
	}()

	sender.Broadcast()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Await returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Await did not unblock after Broadcast")
	}
}

func TestAwaitTimesOut(t *testing.T) {
	_, receiver := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := receiver.Await(ctx)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if sensapperr.KindOf(err) != sensapperr.KindTimeout {
		t.Fatalf("got kind %v, want KindTimeout", sensapperr.KindOf(err))
	}
}

func TestAwaitReportsCancelled(t *testing.T) {
	_, receiver := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := receiver.Await(ctx)
	if sensapperr.KindOf(err) != sensapperr.KindCancelled {
		t.Fatalf("got kind %v, want KindCancelled", sensapperr.KindOf(err))
	}
}

func TestBroadcastIsIdempotent(t *testing.T) {
	sender, _ := New()
	sender.Broadcast()
	sender.Broadcast() // must not panic or block
}
