package probe

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsSubmittedJobs(t *testing.T) {
	p := NewPool(2, 4)
	defer p.Close()

	done := make(chan struct{})
	if _, ok := p.Submit(func(context.Context) { close(done) }); !ok {
		t.Fatalf("submit rejected on an empty pool")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("job never ran")
	}
}

func TestPoolRejectsWhenQueueFull(t *testing.T) {
	p := NewPool(1, 1)
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	if _, ok := p.Submit(func(context.Context) {
		close(started)
		<-release
	}); !ok {
		t.Fatalf("first submit rejected")
	}
	<-started

	// Worker is busy; this one occupies the single queue slot.
	if _, ok := p.Submit(func(context.Context) {}); !ok {
		t.Fatalf("queued submit rejected")
	}
	// Queue full now.
	if _, ok := p.Submit(func(context.Context) {}); ok {
		t.Fatalf("submit accepted on a full queue")
	}
	close(release)
}

func TestPoolCancelReachesJob(t *testing.T) {
	p := NewPool(1, 2)
	defer p.Close()

	var sawCancel atomic.Bool
	done := make(chan struct{})
	cancel, ok := p.Submit(func(ctx context.Context) {
		defer close(done)
		select {
		case <-ctx.Done():
			sawCancel.Store(true)
		case <-time.After(2 * time.Second):
		}
	})
	if !ok {
		t.Fatalf("submit rejected")
	}
	cancel()
	<-done
	if !sawCancel.Load() {
		t.Fatalf("job never observed cancellation")
	}
}

func TestPoolSubmitAfterCloseRejected(t *testing.T) {
	p := NewPool(1, 1)
	p.Close()
	if _, ok := p.Submit(func(context.Context) {}); ok {
		t.Fatalf("submit accepted after close")
	}
}

func TestPoolCloseWaitsForInFlightJobs(t *testing.T) {
	p := NewPool(1, 1)
	var finished atomic.Bool
	started := make(chan struct{})
	if _, ok := p.Submit(func(context.Context) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	}); !ok {
		t.Fatalf("submit rejected")
	}
	<-started
	p.Close()
	if !finished.Load() {
		t.Fatalf("Close returned before the in-flight job finished")
	}
}
