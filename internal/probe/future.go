package probe

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Future is the pending result of one entity query. It resolves exactly
// once; a probe that is abandoned, rejected, or fails still resolves with
// an empty set so waiters are never starved. Completion callers observe it
// instead of sharing the engine's result map.
type Future struct {
	id     uuid.UUID
	prefix string

	mu      sync.Mutex
	entries []string
	done    chan struct{}

	abandon func()
}

func newFuture(prefix string) *Future {
	return &Future{
		id:     uuid.New(),
		prefix: prefix,
		done:   make(chan struct{}),
	}
}

// ID identifies the query in diagnostics.
func (f *Future) ID() uuid.UUID { return f.id }

func (f *Future) Prefix() string { return f.prefix }

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

func (f *Future) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Value returns the sorted entries, or nil while unresolved.
func (f *Future) Value() []string {
	if !f.Resolved() {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries
}

// Wait blocks until resolution or timeout. A false second return means the
// timeout elapsed first.
func (f *Future) Wait(timeout time.Duration) ([]string, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return f.Value(), true
	case <-timer.C:
		return nil, false
	}
}

// Abandon tells a still-queued or in-flight probe to stop early. The
// future resolves regardless.
func (f *Future) Abandon() {
	if f.abandon != nil {
		f.abandon()
	}
}

// resolve publishes entries; only the first call wins.
func (f *Future) resolve(entries []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return
	default:
	}
	f.entries = entries
	close(f.done)
}
