package console

import (
	"sync"
	"time"
)

// pollStep is the sleep used by every bounded poll loop in this package.
const pollStep = 10 * time.Millisecond

// Chunk is one read's worth of remote console output. Probe records the
// command mode that was active when the bytes were read, not when the
// originating command was sent; output that straddles a mode switch can
// carry the wrong tag. The wire protocol has no correlation IDs, so the
// tag is best-effort by contract.
type Chunk struct {
	Text  string
	Probe bool
}

// Router is the ordered hand-off point between the connection's reader and
// its consumers. Pushes are never blocked and never dropped; suppression
// gates consumers only, so a suppressed queue keeps accumulating output
// for whichever collector owns it.
type Router struct {
	mu     sync.Mutex
	chunks []Chunk

	suppressMu sync.Mutex
	suppressed bool
}

func NewRouter() *Router {
	return &Router{}
}

// Push appends a chunk regardless of suppression state.
func (r *Router) Push(c Chunk) {
	r.mu.Lock()
	r.chunks = append(r.chunks, c)
	r.mu.Unlock()
}

// TryPop returns the oldest chunk without waiting.
func (r *Router) TryPop() (Chunk, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.chunks) == 0 {
		return Chunk{}, false
	}
	c := r.chunks[0]
	r.chunks = r.chunks[1:]
	return c, true
}

// PopWait waits up to d for a chunk to become available.
func (r *Router) PopWait(d time.Duration) (Chunk, bool) {
	deadline := time.Now().Add(d)
	for {
		if c, ok := r.TryPop(); ok {
			return c, true
		}
		if !time.Now().Before(deadline) {
			return Chunk{}, false
		}
		time.Sleep(pollStep)
	}
}

func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

// Drain discards every queued chunk and reports how many were dropped.
// Probe callers use it to clear stale output before issuing a query.
func (r *Router) Drain() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.chunks)
	r.chunks = nil
	return n
}

// SetSuppressed pauses (true) or resumes (false) delivery to the
// continuous display. Producers are unaffected.
func (r *Router) SetSuppressed(v bool) {
	r.suppressMu.Lock()
	r.suppressed = v
	r.suppressMu.Unlock()
}

func (r *Router) Suppressed() bool {
	r.suppressMu.Lock()
	defer r.suppressMu.Unlock()
	return r.suppressed
}
