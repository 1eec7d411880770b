package probe

import (
	"context"
	"sync"
)

// Pool runs probe jobs on a fixed set of workers with a bounded queue, so
// a burst of completion keystrokes cannot pile goroutines up behind a slow
// remote. Every job gets a cancellable context; a job that is cancelled
// while queued still runs, because job bodies own cleanup (clearing
// suppression, resolving futures) that must happen either way.
type Pool struct {
	jobs chan job
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type job struct {
	ctx context.Context
	run func(context.Context)
}

func NewPool(workers, depth int) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if depth <= 0 {
		depth = 8
	}
	p := &Pool{jobs: make(chan job, depth)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		j.run(j.ctx)
	}
}

// Submit queues run without blocking. When the queue is full or the pool
// is closed it reports false and runs nothing; the caller is expected to
// resolve its future empty instead.
func (p *Pool) Submit(run func(context.Context)) (context.CancelFunc, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false
	}
	ctx, cancel := context.WithCancel(context.Background())
	select {
	case p.jobs <- job{ctx: ctx, run: run}:
		return cancel, true
	default:
		cancel()
		return nil, false
	}
}

// Close stops accepting jobs and waits for in-flight ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
