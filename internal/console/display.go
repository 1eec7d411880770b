package console

import (
	"io"
	"time"
)

type liveness interface {
	Running() bool
}

// Display is the background consumer that prints interactive output as it
// arrives. While the router is suppressed it does not touch the queue at
// all, so a concurrently running probe collector owns every queued chunk.
type Display struct {
	alive  liveness
	router *Router
	out    io.Writer
	wait   time.Duration
}

func NewDisplay(alive liveness, router *Router, out io.Writer) *Display {
	return &Display{
		alive:  alive,
		router: router,
		out:    out,
		wait:   50 * time.Millisecond,
	}
}

// Run loops until the connection stops. Probe-tagged chunks are never
// emitted; interactive chunks are written verbatim, bytes and newlines
// untouched.
func (d *Display) Run() {
	for d.alive.Running() {
		if d.router.Suppressed() {
			time.Sleep(pollStep)
			continue
		}
		c, ok := d.router.PopWait(d.wait)
		if !ok {
			continue
		}
		if c.Probe {
			continue
		}
		_, _ = io.WriteString(d.out, c.Text)
	}
}
