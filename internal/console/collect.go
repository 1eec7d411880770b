package console

import (
	"strings"
	"time"
)

// Filter selects which chunk tags a collection keeps. Non-matching chunks
// are discarded, not requeued.
type Filter int

const (
	// Interactive keeps chunks tagged as user-visible output.
	Interactive Filter = iota
	// ProbeOnly keeps chunks tagged as probe responses.
	ProbeOnly
	// Any keeps everything.
	Any
)

func (f Filter) matches(c Chunk) bool {
	switch f {
	case ProbeOnly:
		return c.Probe
	case Interactive:
		return !c.Probe
	default:
		return true
	}
}

// Collect drains r until no matching chunk has arrived for a full window.
// Every matching pop pushes the deadline out to now+window, so the call
// returns roughly one window after the remote goes quiet rather than one
// window after it starts talking. A remote that streams forever keeps the
// call alive forever; that is the contract, since the protocol has no
// end-of-response marker.
func Collect(r *Router, window time.Duration, f Filter) string {
	var b strings.Builder
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		c, ok := r.TryPop()
		if !ok {
			time.Sleep(pollStep)
			continue
		}
		if f.matches(c) {
			b.WriteString(c.Text)
			deadline = time.Now().Add(window)
		}
	}
	return b.String()
}

// CollectLines runs Collect and splits the result into non-empty lines,
// which is the shape the probe parsers want.
func CollectLines(r *Router, window time.Duration, f Filter) []string {
	raw := Collect(r, window, f)
	if raw == "" {
		return nil
	}
	var lines []string
	for _, ln := range strings.Split(raw, "\n") {
		if ln != "" {
			lines = append(lines, ln)
		}
	}
	return lines
}
