package probe

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"netcon/internal/console"
)

// sender is the slice of the connection the engine needs; the rest of the
// transport stays out of reach so tests can fake it.
type sender interface {
	Send(cmd string, probe bool) error
}

var entityLine = regexp.MustCompile(`^\s*'(.*?)'\s*:\s*'(.*?)'`)

type Options struct {
	// EntityWindow is the quiet-period window for find_ent output.
	EntityWindow time.Duration
	// CvarWindow is the quiet-period window for cvarlist output, longer
	// because the listing is large and arrives in bursts.
	CvarWindow time.Duration
	Workers    int
	QueueDepth int
}

func (o Options) withDefaults() Options {
	if o.EntityWindow <= 0 {
		o.EntityWindow = 100 * time.Millisecond
	}
	if o.CvarWindow <= 0 {
		o.CvarWindow = 500 * time.Millisecond
	}
	return o
}

// Engine issues hidden probe commands over the interactive connection and
// publishes their parsed results. Probe output is collected under the
// router's suppress switch so it never reaches the continuous display.
type Engine struct {
	conn   sender
	router *console.Router
	errOut io.Writer
	opts   Options
	pool   *Pool

	mu      sync.Mutex
	results map[string]*Future
	cvars   []string
}

func NewEngine(conn sender, router *console.Router, errOut io.Writer, opts Options) *Engine {
	if errOut == nil {
		errOut = os.Stderr
	}
	o := opts.withDefaults()
	return &Engine{
		conn:    conn,
		router:  router,
		errOut:  errOut,
		opts:    o,
		pool:    NewPool(o.Workers, o.QueueDepth),
		results: make(map[string]*Future),
	}
}

// Close stops the worker pool after in-flight probes finish.
func (e *Engine) Close() {
	e.pool.Close()
}

// Cvars returns the current cvar index, sorted.
func (e *Engine) Cvars() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cvars
}

// SetCvars installs a pre-built index, used when a cached snapshot stands
// in for a failed listing probe.
func (e *Engine) SetCvars(names []string) {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	e.mu.Lock()
	e.cvars = sorted
	e.mu.Unlock()
}

// LoadCvars rebuilds the cvar index with a cvarlist probe and reports how
// many names it found. Failures leave an empty index and are written to
// the error sink; autocompletion trouble must never interrupt the session.
func (e *Engine) LoadCvars() int {
	e.router.SetSuppressed(true)
	defer e.router.SetSuppressed(false)
	e.router.Drain()
	if err := e.conn.Send("cvarlist", true); err != nil {
		fmt.Fprintf(e.errOut, "netcon: load cvars: %v\n", err)
		e.SetCvars(nil)
		return 0
	}
	lines := console.CollectLines(e.router, e.opts.CvarWindow, console.ProbeOnly)
	names := ParseCvarList(lines)
	e.SetCvars(names)
	return len(names)
}

// BeginQuery starts an asynchronous entity probe for prefix, replacing any
// cached result for the same prefix. The returned future resolves even
// when the pool rejects the job or the probe fails.
func (e *Engine) BeginQuery(prefix string, matchClasses, matchEntities bool) *Future {
	f := newFuture(prefix)
	e.mu.Lock()
	e.results[prefix] = f
	e.mu.Unlock()
	cancel, ok := e.pool.Submit(func(ctx context.Context) {
		e.runQuery(ctx, prefix, matchClasses, matchEntities, f)
	})
	if !ok {
		fmt.Fprintf(e.errOut, "netcon: probe %s dropped: pool full\n", f.ID())
		f.resolve(nil)
		return f
	}
	f.abandon = cancel
	return f
}

// ResultFor returns the future for prefix, resolved or not.
func (e *Engine) ResultFor(prefix string) (*Future, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.results[prefix]
	return f, ok
}

func (e *Engine) runQuery(ctx context.Context, prefix string, matchClasses, matchEntities bool, f *Future) {
	defer f.resolve(nil)
	if ctx.Err() != nil {
		return
	}
	e.router.SetSuppressed(true)
	defer e.router.SetSuppressed(false)
	e.router.Drain()
	if err := e.conn.Send("find_ent "+prefix, true); err != nil {
		fmt.Fprintf(e.errOut, "netcon: probe %s (%q): %v\n", f.ID(), prefix, err)
		return
	}
	lines := console.CollectLines(e.router, e.opts.EntityWindow, console.ProbeOnly)
	f.resolve(ParseEntities(lines, prefix, matchClasses, matchEntities))
}

// ParseEntities matches `'<class>' : '<entity>'` lines and keeps the names
// that start with prefix case-insensitively, class and entity sides gated
// by their own switches. The result is sorted and duplicate-free.
func ParseEntities(lines []string, prefix string, matchClasses, matchEntities bool) []string {
	low := strings.ToLower(prefix)
	seen := make(map[string]struct{})
	for _, ln := range lines {
		m := entityLine.FindStringSubmatch(ln)
		if m == nil {
			continue
		}
		class, entity := m[1], m[2]
		if matchClasses && strings.HasPrefix(strings.ToLower(class), low) {
			seen[class] = struct{}{}
		}
		if matchEntities && strings.HasPrefix(strings.ToLower(entity), low) {
			seen[entity] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ParseCvarList extracts candidate names from cvarlist output: the trimmed
// field before the first colon, when non-empty.
func ParseCvarList(lines []string) []string {
	var names []string
	for _, ln := range lines {
		first, _, _ := strings.Cut(ln, ":")
		if name := strings.TrimSpace(first); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
