package complete

import (
	"sort"
	"strings"
	"sync"
	"time"

	"netcon/internal/probe"
)

// entityCommands take an entity name as their argument.
var entityCommands = map[string]bool{
	"ent_fire":     true,
	"ent_dump":     true,
	"ent_keyvalue": true,
}

// classEntityCommands accept either a class name or an entity name.
var classEntityCommands = map[string]bool{
	"ent_text":     true,
	"ent_messages": true,
}

// Completer turns in-progress input into candidate completions. Entity
// arguments follow a fire-then-wait protocol: a prefix that has no cached
// result starts a probe and waits on its future for at most the ceiling,
// so a keystroke is never pinned to an unbounded network round trip; a
// result that misses the ceiling surfaces on the next keystroke instead.
type Completer struct {
	engine *probe.Engine
	wait   time.Duration

	mu         sync.Mutex
	lastPrefix string
}

func New(engine *probe.Engine, wait time.Duration) *Completer {
	if wait <= 0 {
		wait = time.Second
	}
	return &Completer{engine: engine, wait: wait}
}

// Do implements readline's AutoCompleter: candidates come back as the
// runes remaining after the matched prefix.
func (c *Completer) Do(line []rune, pos int) ([][]rune, int) {
	cands, prefix := c.Candidates(string(line[:pos]))
	var out [][]rune
	for _, cand := range cands {
		if len(cand) >= len(prefix) {
			out = append(out, []rune(cand[len(prefix):]))
		}
	}
	return out, len(prefix)
}

// Candidates classifies text by its first token and returns the matching
// full candidate words plus the prefix they complete.
func (c *Completer) Candidates(text string) ([]string, string) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, ""
	}
	head := strings.ToLower(words[0])
	arg := words[len(words)-1]

	switch {
	case classEntityCommands[head]:
		if len(words) == 1 {
			return matchKeys(classEntityCommands, text), text
		}
		return c.entityArg(arg, true, true), arg
	case entityCommands[head]:
		if len(words) == 1 {
			return matchKeys(entityCommands, text), text
		}
		return c.entityArg(arg, false, true), arg
	case head == "help":
		if len(words) == 1 {
			if strings.HasPrefix("help", strings.ToLower(text)) {
				return []string{"help"}, text
			}
			return nil, text
		}
		return matchPrefix(c.engine.Cvars(), arg), arg
	default:
		return matchPrefix(c.engine.Cvars(), text), text
	}
}

func (c *Completer) entityArg(arg string, matchClasses, matchEntities bool) []string {
	c.mu.Lock()
	f, cached := c.engine.ResultFor(arg)
	if !cached || arg != c.lastPrefix {
		c.lastPrefix = arg
		c.mu.Unlock()
		f = c.engine.BeginQuery(arg, matchClasses, matchEntities)
	} else {
		c.mu.Unlock()
		if f.Resolved() {
			return f.Value()
		}
	}
	if names, ok := f.Wait(c.wait); ok {
		return names
	}
	f.Abandon()
	return nil
}

func matchKeys(set map[string]bool, prefix string) []string {
	low := strings.ToLower(prefix)
	var out []string
	for name := range set {
		if strings.HasPrefix(name, low) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func matchPrefix(names []string, prefix string) []string {
	low := strings.ToLower(prefix)
	var out []string
	for _, name := range names {
		if strings.HasPrefix(strings.ToLower(name), low) {
			out = append(out, name)
		}
	}
	return out
}
