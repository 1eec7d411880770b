package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"netcon/internal/complete"
	"netcon/internal/config"
	"netcon/internal/console"
	"netcon/internal/cvarcache"
	"netcon/internal/probe"
)

type Runner struct {
	out    io.Writer
	errOut io.Writer
}

func NewRunner(out, errOut io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Runner{out: out, errOut: errOut}
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	cfg, oneShot, err := parseArgs(args)
	if errors.Is(err, flag.ErrHelp) {
		r.printUsage()
		return 0
	}
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		r.printUsage()
		return 2
	}

	conn, err := console.Dial(cfg.Host, cfg.Port, console.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		ReadSlice:      cfg.ReadSlice,
		ReadBufferSize: cfg.ReadBufferSize,
	}, r.errOut)
	if err != nil {
		if errors.Is(err, console.ErrConnectionRefused) {
			_, _ = fmt.Fprintf(r.errOut, "error: connection refused on port %d. Is the game running with -netconport %d?\n", cfg.Port, cfg.Port)
		} else {
			_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		}
		return 1
	}
	defer func() { _ = conn.Close() }()

	if oneShot != "" {
		return r.runOnce(conn, cfg, oneShot)
	}
	return r.runInteractive(ctx, conn, cfg)
}

// runOnce sends a single command, prints its raw collected output, and
// exits without entering the display loop.
func (r *Runner) runOnce(conn *console.Conn, cfg config.Config, cmd string) int {
	if err := conn.Send(cmd, false); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	out := console.Collect(conn.Router(), cfg.ResponseWindow, console.Interactive)
	_, _ = io.WriteString(r.out, out)
	return 0
}

func (r *Runner) runInteractive(ctx context.Context, conn *console.Conn, cfg config.Config) int {
	_, _ = fmt.Fprintf(r.out, "Connected to game console on %s:%d.\n", cfg.Host, cfg.Port)
	_, _ = fmt.Fprintln(r.out, "Type 'exit' to leave, Ctrl+C to clear the prompt, Ctrl+R for reverse search")
	_, _ = fmt.Fprintln(r.out, "Type 'help <cmd>' and press Tab to autocomplete cvars (e.g. 'help ent_')")
	_, _ = fmt.Fprintln(r.out, "Type 'ent_dump <name>' or 'ent_text <class/entity>' and press Tab to autocomplete names")
	_, _ = fmt.Fprintln(r.out, strings.Repeat("-", 60))

	engine := probe.NewEngine(conn, conn.Router(), r.errOut, probe.Options{
		EntityWindow: cfg.ProbeWindow,
		CvarWindow:   cfg.CvarListWindow,
		Workers:      cfg.ProbeWorkers,
		QueueDepth:   cfg.ProbeQueueDepth,
	})
	defer engine.Close()

	if cfg.ContinuousOutput {
		display := console.NewDisplay(conn, conn.Router(), r.out)
		go display.Run()
	}

	r.loadCvarIndex(ctx, engine, cfg)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          cfg.Prompt + "> ",
		HistoryFile:     cfg.HistoryPath,
		AutoComplete:    complete.New(engine, cfg.CompletionWait),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          r.out,
		Stderr:          r.errOut,
	})
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: init line editor: %v\n", err)
		return 1
	}
	defer func() { _ = rl.Close() }()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			break
		}
		cmd := strings.TrimSpace(line)
		if cmd == "" {
			continue
		}
		if strings.EqualFold(cmd, "exit") {
			break
		}
		if err := conn.Send(cmd, false); err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
			break
		}
		if cfg.ContinuousOutput {
			// Give a short response a chance to land above the next
			// prompt; the display goroutine does the printing.
			conn.WaitForAnyOutput(cfg.SendCourtesy)
		} else {
			out := console.Collect(conn.Router(), cfg.ResponseWindow, console.Interactive)
			_, _ = io.WriteString(r.out, out)
		}
		if !conn.Running() {
			break
		}
	}
	_, _ = fmt.Fprintln(r.out, "Goodbye!")
	return 0
}

// loadCvarIndex runs the startup cvarlist probe and keeps the snapshot
// cache in sync. A cached snapshot stands in only when the probe itself
// comes back empty; cache trouble is reported and otherwise ignored.
func (r *Runner) loadCvarIndex(ctx context.Context, engine *probe.Engine, cfg config.Config) {
	var store *cvarcache.Store
	if !cfg.CacheOff {
		s, err := cvarcache.Open(ctx, cfg.CachePath)
		if err != nil {
			_, _ = fmt.Fprintf(r.errOut, "netcon: open cvar cache: %v\n", err)
		} else {
			store = s
			defer func() { _ = store.Close() }()
		}
	}

	n := engine.LoadCvars()
	switch {
	case n > 0:
		_, _ = fmt.Fprintf(r.out, "Loaded %d cvars for autocompletion.\n", n)
		if store != nil {
			if err := store.Save(ctx, cfg.Host, cfg.Port, engine.Cvars()); err != nil {
				_, _ = fmt.Fprintf(r.errOut, "netcon: save cvar snapshot: %v\n", err)
			}
		}
	case store != nil:
		names, _, err := store.Load(ctx, cfg.Host, cfg.Port, cfg.CacheTTL)
		switch {
		case err == nil:
			engine.SetCvars(names)
			_, _ = fmt.Fprintf(r.out, "Loaded %d cvars from cache.\n", len(names))
		case errors.Is(err, cvarcache.ErrNoSnapshot), errors.Is(err, cvarcache.ErrStale):
			_, _ = fmt.Fprintln(r.out, "Loaded 0 cvars for autocompletion.")
		default:
			_, _ = fmt.Fprintf(r.errOut, "netcon: load cvar snapshot: %v\n", err)
		}
	default:
		_, _ = fmt.Fprintln(r.out, "Loaded 0 cvars for autocompletion.")
	}
}

func parseArgs(args []string) (config.Config, string, error) {
	cfg := config.DefaultConfig()
	fs := flag.NewFlagSet("netcon", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	host := fs.String("host", cfg.Host, "console host")
	port := fs.Int("port", cfg.Port, "console port")
	prompt := fs.String("prompt", cfg.Prompt, "prompt text")
	noContinuous := fs.Bool("no-continuous-output", false, "disable the background output display")
	historyFile := fs.String("history-file", cfg.HistoryPath, "line history file")
	noCache := fs.Bool("no-cache", false, "disable the cvar snapshot cache")
	eval := fs.String("eval", "", "run a single command and exit")
	script := fs.String("script", "", "run a vscript snippet and exit")
	dumpScope := fs.String("dump-scope", "", "dump a vscript scope and exit")
	dumpRoot := fs.Bool("dump-root-scope", false, "dump the vscript root scope and exit")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, "", err
	}
	if fs.NArg() > 0 {
		return config.Config{}, "", fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	if *port <= 0 || *port > 65535 {
		return config.Config{}, "", fmt.Errorf("invalid port: %d", *port)
	}

	cfg.Host = *host
	cfg.Port = *port
	cfg.Prompt = *prompt
	cfg.ContinuousOutput = !*noContinuous
	cfg.HistoryPath = *historyFile
	cfg.CacheOff = *noCache

	var oneShots []string
	if *eval != "" {
		oneShots = append(oneShots, *eval)
	}
	if *script != "" {
		oneShots = append(oneShots, "script "+*script)
	}
	if *dumpScope != "" {
		oneShots = append(oneShots, "script __DumpScope(0, "+*dumpScope+")")
	}
	if *dumpRoot {
		oneShots = append(oneShots, "script __DumpScope(0, getroottable())")
	}
	if len(oneShots) > 1 {
		return config.Config{}, "", errors.New("choose at most one of --eval, --script, --dump-scope, --dump-root-scope")
	}
	oneShot := ""
	if len(oneShots) == 1 {
		oneShot = oneShots[0]
	}
	return cfg, oneShot, nil
}

func (r *Runner) printUsage() {
	_, _ = fmt.Fprint(r.errOut, `usage: netcon [flags]

  --host <addr>           console host (default 127.0.0.1)
  --port <int>            console port (default 8020)
  --prompt <string>       prompt text (default "$")
  --no-continuous-output  disable the background output display
  --history-file <path>   line history file
  --no-cache              disable the cvar snapshot cache
  --eval <cmd>            run a single command and exit
  --script <code>         run a vscript snippet and exit
  --dump-scope <name>     dump a vscript scope and exit
  --dump-root-scope       dump the vscript root scope and exit
`)
}
