package console

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

var (
	// ErrConnectionRefused means nothing is listening on the console port.
	ErrConnectionRefused = errors.New("connection refused")
	// ErrNotConnected means the session has already ended.
	ErrNotConnected = errors.New("not connected")
	// ErrWriteFailed wraps a socket error while sending a command.
	ErrWriteFailed = errors.New("write failed")
)

const closedNotice = "Connection closed by server.\n"

// Options tune the transport. Zero values fall back to defaults that match
// the engine's netcon behavior.
type Options struct {
	ConnectTimeout time.Duration
	ReadSlice      time.Duration
	ReadBufferSize int
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 3 * time.Second
	}
	if o.ReadSlice <= 0 {
		o.ReadSlice = 100 * time.Millisecond
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = 4096
	}
	return o
}

// Conn owns the TCP socket to the remote console. One reader goroutine
// runs for the connection's lifetime; writes are serialized through Send.
type Conn struct {
	nc     net.Conn
	router *Router
	errOut io.Writer

	readSlice time.Duration
	bufSize   int

	mu        sync.Mutex // guards running, lastCmd, probeMode, and the write path
	running   bool
	lastCmd   string
	probeMode bool

	readerDone chan struct{}
}

// Dial connects to the console with a timeout and starts the reader loop.
// The connection is usable before any data arrives. A refused connection
// is reported as ErrConnectionRefused; everything else wraps the dial
// error.
func Dial(host string, port int, opts Options, errOut io.Writer) (*Conn, error) {
	o := opts.withDefaults()
	if errOut == nil {
		errOut = os.Stderr
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	nc, err := net.DialTimeout("tcp", addr, o.ConnectTimeout)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: %s", ErrConnectionRefused, addr)
		}
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c := &Conn{
		nc:         nc,
		router:     NewRouter(),
		errOut:     errOut,
		readSlice:  o.ReadSlice,
		bufSize:    o.ReadBufferSize,
		running:    true,
		readerDone: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Router exposes the output queue the reader feeds.
func (c *Conn) Router() *Router {
	return c.router
}

func (c *Conn) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Conn) LastCommand() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCmd
}

func (c *Conn) setNotRunning() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

func (c *Conn) probeActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.probeMode
}

// Send records cmd and its mode as connection-wide state, then writes it
// newline-terminated to the socket. The mode is what the reader tags
// subsequent chunks with; output belonging to an earlier command that
// arrives after the switch is mis-tagged, an accepted protocol limitation.
func (c *Conn) Send(cmd string, probe bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return ErrNotConnected
	}
	c.lastCmd = cmd
	c.probeMode = probe
	if _, err := c.nc.Write([]byte(cmd + "\n")); err != nil {
		c.running = false
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// WaitForAnyOutput blocks until the queue is non-empty or d elapses. It is
// a courtesy delay for callers that fire a command without collecting the
// response, not a completion signal.
func (c *Conn) WaitForAnyOutput(d time.Duration) bool {
	deadline := time.Now().Add(d)
	for c.router.Len() == 0 {
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(pollStep)
	}
	return true
}

// Close ends the session and waits for the reader to exit.
func (c *Conn) Close() error {
	c.setNotRunning()
	err := c.nc.Close()
	<-c.readerDone
	return err
}

func (c *Conn) readLoop() {
	defer close(c.readerDone)
	buf := make([]byte, c.bufSize)
	for c.Running() {
		if err := c.nc.SetReadDeadline(time.Now().Add(c.readSlice)); err != nil {
			c.setNotRunning()
			return
		}
		n, err := c.nc.Read(buf)
		if n > 0 {
			if text := normalize(string(buf[:n])); text != "" {
				c.router.Push(Chunk{Text: text, Probe: c.probeActive()})
			}
		}
		if err == nil {
			continue
		}
		var ne net.Error
		switch {
		case errors.As(err, &ne) && ne.Timeout():
			// Idle slice; go around and re-check running.
		case errors.Is(err, io.EOF):
			c.setNotRunning()
			c.router.Push(Chunk{Text: closedNotice})
			return
		case errors.Is(err, net.ErrClosed):
			c.setNotRunning()
			return
		default:
			fmt.Fprintf(c.errOut, "netcon: read error: %v\n", err)
			c.setNotRunning()
			c.router.Push(Chunk{Text: fmt.Sprintf("Read error: %v\n", err)})
			return
		}
	}
}

// normalize makes the payload safe to print: malformed byte sequences are
// replaced rather than rejected, and every line-ending variant becomes a
// single "\n".
func normalize(s string) string {
	s = strings.ToValidUTF8(s, "�")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
