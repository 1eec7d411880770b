package console

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

// startServer runs a scripted console peer on a loopback listener and
// returns the port it accepted on. The handler gets the first accepted
// connection; the listener closes with the test.
func startServer(t *testing.T, handler func(net.Conn)) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

// echoServer responds to every received line with a scripted payload.
func echoServer(respond func(line string) string) func(net.Conn) {
	return func(conn net.Conn) {
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			if _, err := io.WriteString(conn, respond(sc.Text())); err != nil {
				return
			}
		}
	}
}

func testOptions() Options {
	return Options{
		ConnectTimeout: time.Second,
		ReadSlice:      20 * time.Millisecond,
	}
}

func dialTest(t *testing.T, port int) *Conn {
	t.Helper()
	c, err := Dial("127.0.0.1", port, testOptions(), io.Discard)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDialConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	_, err = Dial("127.0.0.1", port, testOptions(), io.Discard)
	if !errors.Is(err, ErrConnectionRefused) {
		t.Fatalf("expected ErrConnectionRefused, got %v", err)
	}
}

func TestSendAfterRemoteCloseIsNotConnected(t *testing.T) {
	port := startServer(t, func(conn net.Conn) {
		_ = conn.Close()
	})
	c := dialTest(t, port)

	deadline := time.Now().Add(2 * time.Second)
	for c.Running() {
		if time.Now().After(deadline) {
			t.Fatalf("connection still running after remote close")
		}
		time.Sleep(10 * time.Millisecond)
	}

	start := time.Now()
	err := c.Send("status", false)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("Send blocked instead of failing immediately")
	}
}

func TestRemoteClosePushesSyntheticChunk(t *testing.T) {
	port := startServer(t, func(conn net.Conn) {
		_ = conn.Close()
	})
	c := dialTest(t, port)

	chunk, ok := c.Router().PopWait(2 * time.Second)
	if !ok {
		t.Fatalf("no synthetic chunk after remote close")
	}
	if chunk.Probe {
		t.Fatalf("synthetic close chunk must not be probe-tagged")
	}
	if !strings.Contains(chunk.Text, "Connection closed") {
		t.Fatalf("unexpected chunk text %q", chunk.Text)
	}
}

func TestReaderTagsChunksWithActiveMode(t *testing.T) {
	port := startServer(t, echoServer(func(line string) string {
		return "resp:" + line + "\n"
	}))
	c := dialTest(t, port)

	if err := c.Send("status", false); err != nil {
		t.Fatalf("send interactive: %v", err)
	}
	chunk, ok := c.Router().PopWait(2 * time.Second)
	if !ok {
		t.Fatalf("no response to interactive command")
	}
	if chunk.Probe || !strings.Contains(chunk.Text, "resp:status") {
		t.Fatalf("unexpected interactive chunk %+v", chunk)
	}

	if err := c.Send("cvarlist", true); err != nil {
		t.Fatalf("send probe: %v", err)
	}
	chunk, ok = c.Router().PopWait(2 * time.Second)
	if !ok {
		t.Fatalf("no response to probe command")
	}
	if !chunk.Probe || !strings.Contains(chunk.Text, "resp:cvarlist") {
		t.Fatalf("unexpected probe chunk %+v", chunk)
	}
	if got := c.LastCommand(); got != "cvarlist" {
		t.Fatalf("last command %q, want cvarlist", got)
	}
}

func TestReaderNormalizesLineEndings(t *testing.T) {
	port := startServer(t, echoServer(func(string) string {
		return "a\r\nb\rc\n"
	}))
	c := dialTest(t, port)

	if err := c.Send("go", false); err != nil {
		t.Fatalf("send: %v", err)
	}
	var got bytes.Buffer
	deadline := time.Now().Add(2 * time.Second)
	for got.Len() < len("a\nb\nc\n") && time.Now().Before(deadline) {
		if chunk, ok := c.Router().PopWait(100 * time.Millisecond); ok {
			got.WriteString(chunk.Text)
		}
	}
	if got.String() != "a\nb\nc\n" {
		t.Fatalf("got %q, want %q", got.String(), "a\nb\nc\n")
	}
}

func TestWaitForAnyOutput(t *testing.T) {
	port := startServer(t, echoServer(func(line string) string {
		time.Sleep(50 * time.Millisecond)
		return "ok\n"
	}))
	c := dialTest(t, port)

	if c.WaitForAnyOutput(10 * time.Millisecond) {
		t.Fatalf("expected no output before any command")
	}
	if err := c.Send("go", false); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !c.WaitForAnyOutput(2 * time.Second) {
		t.Fatalf("expected output after command")
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"plain\n", "plain\n"},
		{"a\r\nb", "a\nb"},
		{"a\rb", "a\nb"},
		{"bad\xffbyte", "bad�byte"},
	}
	for _, tc := range cases {
		if got := normalize(tc.in); got != tc.want {
			t.Fatalf("normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
