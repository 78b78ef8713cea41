package ctrlsocket

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type echoCommand struct{}

func (echoCommand) ShortUsage() (string, string) { return "<text>", "echoes its arguments" }

func (echoCommand) Invoke(ctx context.Context, out io.Writer, args []string) error {
	fmt.Fprintln(out, args)
	return nil
}

type failingCommand struct{}

func (failingCommand) ShortUsage() (string, string) { return "", "always fails" }

func (failingCommand) Invoke(ctx context.Context, out io.Writer, args []string) error {
	return errors.New("boom")
}

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	addr := filepath.Join(t.TempDir(), "ctrl.sock")
	s := New(addr)
	s.Register("echo", echoCommand{})
	s.Register("fail", failingCommand{})
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go s.Serve()
	t.Cleanup(s.Shutdown)
	return s, addr
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return conn
}

func TestUnknownCommandReportsError(t *testing.T) {
	_, addr := startServer(t)
	conn := dial(t, addr)
	defer conn.Close()

	fmt.Fprintln(conn, "nonexistent")
	reply := readLine(t, conn)
	if !contains(reply, "unknown command") {
		t.Fatalf("expected an unknown-command reply, got %q", reply)
	}
}

func TestRegisteredCommandIsInvoked(t *testing.T) {
	_, addr := startServer(t)
	conn := dial(t, addr)
	defer conn.Close()

	fmt.Fprintln(conn, "echo hello world")
	reply := readLine(t, conn)
	if !contains(reply, "hello") || !contains(reply, "world") {
		t.Fatalf("expected echoed args, got %q", reply)
	}
}

func TestFailingCommandReportsError(t *testing.T) {
	_, addr := startServer(t)
	conn := dial(t, addr)
	defer conn.Close()

	fmt.Fprintln(conn, "fail")
	reply := readLine(t, conn)
	if !contains(reply, "error") || !contains(reply, "boom") {
		t.Fatalf("expected the command's error, got %q", reply)
	}
}

func TestQuitClosesTheConnection(t *testing.T) {
	_, addr := startServer(t)
	conn := dial(t, addr)
	defer conn.Close()

	fmt.Fprintln(conn, "quit")
	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 16)
	if _, err := conn.Read(buf); err != io.EOF {
		t.Fatalf("expected EOF after quit, got %v", err)
	}
}

func TestQAliasClosesTheConnection(t *testing.T) {
	_, addr := startServer(t)
	conn := dial(t, addr)
	defer conn.Close()

	fmt.Fprintln(conn, "q")
	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 16)
	if _, err := conn.Read(buf); err != io.EOF {
		t.Fatalf("expected EOF after q, got %v", err)
	}
}

func TestQuestionMarkAliasListsCommands(t *testing.T) {
	_, addr := startServer(t)
	conn := dial(t, addr)
	defer conn.Close()

	fmt.Fprintln(conn, "?")
	reply := readLine(t, conn)
	if !contains(reply, "commands") {
		t.Fatalf("expected ? to produce the help listing, got %q", reply)
	}
}

func TestHelpListsRegisteredCommands(t *testing.T) {
	_, addr := startServer(t)
	conn := dial(t, addr)
	defer conn.Close()

	fmt.Fprintln(conn, "help")
	scanner := bufio.NewScanner(conn)
	var lines []string
	conn.SetReadDeadline(time.Now().Add(time.Second))
	for len(lines) < 5 && scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	joined := ""
	for _, l := range lines {
		joined += l + "\n"
	}
	if !contains(joined, "echo") {
		t.Fatalf("expected help output to mention registered commands, got %q", joined)
	}
}

func TestShutdownStopsAcceptingNewConnections(t *testing.T) {
	s, addr := startServer(t)
	s.Shutdown()

	if _, err := net.Dial("unix", addr); err == nil {
		t.Fatal("expected dialing a shut-down server to fail")
	}
}

func readLine(t *testing.T, conn net.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatalf("expected a reply line: %v", scanner.Err())
	}
	return scanner.Text()
}

func contains(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}
