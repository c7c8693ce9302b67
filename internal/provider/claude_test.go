package provider

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// writeFakeCLI drops an executable shell script standing in for the
// backend binary.
func writeFakeCLI(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-cli")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake cli: %v", err)
	}
	return path
}

func TestClaudeSendWithReentrantEmitter(t *testing.T) {
	script := "#!/bin/sh\n" +
		"read line\n" +
		`printf '{"type":"result","session_id":"tok-1"}\n{"type":"result","session_id":"tok-1"}\n'` + "\n" +
		"read rest\n"
	cli := writeFakeCLI(t, script)

	// Session event handlers snapshot the provider from the reader
	// goroutine. The adapter must tolerate that re-entry while a send
	// is mid-flight, including two result lines landing in one read.
	var c *Claude
	emit := func(evt Event) {
		if evt.Type == EventResult {
			c.Snapshot()
		}
	}
	c = NewClaude(emit, ClaudeOptions{Path: cli, Timeout: 5 * time.Second})
	defer c.Kill()

	done := make(chan error, 1)
	go func() { done <- c.Send(context.Background(), "hi", nil) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Send never returned")
	}

	if blob := c.Snapshot(); !strings.Contains(string(blob), "tok-1") {
		t.Errorf("snapshot = %s, want captured token", blob)
	}
}

func TestClaudeSendDeadProcessSingleOutcome(t *testing.T) {
	cli := writeFakeCLI(t, "#!/bin/sh\nexit 7\n")

	var mu sync.Mutex
	var events []Event
	emit := func(evt Event) {
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	}
	c := NewClaude(emit, ClaudeOptions{Path: cli, Timeout: 5 * time.Second})

	// The process dies without reading the turn. The exit event is the
	// turn's terminal outcome, so Send must not report an error on top.
	if err := c.Send(context.Background(), "hi", nil); err != nil {
		t.Fatalf("Send = %v, want nil", err)
	}

	exits := func() []Event {
		mu.Lock()
		defer mu.Unlock()
		var out []Event
		for _, evt := range events {
			if evt.Type == EventProcessExited {
				out = append(out, evt)
			}
		}
		return out
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(exits()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no process_exited event emitted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := exits()
	if len(got) != 1 {
		t.Fatalf("process_exited count = %d, want 1", len(got))
	}
	if got[0].ExitCode != 7 {
		t.Errorf("exit code = %d, want 7", got[0].ExitCode)
	}
}

func TestClaudeHandleCommand(t *testing.T) {
	_, emit := collectEvents()
	c := NewClaude(emit, ClaudeOptions{Path: "claude"})

	t.Run("TransferWithoutToken", func(t *testing.T) {
		res := c.HandleCommand("transfer", "")
		if res.Outcome != CommandHandled {
			t.Fatalf("outcome = %v, want handled", res.Outcome)
		}
		if res.Reply == "" {
			t.Error("expected an explanatory reply")
		}
	})

	t.Run("TransferWithToken", func(t *testing.T) {
		c.state.SessionToken = "tok-9"
		res := c.HandleCommand("transfer", "")
		if res.Outcome != CommandTransfer {
			t.Fatalf("outcome = %v, want transfer", res.Outcome)
		}
		if res.Transfer == nil || res.Transfer.Command != "claude" {
			t.Fatalf("transfer = %+v", res.Transfer)
		}
		if len(res.Transfer.Args) != 2 || res.Transfer.Args[0] != "--resume" || res.Transfer.Args[1] != "tok-9" {
			t.Errorf("args = %v", res.Transfer.Args)
		}
	})

	t.Run("UnknownCommand", func(t *testing.T) {
		if res := c.HandleCommand("compact", ""); res.Outcome != CommandUnhandled {
			t.Errorf("outcome = %v, want unhandled", res.Outcome)
		}
	})
}

func TestClaudeSnapshotRoundTrip(t *testing.T) {
	_, emit := collectEvents()
	c := NewClaude(emit, ClaudeOptions{})

	if blob := c.Snapshot(); blob != nil {
		t.Errorf("fresh adapter snapshot = %s, want nil", blob)
	}

	c.state.SessionToken = "tok-42"
	blob := c.Snapshot()
	if blob == nil {
		t.Fatal("Snapshot() = nil with a token present")
	}

	fresh := NewClaude(emit, ClaudeOptions{})
	fresh.Restore(blob)
	if fresh.state.SessionToken != "tok-42" {
		t.Errorf("restored token = %q", fresh.state.SessionToken)
	}

	t.Run("MalformedBlobIgnored", func(t *testing.T) {
		other := NewClaude(emit, ClaudeOptions{})
		other.Restore([]byte("{broken"))
		if other.state.SessionToken != "" {
			t.Errorf("token = %q after malformed restore", other.state.SessionToken)
		}
	})
}

func TestGeminiHandleCommand(t *testing.T) {
	_, emit := collectEvents()
	g := NewGemini(emit, GeminiOptions{Path: "gemini"})

	if res := g.HandleCommand("transfer", ""); res.Outcome != CommandHandled {
		t.Errorf("tokenless transfer outcome = %v, want handled", res.Outcome)
	}

	g.state.SessionToken = "g-7"
	res := g.HandleCommand("transfer", "")
	if res.Outcome != CommandTransfer || res.Transfer == nil {
		t.Fatalf("result = %+v", res)
	}
	if res.Transfer.Command != "gemini" || res.Transfer.Args[1] != "g-7" {
		t.Errorf("transfer = %+v", res.Transfer)
	}
}

func TestDefaultsApplied(t *testing.T) {
	_, emit := collectEvents()

	c := NewClaude(emit, ClaudeOptions{})
	if c.path != "claude" {
		t.Errorf("claude path = %q", c.path)
	}
	if c.timeout <= 0 {
		t.Error("claude timeout not defaulted")
	}

	g := NewGemini(emit, GeminiOptions{})
	if g.path != "gemini" {
		t.Errorf("gemini path = %q", g.path)
	}
}
