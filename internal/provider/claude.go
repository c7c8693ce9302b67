package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/barelyworkingcode/eve/internal/model"
)

// Environment passed to spawned CLI backends so their hooks can reach
// the permission bridge.
const (
	envPermissionURL   = "EVE_PERMISSION_URL"
	envPermissionToken = "EVE_PERMISSION_TOKEN"
	envSessionID       = "EVE_SESSION_ID"
	envCLIPath         = "EVE_CLI_PATH"
)

const defaultClaudeContextWindow = 200000

// claudeState is the continuation blob carried on the session.
type claudeState struct {
	SessionToken string `json:"sessionToken,omitempty"`
}

// Claude drives a long-lived CLI subprocess speaking stream-json on
// both stdin and stdout. The process is spawned lazily on the first
// send and respawned after an exit.
type Claude struct {
	emit      Emitter
	path      string
	dir       string
	model     string
	sessionID string
	hookURL   string
	hookToken string
	timeout   time.Duration

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	exitCh chan struct{}
	dec    *streamDecoder
	state  claudeState
}

// ClaudeOptions configures a Claude adapter.
type ClaudeOptions struct {
	Path      string // CLI binary; "claude" when empty
	Dir       string
	Model     string
	SessionID string
	HookURL   string
	HookToken string
	Timeout   time.Duration
}

// NewClaude creates the adapter. No process is spawned until Start.
func NewClaude(emit Emitter, opts ClaudeOptions) *Claude {
	if opts.Path == "" {
		opts.Path = "claude"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	return &Claude{
		emit:      emit,
		path:      opts.Path,
		dir:       opts.Dir,
		model:     opts.Model,
		sessionID: opts.SessionID,
		hookURL:   opts.HookURL,
		hookToken: opts.HookToken,
		timeout:   opts.Timeout,
	}
}

// Start spawns the subprocess if it is not already running.
func (c *Claude) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd != nil {
		return nil
	}
	return c.spawnLocked()
}

// spawnLocked starts the CLI. Callers hold c.mu.
func (c *Claude) spawnLocked() error {
	args := []string{
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
	}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	if c.state.SessionToken != "" {
		args = append(args, "--resume", c.state.SessionToken)
	}

	cmd := exec.Command(c.path, args...)
	cmd.Dir = c.dir
	cmd.Env = append(os.Environ(),
		envCLIPath+"="+c.path,
		envSessionID+"="+c.sessionID,
		envPermissionURL+"="+c.hookURL,
		envPermissionToken+"="+c.hookToken,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", c.path, err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.exitCh = make(chan struct{})
	if c.dec == nil {
		c.dec = newStreamDecoder(c.emit, defaultClaudeContextWindow)
	}

	go c.readLoop(stdout)
	go c.stderrLoop(stderr)
	go c.waitLoop(cmd, c.exitCh)

	return nil
}

func (c *Claude) readLoop(stdout io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			c.dec.Feed(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (c *Claude) stderrLoop(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			c.emit(Event{Type: EventStderr, Text: line})
		}
	}
}

func (c *Claude) waitLoop(cmd *exec.Cmd, exitCh chan struct{}) {
	err := cmd.Wait()

	c.mu.Lock()
	if c.cmd != cmd {
		// Kill already tore this process down; nothing to report.
		c.mu.Unlock()
		close(exitCh)
		return
	}
	c.cmd = nil
	c.stdin = nil

	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		exitCode = -1
	}
	if exitCode != 0 {
		// A resume token the CLI refused is useless; dropping it lets
		// the next turn start a fresh conversation.
		c.state.SessionToken = ""
	}
	c.mu.Unlock()

	close(exitCh)
	c.emit(Event{Type: EventProcessExited, ExitCode: exitCode})
}

// Send writes one user-turn frame and blocks until the turn reaches a
// terminal outcome: result, process exit, cancellation, or timeout.
func (c *Claude) Send(ctx context.Context, text string, attachments []model.Attachment) error {
	frame, err := userFrame(text, attachments)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}

	c.mu.Lock()
	if c.cmd == nil {
		if err := c.spawnLocked(); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	stdin := c.stdin
	exitCh := c.exitCh

	done := make(chan struct{})
	c.dec.BeginTurn(func() { close(done) })
	c.mu.Unlock()

	if _, err := stdin.Write(frame); err != nil {
		// A failed write means the pipe broke under us. If the process
		// is dead, its exit is the turn's terminal outcome and this
		// call must not add a second one.
		select {
		case <-exitCh:
			return nil
		case <-time.After(5 * time.Second):
			return fmt.Errorf("write turn: %w", err)
		}
	}

	select {
	case <-done:
		c.mu.Lock()
		if token := c.dec.SessionToken(); token != "" {
			c.state.SessionToken = token
		}
		c.mu.Unlock()
		return nil
	case <-exitCh:
		// process_exited is the turn's terminal outcome.
		return nil
	case <-ctx.Done():
		c.Kill()
		return ctx.Err()
	case <-time.After(c.timeout):
		c.Kill()
		return fmt.Errorf("no response from %s within %s", c.path, c.timeout)
	}
}

// HandleCommand implements the adapter command hook. /transfer hands
// the conversation to a terminal running the native CLI.
func (c *Claude) HandleCommand(name, args string) CommandResult {
	switch name {
	case "transfer":
		c.mu.Lock()
		token := c.state.SessionToken
		c.mu.Unlock()
		if token == "" {
			return Handled("Nothing to transfer yet — send a message first.")
		}
		return CommandResult{
			Outcome:  CommandTransfer,
			Transfer: &TransferSpec{Command: c.path, Args: []string{"--resume", token}},
		}
	default:
		return Unhandled()
	}
}

// Kill terminates the subprocess and releases the handle. Safe to call
// repeatedly.
func (c *Claude) Kill() {
	c.mu.Lock()
	cmd := c.cmd
	c.cmd = nil
	c.stdin = nil
	c.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
}

// Snapshot serialises the backend session token.
func (c *Claude) Snapshot() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.SessionToken == "" {
		return nil
	}
	data, err := json.Marshal(c.state)
	if err != nil {
		return nil
	}
	return data
}

// Restore rehydrates the session token from a snapshot blob. Malformed
// blobs are ignored so the next turn starts fresh.
func (c *Claude) Restore(blob json.RawMessage) {
	if len(blob) == 0 {
		return
	}
	var state claudeState
	if err := json.Unmarshal(blob, &state); err != nil {
		return
	}
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// ClaudeModels is the static catalogue for the claude provider.
func ClaudeModels() []ModelOption {
	return []ModelOption{
		{Value: "claude-sonnet-4-5", Label: "Claude Sonnet 4.5", Group: "Claude"},
		{Value: "claude-opus-4-1", Label: "Claude Opus 4.1", Group: "Claude"},
		{Value: "claude-haiku-4-5", Label: "Claude Haiku 4.5", Group: "Claude"},
	}
}

// ClaudeCommands is the static command list for /help.
func ClaudeCommands() []SlashCommand {
	return []SlashCommand{
		{Name: "/transfer", Description: "Continue this conversation in the claude CLI"},
	}
}
