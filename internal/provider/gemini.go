package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/barelyworkingcode/eve/internal/model"
)

const defaultGeminiContextWindow = 1048576

// geminiState is the continuation blob carried on the session.
type geminiState struct {
	SessionToken string `json:"sessionToken,omitempty"`
}

// Gemini spawns a fresh CLI process for every send. Continuation is
// carried across processes by a --resume token reconstructed from the
// snapshot; output processing matches the long-lived adapter, with the
// addition that bytes still buffered at process exit are parsed once.
type Gemini struct {
	emit      Emitter
	path      string
	dir       string
	model     string
	sessionID string
	hookURL   string
	hookToken string
	timeout   time.Duration

	mu      sync.Mutex
	running *exec.Cmd
	state   geminiState
}

// GeminiOptions configures a Gemini adapter.
type GeminiOptions struct {
	Path      string // CLI binary; "gemini" when empty
	Dir       string
	Model     string
	SessionID string
	HookURL   string
	HookToken string
	Timeout   time.Duration
}

// NewGemini creates the adapter.
func NewGemini(emit Emitter, opts GeminiOptions) *Gemini {
	if opts.Path == "" {
		opts.Path = "gemini"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	return &Gemini{
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

// Start is a no-op; there is no long-lived resource.
func (g *Gemini) Start() error { return nil }

// Send runs one CLI process for the turn. The turn finishes on an
// explicit result event or on process exit, whichever comes first.
func (g *Gemini) Send(ctx context.Context, text string, attachments []model.Attachment) error {
	frame, err := userFrame(text, attachments)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}

	g.mu.Lock()
	token := g.state.SessionToken
	g.mu.Unlock()

	args := []string{
		"--input-format", "stream-json",
		"--output-format", "stream-json",
	}
	if g.model != "" {
		args = append(args, "--model", g.model)
	}
	if token != "" {
		args = append(args, "--resume", token)
	}

	runCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, g.path, args...)
	cmd.Dir = g.dir
	cmd.Env = append(os.Environ(),
		envCLIPath+"="+g.path,
		envSessionID+"="+g.sessionID,
		envPermissionURL+"="+g.hookURL,
		envPermissionToken+"="+g.hookToken,
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
		return fmt.Errorf("spawn %s: %w", g.path, err)
	}

	g.mu.Lock()
	g.running = cmd
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		if g.running == cmd {
			g.running = nil
		}
		g.mu.Unlock()
	}()

	dec := newStreamDecoder(g.emit, defaultGeminiContextWindow)
	dec.BeginTurn(nil)

	if _, err := stdin.Write(frame); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return fmt.Errorf("write turn: %w", err)
	}
	stdin.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		buf := make([]byte, 4096)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				dec.Feed(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if line := scanner.Text(); line != "" {
				g.emit(Event{Type: EventStderr, Text: line})
			}
		}
	}()

	waitErr := cmd.Wait()
	wg.Wait()
	dec.Drain()

	if runCtx.Err() != nil {
		return fmt.Errorf("no response from %s within %s", g.path, g.timeout)
	}

	if newToken := dec.SessionToken(); newToken != "" {
		g.mu.Lock()
		g.state.SessionToken = newToken
		g.mu.Unlock()
	}

	if dec.ResultSeen() {
		return nil
	}

	// The process finished without an explicit result.
	if waitErr == nil && len(dec.Blocks()) > 0 {
		dec.CloseOpenMessage()
		g.emit(Event{Type: EventResult})
		return nil
	}

	exitCode := 0
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if waitErr != nil {
		exitCode = -1
	}
	if exitCode != 0 && token != "" {
		// The resume token was likely rejected; drop it so the next
		// turn starts a fresh conversation.
		g.mu.Lock()
		g.state.SessionToken = ""
		g.mu.Unlock()
	}
	g.emit(Event{Type: EventProcessExited, ExitCode: exitCode})
	return nil
}

// HandleCommand hands /transfer to a terminal running the native CLI.
func (g *Gemini) HandleCommand(name, args string) CommandResult {
	switch name {
	case "transfer":
		g.mu.Lock()
		token := g.state.SessionToken
		g.mu.Unlock()
		if token == "" {
			return Handled("Nothing to transfer yet — send a message first.")
		}
		return CommandResult{
			Outcome:  CommandTransfer,
			Transfer: &TransferSpec{Command: g.path, Args: []string{"--resume", token}},
		}
	default:
		return Unhandled()
	}
}

// Kill terminates any in-flight process. Safe to call repeatedly.
func (g *Gemini) Kill() {
	g.mu.Lock()
	cmd := g.running
	g.running = nil
	g.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
}

// Snapshot serialises the backend session token.
func (g *Gemini) Snapshot() json.RawMessage {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state.SessionToken == "" {
		return nil
	}
	data, err := json.Marshal(g.state)
	if err != nil {
		return nil
	}
	return data
}

// Restore rehydrates the session token from a snapshot blob.
func (g *Gemini) Restore(blob json.RawMessage) {
	if len(blob) == 0 {
		return
	}
	var state geminiState
	if err := json.Unmarshal(blob, &state); err != nil {
		return
	}
	g.mu.Lock()
	g.state = state
	g.mu.Unlock()
}

// GeminiModels is the static catalogue for the gemini provider.
func GeminiModels() []ModelOption {
	return []ModelOption{
		{Value: "gemini-2.5-pro", Label: "Gemini 2.5 Pro", Group: "Gemini"},
		{Value: "gemini-2.5-flash", Label: "Gemini 2.5 Flash", Group: "Gemini"},
	}
}

// GeminiCommands is the static command list for /help.
func GeminiCommands() []SlashCommand {
	return []SlashCommand{
		{Name: "/transfer", Description: "Continue this conversation in the gemini CLI"},
	}
}
