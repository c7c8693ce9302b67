// Package term multiplexes interactive PTY terminals. A terminal
// outlives the websocket that created it: disconnecting detaches the
// binding, and a later reconnect replays the scrollback ring.
package term

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/barelyworkingcode/eve/internal/buffer"
	"github.com/barelyworkingcode/eve/internal/model"
)

const (
	// ScrollbackSize is the per-terminal replay buffer.
	ScrollbackSize = 100 * 1024

	readBufferSize = 4096

	defaultRows = 24
	defaultCols = 80
)

// Terminal is one live (or exited) PTY with its scrollback.
type Terminal struct {
	ID        string
	Command   string
	Args      []string
	Dir       string
	CreatedAt time.Time

	mu          sync.Mutex
	ptmx        *os.File
	cmd         *exec.Cmd
	ring        *buffer.Ring
	transcript  *Transcript
	boundClient string
	exited      bool
	exitCode    int
}

// Info is the listing view of a terminal.
type Info struct {
	ID        string    `json:"terminalId"`
	Command   string    `json:"command"`
	Dir       string    `json:"directory"`
	CreatedAt time.Time `json:"createdAt"`
	Bound     bool      `json:"bound"`
	Exited    bool      `json:"exited"`
	ExitCode  int       `json:"exitCode"`
}

// Manager owns every terminal in the process.
type Manager struct {
	mu        sync.RWMutex
	terminals map[string]*Terminal

	shell  string
	logDir string

	// OutputFn receives process output for the client currently bound
	// to the terminal. ExitFn fires once when the process exits.
	OutputFn func(termID, clientID string, data []byte)
	ExitFn   func(termID, clientID string, exitCode int)
}

// NewManager creates the multiplexer. logDir receives asciinema
// transcripts; empty disables recording.
func NewManager(shell, logDir string) *Manager {
	return &Manager{
		terminals: make(map[string]*Terminal),
		shell:     shell,
		logDir:    logDir,
	}
}

// CreateOptions configures a new terminal.
type CreateOptions struct {
	Command  string // empty means the configured shell
	Args     []string
	Dir      string
	Rows     uint16
	Cols     uint16
	ClientID string // initial binding
}

// Create spawns a PTY and binds it to the requesting client.
func (m *Manager) Create(opts CreateOptions) (*Terminal, error) {
	command := opts.Command
	if command == "" {
		command = m.shell
	}
	if opts.Rows == 0 {
		opts.Rows = defaultRows
	}
	if opts.Cols == 0 {
		opts.Cols = defaultCols
	}

	cmd := exec.Command(command, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	term := &Terminal{
		ID:          uuid.New().String(),
		Command:     command,
		Args:        opts.Args,
		Dir:         opts.Dir,
		CreatedAt:   time.Now(),
		ptmx:        ptmx,
		cmd:         cmd,
		ring:        buffer.NewRing(ScrollbackSize),
		boundClient: opts.ClientID,
	}

	if m.logDir != "" {
		if err := os.MkdirAll(m.logDir, 0o755); err == nil {
			path := filepath.Join(m.logDir, term.ID+".cast")
			if tr, trErr := NewTranscript(path, int(opts.Cols), int(opts.Rows)); trErr == nil {
				term.transcript = tr
			}
		}
	}

	m.mu.Lock()
	m.terminals[term.ID] = term
	m.mu.Unlock()

	go m.readLoop(term)
	go m.waitLoop(term)

	return term, nil
}

func (m *Manager) readLoop(t *Terminal) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := t.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			m.deliver(t, data)
		}
		if err != nil {
			return
		}
	}
}

// deliver appends output to the ring and forwards it to the bound
// client, if any.
func (m *Manager) deliver(t *Terminal, data []byte) {
	t.mu.Lock()
	t.ring.Write(data)
	if t.transcript != nil {
		t.transcript.WriteOutput(data)
	}
	client := t.boundClient
	t.mu.Unlock()

	if client != "" && m.OutputFn != nil {
		m.OutputFn(t.ID, client, data)
	}
}

func (m *Manager) waitLoop(t *Terminal) {
	err := t.cmd.Wait()

	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		exitCode = -1
	}

	// The exit marker joins the scrollback so late reconnects see it.
	marker := fmt.Sprintf("\r\n[process exited with code %d]\r\n", exitCode)

	t.mu.Lock()
	t.exited = true
	t.exitCode = exitCode
	t.ring.Write([]byte(marker))
	if t.transcript != nil {
		t.transcript.WriteOutput([]byte(marker))
		t.transcript.Close()
	}
	t.ptmx.Close()
	client := t.boundClient
	t.mu.Unlock()

	if m.ExitFn != nil {
		m.ExitFn(t.ID, client, exitCode)
	}
}

// Input writes client keystrokes to the PTY.
func (m *Manager) Input(id string, data []byte) error {
	t, err := m.get(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.exited {
		return fmt.Errorf("terminal %s: %w", id, model.ErrTerminalNotFound)
	}
	if t.transcript != nil {
		t.transcript.WriteInput(data)
	}
	_, err = t.ptmx.Write(data)
	return err
}

// Resize changes the PTY geometry.
func (m *Manager) Resize(id string, rows, cols uint16) error {
	t, err := m.get(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.exited {
		return nil
	}
	return pty.Setsize(t.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// Reconnect binds the terminal to a client and returns the scrollback
// to replay, plus the exit state if the process already finished. Any
// previous binding is displaced.
func (m *Manager) Reconnect(id, clientID string) (scrollback []byte, exited bool, exitCode int, err error) {
	t, err := m.get(id)
	if err != nil {
		return nil, false, 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.boundClient = clientID
	return t.ring.Bytes(), t.exited, t.exitCode, nil
}

// DetachClient unbinds every terminal held by a disconnecting client.
// The terminals keep running.
func (m *Manager) DetachClient(clientID string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.terminals {
		t.mu.Lock()
		if t.boundClient == clientID {
			t.boundClient = ""
		}
		t.mu.Unlock()
	}
}

// Close kills the process (if alive) and drops the terminal record.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	t, ok := m.terminals[id]
	delete(m.terminals, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("terminal %s: %w", id, model.ErrTerminalNotFound)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.exited && t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}
	return nil
}

// List returns every terminal, newest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Info, 0, len(m.terminals))
	for _, t := range m.terminals {
		t.mu.Lock()
		out = append(out, Info{
			ID:        t.ID,
			Command:   t.Command,
			Dir:       t.Dir,
			CreatedAt: t.CreatedAt,
			Bound:     t.boundClient != "",
			Exited:    t.exited,
			ExitCode:  t.exitCode,
		})
		t.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// CloseAll tears down every terminal, for shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	terminals := make([]*Terminal, 0, len(m.terminals))
	for _, t := range m.terminals {
		terminals = append(terminals, t)
	}
	m.terminals = make(map[string]*Terminal)
	m.mu.Unlock()

	for _, t := range terminals {
		t.mu.Lock()
		if !t.exited && t.cmd.Process != nil {
			t.cmd.Process.Kill()
		}
		t.mu.Unlock()
	}
}

func (m *Manager) get(id string) (*Terminal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.terminals[id]
	if !ok {
		return nil, fmt.Errorf("terminal %s: %w", id, model.ErrTerminalNotFound)
	}
	return t, nil
}
