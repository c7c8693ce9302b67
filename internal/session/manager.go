package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/barelyworkingcode/eve/internal/config"
	"github.com/barelyworkingcode/eve/internal/hook"
	"github.com/barelyworkingcode/eve/internal/model"
	"github.com/barelyworkingcode/eve/internal/provider"
	"github.com/barelyworkingcode/eve/internal/repository"
	"github.com/barelyworkingcode/eve/internal/store"
)

// DefaultModel is used when neither the request nor the project names
// one.
const DefaultModel = "claude-sonnet-4-5"

// Manager owns the session map. All sessions are created, joined, and
// destroyed through it; nothing else holds session references.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store    *store.SessionStore
	projects *store.ProjectStore
	factory  *provider.Factory
	bridge   *hook.Bridge
	usage    *repository.UsageRepository // nil disables the ledger
	hookURL  string
	shell    string
}

// ManagerOptions wires the manager's collaborators.
type ManagerOptions struct {
	Store    *store.SessionStore
	Projects *store.ProjectStore
	Factory  *provider.Factory
	Bridge   *hook.Bridge
	Usage    *repository.UsageRepository
	HookURL  string
	Shell    string
}

// NewManager creates the manager.
func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		store:    opts.Store,
		projects: opts.Projects,
		factory:  opts.Factory,
		bridge:   opts.Bridge,
		usage:    opts.Usage,
		hookURL:  opts.HookURL,
		shell:    opts.Shell,
	}
}

// CreateOptions carries the create_session parameters.
type CreateOptions struct {
	ProjectID string
	Directory string
	Model     string
	Name      string
}

// Create resolves the effective model and directory, instantiates the
// provider, and registers the session. The client is bound and
// receives session_created.
func (m *Manager) Create(client Sink, opts CreateOptions) (*Session, error) {
	modelName := opts.Model
	directory := opts.Directory

	if opts.ProjectID != "" {
		project, err := m.projects.Get(opts.ProjectID)
		if err != nil {
			return nil, err
		}
		if modelName == "" {
			modelName = project.Model
		}
		if directory == "" {
			directory = project.Path
		}
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	data := &model.Session{
		ID:        uuid.New().String(),
		ProjectID: opts.ProjectID,
		Name:      opts.Name,
		Directory: directory,
		Model:     modelName,
		CreatedAt: time.Now(),
		Messages:  []model.Turn{},
	}
	sess := newSession(data, m.store)

	if err := m.attachProvider(sess); err != nil {
		return nil, err
	}
	if err := sess.prov.Start(); err != nil {
		sess.prov.Kill()
		m.bridge.RevokeToken(data.ID)
		return nil, fmt.Errorf("start provider: %w", err)
	}

	if err := m.store.Save(data); err != nil {
		sess.prov.Kill()
		m.bridge.RevokeToken(data.ID)
		return nil, err
	}

	m.mu.Lock()
	m.sessions[data.ID] = sess
	m.mu.Unlock()

	if client != nil {
		client.Enqueue(F{
			"type":      "session_created",
			"sessionId": data.ID,
			"model":     data.Model,
			"directory": data.Directory,
			"projectId": data.ProjectID,
		})
		sess.bindClient(client)
	}
	return sess, nil
}

// attachProvider builds the adapter for the session's model and wires
// the emitter and usage callback.
func (m *Manager) attachProvider(sess *Session) error {
	token := m.bridge.IssueToken(sess.data.ID)
	prov, err := m.factory.New(sess.handleEvent, provider.NewOptions{
		Model:     sess.data.Model,
		Dir:       sess.data.Directory,
		SessionID: sess.data.ID,
		HookURL:   m.hookURL,
		HookToken: token,
	})
	if err != nil {
		m.bridge.RevokeToken(sess.data.ID)
		return err
	}

	sess.mu.Lock()
	sess.prov = prov
	sess.onUsage = m.usageRecorder(sess.data.ID, sess.data.ProjectID, sess.data.Model, repository.UsageSourceTurn)
	sess.mu.Unlock()
	return nil
}

func (m *Manager) usageRecorder(sessionID, projectID, modelName string, source repository.UsageSource) func(model.Stats) {
	if m.usage == nil {
		return nil
	}
	return func(stats model.Stats) {
		rec := &repository.UsageRecord{
			SessionID: sessionID,
			ProjectID: projectID,
			Model:     modelName,
			Source:    source,
			Stats:     stats,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.usage.Record(ctx, rec)
	}
}

// Join locates the session in memory or recovers it from disk, rebinds
// the client, and replays the transcript and stats.
func (m *Manager) Join(id string, client Sink) (*Session, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()

	if !ok {
		data, err := m.store.Load(id)
		if err != nil {
			return nil, err
		}
		sess = newSession(data, m.store)
		if err := m.attachProvider(sess); err != nil {
			return nil, err
		}
		sess.prov.Restore(data.ProviderState)
		if err := sess.prov.Start(); err != nil {
			sess.prov.Kill()
			m.bridge.RevokeToken(id)
			return nil, fmt.Errorf("start provider: %w", err)
		}

		m.mu.Lock()
		// Another Join may have raced the load; keep the registered one.
		if existing, dup := m.sessions[id]; dup {
			sess.prov.Kill()
			sess = existing
		} else {
			m.sessions[id] = sess
		}
		m.mu.Unlock()
	}

	snap := sess.Data()
	if client != nil {
		client.Enqueue(F{
			"type":      "session_joined",
			"sessionId": snap.ID,
			"model":     snap.Model,
			"directory": snap.Directory,
			"projectId": snap.ProjectID,
			"history":   snap.Messages,
		})
		sess.bindClient(client)
	}
	return sess, nil
}

// End kills the provider and drops the session from memory. The disk
// snapshot is retained.
func (m *Manager) End(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return model.ErrSessionNotFound
	}

	sess.mu.Lock()
	if sess.prov != nil {
		sess.data.ProviderState = sess.prov.Snapshot()
		sess.prov.Kill()
		sess.prov = nil
	}
	snap := sess.snapshotLocked()
	client := sess.client
	sess.client = nil
	sess.mu.Unlock()

	m.bridge.RevokeToken(id)
	m.store.Save(&snap)
	m.store.Flush(id)

	if client != nil {
		client.Enqueue(F{"type": "session_ended", "sessionId": id})
	}
	return nil
}

// Delete is End plus removal of the disk snapshot.
func (m *Manager) Delete(id string) error {
	err := m.End(id)
	if err != nil && err != model.ErrSessionNotFound {
		return err
	}
	return m.store.Delete(id)
}

// List returns every persisted session, for the REST surface.
func (m *Manager) List() ([]*model.Session, error) {
	return m.store.List()
}

// Get returns an in-memory session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	return sess, nil
}

// Notify forwards a frame to the session's bound client. It reports
// false for unknown sessions and sessions with no client attached.
func (m *Manager) Notify(sessionID string, frame F) bool {
	m.mu.Lock()
	sess := m.sessions[sessionID]
	m.mu.Unlock()
	if sess == nil {
		return false
	}
	sess.mu.Lock()
	c := sess.client
	sess.mu.Unlock()
	if c == nil {
		return false
	}
	return c.Enqueue(frame)
}

// DetachClient unbinds a disconnecting client from every session it
// holds. Sessions keep running; in-flight turns finish against the
// transcript.
func (m *Manager) DetachClient(clientID string) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.unbindClient(clientID)
	}
}

// Shutdown snapshots and kills every live session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.End(id)
	}
}

// HandleUserInput services one user_input frame. Slash commands are
// dispatched inline; everything else becomes a provider turn processed
// on its own goroutine so the hub never blocks.
func (m *Manager) HandleUserInput(id, text string, attachments []model.Attachment) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}

	for i := range attachments {
		if err := attachments[i].Validate(); err != nil {
			return err
		}
	}

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "/") {
		return m.dispatchCommand(sess, trimmed)
	}

	if err := sess.beginTurn(text, attachments); err != nil {
		return err
	}

	sess.mu.Lock()
	prov := sess.prov
	sess.mu.Unlock()
	if prov == nil {
		sess.abortTurn()
		return fmt.Errorf("session %s has no live provider", id)
	}

	go func() {
		if err := prov.Send(context.Background(), text, attachments); err != nil {
			if sess.abortTurn() {
				sess.send(F{"type": "error", "sessionId": id, "message": err.Error()})
			}
		}
	}()
	return nil
}

// dispatchCommand handles the central slash commands and delegates the
// rest to the provider.
func (m *Manager) dispatchCommand(sess *Session, input string) error {
	name, args := splitCommand(input)

	switch name {
	case "help":
		sess.send(F{"type": "system_message", "sessionId": sess.data.ID, "message": m.helpText(sess)})
		return nil

	case "clear":
		return m.clearSession(sess)

	case "zsh", "bash":
		sess.send(F{
			"type":      "terminal_request",
			"sessionId": sess.data.ID,
			"intent":    name,
			"directory": sess.data.Directory,
			"command":   "/bin/" + name,
		})
		return nil

	case "claude":
		sess.send(F{
			"type":      "terminal_request",
			"sessionId": sess.data.ID,
			"intent":    "claude",
			"directory": sess.data.Directory,
			"command":   m.factory.CLIPath(config.KindClaude),
		})
		return nil
	}

	sess.mu.Lock()
	prov := sess.prov
	sess.mu.Unlock()
	if prov == nil {
		return fmt.Errorf("session %s has no live provider", sess.data.ID)
	}

	result := prov.HandleCommand(name, args)
	switch result.Outcome {
	case provider.CommandHandled:
		sess.send(F{"type": "system_message", "sessionId": sess.data.ID, "message": result.Reply})
	case provider.CommandTransfer:
		m.transfer(sess, result.Transfer)
	default:
		sess.send(F{"type": "system_message", "sessionId": sess.data.ID, "message": "Unknown command: /" + name})
	}
	return nil
}

// transfer hands the session's continuation to a terminal running the
// native CLI. The session stops accepting input afterwards.
func (m *Manager) transfer(sess *Session, spec *provider.TransferSpec) {
	sess.mu.Lock()
	sess.transferred = true
	sess.mu.Unlock()

	sess.send(F{
		"type":      "terminal_request",
		"sessionId": sess.data.ID,
		"intent":    "transfer",
		"directory": sess.data.Directory,
		"command":   spec.Command,
		"args":      spec.Args,
	})
	sess.send(F{
		"type":      "system_message",
		"sessionId": sess.data.ID,
		"message":   "Session transferred to a terminal. Further messages here are disabled.",
	})
}

// clearSession resets the conversation: kill the provider, wipe
// transcript, stats, and continuation state, then bring up a fresh
// provider so the next turn starts clean.
func (m *Manager) clearSession(sess *Session) error {
	sess.mu.Lock()
	if sess.prov != nil {
		sess.prov.Kill()
		sess.prov = nil
	}
	sess.data.Messages = []model.Turn{}
	sess.data.Stats = model.Stats{}
	sess.data.ProviderState = nil
	sess.pendingUser = nil
	sess.pendingBlocks = nil
	sess.processing = false
	sess.transferred = false
	sess.mu.Unlock()

	if err := m.attachProvider(sess); err != nil {
		return err
	}
	if err := sess.prov.Start(); err != nil {
		return fmt.Errorf("restart provider: %w", err)
	}

	sess.mu.Lock()
	sess.scheduleSnapshotLocked()
	stats := sess.data.Stats
	sess.mu.Unlock()

	sess.send(F{"type": "system_message", "sessionId": sess.data.ID, "message": "Conversation history cleared"})
	sess.send(F{"type": "clear_messages", "sessionId": sess.data.ID})
	sess.send(statsFrame(sess.data.ID, stats))
	return nil
}

func (m *Manager) helpText(sess *Session) string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	b.WriteString("/help — show this list\n")
	b.WriteString("/clear — clear conversation history\n")
	b.WriteString("/zsh, /bash — open a shell terminal in the session directory\n")
	b.WriteString("/claude — open the claude CLI in a terminal\n")
	for _, cmd := range m.factory.ListCommands(sess.data.Model) {
		b.WriteString(cmd.Name + " — " + cmd.Description + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// ListModels exposes the merged provider catalogue.
func (m *Manager) ListModels() []provider.ModelOption {
	return m.factory.ListModels()
}

func splitCommand(input string) (name, args string) {
	rest := strings.TrimPrefix(input, "/")
	if idx := strings.IndexByte(rest, ' '); idx >= 0 {
		return rest[:idx], strings.TrimSpace(rest[idx+1:])
	}
	return rest, ""
}
