// Package session holds the conversation runtime: the per-session
// state machine that mediates between a bound client, a provider
// adapter, and the snapshot store, plus the manager that owns the
// session map.
package session

import (
	"sync"

	"github.com/barelyworkingcode/eve/internal/model"
	"github.com/barelyworkingcode/eve/internal/provider"
	"github.com/barelyworkingcode/eve/internal/store"
)

// Sink is the client half the hub implements: a bounded outgoing queue
// for one websocket connection.
type Sink interface {
	ClientID() string
	// Enqueue must not block; it reports false when the frame was
	// dropped (queue full or connection gone).
	Enqueue(frame interface{}) bool
}

// F is an outgoing frame. All frames are JSON objects with a type tag.
type F map[string]interface{}

// Session is the runtime around one persisted conversation. The mutex
// guards every field; event handlers run on provider reader goroutines.
type Session struct {
	mu    sync.Mutex
	data  *model.Session
	store *store.SessionStore

	prov        provider.Provider
	client      Sink
	processing  bool
	transferred bool

	// Turn staging: the user turn is buffered at send and committed
	// together with the assistant blocks when the result arrives.
	pendingUser   *model.Turn
	pendingBlocks []model.Block

	// onUsage records a completed turn's usage in the ledger.
	onUsage func(stats model.Stats)
}

func newSession(data *model.Session, st *store.SessionStore) *Session {
	return &Session{data: data, store: st}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.data.ID
}

// Data returns a point-in-time copy of the persisted state.
func (s *Session) Data() model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// snapshotLocked copies the persisted state so the async store writer
// never races live mutation. Callers hold s.mu.
func (s *Session) snapshotLocked() model.Session {
	snap := *s.data
	snap.Messages = make([]model.Turn, len(s.data.Messages))
	copy(snap.Messages, s.data.Messages)
	return snap
}

// scheduleSnapshotLocked queues an async write of the current state.
// Callers hold s.mu.
func (s *Session) scheduleSnapshotLocked() {
	snap := s.snapshotLocked()
	s.store.Schedule(&snap)
}

// bindClient replaces the client binding and pushes a fresh
// stats_update so the new client starts from the current counters.
func (s *Session) bindClient(c Sink) {
	s.mu.Lock()
	s.client = c
	stats := s.data.Stats
	s.mu.Unlock()

	s.send(statsFrame(s.data.ID, stats))
}

// unbindClient drops the binding if it still points at the client.
func (s *Session) unbindClient(clientID string) {
	s.mu.Lock()
	if s.client != nil && s.client.ClientID() == clientID {
		s.client = nil
	}
	s.mu.Unlock()
}

// send enqueues a frame to the bound client, dropping it when unbound.
// The transcript is the source of truth after turn end, so drops are
// safe.
func (s *Session) send(frame F) {
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()

	if c != nil {
		c.Enqueue(frame)
	}
}

// handleEvent is the emitter wired into the session's provider.
func (s *Session) handleEvent(evt provider.Event) {
	switch evt.Type {
	case provider.EventMessageClose:
		s.mu.Lock()
		s.pendingBlocks = evt.Blocks
		s.mu.Unlock()
		s.forwardLLM(evt)

	case provider.EventResult:
		s.commitTurn(evt)

	case provider.EventRawOutput:
		s.send(F{"type": "raw_output", "sessionId": s.data.ID, "data": evt.Text})

	case provider.EventStderr:
		s.send(F{"type": "stderr", "sessionId": s.data.ID, "data": evt.Text})

	case provider.EventProcessExited:
		s.finishExited(evt.ExitCode)

	case provider.EventError:
		s.send(F{"type": "error", "sessionId": s.data.ID, "message": evt.Text})

	default:
		s.forwardLLM(evt)
	}
}

// forwardLLM wraps a normalised event in an llm_event frame.
func (s *Session) forwardLLM(evt provider.Event) {
	payload := evt.LLMPayload()
	if payload == nil {
		return
	}
	s.send(F{"type": "llm_event", "sessionId": s.data.ID, "event": payload})
}

// commitTurn finalises a successful turn: the buffered user turn and
// the assistant blocks join the transcript atomically, usage folds
// into stats, and the provider snapshot is refreshed. stats_update and
// message_complete go out only after the commit.
func (s *Session) commitTurn(evt provider.Event) {
	s.mu.Lock()
	if s.pendingUser != nil {
		s.data.Messages = append(s.data.Messages, *s.pendingUser)
		s.pendingUser = nil
	}
	if len(s.pendingBlocks) > 0 {
		s.data.Messages = append(s.data.Messages, model.AssistantTurn(s.pendingBlocks))
		s.pendingBlocks = nil
	}
	if evt.Usage != nil {
		s.data.Stats.Add(*evt.Usage)
	}
	if s.prov != nil {
		s.data.ProviderState = s.prov.Snapshot()
	}
	s.processing = false
	stats := s.data.Stats
	onUsage := s.onUsage
	s.scheduleSnapshotLocked()
	s.mu.Unlock()

	s.forwardLLM(evt)
	s.send(statsFrame(s.data.ID, stats))
	s.send(F{"type": "message_complete", "sessionId": s.data.ID})

	if onUsage != nil && evt.Usage != nil {
		onUsage(*evt.Usage)
	}
}

// finishExited handles a backend process death. Mid-turn it is the
// turn's terminal outcome: the user turn was delivered, so it is
// committed, with no assistant turn to pair with it. An idle exit is
// forwarded too, so the client learns the backend is gone.
func (s *Session) finishExited(exitCode int) {
	s.mu.Lock()
	if s.pendingUser != nil {
		s.data.Messages = append(s.data.Messages, *s.pendingUser)
		s.pendingUser = nil
	}
	s.pendingBlocks = nil
	s.processing = false
	s.scheduleSnapshotLocked()
	s.mu.Unlock()

	s.send(F{"type": "process_exited", "sessionId": s.data.ID, "exitCode": exitCode})
}

// beginTurn stages a user turn and flips the processing flag.
func (s *Session) beginTurn(text string, attachments []model.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transferred {
		return model.ErrSessionTransferred
	}
	if s.processing {
		return model.ErrSessionBusy
	}
	turn := model.UserTurn(text, attachments)
	s.pendingUser = &turn
	s.processing = true
	return nil
}

// abortTurn clears a failed turn without committing anything. It
// reports whether it closed an in-flight turn; when another path (a
// result or a process exit) got there first, the caller must not add
// a second terminal outcome.
func (s *Session) abortTurn() bool {
	s.mu.Lock()
	wasProcessing := s.processing
	s.pendingUser = nil
	s.pendingBlocks = nil
	s.processing = false
	s.mu.Unlock()
	return wasProcessing
}

func statsFrame(sessionID string, stats model.Stats) F {
	return F{
		"type":      "stats_update",
		"sessionId": sessionID,
		"stats": F{
			"inputTokens":         stats.InputTokens,
			"outputTokens":        stats.OutputTokens,
			"cacheReadTokens":     stats.CacheReadTokens,
			"cacheCreationTokens": stats.CacheCreationTokens,
			"contextWindow":       stats.ContextWindow,
			"costUsd":             stats.CostUSD,
			"totalTokens":         stats.TotalTokens(),
			"contextPercent":      stats.ContextPercent(),
		},
	}
}
