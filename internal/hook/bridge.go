// Package hook bridges permission prompts from spawned CLI backends to
// the client bound to the session. The CLI posts to /api/permission and
// blocks; the bridge relays a permission_request frame and resolves the
// HTTP call with the client's answer.
package hook

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds how long a prompt may wait for an answer.
const DefaultTimeout = 60 * time.Second

// Request is the body of POST /api/permission.
type Request struct {
	SessionID string          `json:"sessionId"`
	ToolName  string          `json:"toolName"`
	ToolInput json.RawMessage `json:"toolInput,omitempty"`
	ToolUseID string          `json:"toolUseId"`
}

// Decision is the resolution sent back to the blocked CLI.
type Decision struct {
	Decision string `json:"decision"` // "allow" or "deny"
	Reason   string `json:"reason,omitempty"`
}

// Bridge holds pending prompts keyed by correlation id, each with a
// one-shot reply channel, plus the per-session hook tokens handed to
// spawned processes.
type Bridge struct {
	Timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan Decision
	tokens  map[string]string // session id -> hook token
}

// NewBridge creates an empty bridge.
func NewBridge() *Bridge {
	return &Bridge{
		Timeout: DefaultTimeout,
		pending: make(map[string]chan Decision),
		tokens:  make(map[string]string),
	}
}

// IssueToken mints the hook token passed to a session's spawned
// processes via the environment. Reissuing replaces the old token.
func (b *Bridge) IssueToken(sessionID string) string {
	token := uuid.New().String()
	b.mu.Lock()
	b.tokens[sessionID] = token
	b.mu.Unlock()
	return token
}

// RevokeToken drops a session's token, e.g. on delete.
func (b *Bridge) RevokeToken(sessionID string) {
	b.mu.Lock()
	delete(b.tokens, sessionID)
	b.mu.Unlock()
}

// ValidateToken checks a request's bearer token against the session.
func (b *Bridge) ValidateToken(sessionID, token string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	want, ok := b.tokens[sessionID]
	return ok && token != "" && token == want
}

// Await blocks until the prompt is resolved or times out. Timeouts and
// duplicate correlation ids fail closed.
func (b *Bridge) Await(toolUseID string) Decision {
	ch := make(chan Decision, 1)

	b.mu.Lock()
	if _, dup := b.pending[toolUseID]; dup {
		b.mu.Unlock()
		return Decision{Decision: "deny", Reason: "duplicate permission request"}
	}
	b.pending[toolUseID] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, toolUseID)
		b.mu.Unlock()
	}()

	select {
	case d := <-ch:
		return d
	case <-time.After(b.Timeout):
		return Decision{Decision: "deny", Reason: "permission request timed out"}
	}
}

// Resolve answers a pending prompt. Returns false when nothing is
// waiting under that id (late or unknown responses are dropped).
func (b *Bridge) Resolve(toolUseID string, d Decision) bool {
	b.mu.Lock()
	ch, ok := b.pending[toolUseID]
	if ok {
		delete(b.pending, toolUseID)
	}
	b.mu.Unlock()

	if !ok {
		return false
	}
	ch <- d
	return true
}
