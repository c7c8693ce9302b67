package model

import (
	"encoding/json"
	"time"
)

// TurnRole distinguishes the two turn variants in a transcript.
type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
)

// BlockType distinguishes content blocks within an assistant turn.
type BlockType string

const (
	BlockTypeText    BlockType = "text"
	BlockTypeToolUse BlockType = "tool_use"
)

// Block is one content block of an assistant turn: either a text run
// or a tool invocation with its raw JSON input.
type Block struct {
	Type  BlockType       `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// AttachmentEncoding is how attachment bytes are carried on the wire.
type AttachmentEncoding string

const (
	AttachmentEncodingUTF8   AttachmentEncoding = "utf8"
	AttachmentEncodingBase64 AttachmentEncoding = "base64"
)

// Attachment is a file attached to a user turn.
type Attachment struct {
	Name      string             `json:"name"`
	MediaType string             `json:"mediaType"`
	Encoding  AttachmentEncoding `json:"encoding"`
	Data      string             `json:"data"`
}

// Validate checks that the attachment declares a known encoding and a name.
func (a *Attachment) Validate() error {
	if a.Name == "" {
		return ErrBadAttachment
	}
	switch a.Encoding {
	case AttachmentEncodingUTF8, AttachmentEncodingBase64:
		return nil
	default:
		return ErrBadAttachment
	}
}

// Turn is one entry in a session transcript. User turns carry text and
// attachments; assistant turns carry content blocks and a timestamp.
type Turn struct {
	Role        TurnRole     `json:"role"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Blocks      []Block      `json:"blocks,omitempty"`
	Timestamp   time.Time    `json:"timestamp,omitempty"`
}

// UserTurn constructs a user turn.
func UserTurn(text string, attachments []Attachment) Turn {
	return Turn{Role: TurnRoleUser, Text: text, Attachments: attachments}
}

// AssistantTurn constructs an assistant turn stamped with now.
func AssistantTurn(blocks []Block) Turn {
	return Turn{Role: TurnRoleAssistant, Blocks: blocks, Timestamp: time.Now()}
}

// Stats aggregates token and cost counters for a session. All counters
// are monotone for the lifetime of a conversation; /clear resets them.
type Stats struct {
	InputTokens         int     `json:"inputTokens"`
	OutputTokens        int     `json:"outputTokens"`
	CacheReadTokens     int     `json:"cacheReadTokens"`
	CacheCreationTokens int     `json:"cacheCreationTokens"`
	ContextWindow       int     `json:"contextWindow"`
	CostUSD             float64 `json:"costUsd"`
}

// TotalTokens returns the sum of all token counters.
func (s Stats) TotalTokens() int {
	return s.InputTokens + s.OutputTokens + s.CacheReadTokens + s.CacheCreationTokens
}

// ContextPercent returns the context window utilisation rounded to the
// nearest whole percent, or 0 when the window size is unknown.
func (s Stats) ContextPercent() int {
	if s.ContextWindow <= 0 {
		return 0
	}
	return int(float64(s.TotalTokens())/float64(s.ContextWindow)*100 + 0.5)
}

// Add folds usage from one completed turn into the aggregate. A zero
// ContextWindow on the delta leaves the current window untouched.
func (s *Stats) Add(delta Stats) {
	s.InputTokens += delta.InputTokens
	s.OutputTokens += delta.OutputTokens
	s.CacheReadTokens += delta.CacheReadTokens
	s.CacheCreationTokens += delta.CacheCreationTokens
	s.CostUSD += delta.CostUSD
	if delta.ContextWindow > 0 {
		s.ContextWindow = delta.ContextWindow
	}
}

// Session is the durable form of a conversation, as written to
// sessions/<id>.json. Runtime-only state (bound client, live provider,
// processing flag) lives on the session runtime, never here.
type Session struct {
	ID            string          `json:"sessionId"`
	ProjectID     string          `json:"projectId,omitempty"`
	Name          string          `json:"name,omitempty"`
	Directory     string          `json:"directory"`
	Model         string          `json:"model"`
	CreatedAt     time.Time       `json:"createdAt"`
	Messages      []Turn          `json:"messages"`
	Stats         Stats           `json:"stats"`
	ProviderState json.RawMessage `json:"providerState,omitempty"`
}
