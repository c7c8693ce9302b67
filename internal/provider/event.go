package provider

import (
	"encoding/json"

	"github.com/barelyworkingcode/eve/internal/model"
)

// EventType enumerates the normalised event vocabulary.
type EventType string

const (
	// EventSystem carries backend bookkeeping (init, session token).
	EventSystem EventType = "system"

	// EventMessageOpen marks the start of an assistant message.
	EventMessageOpen EventType = "message_open"

	// EventTextDelta carries an incremental text chunk.
	EventTextDelta EventType = "text_delta"

	// EventToolUse carries one complete tool invocation block.
	EventToolUse EventType = "tool_use"

	// EventMessageClose marks the end of an assistant message and
	// carries the completed blocks.
	EventMessageClose EventType = "message_close"

	// EventResult is the terminal outcome of a turn, with usage.
	EventResult EventType = "result"

	// EventUserEcho surfaces tool-result echoes some backends produce.
	EventUserEcho EventType = "user_echo"

	// EventRawOutput carries an unparseable backend line verbatim.
	EventRawOutput EventType = "raw_output"

	// EventStderr forwards backend stderr output.
	EventStderr EventType = "stderr"

	// EventProcessExited reports a backend subprocess exit.
	EventProcessExited EventType = "process_exited"

	// EventError is a user-visible failure.
	EventError EventType = "error"
)

// Event is the normalised form every adapter emits. Only the fields
// relevant to the tagged type are set.
type Event struct {
	Type EventType

	// system
	Subtype      string
	SessionToken string

	// text_delta / raw_output / stderr / error / user_echo
	Text string

	// tool_use
	ToolName  string
	ToolInput json.RawMessage

	// message_close
	Blocks []model.Block

	// result
	Usage      *model.Stats
	CostUSD    float64
	ResultText string

	// process_exited
	ExitCode int
}

// llm_event wire shapes. The websocket layer forwards these verbatim
// inside llm_event frames.

type llmDelta struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type llmContent struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type llmMessage struct {
	Content []llmContent `json:"content"`
}

type llmEvent struct {
	Type         string           `json:"type"`
	Subtype      string           `json:"subtype,omitempty"`
	SessionID    string           `json:"session_id,omitempty"`
	Message      *llmMessage      `json:"message,omitempty"`
	Delta        *llmDelta        `json:"delta,omitempty"`
	Usage        *llmUsage        `json:"usage,omitempty"`
	TotalCostUSD *float64         `json:"total_cost_usd,omitempty"`
	Result       string           `json:"result,omitempty"`
}

type llmUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheReadTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationTokens int `json:"cache_creation_input_tokens,omitempty"`
}

// LLMPayload renders the event in the normalised llm_event wire shape,
// or nil for event types that map to dedicated frames instead
// (raw_output, stderr, process_exited, error).
func (e Event) LLMPayload() json.RawMessage {
	var wire *llmEvent

	switch e.Type {
	case EventSystem:
		wire = &llmEvent{Type: "system", Subtype: e.Subtype, SessionID: e.SessionToken}

	case EventMessageOpen:
		wire = &llmEvent{Type: "assistant", Message: &llmMessage{Content: []llmContent{}}}

	case EventTextDelta:
		wire = &llmEvent{Type: "assistant", Delta: &llmDelta{Type: "text_delta", Text: e.Text}}

	case EventToolUse:
		wire = &llmEvent{Type: "assistant", Delta: &llmDelta{Type: "tool_use", Name: e.ToolName, Input: e.ToolInput}}

	case EventMessageClose:
		msg := &llmMessage{Content: make([]llmContent, 0, len(e.Blocks))}
		for _, b := range e.Blocks {
			msg.Content = append(msg.Content, llmContent{
				Type:  string(b.Type),
				Text:  b.Text,
				Name:  b.Name,
				Input: b.Input,
			})
		}
		wire = &llmEvent{Type: "assistant", Message: msg}

	case EventResult:
		wire = &llmEvent{Type: "result", Result: e.ResultText}
		if e.Usage != nil {
			wire.Usage = &llmUsage{
				InputTokens:         e.Usage.InputTokens,
				OutputTokens:        e.Usage.OutputTokens,
				CacheReadTokens:     e.Usage.CacheReadTokens,
				CacheCreationTokens: e.Usage.CacheCreationTokens,
			}
		}
		if e.CostUSD > 0 {
			cost := e.CostUSD
			wire.TotalCostUSD = &cost
		}

	case EventUserEcho:
		wire = &llmEvent{Type: "user", Result: e.Text}

	default:
		return nil
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil
	}
	return data
}

// ErrorEvent builds a user-visible error event.
func ErrorEvent(text string) Event {
	return Event{Type: EventError, Text: text}
}
