package provider

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/barelyworkingcode/eve/internal/model"
)

// Native stream-json wire shapes shared by the CLI backends.

type wireContent struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type wireMessage struct {
	Role    string        `json:"role"`
	Content []wireContent `json:"content"`
}

type wireUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheReadTokens     int `json:"cache_read_input_tokens"`
	CacheCreationTokens int `json:"cache_creation_input_tokens"`
}

type wireEvent struct {
	Type         string       `json:"type"`
	Subtype      string       `json:"subtype,omitempty"`
	SessionID    string       `json:"session_id,omitempty"`
	Message      *wireMessage `json:"message,omitempty"`
	Result       string       `json:"result,omitempty"`
	IsError      bool         `json:"is_error,omitempty"`
	TotalCostUSD float64      `json:"total_cost_usd,omitempty"`
	Usage        *wireUsage   `json:"usage,omitempty"`
}

// streamDecoder turns a CLI backend's stream-json stdout into
// normalised events. A rolling buffer joins partial reads on newline
// boundaries; lines that fail to parse are surfaced as raw_output and
// do not disturb decoder state.
type streamDecoder struct {
	mu            sync.Mutex
	emit          Emitter
	contextWindow int

	buf          []byte
	open         bool
	blocks       []model.Block
	sessionToken string
	resultSeen   bool
	onResult     func()
}

func newStreamDecoder(emit Emitter, contextWindow int) *streamDecoder {
	return &streamDecoder{emit: emit, contextWindow: contextWindow}
}

// BeginTurn resets per-turn state and registers the completion hook.
func (d *streamDecoder) BeginTurn(onResult func()) {
	d.mu.Lock()
	d.open = false
	d.blocks = nil
	d.resultSeen = false
	d.onResult = onResult
	d.mu.Unlock()
}

// batch collects events parsed under d.mu for delivery after the lock
// is released. Emitter callbacks may call back into the adapter that
// owns the decoder, so nothing is emitted while the lock is held.
type batch struct {
	events []Event
	hooks  []func()
}

func (b *batch) deliver(emit Emitter) {
	for _, evt := range b.events {
		emit(evt)
	}
	for _, fn := range b.hooks {
		fn()
	}
}

// Feed appends raw stdout bytes and parses every complete line.
func (d *streamDecoder) Feed(p []byte) {
	var out batch

	d.mu.Lock()
	d.buf = append(d.buf, p...)
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := d.buf[:idx]
		d.buf = d.buf[idx+1:]
		d.parseLine(line, &out)
	}
	d.mu.Unlock()

	out.deliver(d.emit)
}

// Drain parses any residual buffered bytes as one final line. Used by
// the per-message adapter once its process has exited.
func (d *streamDecoder) Drain() {
	var out batch

	d.mu.Lock()
	if len(bytes.TrimSpace(d.buf)) > 0 {
		d.parseLine(d.buf, &out)
	}
	d.buf = nil
	d.mu.Unlock()

	out.deliver(d.emit)
}

// SessionToken returns the backend session token captured so far.
func (d *streamDecoder) SessionToken() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionToken
}

// ResultSeen reports whether the current turn reached its result.
func (d *streamDecoder) ResultSeen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resultSeen
}

// Blocks returns the assistant blocks accumulated for the current turn.
func (d *streamDecoder) Blocks() []model.Block {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.Block, len(d.blocks))
	copy(out, d.blocks)
	return out
}

// CloseOpenMessage emits a message_close for a still-open assistant
// message, for backends that exit without an explicit result.
func (d *streamDecoder) CloseOpenMessage() {
	var out batch

	d.mu.Lock()
	if d.open {
		d.open = false
		out.events = append(out.events, Event{Type: EventMessageClose, Blocks: d.blocks})
	}
	d.mu.Unlock()

	out.deliver(d.emit)
}

// parseLine handles one newline-delimited event, appending the events
// it produces to out. Callers hold d.mu.
func (d *streamDecoder) parseLine(line []byte, out *batch) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	var evt wireEvent
	if err := json.Unmarshal(line, &evt); err != nil || evt.Type == "" {
		out.events = append(out.events, Event{Type: EventRawOutput, Text: string(line)})
		return
	}

	switch evt.Type {
	case "system":
		if evt.SessionID != "" {
			d.sessionToken = evt.SessionID
		}
		out.events = append(out.events, Event{Type: EventSystem, Subtype: evt.Subtype, SessionToken: evt.SessionID})

	case "assistant":
		if !d.open {
			d.open = true
			out.events = append(out.events, Event{Type: EventMessageOpen})
		}
		if evt.Message == nil {
			return
		}
		for _, c := range evt.Message.Content {
			switch c.Type {
			case "text":
				if c.Text == "" {
					continue
				}
				d.blocks = append(d.blocks, model.Block{Type: model.BlockTypeText, Text: c.Text})
				out.events = append(out.events, Event{Type: EventTextDelta, Text: c.Text})
			case "tool_use":
				d.blocks = append(d.blocks, model.Block{Type: model.BlockTypeToolUse, Name: c.Name, Input: c.Input})
				out.events = append(out.events, Event{Type: EventToolUse, ToolName: c.Name, ToolInput: c.Input})
			}
		}

	case "user":
		// Tool-result echoes. Forward the text, if any, for display.
		if evt.Message != nil {
			for _, c := range evt.Message.Content {
				if c.Text != "" {
					out.events = append(out.events, Event{Type: EventUserEcho, Text: c.Text})
				}
			}
		}

	case "result":
		if evt.SessionID != "" {
			d.sessionToken = evt.SessionID
		}
		if d.open {
			d.open = false
			out.events = append(out.events, Event{Type: EventMessageClose, Blocks: d.blocks})
		}

		result := Event{Type: EventResult, ResultText: evt.Result, CostUSD: evt.TotalCostUSD}
		if evt.Usage != nil {
			result.Usage = &model.Stats{
				InputTokens:         evt.Usage.InputTokens,
				OutputTokens:        evt.Usage.OutputTokens,
				CacheReadTokens:     evt.Usage.CacheReadTokens,
				CacheCreationTokens: evt.Usage.CacheCreationTokens,
				ContextWindow:       d.contextWindow,
				CostUSD:             evt.TotalCostUSD,
			}
		}
		out.events = append(out.events, result)

		d.resultSeen = true
		if d.onResult != nil {
			out.hooks = append(out.hooks, d.onResult)
			d.onResult = nil
		}

	default:
		out.events = append(out.events, Event{Type: EventRawOutput, Text: string(line)})
	}
}

// userFrame builds the newline-delimited user-turn frame written to a
// CLI backend's stdin.
func userFrame(text string, attachments []model.Attachment) ([]byte, error) {
	content := []map[string]interface{}{}

	for _, a := range attachments {
		switch a.Encoding {
		case model.AttachmentEncodingUTF8:
			content = append(content, map[string]interface{}{
				"type": "text",
				"text": "Attached file " + a.Name + ":\n\n" + a.Data,
			})
		case model.AttachmentEncodingBase64:
			content = append(content, map[string]interface{}{
				"type": "image",
				"source": map[string]interface{}{
					"type":       "base64",
					"media_type": a.MediaType,
					"data":       a.Data,
				},
			})
		}
	}
	content = append(content, map[string]interface{}{"type": "text", "text": text})

	frame := map[string]interface{}{
		"type": "user",
		"message": map[string]interface{}{
			"role":    "user",
			"content": content,
		},
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
