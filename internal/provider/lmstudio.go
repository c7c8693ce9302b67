package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/barelyworkingcode/eve/internal/model"
)

// chatMessage is one entry of the OpenAI-compatible conversation history.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// lmStudioState persists the full conversation history; the backend is
// stateless so the adapter replays it on every request.
type lmStudioState struct {
	Messages []chatMessage `json:"messages"`
}

// LMStudio talks to a local OpenAI-compatible server over streaming HTTP.
type LMStudio struct {
	emit          Emitter
	baseURL       string
	model         string
	contextWindow int
	client        *http.Client

	mu       sync.Mutex
	messages []chatMessage
	cancel   context.CancelFunc
}

// LMStudioOptions configures an LMStudio adapter.
type LMStudioOptions struct {
	BaseURL       string // e.g. http://localhost:1234/v1
	Model         string
	ContextWindow int
	Timeout       time.Duration
	Client        *http.Client
}

// NewLMStudio creates the adapter.
func NewLMStudio(emit Emitter, opts LMStudioOptions) *LMStudio {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &LMStudio{
		emit:          emit,
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		model:         opts.Model,
		contextWindow: opts.ContextWindow,
		client:        client,
	}
}

// Start is a no-op; requests are made per turn.
func (l *LMStudio) Start() error { return nil }

// Send posts the accumulated history plus the new user message and
// streams the completion back as deltas. The assistant reply joins the
// history only after the stream finishes cleanly.
func (l *LMStudio) Send(ctx context.Context, text string, attachments []model.Attachment) error {
	content := text
	for _, att := range attachments {
		if att.Encoding != model.AttachmentEncodingUTF8 {
			return fmt.Errorf("%s: binary attachments are not supported by this model", att.Name)
		}
		content += "\n\nAttached file " + att.Name + ":\n\n" + att.Data
	}

	l.mu.Lock()
	history := make([]chatMessage, len(l.messages), len(l.messages)+1)
	copy(history, l.messages)
	history = append(history, chatMessage{Role: "user", Content: content})
	l.mu.Unlock()

	body, err := json.Marshal(chatRequest{
		Model:       l.model,
		Messages:    history,
		Stream:      true,
		Temperature: 0.7,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		if l.cancel != nil {
			l.cancel()
			l.cancel = nil
		}
		l.mu.Unlock()
	}()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, l.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("lmstudio request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet := make([]byte, 512)
		n, _ := resp.Body.Read(snippet)
		return fmt.Errorf("lmstudio returned %s: %s", resp.Status, strings.TrimSpace(string(snippet[:n])))
	}

	var (
		reply    strings.Builder
		opened   bool
		finished bool
		stats    *model.Stats
	)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				finished = true
				break
			}
			var chunk chatChunk
			if jsonErr := json.Unmarshal([]byte(payload), &chunk); jsonErr == nil {
				if chunk.Usage != nil {
					stats = &model.Stats{
						InputTokens:   chunk.Usage.PromptTokens,
						OutputTokens:  chunk.Usage.CompletionTokens,
						ContextWindow: l.contextWindow,
					}
				}
				if len(chunk.Choices) > 0 {
					choice := chunk.Choices[0]
					if choice.Delta.Content != "" {
						if !opened {
							opened = true
							l.emit(Event{Type: EventMessageOpen})
						}
						reply.WriteString(choice.Delta.Content)
						l.emit(Event{Type: EventTextDelta, Text: choice.Delta.Content})
					}
					if choice.FinishReason != nil && *choice.FinishReason != "" {
						finished = true
					}
				}
			}
		}
		if err != nil {
			break
		}
	}

	if reqCtx.Err() != nil {
		return fmt.Errorf("lmstudio stream: %w", reqCtx.Err())
	}
	if !finished && !opened {
		return fmt.Errorf("lmstudio stream ended without a response")
	}

	blocks := []model.Block{{Type: model.BlockTypeText, Text: reply.String()}}
	l.emit(Event{Type: EventMessageClose, Blocks: blocks})
	if stats == nil {
		stats = &model.Stats{ContextWindow: l.contextWindow}
	}
	l.emit(Event{Type: EventResult, Usage: stats})

	l.mu.Lock()
	l.messages = append(history, chatMessage{Role: "assistant", Content: reply.String()})
	l.mu.Unlock()
	return nil
}

// HandleCommand declines everything; the chat API has no native commands.
func (l *LMStudio) HandleCommand(name, args string) CommandResult {
	return Unhandled()
}

// Kill aborts any in-flight request.
func (l *LMStudio) Kill() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Snapshot serialises the conversation history.
func (l *LMStudio) Snapshot() json.RawMessage {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.messages) == 0 {
		return nil
	}
	data, err := json.Marshal(lmStudioState{Messages: l.messages})
	if err != nil {
		return nil
	}
	return data
}

// Restore rehydrates the conversation history from a snapshot blob.
func (l *LMStudio) Restore(blob json.RawMessage) {
	if len(blob) == 0 {
		return
	}
	var state lmStudioState
	if err := json.Unmarshal(blob, &state); err != nil {
		return
	}
	l.mu.Lock()
	l.messages = state.Messages
	l.mu.Unlock()
}
