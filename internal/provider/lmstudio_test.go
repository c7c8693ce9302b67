package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/barelyworkingcode/eve/internal/model"
)

// sseServer streams the given chunks as an OpenAI-style completion and
// records every request body it sees.
func sseServer(t *testing.T, chunks []string, requests *[]chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if requests != nil {
			*requests = append(*requests, req)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestLMStudioSend(t *testing.T) {
	var requests []chatRequest
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":5}}`,
	}, &requests)
	defer srv.Close()

	events, emit := collectEvents()
	lm := NewLMStudio(emit, LMStudioOptions{
		BaseURL:       srv.URL + "/v1",
		Model:         "qwen2.5-coder",
		ContextWindow: 32768,
	})

	if err := lm.Send(context.Background(), "hi", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	want := []EventType{EventMessageOpen, EventTextDelta, EventTextDelta, EventMessageClose, EventResult}
	got := eventTypes(*events)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}

	closeEvt := (*events)[3]
	if len(closeEvt.Blocks) != 1 || closeEvt.Blocks[0].Text != "Hello" {
		t.Errorf("close blocks = %+v", closeEvt.Blocks)
	}

	result := (*events)[4]
	if result.Usage == nil {
		t.Fatal("result missing usage")
	}
	if result.Usage.InputTokens != 3 || result.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", result.Usage)
	}
	if result.Usage.ContextWindow != 32768 {
		t.Errorf("ContextWindow = %d", result.Usage.ContextWindow)
	}

	if len(requests) != 1 {
		t.Fatalf("server saw %d requests", len(requests))
	}
	req := requests[0]
	if req.Model != "qwen2.5-coder" || !req.Stream {
		t.Errorf("request = %+v", req)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "hi" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestLMStudioHistoryAccumulates(t *testing.T) {
	var requests []chatRequest
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"content":"ok"},"finish_reason":null}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
	}, &requests)
	defer srv.Close()

	_, emit := collectEvents()
	lm := NewLMStudio(emit, LMStudioOptions{BaseURL: srv.URL + "/v1", Model: "m"})

	if err := lm.Send(context.Background(), "first", nil); err != nil {
		t.Fatalf("Send 1: %v", err)
	}
	if err := lm.Send(context.Background(), "second", nil); err != nil {
		t.Fatalf("Send 2: %v", err)
	}

	if len(requests) != 2 {
		t.Fatalf("server saw %d requests", len(requests))
	}
	second := requests[1].Messages
	if len(second) != 3 {
		t.Fatalf("second request carries %d messages, want 3", len(second))
	}
	if second[0].Content != "first" || second[1].Role != "assistant" || second[1].Content != "ok" || second[2].Content != "second" {
		t.Errorf("history = %+v", second)
	}
}

func TestLMStudioSnapshotRoundTrip(t *testing.T) {
	_, emit := collectEvents()
	lm := NewLMStudio(emit, LMStudioOptions{BaseURL: "http://unused", Model: "m"})
	lm.messages = []chatMessage{
		{Role: "user", Content: "q"},
		{Role: "assistant", Content: "a"},
	}

	blob := lm.Snapshot()
	if blob == nil {
		t.Fatal("Snapshot() = nil")
	}

	fresh := NewLMStudio(emit, LMStudioOptions{BaseURL: "http://unused", Model: "m"})
	fresh.Restore(blob)
	if len(fresh.messages) != 2 || fresh.messages[1].Content != "a" {
		t.Errorf("restored messages = %+v", fresh.messages)
	}
}

func TestLMStudioRejectsBinaryAttachment(t *testing.T) {
	_, emit := collectEvents()
	lm := NewLMStudio(emit, LMStudioOptions{BaseURL: "http://unused", Model: "m"})

	err := lm.Send(context.Background(), "hi", []model.Attachment{
		{Name: "pic.png", MediaType: "image/png", Encoding: model.AttachmentEncodingBase64, Data: "aGk="},
	})
	if err == nil {
		t.Fatal("Send accepted a binary attachment")
	}
}

func TestLMStudioServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	events, emit := collectEvents()
	lm := NewLMStudio(emit, LMStudioOptions{BaseURL: srv.URL + "/v1", Model: "m"})

	if err := lm.Send(context.Background(), "hi", nil); err == nil {
		t.Fatal("Send ignored a 500 response")
	}
	if len(*events) != 0 {
		t.Errorf("emitted %d events on failure", len(*events))
	}
}
