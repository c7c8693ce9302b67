package session

import (
	"testing"
	"time"

	"github.com/barelyworkingcode/eve/internal/model"
	"github.com/barelyworkingcode/eve/internal/sched"
)

func TestHeadlessRun(t *testing.T) {
	srv := chatServer(t, []string{
		`{"choices":[{"delta":{"content":"pong"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":2,"completion_tokens":1}}`,
	})
	defer srv.Close()

	m := newTestManager(t, lmSettings(srv.URL))

	runs := make(chan sched.RunRequest)
	go m.ServeRuns(runs)
	defer close(runs)

	reply := make(chan sched.RunResult, 1)
	runs <- sched.RunRequest{
		Directory: t.TempDir(),
		Task:      model.Task{ID: "t1", Name: "ping", Prompt: "ping", Model: "m"},
		Reply:     reply,
	}

	select {
	case result := <-reply:
		if result.Err != nil {
			t.Fatalf("run failed: %v", result.Err)
		}
		if result.Response != "pong" {
			t.Errorf("response = %q, want pong", result.Response)
		}
		if result.Stats == nil || result.Stats.InputTokens != 2 {
			t.Errorf("stats = %+v", result.Stats)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("headless run never replied")
	}
}

func TestHeadlessRunDisabledProvider(t *testing.T) {
	settings := lmSettings("http://unused")
	settings.Providers = map[string]bool{"lmstudio": false}
	m := newTestManager(t, settings)

	result := m.runHeadless(sched.RunRequest{
		Task: model.Task{ID: "t1", Name: "n", Prompt: "p", Model: "m"},
	})
	if result.Err == nil {
		t.Fatal("run succeeded against a disabled provider")
	}
}
