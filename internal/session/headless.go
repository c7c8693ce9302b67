package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/barelyworkingcode/eve/internal/model"
	"github.com/barelyworkingcode/eve/internal/provider"
	"github.com/barelyworkingcode/eve/internal/repository"
	"github.com/barelyworkingcode/eve/internal/sched"
)

// headlessTimeout caps a scheduled run; the scheduler applies the same
// bound on its side.
const headlessTimeout = 5 * time.Minute

// eventCollector is the synthetic client sink for headless runs: it
// accumulates streamed text and the final result into a buffer instead
// of a websocket.
type eventCollector struct {
	mu     sync.Mutex
	text   strings.Builder
	result string
	stats  *model.Stats
}

func (c *eventCollector) handle(evt provider.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch evt.Type {
	case provider.EventTextDelta:
		c.text.WriteString(evt.Text)
	case provider.EventResult:
		c.result = evt.ResultText
		if evt.Usage != nil {
			usage := *evt.Usage
			c.stats = &usage
		}
	}
}

// response prefers the explicit result text, falling back to the
// accumulated deltas.
func (c *eventCollector) response() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result != "" {
		return c.result
	}
	return c.text.String()
}

// ServeRuns executes scheduler requests until the channel closes.
// Intended to run as a goroutine; tasks for different projects may run
// concurrently, so each request gets its own worker.
func (m *Manager) ServeRuns(runs <-chan sched.RunRequest) {
	for req := range runs {
		go func(req sched.RunRequest) {
			req.Reply <- m.runHeadless(req)
		}(req)
	}
}

// runHeadless performs one scheduled task execution: a real provider
// instance, no bound client, events captured into the execution record.
func (m *Manager) runHeadless(req sched.RunRequest) sched.RunResult {
	modelName := req.Task.Model
	if modelName == "" && req.ProjectID != "" {
		if project, err := m.projects.Get(req.ProjectID); err == nil {
			modelName = project.Model
		}
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	collector := &eventCollector{}
	runID := "task-" + uuid.New().String()
	token := m.bridge.IssueToken(runID)
	defer m.bridge.RevokeToken(runID)

	prov, err := m.factory.New(collector.handle, provider.NewOptions{
		Model:     modelName,
		Dir:       req.Directory,
		SessionID: runID,
		HookURL:   m.hookURL,
		HookToken: token,
	})
	if err != nil {
		return sched.RunResult{Err: err}
	}
	defer prov.Kill()

	if err := prov.Start(); err != nil {
		return sched.RunResult{Err: fmt.Errorf("start provider: %w", err)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), headlessTimeout)
	defer cancel()

	if err := prov.Send(ctx, req.Task.Prompt, nil); err != nil {
		return sched.RunResult{Err: err}
	}

	collector.mu.Lock()
	stats := collector.stats
	collector.mu.Unlock()

	if record := m.usageRecorder(runID, req.ProjectID, modelName, repository.UsageSourceTask); record != nil && stats != nil {
		record(*stats)
	}

	response := collector.response()
	if response == "" {
		return sched.RunResult{Err: fmt.Errorf("task %q produced no response", req.Task.Name)}
	}
	return sched.RunResult{Response: response, Stats: stats}
}
