package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/barelyworkingcode/eve/internal/config"
	"github.com/barelyworkingcode/eve/internal/hook"
	"github.com/barelyworkingcode/eve/internal/provider"
	"github.com/barelyworkingcode/eve/internal/session"
	"github.com/barelyworkingcode/eve/internal/store"
)

type recordingSink struct {
	id string

	mu     sync.Mutex
	frames []session.F
}

func (s *recordingSink) ClientID() string { return s.id }

func (s *recordingSink) Enqueue(frame interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame.(session.F))
	return true
}

func (s *recordingSink) waitFor(t *testing.T, frameType string) session.F {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		for _, f := range s.frames {
			if f["type"] == frameType {
				s.mu.Unlock()
				return f
			}
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("never saw a %s frame", frameType)
	return nil
}

func newPermissionFixture(t *testing.T) (*gin.Engine, *hook.Bridge, *session.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	chat := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(chat.Close)

	dir := t.TempDir()
	sessions, err := store.NewSessionStore(filepath.Join(dir, "sessions"))
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}
	projects, err := store.NewProjectStore(filepath.Join(dir, "projects.json"))
	if err != nil {
		t.Fatalf("NewProjectStore: %v", err)
	}

	settings := &config.Settings{
		ProviderConfig: map[string]config.ProviderConfig{
			config.KindLMStudio: {
				BaseURL: chat.URL,
				Models:  []config.ModelDef{{ID: "m", Label: "M", ContextWindow: 1000}},
			},
		},
	}
	bridge := hook.NewBridge()
	manager := session.NewManager(session.ManagerOptions{
		Store:    sessions,
		Projects: projects,
		Factory:  provider.NewFactory(settings),
		Bridge:   bridge,
	})
	t.Cleanup(manager.Shutdown)

	router := gin.New()
	NewPermissionHandler(bridge, manager).RegisterRoutes(router.Group("/api"))
	return router, bridge, manager
}

func postPermission(router *gin.Engine, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/permission", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestPermissionRelayAndResolve(t *testing.T) {
	router, bridge, manager := newPermissionFixture(t)

	sink := &recordingSink{id: "c1"}
	sess, err := manager.Create(sink, session.CreateOptions{Model: "m", Directory: t.TempDir()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	token := bridge.IssueToken(sess.ID())

	body := fmt.Sprintf(`{"sessionId":%q,"toolName":"Bash","toolInput":{"command":"ls"},"toolUseId":"tu-1"}`, sess.ID())

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- postPermission(router, body, token) }()

	// The request frame reaches the bound client; answer it.
	frame := sink.waitFor(t, "permission_request")
	if frame["toolName"] != "Bash" {
		t.Errorf("toolName = %v", frame["toolName"])
	}
	if !bridge.Resolve("tu-1", hook.Decision{Decision: "allow"}) {
		t.Fatal("Resolve found no pending request")
	}

	rec := <-done
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp PermissionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if resp.Decision != "allow" {
		t.Errorf("decision = %q", resp.Decision)
	}
}

func TestPermissionRejectsBadToken(t *testing.T) {
	router, _, manager := newPermissionFixture(t)

	sess, err := manager.Create(nil, session.CreateOptions{Model: "m", Directory: t.TempDir()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	body := fmt.Sprintf(`{"sessionId":%q,"toolName":"Bash","toolUseId":"tu-2"}`, sess.ID())
	rec := postPermission(router, body, "wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPermissionDeniesWithoutClient(t *testing.T) {
	router, bridge, manager := newPermissionFixture(t)

	sess, err := manager.Create(nil, session.CreateOptions{Model: "m", Directory: t.TempDir()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	token := bridge.IssueToken(sess.ID())

	body := fmt.Sprintf(`{"sessionId":%q,"toolName":"Write","toolUseId":"tu-3"}`, sess.ID())
	rec := postPermission(router, body, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp PermissionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if resp.Decision != "deny" {
		t.Errorf("decision = %q, want deny when nobody is attached", resp.Decision)
	}
}
