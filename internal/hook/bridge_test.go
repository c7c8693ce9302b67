package hook

import (
	"testing"
	"time"
)

func TestBridgeResolve(t *testing.T) {
	b := NewBridge()

	done := make(chan Decision, 1)
	go func() { done <- b.Await("use-1") }()

	// Let Await register before resolving.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		b.mu.Lock()
		registered := len(b.pending) == 1
		b.mu.Unlock()
		if registered {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if !b.Resolve("use-1", Decision{Decision: "allow"}) {
		t.Fatal("Resolve found no pending prompt")
	}
	d := <-done
	if d.Decision != "allow" {
		t.Errorf("decision = %+v", d)
	}

	b.mu.Lock()
	remaining := len(b.pending)
	b.mu.Unlock()
	if remaining != 0 {
		t.Errorf("%d prompts left pending", remaining)
	}
}

func TestBridgeTimeoutDenies(t *testing.T) {
	b := NewBridge()
	b.Timeout = 20 * time.Millisecond

	d := b.Await("use-slow")
	if d.Decision != "deny" {
		t.Errorf("decision after timeout = %+v", d)
	}

	// A late answer for the expired id is dropped.
	if b.Resolve("use-slow", Decision{Decision: "allow"}) {
		t.Error("Resolve matched an expired prompt")
	}
}

func TestBridgeUnknownResolve(t *testing.T) {
	b := NewBridge()
	if b.Resolve("nope", Decision{Decision: "allow"}) {
		t.Error("Resolve matched a prompt that never existed")
	}
}

func TestBridgeTokens(t *testing.T) {
	b := NewBridge()

	token := b.IssueToken("s1")
	if token == "" {
		t.Fatal("empty token")
	}
	if !b.ValidateToken("s1", token) {
		t.Error("issued token rejected")
	}
	if b.ValidateToken("s1", "wrong") {
		t.Error("wrong token accepted")
	}
	if b.ValidateToken("s2", token) {
		t.Error("token accepted for another session")
	}

	// Reissue replaces, revoke removes.
	second := b.IssueToken("s1")
	if b.ValidateToken("s1", token) {
		t.Error("stale token still valid after reissue")
	}
	b.RevokeToken("s1")
	if b.ValidateToken("s1", second) {
		t.Error("token valid after revoke")
	}
}
