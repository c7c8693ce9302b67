package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	return path
}

func TestLoadSettings(t *testing.T) {
	t.Run("plain json", func(t *testing.T) {
		path := writeSettings(t, `{
			"providers": {"claude": true, "gemini": false},
			"providerConfig": {
				"lmstudio": {"baseUrl": "http://localhost:1234/v1", "models": [
					{"id": "m", "label": "M", "contextWindow": 1000}
				]},
				"claude": {"path": "/usr/local/bin/claude", "responseTimeout": 120}
			}
		}`)

		s, err := LoadSettings(path)
		if err != nil {
			t.Fatalf("LoadSettings: %v", err)
		}
		if !s.ProviderEnabled("claude") {
			t.Error("claude should be enabled")
		}
		if s.ProviderEnabled("gemini") {
			t.Error("gemini should be disabled")
		}
		if s.ProviderEnabled("lmstudio") {
			// Absent kinds default to enabled.
		} else {
			t.Error("lmstudio should default to enabled")
		}

		lm := s.Provider("lmstudio")
		if lm.BaseURL != "http://localhost:1234/v1" {
			t.Errorf("unexpected baseUrl %q", lm.BaseURL)
		}
		if len(lm.Models) != 1 || lm.Models[0].ContextWindow != 1000 {
			t.Errorf("unexpected models %+v", lm.Models)
		}

		if got := s.ResponseTimeout("claude", time.Minute); got != 120*time.Second {
			t.Errorf("expected 120s timeout, got %v", got)
		}
		if got := s.ResponseTimeout("gemini", time.Minute); got != time.Minute {
			t.Errorf("expected fallback timeout, got %v", got)
		}
	})

	t.Run("hjson with comments", func(t *testing.T) {
		path := writeSettings(t, `{
			# local model server
			providers: {lmstudio: true}
		}`)

		s, err := LoadSettings(path)
		if err != nil {
			t.Fatalf("LoadSettings: %v", err)
		}
		if !s.ProviderEnabled("lmstudio") {
			t.Error("lmstudio should be enabled")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		s, err := LoadSettings(filepath.Join(t.TempDir(), "nope.json"))
		if err != nil {
			t.Fatalf("missing settings should not error, got %v", err)
		}
		if !s.ProviderEnabled("claude") {
			t.Error("empty settings should enable everything")
		}
	})
}
