package provider

import (
	"errors"
	"testing"

	"github.com/barelyworkingcode/eve/internal/config"
	"github.com/barelyworkingcode/eve/internal/model"
)

func testSettings() *config.Settings {
	return &config.Settings{
		ProviderConfig: map[string]config.ProviderConfig{
			config.KindLMStudio: {
				BaseURL: "http://localhost:1234/v1",
				Models: []config.ModelDef{
					{ID: "qwen2.5-coder", Label: "Qwen 2.5 Coder", ContextWindow: 32768},
				},
			},
		},
	}
}

func TestFactoryKindFor(t *testing.T) {
	f := NewFactory(testSettings())

	cases := []struct {
		model string
		want  string
	}{
		{"gemini-2.5-pro", config.KindGemini},
		{"gemini-2.5-flash", config.KindGemini},
		{"qwen2.5-coder", config.KindLMStudio},
		{"claude-sonnet-4-5", config.KindClaude},
		{"anything-else", config.KindClaude},
	}
	for _, tc := range cases {
		if got := f.KindFor(tc.model); got != tc.want {
			t.Errorf("KindFor(%q) = %s, want %s", tc.model, got, tc.want)
		}
	}
}

func TestFactoryNew(t *testing.T) {
	f := NewFactory(testSettings())
	emit := func(Event) {}

	t.Run("RoutesByModel", func(t *testing.T) {
		p, err := f.New(emit, NewOptions{Model: "gemini-2.5-pro"})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, ok := p.(*Gemini); !ok {
			t.Errorf("got %T, want *Gemini", p)
		}

		p, err = f.New(emit, NewOptions{Model: "qwen2.5-coder"})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, ok := p.(*LMStudio); !ok {
			t.Errorf("got %T, want *LMStudio", p)
		}

		p, err = f.New(emit, NewOptions{Model: "claude-sonnet-4-5"})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, ok := p.(*Claude); !ok {
			t.Errorf("got %T, want *Claude", p)
		}
	})

	t.Run("DisabledProvider", func(t *testing.T) {
		settings := testSettings()
		settings.Providers = map[string]bool{config.KindGemini: false}
		disabled := NewFactory(settings)

		_, err := disabled.New(emit, NewOptions{Model: "gemini-2.5-pro"})
		if !errors.Is(err, model.ErrProviderDisabled) {
			t.Errorf("err = %v, want ErrProviderDisabled", err)
		}

		// Other providers stay usable.
		if _, err := disabled.New(emit, NewOptions{Model: "claude-sonnet-4-5"}); err != nil {
			t.Errorf("claude blocked too: %v", err)
		}
	})
}

func TestFactoryListModels(t *testing.T) {
	settings := testSettings()
	settings.Providers = map[string]bool{config.KindLMStudio: false}
	f := NewFactory(settings)

	models := f.ListModels()
	byValue := map[string]ModelOption{}
	for _, m := range models {
		byValue[m.Value] = m
	}

	if m, ok := byValue["claude-sonnet-4-5"]; !ok || m.Disabled {
		t.Errorf("claude-sonnet-4-5 = %+v, ok=%v", m, ok)
	}
	if m, ok := byValue["gemini-2.5-pro"]; !ok || m.Disabled {
		t.Errorf("gemini-2.5-pro = %+v, ok=%v", m, ok)
	}
	m, ok := byValue["qwen2.5-coder"]
	if !ok {
		t.Fatal("disabled provider's models missing from catalogue")
	}
	if !m.Disabled {
		t.Error("lmstudio model not flagged disabled")
	}
	if m.Label != "Qwen 2.5 Coder" || m.Group != "LM Studio" {
		t.Errorf("model = %+v", m)
	}
}

func TestFactoryContextWindowFor(t *testing.T) {
	f := NewFactory(testSettings())

	if got := f.ContextWindowFor("qwen2.5-coder"); got != 32768 {
		t.Errorf("lmstudio window = %d, want 32768", got)
	}
	if got := f.ContextWindowFor("gemini-2.5-pro"); got != defaultGeminiContextWindow {
		t.Errorf("gemini window = %d", got)
	}
	if got := f.ContextWindowFor("claude-sonnet-4-5"); got != defaultClaudeContextWindow {
		t.Errorf("claude window = %d", got)
	}
}
