package provider

import (
	"sort"
	"strings"
	"time"

	"github.com/barelyworkingcode/eve/internal/config"
	"github.com/barelyworkingcode/eve/internal/model"
)

const defaultResponseTimeout = 5 * time.Minute

// Factory builds adapters from model names, routing each model to its
// provider and honouring provider enable flags from settings.
type Factory struct {
	settings *config.Settings
}

// NewFactory creates a factory over the loaded settings.
func NewFactory(settings *config.Settings) *Factory {
	return &Factory{settings: settings}
}

// KindFor routes a model name to its provider kind. Anything not
// claimed by gemini or the HTTP catalogue falls through to claude.
func (f *Factory) KindFor(modelName string) string {
	if strings.HasPrefix(modelName, "gemini") {
		return config.KindGemini
	}
	for _, def := range f.settings.Provider(config.KindLMStudio).Models {
		if def.ID == modelName {
			return config.KindLMStudio
		}
	}
	return config.KindClaude
}

// CLIPath returns the configured binary for a subprocess provider
// kind, falling back to the kind's default command name.
func (f *Factory) CLIPath(kind string) string {
	if path := f.settings.Provider(kind).Path; path != "" {
		return path
	}
	return kind
}

// NewOptions carries the per-session parameters for New.
type NewOptions struct {
	Model     string
	Dir       string
	SessionID string
	HookURL   string
	HookToken string
}

// New builds an adapter for the model, or ErrProviderDisabled when the
// routed provider is switched off in settings.
func (f *Factory) New(emit Emitter, opts NewOptions) (Provider, error) {
	kind := f.KindFor(opts.Model)
	if !f.settings.ProviderEnabled(kind) {
		return nil, model.ErrProviderDisabled
	}

	pc := f.settings.Provider(kind)
	timeout := f.settings.ResponseTimeout(kind, defaultResponseTimeout)

	switch kind {
	case config.KindGemini:
		return NewGemini(emit, GeminiOptions{
			Path:      pc.Path,
			Dir:       opts.Dir,
			Model:     opts.Model,
			SessionID: opts.SessionID,
			HookURL:   opts.HookURL,
			HookToken: opts.HookToken,
			Timeout:   timeout,
		}), nil
	case config.KindLMStudio:
		return NewLMStudio(emit, LMStudioOptions{
			BaseURL:       pc.BaseURL,
			Model:         opts.Model,
			ContextWindow: f.ContextWindowFor(opts.Model),
			Timeout:       timeout,
		}), nil
	default:
		return NewClaude(emit, ClaudeOptions{
			Path:      pc.Path,
			Dir:       opts.Dir,
			Model:     opts.Model,
			SessionID: opts.SessionID,
			HookURL:   opts.HookURL,
			HookToken: opts.HookToken,
			Timeout:   timeout,
		}), nil
	}
}

// ListModels merges every provider's catalogue. Models of disabled
// providers are kept but flagged so clients can grey them out.
func (f *Factory) ListModels() []ModelOption {
	var out []ModelOption

	claudeOff := !f.settings.ProviderEnabled(config.KindClaude)
	for _, m := range ClaudeModels() {
		m.Disabled = claudeOff
		out = append(out, m)
	}

	geminiOff := !f.settings.ProviderEnabled(config.KindGemini)
	for _, m := range GeminiModels() {
		m.Disabled = geminiOff
		out = append(out, m)
	}

	lmOff := !f.settings.ProviderEnabled(config.KindLMStudio)
	lmModels := f.settings.Provider(config.KindLMStudio).Models
	sort.SliceStable(lmModels, func(i, j int) bool { return lmModels[i].ID < lmModels[j].ID })
	for _, def := range lmModels {
		label := def.Label
		if label == "" {
			label = def.ID
		}
		out = append(out, ModelOption{
			Value:    def.ID,
			Label:    label,
			Group:    "LM Studio",
			Disabled: lmOff,
		})
	}
	return out
}

// ListCommands returns the provider-native slash commands for a model.
func (f *Factory) ListCommands(modelName string) []SlashCommand {
	switch f.KindFor(modelName) {
	case config.KindGemini:
		return GeminiCommands()
	case config.KindLMStudio:
		return nil
	default:
		return ClaudeCommands()
	}
}

// ContextWindowFor returns the context window for a model, falling back
// to the provider default when the catalogue does not say.
func (f *Factory) ContextWindowFor(modelName string) int {
	switch f.KindFor(modelName) {
	case config.KindGemini:
		return defaultGeminiContextWindow
	case config.KindLMStudio:
		for _, def := range f.settings.Provider(config.KindLMStudio).Models {
			if def.ID == modelName && def.ContextWindow > 0 {
				return def.ContextWindow
			}
		}
		return defaultClaudeContextWindow
	default:
		return defaultClaudeContextWindow
	}
}
