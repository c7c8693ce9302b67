// Package config loads server settings from settings.json and the
// environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hjson/hjson-go/v4"
)

// Provider kinds as they appear in settings.json.
const (
	KindClaude   = "claude"
	KindGemini   = "gemini"
	KindLMStudio = "lmstudio"
)

// ModelDef describes one model exposed by the HTTP provider.
type ModelDef struct {
	ID            string `json:"id"`
	Label         string `json:"label"`
	ContextWindow int    `json:"contextWindow"`
}

// ProviderConfig carries per-provider tuning from settings.json.
type ProviderConfig struct {
	Path            string     `json:"path,omitempty"`
	BaseURL         string     `json:"baseUrl,omitempty"`
	Models          []ModelDef `json:"models,omitempty"`
	ResponseTimeout int        `json:"responseTimeout,omitempty"` // seconds
	Debug           bool       `json:"debug,omitempty"`
}

// Settings is the on-disk shape of settings.json.
type Settings struct {
	Providers      map[string]bool           `json:"providers"`
	ProviderConfig map[string]ProviderConfig `json:"providerConfig"`
}

// ProviderEnabled reports whether a provider kind is switched on.
// Kinds absent from the map default to enabled.
func (s *Settings) ProviderEnabled(kind string) bool {
	if s.Providers == nil {
		return true
	}
	enabled, ok := s.Providers[kind]
	return !ok || enabled
}

// Provider returns the config block for a kind (zero value if unset).
func (s *Settings) Provider(kind string) ProviderConfig {
	return s.ProviderConfig[kind]
}

// ResponseTimeout returns the configured timeout for a kind, or the
// fallback when unset.
func (s *Settings) ResponseTimeout(kind string, fallback time.Duration) time.Duration {
	if pc, ok := s.ProviderConfig[kind]; ok && pc.ResponseTimeout > 0 {
		return time.Duration(pc.ResponseTimeout) * time.Second
	}
	return fallback
}

// Config is the resolved server configuration: settings.json merged
// with environment overrides.
type Config struct {
	Port      string
	HTTPSKey  string
	HTTPSCert string
	NoAuth    bool
	DataDir   string
	Shell     string
	Settings  Settings
}

// LoadSettings reads and parses settings.json from path. The file is
// parsed as hjson (a JSON superset), so hand-edited files may carry
// comments. A missing file yields empty settings, not an error.
func LoadSettings(path string) (Settings, error) {
	var settings Settings

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return settings, nil
	}
	if err != nil {
		return settings, fmt.Errorf("read settings: %w", err)
	}

	// hjson lacks struct tags support, so go via an intermediate map.
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return settings, fmt.Errorf("parse settings: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return settings, fmt.Errorf("convert settings: %w", err)
	}
	if err := json.Unmarshal(jsonData, &settings); err != nil {
		return settings, fmt.Errorf("unmarshal settings: %w", err)
	}
	return settings, nil
}

// Load resolves the full server configuration. Settings are read from
// <dataDir>/settings.json; the environment wins over the file.
func Load() (*Config, error) {
	dataDir := getEnv("EVE_DATA_DIR", "data")

	settings, err := LoadSettings(filepath.Join(dataDir, "settings.json"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:      getEnv("PORT", "3000"),
		HTTPSKey:  os.Getenv("HTTPS_KEY"),
		HTTPSCert: os.Getenv("HTTPS_CERT"),
		NoAuth:    os.Getenv("EVE_NO_AUTH") != "",
		DataDir:   dataDir,
		Shell:     getEnv("SHELL", "/bin/bash"),
		Settings:  settings,
	}

	if path := os.Getenv("CLAUDE_PATH"); path != "" {
		pc := cfg.Settings.Provider(KindClaude)
		pc.Path = path
		setProvider(&cfg.Settings, KindClaude, pc)
	}
	if path := os.Getenv("GEMINI_PATH"); path != "" {
		pc := cfg.Settings.Provider(KindGemini)
		pc.Path = path
		setProvider(&cfg.Settings, KindGemini, pc)
	}

	return cfg, nil
}

// SessionsDir returns the directory holding session snapshots.
func (c *Config) SessionsDir() string { return filepath.Join(c.DataDir, "sessions") }

// TaskLogsDir returns the directory holding task execution logs.
func (c *Config) TaskLogsDir() string { return filepath.Join(c.DataDir, "task-logs") }

// ProjectsPath returns the path of the projects manifest.
func (c *Config) ProjectsPath() string { return filepath.Join(c.DataDir, "projects.json") }

// UsageDBPath returns the path of the usage ledger database.
func (c *Config) UsageDBPath() string { return filepath.Join(c.DataDir, "usage.db") }

func setProvider(s *Settings, kind string, pc ProviderConfig) {
	if s.ProviderConfig == nil {
		s.ProviderConfig = make(map[string]ProviderConfig)
	}
	s.ProviderConfig[kind] = pc
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
