package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MimeLyc/subtitle-batch-translator/internal/translator"
	"github.com/gofrs/flock"
)

const DefaultRuntimeSettingsFile = "/app/config/settings.json"

// RuntimeSettings are the provider settings editable at runtime (UI or CLI).
// They are persisted as JSON next to the data dir and override the environment.
type RuntimeSettings struct {
	Provider          string `json:"provider"`
	TargetLanguage    string `json:"target_language,omitempty"`
	Prompt            string `json:"prompt,omitempty"`
	LLMAPIURL         string `json:"llm_api_url,omitempty"`
	LLMAPIKey         string `json:"llm_api_key,omitempty"`
	LLMModel          string `json:"llm_model,omitempty"`
	GoogleCredentials string `json:"google_credentials,omitempty"`
	GoogleProjectID   string `json:"google_project_id,omitempty"`
}

func RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", DefaultRuntimeSettingsFile)
}

func (s RuntimeSettings) Validate() error {
	if !translator.IsKnownProvider(s.Provider) {
		return fmt.Errorf("unknown provider %q", s.Provider)
	}
	if translator.IsLLMProvider(s.Provider) {
		if strings.TrimSpace(s.LLMAPIURL) == "" {
			return fmt.Errorf("llm_api_url is required")
		}
		if strings.TrimSpace(s.LLMModel) == "" {
			return fmt.Errorf("llm_model is required")
		}
	}
	if strings.TrimSpace(s.TargetLanguage) != "" {
		if _, err := translator.ResolveLanguage(s.TargetLanguage); err != nil {
			return fmt.Errorf("invalid target_language: %w", err)
		}
	}
	return nil
}

// Masked returns a copy safe to hand to API clients.
func (s RuntimeSettings) Masked() RuntimeSettings {
	s.LLMAPIKey = maskSecret(s.LLMAPIKey)
	return s
}

func maskSecret(v string) string {
	if len(v) <= 6 {
		if v == "" {
			return ""
		}
		return "******"
	}
	return v[:3] + strings.Repeat("*", len(v)-6) + v[len(v)-3:]
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		Provider:          c.Translate.Provider,
		TargetLanguage:    c.Translate.TargetLanguage,
		Prompt:            c.Translate.Prompt,
		LLMAPIURL:         c.LLM.APIURL,
		LLMAPIKey:         c.LLM.APIKey,
		LLMModel:          c.LLM.Model,
		GoogleCredentials: c.Google.CredentialsFile,
		GoogleProjectID:   c.Google.ProjectID,
	}
}

// WithRuntimeSettings applies the non-empty fields of settings on top of the environment.
func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		c.ApplyRuntimeSettings(settings)
	}
}

func (c *Config) ApplyRuntimeSettings(settings RuntimeSettings) {
	merged := c.RuntimeSettings().Merge(settings)
	c.Translate.Provider = merged.Provider
	c.Translate.TargetLanguage = merged.TargetLanguage
	c.Translate.Prompt = merged.Prompt
	c.LLM.APIURL = merged.LLMAPIURL
	c.LLM.APIKey = merged.LLMAPIKey
	c.LLM.Model = merged.LLMModel
	c.Google.CredentialsFile = merged.GoogleCredentials
	c.Google.ProjectID = merged.GoogleProjectID
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

// WriteRuntimeSettingsFile validates and atomically replaces the settings file.
// Concurrent writers (server and CLI) are serialised by a lock file.
func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock settings file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// RuntimeSettingsStore is the key-value persistence port for provider settings.
type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

// OpenRuntimeSettingsStore loads path when it exists, otherwise starts from fallback.
func OpenRuntimeSettingsStore(path string, fallback RuntimeSettings) (*RuntimeSettingsStore, error) {
	settings, err := LoadRuntimeSettingsFile(path)
	switch {
	case err == nil:
		// file values win over the environment
		return NewRuntimeSettingsStore(path, fallback.Merge(settings))
	case os.IsNotExist(err):
		return NewRuntimeSettingsStore(path, fallback)
	default:
		return nil, err
	}
}

// Merge returns s with every non-empty field of over applied.
func (s RuntimeSettings) Merge(over RuntimeSettings) RuntimeSettings {
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	set(&s.Provider, over.Provider)
	set(&s.TargetLanguage, over.TargetLanguage)
	set(&s.Prompt, over.Prompt)
	set(&s.LLMAPIURL, over.LLMAPIURL)
	set(&s.LLMAPIKey, over.LLMAPIKey)
	set(&s.LLMModel, over.LLMModel)
	set(&s.GoogleCredentials, over.GoogleCredentials)
	set(&s.GoogleProjectID, over.GoogleProjectID)
	return s
}

func (s *RuntimeSettingsStore) Path() string {
	return s.path
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	if err := next.Validate(); err != nil {
		return RuntimeSettings{}, err
	}
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}
