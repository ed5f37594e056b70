package service

import (
	"context"
	"strings"
	"sync"

	"github.com/MimeLyc/subtitle-batch-translator/internal/config"
	"github.com/MimeLyc/subtitle-batch-translator/internal/engine"
	"github.com/MimeLyc/subtitle-batch-translator/internal/llm"
	"github.com/MimeLyc/subtitle-batch-translator/internal/translator"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

type modelCache struct {
	mu      sync.Mutex
	key     string
	catalog *translator.ModelCatalog
}

// runtimeSettings returns the current settings, falling back to the config.
func (m *Manager) runtimeSettings() config.RuntimeSettings {
	base := m.cfg.RuntimeSettings()
	if m.settings == nil {
		return base
	}
	current, err := m.settings.GetRuntimeSettings()
	if err != nil {
		log.Warn("Failed to read runtime settings: %v", err)
		return base
	}
	return base.Merge(current)
}

// Settings returns the runtime settings with secrets masked.
func (m *Manager) Settings() config.RuntimeSettings {
	return m.runtimeSettings().Masked()
}

// UpdateSettings replaces the runtime settings. An empty or masked API key
// keeps the stored one.
func (m *Manager) UpdateSettings(next config.RuntimeSettings) (config.RuntimeSettings, error) {
	if m.settings == nil {
		return config.RuntimeSettings{}, engine.NewError(engine.ErrConflict, "runtime settings are read-only")
	}

	current := m.runtimeSettings()
	key := strings.TrimSpace(next.LLMAPIKey)
	if key == "" || strings.Contains(key, "***") {
		next.LLMAPIKey = current.LLMAPIKey
	}

	if err := next.Validate(); err != nil {
		return config.RuntimeSettings{}, engine.NewErrorWithCause(engine.ErrValidation, "invalid settings", err)
	}
	saved, err := m.settings.UpdateRuntimeSettings(next)
	if err != nil {
		return config.RuntimeSettings{}, err
	}
	log.Info("Runtime settings updated: provider=%s model=%s", saved.Provider, saved.LLMModel)
	return saved.Masked(), nil
}

// Models lists the models of the configured LLM provider.
func (m *Manager) Models(ctx context.Context) ([]llm.ModelInfo, error) {
	return m.modelsFor(ctx, m.providerConfig(""))
}

func (m *Manager) modelsFor(ctx context.Context, pc translator.ProviderConfig) ([]llm.ModelInfo, error) {
	key := strings.Join([]string{pc.Provider, pc.APIURL, pc.APIKey}, "\x00")

	m.models.mu.Lock()
	if m.models.catalog == nil || m.models.key != key {
		lister, err := translator.NewModelLister(pc)
		if err != nil {
			m.models.mu.Unlock()
			return nil, engine.NewErrorWithCause(engine.ErrValidation, "model list is not available", err)
		}
		m.models.catalog = translator.NewModelCatalog(lister, translator.DefaultModelCacheTTL)
		m.models.key = key
	}
	catalog := m.models.catalog
	m.models.mu.Unlock()

	return catalog.Models(ctx)
}

// providerConfig resolves provider with the runtime settings applied.
func (m *Manager) providerConfig(provider string) translator.ProviderConfig {
	cfg := m.cfg
	cfg.ApplyRuntimeSettings(m.runtimeSettings())
	return cfg.ProviderConfig(provider)
}
