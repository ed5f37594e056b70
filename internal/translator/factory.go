package translator

import (
	"context"
	"fmt"
	"time"

	"github.com/MimeLyc/subtitle-batch-translator/internal/llm"
)

const (
	defaultMaxTokens = 8000
	defaultTimeout   = 120 * time.Second
)

// New builds the Translator selected by cfg.
func New(ctx context.Context, cfg ProviderConfig) (Translator, error) {
	cfg = cfg.WithPreset()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var t Translator
	switch cfg.Provider {
	case ProviderOpenRouter, ProviderOpenAI, ProviderGemini:
		client, err := llm.NewClient(llmConfig(cfg))
		if err != nil {
			return nil, err
		}
		t = NewLLMTranslator(client)
	case ProviderGoogle:
		g, err := NewGoogleTranslator(ctx, cfg)
		if err != nil {
			return nil, err
		}
		t = g
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	return WithRateLimit(t, cfg.RatePerSecond, cfg.Burst), nil
}

func llmConfig(cfg ProviderConfig) *llm.Config {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &llm.Config{
		APIKey:      cfg.APIKey,
		APIURL:      cfg.APIURL,
		Model:       cfg.Model,
		MaxTokens:   maxTokens,
		Temperature: cfg.Temperature,
		Timeout:     max(1, int(timeout/time.Second)),
		SiteURL:     cfg.SiteURL,
		AppName:     cfg.AppName,
	}
}

// NewModelLister returns the model listing client of an LLM provider.
func NewModelLister(cfg ProviderConfig) (ModelLister, error) {
	cfg = cfg.WithPreset()
	if !IsLLMProvider(cfg.Provider) {
		return nil, fmt.Errorf("provider %q has no model list", cfg.Provider)
	}
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("api url is required for provider %s", cfg.Provider)
	}
	client, err := llm.NewClient(llmConfig(cfg))
	if err != nil {
		return nil, err
	}
	return client, nil
}
