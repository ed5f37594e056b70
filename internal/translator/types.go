package translator

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	// ProviderGemini is Google's Gemini through its OpenAI-compatible endpoint.
	// It takes the prompt and context like the other LLM providers.
	ProviderGemini = "gemini"
	// ProviderGoogle is Cloud Translation, a machine translation engine that
	// ignores prompt and context.
	ProviderGoogle = "google"
)

const (
	OpenRouterAPIURL   = "https://openrouter.ai/api/v1"
	GeminiAPIURL       = "https://generativelanguage.googleapis.com/v1beta/openai"
	DefaultGeminiModel = "gemini-2.0-flash"
)

// Providers lists the supported provider names.
func Providers() []string {
	return []string{ProviderOpenRouter, ProviderOpenAI, ProviderGemini, ProviderGoogle}
}

func IsKnownProvider(p string) bool {
	switch p {
	case ProviderOpenRouter, ProviderOpenAI, ProviderGemini, ProviderGoogle:
		return true
	}
	return false
}

// IsLLMProvider reports whether p is served through an OpenAI-compatible chat API.
func IsLLMProvider(p string) bool {
	return p == ProviderOpenRouter || p == ProviderOpenAI || p == ProviderGemini
}

// Result is the outcome for one input text, positionally aligned with the input.
// A non-empty Error marks that single item as failed.
type Result struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func (r Result) Failed() bool {
	return r.Error != ""
}

// Translator translates a batch of texts in one provider round trip.
//
// Item-level problems are reported through Result.Error. A returned error means
// the whole call failed (transport, authentication, unusable response) and no
// result applies.
type Translator interface {
	TranslateBatch(ctx context.Context, texts []string, targetLanguage, prompt, batchContext string) ([]Result, error)
}

// Close releases provider resources when t holds any.
func Close(t Translator) error {
	if c, ok := t.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// MissingTranslation is the per-item error for inputs the provider returned nothing for.
func MissingTranslation(i, n int) string {
	return fmt.Sprintf("Missing translation %d/%d - try with smaller batch", i+1, n)
}

// ProviderConfig is the immutable provider selection handed to New.
type ProviderConfig struct {
	Provider    string
	APIKey      string
	APIURL      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	SiteURL     string
	AppName     string

	CredentialsFile string
	ProjectID       string

	// RatePerSecond <= 0 disables client side throttling.
	RatePerSecond float64
	Burst         int
}

// WithPreset fills the endpoint and model of providers that have a fixed
// one. Gemini replaces an OpenRouter URL and OpenRouter style "vendor/model"
// names, which the shared LLM settings default to.
func (c ProviderConfig) WithPreset() ProviderConfig {
	if c.Provider != ProviderGemini {
		return c
	}
	if url := strings.TrimRight(strings.TrimSpace(c.APIURL), "/"); url == "" || url == OpenRouterAPIURL {
		c.APIURL = GeminiAPIURL
	}
	if m := strings.TrimSpace(c.Model); m == "" || strings.Contains(m, "/") {
		c.Model = DefaultGeminiModel
	}
	return c
}

func (c ProviderConfig) Validate() error {
	if !IsKnownProvider(c.Provider) {
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if IsLLMProvider(c.Provider) {
		if strings.TrimSpace(c.APIKey) == "" {
			return fmt.Errorf("api key is required for provider %s", c.Provider)
		}
		if strings.TrimSpace(c.APIURL) == "" {
			return fmt.Errorf("api url is required for provider %s", c.Provider)
		}
		if strings.TrimSpace(c.Model) == "" {
			return fmt.Errorf("model is required for provider %s", c.Provider)
		}
	}
	return nil
}
