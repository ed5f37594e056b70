package llm

import (
	"errors"
	"net/http"
	"time"
)

// Config configures a Client for an OpenAI-compatible chat completions API:
// OpenRouter, OpenAI or a self-hosted gateway.
type Config struct {
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	// Timeout in seconds for one HTTP round trip.
	Timeout int `json:"timeout"`
	// SiteURL and AppName feed the OpenRouter attribution headers.
	SiteURL string `json:"site_url"`
	AppName string `json:"app_name"`
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if c.APIKey == "" {
		errs = append(errs, errors.New("api key is required"))
	}
	if c.APIURL == "" {
		errs = append(errs, errors.New("api url is required"))
	}
	if c.Model == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if c.MaxTokens < 1 {
		errs = append(errs, errors.New("max tokens must be greater than 0"))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, errors.New("temperature must be between 0 and 2"))
	}
	if c.Timeout < 1 {
		errs = append(errs, errors.New("timeout must be greater than 0"))
	}
	return errors.Join(errs...)
}

func (c *Config) timeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c *Config) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.APIKey)
	h.Set("Content-Type", "application/json")
	if c.SiteURL != "" {
		h.Set("HTTP-Referer", c.SiteURL)
	}
	if c.AppName != "" {
		h.Set("X-Title", c.AppName)
	}
	return h
}
