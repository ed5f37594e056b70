package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/subtitle-batch-translator/internal/translator"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/icron"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
// Every field can be set from the environment; a .env file is honoured when loaded with LoadDotEnv.
//
// Environment Variables:
// Translation provider:
// - TRANSLATE_PROVIDER: openrouter, openai, gemini or google (default: openrouter)
// - TARGET_LANGUAGE: default target language, tag or English name (optional)
// - TRANSLATE_PROMPT: default instruction prompt (optional)
// - LLM_API_KEY, LLM_API_URL (default: https://openrouter.ai/api/v1), LLM_MODEL
// - LLM_MAX_TOKENS (default: 8000), LLM_TEMPERATURE (default: 0.2), LLM_TIMEOUT seconds (default: 120)
// - LLM_SITE_URL, LLM_APP_NAME: optional attribution headers
// - LLM_RATE_PER_SECOND (default: 3), LLM_RATE_BURST (default: 2)
// - GOOGLE_APPLICATION_CREDENTIALS, GOOGLE_PROJECT_ID
//
// Batching:
// - BATCH_SIZE (default: 10), MAX_BATCH_SIZE (default: 30)
// - LARGE_FILE_THRESHOLD (default: 100), CONTEXT_WINDOW (default: 3)
// - PAUSE_POLL_INTERVAL_MS (default: 500)
//
// Server and system:
// - HTTP_ADDR (default: :8080), HTTP_MAX_UPLOAD_BYTES (default: 10 MiB), HTTP_CORS_ORIGINS (default: *)
// - HTTP_STATIC_DIR (default: empty, web UI not served)
// - DATA_DIR (default: /app/data), LOG_LEVEL (default: info), JOB_WORKERS (default: 2)
// - PRUNE_CRON (default: "0 * * * *"), SESSION_TTL_HOURS (default: 72)
type Config struct {
	LLM         LLMConfig         `json:"llm"`
	Google      GoogleConfig      `json:"google"`
	Translate   TranslateConfig   `json:"translate"`
	Batch       BatchConfig       `json:"batch"`
	HTTP        HTTPConfig        `json:"http"`
	System      SystemConfig      `json:"system"`
	Jobs        JobsConfig        `json:"jobs"`
	Maintenance MaintenanceConfig `json:"maintenance"`
}

// LLMConfig holds the configuration of OpenAI-compatible providers (OpenRouter, OpenAI, ...).
type LLMConfig struct {
	APIKey        string  `json:"api_key"`
	APIURL        string  `json:"api_url"`
	Model         string  `json:"model"`
	MaxTokens     int     `json:"max_tokens"`
	Temperature   float64 `json:"temperature"`
	Timeout       int     `json:"timeout"`
	SiteURL       string  `json:"site_url"`
	AppName       string  `json:"app_name"`
	RatePerSecond float64 `json:"rate_per_second"`
	RateBurst     int     `json:"rate_burst"`
}

type GoogleConfig struct {
	CredentialsFile string `json:"credentials_file"`
	ProjectID       string `json:"project_id"`
}

type TranslateConfig struct {
	Provider       string `json:"provider"`
	TargetLanguage string `json:"target_language"`
	Prompt         string `json:"prompt"`
}

type BatchConfig struct {
	BatchSize          int           `json:"batch_size"`
	MaxBatchSize       int           `json:"max_batch_size"`
	LargeFileThreshold int           `json:"large_file_threshold"`
	ContextWindow      int           `json:"context_window"`
	PollInterval       time.Duration `json:"poll_interval"`
}

type HTTPConfig struct {
	Addr           string   `json:"addr"`
	MaxUploadBytes int64    `json:"max_upload_bytes"`
	CORSOrigins    []string `json:"cors_origins"`
	StaticDir      string   `json:"static_dir"`
}

type SystemConfig struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
}

type JobsConfig struct {
	Workers int `json:"workers"`
}

type MaintenanceConfig struct {
	PruneCron  string        `json:"prune_cron"`
	SessionTTL time.Duration `json:"session_ttl"`
}

const (
	dbFileName   = "subtrans.db"
	lockFileName = "subtrans.lock"
)

// DBPath is the SQLite database location inside the data dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, dbFileName)
}

// LockPath is the single-instance lock file used by the server.
func (c *Config) LockPath() string {
	return filepath.Join(c.System.DataDir, lockFileName)
}

// Option is a function type for configuring Config
type Option func(*Config)

// WithDataDir overrides the data directory.
func WithDataDir(dir string) Option {
	return func(c *Config) {
		if strings.TrimSpace(dir) != "" {
			c.System.DataDir = dir
		}
	}
}

// WithHTTPAddr overrides the listen address.
func WithHTTPAddr(addr string) Option {
	return func(c *Config) {
		if strings.TrimSpace(addr) != "" {
			c.HTTP.Addr = addr
		}
	}
}

// LoadDotEnv loads the given .env files (default ".env"). Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		LLM: LLMConfig{
			APIKey:        getEnvString("LLM_API_KEY", ""),
			APIURL:        getEnvString("LLM_API_URL", translator.OpenRouterAPIURL),
			Model:         getEnvString("LLM_MODEL", "openai/gpt-4o-mini"),
			MaxTokens:     getEnvInt("LLM_MAX_TOKENS", 8000),
			Temperature:   getEnvFloat("LLM_TEMPERATURE", 0.2),
			Timeout:       getEnvInt("LLM_TIMEOUT", 120),
			SiteURL:       getEnvString("LLM_SITE_URL", ""),
			AppName:       getEnvString("LLM_APP_NAME", "subtitle-batch-translator"),
			RatePerSecond: getEnvFloat("LLM_RATE_PER_SECOND", 3),
			RateBurst:     getEnvInt("LLM_RATE_BURST", 2),
		},
		Google: GoogleConfig{
			CredentialsFile: getEnvString("GOOGLE_APPLICATION_CREDENTIALS", ""),
			ProjectID:       getEnvString("GOOGLE_PROJECT_ID", ""),
		},
		Translate: TranslateConfig{
			Provider:       getEnvString("TRANSLATE_PROVIDER", translator.ProviderOpenRouter),
			TargetLanguage: getEnvString("TARGET_LANGUAGE", ""),
			Prompt:         getEnvString("TRANSLATE_PROMPT", ""),
		},
		Batch: BatchConfig{
			BatchSize:          getEnvInt("BATCH_SIZE", 10),
			MaxBatchSize:       getEnvInt("MAX_BATCH_SIZE", 30),
			LargeFileThreshold: getEnvInt("LARGE_FILE_THRESHOLD", 100),
			ContextWindow:      getEnvInt("CONTEXT_WINDOW", 3),
			PollInterval:       time.Duration(getEnvInt("PAUSE_POLL_INTERVAL_MS", 500)) * time.Millisecond,
		},
		HTTP: HTTPConfig{
			Addr:           getEnvString("HTTP_ADDR", ":8080"),
			MaxUploadBytes: int64(getEnvInt("HTTP_MAX_UPLOAD_BYTES", 10<<20)),
			CORSOrigins:    getEnvList("HTTP_CORS_ORIGINS", []string{"*"}),
			StaticDir:      getEnvString("HTTP_STATIC_DIR", ""),
		},
		System: SystemConfig{
			DataDir:  getEnvString("DATA_DIR", "/app/data"),
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
		Jobs: JobsConfig{
			Workers: getEnvInt("JOB_WORKERS", 2),
		},
		Maintenance: MaintenanceConfig{
			PruneCron:  getEnvString("PRUNE_CRON", "0 * * * *"),
			SessionTTL: time.Duration(getEnvInt("SESSION_TTL_HOURS", 72)) * time.Hour,
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config loaded: provider=%s model=%s data_dir=%s batch=%d/%d",
		config.Translate.Provider, config.LLM.Model, config.System.DataDir,
		config.Batch.BatchSize, config.Batch.MaxBatchSize)

	return config, nil
}

// validate checks the static configuration. Provider credentials are checked
// when a translation starts, so the server can boot without them.
func (c *Config) validate() error {
	if !translator.IsKnownProvider(c.Translate.Provider) {
		return fmt.Errorf("unknown TRANSLATE_PROVIDER %q", c.Translate.Provider)
	}
	if c.Batch.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive")
	}
	if c.Batch.MaxBatchSize < c.Batch.BatchSize {
		return fmt.Errorf("MAX_BATCH_SIZE (%d) must not be smaller than BATCH_SIZE (%d)",
			c.Batch.MaxBatchSize, c.Batch.BatchSize)
	}
	if c.Batch.ContextWindow < 0 {
		return fmt.Errorf("CONTEXT_WINDOW must not be negative")
	}
	if c.Batch.PollInterval <= 0 {
		return fmt.Errorf("PAUSE_POLL_INTERVAL_MS must be positive")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("JOB_WORKERS must be positive")
	}
	if strings.TrimSpace(c.System.DataDir) == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if _, err := icron.Parse(c.Maintenance.PruneCron); err != nil {
		return fmt.Errorf("invalid PRUNE_CRON: %w", err)
	}
	if c.Maintenance.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL_HOURS must be positive")
	}
	return nil
}

// ProviderConfig resolves the provider configuration for one translation run.
// Empty provider falls back to the configured default.
func (c *Config) ProviderConfig(provider string) translator.ProviderConfig {
	if strings.TrimSpace(provider) == "" {
		provider = c.Translate.Provider
	}
	return translator.ProviderConfig{
		Provider:        provider,
		APIKey:          c.LLM.APIKey,
		APIURL:          c.LLM.APIURL,
		Model:           c.LLM.Model,
		MaxTokens:       c.LLM.MaxTokens,
		Temperature:     c.LLM.Temperature,
		Timeout:         time.Duration(c.LLM.Timeout) * time.Second,
		SiteURL:         c.LLM.SiteURL,
		AppName:         c.LLM.AppName,
		CredentialsFile: c.Google.CredentialsFile,
		ProjectID:       c.Google.ProjectID,
		RatePerSecond:   c.LLM.RatePerSecond,
		Burst:           c.LLM.RateBurst,
	}
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn("Ignoring invalid integer %s=%q", key, value)
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
		log.Warn("Ignoring invalid number %s=%q", key, value)
	}
	return defaultValue
}

// getEnvList splits a comma separated value.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
