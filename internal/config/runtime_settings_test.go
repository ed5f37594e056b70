package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() RuntimeSettings {
	return RuntimeSettings{
		Provider:       "openrouter",
		TargetLanguage: "vi",
		LLMAPIURL:      "https://example.test/v1",
		LLMAPIKey:      "ak-test-123456",
		LLMModel:       "model-test",
	}
}

func TestRuntimeSettings_Validate(t *testing.T) {
	require.NoError(t, validSettings().Validate())

	byName := validSettings()
	byName.TargetLanguage = "Vietnamese"
	require.NoError(t, byName.Validate())

	unknown := validSettings()
	unknown.Provider = "babelfish"
	require.Error(t, unknown.Validate())

	noModel := validSettings()
	noModel.LLMModel = ""
	require.Error(t, noModel.Validate())

	badLang := validSettings()
	badLang.TargetLanguage = "not a language at all"
	require.Error(t, badLang.Validate())

	google := RuntimeSettings{Provider: "google"}
	require.NoError(t, google.Validate())
}

func TestRuntimeSettings_Masked(t *testing.T) {
	s := validSettings()
	masked := s.Masked()
	assert.Equal(t, "ak-********456", masked.LLMAPIKey)
	assert.Equal(t, "ak-test-123456", s.LLMAPIKey)

	short := RuntimeSettings{LLMAPIKey: "abc"}
	assert.Equal(t, "******", short.Masked().LLMAPIKey)
}

func TestRuntimeSettingsFile_RoundTrip(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "settings", "runtime.json")
	input := validSettings()

	require.NoError(t, WriteRuntimeSettingsFile(filePath, input))

	got, err := LoadRuntimeSettingsFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, input, got)

	info, err := os.Stat(filePath)
	require.NoError(t, err)
	assert.False(t, info.IsDir())
}

func TestWithRuntimeSettings_OverridesConfig(t *testing.T) {
	t.Setenv("LLM_API_KEY", "env-key")
	t.Setenv("LLM_API_URL", "https://env.example/v1")
	t.Setenv("LLM_MODEL", "env-model")

	override := RuntimeSettings{
		Provider:       "openai",
		LLMAPIURL:      "https://file.example/v1",
		LLMModel:       "file-model",
		TargetLanguage: "ja",
	}

	cfg, err := NewFromEnv(WithRuntimeSettings(override))
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Translate.Provider)
	assert.Equal(t, override.LLMAPIURL, cfg.LLM.APIURL)
	assert.Equal(t, "env-key", cfg.LLM.APIKey, "empty fields keep the environment value")
	assert.Equal(t, override.LLMModel, cfg.LLM.Model)
	assert.Equal(t, "ja", cfg.Translate.TargetLanguage)
}

func TestRuntimeSettingsStore_UpdatePersistsFile(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "runtime-settings.json")

	store, err := NewRuntimeSettingsStore(filePath, validSettings())
	require.NoError(t, err)

	next := validSettings()
	next.LLMModel = "new-model"
	next.TargetLanguage = "en"
	got, err := store.UpdateRuntimeSettings(next)
	require.NoError(t, err)
	assert.Equal(t, next, got)

	loaded, err := LoadRuntimeSettingsFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, next, loaded)

	invalid := next
	invalid.Provider = "nope"
	_, err = store.UpdateRuntimeSettings(invalid)
	require.Error(t, err)
	current, err := store.GetRuntimeSettings()
	require.NoError(t, err)
	assert.Equal(t, next, current)
}

func TestOpenRuntimeSettingsStore_FileWinsOverFallback(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "settings.json")

	store, err := OpenRuntimeSettingsStore(filePath, validSettings())
	require.NoError(t, err)
	got, _ := store.GetRuntimeSettings()
	assert.Equal(t, validSettings(), got)

	require.NoError(t, os.WriteFile(filePath, []byte(`{"provider":"openrouter","llm_model":"disk-model"}`), 0o600))

	store, err = OpenRuntimeSettingsStore(filePath, validSettings())
	require.NoError(t, err)
	got, _ = store.GetRuntimeSettings()
	assert.Equal(t, "disk-model", got.LLMModel)
	assert.Equal(t, "https://example.test/v1", got.LLMAPIURL)
}
