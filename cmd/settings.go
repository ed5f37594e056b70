package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/subtitle-batch-translator/internal/config"
)

func newSettingsCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect or change the runtime provider settings",
	}
	cmd.AddCommand(newSettingsShowCommand(root))
	cmd.AddCommand(newSettingsSetCommand(root))
	return cmd
}

func openSettings(root *rootOptions) (*config.RuntimeSettingsStore, error) {
	cfg, err := root.config()
	if err != nil {
		return nil, err
	}
	return config.OpenRuntimeSettingsStore(root.settingsPath(), cfg.RuntimeSettings())
}

func newSettingsShowCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective runtime settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSettings(root)
			if err != nil {
				return err
			}
			current, err := store.GetRuntimeSettings()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSettings(store.Path(), current.Masked()))
			return nil
		},
	}
}

func newSettingsSetCommand(root *rootOptions) *cobra.Command {
	var next config.RuntimeSettings

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update runtime settings; unset flags keep their value",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSettings(root)
			if err != nil {
				return err
			}
			current, err := store.GetRuntimeSettings()
			if err != nil {
				return err
			}
			saved, err := store.UpdateRuntimeSettings(current.Merge(next))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSettings(store.Path(), saved.Masked()))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&next.Provider, "provider", "", "Translation provider")
	flags.StringVar(&next.TargetLanguage, "target", "", "Default target language")
	flags.StringVar(&next.Prompt, "prompt", "", "Default extra instructions")
	flags.StringVar(&next.LLMAPIURL, "api-url", "", "LLM API base URL")
	flags.StringVar(&next.LLMAPIKey, "api-key", "", "LLM API key")
	flags.StringVar(&next.LLMModel, "model", "", "LLM model")
	flags.StringVar(&next.GoogleCredentials, "google-credentials", "", "Google service account file")
	flags.StringVar(&next.GoogleProjectID, "google-project", "", "Google Cloud project id")
	return cmd
}

func renderSettings(path string, s config.RuntimeSettings) string {
	rows := [][]string{
		{"file", path},
		{"provider", s.Provider},
		{"target_language", s.TargetLanguage},
		{"prompt", s.Prompt},
		{"llm_api_url", s.LLMAPIURL},
		{"llm_api_key", s.LLMAPIKey},
		{"llm_model", s.LLMModel},
		{"google_credentials", s.GoogleCredentials},
		{"google_project_id", s.GoogleProjectID},
	}
	return renderTable([]string{"Setting", "Value"}, rows, nil)
}
