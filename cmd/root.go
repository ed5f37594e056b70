package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/subtitle-batch-translator/internal/config"
	"github.com/MimeLyc/subtitle-batch-translator/internal/translator"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

// newTranslator is replaced in tests.
var newTranslator = translator.New

type rootOptions struct {
	envFile      string
	dataDir      string
	logLevel     string
	logFile      string
	settingsFile string

	fileLogger *log.FileLogger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "subtrans",
		Short:         "Batch subtitle translation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.fileLogger != nil {
				return opts.fileLogger.Close()
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.envFile, "env-file", ".env", "Environment file to load before reading the environment")
	flags.StringVar(&opts.dataDir, "data-dir", "", "Data directory (overrides DATA_DIR)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides LOG_LEVEL)")
	flags.StringVar(&opts.logFile, "log-file", "", "Also write logs to this file")
	flags.StringVar(&opts.settingsFile, "settings-file", "", "Runtime settings file (overrides SETTINGS_FILE)")

	rootCmd.AddCommand(newServeCommand(opts))
	rootCmd.AddCommand(newTranslateCommand(opts))
	rootCmd.AddCommand(newSettingsCommand(opts))

	return rootCmd
}

func (o *rootOptions) setup() error {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return err
	}

	level := log.ParseLevel(firstSet(o.logLevel, envOr("LOG_LEVEL", "info")))
	if o.logFile == "" {
		log.InitLogger(level)
		return nil
	}
	fl, err := log.NewFileLogger(o.logFile, level)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	o.fileLogger = fl
	log.SetLogger(fl.Logger)
	return nil
}

func (o *rootOptions) config() (*config.Config, error) {
	cfg, err := config.NewFromEnv(config.WithDataDir(o.dataDir))
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

func (o *rootOptions) settingsPath() string {
	if p := strings.TrimSpace(o.settingsFile); p != "" {
		return p
	}
	return config.RuntimeSettingsFilePath()
}

func firstSet(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
