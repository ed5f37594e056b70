package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/subtitle-batch-translator/internal/config"
	"github.com/MimeLyc/subtitle-batch-translator/internal/engine"
	"github.com/MimeLyc/subtitle-batch-translator/internal/subtitle"
	"github.com/MimeLyc/subtitle-batch-translator/internal/translator"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/file"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

type translateOptions struct {
	target   string
	prompt   string
	provider string
	format   string
	mode     string
	out      string
	estimate bool
}

func newTranslateCommand(root *rootOptions) *cobra.Command {
	opts := &translateOptions{}

	cmd := &cobra.Command{
		Use:   "translate <subtitle file>",
		Short: "Translate one subtitle file and write the result next to it",
		Long: "Translate one subtitle file in batches. Ctrl-C aborts the run after the\n" +
			"batch in flight; whatever was translated so far is still written.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.config()
			if err != nil {
				return err
			}
			if err := applySettingsFile(cfg, root.settingsPath()); err != nil {
				return err
			}
			return runTranslate(cmd.Context(), cfg, args[0], opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.target, "target", "t", "", "Target language (defaults to the configured one)")
	flags.StringVar(&opts.prompt, "prompt", "", "Extra instructions for the translator")
	flags.StringVar(&opts.provider, "provider", "", "Provider: "+strings.Join(translator.Providers(), ", "))
	flags.StringVarP(&opts.format, "format", "f", "", "Output format: srt, vtt or ass (defaults to the input format)")
	flags.StringVarP(&opts.mode, "mode", "m", string(engine.ModeTranslated), "Export mode: translated or bilingual")
	flags.StringVarP(&opts.out, "out", "o", "", "Output file (defaults to <name>_<lang>.<ext> next to the input)")
	flags.BoolVar(&opts.estimate, "estimate-only", false, "Print the token and cost estimate without translating")
	return cmd
}

// applySettingsFile layers the runtime settings file, when present, over the environment.
func applySettingsFile(cfg *config.Config, path string) error {
	settings, err := config.LoadRuntimeSettingsFile(path)
	switch {
	case err == nil:
		cfg.ApplyRuntimeSettings(settings)
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func runTranslate(ctx context.Context, cfg *config.Config, input string, opts *translateOptions, stdout, stderr io.Writer) error {
	content, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	inFormat, err := subtitle.DetectFormat(input)
	if err != nil {
		return err
	}
	cues, err := subtitle.Parse(inFormat, string(content))
	if err != nil {
		return fmt.Errorf("parse %s: %w", input, err)
	}

	outFormat := inFormat
	if opts.format != "" {
		if outFormat, err = subtitle.ParseFormat(opts.format); err != nil {
			return err
		}
	}
	mode, err := engine.ParseMode(opts.mode)
	if err != nil {
		return err
	}
	target := firstSet(opts.target, cfg.Translate.TargetLanguage)
	if target == "" {
		return fmt.Errorf("target language is required (--target or TARGET_LANGUAGE)")
	}

	prompt := firstSet(opts.prompt, cfg.Translate.Prompt)
	pc := cfg.ProviderConfig(opts.provider)

	session := engine.NewSession(cues, engine.Options{
		BatchSize:          cfg.Batch.BatchSize,
		MaxBatchSize:       cfg.Batch.MaxBatchSize,
		LargeFileThreshold: cfg.Batch.LargeFileThreshold,
		ContextWindow:      contextWindow(cfg.Batch.ContextWindow),
		PollInterval:       cfg.Batch.PollInterval,
	})
	est := estimateRun(session, pc, target, prompt)
	if opts.estimate {
		fmt.Fprintln(stdout, renderEstimate(est))
		return nil
	}
	fmt.Fprintln(stderr, renderEstimate(est))

	tr, err := newTranslator(ctx, pc)
	if err != nil {
		return fmt.Errorf("translation provider is not configured: %w", err)
	}
	defer func() { _ = translator.Close(tr) }()

	fmt.Fprintf(stderr, "Translating %d cues (%s) from %s to %s\n",
		len(cues), humanize.Bytes(uint64(len(content))), filepath.Base(input), target)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	stopSignals := abortOnInterrupt(session, cancelRun, stderr)
	defer stopSignals()
	stopProgress := reportProgress(session, stderr)

	runErr := session.StartTranslation(runCtx, engine.JobRequest{
		ID:             "cli",
		TargetLanguage: target,
		Prompt:         prompt,
		Provider:       pc.Provider,
		Translator:     tr,
	})
	stopProgress()
	if runErr != nil && !engine.IsAborted(runErr) {
		return runErr
	}

	state := session.State()
	fmt.Fprintln(stdout, renderSummary(state))
	if len(state.FailedBatches) > 0 {
		fmt.Fprintln(stdout, renderFailedBatches(state.FailedBatches))
	}

	rendered, err := session.ExportAs(outFormat, mode)
	if err != nil {
		return err
	}
	out := opts.out
	switch {
	case out == "":
		out = filepath.Join(filepath.Dir(input),
			file.ExportName(input, target, outFormat.Extension(), mode == engine.ModeBilingual))
	case filepath.Ext(out) == "":
		out = file.ReplaceExt(out, outFormat.Extension())
	}
	if err := os.WriteFile(out, []byte(rendered), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote %s (%s)\n", out, humanize.Bytes(uint64(len(rendered))))

	if runErr != nil {
		return fmt.Errorf("translation aborted, partial result written")
	}
	return nil
}

func contextWindow(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

// estimateRun prices a fresh run with the built-in pricing table. The CLI
// does not fetch live prices.
func estimateRun(session *engine.Session, pc translator.ProviderConfig, target, prompt string) translator.Estimate {
	items := session.Items()
	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.SourceText
	}
	opts := session.Options()
	est := translator.EstimateTokens(translator.EstimateInput{
		Texts:          texts,
		SourceLanguage: session.Meta().SourceLanguage,
		TargetLanguage: target,
		Prompt:         prompt,
		ContextWindow:  opts.ContextWindow,
		BatchSize:      opts.BatchSize,
	})
	pc = pc.WithPreset()
	if !translator.IsLLMProvider(pc.Provider) {
		return est
	}
	return est.WithCost(pc.Model, nil)
}

func renderEstimate(est translator.Estimate) string {
	cost := "n/a"
	if est.PricingSource != translator.PricingNone {
		cost = translator.FormatCost(est.Cost)
	}
	rows := [][]string{
		{"Items", humanize.Comma(int64(est.Items))},
		{"Input tokens", translator.FormatTokenCount(est.InputTokens)},
		{"Output tokens", translator.FormatTokenCount(est.OutputTokens)},
		{"Total tokens", translator.FormatTokenCount(est.TotalTokens)},
		{"Estimated cost", cost},
	}
	if est.Model != "" {
		rows = append(rows, []string{"Model", est.Model})
	}
	return renderTable([]string{"Estimate", ""}, rows, []columnAlignment{alignLeft, alignRight})
}

// abortOnInterrupt aborts the run on the first Ctrl-C.
func abortOnInterrupt(session *engine.Session, cancelRun context.CancelFunc, stderr io.Writer) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigCh:
			interruptRun(session, cancelRun, stderr)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// interruptRun lets the batch in flight finish. Before the job has started
// there is nothing to abort, so the run context is canceled instead.
func interruptRun(session *engine.Session, cancelRun context.CancelFunc, stderr io.Writer) {
	fmt.Fprintln(stderr, "\nAborting after the current batch...")
	if err := session.Abort(); err != nil {
		log.Debug("No active job to abort, canceling the run: %v", err)
		cancelRun()
	}
}

// reportProgress prints a progress line on every change when stderr is a terminal.
func reportProgress(session *engine.Session, stderr io.Writer) func() {
	if !isTerminal(stderr) {
		return func() {}
	}
	changes, cancel := session.Subscribe()
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		for range changes {
			p := session.State().Progress
			fmt.Fprintf(stderr, "\r%d/%d items settled", p.Done, p.Total)
		}
		fmt.Fprintln(stderr)
	}()

	return func() {
		cancel()
		<-finished
	}
}

func renderSummary(state engine.State) string {
	rows := [][]string{}
	for _, status := range []engine.Status{
		engine.StatusTranslated, engine.StatusError, engine.StatusPending, engine.StatusTranslating,
	} {
		rows = append(rows, []string{string(status), strconv.Itoa(state.Counts[status])})
	}
	return renderTable([]string{"Status", "Items"}, rows, []columnAlignment{alignLeft, alignRight})
}

func renderFailedBatches(batches []engine.FailedBatch) string {
	rows := make([][]string, 0, len(batches))
	for _, b := range batches {
		ids := make([]string, 0, len(b.Items))
		reason := ""
		for _, it := range b.Items {
			ids = append(ids, strconv.Itoa(it.ID))
			if reason == "" {
				reason = it.Error
			}
		}
		rows = append(rows, []string{strconv.Itoa(b.Index), strings.Join(ids, ","), reason})
	}
	return renderTable([]string{"Batch", "Items", "Error"}, rows, []columnAlignment{alignRight, alignLeft, alignLeft})
}
