package service

import (
	"context"
	"strings"

	"github.com/MimeLyc/subtitle-batch-translator/internal/engine"
	"github.com/MimeLyc/subtitle-batch-translator/internal/translator"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

// Estimate forecasts the tokens and cost of translating a session. Only the
// items a new run would send are counted, all of them when the target
// language changes.
func (m *Manager) Estimate(ctx context.Context, id string, req EstimateRequest) (translator.Estimate, error) {
	e, err := m.lookup(id)
	if err != nil {
		return translator.Estimate{}, err
	}

	settings := m.runtimeSettings()
	meta := e.session.Meta()
	target := firstNonEmpty(req.TargetLanguage, meta.TargetLanguage, settings.TargetLanguage)
	if target == "" {
		return translator.Estimate{}, engine.NewError(engine.ErrValidation, "target language is required")
	}
	if _, err := translator.ResolveLanguage(target); err != nil {
		return translator.Estimate{}, engine.NewErrorWithCause(engine.ErrValidation, "unknown target language", err)
	}

	provider := firstNonEmpty(req.Provider, e.record().Provider)
	pc := m.providerConfig(provider).WithPreset()
	if !translator.IsKnownProvider(pc.Provider) {
		return translator.Estimate{}, engine.NewError(engine.ErrValidation, "unknown provider "+pc.Provider)
	}

	retarget := meta.TargetLanguage != "" && !strings.EqualFold(meta.TargetLanguage, target)
	var texts []string
	for _, it := range e.session.Items() {
		if retarget || it.Status != engine.StatusTranslated {
			texts = append(texts, it.SourceText)
		}
	}

	opts := e.session.Options()
	est := translator.EstimateTokens(translator.EstimateInput{
		Texts:          texts,
		SourceLanguage: meta.SourceLanguage,
		TargetLanguage: target,
		Prompt:         firstNonEmpty(req.Prompt, meta.Prompt, settings.Prompt),
		ContextWindow:  opts.ContextWindow,
		BatchSize:      opts.BatchSize,
	})
	if !translator.IsLLMProvider(pc.Provider) {
		return est, nil
	}

	model := firstNonEmpty(req.Model, pc.Model)
	models, err := m.modelsFor(ctx, pc)
	if err != nil {
		log.Debug("No live pricing for %s, using the built-in table: %v", model, err)
		return est.WithCost(model, nil), nil
	}
	live, _ := translator.LivePricing(models, model)
	return est.WithCost(model, live), nil
}
