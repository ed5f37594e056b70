package translator

import (
	"context"
	"fmt"

	translate "cloud.google.com/go/translate"
	"golang.org/x/text/language"
	"google.golang.org/api/option"
)

type googleClient interface {
	Translate(ctx context.Context, inputs []string, target language.Tag, opts *translate.Options) ([]translate.Translation, error)
	Close() error
}

// googleTranslator uses Google Cloud Translation. Machine translation takes
// neither an instruction prompt nor context, so both are ignored.
type googleTranslator struct {
	client googleClient
}

func NewGoogleTranslator(ctx context.Context, cfg ProviderConfig) (Translator, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.ProjectID != "" {
		opts = append(opts, option.WithQuotaProject(cfg.ProjectID))
	}

	client, err := translate.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create google translate client: %w", err)
	}
	return &googleTranslator{client: client}, nil
}

func (g *googleTranslator) TranslateBatch(ctx context.Context, texts []string, targetLanguage, _, _ string) ([]Result, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	target, err := ResolveLanguage(targetLanguage)
	if err != nil {
		return nil, fmt.Errorf("invalid target language: %w", err)
	}

	translations, err := g.client.Translate(ctx, texts, target, &translate.Options{Format: translate.Text})
	if err != nil {
		return nil, fmt.Errorf("google translation failed: %w", err)
	}

	results := make([]Result, len(texts))
	for i := range texts {
		if i < len(translations) && translations[i].Text != "" {
			results[i] = Result{Text: translations[i].Text}
			continue
		}
		results[i] = Result{Error: MissingTranslation(i, len(texts))}
	}
	return results, nil
}

func (g *googleTranslator) Close() error {
	return g.client.Close()
}
