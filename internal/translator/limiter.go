package translator

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

type rateLimited struct {
	next    Translator
	limiter *rate.Limiter
}

// WithRateLimit throttles calls to next to perSecond with the given burst.
func WithRateLimit(next Translator, perSecond float64, burst int) Translator {
	if perSecond <= 0 {
		return next
	}
	return &rateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), max(1, burst)),
	}
}

func (r *rateLimited) TranslateBatch(ctx context.Context, texts []string, targetLanguage, prompt, batchContext string) ([]Result, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return r.next.TranslateBatch(ctx, texts, targetLanguage, prompt, batchContext)
}

func (r *rateLimited) Close() error {
	return Close(r.next)
}
