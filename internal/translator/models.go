package translator

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/subtitle-batch-translator/internal/llm"
	"golang.org/x/sync/singleflight"
)

// DefaultModelCacheTTL is how long a fetched model list is served from memory.
const DefaultModelCacheTTL = 5 * time.Minute

type ModelLister interface {
	ListModels(ctx context.Context) ([]llm.ModelInfo, error)
}

// ModelCatalog caches the provider model list, free models first.
type ModelCatalog struct {
	lister ModelLister
	ttl    time.Duration
	now    func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	models    []llm.ModelInfo
	fetchedAt time.Time
}

func NewModelCatalog(lister ModelLister, ttl time.Duration) *ModelCatalog {
	if ttl <= 0 {
		ttl = DefaultModelCacheTTL
	}
	return &ModelCatalog{lister: lister, ttl: ttl, now: time.Now}
}

func (c *ModelCatalog) Models(ctx context.Context) ([]llm.ModelInfo, error) {
	c.mu.RLock()
	if c.models != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		out := slices.Clone(c.models)
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("models", func() (interface{}, error) {
		models, err := c.lister.ListModels(ctx)
		if err != nil {
			return nil, err
		}
		sortModels(models)

		c.mu.Lock()
		c.models = models
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return models, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]llm.ModelInfo)), nil
}

func sortModels(models []llm.ModelInfo) {
	slices.SortStableFunc(models, func(a, b llm.ModelInfo) int {
		if a.IsFree() != b.IsFree() {
			if a.IsFree() {
				return -1
			}
			return 1
		}
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
}
