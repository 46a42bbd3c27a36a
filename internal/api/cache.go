package api

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/trogers1052/stock-ingest-pipeline/internal/models"
)

const latestCacheTTL = time.Minute

// LatestCache holds each symbol's latest stored day for one minute. It is
// also a pipeline publisher: a symbol that reaches DONE is evicted, so runs
// started outside the API invalidate it too.
type LatestCache struct {
	c *cache.Cache
}

// NewLatestCache creates an empty cache
func NewLatestCache() *LatestCache {
	return &LatestCache{c: cache.New(latestCacheTTL, 2*latestCacheTTL)}
}

// Get returns the cached day for symbol
func (l *LatestCache) Get(symbol string) (models.Date, bool) {
	v, found := l.c.Get(symbol)
	if !found {
		return models.Date{}, false
	}
	return v.(models.Date), true
}

// Set caches latest for symbol
func (l *LatestCache) Set(symbol string, latest models.Date) {
	l.c.SetDefault(symbol, latest)
}

// Invalidate drops symbol from the cache
func (l *LatestCache) Invalidate(symbol string) {
	l.c.Delete(symbol)
}

// PublishSymbolOutcome evicts symbols whose rows just changed
func (l *LatestCache) PublishSymbolOutcome(ctx context.Context, runID string, outcome models.SymbolOutcome) error {
	if outcome.State == models.StateDone {
		l.Invalidate(outcome.Symbol)
	}
	return nil
}

// PublishRunCompleted is a no-op; eviction happens per symbol
func (l *LatestCache) PublishRunCompleted(ctx context.Context, report *models.RunReport) error {
	return nil
}
