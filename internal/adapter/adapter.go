// Package adapter fetches raw content per source type. Adapters perform
// network/file I/O only and never write shared state; everything they
// yield flows into the recognition pipeline.
package adapter

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/catalog-engine/internal/config"
	"github.com/sells-group/catalog-engine/internal/model"
)

// Page is one unit of raw content from a source: a rendered web page, a
// document page, or a chunk of feed records. Exactly one of Content or
// Records is populated; feed sources arrive pre-structured and skip
// recognition.
type Page struct {
	Number  int
	Locator string // page URL, document page number, or feed row range
	Content string
	Records []map[string]string
}

// Iterator yields pages lazily in discovery order. Next returns (nil, nil)
// when the sequence is exhausted. Iterators are restartable by asking the
// adapter for a fresh one.
type Iterator interface {
	Next(ctx context.Context) (*Page, error)
}

// Adapter turns a source descriptor into a lazy page sequence.
type Adapter interface {
	Pages(ctx context.Context, src model.SourceDescriptor, cfg model.JobConfig) (Iterator, error)
}

// Registry selects the adapter for a source type.
type Registry struct {
	adapters map[model.SourceType]Adapter
}

// NewRegistry creates a registry over the given adapters.
func NewRegistry(web, document, feed Adapter) *Registry {
	return &Registry{adapters: map[model.SourceType]Adapter{
		model.SourceTypeWeb:      web,
		model.SourceTypeDocument: document,
		model.SourceTypeFeed:     feed,
	}}
}

// For returns the adapter for a source type.
func (r *Registry) For(t model.SourceType) (Adapter, error) {
	a, ok := r.adapters[t]
	if !ok {
		return nil, eris.Errorf("adapter: no adapter for source type %q", t)
	}
	return a, nil
}

// Limiters holds one outbound rate limiter per tenant. Limits are enforced
// per tenant, independent of job concurrency, so one tenant's job never
// drains another's share of an external rate budget.
type Limiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	tenants  map[string]config.TenantConfig
	defRate  float64
	defBurst int
}

// NewLimiters creates the per-tenant limiter registry.
func NewLimiters(tenants map[string]config.TenantConfig) *Limiters {
	return &Limiters{
		limiters: make(map[string]*rate.Limiter),
		tenants:  tenants,
		defRate:  2,
		defBurst: 4,
	}
}

// For returns the limiter for a tenant, creating it on first use.
func (l *Limiters) For(tenantID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limiters[tenantID]; ok {
		return lim
	}

	r := l.defRate
	burst := l.defBurst
	if tc, ok := l.tenants[tenantID]; ok {
		if tc.RatePerSecond > 0 {
			r = tc.RatePerSecond
		}
		if tc.RateBurst > 0 {
			burst = tc.RateBurst
		}
	}
	lim := rate.NewLimiter(rate.Limit(r), burst)
	l.limiters[tenantID] = lim
	return lim
}
