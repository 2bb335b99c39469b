// Package pattern manages learned extraction rules: serving them to
// adapters, feeding reuse outcomes back into success rates, and detecting
// new patterns from content samples. It is an explicit repository passed to
// every component that needs it, never ambient global state.
package pattern

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-engine/internal/config"
	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/internal/store"
	"github.com/sells-group/catalog-engine/internal/tenant"
)

// Repository serves stored patterns and serializes outcome writes.
// Reads are lock-free; writes to a given (tenant, origin, role) key go
// through a per-key mutex so concurrent source tasks never interleave a
// read-modify-write on the same success rate.
type Repository struct {
	store   store.Store
	cfg     config.PatternConfig
	tenants map[string]config.TenantConfig

	mu      sync.Mutex
	keyLock map[string]*sync.Mutex
	// consecutive validation failures per key, reset on success
	failStreak map[string]int
}

// NewRepository creates a pattern repository over the store. The tenant map
// carries per-tenant pattern settings; nil means every tenant uses the
// defaults.
func NewRepository(st store.Store, cfg config.PatternConfig, tenants map[string]config.TenantConfig) *Repository {
	return &Repository{
		store:      st,
		cfg:        cfg,
		tenants:    tenants,
		keyLock:    make(map[string]*sync.Mutex),
		failStreak: make(map[string]int),
	}
}

func (r *Repository) lockKey(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.keyLock[key]
	if !ok {
		l = &sync.Mutex{}
		r.keyLock[key] = l
	}
	return l
}

func patternKey(tenantID, origin string, role model.FieldRole) string {
	return tenantID + "|" + origin + "|" + string(role)
}

// Get returns the stored pattern for (origin, role), or nil when none
// exists. Tenant-private rows shadow global seeds; seeds are withheld from
// tenants that opted out of the shared set.
func (r *Repository) Get(ctx context.Context, origin string, role model.FieldRole) (*model.SourcePattern, error) {
	p, err := r.store.GetPattern(ctx, origin, role)
	if err != nil {
		return nil, eris.Wrap(err, "pattern: get")
	}
	if p != nil && p.Seed() && !r.seedsShared(ctx) {
		return nil, nil
	}
	return p, nil
}

// seedsShared reports whether the global seed set serves the calling
// tenant. Seeds are shared unless shared_seed_patterns is set to false in
// the tenant's config block.
func (r *Repository) seedsShared(ctx context.Context) bool {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return false
	}
	tc, ok := r.tenants[tid]
	if !ok || tc.SharedSeedPatterns == nil {
		return true
	}
	return *tc.SharedSeedPatterns
}

// Usable reports whether a stored pattern should still be applied, or
// whether detection should run instead. A pattern whose success rate has
// fallen below the configured minimum after enough uses is due for
// re-detection.
func (r *Repository) Usable(p *model.SourcePattern) bool {
	if p == nil || p.Stale {
		return false
	}
	if p.TimesUsed >= r.cfg.MinUses && p.SuccessRate < r.cfg.MinSuccessRate {
		return false
	}
	return true
}

// RecordOutcome feeds one reuse result back into the pattern's success
// rate as a running average weighted by times-used. Seeds are never
// mutated: the first outcome against a seed creates a tenant-private copy
// and the outcome lands there. A pattern that fails enough consecutive
// times is marked stale and excluded from Get until re-detected.
func (r *Repository) RecordOutcome(ctx context.Context, p *model.SourcePattern, success bool) (*model.SourcePattern, error) {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	updated := *p
	if p.Seed() {
		updated.ID = uuid.New().String()
		updated.TenantID = tid
		updated.TimesUsed = 0
		updated.SuccessRate = 0
		updated.CreatedAt = time.Now().UTC()
	}

	key := patternKey(updated.TenantID, updated.Origin, updated.Role)
	lock := r.lockKey(key)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock so concurrent outcomes compound instead of
	// clobbering each other.
	if !p.Seed() {
		current, err := r.store.GetPattern(ctx, updated.Origin, updated.Role)
		if err != nil {
			return nil, eris.Wrap(err, "pattern: reread for outcome")
		}
		if current != nil && !current.Seed() {
			updated = *current
		}
	}

	n := float64(updated.TimesUsed)
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	updated.SuccessRate = (updated.SuccessRate*n + outcome) / (n + 1)
	updated.TimesUsed++
	now := time.Now().UTC()
	updated.LastUsedAt = &now

	r.mu.Lock()
	if success {
		r.failStreak[key] = 0
	} else {
		r.failStreak[key]++
		if r.failStreak[key] >= r.cfg.StaleAfter {
			updated.Stale = true
		}
	}
	r.mu.Unlock()

	if updated.Stale {
		zap.L().Warn("pattern marked stale",
			zap.String("origin", updated.Origin),
			zap.String("role", string(updated.Role)),
			zap.Float64("success_rate", updated.SuccessRate),
		)
	}

	if err := r.store.UpsertPattern(ctx, &updated); err != nil {
		return nil, eris.Wrap(err, "pattern: record outcome")
	}
	return &updated, nil
}

// Save persists a newly detected, validated pattern for the ambient tenant.
func (r *Repository) Save(ctx context.Context, p *model.SourcePattern) error {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.TenantID = tid
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	lock := r.lockKey(patternKey(p.TenantID, p.Origin, p.Role))
	lock.Lock()
	defer lock.Unlock()

	return eris.Wrap(r.store.UpsertPattern(ctx, p), "pattern: save")
}

// List returns the tenant-visible patterns for an origin (or all origins
// when origin is empty).
func (r *Repository) List(ctx context.Context, origin string) ([]model.SourcePattern, error) {
	patterns, err := r.store.ListPatterns(ctx, origin)
	if err != nil {
		return nil, eris.Wrap(err, "pattern: list")
	}
	return patterns, nil
}
