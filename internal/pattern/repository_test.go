package pattern

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-engine/internal/config"
	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/internal/store"
	"github.com/sells-group/catalog-engine/internal/tenant"
)

func testPatternConfig() config.PatternConfig {
	return config.PatternConfig{
		MinSuccessRate: 0.5,
		MinUses:        5,
		StaleAfter:     3,
		SampleSize:     5,
	}
}

func newTestRepo(t *testing.T) (*Repository, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "patterns.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return NewRepository(st, testPatternConfig(), nil), st
}

func acmeCtx() context.Context {
	return tenant.WithID(context.Background(), "acme")
}

func TestRepository_GetMissing(t *testing.T) {
	repo, _ := newTestRepo(t)

	p, err := repo.Get(acmeCtx(), "unknown.example.com", model.RoleName)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestRepository_RecordOutcome_RunningAverage(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := acmeCtx()

	p := &model.SourcePattern{
		ID:        "pat-1",
		TenantID:  "acme",
		Origin:    "shop.example.com",
		Role:      model.RolePrice,
		Selector:  `\$([0-9.]+)`,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Save(ctx, p))

	// success, success, failure -> 2/3
	for _, outcome := range []bool{true, true, false} {
		var err error
		p, err = repo.RecordOutcome(ctx, p, outcome)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, p.TimesUsed)
	assert.InDelta(t, 2.0/3.0, p.SuccessRate, 1e-9)
	assert.NotNil(t, p.LastUsedAt)

	got, err := repo.Get(ctx, "shop.example.com", model.RolePrice)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.TimesUsed)
	assert.InDelta(t, 2.0/3.0, got.SuccessRate, 1e-9)
}

func TestRepository_Get_SeedOptOut(t *testing.T) {
	_, st := newTestRepo(t)
	require.NoError(t, InstallSeeds(context.Background(), st))

	shared := false
	repo := NewRepository(st, testPatternConfig(), map[string]config.TenantConfig{
		"acme": {SharedSeedPatterns: &shared},
	})

	// The opted-out tenant never sees the global seeds.
	p, err := repo.Get(acmeCtx(), "mercadolibre.com.mx", model.RolePrice)
	require.NoError(t, err)
	assert.Nil(t, p)

	// A tenant without an opt-out is served them.
	p, err = repo.Get(tenant.WithID(context.Background(), "globex"), "mercadolibre.com.mx", model.RolePrice)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Seed())
}

func TestRepository_RecordOutcome_SeedShadowCopy(t *testing.T) {
	repo, st := newTestRepo(t)
	ctx := acmeCtx()

	require.NoError(t, InstallSeeds(ctx, st))

	seed, err := repo.Get(ctx, "mercadolibre.com.mx", model.RolePrice)
	require.NoError(t, err)
	require.NotNil(t, seed)
	require.True(t, seed.Seed())

	updated, err := repo.RecordOutcome(ctx, seed, true)
	require.NoError(t, err)
	assert.Equal(t, "acme", updated.TenantID)
	assert.NotEqual(t, seed.ID, updated.ID)
	assert.Equal(t, 1, updated.TimesUsed)
	assert.Equal(t, 1.0, updated.SuccessRate)

	// The tenant row now shadows the untouched seed.
	got, err := repo.Get(ctx, "mercadolibre.com.mx", model.RolePrice)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.TenantID)

	other, err := repo.Get(tenant.WithID(context.Background(), "rival"), "mercadolibre.com.mx", model.RolePrice)
	require.NoError(t, err)
	require.NotNil(t, other)
	assert.True(t, other.Seed())
	assert.Equal(t, 0, other.TimesUsed)
}

func TestRepository_StaleAfterConsecutiveFailures(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := acmeCtx()

	p := &model.SourcePattern{
		TenantID:  "acme",
		Origin:    "shop.example.com",
		Role:      model.RoleName,
		Selector:  `\[([^\]]+)\]`,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Save(ctx, p))

	for i := 0; i < 3; i++ {
		var err error
		p, err = repo.RecordOutcome(ctx, p, false)
		require.NoError(t, err)
	}
	assert.True(t, p.Stale)

	// Stale patterns are excluded from Get until re-detected.
	got, err := repo.Get(ctx, "shop.example.com", model.RoleName)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_SuccessResetsFailStreak(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := acmeCtx()

	p := &model.SourcePattern{
		TenantID:  "acme",
		Origin:    "shop.example.com",
		Role:      model.RoleSKU,
		Selector:  `SKU:\s*(\S+)`,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Save(ctx, p))

	outcomes := []bool{false, false, true, false, false}
	for _, outcome := range outcomes {
		var err error
		p, err = repo.RecordOutcome(ctx, p, outcome)
		require.NoError(t, err)
	}
	// Never three consecutive failures, so still live.
	assert.False(t, p.Stale)
}

func TestRepository_Usable(t *testing.T) {
	repo, _ := newTestRepo(t)

	assert.False(t, repo.Usable(nil))
	assert.False(t, repo.Usable(&model.SourcePattern{Stale: true}))

	// Below minimum success rate but not yet enough uses: still usable.
	assert.True(t, repo.Usable(&model.SourcePattern{TimesUsed: 3, SuccessRate: 0.2}))

	// Enough uses and below minimum: due for re-detection.
	assert.False(t, repo.Usable(&model.SourcePattern{TimesUsed: 5, SuccessRate: 0.4}))

	assert.True(t, repo.Usable(&model.SourcePattern{TimesUsed: 10, SuccessRate: 0.7}))
}
