package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-engine/internal/config"
	"github.com/sells-group/catalog-engine/internal/model"
)

type nopAdapter struct{}

func (nopAdapter) Pages(ctx context.Context, src model.SourceDescriptor, cfg model.JobConfig) (Iterator, error) {
	return nil, nil
}

func TestRegistryFor(t *testing.T) {
	r := NewRegistry(nopAdapter{}, nopAdapter{}, nopAdapter{})

	for _, st := range []model.SourceType{model.SourceTypeWeb, model.SourceTypeDocument, model.SourceTypeFeed} {
		a, err := r.For(st)
		require.NoError(t, err)
		assert.NotNil(t, a)
	}

	_, err := r.For(model.SourceType("carrier_pigeon"))
	assert.Error(t, err)
}

func TestLimitersPerTenant(t *testing.T) {
	l := NewLimiters(map[string]config.TenantConfig{
		"acme": {RatePerSecond: 10, RateBurst: 20},
	})

	acme := l.For("acme")
	assert.Equal(t, 20, acme.Burst())
	assert.InDelta(t, 10.0, float64(acme.Limit()), 0.001)

	// Unknown tenants get the defaults.
	other := l.For("rival")
	assert.Equal(t, 4, other.Burst())
	assert.InDelta(t, 2.0, float64(other.Limit()), 0.001)

	// Same tenant, same limiter instance.
	assert.Same(t, acme, l.For("acme"))
	assert.NotSame(t, acme, other)
}
