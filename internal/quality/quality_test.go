package quality

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-engine/internal/model"
)

func gateCfg() model.JobConfig {
	return model.JobConfig{
		ApprovalThreshold: 0.85,
		MinCompleteness:   0.6,
		MinValidRate:      0.8,
		MaxErrors:         50,
	}
}

func product(id string, confidence, completeness float64) model.ConsolidatedProduct {
	return model.ConsolidatedProduct{
		ID:           id,
		TenantID:     "acme",
		Name:         "Product " + id,
		Confidence:   confidence,
		Completeness: completeness,
	}
}

func TestEvaluateApproves(t *testing.T) {
	g := NewGate(gateCfg())

	var products []model.ConsolidatedProduct
	for i := 0; i < 10; i++ {
		products = append(products, product(fmt.Sprintf("p%d", i), 0.9, 0.8))
	}

	report := g.Evaluate("job-1", products, 3)
	assert.True(t, report.Approved)
	assert.Empty(t, report.Reasons)
	assert.Empty(t, report.ReviewItems)
	assert.Equal(t, 10, report.TotalItems)
	assert.Equal(t, 10, report.ValidItems)
	assert.InDelta(t, 0.9, report.MeanConfidence, 0.001)
}

func TestEvaluateLowConfidenceNeedsReview(t *testing.T) {
	g := NewGate(gateCfg())

	products := []model.ConsolidatedProduct{
		product("p1", 0.95, 0.9),
		product("p2", 0.5, 0.9),
		product("p3", 0.6, 0.9),
	}

	report := g.Evaluate("job-1", products, 0)
	assert.False(t, report.Approved)
	require.NotEmpty(t, report.Reasons)
	assert.Contains(t, report.Reasons[0], "mean confidence")

	// Lowest confidence first, and only sub-threshold items exposed.
	require.Len(t, report.ReviewItems, 2)
	assert.Equal(t, "p2", report.ReviewItems[0].ProductID)
	assert.Equal(t, "p3", report.ReviewItems[1].ProductID)
}

func TestEvaluateCompletenessFloor(t *testing.T) {
	g := NewGate(gateCfg())

	products := []model.ConsolidatedProduct{
		product("p1", 0.95, 0.9),
		product("p2", 0.95, 0.2),
		product("p3", 0.95, 0.1),
	}

	report := g.Evaluate("job-1", products, 0)
	assert.False(t, report.Approved)
	assert.Equal(t, 1, report.ValidItems)
	assert.Equal(t, 2, report.InvalidItems)
}

func TestEvaluateValidRateFloorPerJob(t *testing.T) {
	// Two of three items miss the completeness minimum. Whether that blocks
	// auto-approval depends on the job's configured valid-rate floor, not a
	// fixed constant.
	products := []model.ConsolidatedProduct{
		product("p1", 0.95, 0.9),
		product("p2", 0.95, 0.2),
		product("p3", 0.95, 0.1),
	}

	lax := gateCfg()
	lax.MinValidRate = 0.3
	report := NewGate(lax).Evaluate("job-1", products, 0)
	assert.True(t, report.Approved)

	strict := gateCfg()
	strict.MinValidRate = 0.5
	report = NewGate(strict).Evaluate("job-1", products, 0)
	assert.False(t, report.Approved)
	require.NotEmpty(t, report.Reasons)
	assert.Contains(t, report.Reasons[0], "meet completeness")
}

func TestEvaluateErrorCap(t *testing.T) {
	g := NewGate(gateCfg())
	products := []model.ConsolidatedProduct{product("p1", 0.95, 0.9)}

	report := g.Evaluate("job-1", products, 50)
	assert.False(t, report.Approved)
	require.Len(t, report.Reasons, 1)
	assert.Contains(t, report.Reasons[0], "error count")
}

func TestEvaluateEmptySet(t *testing.T) {
	g := NewGate(gateCfg())
	report := g.Evaluate("job-1", nil, 0)
	assert.False(t, report.Approved)
	assert.Contains(t, report.Reasons[0], "no consolidated products")
}

func TestApplyDecisions(t *testing.T) {
	products := []model.ConsolidatedProduct{
		product("p1", 0.5, 0.9),
		product("p2", 0.5, 0.9),
		product("p3", 0.5, 0.9),
	}

	kept, validated := ApplyDecisions(products, []model.ReviewDecision{
		{ProductID: "p1", Action: model.ReviewAccept},
		{ProductID: "p2", Action: model.ReviewCorrect, Corrections: map[string]string{
			"name":  "Taladro Inalámbrico",
			"price": "$1,299.00",
		}},
		{ProductID: "p3", Action: model.ReviewReject},
		{ProductID: "ghost", Action: model.ReviewAccept},
	})

	require.Len(t, kept, 2)
	assert.True(t, validated["p1"])
	assert.True(t, validated["p2"])
	assert.False(t, validated["p3"])

	var corrected model.ConsolidatedProduct
	for _, p := range kept {
		if p.ID == "p2" {
			corrected = p
		}
	}
	assert.Equal(t, "Taladro Inalámbrico", corrected.Name)
	assert.Equal(t, "taladro inalambrico", corrected.NormalizedName)
	require.NotNil(t, corrected.Price)
	assert.Equal(t, model.FixedPoint(129900), *corrected.Price)
	assert.Equal(t, 1.0, corrected.Confidence)
}

func TestApplyDecisionsNoRejects(t *testing.T) {
	products := []model.ConsolidatedProduct{product("p1", 0.5, 0.9)}
	kept, validated := ApplyDecisions(products, nil)
	assert.Len(t, kept, 1)
	assert.Empty(t, validated)
}
