// Package quality computes the per-job quality report, decides between
// auto-approval and human review, and applies typed review decisions to
// the consolidated set before it is committed.
package quality

import (
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/internal/normalize"
)

// maxReviewItems bounds how many low-confidence products are exposed for
// one review round.
const maxReviewItems = 50

// Gate evaluates consolidated output against the job's thresholds.
type Gate struct {
	cfg model.JobConfig
}

// NewGate creates a quality gate with the job's resolved configuration.
func NewGate(cfg model.JobConfig) *Gate {
	return &Gate{cfg: cfg}
}

// Evaluate computes the quality report for a consolidated set. Approved is
// true only when aggregate confidence meets the approval threshold, enough
// items meet the completeness minimum, and the job's error count stays
// under its cap.
func (g *Gate) Evaluate(jobID string, products []model.ConsolidatedProduct, errorCount int) model.QualityReport {
	report := model.QualityReport{JobID: jobID, TotalItems: len(products)}
	if len(products) == 0 {
		report.Reasons = append(report.Reasons, "no consolidated products")
		return report
	}

	var confSum, compSum float64
	for _, p := range products {
		confSum += p.Confidence
		compSum += p.Completeness
		if p.Completeness >= g.cfg.MinCompleteness {
			report.ValidItems++
		} else {
			report.InvalidItems++
		}
	}
	report.MeanConfidence = confSum / float64(len(products))
	report.MeanCompleteness = compSum / float64(len(products))

	validRate := float64(report.ValidItems) / float64(len(products))

	if report.MeanConfidence < g.cfg.ApprovalThreshold {
		report.Reasons = append(report.Reasons,
			fmt.Sprintf("mean confidence %.2f below approval threshold %.2f", report.MeanConfidence, g.cfg.ApprovalThreshold))
	}
	if validRate < g.cfg.MinValidRate {
		report.Reasons = append(report.Reasons,
			fmt.Sprintf("only %.0f%% of items meet completeness %.2f", validRate*100, g.cfg.MinCompleteness))
	}
	if g.cfg.MaxErrors > 0 && errorCount >= g.cfg.MaxErrors {
		report.Reasons = append(report.Reasons,
			fmt.Sprintf("error count %d reached cap %d", errorCount, g.cfg.MaxErrors))
	}

	report.Approved = len(report.Reasons) == 0
	if !report.Approved {
		report.ReviewItems = reviewSubset(products, g.cfg)
	}

	zap.L().Info("quality gate evaluated",
		zap.String("job_id", jobID),
		zap.Bool("approved", report.Approved),
		zap.Float64("mean_confidence", report.MeanConfidence),
		zap.Float64("mean_completeness", report.MeanCompleteness),
		zap.Int("review_items", len(report.ReviewItems)),
	)
	return report
}

// reviewSubset exposes the lowest-confidence products for human decision,
// worst first.
func reviewSubset(products []model.ConsolidatedProduct, cfg model.JobConfig) []model.ReviewItem {
	sorted := make([]model.ConsolidatedProduct, len(products))
	copy(sorted, products)
	sort.Slice(sorted, func(a, b int) bool {
		if sorted[a].Confidence != sorted[b].Confidence {
			return sorted[a].Confidence < sorted[b].Confidence
		}
		return sorted[a].ID < sorted[b].ID
	})

	var items []model.ReviewItem
	for _, p := range sorted {
		var reasons []string
		if p.Confidence < cfg.ApprovalThreshold {
			reasons = append(reasons, fmt.Sprintf("confidence %.2f", p.Confidence))
		}
		if p.Completeness < cfg.MinCompleteness {
			reasons = append(reasons, fmt.Sprintf("completeness %.2f", p.Completeness))
		}
		if len(reasons) == 0 {
			continue
		}
		items = append(items, model.ReviewItem{
			ProductID:    p.ID,
			Name:         p.Name,
			SKU:          p.SKU,
			Confidence:   p.Confidence,
			Completeness: p.Completeness,
			Reasons:      reasons,
		})
		if len(items) >= maxReviewItems {
			break
		}
	}
	return items
}

// ApplyDecisions applies a review round to the consolidated set: rejected
// products are removed, corrections are folded in, and accepted or
// corrected products are marked human-validated through the returned id
// set. Decisions for unknown products are ignored with a warning.
func ApplyDecisions(products []model.ConsolidatedProduct, decisions []model.ReviewDecision) ([]model.ConsolidatedProduct, map[string]bool) {
	byID := make(map[string]*model.ConsolidatedProduct, len(products))
	out := make([]model.ConsolidatedProduct, len(products))
	copy(out, products)
	for i := range out {
		byID[out[i].ID] = &out[i]
	}

	rejected := make(map[string]bool)
	validated := make(map[string]bool)

	for _, d := range decisions {
		p, ok := byID[d.ProductID]
		if !ok {
			zap.L().Warn("review decision for unknown product", zap.String("product_id", d.ProductID))
			continue
		}
		switch d.Action {
		case model.ReviewReject:
			rejected[d.ProductID] = true
		case model.ReviewCorrect:
			applyCorrections(p, d.Corrections)
			validated[d.ProductID] = true
		case model.ReviewAccept:
			validated[d.ProductID] = true
		default:
			zap.L().Warn("unknown review action",
				zap.String("product_id", d.ProductID),
				zap.String("action", string(d.Action)),
			)
		}
	}

	if len(rejected) == 0 {
		return out, validated
	}
	kept := out[:0]
	for _, p := range out {
		if !rejected[p.ID] {
			kept = append(kept, p)
		}
	}
	return kept, validated
}

func applyCorrections(p *model.ConsolidatedProduct, corrections map[string]string) {
	for field, value := range corrections {
		switch field {
		case "name":
			p.Name = value
			p.NormalizedName = normalize.NormalizeName(value)
		case "sku":
			p.SKU = value
		case "brand":
			p.Brand = value
		case "description":
			p.Description = value
		case "category":
			p.Category = value
		case "currency":
			p.Currency = value
		case "price":
			amount, currency, err := normalize.ParsePrice(value)
			if err != nil {
				zap.L().Warn("uncorrectable price", zap.String("product_id", p.ID), zap.Error(err))
				continue
			}
			p.Price = &amount
			if currency != "" {
				p.Currency = currency
			}
		case "stock":
			n, err := strconv.Atoi(value)
			if err != nil {
				zap.L().Warn("uncorrectable stock", zap.String("product_id", p.ID), zap.Error(err))
				continue
			}
			p.Stock = &n
		default:
			zap.L().Warn("correction for unknown field",
				zap.String("product_id", p.ID),
				zap.String("field", field),
			)
		}
	}
	// A human-corrected product carries full confidence.
	p.Confidence = 1.0
}
