// Package normalize maps raw extraction candidates onto the canonical
// product schema: schema inference over a sample, mapping-rule construction
// validated against a held-out sample, and per-candidate application with
// field-level validation errors. A candidate survives as long as it keeps a
// name and its source reference; a bad price costs the field, not the record.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/internal/tenant"
)

// schemaSampleSize bounds how many candidates feed schema inference; the
// same number again is held out for mapping validation.
const schemaSampleSize = 20

// completenessFields are the canonical fields counted toward completeness.
var completenessFields = []model.FieldRole{
	model.RoleName, model.RoleSKU, model.RolePrice,
	model.RoleBrand, model.RoleCategory, model.RoleImage,
}

// MappingRejectedError reports a mapping whose held-out success rate fell
// below the configured threshold. It triggers re-detection, never job
// failure.
type MappingRejectedError struct {
	SuccessRate float64
	Threshold   float64
}

func (e *MappingRejectedError) Error() string {
	return fmt.Sprintf("normalize: mapping rejected: success rate %.2f below %.2f", e.SuccessRate, e.Threshold)
}

// Report summarizes one normalization run.
type Report struct {
	Input      int
	Normalized int
	Dropped    int
	Deduped    int
	Redetected bool
	FieldError int
}

// Normalizer applies schema mapping to raw candidates.
type Normalizer struct {
	cfg model.JobConfig
}

// New creates a normalizer with the job's resolved configuration.
func New(cfg model.JobConfig) *Normalizer {
	return &Normalizer{cfg: cfg}
}

// Run normalizes a batch of raw candidates. The mapping is inferred from a
// leading sample and validated against a held-out sample; a rejected
// mapping is re-detected once over the full batch before the best available
// mapping is applied regardless (a weak mapping costs confidence downstream
// at the quality gate, not the whole job).
func (n *Normalizer) Run(ctx context.Context, candidates []model.RawCandidate) ([]model.NormalizedProduct, *Report, error) {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, nil, err
	}

	report := &Report{Input: len(candidates)}
	if len(candidates) == 0 {
		return nil, report, nil
	}

	sample, holdout := split(candidates)
	mapping := BuildMapping(DetectSchema(sample))

	if err := ValidateMapping(mapping, holdout, n.cfg.MappingMinSuccess); err != nil {
		var rejected *MappingRejectedError
		if !errors.As(err, &rejected) {
			return nil, nil, err
		}
		zap.L().Info("schema mapping rejected, re-detecting over full batch",
			zap.Float64("success_rate", rejected.SuccessRate),
			zap.Float64("threshold", rejected.Threshold),
		)
		report.Redetected = true
		mapping = BuildMapping(DetectSchema(candidates))
		if err := ValidateMapping(mapping, holdout, n.cfg.MappingMinSuccess); err != nil {
			zap.L().Warn("re-detected mapping still below threshold, applying best effort", zap.Error(err))
		}
	}

	// Exact duplicates within one source collapse here, before cross-source
	// consolidation; scanned catalogs repeat rows across page boundaries.
	seen := make(map[string]bool, len(candidates))
	products := make([]model.NormalizedProduct, 0, len(candidates))
	for _, cand := range candidates {
		p, ok := Apply(cand, mapping, tid)
		if !ok {
			report.Dropped++
			continue
		}
		key := cand.Source.SourceID + "\x00" + p.NormalizedName + "\x00" + p.SKU
		if seen[key] {
			report.Deduped++
			continue
		}
		seen[key] = true
		report.FieldError += len(p.FieldErrors)
		products = append(products, *p)
	}
	report.Normalized = len(products)
	return products, report, nil
}

func split(candidates []model.RawCandidate) (sample, holdout []model.RawCandidate) {
	if len(candidates) <= schemaSampleSize {
		return candidates, candidates
	}
	sample = candidates[:schemaSampleSize]
	end := 2 * schemaSampleSize
	if end > len(candidates) {
		end = len(candidates)
	}
	return sample, candidates[schemaSampleSize:end]
}

// ValidateMapping applies the mapping to a held-out sample and rejects it
// when the application success rate falls below minSuccess.
func ValidateMapping(m Mapping, holdout []model.RawCandidate, minSuccess float64) error {
	if len(holdout) == 0 {
		return nil
	}
	ok := 0
	for _, cand := range holdout {
		if _, applied := Apply(cand, m, "validation"); applied {
			ok++
		}
	}
	rate := float64(ok) / float64(len(holdout))
	if rate < minSuccess {
		return &MappingRejectedError{SuccessRate: rate, Threshold: minSuccess}
	}
	return nil
}

// Apply projects one raw candidate through the mapping. Returns false when
// the result lacks the minimum field set (a name plus its source
// reference); per-field coercion failures land in FieldErrors instead of
// discarding the candidate.
func Apply(cand model.RawCandidate, m Mapping, tenantID string) (*model.NormalizedProduct, bool) {
	p := &model.NormalizedProduct{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Sources:     []model.SourceRef{cand.Source},
		Confidence:  clamp01(cand.Confidence),
		ExtractedAt: time.Now().UTC(),
	}

	for rawField, value := range cand.Fields {
		role, ok := m.Role(rawField)
		if !ok {
			continue
		}
		switch role {
		case model.RoleName:
			p.Name = value
		case model.RoleSKU:
			p.SKU = value
		case model.RoleBrand:
			p.Brand = value
		case model.RoleCategory:
			p.Category = value
		case model.RoleDescription:
			p.Description = value
		case model.RoleImage:
			p.Images = append(p.Images, value)
		case model.RolePrice:
			amount, currency, err := ParsePrice(value)
			if err != nil {
				p.FieldErrors = append(p.FieldErrors, fmt.Sprintf("price: %s", err))
				continue
			}
			p.Price = &amount
			if currency != "" {
				p.Currency = currency
			}
		case model.RoleStock:
			count, err := ParseStock(value)
			if err != nil {
				p.FieldErrors = append(p.FieldErrors, fmt.Sprintf("stock: %s", err))
				continue
			}
			p.Stock = &count
		}
	}

	if p.Name == "" || cand.Source.SourceID == "" {
		return nil, false
	}
	p.NormalizedName = NormalizeName(p.Name)
	p.Completeness = completeness(p)
	return p, true
}

func completeness(p *model.NormalizedProduct) float64 {
	filled := 0
	for _, role := range completenessFields {
		switch role {
		case model.RoleName:
			if p.Name != "" {
				filled++
			}
		case model.RoleSKU:
			if p.SKU != "" {
				filled++
			}
		case model.RolePrice:
			if p.Price != nil {
				filled++
			}
		case model.RoleBrand:
			if p.Brand != "" {
				filled++
			}
		case model.RoleCategory:
			if p.Category != "" {
				filled++
			}
		case model.RoleImage:
			if len(p.Images) > 0 {
				filled++
			}
		}
	}
	return float64(filled) / float64(len(completenessFields))
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
