// Package consolidate deduplicates and merges normalized products into the
// tenant's canonical catalog. Matching is exact on (tenant, sku) first,
// then fuzzy by weighted token-set similarity with union-find clustering;
// merges resolve field conflicts by configured source priority and are
// fully deterministic: the same inputs always produce the same output,
// independent of arrival order.
package consolidate

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/internal/tenant"
)

const mergeStrategy = "source_priority"

// ConfigError reports a merge configuration that cannot resolve conflicts:
// a source type in play has no position in the priority order. Surfaced as
// a job-level fault, never papered over with an arbitrary winner.
type ConfigError struct {
	SourceType model.SourceType
}

func (e *ConfigError) Error() string {
	return "consolidate: no source priority configured for " + string(e.SourceType)
}

// Result is the output of one consolidation run.
type Result struct {
	Products []model.ConsolidatedProduct
	Records  []model.ConsolidationRecord
}

// Engine consolidates one tenant's working set.
type Engine struct {
	cfg model.JobConfig
}

// New creates a consolidation engine with the job's resolved configuration.
func New(cfg model.JobConfig) *Engine {
	return &Engine{cfg: cfg}
}

// item is the internal clustering participant: either a normalized product
// from this batch or a previously consolidated record being folded into.
type item struct {
	id          string
	key         string
	sku         string
	name        string
	normName    string
	brand       string
	description string
	category    string
	currency    string
	price       *model.FixedPoint
	stock       *int
	images      []string
	sources     []model.SourceRef
	confidence  float64
	rank        int // source-priority rank, lower wins
	existing    bool
	createdAt   time.Time
}

// Run clusters and merges the batch together with previously consolidated
// records for the same tenant. All inputs must belong to the ambient
// tenant; a mismatch is an isolation violation and fails the job.
func (e *Engine) Run(ctx context.Context, jobID string, batch []model.NormalizedProduct, existing []model.ConsolidatedProduct) (*Result, error) {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	priority := e.cfg.SourcePriority
	if len(priority) == 0 {
		priority = []model.SourceType{model.SourceTypeDocument, model.SourceTypeWeb, model.SourceTypeFeed}
	}

	ranked := make(map[model.SourceType]bool, len(priority))
	for _, t := range priority {
		ranked[t] = true
	}

	items := make([]item, 0, len(batch)+len(existing))
	for i := range batch {
		if err := tenant.Guard("consolidate batch", tid, batch[i].TenantID); err != nil {
			return nil, err
		}
		for _, src := range batch[i].Sources {
			if !ranked[src.SourceType] {
				return nil, &ConfigError{SourceType: src.SourceType}
			}
		}
		items = append(items, fromNormalized(&batch[i], priority))
	}
	for i := range existing {
		if err := tenant.Guard("consolidate existing", tid, existing[i].TenantID); err != nil {
			return nil, err
		}
		items = append(items, fromConsolidated(&existing[i], priority))
	}
	if len(items) == 0 {
		return &Result{}, nil
	}

	// Deterministic base order before clustering.
	sort.Slice(items, func(a, b int) bool {
		if items[a].normName != items[b].normName {
			return items[a].normName < items[b].normName
		}
		return items[a].id < items[b].id
	})

	uf := newUnionFind(len(items))

	// Exact pass: identical non-empty SKUs always merge.
	bySKU := make(map[string]int)
	for i, it := range items {
		if it.sku == "" {
			continue
		}
		if first, ok := bySKU[it.sku]; ok {
			uf.union(first, i)
		} else {
			bySKU[it.sku] = i
		}
	}

	// Fuzzy pass: similarity above the threshold merges, except across two
	// distinct explicit SKUs.
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			if items[i].sku != "" && items[j].sku != "" && items[i].sku != items[j].sku {
				continue
			}
			if uf.find(i) == uf.find(j) {
				continue
			}
			if similarity(items[i], items[j]) >= e.cfg.FuzzyMergeThreshold {
				uf.union(i, j)
			}
		}
	}

	clusters := make(map[int][]item)
	for i, it := range items {
		root := uf.find(i)
		clusters[root] = append(clusters[root], it)
	}
	roots := make([]int, 0, len(clusters))
	for root := range clusters {
		roots = append(roots, root)
	}
	sort.Ints(roots)

	result := &Result{}
	for _, root := range roots {
		product, record := mergeCluster(tid, jobID, clusters[root])
		result.Products = append(result.Products, product)
		if record != nil {
			result.Records = append(result.Records, *record)
		}
	}

	zap.L().Info("consolidation complete",
		zap.String("job_id", jobID),
		zap.Int("input", len(batch)),
		zap.Int("existing", len(existing)),
		zap.Int("consolidated", len(result.Products)),
		zap.Int("merges", len(result.Records)),
	)
	return result, nil
}

func fromNormalized(p *model.NormalizedProduct, priority []model.SourceType) item {
	return item{
		id:          p.ID,
		sku:         p.SKU,
		name:        p.Name,
		normName:    p.NormalizedName,
		brand:       p.Brand,
		description: p.Description,
		category:    p.Category,
		currency:    p.Currency,
		price:       p.Price,
		stock:       p.Stock,
		images:      p.Images,
		sources:     p.Sources,
		confidence:  p.Confidence,
		rank:        bestRank(p.Sources, priority),
	}
}

func fromConsolidated(p *model.ConsolidatedProduct, priority []model.SourceType) item {
	return item{
		id:          p.ID,
		key:         p.Key,
		sku:         p.SKU,
		name:        p.Name,
		normName:    p.NormalizedName,
		brand:       p.Brand,
		description: p.Description,
		category:    p.Category,
		currency:    p.Currency,
		price:       p.Price,
		stock:       p.Stock,
		images:      p.Images,
		sources:     p.Sources,
		confidence:  p.Confidence,
		rank:        bestRank(p.Sources, priority),
		existing:    true,
		createdAt:   p.CreatedAt,
	}
}

func bestRank(sources []model.SourceRef, priority []model.SourceType) int {
	best := len(priority)
	for _, s := range sources {
		for i, t := range priority {
			if s.SourceType == t && i < best {
				best = i
			}
		}
	}
	return best
}

// mergeCluster resolves one cluster into a single product. Members are
// ordered by source-priority rank, then normalized name, then id, so the
// outcome never depends on arrival order.
func mergeCluster(tenantID, jobID string, members []item) (model.ConsolidatedProduct, *model.ConsolidationRecord) {
	sort.Slice(members, func(a, b int) bool {
		if members[a].rank != members[b].rank {
			return members[a].rank < members[b].rank
		}
		if members[a].normName != members[b].normName {
			return members[a].normName < members[b].normName
		}
		return members[a].id < members[b].id
	})

	now := time.Now().UTC()
	out := model.ConsolidatedProduct{
		TenantID:  tenantID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var resolutions []model.FieldResolution
	pickField := func(field string, get func(item) string, set func(string)) {
		winner, res := pick(field, members, get)
		if winner != "" {
			set(winner)
		}
		if res != nil {
			resolutions = append(resolutions, *res)
		}
	}

	pickField("name", func(it item) string { return it.name }, func(v string) { out.Name = v })
	pickField("sku", func(it item) string { return it.sku }, func(v string) { out.SKU = v })
	pickField("brand", func(it item) string { return it.brand }, func(v string) { out.Brand = v })
	pickField("description", func(it item) string { return it.description }, func(v string) { out.Description = v })
	pickField("category", func(it item) string { return it.category }, func(v string) { out.Category = v })
	pickField("currency", func(it item) string { return it.currency }, func(v string) { out.Currency = v })

	pickField("price", func(it item) string {
		if it.price == nil {
			return ""
		}
		return it.price.String()
	}, func(string) {})
	for _, it := range members {
		if it.price != nil {
			p := *it.price
			out.Price = &p
			break
		}
	}
	for _, it := range members {
		if it.stock != nil {
			s := *it.stock
			out.Stock = &s
			break
		}
	}

	out.NormalizedName = members[0].normName
	for _, it := range members {
		if it.name == out.Name && it.normName != "" {
			out.NormalizedName = it.normName
			break
		}
	}

	seenImg := make(map[string]bool)
	seenSrc := make(map[string]bool)
	total := 0.0
	for _, it := range members {
		for _, img := range it.images {
			if !seenImg[img] {
				seenImg[img] = true
				out.Images = append(out.Images, img)
			}
		}
		for _, src := range it.sources {
			k := src.SourceID + "|" + src.Locator
			if !seenSrc[k] {
				seenSrc[k] = true
				out.Sources = append(out.Sources, src)
			}
		}
		out.MergedFrom = append(out.MergedFrom, it.id)
		total += it.confidence
		if it.existing {
			out.ID = it.id
			out.Key = it.key
			out.CreatedAt = it.createdAt
		}
	}
	sort.Strings(out.MergedFrom)
	out.Confidence = total / float64(len(members))
	out.Completeness = completeness(&out)

	if out.Key == "" {
		out.Key = out.SKU
		if out.Key == "" {
			out.Key = out.NormalizedName
		}
	}
	if out.ID == "" {
		out.ID = productID(tenantID, out.Key)
	}

	if len(members) < 2 {
		return out, nil
	}

	subsumed := make([]string, 0, len(members))
	for _, it := range members {
		if it.id != out.ID {
			subsumed = append(subsumed, it.id)
		}
	}
	sort.Strings(subsumed)

	record := &model.ConsolidationRecord{
		ID:          mergeID(jobID, out.ID, subsumed),
		TenantID:    tenantID,
		JobID:       jobID,
		MasterID:    out.ID,
		SubsumedIDs: subsumed,
		Strategy:    mergeStrategy,
		Resolutions: resolutions,
		Confidence:  out.Confidence,
		CreatedAt:   now,
	}
	return out, record
}

// pick walks priority-ordered members and returns the first non-empty
// value; differing losing values are captured as a resolution.
func pick(field string, members []item, get func(item) string) (string, *model.FieldResolution) {
	winner := ""
	winnerSrc := ""
	losing := make(map[string]string)

	for _, it := range members {
		v := strings.TrimSpace(get(it))
		if v == "" {
			continue
		}
		if winner == "" {
			winner = v
			winnerSrc = sourceLabel(it)
			continue
		}
		if v != winner {
			losing[sourceLabel(it)] = v
		}
	}

	if len(losing) == 0 {
		return winner, nil
	}
	return winner, &model.FieldResolution{
		Field:         field,
		WinningSource: winnerSrc,
		WinningValue:  winner,
		LosingValues:  losing,
	}
}

func sourceLabel(it item) string {
	if len(it.sources) > 0 {
		return it.sources[0].SourceID
	}
	return it.id
}

func completeness(p *model.ConsolidatedProduct) float64 {
	filled := 0
	if p.Name != "" {
		filled++
	}
	if p.SKU != "" {
		filled++
	}
	if p.Price != nil {
		filled++
	}
	if p.Brand != "" {
		filled++
	}
	if p.Category != "" {
		filled++
	}
	if len(p.Images) > 0 {
		filled++
	}
	return float64(filled) / 6
}

// productID derives a stable id from (tenant, key) so re-running
// consolidation over the same inputs never mints a second identity.
func productID(tenantID, key string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("catalog:product:"+tenantID+":"+key)).String()
}

func mergeID(jobID, masterID string, subsumed []string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("catalog:merge:"+jobID+":"+masterID+":"+strings.Join(subsumed, ","))).String()
}
