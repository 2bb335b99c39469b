// Package recognize turns raw page content into RawCandidates through a
// multi-pass pipeline: structural (locate repeating record regions),
// content (field extraction with per-field confidence), consensus (second
// engine on low-clarity regions), and assembly (one candidate per record).
// Passes are independent; a region that fails is dropped and counted, never
// fatal to the page or the job.
package recognize

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-engine/internal/adapter"
	"github.com/sells-group/catalog-engine/internal/config"
	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/internal/pattern"
	"github.com/sells-group/catalog-engine/pkg/recognizer"
)

// maxRegionChars caps how much of a region is sent to the recognition
// capability in one request.
const maxRegionChars = 12000

// extractionRoles is the field set requested from every pass.
var extractionRoles = []model.FieldRole{
	model.RoleName, model.RolePrice, model.RoleSKU, model.RoleBrand,
	model.RoleCategory, model.RoleDescription, model.RoleImage, model.RoleStock,
}

// PageResult is the outcome of recognizing one page.
type PageResult struct {
	Candidates []model.RawCandidate
	// Dropped counts regions that yielded zero non-empty fields after all
	// passes, or failed mid-pipeline.
	Dropped int
	// Learned holds patterns promoted while processing this page.
	Learned []model.SourcePattern
	// Errors holds per-region failure messages; they accumulate on the job
	// and never abort it.
	Errors []string
	// UsedPattern reports whether stored patterns produced the candidates
	// (no recognition capability call was needed).
	UsedPattern bool
}

// Pipeline runs the recognition passes over pages. Safe for concurrent use
// by parallel source tasks.
type Pipeline struct {
	rec      recognizer.Client
	patterns *pattern.Repository
	learner  *pattern.Learner
	cfg      config.RecognizerConfig

	mu           sync.Mutex
	learnDone    map[string]bool
	learnSamples map[string][]string
}

// NewPipeline creates the recognition pipeline. The learner may be nil, in
// which case pattern detection is skipped.
func NewPipeline(rec recognizer.Client, patterns *pattern.Repository, learner *pattern.Learner, cfg config.RecognizerConfig) *Pipeline {
	return &Pipeline{
		rec:          rec,
		patterns:     patterns,
		learner:      learner,
		cfg:          cfg,
		learnDone:    make(map[string]bool),
		learnSamples: make(map[string][]string),
	}
}

// RecognizePage extracts RawCandidates from one page. basePos is the
// discovery-order offset of this page within its source; positions assigned
// to candidates continue from it so source order is preserved.
func (p *Pipeline) RecognizePage(ctx context.Context, ref model.SourceRef, page *adapter.Page, basePos int) (*PageResult, error) {
	if page == nil {
		return &PageResult{}, nil
	}
	ref.Locator = page.Locator

	// Feed pages arrive pre-structured and skip recognition entirely.
	if len(page.Records) > 0 {
		return p.fromRecords(ref, page.Records, basePos), nil
	}
	if strings.TrimSpace(page.Content) == "" {
		return &PageResult{}, nil
	}

	// Structural pass, patterned path: when stored patterns cover the page
	// they produce candidates directly.
	if p.patterns != nil {
		candidates, used, err := p.patterned(ctx, ref, page.Content, basePos)
		if err != nil {
			return nil, err
		}
		if used {
			return &PageResult{Candidates: candidates, UsedPattern: true}, nil
		}
	}

	res := &PageResult{}
	if ref.SourceType == model.SourceTypeWeb {
		res.Learned = p.maybeLearn(ctx, ref.Origin, page.Content)
	}

	// Structural pass, heuristic path: split the page into candidate record
	// regions and run the content pass per region.
	pos := basePos
	for _, region := range splitRegions(page.Content, defaultHint(ref.SourceType)) {
		if parsed, ok := parseTableRegion(region); ok {
			for _, fields := range parsed {
				if cand, ok := assemble(ref, fields, tableConfidence(fields), pos); ok {
					res.Candidates = append(res.Candidates, cand)
					pos++
				} else {
					res.Dropped++
				}
			}
			continue
		}

		// Scanned price lists with dotted "NAME ... $PRICE" rows parse
		// locally; everything else needs the recognition capability.
		if region.Hint == "scanned" {
			if rows := parseProductLines(region.Content); rows != nil {
				for _, fields := range rows {
					if cand, ok := assemble(ref, fields, lineConfidence(fields), pos); ok {
						res.Candidates = append(res.Candidates, cand)
						pos++
					} else {
						res.Dropped++
					}
				}
				continue
			}
		}

		records, err := p.recognizeRegion(ctx, region)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			res.Dropped++
			res.Errors = append(res.Errors, eris.ToString(err, false))
			zap.L().Warn("region recognition failed",
				zap.String("source_id", ref.SourceID),
				zap.String("locator", ref.Locator),
				zap.Error(err),
			)
			continue
		}

		yielded := false
		for _, rec := range records {
			if cand, ok := assemble(ref, rec.Fields, rec.Confidence, pos); ok {
				res.Candidates = append(res.Candidates, cand)
				pos++
				yielded = true
			}
		}
		if !yielded {
			res.Dropped++
		}
	}
	return res, nil
}

// fromRecords converts pre-structured feed records into candidates with
// full confidence on every field.
func (p *Pipeline) fromRecords(ref model.SourceRef, records []map[string]string, basePos int) *PageResult {
	res := &PageResult{}
	pos := basePos
	for _, rec := range records {
		conf := make(map[string]float64, len(rec))
		for k := range rec {
			conf[k] = 1.0
		}
		if cand, ok := assemble(ref, rec, conf, pos); ok {
			res.Candidates = append(res.Candidates, cand)
			pos++
		} else {
			res.Dropped++
		}
	}
	return res
}

// patterned applies stored per-role patterns when the origin has a usable
// name pattern. Each applied pattern's outcome feeds back into its success
// rate. Returns (candidates, true) when the patterned path produced output.
func (p *Pipeline) patterned(ctx context.Context, ref model.SourceRef, content string, basePos int) ([]model.RawCandidate, bool, error) {
	type roleValues struct {
		pat    *model.SourcePattern
		values []string
	}

	byRole := make(map[model.FieldRole]roleValues)
	for _, role := range extractionRoles {
		pat, err := p.patterns.Get(ctx, ref.Origin, role)
		if err != nil {
			return nil, false, err
		}
		if !p.patterns.Usable(pat) {
			continue
		}
		byRole[role] = roleValues{pat: pat, values: pattern.Extract(pat, content)}
	}

	names, ok := byRole[model.RoleName]
	if !ok {
		return nil, false, nil
	}

	for role, rv := range byRole {
		if _, err := p.patterns.RecordOutcome(ctx, rv.pat, len(rv.values) > 0); err != nil {
			zap.L().Warn("pattern outcome not recorded",
				zap.String("origin", ref.Origin),
				zap.String("role", string(role)),
				zap.Error(err),
			)
		}
	}
	if len(names.values) == 0 {
		// The stored name pattern matched nothing on this page; fall back
		// to the heuristic path rather than yielding an empty result.
		return nil, false, nil
	}

	var candidates []model.RawCandidate
	for i, name := range names.values {
		fields := map[string]string{string(model.RoleName): name}
		conf := map[string]float64{string(model.RoleName): patternConfidence(names.pat)}
		for role, rv := range byRole {
			if role == model.RoleName || i >= len(rv.values) {
				continue
			}
			fields[string(role)] = rv.values[i]
			conf[string(role)] = patternConfidence(rv.pat)
		}
		if cand, ok := assemble(ref, fields, conf, basePos+len(candidates)); ok {
			candidates = append(candidates, cand)
		}
	}
	return candidates, len(candidates) > 0, nil
}

func patternConfidence(p *model.SourcePattern) float64 {
	if p.TimesUsed > 0 {
		return p.SuccessRate
	}
	if p.Confidence > 0 {
		return p.Confidence
	}
	return 0.8
}

// maybeLearn runs pattern detection for an origin. The detection sample
// grows with each page seen; detection re-runs until a pattern is promoted
// or the configured number of pages has been sampled. Detection failures
// are logged and swallowed; the heuristic path still processes the page.
func (p *Pipeline) maybeLearn(ctx context.Context, origin, content string) []model.SourcePattern {
	if p.learner == nil {
		return nil
	}

	p.mu.Lock()
	if p.learnDone[origin] {
		p.mu.Unlock()
		return nil
	}
	p.learnSamples[origin] = append(p.learnSamples[origin], content)
	sample := strings.Join(p.learnSamples[origin], "\n\n")
	if len(p.learnSamples[origin]) >= p.learner.SampleLimit() {
		p.learnDone[origin] = true
		delete(p.learnSamples, origin)
	}
	p.mu.Unlock()

	learned, err := p.learner.Detect(ctx, origin, sample, []model.FieldRole{
		model.RoleName, model.RolePrice, model.RoleImage, model.RoleLink,
	})
	if err != nil {
		zap.L().Warn("pattern detection failed", zap.String("origin", origin), zap.Error(err))
		return nil
	}
	if len(learned) > 0 {
		p.mu.Lock()
		p.learnDone[origin] = true
		delete(p.learnSamples, origin)
		p.mu.Unlock()
	}
	return learned
}

// recognizeRegion runs the content pass and, when the region is low-clarity
// and a second engine is configured, the consensus pass.
func (p *Pipeline) recognizeRegion(ctx context.Context, region Region) ([]recognizer.RecordFields, error) {
	roles := make([]string, len(extractionRoles))
	for i, r := range extractionRoles {
		roles[i] = string(r)
	}
	req := recognizer.FieldRequest{
		Content: clip(region.Content, maxRegionChars),
		Roles:   roles,
		Hint:    region.Hint,
	}

	first, err := p.rec.RecognizeFields(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "recognize: content pass")
	}
	if p.cfg.SecondPassModel == "" || first.Clarity >= p.cfg.ClarityFloor {
		return first.Records, nil
	}

	req.Model = p.cfg.SecondPassModel
	second, err := p.rec.RecognizeFields(ctx, req)
	if err != nil {
		// A failed second engine falls back to the single-engine output.
		zap.L().Warn("consensus pass failed", zap.String("model", p.cfg.SecondPassModel), zap.Error(err))
		return first.Records, nil
	}

	zap.L().Debug("consensus pass applied",
		zap.Float64("clarity", first.Clarity),
		zap.String("engines", first.Engine+"+"+second.Engine),
	)
	return mergeConsensus(first, second), nil
}

// mergeConsensus combines two engines' outputs per record: fields agreeing
// on normalized text are kept at their higher confidence; disagreements fall
// back to the higher-confidence single value. Records present in only one
// output are kept as-is.
func mergeConsensus(a, b *recognizer.FieldResult) []recognizer.RecordFields {
	longer, shorter := a.Records, b.Records
	if len(b.Records) > len(a.Records) {
		longer, shorter = b.Records, a.Records
	}

	merged := make([]recognizer.RecordFields, 0, len(longer))
	for i, rec := range longer {
		if i >= len(shorter) {
			merged = append(merged, rec)
			continue
		}
		other := shorter[i]

		out := recognizer.RecordFields{
			Fields:     make(map[string]string),
			Confidence: make(map[string]float64),
		}
		for key := range union(rec.Fields, other.Fields) {
			va, ca := rec.Fields[key], rec.Confidence[key]
			vb, cb := other.Fields[key], other.Confidence[key]

			switch {
			case va == "":
				out.Fields[key], out.Confidence[key] = vb, cb
			case vb == "":
				out.Fields[key], out.Confidence[key] = va, ca
			case normText(va) == normText(vb):
				// Agreement: keep the better-scored rendering.
				if cb > ca {
					va, ca = vb, cb
				}
				out.Fields[key], out.Confidence[key] = va, ca
			case cb > ca:
				out.Fields[key], out.Confidence[key] = vb, cb
			default:
				out.Fields[key], out.Confidence[key] = va, ca
			}
		}
		merged = append(merged, out)
	}
	return merged
}

func union(a, b map[string]string) map[string]struct{} {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	return keys
}

// normText normalizes a value for agreement comparison: lowercase with
// collapsed whitespace.
func normText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// assemble builds one RawCandidate from field outputs, carrying the minimum
// field confidence as the candidate confidence. Returns false when every
// field is empty.
func assemble(ref model.SourceRef, fields map[string]string, conf map[string]float64, pos int) (model.RawCandidate, bool) {
	clean := make(map[string]string, len(fields))
	for k, v := range fields {
		if v = strings.TrimSpace(v); v != "" {
			clean[k] = v
		}
	}
	if len(clean) == 0 {
		return model.RawCandidate{}, false
	}

	fieldConf := make(map[string]float64, len(clean))
	for k := range clean {
		c, ok := conf[k]
		if !ok {
			// A field the engine returned without scoring gets a neutral
			// confidence rather than zeroing the whole candidate.
			c = 0.5
		}
		fieldConf[k] = clamp01(c)
	}

	minConf := 1.0
	for _, c := range fieldConf {
		if c < minConf {
			minConf = c
		}
	}

	return model.RawCandidate{
		Source:          ref,
		Fields:          clean,
		FieldConfidence: fieldConf,
		Confidence:      minConf,
		Position:        pos,
	}, true
}

func tableConfidence(fields map[string]string) map[string]float64 {
	conf := make(map[string]float64, len(fields))
	for k := range fields {
		conf[k] = 0.9
	}
	return conf
}

// lineConfidence scores heuristic product-line matches below table parses:
// the layout is inferred, not declared.
func lineConfidence(fields map[string]string) map[string]float64 {
	conf := make(map[string]float64, len(fields))
	for k := range fields {
		conf[k] = 0.75
	}
	return conf
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

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
