package recognize

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-engine/internal/adapter"
	"github.com/sells-group/catalog-engine/internal/config"
	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/internal/pattern"
	"github.com/sells-group/catalog-engine/internal/store"
	"github.com/sells-group/catalog-engine/internal/tenant"
	"github.com/sells-group/catalog-engine/pkg/recognizer"
)

type stubRecognizer struct {
	results   []*recognizer.FieldResult
	err       error
	requests  []recognizer.FieldRequest
	proposals *recognizer.SelectorProposal
}

func (s *stubRecognizer) RecognizeFields(ctx context.Context, req recognizer.FieldRequest) (*recognizer.FieldResult, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.results) == 0 {
		return &recognizer.FieldResult{Clarity: 1}, nil
	}
	res := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return res, nil
}

func (s *stubRecognizer) ProposeSelectors(ctx context.Context, req recognizer.SelectorRequest) (*recognizer.SelectorProposal, error) {
	if s.proposals != nil {
		return s.proposals, nil
	}
	return &recognizer.SelectorProposal{}, nil
}

func webRef() model.SourceRef {
	return model.SourceRef{SourceID: "src-1", SourceType: model.SourceTypeWeb, Origin: "shop.example.com"}
}

func recognizerCfg() config.RecognizerConfig {
	return config.RecognizerConfig{ClarityFloor: 0.5}
}

func TestPipelineFeedRecordsSkipRecognition(t *testing.T) {
	rec := &stubRecognizer{}
	p := NewPipeline(rec, nil, nil, recognizerCfg())

	page := &adapter.Page{Number: 1, Locator: "rows 0-1", Records: []map[string]string{
		{"name": "Widget", "price": "9.99"},
		{"name": "", "sku": "  "},
		{"name": "Gadget"},
	}}
	ref := model.SourceRef{SourceID: "feed-1", SourceType: model.SourceTypeFeed, Origin: "feed.csv"}

	res, err := p.RecognizePage(context.Background(), ref, page, 10)
	require.NoError(t, err)

	require.Len(t, res.Candidates, 2)
	assert.Equal(t, 1, res.Dropped) // the all-empty record
	assert.Empty(t, rec.requests)

	first := res.Candidates[0]
	assert.Equal(t, "Widget", first.Fields["name"])
	assert.Equal(t, 1.0, first.Confidence)
	assert.Equal(t, 10, first.Position)
	assert.Equal(t, "rows 0-1", first.Source.Locator)
	assert.Equal(t, 11, res.Candidates[1].Position)
}

func TestPipelineParsesSpanishTableLocally(t *testing.T) {
	rec := &stubRecognizer{}
	p := NewPipeline(rec, nil, nil, recognizerCfg())

	content := "Catálogo de productos\n\n" +
		"| Producto | Precio | Código | Existencia |\n" +
		"|----------|--------|--------|------------|\n" +
		"| Taladro industrial | $1,299.00 | TAL-01 | 14 |\n" +
		"| Sierra circular | $899.50 | SIE-22 | 3 |\n"

	page := &adapter.Page{Number: 1, Locator: "page 1", Content: content}
	ref := model.SourceRef{SourceID: "doc-1", SourceType: model.SourceTypeDocument, Origin: "catalog.pdf"}

	res, err := p.RecognizePage(context.Background(), ref, page, 0)
	require.NoError(t, err)

	require.Len(t, res.Candidates, 2)
	assert.Empty(t, rec.requests) // parsed locally, no capability call

	c := res.Candidates[0]
	assert.Equal(t, "Taladro industrial", c.Fields["name"])
	assert.Equal(t, "$1,299.00", c.Fields["price"])
	assert.Equal(t, "TAL-01", c.Fields["sku"])
	assert.Equal(t, "14", c.Fields["stock"])
	assert.InDelta(t, 0.9, c.Confidence, 0.001)
}

func TestPipelineContentPassAssemblesCandidates(t *testing.T) {
	rec := &stubRecognizer{results: []*recognizer.FieldResult{{
		Records: []recognizer.RecordFields{
			{
				Fields:     map[string]string{"name": "Widget", "price": "$10.00"},
				Confidence: map[string]float64{"name": 0.95, "price": 0.7},
			},
			{Fields: map[string]string{"name": "   "}},
		},
		Clarity: 0.9,
	}}}
	p := NewPipeline(rec, nil, nil, recognizerCfg())

	page := &adapter.Page{Number: 1, Locator: "page 3", Content: "Widget $10.00 great value"}
	ref := model.SourceRef{SourceID: "doc-1", SourceType: model.SourceTypeDocument, Origin: "catalog.pdf"}

	res, err := p.RecognizePage(context.Background(), ref, page, 0)
	require.NoError(t, err)

	require.Len(t, rec.requests, 1)
	assert.Equal(t, "scanned", rec.requests[0].Hint)

	require.Len(t, res.Candidates, 1)
	c := res.Candidates[0]
	// Candidate confidence is the minimum field confidence.
	assert.InDelta(t, 0.7, c.Confidence, 0.001)
	assert.Equal(t, "page 3", c.Source.Locator)
}

func TestPipelineDropsFailedRegions(t *testing.T) {
	rec := &stubRecognizer{err: errors.New("engine unavailable")}
	p := NewPipeline(rec, nil, nil, recognizerCfg())

	page := &adapter.Page{Number: 1, Locator: "page 1", Content: "Widget $10.00"}
	ref := model.SourceRef{SourceID: "doc-1", SourceType: model.SourceTypeDocument, Origin: "catalog.pdf"}

	res, err := p.RecognizePage(context.Background(), ref, page, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
	assert.Equal(t, 1, res.Dropped)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "engine unavailable")
}

func TestPipelineConsensusOnLowClarity(t *testing.T) {
	first := &recognizer.FieldResult{
		Records: []recognizer.RecordFields{{
			Fields:     map[string]string{"name": "TALADRO  Industrial", "price": "$1,299.00", "sku": "TAL-O1"},
			Confidence: map[string]float64{"name": 0.6, "price": 0.9, "sku": 0.4},
		}},
		Clarity: 0.3,
		Engine:  "primary",
	}
	second := &recognizer.FieldResult{
		Records: []recognizer.RecordFields{{
			Fields:     map[string]string{"name": "Taladro Industrial", "price": "$1,299.00", "sku": "TAL-01"},
			Confidence: map[string]float64{"name": 0.8, "price": 0.85, "sku": 0.7},
		}},
		Clarity: 0.8,
		Engine:  "secondary",
	}
	rec := &stubRecognizer{results: []*recognizer.FieldResult{first, second}}

	cfg := recognizerCfg()
	cfg.SecondPassModel = "second-engine"
	p := NewPipeline(rec, nil, nil, cfg)

	page := &adapter.Page{Number: 1, Locator: "page 1", Content: "scan text $1,299.00"}
	ref := model.SourceRef{SourceID: "doc-1", SourceType: model.SourceTypeDocument, Origin: "scan.pdf"}

	res, err := p.RecognizePage(context.Background(), ref, page, 0)
	require.NoError(t, err)

	require.Len(t, rec.requests, 2)
	assert.Empty(t, rec.requests[0].Model)
	assert.Equal(t, "second-engine", rec.requests[1].Model)

	require.Len(t, res.Candidates, 1)
	c := res.Candidates[0]
	// Names agree after normalization: the higher-confidence rendering wins.
	assert.Equal(t, "Taladro Industrial", c.Fields["name"])
	assert.InDelta(t, 0.8, c.FieldConfidence["name"], 0.001)
	// SKUs disagree: the higher-confidence engine wins outright.
	assert.Equal(t, "TAL-01", c.Fields["sku"])
}

func TestPipelineConsensusSkippedOnHighClarity(t *testing.T) {
	rec := &stubRecognizer{results: []*recognizer.FieldResult{{
		Records: []recognizer.RecordFields{{
			Fields:     map[string]string{"name": "Widget"},
			Confidence: map[string]float64{"name": 0.9},
		}},
		Clarity: 0.95,
	}}}

	cfg := recognizerCfg()
	cfg.SecondPassModel = "second-engine"
	p := NewPipeline(rec, nil, nil, cfg)

	page := &adapter.Page{Number: 1, Locator: "page 1", Content: "Widget $5"}
	ref := model.SourceRef{SourceID: "doc-1", SourceType: model.SourceTypeDocument, Origin: "scan.pdf"}

	_, err := p.RecognizePage(context.Background(), ref, page, 0)
	require.NoError(t, err)
	assert.Len(t, rec.requests, 1)
}

func TestPipelinePatternedExtraction(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "recognize.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	repo := pattern.NewRepository(st, config.PatternConfig{MinSuccessRate: 0.5, MinUses: 5, StaleAfter: 3}, nil)
	ctx := tenant.WithID(context.Background(), "acme")

	for role, selector := range map[model.FieldRole]string{
		model.RoleName:  `^## (.+)$`,
		model.RolePrice: `\$\s?([0-9][0-9,.]*)`,
	} {
		require.NoError(t, repo.Save(ctx, &model.SourcePattern{
			Origin:     "shop.example.com",
			Role:       role,
			Selector:   selector,
			Confidence: 0.9,
			CreatedAt:  time.Now().UTC(),
		}))
	}

	rec := &stubRecognizer{}
	p := NewPipeline(rec, repo, nil, recognizerCfg())

	content := "## Taladro industrial\n$ 1,299.00\n\n## Sierra circular\n$ 899.50\n"
	page := &adapter.Page{Number: 1, Locator: "https://shop.example.com/catalog", Content: content}

	res, err := p.RecognizePage(ctx, webRef(), page, 0)
	require.NoError(t, err)

	assert.True(t, res.UsedPattern)
	assert.Empty(t, rec.requests) // patterned path needs no capability call

	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "Taladro industrial", res.Candidates[0].Fields["name"])
	assert.Equal(t, "1,299.00", res.Candidates[0].Fields["price"])
	assert.Equal(t, "Sierra circular", res.Candidates[1].Fields["name"])

	// Applying the patterns fed their success rates.
	stored, err := repo.Get(ctx, "shop.example.com", model.RoleName)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 1, stored.TimesUsed)
	assert.InDelta(t, 1.0, stored.SuccessRate, 0.001)
}

func TestPipelineGrowsDetectionSample(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "sample.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	cfg := config.PatternConfig{MinSuccessRate: 0.5, MinUses: 5, StaleAfter: 3, SampleSize: 2}
	repo := pattern.NewRepository(st, cfg, nil)

	rec := &stubRecognizer{
		proposals: &recognizer.SelectorProposal{
			Selectors:  map[string]string{"name": `^## (.+)$`},
			Confidence: 0.8,
		},
	}
	learner := pattern.NewLearner(repo, rec, cfg)
	p := NewPipeline(rec, repo, learner, recognizerCfg())
	ctx := tenant.WithID(context.Background(), "acme")

	// The first page carries no listing structure: the proposed selector
	// validates to zero matches and nothing is promoted.
	page := &adapter.Page{Number: 1, Locator: "https://shop.example.com/about", Content: "Envío gratis a todo el país."}
	res, err := p.RecognizePage(ctx, webRef(), page, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Learned)

	// The second page does; detection re-runs over the grown sample and
	// promotes the selector within the configured sample size.
	page2 := &adapter.Page{Number: 2, Locator: "https://shop.example.com/catalog", Content: "## Widget\n$10.00"}
	res2, err := p.RecognizePage(ctx, webRef(), page2, 1)
	require.NoError(t, err)
	require.Len(t, res2.Learned, 1)
	assert.Equal(t, model.RoleName, res2.Learned[0].Role)
}

func TestPipelineLearnsOncePerOrigin(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "learn.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	cfg := config.PatternConfig{MinSuccessRate: 0.5, MinUses: 5, StaleAfter: 3}
	repo := pattern.NewRepository(st, cfg, nil)

	rec := &stubRecognizer{
		proposals: &recognizer.SelectorProposal{
			Selectors:  map[string]string{"name": `^## (.+)$`},
			Confidence: 0.8,
		},
		results: []*recognizer.FieldResult{{Clarity: 1}},
	}
	learner := pattern.NewLearner(repo, rec, cfg)
	p := NewPipeline(rec, repo, learner, recognizerCfg())

	ctx := tenant.WithID(context.Background(), "acme")
	page := &adapter.Page{Number: 1, Locator: "https://shop.example.com/catalog", Content: "## Widget\n$10.00"}

	res, err := p.RecognizePage(ctx, webRef(), page, 0)
	require.NoError(t, err)
	require.Len(t, res.Learned, 1)
	assert.Equal(t, model.RoleName, res.Learned[0].Role)

	// Second page for the same origin: detection is not re-attempted, and
	// the learned pattern now drives extraction.
	page2 := &adapter.Page{Number: 2, Locator: "https://shop.example.com/catalog?page=2", Content: "## Gadget\n$20.00"}
	res2, err := p.RecognizePage(ctx, webRef(), page2, 1)
	require.NoError(t, err)
	assert.Empty(t, res2.Learned)
	assert.True(t, res2.UsedPattern)
	require.Len(t, res2.Candidates, 1)
	assert.Equal(t, "Gadget", res2.Candidates[0].Fields["name"])
}

func TestPipelineEmptyPage(t *testing.T) {
	p := NewPipeline(&stubRecognizer{}, nil, nil, recognizerCfg())
	ref := model.SourceRef{SourceID: "doc-1", SourceType: model.SourceTypeDocument}

	res, err := p.RecognizePage(context.Background(), ref, &adapter.Page{Content: "   \n"}, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
	assert.Zero(t, res.Dropped)
}
