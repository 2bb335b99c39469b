package job

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-engine/internal/adapter"
	"github.com/sells-group/catalog-engine/internal/config"
	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/internal/recognize"
	"github.com/sells-group/catalog-engine/internal/resilience"
	"github.com/sells-group/catalog-engine/internal/store"
	"github.com/sells-group/catalog-engine/internal/tenant"
	"github.com/sells-group/catalog-engine/pkg/recognizer"
)

type stubIterator struct {
	pages []*adapter.Page
	err   error
	pos   int
}

func (s *stubIterator) Next(ctx context.Context) (*adapter.Page, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.pos >= len(s.pages) {
		return nil, nil
	}
	p := s.pages[s.pos]
	s.pos++
	return p, nil
}

type stubAdapter struct {
	pages map[string][]*adapter.Page
	errs  map[string]error
}

func (s *stubAdapter) Pages(ctx context.Context, src model.SourceDescriptor, cfg model.JobConfig) (adapter.Iterator, error) {
	return &stubIterator{pages: s.pages[src.ID], err: s.errs[src.ID]}, nil
}

type stubRecognizer struct {
	result *recognizer.FieldResult
}

func (s *stubRecognizer) RecognizeFields(ctx context.Context, req recognizer.FieldRequest) (*recognizer.FieldResult, error) {
	if s.result != nil {
		return s.result, nil
	}
	return &recognizer.FieldResult{Clarity: 1}, nil
}

func (s *stubRecognizer) ProposeSelectors(ctx context.Context, req recognizer.SelectorRequest) (*recognizer.SelectorProposal, error) {
	return &recognizer.SelectorProposal{}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Extraction: config.ExtractionConfig{
			Concurrency:         2,
			MaxPages:            10,
			ApprovalThreshold:   0.85,
			MinCompleteness:     0.3,
			MinValidRate:        0.8,
			FuzzyMergeThreshold: 0.85,
			MappingMinSuccess:   0.8,
			MaxErrors:           50,
			RetryMaxAttempts:    2,
		},
	}
}

func newTestOrchestrator(t *testing.T, stub *stubAdapter, rec recognizer.Client) (*Orchestrator, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	registry := adapter.NewRegistry(stub, stub, stub)
	pipeline := recognize.NewPipeline(rec, nil, nil, config.RecognizerConfig{ClarityFloor: 0.5})
	return NewOrchestrator(st, registry, pipeline, testConfig()), st
}

func acmeCtx() context.Context {
	return tenant.WithID(context.Background(), "acme")
}

func feedPages(names ...string) []*adapter.Page {
	records := make([]map[string]string, 0, len(names))
	for _, n := range names {
		records = append(records, map[string]string{
			"name":  n,
			"price": "$100.00",
			"sku":   "SKU-" + n,
		})
	}
	return []*adapter.Page{{Number: 1, Locator: "rows", Records: records}}
}

func feedSource(id string) model.SourceDescriptor {
	return model.SourceDescriptor{ID: id, Type: model.SourceTypeFeed, FilePath: "/feeds/" + id + ".json"}
}

func TestJobRunsToCompletion(t *testing.T) {
	stub := &stubAdapter{pages: map[string][]*adapter.Page{
		"src-a": feedPages("Taladro", "Sierra"),
		"src-b": feedPages("Compresor"),
	}}
	o, st := newTestOrchestrator(t, stub, &stubRecognizer{})
	ctx := acmeCtx()

	job, err := o.Submit(ctx, []model.SourceDescriptor{feedSource("src-a"), feedSource("src-b")}, model.JobConfig{})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatePending, job.State)

	require.NoError(t, o.Run(ctx, job.ID))

	final, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCompleted, final.State)
	assert.Equal(t, 2, final.Progress.CompletedSources)
	assert.Equal(t, 0, final.Progress.FailedSources)
	assert.Equal(t, 3, final.Progress.RawCandidates)
	assert.Equal(t, 3, final.Progress.ConsolidatedCount)

	// The consolidated catalog is committed.
	products, err := st.ListProducts(ctx, store.ProductFilter{})
	require.NoError(t, err)
	assert.Len(t, products, 3)

	// Events trace the run, ending with completed.
	events, err := st.ListEvents(ctx, job.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	kinds := make(map[model.EventKind]int)
	for _, ev := range events {
		kinds[ev.Kind]++
	}
	assert.Equal(t, 2, kinds[model.EventSourceStarted])
	assert.Equal(t, 2, kinds[model.EventSourceComplete])
	assert.Equal(t, 1, kinds[model.EventCompleted])

	result, err := o.Result(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, result.Products, 3)
	assert.True(t, result.Quality.Approved)
}

func TestFailedSourceDoesNotFailJob(t *testing.T) {
	stub := &stubAdapter{
		pages: map[string][]*adapter.Page{"src-ok": feedPages("Taladro", "Sierra")},
		errs: map[string]error{
			"src-blocked": &resilience.BlockedError{Origin: "shop.test", Err: assert.AnError},
		},
	}
	o, st := newTestOrchestrator(t, stub, &stubRecognizer{})
	ctx := acmeCtx()

	job, err := o.Submit(ctx, []model.SourceDescriptor{feedSource("src-ok"), feedSource("src-blocked")}, model.JobConfig{})
	require.NoError(t, err)
	require.NoError(t, o.Run(ctx, job.ID))

	final, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCompleted, final.State)
	assert.Equal(t, 1, final.Progress.CompletedSources)
	assert.Equal(t, 1, final.Progress.FailedSources)
	require.NotEmpty(t, final.Progress.Errors)
	assert.Equal(t, "src-blocked", final.Progress.Errors[0].SourceID)

	products, err := st.ListProducts(ctx, store.ProductFilter{})
	require.NoError(t, err)
	assert.Len(t, products, 2)
}

func TestLowConfidenceSuspendsAndResumes(t *testing.T) {
	rec := &stubRecognizer{result: &recognizer.FieldResult{
		Records: []recognizer.RecordFields{{
			Fields:     map[string]string{"name": "Taladro Borroso", "price": "$99.00"},
			Confidence: map[string]float64{"name": 0.4, "price": 0.4},
		}},
		Clarity: 0.9,
	}}
	stub := &stubAdapter{pages: map[string][]*adapter.Page{
		"src-doc": {{Number: 1, Locator: "page 1", Content: "Taladro Borroso $99.00"}},
	}}
	o, st := newTestOrchestrator(t, stub, rec)
	ctx := acmeCtx()

	src := model.SourceDescriptor{ID: "src-doc", Type: model.SourceTypeDocument, FilePath: "/docs/scan.pdf"}
	job, err := o.Submit(ctx, []model.SourceDescriptor{src}, model.JobConfig{})
	require.NoError(t, err)
	require.NoError(t, o.Run(ctx, job.ID))

	suspended, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateNeedsReview, suspended.State)

	// Nothing committed while waiting on review.
	products, err := st.ListProducts(ctx, store.ProductFilter{})
	require.NoError(t, err)
	assert.Empty(t, products)

	result, err := o.Result(ctx, job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, result.Quality.ReviewItems)

	decisions := []model.ReviewDecision{{
		ProductID: result.Quality.ReviewItems[0].ProductID,
		Action:    model.ReviewCorrect,
		Corrections: map[string]string{
			"name": "Taladro Industrial",
			"sku":  "TAL-01",
		},
	}}
	require.NoError(t, o.Resume(ctx, job.ID, decisions))

	final, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCompleted, final.State)

	products, err = st.ListProducts(ctx, store.ProductFilter{})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Taladro Industrial", products[0].Name)
	assert.Equal(t, "TAL-01", products[0].SKU)
}

func TestResumeRequiresNeedsReview(t *testing.T) {
	stub := &stubAdapter{pages: map[string][]*adapter.Page{"src-a": feedPages("Taladro")}}
	o, _ := newTestOrchestrator(t, stub, &stubRecognizer{})
	ctx := acmeCtx()

	job, err := o.Submit(ctx, []model.SourceDescriptor{feedSource("src-a")}, model.JobConfig{})
	require.NoError(t, err)
	require.NoError(t, o.Run(ctx, job.ID))

	err = o.Resume(ctx, job.ID, nil)
	assert.ErrorContains(t, err, "only needs_review")
}

func TestResumeSurvivesProcessRestart(t *testing.T) {
	rec := &stubRecognizer{result: &recognizer.FieldResult{
		Records: []recognizer.RecordFields{{
			Fields:     map[string]string{"name": "Producto Dudoso"},
			Confidence: map[string]float64{"name": 0.2},
		}},
		Clarity: 0.9,
	}}
	stub := &stubAdapter{pages: map[string][]*adapter.Page{
		"src-doc": {{Number: 1, Locator: "page 1", Content: "Producto Dudoso $5"}},
	}}

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "restart.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	registry := adapter.NewRegistry(stub, stub, stub)
	newOrch := func() *Orchestrator {
		pipeline := recognize.NewPipeline(rec, nil, nil, config.RecognizerConfig{ClarityFloor: 0.5})
		return NewOrchestrator(st, registry, pipeline, testConfig())
	}

	ctx := acmeCtx()
	src := model.SourceDescriptor{ID: "src-doc", Type: model.SourceTypeDocument, FilePath: "/docs/scan.pdf"}
	job, err := newOrch().Submit(ctx, []model.SourceDescriptor{src}, model.JobConfig{})
	require.NoError(t, err)
	require.NoError(t, newOrch().Run(ctx, job.ID))

	// A fresh orchestrator (new process) resumes from the checkpoint.
	result, err := newOrch().Result(ctx, job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, result.Quality.ReviewItems)

	require.NoError(t, newOrch().Resume(ctx, job.ID, []model.ReviewDecision{{
		ProductID: result.Quality.ReviewItems[0].ProductID,
		Action:    model.ReviewAccept,
	}}))

	final, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCompleted, final.State)
}

func TestCancelBeforeRun(t *testing.T) {
	stub := &stubAdapter{pages: map[string][]*adapter.Page{"src-a": feedPages("Taladro")}}
	o, st := newTestOrchestrator(t, stub, &stubRecognizer{})
	ctx := acmeCtx()

	job, err := o.Submit(ctx, []model.SourceDescriptor{feedSource("src-a")}, model.JobConfig{})
	require.NoError(t, err)
	require.NoError(t, o.Cancel(ctx, job.ID))

	// Cancelled is terminal; Run is a no-op.
	require.NoError(t, o.Run(ctx, job.ID))

	final, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCancelled, final.State)

	// Terminal jobs cannot be cancelled again.
	assert.Error(t, o.Cancel(ctx, job.ID))
}

func TestCorruptCheckpointFailsJob(t *testing.T) {
	stub := &stubAdapter{pages: map[string][]*adapter.Page{"src-a": feedPages("Taladro")}}
	o, st := newTestOrchestrator(t, stub, &stubRecognizer{})
	ctx := acmeCtx()

	job, err := o.Submit(ctx, []model.SourceDescriptor{feedSource("src-a")}, model.JobConfig{})
	require.NoError(t, err)

	require.NoError(t, st.SaveCheckpoint(ctx, &model.Checkpoint{
		JobID: job.ID,
		State: model.JobStatePending,
		Data:  []byte("{not json"),
	}))

	err = o.Run(ctx, job.ID)
	require.Error(t, err)

	final, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateFailed, final.State)
	assert.Contains(t, final.Error, "corrupt checkpoint")
}

func TestSubmitValidation(t *testing.T) {
	stub := &stubAdapter{}
	o, _ := newTestOrchestrator(t, stub, &stubRecognizer{})

	_, err := o.Submit(acmeCtx(), nil, model.JobConfig{})
	assert.ErrorContains(t, err, "at least one source")

	_, err = o.Submit(context.Background(), []model.SourceDescriptor{feedSource("src-a")}, model.JobConfig{})
	assert.ErrorIs(t, err, tenant.ErrMissing)
}
