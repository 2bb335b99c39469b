package job

import (
	"context"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/catalog-engine/internal/consolidate"
	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/internal/normalize"
	"github.com/sells-group/catalog-engine/internal/quality"
	"github.com/sells-group/catalog-engine/internal/resilience"
	"github.com/sells-group/catalog-engine/internal/store"
	"github.com/sells-group/catalog-engine/internal/tenant"
)

// detectSources validates that every declared source has an adapter and a
// usable location before any fetching starts.
func (o *Orchestrator) detectSources(ctx context.Context, job *model.Job) (model.JobState, error) {
	for _, src := range job.Sources {
		if _, err := o.adapters.For(src.Type); err != nil {
			return "", err
		}
		if src.URL == "" && src.FilePath == "" {
			return "", eris.Errorf("job: source %s has neither url nor file path", src.ID)
		}
	}
	job.Progress.TotalSources = len(job.Sources)
	return model.JobStateExtracting, nil
}

// sourceOutcome collects one source task's results. Per-source failures
// land here, never as an error from the task.
type sourceOutcome struct {
	candidates []model.RawCandidate
	learned    []model.SourcePattern
	pages      int
	dropped    int
	errs       []model.JobError
	failed     bool
}

// extract fans out one task per source up to the job's concurrency cap and
// advances only when every task has finished. Blocked and auth failures
// mark the source failed and the job continues; isolation violations
// propagate and fail the job.
func (o *Orchestrator) extract(ctx context.Context, job *model.Job, ws *workingSet) (model.JobState, error) {
	outcomes := make([]sourceOutcome, len(job.Sources))

	g, gctx := errgroup.WithContext(ctx)
	concurrency := job.Config.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	g.SetLimit(concurrency)

	var mu sync.Mutex
	for i := range job.Sources {
		i := i
		g.Go(func() error {
			src := job.Sources[i]
			mu.Lock()
			err := o.emit(gctx, model.ProgressEvent{
				JobID: job.ID, Kind: model.EventSourceStarted, SourceID: src.ID,
			})
			mu.Unlock()
			if err != nil {
				return err
			}

			outcome := o.extractSource(gctx, job, src)
			mu.Lock()
			defer mu.Unlock()
			outcomes[i] = outcome

			kind := model.EventSourceComplete
			detail := fmt.Sprintf("%d candidates from %d pages", len(outcome.candidates), outcome.pages)
			if outcome.failed {
				kind = model.EventSourceFailed
				if len(outcome.errs) > 0 {
					detail = outcome.errs[len(outcome.errs)-1].Message
				}
			}
			if err := o.emit(gctx, model.ProgressEvent{
				JobID: job.ID, Kind: kind, SourceID: src.ID, Detail: detail,
			}); err != nil {
				return err
			}
			for _, p := range outcome.learned {
				if err := o.emit(gctx, model.ProgressEvent{
					JobID: job.ID, Kind: model.EventPatternLearned, SourceID: src.ID,
					Detail: p.Origin + "/" + string(p.Role),
				}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	// Candidates append in declared source order; within a source the
	// discovery order is already preserved by position.
	for _, out := range outcomes {
		ws.Candidates = append(ws.Candidates, out.candidates...)
		ws.Learned = append(ws.Learned, out.learned...)
		job.Progress.PagesFetched += out.pages
		job.Progress.DroppedRegions += out.dropped
		job.Progress.Errors = append(job.Progress.Errors, out.errs...)
		job.Progress.ErrorCount += len(out.errs)
		if out.failed {
			job.Progress.FailedSources++
		} else {
			job.Progress.CompletedSources++
		}
	}
	job.Progress.RawCandidates = len(ws.Candidates)

	zap.L().Info("extraction complete",
		zap.String("job_id", job.ID),
		zap.Int("candidates", len(ws.Candidates)),
		zap.Int("pages", job.Progress.PagesFetched),
		zap.Int("failed_sources", job.Progress.FailedSources),
	)
	return model.JobStateNormalizing, nil
}

// extractSource drains one source's page iterator through the recognition
// pipeline. Cancellation stops fetching; pages already recognized stay in
// the outcome.
func (o *Orchestrator) extractSource(ctx context.Context, job *model.Job, src model.SourceDescriptor) sourceOutcome {
	var out sourceOutcome
	fail := func(stage string, err error) sourceOutcome {
		out.failed = true
		out.errs = append(out.errs, model.JobError{
			SourceID: src.ID, Stage: stage, Message: err.Error(),
		})
		return out
	}

	a, err := o.adapters.For(src.Type)
	if err != nil {
		return fail("adapter", err)
	}
	it, err := a.Pages(ctx, src, job.Config)
	if err != nil {
		return fail("adapter", err)
	}

	ref := model.SourceRef{SourceID: src.ID, SourceType: src.Type, Origin: src.Origin()}
	pos := 0
	for {
		page, err := it.Next(ctx)
		if err != nil {
			// Blocked and auth failures surface immediately; transient ones
			// have already exhausted the adapter's retry budget. Either way
			// the source is marked failed and the job continues.
			return fail("fetch", err)
		}
		if page == nil {
			return out
		}
		out.pages++

		res, err := o.pipeline.RecognizePage(ctx, ref, page, pos)
		if err != nil {
			out.errs = append(out.errs, model.JobError{
				SourceID: src.ID, Stage: "recognize", Message: err.Error(),
			})
			continue
		}
		pos += len(res.Candidates)
		out.candidates = append(out.candidates, res.Candidates...)
		out.learned = append(out.learned, res.Learned...)
		out.dropped += res.Dropped
		for _, msg := range res.Errors {
			out.errs = append(out.errs, model.JobError{
				SourceID: src.ID, Stage: "recognize", Message: msg,
			})
		}
	}
}

func (o *Orchestrator) normalizeStage(ctx context.Context, job *model.Job, ws *workingSet) (model.JobState, error) {
	ctx = tenant.WithID(ctx, job.TenantID)

	products, report, err := normalize.New(job.Config).Run(ctx, ws.Candidates)
	if err != nil {
		return "", err
	}
	ws.Normalized = products
	job.Progress.NormalizedCount = len(products)
	job.Progress.ErrorCount += report.Dropped

	zap.L().Info("normalization complete",
		zap.String("job_id", job.ID),
		zap.Int("normalized", report.Normalized),
		zap.Int("dropped", report.Dropped),
		zap.Bool("redetected", report.Redetected),
	)
	return model.JobStateConsolidating, nil
}

func (o *Orchestrator) consolidateStage(ctx context.Context, job *model.Job, ws *workingSet) (model.JobState, error) {
	ctx = tenant.WithID(ctx, job.TenantID)

	existing, err := o.store.ListProducts(ctx, store.ProductFilter{Limit: existingFetchLimit})
	if err != nil {
		return "", eris.Wrap(err, "job: load existing products")
	}

	result, err := consolidate.New(job.Config).Run(ctx, job.ID, ws.Normalized, existing)
	if err != nil {
		return "", err
	}
	ws.Consolidated = result.Products
	ws.Records = result.Records
	job.Progress.ConsolidatedCount = len(result.Products)
	return model.JobStateQualityCheck, nil
}

// qualityStage gates the consolidated set. An approved set (or one already
// through a human review round) commits to the store; otherwise the job
// suspends in needs_review.
func (o *Orchestrator) qualityStage(ctx context.Context, job *model.Job, ws *workingSet) (model.JobState, error) {
	gate := quality.NewGate(job.Config)
	report := gate.Evaluate(job.ID, ws.Consolidated, job.Progress.ErrorCount)

	if ws.Reviewed && !report.Approved {
		// The human round already decided; recompute metrics but do not
		// re-gate, or a corrected job could suspend forever.
		report.Approved = true
		report.Reasons = nil
		report.ReviewItems = nil
	}
	ws.Quality = &report

	if !report.Approved {
		if err := o.emit(ctx, model.ProgressEvent{
			JobID:  job.ID,
			Kind:   model.EventNeedsReview,
			Detail: fmt.Sprintf("%d items for review", len(report.ReviewItems)),
		}); err != nil {
			return "", err
		}
		return model.JobStateNeedsReview, nil
	}

	if err := o.commit(ctx, job, ws); err != nil {
		return "", err
	}
	if err := o.emit(ctx, model.ProgressEvent{
		JobID:  job.ID,
		Kind:   model.EventCompleted,
		Detail: fmt.Sprintf("%d products", len(ws.Consolidated)),
	}); err != nil {
		return "", err
	}
	return model.JobStateCompleted, nil
}

// commit writes the consolidated products and the append-only merge log.
// Storage writes retry; failure after retries fails the job.
func (o *Orchestrator) commit(ctx context.Context, job *model.Job, ws *workingSet) error {
	ctx = tenant.WithID(ctx, job.TenantID)

	err := resilience.Do(ctx, o.retry, func(ctx context.Context) error {
		return o.store.UpsertProducts(ctx, ws.Consolidated)
	})
	if err != nil {
		return eris.Wrap(err, "job: commit products")
	}

	for i := range ws.Records {
		rec := ws.Records[i]
		err := resilience.Do(ctx, o.retry, func(ctx context.Context) error {
			return o.store.AppendConsolidationRecord(ctx, &rec)
		})
		if err != nil {
			return eris.Wrap(err, "job: commit consolidation record")
		}
	}
	return nil
}
