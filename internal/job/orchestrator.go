// Package job drives the extraction state machine: a closed set of stages
// compiled into one orchestrator, with the whole working set checkpointed
// at every transition so a restarted process resumes from the last
// completed stage. Per-source and per-record failures accumulate on the
// job; only isolation violations and storage failures after retries fail
// a job outright.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-engine/internal/adapter"
	"github.com/sells-group/catalog-engine/internal/config"
	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/internal/quality"
	"github.com/sells-group/catalog-engine/internal/recognize"
	"github.com/sells-group/catalog-engine/internal/resilience"
	"github.com/sells-group/catalog-engine/internal/store"
	"github.com/sells-group/catalog-engine/internal/tenant"
)

// existingFetchLimit bounds how many previously consolidated products are
// pulled in as merge targets for one run.
const existingFetchLimit = 5000

// errCancelled signals that the job was cancelled at a checkpoint boundary.
var errCancelled = eris.New("job: cancelled")

// workingSet is the typed per-job state carried between stages and
// serialized into the checkpoint at every transition.
type workingSet struct {
	Candidates   []model.RawCandidate        `json:"candidates,omitempty"`
	Normalized   []model.NormalizedProduct   `json:"normalized,omitempty"`
	Consolidated []model.ConsolidatedProduct `json:"consolidated,omitempty"`
	Records      []model.ConsolidationRecord `json:"records,omitempty"`
	Learned      []model.SourcePattern       `json:"learned,omitempty"`
	Quality      *model.QualityReport        `json:"quality,omitempty"`
	// Reviewed marks that a human decision round was applied; the next
	// quality_check commits instead of re-gating.
	Reviewed bool `json:"reviewed,omitempty"`
}

// Orchestrator runs extraction jobs through the state machine.
type Orchestrator struct {
	store    store.Store
	adapters *adapter.Registry
	pipeline *recognize.Pipeline
	cfg      *config.Config
	retry    resilience.RetryConfig
}

// NewOrchestrator creates an orchestrator over the store, source adapters
// and recognition pipeline.
func NewOrchestrator(st store.Store, adapters *adapter.Registry, pipeline *recognize.Pipeline, cfg *config.Config) *Orchestrator {
	retry := resilience.DefaultRetryConfig()
	if cfg.Extraction.RetryMaxAttempts > 0 {
		retry.MaxAttempts = cfg.Extraction.RetryMaxAttempts
	}
	return &Orchestrator{
		store:    st,
		adapters: adapters,
		pipeline: pipeline,
		cfg:      cfg,
		retry:    retry,
	}
}

// Submit creates a new pending job for the ambient tenant with the
// tenant-resolved configuration. The job is persisted but not started.
func (o *Orchestrator) Submit(ctx context.Context, sources []model.SourceDescriptor, reqCfg model.JobConfig) (*model.Job, error) {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, eris.New("job: at least one source is required")
	}

	now := time.Now().UTC()
	job := &model.Job{
		ID:        uuid.New().String(),
		TenantID:  tid,
		Sources:   sources,
		State:     model.JobStatePending,
		Config:    o.cfg.JobConfig(tid, reqCfg),
		Progress:  model.Progress{TotalSources: len(sources)},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "job: create")
	}

	zap.L().Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("tenant", tid),
		zap.Int("sources", len(sources)),
	)
	return job, nil
}

// Run advances a job through the state machine until it reaches a terminal
// state or suspends in needs_review. Safe to call again after a process
// restart: the working set reloads from the last checkpoint.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrap(err, "job: load")
	}
	if job == nil {
		return eris.Errorf("job: %s not found", jobID)
	}
	if job.State.Terminal() {
		return nil
	}

	ws, err := o.loadWorkingSet(ctx, jobID)
	if err != nil {
		return o.failJob(ctx, job, err)
	}

	for !job.State.Terminal() && job.State != model.JobStateNeedsReview {
		next, stageErr := o.step(ctx, job, ws)
		if stageErr != nil {
			var iso *tenant.IsolationError
			if errors.As(stageErr, &iso) {
				zap.L().Error("tenant isolation violation, failing job",
					zap.String("job_id", job.ID),
					zap.String("op", iso.Op),
				)
			}
			return o.failJob(ctx, job, stageErr)
		}

		if err := o.transition(ctx, job, ws, next); err != nil {
			if errors.Is(err, errCancelled) {
				zap.L().Info("job cancelled at checkpoint boundary", zap.String("job_id", job.ID))
				return nil
			}
			return o.failJob(ctx, job, err)
		}
	}
	return nil
}

// step executes the stage for the job's current state and returns the next
// state. The dispatch is a closed switch: unknown states are a bug, not
// data.
func (o *Orchestrator) step(ctx context.Context, job *model.Job, ws *workingSet) (model.JobState, error) {
	switch job.State {
	case model.JobStatePending:
		return model.JobStateDetectingSources, nil
	case model.JobStateDetectingSources:
		return o.detectSources(ctx, job)
	case model.JobStateExtracting:
		return o.extract(ctx, job, ws)
	case model.JobStateNormalizing:
		return o.normalizeStage(ctx, job, ws)
	case model.JobStateConsolidating:
		return o.consolidateStage(ctx, job, ws)
	case model.JobStateQualityCheck:
		return o.qualityStage(ctx, job, ws)
	default:
		return "", eris.Errorf("job: no stage for state %q", job.State)
	}
}

// Resume applies a human decision round to a job suspended in needs_review
// and re-enters the state machine.
func (o *Orchestrator) Resume(ctx context.Context, jobID string, decisions []model.ReviewDecision) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrap(err, "job: load for resume")
	}
	if job == nil {
		return eris.Errorf("job: %s not found", jobID)
	}
	if job.State != model.JobStateNeedsReview {
		return eris.Errorf("job: %s is %s, only needs_review jobs can resume", jobID, job.State)
	}

	ws, err := o.loadWorkingSet(ctx, jobID)
	if err != nil {
		return o.failJob(ctx, job, err)
	}

	ws.Consolidated, ws.Records = applyReview(ws.Consolidated, ws.Records, decisions)
	ws.Reviewed = true

	if err := o.transition(ctx, job, ws, model.JobStateQualityCheck); err != nil {
		return o.failJob(ctx, job, err)
	}
	return o.Run(ctx, jobID)
}

// Cancel marks a non-terminal job cancelled. A running orchestrator
// observes the new state at its next checkpoint boundary and stops;
// already-checkpointed partial results are retained.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrap(err, "job: load for cancel")
	}
	if job == nil {
		return eris.Errorf("job: %s not found", jobID)
	}
	if job.State.Terminal() {
		return eris.Errorf("job: %s already %s", jobID, job.State)
	}

	if err := o.store.UpdateJobState(ctx, jobID, model.JobStateCancelled); err != nil {
		return eris.Wrap(err, "job: cancel")
	}
	return o.emit(ctx, model.ProgressEvent{
		JobID: jobID,
		Kind:  model.EventStateChanged,
		State: model.JobStateCancelled,
	})
}

// Result returns the caller-visible outcome for a job: consolidated
// products, patterns learned during the run, and the quality report.
func (o *Orchestrator) Result(ctx context.Context, jobID string) (*model.JobResult, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "job: load for result")
	}
	if job == nil {
		return nil, eris.Errorf("job: %s not found", jobID)
	}

	ws, err := o.loadWorkingSet(ctx, jobID)
	if err != nil {
		return nil, err
	}

	result := &model.JobResult{
		Products:        ws.Consolidated,
		LearnedPatterns: ws.Learned,
	}
	if ws.Quality != nil {
		result.Quality = *ws.Quality
	} else {
		result.Quality = model.QualityReport{JobID: jobID}
	}
	return result, nil
}

// transition checkpoints the working set, advances the stored state and
// emits the state-changed event. Cancellation requested through the store
// is honored here, at the checkpoint boundary.
func (o *Orchestrator) transition(ctx context.Context, job *model.Job, ws *workingSet, next model.JobState) error {
	current, err := o.store.GetJob(ctx, job.ID)
	if err != nil {
		return eris.Wrap(err, "job: refresh state")
	}
	if current != nil && current.State == model.JobStateCancelled {
		if err := o.saveCheckpoint(ctx, job.ID, model.JobStateCancelled, ws); err != nil {
			return err
		}
		job.State = model.JobStateCancelled
		return errCancelled
	}

	if err := o.saveCheckpoint(ctx, job.ID, next, ws); err != nil {
		return err
	}
	if err := o.store.UpdateJobState(ctx, job.ID, next); err != nil {
		return eris.Wrap(err, "job: update state")
	}
	if err := o.store.UpdateJobProgress(ctx, job.ID, job.Progress); err != nil {
		return eris.Wrap(err, "job: update progress")
	}
	job.State = next

	return o.emit(ctx, model.ProgressEvent{
		JobID: job.ID,
		Kind:  model.EventStateChanged,
		State: next,
	})
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context, jobID string, state model.JobState, ws *workingSet) error {
	data, err := json.Marshal(ws)
	if err != nil {
		return eris.Wrap(err, "job: marshal working set")
	}
	cp := &model.Checkpoint{
		JobID:     jobID,
		State:     state,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	return eris.Wrap(o.store.SaveCheckpoint(ctx, cp), "job: save checkpoint")
}

func (o *Orchestrator) loadWorkingSet(ctx context.Context, jobID string) (*workingSet, error) {
	cp, err := o.store.GetCheckpoint(ctx, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "job: load checkpoint")
	}
	ws := &workingSet{}
	if cp == nil || len(cp.Data) == 0 {
		return ws, nil
	}
	if err := json.Unmarshal(cp.Data, ws); err != nil {
		// A checkpoint that no longer parses is state corruption: fatal.
		return nil, eris.Wrap(err, "job: corrupt checkpoint")
	}
	return ws, nil
}

func (o *Orchestrator) failJob(ctx context.Context, job *model.Job, cause error) error {
	if err := o.store.FailJob(ctx, job.ID, eris.ToString(cause, false)); err != nil {
		zap.L().Error("failed to record job failure", zap.String("job_id", job.ID), zap.Error(err))
	}
	_ = o.emit(ctx, model.ProgressEvent{
		JobID:  job.ID,
		Kind:   model.EventFailed,
		Detail: cause.Error(),
	})
	job.State = model.JobStateFailed
	return eris.Wrapf(cause, "job: %s failed", job.ID)
}

func (o *Orchestrator) emit(ctx context.Context, ev model.ProgressEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if err := o.store.AppendEvent(ctx, ev); err != nil {
		return eris.Wrap(err, "job: append event")
	}
	return nil
}

// applyReview folds the decision round into the consolidated set and marks
// the touched consolidation records human-validated.
func applyReview(products []model.ConsolidatedProduct, records []model.ConsolidationRecord, decisions []model.ReviewDecision) ([]model.ConsolidatedProduct, []model.ConsolidationRecord) {
	kept, validated := quality.ApplyDecisions(products, decisions)

	keptIDs := make(map[string]bool, len(kept))
	for _, p := range kept {
		keptIDs[p.ID] = true
	}

	out := records[:0]
	for _, rec := range records {
		if !keptIDs[rec.MasterID] {
			continue
		}
		if validated[rec.MasterID] {
			rec.HumanValidated = true
		}
		out = append(out, rec)
	}
	return kept, out
}
