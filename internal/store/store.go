// Package store persists jobs, patterns, the consolidated catalog, and the
// append-only consolidation log. Every read and write is scoped by the
// ambient tenant on the context; the scope cannot be overridden by any
// query parameter.
package store

import (
	"context"

	"github.com/sells-group/catalog-engine/internal/model"
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	State  model.JobState `json:"state,omitempty"`
	Limit  int            `json:"limit,omitempty"`
	Offset int            `json:"offset,omitempty"`
}

// ProductFilter specifies criteria for listing catalog products.
type ProductFilter struct {
	Query  string `json:"query,omitempty"` // matches name, sku, brand
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the extraction engine.
type Store interface {
	// Jobs. GetJob returns (nil, nil) when no job exists for the tenant.
	CreateJob(ctx context.Context, job *model.Job) error
	UpdateJobState(ctx context.Context, jobID string, state model.JobState) error
	UpdateJobProgress(ctx context.Context, jobID string, progress model.Progress) error
	FailJob(ctx context.Context, jobID string, cause string) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// Checkpoints: one row per job, replaced at each state transition.
	SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error
	GetCheckpoint(ctx context.Context, jobID string) (*model.Checkpoint, error)

	// Progress events, ordered by Seq.
	AppendEvent(ctx context.Context, ev model.ProgressEvent) error
	ListEvents(ctx context.Context, jobID string, afterSeq int64) ([]model.ProgressEvent, error)

	// Patterns. GetPattern prefers the tenant's own row and falls back to
	// a global seed (tenant id ""); stale rows are not returned.
	GetPattern(ctx context.Context, origin string, role model.FieldRole) (*model.SourcePattern, error)
	UpsertPattern(ctx context.Context, p *model.SourcePattern) error
	ListPatterns(ctx context.Context, origin string) ([]model.SourcePattern, error)

	// Consolidated catalog, unique per (tenant, key). UpsertProducts is the
	// batch path used when consolidation commits a whole job.
	UpsertProduct(ctx context.Context, p *model.ConsolidatedProduct) error
	UpsertProducts(ctx context.Context, products []model.ConsolidatedProduct) error
	GetProductByKey(ctx context.Context, key string) (*model.ConsolidatedProduct, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]model.ConsolidatedProduct, error)

	// Consolidation log, append-only. Records carry deterministic ids so
	// a resumed job never duplicates an entry.
	AppendConsolidationRecord(ctx context.Context, rec *model.ConsolidationRecord) error
	ListConsolidationRecords(ctx context.Context, jobID string) ([]model.ConsolidationRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
