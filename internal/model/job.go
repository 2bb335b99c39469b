package model

import "time"

// JobState represents the orchestrator state of an extraction job.
// The set is closed: stage transitions are compiled into the orchestrator,
// never dispatched on free-form strings.
type JobState string

const (
	JobStatePending          JobState = "pending"
	JobStateDetectingSources JobState = "detecting_sources"
	JobStateExtracting       JobState = "extracting"
	JobStateNormalizing      JobState = "normalizing"
	JobStateConsolidating    JobState = "consolidating"
	JobStateQualityCheck     JobState = "quality_check"
	JobStateNeedsReview      JobState = "needs_review"
	JobStateCompleted        JobState = "completed"
	JobStateFailed           JobState = "failed"
	JobStateCancelled        JobState = "cancelled"
)

// Terminal reports whether the state is immutable.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

// SourceType classifies an extraction source.
type SourceType string

const (
	SourceTypeWeb      SourceType = "web"
	SourceTypeDocument SourceType = "document"
	SourceTypeFeed     SourceType = "feed"
)

// SourceDescriptor identifies one source within a job. The yaml tags cover
// the submit-file format accepted by the CLI.
type SourceDescriptor struct {
	ID       string         `json:"id" yaml:"id"`
	Type     SourceType     `json:"type" yaml:"type"`
	URL      string         `json:"url,omitempty" yaml:"url,omitempty"`
	FilePath string         `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	Name     string         `json:"name,omitempty" yaml:"name,omitempty"`
	Config   map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Origin returns the pattern-store key component for this source:
// the host for web sources, otherwise the file path or name.
func (s SourceDescriptor) Origin() string {
	if s.URL != "" {
		return hostOf(s.URL)
	}
	if s.FilePath != "" {
		return s.FilePath
	}
	return s.Name
}

// JobConfig holds per-job tunables. Zero values fall back to the tenant's
// configured defaults at submission time.
type JobConfig struct {
	Concurrency         int          `json:"concurrency" yaml:"concurrency"`
	MaxPages            int          `json:"max_pages" yaml:"max_pages"`
	ApprovalThreshold   float64      `json:"approval_threshold" yaml:"approval_threshold"`
	MinCompleteness     float64      `json:"min_completeness" yaml:"min_completeness"`
	MinValidRate        float64      `json:"min_valid_rate" yaml:"min_valid_rate"`
	FuzzyMergeThreshold float64      `json:"fuzzy_merge_threshold" yaml:"fuzzy_merge_threshold"`
	MappingMinSuccess   float64      `json:"mapping_min_success" yaml:"mapping_min_success"`
	MaxErrors           int          `json:"max_errors" yaml:"max_errors"`
	SourcePriority      []SourceType `json:"source_priority,omitempty" yaml:"source_priority,omitempty"`
}

// Job is one extraction run. Mutated only by the orchestrator; terminal
// states are immutable.
type Job struct {
	ID        string             `json:"id"`
	TenantID  string             `json:"tenant_id"`
	Sources   []SourceDescriptor `json:"sources"`
	State     JobState           `json:"state"`
	Config    JobConfig          `json:"config"`
	Progress  Progress           `json:"progress"`
	Error     string             `json:"error,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Progress tracks per-job counters. Per-source and per-record failures
// accumulate here and never fail the job.
type Progress struct {
	TotalSources      int        `json:"total_sources"`
	CompletedSources  int        `json:"completed_sources"`
	FailedSources     int        `json:"failed_sources"`
	PagesFetched      int        `json:"pages_fetched"`
	RawCandidates     int        `json:"raw_candidates"`
	NormalizedCount   int        `json:"normalized_count"`
	ConsolidatedCount int        `json:"consolidated_count"`
	DroppedRegions    int        `json:"dropped_regions"`
	ErrorCount        int        `json:"error_count"`
	Errors            []JobError `json:"errors,omitempty"`
}

// JobError is one accumulated non-fatal failure.
type JobError struct {
	SourceID string `json:"source_id,omitempty"`
	Stage    string `json:"stage"`
	Message  string `json:"message"`
}

// Checkpoint is a persisted snapshot of a job's working set, written at
// every state transition so a restarted process resumes from the last
// completed stage instead of from scratch.
type Checkpoint struct {
	JobID     string    `json:"job_id"`
	State     JobState  `json:"state"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// EventKind classifies progress events.
type EventKind string

const (
	EventSourceStarted  EventKind = "source_started"
	EventSourceComplete EventKind = "source_complete"
	EventSourceFailed   EventKind = "source_failed"
	EventPatternLearned EventKind = "pattern_learned"
	EventStateChanged   EventKind = "state_changed"
	EventNeedsReview    EventKind = "needs_review"
	EventCompleted      EventKind = "completed"
	EventFailed         EventKind = "failed"
)

// ProgressEvent is one entry in a job's progress stream. Seq is assigned
// by the store and is strictly increasing per job.
type ProgressEvent struct {
	Seq      int64     `json:"seq,omitempty"`
	JobID    string    `json:"job_id"`
	Kind     EventKind `json:"kind"`
	SourceID string    `json:"source_id,omitempty"`
	State    JobState  `json:"state,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}
