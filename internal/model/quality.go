package model

// QualityReport aggregates per-job quality metrics computed by the gate.
type QualityReport struct {
	JobID            string       `json:"job_id"`
	TotalItems       int          `json:"total_items"`
	ValidItems       int          `json:"valid_items"`
	InvalidItems     int          `json:"invalid_items"`
	MeanConfidence   float64      `json:"mean_confidence"`
	MeanCompleteness float64      `json:"mean_completeness"`
	Approved         bool         `json:"approved"`
	Reasons          []string     `json:"reasons,omitempty"`
	ReviewItems      []ReviewItem `json:"review_items,omitempty"`
}

// ReviewItem is one low-confidence product exposed for human decision.
type ReviewItem struct {
	ProductID    string   `json:"product_id"`
	Name         string   `json:"name"`
	SKU          string   `json:"sku,omitempty"`
	Confidence   float64  `json:"confidence"`
	Completeness float64  `json:"completeness"`
	Reasons      []string `json:"reasons,omitempty"`
}

// ReviewAction is the human decision for one review item.
type ReviewAction string

const (
	ReviewAccept  ReviewAction = "accept"
	ReviewCorrect ReviewAction = "correct"
	ReviewReject  ReviewAction = "reject"
)

// ReviewDecision is the typed resume payload for one product.
type ReviewDecision struct {
	ProductID   string            `json:"product_id" yaml:"product_id"`
	Action      ReviewAction      `json:"action" yaml:"action"`
	Corrections map[string]string `json:"corrections,omitempty" yaml:"corrections,omitempty"`
}

// JobResult is the caller-visible outcome of a completed job.
type JobResult struct {
	Products        []ConsolidatedProduct `json:"consolidated_products"`
	LearnedPatterns []SourcePattern       `json:"learned_patterns,omitempty"`
	Quality         QualityReport         `json:"quality_report"`
}
