// Package recognizer provides a client for the text/field recognition
// capability: given raw content, it returns candidate structured fields
// with per-field confidence. The same capability covers reading a rendered
// page and reading a scanned image, and also proposes selectors during
// pattern detection. It is consumed as a black box.
package recognizer

import "context"

// Client defines the recognition operations used by the pipeline.
type Client interface {
	// RecognizeFields extracts candidate records from a content region.
	RecognizeFields(ctx context.Context, req FieldRequest) (*FieldResult, error)
	// ProposeSelectors analyzes a content sample and proposes one locator
	// expression per requested role. Used only during pattern detection.
	ProposeSelectors(ctx context.Context, req SelectorRequest) (*SelectorProposal, error)
}

// FieldRequest asks for structured fields from one content region.
type FieldRequest struct {
	Content string   `json:"content"`
	Roles   []string `json:"roles"`
	// Hint describes the region shape: "listing", "table", "scanned", "text".
	Hint string `json:"hint,omitempty"`
	// Model overrides the client's default model; the consensus pass uses
	// this to run a second engine over the same region.
	Model string `json:"model,omitempty"`
}

// RecordFields is one recognized record.
type RecordFields struct {
	Fields     map[string]string  `json:"fields"`
	Confidence map[string]float64 `json:"confidence"`
}

// FieldResult holds the recognized records for a region.
type FieldResult struct {
	Records []RecordFields `json:"records"`
	// Clarity estimates how legible the region was in [0,1]; low clarity
	// regions are candidates for a consensus second pass.
	Clarity float64 `json:"clarity"`
	Engine  string  `json:"engine,omitempty"`
}

// SelectorRequest asks for locator expressions from a content sample.
type SelectorRequest struct {
	Origin string   `json:"origin"`
	Sample string   `json:"sample"`
	Roles  []string `json:"roles"`
}

// SelectorProposal maps each role to a proposed locator expression.
type SelectorProposal struct {
	Selectors  map[string]string `json:"selectors"`
	Confidence float64           `json:"confidence"`
}
