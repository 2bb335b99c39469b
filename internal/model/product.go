package model

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// FixedPoint is a fixed-point monetary amount in minor units (cents,
// centavos). Prices are never carried as floats past the recognizer.
type FixedPoint int64

// Float64 returns the major-unit value, for scoring and display only.
func (f FixedPoint) Float64() float64 { return float64(f) / 100 }

func (f FixedPoint) String() string {
	return fmt.Sprintf("%d.%02d", int64(f)/100, abs64(int64(f)%100))
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// SourceRef points back at where a value was extracted from.
type SourceRef struct {
	SourceID   string     `json:"source_id"`
	SourceType SourceType `json:"source_type"`
	Origin     string     `json:"origin"`
	Locator    string     `json:"locator,omitempty"` // page URL, page number, row index
}

// RawCandidate is one extracted record before normalization. It exists only
// inside a job's working set and carries the raw field bag untyped.
type RawCandidate struct {
	Source          SourceRef          `json:"source"`
	Fields          map[string]string  `json:"fields"`
	FieldConfidence map[string]float64 `json:"field_confidence,omitempty"`
	Confidence      float64            `json:"confidence"`
	Position        int                `json:"position"` // discovery order within the source
}

// NormalizedProduct is a RawCandidate mapped into the canonical schema.
// Immutable once produced: consolidation creates new records.
type NormalizedProduct struct {
	ID             string      `json:"id"`
	TenantID       string      `json:"tenant_id"`
	SKU            string      `json:"sku,omitempty"`
	Name           string      `json:"name"`
	NormalizedName string      `json:"normalized_name"`
	Brand          string      `json:"brand,omitempty"`
	Description    string      `json:"description,omitempty"`
	Category       string      `json:"category,omitempty"`
	Price          *FixedPoint `json:"price,omitempty"`
	Currency       string      `json:"currency,omitempty"`
	Stock          *int        `json:"stock,omitempty"`
	Images         []string    `json:"images,omitempty"`
	Sources        []SourceRef `json:"sources"`
	Confidence     float64     `json:"confidence"`
	Completeness   float64     `json:"completeness"`
	FieldErrors    []string    `json:"field_errors,omitempty"`
	ExtractedAt    time.Time   `json:"extracted_at"`
}

// ConsolidatedProduct is the tenant's canonical catalog entity, unique per
// (tenant, key).
type ConsolidatedProduct struct {
	ID             string      `json:"id"`
	TenantID       string      `json:"tenant_id"`
	Key            string      `json:"key"` // sku when present, else normalized name
	SKU            string      `json:"sku,omitempty"`
	Name           string      `json:"name"`
	NormalizedName string      `json:"normalized_name"`
	Brand          string      `json:"brand,omitempty"`
	Description    string      `json:"description,omitempty"`
	Category       string      `json:"category,omitempty"`
	Price          *FixedPoint `json:"price,omitempty"`
	Currency       string      `json:"currency,omitempty"`
	Stock          *int        `json:"stock,omitempty"`
	Images         []string    `json:"images,omitempty"`
	MergedFrom     []string    `json:"merged_from"`
	Sources        []SourceRef `json:"sources"`
	Confidence     float64     `json:"confidence"`
	Completeness   float64     `json:"completeness"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// FieldResolution records how one conflicting field was resolved in a merge.
type FieldResolution struct {
	Field         string            `json:"field"`
	WinningSource string            `json:"winning_source"`
	WinningValue  string            `json:"winning_value"`
	LosingValues  map[string]string `json:"losing_values,omitempty"` // source -> value
}

// ConsolidationRecord is one append-only audit entry for a merge.
type ConsolidationRecord struct {
	ID             string            `json:"id"`
	TenantID       string            `json:"tenant_id"`
	JobID          string            `json:"job_id"`
	MasterID       string            `json:"master_id"`
	SubsumedIDs    []string          `json:"subsumed_ids"`
	Strategy       string            `json:"strategy"`
	Resolutions    []FieldResolution `json:"resolutions,omitempty"`
	Confidence     float64           `json:"confidence"`
	HumanValidated bool              `json:"human_validated"`
	CreatedAt      time.Time         `json:"created_at"`
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}
