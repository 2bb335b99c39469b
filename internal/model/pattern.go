package model

import "time"

// FieldRole names what part of a record a pattern locates.
type FieldRole string

const (
	RoleRecord      FieldRole = "record" // repeating record container
	RoleName        FieldRole = "name"
	RolePrice       FieldRole = "price"
	RoleSKU         FieldRole = "sku"
	RoleBrand       FieldRole = "brand"
	RoleCategory    FieldRole = "category"
	RoleDescription FieldRole = "description"
	RoleImage       FieldRole = "image"
	RoleLink        FieldRole = "link"
	RoleStock       FieldRole = "stock"
)

// SourcePattern is a learned extraction rule keyed by (origin, role).
// TenantID "" marks a global read-only seed; tenant-private rows shadow
// seeds and are the only rows outcome feedback mutates.
type SourcePattern struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id,omitempty"`
	Origin      string     `json:"origin"`
	Role        FieldRole  `json:"role"`
	Selector    string     `json:"selector"`
	Confidence  float64    `json:"confidence"`
	SuccessRate float64    `json:"success_rate"`
	TimesUsed   int        `json:"times_used"`
	Stale       bool       `json:"stale"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Seed reports whether the pattern is a global read-only seed.
func (p SourcePattern) Seed() bool { return p.TenantID == "" }
