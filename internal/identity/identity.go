// Package identity models the product identity lock and scores candidate
// sources against it. Identity is taken as input for a run; this package never
// reconciles across different products.
package identity

import (
	"fmt"
	"regexp"
	"strings"
)

// Lock pins the product a run is harvesting. Immutable per run.
type Lock struct {
	Brand   string `json:"brand"`
	Model   string `json:"model"`
	Variant string `json:"variant,omitempty"`
	SKU     string `json:"sku,omitempty"`
}

// LockStatus describes how much of the identity is pinned.
type LockStatus string

const (
	LockedFull       LockStatus = "locked_full"
	LockedBrandModel LockStatus = "locked_brand_model"
	LockedPartial    LockStatus = "locked_partial"
	Unlocked         LockStatus = "unlocked"
)

// ErrIdentityInsufficient rejects jobs without at least brand+model.
var ErrIdentityInsufficient = fmt.Errorf("identity_insufficient: brand and model required")

var placeholderVariants = map[string]bool{
	"unk": true, "unknown": true, "na": true, "n/a": true,
	"none": true, "null": true, "": true,
}

// Status derives the lock status from which fields are non-blank.
func (l Lock) Status() LockStatus {
	brand := strings.TrimSpace(l.Brand) != ""
	model := strings.TrimSpace(l.Model) != ""
	variant := !placeholderVariants[strings.ToLower(strings.TrimSpace(l.Variant))]
	sku := strings.TrimSpace(l.SKU) != ""
	switch {
	case brand && model && (variant || sku):
		return LockedFull
	case brand && model:
		return LockedBrandModel
	case brand:
		return LockedPartial
	default:
		return Unlocked
	}
}

// Validate enforces the core invariant: a job below locked_brand_model is
// rejected before planning.
func (l Lock) Validate() error {
	switch l.Status() {
	case LockedFull, LockedBrandModel:
		return nil
	default:
		return ErrIdentityInsufficient
	}
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// ProductID builds the deterministic category-brand-model[-variant] slug.
// Placeholder variants are stripped.
func ProductID(category string, l Lock) string {
	parts := []string{category, l.Brand, l.Model}
	if !placeholderVariants[strings.ToLower(strings.TrimSpace(l.Variant))] {
		parts = append(parts, l.Variant)
	}
	slugged := make([]string, 0, len(parts))
	for _, p := range parts {
		s := slugStrip.ReplaceAllString(strings.ToLower(strings.TrimSpace(p)), "-")
		s = strings.Trim(s, "-")
		if s != "" {
			slugged = append(slugged, s)
		}
	}
	return strings.Join(slugged, "-")
}
