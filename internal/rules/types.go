// Package rules implements the field-rules engine: a compiled per-category
// schema of field contracts, enums, list rules, constraints and key
// migrations, plus the normalization and runtime-gate operations enforced
// against it. The compiled engine is immutable; hot reloads build a new
// engine and swap it at a round boundary.
package rules

import "fmt"

// RequiredLevel orders fields from most to least strict.
type RequiredLevel string

const (
	LevelIdentity RequiredLevel = "identity"
	LevelCritical RequiredLevel = "critical"
	LevelRequired RequiredLevel = "required"
	LevelExpected RequiredLevel = "expected"
	LevelOptional RequiredLevel = "optional"
)

// Difficulty drives search-effort scaling.
type Difficulty string

const (
	DifficultyEasy      Difficulty = "easy"
	DifficultyMedium    Difficulty = "medium"
	DifficultyHard      Difficulty = "hard"
	DifficultyVeryHard  Difficulty = "very_hard"
	DifficultyExtraHard Difficulty = "extra_hard"
)

// Availability drives undisclosed-threshold policy.
type Availability string

const (
	AvailabilityAlways    Availability = "always"
	AvailabilityExpected  Availability = "expected"
	AvailabilitySometimes Availability = "sometimes"
	AvailabilityRare      Availability = "rare"
	AvailabilityUnknown   Availability = "unknown"
)

// ValueType is the contract type of a field value.
type ValueType string

const (
	TypeNumber ValueType = "number"
	TypeString ValueType = "string"
	TypeEnum   ValueType = "enum"
	TypeBool   ValueType = "bool"
	TypeDate   ValueType = "date"
)

// Shape distinguishes scalar fields from lists.
type Shape string

const (
	ShapeScalar Shape = "scalar"
	ShapeList   Shape = "list"
)

// SortOrder applies to list fields at the runtime gate.
type SortOrder string

const (
	SortNone SortOrder = "none"
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// EnumPolicy controls how out-of-set enum values are treated.
type EnumPolicy string

const (
	EnumClosed          EnumPolicy = "closed"
	EnumOpenPreferKnown EnumPolicy = "open_prefer_known"
	EnumOpen            EnumPolicy = "open"
)

// Unk is the reserved sentinel for "value unknown". Never equal to any
// legitimate value.
const Unk = "unk"

var sentinels = map[string]bool{
	"unk": true, "unknown": true, "n/a": true, "na": true,
	"none": true, "null": true, "": true,
}

// IsKnown reports whether a value is non-empty and not a sentinel.
func IsKnown(v string) bool {
	return !sentinels[normalizeSentinel(v)]
}

// Range bounds a numeric contract. Nil ends are unbounded.
type Range struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// ListRules govern list-shaped fields.
type ListRules struct {
	Dedupe   bool      `json:"dedupe"`
	Sort     SortOrder `json:"sort"`
	MinItems int       `json:"min_items"`
	MaxItems int       `json:"max_items"`
}

// Contract is the typed shape of a field value.
type Contract struct {
	Type      ValueType  `json:"type"`
	Shape     Shape      `json:"shape"`
	Unit      string     `json:"unit,omitempty"`
	Range     *Range     `json:"range,omitempty"`
	ListRules *ListRules `json:"list_rules,omitempty"`
}

// EvidenceRule sets the reference requirements for a field.
type EvidenceRule struct {
	Required        bool `json:"required"`
	MinEvidenceRefs int  `json:"min_evidence_refs"`
	DistinctSources int  `json:"distinct_sources,omitempty"`
}

// Constraint is a logical predicate over fields. Three operator families:
// comparison against a literal, "requires", and cross-field comparison
// (RightIsField true).
type Constraint struct {
	Left         string `json:"left"`
	Op           string `json:"op"` // >=, <=, ==, !=, <, >, requires
	Right        string `json:"right"`
	RightIsField bool   `json:"right_is_field,omitempty"`
}

// SearchHints improve retrieval precision for a field.
type SearchHints struct {
	Anchors       []string `json:"anchors,omitempty"`
	QueryTerms    []string `json:"query_terms,omitempty"`
	ExpectedUnits []string `json:"expected_units,omitempty"`
}

// FieldRule is the compiled per-field schema entry.
type FieldRule struct {
	Key           string        `json:"key"`
	RequiredLevel RequiredLevel `json:"required_level"`
	Difficulty    Difficulty    `json:"difficulty"`
	Availability  Availability  `json:"availability"`
	Contract      Contract      `json:"contract"`
	Evidence      EvidenceRule  `json:"evidence"`
	Constraints   []Constraint  `json:"constraints,omitempty"`
	SearchHints   SearchHints   `json:"search_hints,omitempty"`
	EnumPolicy    EnumPolicy    `json:"enum_policy,omitempty"`
}

// FailureCode classifies normalization and gate failures.
type FailureCode string

const (
	FailParse             FailureCode = "parse_failed"
	FailUnitUnknown       FailureCode = "unit_unknown"
	FailRangeViolation    FailureCode = "range_violation"
	FailEnumUnknown       FailureCode = "enum_unknown"
	FailEnumUnknownClosed FailureCode = "enum_unknown_under_closed"
	FailMinItems          FailureCode = "min_items_not_met"
	FailConstraint        FailureCode = "constraint_failed"
)

// GateFailure records a runtime-gate rejection. The field is set to Unk.
type GateFailure struct {
	Field      string      `json:"field"`
	ReasonCode FailureCode `json:"reason_code"`
	Stage      string      `json:"stage"` // migrations, enum, list_rules, constraints
}

func (f GateFailure) String() string {
	return fmt.Sprintf("%s: %s at %s", f.Field, f.ReasonCode, f.Stage)
}
