package storage

// Summary is the per-run verdict consumers inspect instead of exit codes.
type Summary struct {
	RunID                        string             `json:"run_id"`
	ProductID                    string             `json:"product_id"`
	Validated                    bool               `json:"validated"`
	Confidence                   float64            `json:"confidence"`
	CompletenessRequired         float64            `json:"completeness_required"`
	CoverageOverall              float64            `json:"coverage_overall"`
	ConstraintContradictionCount int                `json:"constraint_contradiction_count"`
	Publishable                  bool               `json:"publishable"`
	PublishBlockers              []string           `json:"publish_blockers"`
	FieldReasoning               map[string]string  `json:"field_reasoning"`
	StopReason                   string             `json:"stop_reason"`
	Rounds                       int                `json:"rounds"`
	FinishedAt                   string             `json:"finished_at"`
}

// ShouldPromote applies the promotion gate: a run is promoted iff it is
// publishable and strictly improves on the current published summary on any
// of validated, confidence, completeness_required, coverage_overall, or
// constraint_contradiction_count (lower is better). A missing current summary
// always promotes a publishable run.
func ShouldPromote(candidate Summary, current *Summary) bool {
	if !candidate.Publishable {
		return false
	}
	if current == nil {
		return true
	}
	switch {
	case candidate.Validated && !current.Validated:
		return true
	case candidate.Confidence > current.Confidence:
		return true
	case candidate.CompletenessRequired > current.CompletenessRequired:
		return true
	case candidate.CoverageOverall > current.CoverageOverall:
		return true
	case candidate.ConstraintContradictionCount < current.ConstraintContradictionCount:
		return true
	}
	return false
}
