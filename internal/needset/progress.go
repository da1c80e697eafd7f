package needset

// RoundSnapshot captures the convergence state at one round boundary.
type RoundSnapshot struct {
	Round           int     `json:"round"`
	MissingRequired int     `json:"missing_required"`
	MissingCritical int     `json:"missing_critical"`
	Contradictions  int     `json:"contradictions"`
	AvgConfidence   float64 `json:"avg_confidence"`
	Validated       bool    `json:"validated"`
}

// Progress is the verdict comparing two consecutive rounds.
type Progress struct {
	Improved bool     `json:"improved"`
	Reasons  []string `json:"reasons"`
}

// confidence deltas below this threshold do not count as progress
const confidenceDelta = 0.01

// EvaluateRoundProgress compares the previous round's snapshot with the
// current one. The first round always counts as progress.
func EvaluateRoundProgress(previous, current *RoundSnapshot) Progress {
	if previous == nil {
		return Progress{Improved: true, Reasons: []string{"first_round"}}
	}
	var reasons []string
	if current.MissingRequired < previous.MissingRequired {
		reasons = append(reasons, "missing_required_reduced")
	}
	if current.MissingCritical < previous.MissingCritical {
		reasons = append(reasons, "critical_reduced")
	}
	if current.Contradictions < previous.Contradictions {
		reasons = append(reasons, "contradictions_reduced")
	}
	if current.AvgConfidence-previous.AvgConfidence >= confidenceDelta {
		reasons = append(reasons, "confidence_up")
	}
	if current.Validated && !previous.Validated {
		reasons = append(reasons, "validated")
	}
	return Progress{Improved: len(reasons) > 0, Reasons: reasons}
}

// Stop reasons, in evaluation order.
const (
	StopCompleted       = "completed"
	StopBudgetExhausted = "budget_exhausted"
	StopMaxRounds       = "max_rounds_reached"
	StopNoProgress      = "no_progress"
	StopLowQuality      = "low_quality_rounds"
)

// StopInputs is everything the stop decision looks at.
type StopInputs struct {
	AllRequiredMet      bool
	Contradictions      int
	BudgetExhausted     bool
	RoundIndex          int
	RoundsLimit         int
	NoProgressStreak    int
	NoProgressLimit     int
	LowQualityRounds    int
	MaxLowQualityRounds int
}

// StopReason evaluates the stop conditions in order; the first match wins.
// Budget exhaustion never ends the run before round 1.
func StopReason(in StopInputs) (string, bool) {
	if in.AllRequiredMet && in.Contradictions == 0 {
		return StopCompleted, true
	}
	if in.BudgetExhausted && in.RoundIndex > 0 {
		return StopBudgetExhausted, true
	}
	if in.RoundIndex >= in.RoundsLimit {
		return StopMaxRounds, true
	}
	if in.NoProgressLimit > 0 && in.NoProgressStreak >= in.NoProgressLimit {
		return StopNoProgress, true
	}
	if in.MaxLowQualityRounds > 0 && in.LowQualityRounds >= in.MaxLowQualityRounds {
		return StopLowQuality, true
	}
	return "", false
}

// RoundContext is handed to the planner and query generator each round.
type RoundContext struct {
	Index           int      `json:"index"`
	Mode            string   `json:"mode"`
	ForceVerify     bool     `json:"force_verify"`
	MissingRequired []string `json:"missing_required,omitempty"`
	FocusFields     []string `json:"focus_fields,omitempty"`
	ExtraQueries    []string `json:"extra_queries,omitempty"`
	EscalatedFields []string `json:"escalated_fields,omitempty"`
}
