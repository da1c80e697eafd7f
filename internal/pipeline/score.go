package pipeline

import (
	"strconv"
	"strings"

	"github.com/CdubVentures/spec-harvester-sub003/internal/rules"
)

const (
	exactKeyBonus      = 2.0
	suffixKeyBonus     = 1.0
	plausibilityBound  = 6.0
	inRangeBonus       = 2.0
	outOfRangePenalty  = -6.0
	knownEnumBonus     = 2.0
	unknownClosedDrop  = -4.0
	unparseableNumeric = -3.0
)

// scoreCandidate computes base(method) + key-match bonus + plausibility.
func scoreCandidate(e *rules.Engine, c *Candidate) {
	score := methodBase[c.Method]
	if c.ExactKeyMatch {
		score += exactKeyBonus
	} else {
		score += suffixKeyBonus
	}
	score += plausibility(e, c.Field, c.Value)
	c.Score = score
}

// plausibility judges a normalized value against the field contract, bounded
// to +/- plausibilityBound.
func plausibility(e *rules.Engine, field, value string) float64 {
	rule, ok := e.Rule(field)
	if !ok {
		return 0
	}
	// list values are judged per-item at the gate, not here
	if rule.Contract.Shape == rules.ShapeList {
		return 0
	}
	var p float64
	switch rule.Contract.Type {
	case rules.TypeNumber:
		first := strings.Fields(value)
		if len(first) == 0 {
			return 0
		}
		n, err := strconv.ParseFloat(first[0], 64)
		if err != nil {
			p = unparseableNumeric
			break
		}
		if r := rule.Contract.Range; r != nil {
			if (r.Min != nil && n < *r.Min) || (r.Max != nil && n > *r.Max) {
				p = outOfRangePenalty
			} else {
				p = inRangeBonus
			}
		}
	case rules.TypeEnum:
		if _, known := e.KnownCanonical(field, value); known {
			p = knownEnumBonus
		} else if rule.EnumPolicy == rules.EnumClosed {
			p = unknownClosedDrop
		}
	}
	if p > plausibilityBound {
		p = plausibilityBound
	}
	if p < -plausibilityBound {
		p = -plausibilityBound
	}
	return p
}
