package rules

import (
	"strconv"
	"strings"
)

// ConstraintResult is the verdict for one predicate evaluation.
type ConstraintResult struct {
	Pass              bool
	Skipped           bool
	DependencyMissing bool
}

// EvaluateConstraint evaluates a predicate. Value resolution precedence:
// componentProps first, then productValues. A value is known iff non-empty and
// not a sentinel.
//
// For "A requires B": if A is unknown the predicate is vacuously true
// (skipped); if A is known and B is unknown the predicate fails with
// dependencyMissing. Comparison operators coerce both sides to numbers when
// the left field's contract says number, otherwise compare normalized strings.
func (e *Engine) EvaluateConstraint(c Constraint, componentProps, productValues map[string]string) ConstraintResult {
	resolve := func(field string) (string, bool) {
		if componentProps != nil {
			if v, ok := componentProps[field]; ok && IsKnown(v) {
				return v, true
			}
		}
		if v, ok := productValues[field]; ok && IsKnown(v) {
			return v, true
		}
		return "", false
	}

	left, leftKnown := resolve(c.Left)

	if c.Op == "requires" {
		if !leftKnown {
			return ConstraintResult{Pass: true, Skipped: true}
		}
		if _, ok := resolve(c.Right); !ok {
			return ConstraintResult{Pass: false, DependencyMissing: true}
		}
		return ConstraintResult{Pass: true}
	}

	if !leftKnown {
		return ConstraintResult{Pass: true, Skipped: true}
	}

	var right string
	if c.RightIsField {
		var ok bool
		right, ok = resolve(c.Right)
		if !ok {
			return ConstraintResult{Pass: true, Skipped: true}
		}
	} else {
		right = c.Right
	}

	numeric := false
	if rule, ok := e.Rule(c.Left); ok && rule.Contract.Type == TypeNumber {
		numeric = true
	}
	if numeric {
		lv, errL := strconv.ParseFloat(strings.TrimSpace(left), 64)
		rv, errR := strconv.ParseFloat(strings.TrimSpace(right), 64)
		if errL == nil && errR == nil {
			return ConstraintResult{Pass: compareFloat(lv, rv, c.Op)}
		}
	}
	return ConstraintResult{Pass: compareString(normalizeSentinel(left), normalizeSentinel(right), c.Op)}
}

func compareFloat(a, b float64, op string) bool {
	switch op {
	case ">=":
		return a >= b
	case "<=":
		return a <= b
	case "==":
		return a == b
	case "!=":
		return a != b
	case "<":
		return a < b
	case ">":
		return a > b
	}
	return false
}

func compareString(a, b, op string) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case ">=":
		return a >= b
	case "<=":
		return a <= b
	case "<":
		return a < b
	case ">":
		return a > b
	}
	return false
}
