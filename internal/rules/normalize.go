package rules

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// NormalizeResult is the outcome of normalizing one raw value against a field
// contract.
type NormalizeResult struct {
	OK          bool
	Normalized  string      // scalar canonical form; empty when !OK
	List        []string    // populated for list-shaped fields
	FailureCode FailureCode // set when !OK
}

// unitToBase converts a source unit into the contract's base unit family.
// Keys are lowercased unit tokens as they appear on spec pages.
var unitToBase = map[string]struct {
	base   string
	factor float64
}{
	"mm": {"mm", 1}, "millimeter": {"mm", 1}, "millimeters": {"mm", 1},
	"cm": {"mm", 10}, "centimeter": {"mm", 10}, "centimeters": {"mm", 10},
	"in": {"mm", 25.4}, "inch": {"mm", 25.4}, "inches": {"mm", 25.4}, "\"": {"mm", 25.4},
	"m":  {"mm", 1000},
	"g":  {"g", 1}, "gram": {"g", 1}, "grams": {"g", 1},
	"kg": {"g", 1000},
	"oz": {"g", 28.3495}, "ounce": {"g", 28.3495}, "ounces": {"g", 28.3495},
	"lb": {"g", 453.592}, "lbs": {"g", 453.592}, "pound": {"g", 453.592}, "pounds": {"g", 453.592},
	"hz": {"hz", 1}, "khz": {"hz", 1000}, "mhz": {"hz", 1e6},
	"ms": {"ms", 1}, "s": {"ms", 1000}, "sec": {"ms", 1000},
	"dpi": {"dpi", 1}, "cpi": {"dpi", 1},
	"mah": {"mah", 1},
	"h": {"h", 1}, "hr": {"h", 1}, "hrs": {"h", 1}, "hour": {"h", 1}, "hours": {"h", 1},
	"ips": {"ips", 1},
}

var numberRe = regexp.MustCompile(`^\s*([+-]?\d+(?:[.,]\d+)?)\s*([a-zA-Z"%/]*)\s*$`)

var listSplitRe = regexp.MustCompile(`\s*[,;/|]\s*`)

var trueTokens = map[string]bool{
	"true": true, "yes": true, "y": true, "1": true, "on": true, "supported": true,
}
var falseTokens = map[string]bool{
	"false": true, "no": true, "n": true, "0": true, "off": true, "unsupported": true,
}

// NormalizeCandidate parses a raw value against the field contract: unit
// conversion, type coercion, list splitting, and list dedupe only. Sorting and
// min/max enforcement are deferred to the runtime gate.
func (e *Engine) NormalizeCandidate(field, raw string) NormalizeResult {
	rule, ok := e.Rule(field)
	if !ok {
		return NormalizeResult{OK: false, FailureCode: FailParse}
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return NormalizeResult{OK: false, FailureCode: FailParse}
	}

	// Parse templates get first crack: a compiled template can lift the value
	// out of prose like "weighs just 60 grams".
	if res, matched := e.applyTemplates(field, raw); matched {
		raw = res
	}

	if rule.Contract.Shape == ShapeList {
		items := listSplitRe.Split(raw, -1)
		out := make([]string, 0, len(items))
		seen := make(map[string]bool, len(items))
		for _, item := range items {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			norm := e.normalizeScalar(rule, item)
			if !norm.OK {
				return NormalizeResult{OK: false, FailureCode: norm.FailureCode}
			}
			key := strings.ToLower(strings.Join(strings.Fields(norm.Normalized), " "))
			if rule.Contract.ListRules != nil && rule.Contract.ListRules.Dedupe && seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, norm.Normalized)
		}
		if len(out) == 0 {
			return NormalizeResult{OK: false, FailureCode: FailParse}
		}
		return NormalizeResult{OK: true, Normalized: strings.Join(out, ", "), List: out}
	}

	return e.normalizeScalar(rule, raw)
}

func (e *Engine) applyTemplates(field string, raw string) (string, bool) {
	for _, re := range e.templates[field] {
		if m := re.FindStringSubmatch(raw); len(m) > 1 {
			return m[1], true
		}
	}
	return raw, false
}

func (e *Engine) normalizeScalar(rule FieldRule, raw string) NormalizeResult {
	switch rule.Contract.Type {
	case TypeNumber:
		return normalizeNumber(rule, raw)
	case TypeBool:
		tok := normalizeSentinel(raw)
		switch {
		case trueTokens[tok]:
			return NormalizeResult{OK: true, Normalized: "true"}
		case falseTokens[tok]:
			return NormalizeResult{OK: true, Normalized: "false"}
		default:
			return NormalizeResult{OK: false, FailureCode: FailParse}
		}
	case TypeDate:
		return normalizeDate(raw)
	case TypeEnum:
		if canonical, ok := e.KnownCanonical(rule.Key, raw); ok {
			return NormalizeResult{OK: true, Normalized: canonical}
		}
		if rule.EnumPolicy == EnumClosed {
			return NormalizeResult{OK: false, FailureCode: FailEnumUnknown}
		}
		return NormalizeResult{OK: true, Normalized: strings.TrimSpace(raw)}
	default: // string
		return NormalizeResult{OK: true, Normalized: strings.Join(strings.Fields(raw), " ")}
	}
}

func normalizeNumber(rule FieldRule, raw string) NormalizeResult {
	m := numberRe.FindStringSubmatch(raw)
	if m == nil {
		return NormalizeResult{OK: false, FailureCode: FailParse}
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return NormalizeResult{OK: false, FailureCode: FailParse}
	}
	unit := strings.ToLower(strings.TrimSpace(m[2]))
	if unit != "" && rule.Contract.Unit != "" {
		conv, ok := unitToBase[unit]
		if !ok {
			return NormalizeResult{OK: false, FailureCode: FailUnitUnknown}
		}
		if conv.base != rule.Contract.Unit {
			return NormalizeResult{OK: false, FailureCode: FailUnitUnknown}
		}
		v *= conv.factor
	}
	if r := rule.Contract.Range; r != nil {
		if (r.Min != nil && v < *r.Min) || (r.Max != nil && v > *r.Max) {
			return NormalizeResult{OK: false, FailureCode: FailRangeViolation}
		}
	}
	return NormalizeResult{OK: true, Normalized: strconv.FormatFloat(v, 'f', -1, 64)}
}

var dateLayouts = []string{
	"2006-01-02", "January 2, 2006", "Jan 2, 2006", "2 January 2006",
	"01/02/2006", "2006/01/02", "January 2006", "2006",
}

func normalizeDate(raw string) NormalizeResult {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return NormalizeResult{OK: true, Normalized: t.Format("2006-01-02")}
		}
	}
	return NormalizeResult{OK: false, FailureCode: FailParse}
}
