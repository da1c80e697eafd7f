package rules

import (
	"sort"
	"strconv"
	"strings"
)

// GateInput is the final field map heading for publish, plus an optional
// explicit evaluation order.
type GateInput struct {
	Fields     map[string]string
	FieldOrder []string
}

// GateChange records one mutation the gate applied.
type GateChange struct {
	Field  string `json:"field"`
	Stage  string `json:"stage"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// GateOutput is the gated field map with its change and failure logs.
type GateOutput struct {
	Fields   map[string]string
	Changes  []GateChange
	Failures []GateFailure
}

// ApplyRuntimeGate runs the final pass applied before publish: migrations,
// enum canonicalization (respecting policy), list sort plus min/max
// enforcement, then cross-field constraints. Failing fields are set to Unk and
// a failure is recorded; the gate never errors. The gate is idempotent.
func (e *Engine) ApplyRuntimeGate(in GateInput) GateOutput {
	out := GateOutput{Fields: e.ApplyMigrations(cloneFields(in.Fields))}

	order := in.FieldOrder
	if len(order) == 0 {
		order = e.Fields()
	}
	for _, field := range order {
		value, present := out.Fields[field]
		if !present || !IsKnown(value) {
			continue
		}
		rule, ok := e.Rule(field)
		if !ok {
			continue
		}

		if rule.Contract.Type == TypeEnum && rule.Contract.Shape == ShapeScalar {
			value = e.gateEnum(field, rule, value, &out)
		}
		if rule.Contract.Shape == ShapeList {
			value = e.gateList(field, rule, value, &out)
		}
		out.Fields[field] = value
	}

	e.gateConstraints(&out)
	return out
}

func (e *Engine) gateEnum(field string, rule FieldRule, value string, out *GateOutput) string {
	if canonical, ok := e.KnownCanonical(field, value); ok {
		if canonical != value {
			out.Changes = append(out.Changes, GateChange{Field: field, Stage: "enum", Before: value, After: canonical})
		}
		return canonical
	}
	if rule.EnumPolicy == EnumClosed {
		out.Failures = append(out.Failures, GateFailure{Field: field, ReasonCode: FailEnumUnknownClosed, Stage: "enum"})
		out.Changes = append(out.Changes, GateChange{Field: field, Stage: "enum", Before: value, After: Unk})
		return Unk
	}
	return value
}

func (e *Engine) gateList(field string, rule FieldRule, value string, out *GateOutput) string {
	lr := rule.Contract.ListRules
	if lr == nil {
		return value
	}
	items := listSplitRe.Split(value, -1)
	kept := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key := strings.ToLower(strings.Join(strings.Fields(item), " "))
		if lr.Dedupe && seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, item)
	}

	switch lr.Sort {
	case SortAsc:
		sortList(kept, rule.Contract.Type, false)
	case SortDesc:
		sortList(kept, rule.Contract.Type, true)
	}
	if lr.MaxItems > 0 && len(kept) > lr.MaxItems {
		kept = kept[:lr.MaxItems]
	}
	if lr.MinItems > 0 && len(kept) < lr.MinItems {
		out.Failures = append(out.Failures, GateFailure{Field: field, ReasonCode: FailMinItems, Stage: "list_rules"})
		out.Changes = append(out.Changes, GateChange{Field: field, Stage: "list_rules", Before: value, After: Unk})
		return Unk
	}
	gated := strings.Join(kept, ", ")
	if gated != value {
		out.Changes = append(out.Changes, GateChange{Field: field, Stage: "list_rules", Before: value, After: gated})
	}
	return gated
}

func (e *Engine) gateConstraints(out *GateOutput) {
	eval := func(c Constraint) {
		res := e.EvaluateConstraint(c, nil, out.Fields)
		if res.Pass || res.Skipped {
			return
		}
		out.Failures = append(out.Failures, GateFailure{Field: c.Left, ReasonCode: FailConstraint, Stage: "constraints"})
		if v, ok := out.Fields[c.Left]; ok && v != Unk {
			out.Changes = append(out.Changes, GateChange{Field: c.Left, Stage: "constraints", Before: v, After: Unk})
			out.Fields[c.Left] = Unk
		}
	}
	for _, field := range e.Fields() {
		rule := e.rules[field]
		for _, c := range rule.Constraints {
			eval(c)
		}
	}
	for _, c := range e.cross {
		eval(c)
	}
}

func sortList(items []string, t ValueType, desc bool) {
	less := func(i, j int) bool { return items[i] < items[j] }
	if t == TypeNumber {
		less = func(i, j int) bool {
			a, errA := strconv.ParseFloat(items[i], 64)
			b, errB := strconv.ParseFloat(items[j], 64)
			if errA != nil || errB != nil {
				return items[i] < items[j]
			}
			return a < b
		}
	}
	if desc {
		inner := less
		less = func(i, j int) bool { return inner(j, i) }
	}
	sort.SliceStable(items, less)
}

func cloneFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
