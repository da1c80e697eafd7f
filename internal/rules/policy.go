package rules

// ValueRow is one stored enum value subject to policy evaluation. Manual and
// overridden rows are immune to policy transitions.
type ValueRow struct {
	Field       string `json:"field"`
	Value       string `json:"value"`
	Manual      bool   `json:"manual"`
	Overridden  bool   `json:"overridden"`
	EnumPolicy  string `json:"enum_policy"`
	NeedsReview bool   `json:"needs_review"`
}

// ApplyEnumPolicyTransition re-evaluates stored value rows for a field after
// its enum policy changes. Every non-manual, non-overridden row gets the new
// policy unconditionally; needs_review becomes "not in known set" under
// closed, and false under open_prefer_known or open.
func (e *Engine) ApplyEnumPolicyTransition(field string, newPolicy EnumPolicy, rows []ValueRow) []ValueRow {
	out := make([]ValueRow, len(rows))
	copy(out, rows)
	for i := range out {
		if out[i].Field != field || out[i].Manual || out[i].Overridden {
			continue
		}
		out[i].EnumPolicy = string(newPolicy)
		if newPolicy == EnumClosed {
			_, known := e.KnownCanonical(field, out[i].Value)
			out[i].NeedsReview = !known
		} else {
			out[i].NeedsReview = false
		}
	}
	return out
}
