package pipeline

import (
	"strings"

	"github.com/CdubVentures/spec-harvester-sub003/internal/rules"
)

// FieldMapper resolves raw observation keys to schema fields. Aliases come
// from the field key itself and each rule's search anchors; section-qualified
// keys ("Dimensions Weight") fall back to the longest alias suffix.
type FieldMapper struct {
	byAlias map[string]string
}

func NewFieldMapper(e *rules.Engine) *FieldMapper {
	m := &FieldMapper{byAlias: make(map[string]string)}
	for _, field := range e.Fields() {
		rule, ok := e.Rule(field)
		if !ok {
			continue
		}
		m.addAlias(field, field)
		for _, anchor := range rule.SearchHints.Anchors {
			m.addAlias(anchor, field)
		}
	}
	return m
}

func (m *FieldMapper) addAlias(alias, field string) {
	norm := normalizeKey(alias)
	if norm == "" {
		return
	}
	if _, taken := m.byAlias[norm]; !taken {
		m.byAlias[norm] = field
	}
}

// Map returns the schema field for a raw key. exact is false when only a
// suffix of the key matched (a section-qualified hit).
func (m *FieldMapper) Map(rawKey string) (field string, exact bool, ok bool) {
	norm := normalizeKey(rawKey)
	if norm == "" {
		return "", false, false
	}
	if f, hit := m.byAlias[norm]; hit {
		return f, true, true
	}
	words := strings.Fields(norm)
	for i := 1; i < len(words); i++ {
		if f, hit := m.byAlias[strings.Join(words[i:], " ")]; hit {
			return f, false, true
		}
	}
	return "", false, false
}

func normalizeKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
