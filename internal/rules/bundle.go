package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// SchemaVersion is the bundle format this engine compiles. A bundle written
// by a different compiler version is rejected with rules_not_compiled.
const SchemaVersion = 3

// ErrRulesNotCompiled is returned when the compiled bundle for a category is
// missing or its version does not match.
var ErrRulesNotCompiled = fmt.Errorf("rules_not_compiled")

// ErrCategoryRequired is returned when engine construction lacks a category.
var ErrCategoryRequired = fmt.Errorf("category_required")

// Bundle is the raw compiled artifact as persisted under
// helper_files/{category}/_generated/.
type Bundle struct {
	Version         int                  `json:"version"`
	Category        string               `json:"category"`
	FieldRules      map[string]FieldRule `json:"field_rules"`
	KnownValues     map[string]KnownSet  `json:"known_values"`
	ParseTemplates  map[string][]string  `json:"parse_templates"`
	CrossValidation []Constraint         `json:"cross_validation_rules"`
	KeyMigrations   KeyMigrations        `json:"key_migrations"`
	UIFieldCatalog  []UIField            `json:"ui_field_catalog"`
}

// KnownSet lists canonical enum values and their accepted aliases.
type KnownSet struct {
	Canonical []string          `json:"canonical"`
	Aliases   map[string]string `json:"aliases,omitempty"` // normalized alias -> canonical
}

// KeyMigrations renames legacy field keys to current ones.
type KeyMigrations struct {
	KeyMap map[string]string `json:"key_map"`
}

// UIField is one catalog row: display metadata plus canonical field order.
type UIField struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Group string `json:"group,omitempty"`
}

// bundleFiles maps the logical bundle parts to their file names.
var bundleFiles = []string{
	"field_rules.json",
	"known_values.json",
	"parse_templates.json",
	"cross_validation_rules.json",
	"key_migrations.json",
	"ui_field_catalog.json",
}

// BundleDir returns the generated-bundle directory for a category.
func BundleDir(helperRoot, category string) string {
	return filepath.Join(helperRoot, category, "_generated")
}

// LoadBundle reads and assembles the compiled bundle for a category.
func LoadBundle(helperRoot, category string) (*Bundle, error) {
	if strings.TrimSpace(category) == "" {
		return nil, ErrCategoryRequired
	}
	dir := BundleDir(helperRoot, category)

	b := &Bundle{Category: category}
	type part struct {
		file string
		dst  any
	}
	var manifest struct {
		Version    int                  `json:"version"`
		FieldRules map[string]FieldRule `json:"field_rules"`
	}
	parts := []part{
		{"field_rules.json", &manifest},
		{"known_values.json", &b.KnownValues},
		{"parse_templates.json", &b.ParseTemplates},
		{"cross_validation_rules.json", &b.CrossValidation},
		{"key_migrations.json", &b.KeyMigrations},
		{"ui_field_catalog.json", &b.UIFieldCatalog},
	}
	for _, p := range parts {
		data, err := os.ReadFile(filepath.Join(dir, p.file))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: missing %s for category %s", ErrRulesNotCompiled, p.file, category)
			}
			return nil, fmt.Errorf("read bundle %s: %w", p.file, err)
		}
		if err := json.Unmarshal(data, p.dst); err != nil {
			return nil, fmt.Errorf("%w: corrupt %s: %v", ErrRulesNotCompiled, p.file, err)
		}
	}
	b.Version = manifest.Version
	b.FieldRules = manifest.FieldRules
	if b.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: bundle version %d, engine expects %d", ErrRulesNotCompiled, b.Version, SchemaVersion)
	}
	if len(b.FieldRules) == 0 {
		return nil, fmt.Errorf("%w: empty field_rules for category %s", ErrRulesNotCompiled, category)
	}
	return b, nil
}

// WriteBundle persists a bundle to the generated directory. Used by the
// compile-rules command and by tests.
func WriteBundle(helperRoot string, b *Bundle) error {
	dir := BundleDir(helperRoot, b.Category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	manifest := map[string]any{"version": b.Version, "field_rules": b.FieldRules}
	outs := map[string]any{
		"field_rules.json":            manifest,
		"known_values.json":           b.KnownValues,
		"parse_templates.json":        b.ParseTemplates,
		"cross_validation_rules.json": b.CrossValidation,
		"key_migrations.json":         b.KeyMigrations,
		"ui_field_catalog.json":       b.UIFieldCatalog,
	}
	for name, v := range outs {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("write bundle %s: %w", name, err)
		}
	}
	return nil
}

// Engine is the compiled, immutable rules artifact for one category.
type Engine struct {
	category string
	rules    map[string]FieldRule
	// known maps field -> normalized value -> canonical form.
	known map[string]map[string]string
	// templates maps field -> compiled extraction regexes (first capture
	// group is the value).
	templates map[string][]*regexp.Regexp
	cross     []Constraint
	keyMap    map[string]string
	catalog   []UIField
}

// NewEngine compiles the bundle for a category into an immutable Engine.
func NewEngine(helperRoot, category string) (*Engine, error) {
	b, err := LoadBundle(helperRoot, category)
	if err != nil {
		return nil, err
	}
	return CompileBundle(b)
}

// CompileBundle builds an Engine from an in-memory bundle.
func CompileBundle(b *Bundle) (*Engine, error) {
	compiled := make(map[string]FieldRule, len(b.FieldRules))
	for key, rule := range b.FieldRules {
		rule.Key = key
		compiled[key] = rule
	}
	e := &Engine{
		category:  b.Category,
		rules:     compiled,
		known:     make(map[string]map[string]string, len(b.KnownValues)),
		templates: make(map[string][]*regexp.Regexp, len(b.ParseTemplates)),
		cross:     b.CrossValidation,
		keyMap:    b.KeyMigrations.KeyMap,
		catalog:   b.UIFieldCatalog,
	}
	for field, set := range b.KnownValues {
		m := make(map[string]string, len(set.Canonical)+len(set.Aliases))
		for _, c := range set.Canonical {
			m[normalizeSentinel(c)] = c
		}
		for alias, canonical := range set.Aliases {
			m[normalizeSentinel(alias)] = canonical
		}
		e.known[field] = m
	}
	for field, patterns := range b.ParseTemplates {
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("%w: bad parse template for %s: %v", ErrRulesNotCompiled, field, err)
			}
			e.templates[field] = append(e.templates[field], re)
		}
	}
	return e, nil
}

// Category returns the category this engine was compiled for.
func (e *Engine) Category() string { return e.category }

// Rule returns the rule for a field key, resolving migrations first.
func (e *Engine) Rule(field string) (FieldRule, bool) {
	if renamed, ok := e.keyMap[field]; ok {
		field = renamed
	}
	r, ok := e.rules[field]
	return r, ok
}

// Fields returns all field keys in catalog order, then any uncataloged keys.
func (e *Engine) Fields() []string {
	seen := make(map[string]bool, len(e.rules))
	out := make([]string, 0, len(e.rules))
	for _, f := range e.catalog {
		if _, ok := e.rules[f.Key]; ok && !seen[f.Key] {
			out = append(out, f.Key)
			seen[f.Key] = true
		}
	}
	for k := range e.rules {
		if !seen[k] {
			out = append(out, k)
		}
	}
	return out
}

// KnownCanonical resolves a raw enum value to its canonical form.
func (e *Engine) KnownCanonical(field, value string) (string, bool) {
	m, ok := e.known[field]
	if !ok {
		return "", false
	}
	c, ok := m[normalizeSentinel(value)]
	return c, ok
}

// ApplyMigrations renames fields per the compiled key map. Unmapped keys pass
// through. When both old and new keys are present, the new key wins.
func (e *Engine) ApplyMigrations(fields map[string]string) map[string]string {
	if len(e.keyMap) == 0 {
		return fields
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		target := k
		if renamed, ok := e.keyMap[k]; ok {
			target = renamed
		}
		if _, exists := out[target]; exists && target != k {
			continue
		}
		out[target] = v
	}
	return out
}

func normalizeSentinel(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
