package needset

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/CdubVentures/spec-harvester-sub003/internal/pipeline"
	"github.com/CdubVentures/spec-harvester-sub003/internal/rules"
)

func f64(v float64) *float64 { return &v }

func testEngine(t *testing.T) *rules.Engine {
	t.Helper()
	b := &rules.Bundle{
		Version:  rules.SchemaVersion,
		Category: "gaming-mice",
		FieldRules: map[string]rules.FieldRule{
			"brand": {RequiredLevel: rules.LevelIdentity, Contract: rules.Contract{Type: rules.TypeString, Shape: rules.ShapeScalar}},
			"weight": {
				RequiredLevel: rules.LevelCritical,
				Difficulty:    rules.DifficultyEasy,
				Availability:  rules.AvailabilityAlways,
				Contract:      rules.Contract{Type: rules.TypeNumber, Shape: rules.ShapeScalar, Unit: "g", Range: &rules.Range{Min: f64(10), Max: f64(300)}},
			},
			"sensor": {
				RequiredLevel: rules.LevelRequired,
				Difficulty:    rules.DifficultyMedium,
				Availability:  rules.AvailabilityExpected,
				Contract:      rules.Contract{Type: rules.TypeString, Shape: rules.ShapeScalar},
				Evidence:      rules.EvidenceRule{MinEvidenceRefs: 2},
			},
			"switch_lifespan": {
				RequiredLevel: rules.LevelExpected,
				Difficulty:    rules.DifficultyHard,
				Availability:  rules.AvailabilityRare,
				Contract:      rules.Contract{Type: rules.TypeNumber, Shape: rules.ShapeScalar},
			},
		},
	}
	e, err := rules.CompileBundle(b)
	if err != nil {
		t.Fatalf("CompileBundle() error: %v", err)
	}
	return e
}

func evidence(age time.Duration, now time.Time, url string) pipeline.Evidence {
	return pipeline.Evidence{SourceURL: url, RetrievedAt: now.Add(-age), Confidence: 0.9, IdentityMatched: true}
}

func TestDecayHalfLife(t *testing.T) {
	cfg := Config{DecayDays: 14, DecayFloor: 0.1}
	d := Decay(14*24*time.Hour, cfg)
	if d < 0.48 || d > 0.52 {
		t.Fatalf("Decay(decayDays) = %v, want ~0.5", d)
	}
	if d := Decay(0, cfg); d != 1.0 {
		t.Fatalf("Decay(0) = %v, want 1.0", d)
	}
}

func TestDecayClampsToFloor(t *testing.T) {
	cfg := Config{DecayDays: 14, DecayFloor: 0.3}
	if d := Decay(90*24*time.Hour, cfg); d != 0.3 {
		t.Fatalf("Decay(90d) = %v, want floor 0.3", d)
	}
}

func TestEffectiveConfidenceUsesBestEvidence(t *testing.T) {
	now := time.Now()
	cfg := Config{DecayDays: 14, DecayFloor: 0.1}
	fp := &pipeline.FieldProvenance{
		Field:      "weight",
		Value:      "59",
		Confidence: 0.9,
		Evidence: []pipeline.Evidence{
			evidence(90*24*time.Hour, now, "https://old.com"),
			evidence(0, now, "https://fresh.com"),
		},
	}
	eff := EffectiveConfidence(fp, now, cfg)
	if eff < 0.89 || eff > 0.91 {
		t.Fatalf("EffectiveConfidence = %v, want ~0.9 (fresh evidence dominates)", eff)
	}
}

func TestEffectiveConfidenceMissingTimestampNoDecay(t *testing.T) {
	now := time.Now()
	fp := &pipeline.FieldProvenance{
		Field:      "weight",
		Value:      "59",
		Confidence: 0.9,
		Evidence:   []pipeline.Evidence{{SourceURL: "https://a.com", Confidence: 0.9}},
	}
	if eff := EffectiveConfidence(fp, now, DefaultConfig()); eff != 0.9 {
		t.Fatalf("EffectiveConfidence = %v, want 0.9 with no timestamp", eff)
	}
}

func TestEvaluateInclusionRules(t *testing.T) {
	now := time.Now()
	e := testEngine(t)
	prov := pipeline.Provenance{
		"weight": &pipeline.FieldProvenance{
			Field: "weight", Value: "59", Confidence: 0.9,
			Evidence: []pipeline.Evidence{evidence(0, now, "https://a.com")},
		},
		// sensor is confident but has only one evidence ref of the two required
		"sensor": &pipeline.FieldProvenance{
			Field: "sensor", Value: "HERO 25K", Confidence: 0.9,
			Evidence: []pipeline.Evidence{evidence(0, now, "https://a.com")},
		},
	}
	a := Evaluate(e, prov, now, DefaultConfig())

	for _, n := range a.Needs {
		if n.Field == "weight" {
			t.Fatalf("weight in need set: %+v", n)
		}
	}
	var sensor, lifespan *Need
	for i := range a.Needs {
		switch a.Needs[i].Field {
		case "sensor":
			sensor = &a.Needs[i]
		case "switch_lifespan":
			lifespan = &a.Needs[i]
		}
	}
	if sensor == nil {
		t.Fatal("sensor missing from need set despite insufficient refs")
	}
	if len(sensor.Reasons) != 1 || sensor.Reasons[0] != "insufficient_refs" {
		t.Fatalf("sensor reasons = %v", sensor.Reasons)
	}
	if lifespan == nil {
		t.Fatal("missing expected-level field not in need set")
	}
	if lifespan.PassTarget != 0.75 {
		t.Fatalf("expected pass target = %v, want 0.75", lifespan.PassTarget)
	}
	if a.MissingRequired != 0 {
		t.Fatalf("MissingRequired = %d, want 0 (sensor has a value)", a.MissingRequired)
	}
}

func TestNeedRowCarriesEvidenceCounters(t *testing.T) {
	now := time.Now()
	e := testEngine(t)
	prov := pipeline.Provenance{
		"sensor": &pipeline.FieldProvenance{
			Field: "sensor", Value: "HERO 25K", Confidence: 0.9,
			Evidence: []pipeline.Evidence{evidence(0, now, "https://a.com")},
		},
	}
	a := Evaluate(e, prov, now, DefaultConfig())

	var sensor *Need
	for i := range a.Needs {
		if a.Needs[i].Field == "sensor" {
			sensor = &a.Needs[i]
		}
	}
	if sensor == nil {
		t.Fatal("sensor missing from need set")
	}
	if sensor.MinRefsRequired != 2 || sensor.RefsSelected != 1 || sensor.MinRefsSatisfied {
		t.Fatalf("refs = %d of %d (satisfied %v), want 1 of 2 unsatisfied",
			sensor.RefsSelected, sensor.MinRefsRequired, sensor.MinRefsSatisfied)
	}
	if sensor.DistinctSourcesSelected != 1 {
		t.Fatalf("distinct sources = %d, want 1", sensor.DistinctSourcesSelected)
	}
	if len(sensor.Hits) != 1 || sensor.Hits[0] != "https://a.com" {
		t.Fatalf("hits = %v, want the evidence source", sensor.Hits)
	}
	if len(sensor.PrimeSources) != 1 || sensor.PrimeSources[0] != "https://a.com" {
		t.Fatalf("prime sources = %v, want the identity-matched source", sensor.PrimeSources)
	}

	data, err := json.Marshal(sensor)
	if err != nil {
		t.Fatalf("marshal need: %v", err)
	}
	for _, key := range []string{
		"min_refs_required", "refs_selected", "min_refs_satisfied",
		"distinct_sources_required", "distinct_sources_selected",
		"retrieval_query", "hits", "prime_sources",
	} {
		if !strings.Contains(string(data), `"`+key+`"`) {
			t.Fatalf("need row missing %s key: %s", key, data)
		}
	}
}

func TestEvaluateSkipsIdentityLevelFields(t *testing.T) {
	now := time.Now()
	e := testEngine(t)
	// no provenance at all: identity fields come from the input lock, so only
	// the three leveled fields may surface as needs
	a := Evaluate(e, pipeline.Provenance{}, now, DefaultConfig())
	for _, n := range a.Needs {
		if n.Field == "brand" {
			t.Fatalf("identity-level field surfaced as need: %+v", n)
		}
	}
	if len(a.Needs) != 3 {
		t.Fatalf("needs = %d, want 3", len(a.Needs))
	}
	if a.MissingCritical != 1 {
		t.Fatalf("MissingCritical = %d, want 1 (weight only)", a.MissingCritical)
	}
}

func TestEvaluateDecayReopensField(t *testing.T) {
	now := time.Now()
	e := testEngine(t)
	// weight was solid 90 days ago; at decayDays=14 it has decayed to the floor
	prov := pipeline.Provenance{
		"weight": &pipeline.FieldProvenance{
			Field: "weight", Value: "59", Confidence: 0.9,
			Evidence: []pipeline.Evidence{evidence(90*24*time.Hour, now, "https://a.com")},
		},
	}
	a := Evaluate(e, prov, now, Config{DecayDays: 14, DecayFloor: 0.3, TopN: 8})

	var weight *Need
	for i := range a.Needs {
		if a.Needs[i].Field == "weight" {
			weight = &a.Needs[i]
		}
	}
	if weight == nil {
		t.Fatal("decayed weight must re-enter the need set")
	}
	if weight.EffectiveConfidence < 0.26 || weight.EffectiveConfidence > 0.28 {
		t.Fatalf("effective confidence = %v, want 0.9*0.3", weight.EffectiveConfidence)
	}
	if a.MissingCritical != 1 {
		t.Fatalf("MissingCritical = %d, want 1", a.MissingCritical)
	}
}

func TestNeedScoreOrdering(t *testing.T) {
	now := time.Now()
	e := testEngine(t)
	a := Evaluate(e, pipeline.Provenance{}, now, DefaultConfig())
	// empty provenance: every field is needy; critical weight must rank first
	if len(a.Needs) != 3 {
		t.Fatalf("needs = %d, want 3", len(a.Needs))
	}
	if a.Needs[0].Field != "weight" {
		t.Fatalf("top need = %s, want weight (critical, easy, always)", a.Needs[0].Field)
	}
	// critical easy always: 3 * 0.85 * 1.0 * 1.0
	if got := a.Needs[0].NeedScore; got < 2.54 || got > 2.56 {
		t.Fatalf("weight need score = %v, want 2.55", got)
	}
	if a.CoverageOverall != 0 {
		t.Fatalf("CoverageOverall = %v, want 0", a.CoverageOverall)
	}
}

func TestEvaluateTopNFocus(t *testing.T) {
	now := time.Now()
	e := testEngine(t)
	a := Evaluate(e, pipeline.Provenance{}, now, Config{DecayDays: 14, DecayFloor: 0.3, TopN: 1})
	if len(a.Focus) != 1 || a.Focus[0].Field != "weight" {
		t.Fatalf("focus = %+v, want top-1 weight", a.Focus)
	}
}

func TestEvaluateRoundProgress(t *testing.T) {
	if p := EvaluateRoundProgress(nil, &RoundSnapshot{}); !p.Improved || p.Reasons[0] != "first_round" {
		t.Fatalf("first round = %+v", p)
	}

	prev := &RoundSnapshot{MissingRequired: 3, Contradictions: 1, AvgConfidence: 0.5}
	cur := &RoundSnapshot{MissingRequired: 2, Contradictions: 0, AvgConfidence: 0.52, Validated: true}
	p := EvaluateRoundProgress(prev, cur)
	if !p.Improved {
		t.Fatalf("progress = %+v", p)
	}
	want := map[string]bool{"missing_required_reduced": true, "contradictions_reduced": true, "confidence_up": true, "validated": true}
	if len(p.Reasons) != len(want) {
		t.Fatalf("reasons = %v, want %v", p.Reasons, want)
	}
	for _, r := range p.Reasons {
		if !want[r] {
			t.Fatalf("unexpected reason %q", r)
		}
	}
}

func TestRoundProgressIgnoresTinyConfidenceDelta(t *testing.T) {
	prev := &RoundSnapshot{AvgConfidence: 0.500}
	cur := &RoundSnapshot{AvgConfidence: 0.505}
	if p := EvaluateRoundProgress(prev, cur); p.Improved {
		t.Fatalf("sub-threshold delta counted as progress: %+v", p)
	}
}

func TestStopConditionsInOrder(t *testing.T) {
	cases := []struct {
		name string
		in   StopInputs
		want string
		stop bool
	}{
		{"completed", StopInputs{AllRequiredMet: true, BudgetExhausted: true, RoundIndex: 5, RoundsLimit: 6}, StopCompleted, true},
		{"completed blocked by contradictions", StopInputs{AllRequiredMet: true, Contradictions: 1, RoundIndex: 1, RoundsLimit: 6}, "", false},
		{"budget after round zero", StopInputs{BudgetExhausted: true, RoundIndex: 1, RoundsLimit: 6}, StopBudgetExhausted, true},
		{"budget not at round zero", StopInputs{BudgetExhausted: true, RoundIndex: 0, RoundsLimit: 6}, "", false},
		{"max rounds", StopInputs{RoundIndex: 6, RoundsLimit: 6}, StopMaxRounds, true},
		{"no progress streak", StopInputs{RoundIndex: 2, RoundsLimit: 6, NoProgressStreak: 3, NoProgressLimit: 3}, StopNoProgress, true},
		{"low quality", StopInputs{RoundIndex: 2, RoundsLimit: 6, LowQualityRounds: 2, MaxLowQualityRounds: 2}, StopLowQuality, true},
		{"keep going", StopInputs{RoundIndex: 2, RoundsLimit: 6, NoProgressLimit: 3}, "", false},
	}
	for _, tc := range cases {
		got, stop := StopReason(tc.in)
		if got != tc.want || stop != tc.stop {
			t.Fatalf("%s: StopReason() = %q/%v, want %q/%v", tc.name, got, stop, tc.want, tc.stop)
		}
	}
}
