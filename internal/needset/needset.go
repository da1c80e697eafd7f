// Package needset decides, after each round, which fields still need work
// and whether the product run should stop. Evidence ages out on a half-life
// curve so a stale high-confidence value can re-enter the need set.
package needset

import (
	"math"
	"sort"
	"time"

	"github.com/CdubVentures/spec-harvester-sub003/internal/pipeline"
	"github.com/CdubVentures/spec-harvester-sub003/internal/rules"
)

// Config tunes decay and focus selection.
type Config struct {
	DecayDays  float64
	DecayFloor float64
	TopN       int
}

// DefaultConfig matches the balanced budget profile.
func DefaultConfig() Config {
	return Config{DecayDays: 14, DecayFloor: 0.3, TopN: 8}
}

// PassTarget is the effective-confidence bar per required level.
func PassTarget(level rules.RequiredLevel) float64 {
	switch level {
	case rules.LevelCritical:
		return 0.85
	case rules.LevelRequired:
		return 0.8
	default:
		return 0.75
	}
}

// Identity-level fields are resolved by the input lock, never harvested, so
// they stay out of the need set entirely.
var levelWeight = map[rules.RequiredLevel]float64{
	rules.LevelCritical: 3,
	rules.LevelRequired: 2,
	rules.LevelExpected: 1,
}

var effortMultiplier = map[rules.Difficulty]float64{
	rules.DifficultyEasy:      1.0,
	rules.DifficultyMedium:    0.9,
	rules.DifficultyHard:      0.75,
	rules.DifficultyVeryHard:  0.6,
	rules.DifficultyExtraHard: 0.5,
}

var availabilityMultiplier = map[rules.Availability]float64{
	rules.AvailabilityAlways:    1.0,
	rules.AvailabilityExpected:  0.9,
	rules.AvailabilitySometimes: 0.7,
	rules.AvailabilityRare:      0.5,
	rules.AvailabilityUnknown:   0.8,
}

// Decay returns the evidence weight at a given age.
func Decay(age time.Duration, cfg Config) float64 {
	if cfg.DecayDays <= 0 {
		return 1.0
	}
	// ages inside a single round are clock noise, not staleness
	if age < time.Minute {
		return 1.0
	}
	ageDays := age.Hours() / 24
	d := math.Pow(2, -ageDays/cfg.DecayDays)
	if d < cfg.DecayFloor {
		return cfg.DecayFloor
	}
	if d > 1.0 {
		return 1.0
	}
	return d
}

// EffectiveConfidence applies the best surviving evidence decay to the raw
// confidence. Evidence with no retrieval timestamp does not decay.
func EffectiveConfidence(fp *pipeline.FieldProvenance, now time.Time, cfg Config) float64 {
	if fp == nil {
		return 0
	}
	if len(fp.Evidence) == 0 {
		return fp.Confidence
	}
	best := 0.0
	for _, ev := range fp.Evidence {
		d := 1.0
		if !ev.RetrievedAt.IsZero() {
			d = Decay(now.Sub(ev.RetrievedAt), cfg)
		}
		if d > best {
			best = d
		}
	}
	return fp.Confidence * best
}

// Need is one field still requiring work this round. Hits lists the distinct
// sources already holding evidence for the field; PrimeSources is the subset
// that passed the identity check. RetrievalQuery is stamped by the caller
// once the round's query context is known.
type Need struct {
	Field                   string   `json:"field"`
	RequiredLevel           string   `json:"required_level"`
	EffectiveConfidence     float64  `json:"effective_confidence"`
	PassTarget              float64  `json:"pass_target"`
	NeedScore               float64  `json:"need_score"`
	MinRefsRequired         int      `json:"min_refs_required"`
	RefsSelected            int      `json:"refs_selected"`
	MinRefsSatisfied        bool     `json:"min_refs_satisfied"`
	DistinctSourcesRequired int      `json:"distinct_sources_required"`
	DistinctSourcesSelected int      `json:"distinct_sources_selected"`
	RetrievalQuery          string   `json:"retrieval_query"`
	Hits                    []string `json:"hits"`
	PrimeSources            []string `json:"prime_sources"`
	Reasons                 []string `json:"reasons"`
}

// Assessment is the engine's verdict on one round's provenance.
type Assessment struct {
	Needs            []Need  `json:"needs"`
	Focus            []Need  `json:"focus"`
	MissingRequired  int     `json:"missing_required"`
	MissingCritical  int     `json:"missing_critical"`
	CoverageRequired float64 `json:"coverage_required"`
	CoverageOverall  float64 `json:"coverage_overall"`
}

// Evaluate computes the need set over all leveled fields. A field is needy
// when effective confidence misses the pass target, or its evidence refs fall
// short of the field's evidence rule.
func Evaluate(engine *rules.Engine, prov pipeline.Provenance, now time.Time, cfg Config) Assessment {
	var a Assessment
	var leveled, covered, required, requiredCovered int

	for _, field := range engine.Fields() {
		rule, ok := engine.Rule(field)
		if !ok {
			continue
		}
		weight, tracked := levelWeight[rule.RequiredLevel]
		if !tracked {
			continue
		}
		leveled++
		isRequired := rule.RequiredLevel != rules.LevelExpected
		if isRequired {
			required++
		}

		fp := prov[field]
		eff := EffectiveConfidence(fp, now, cfg)
		target := PassTarget(rule.RequiredLevel)

		var reasons []string
		if fp == nil || !rules.IsKnown(fp.Value) {
			reasons = append(reasons, "missing_value")
		}
		if eff < target {
			reasons = append(reasons, "below_pass_target")
		}
		refs := 0
		hits := []string{}
		prime := []string{}
		hitSeen := map[string]bool{}
		primeSeen := map[string]bool{}
		if fp != nil {
			refs = len(fp.Evidence)
			for _, ev := range fp.Evidence {
				if !hitSeen[ev.SourceURL] {
					hitSeen[ev.SourceURL] = true
					hits = append(hits, ev.SourceURL)
				}
				if ev.IdentityMatched && !primeSeen[ev.SourceURL] {
					primeSeen[ev.SourceURL] = true
					prime = append(prime, ev.SourceURL)
				}
			}
		}
		minRefs := rule.Evidence.MinEvidenceRefs
		if minRefs > 0 && refs < minRefs {
			reasons = append(reasons, "insufficient_refs")
		}
		if rule.Evidence.DistinctSources > 0 && len(hitSeen) < rule.Evidence.DistinctSources {
			reasons = append(reasons, "insufficient_distinct_sources")
		}

		if len(reasons) == 0 {
			covered++
			if isRequired {
				requiredCovered++
			}
			continue
		}
		if fp == nil || !rules.IsKnown(fp.Value) || eff < target {
			if rule.RequiredLevel == rules.LevelCritical {
				a.MissingCritical++
			}
			if isRequired {
				a.MissingRequired++
			}
		}

		score := weight * (target - eff) *
			multiplierOr(effortMultiplier, rule.Difficulty, 1.0) *
			multiplierOr(availabilityMultiplier, rule.Availability, availabilityMultiplier[rules.AvailabilityUnknown])
		if score < 0 {
			score = 0
		}
		a.Needs = append(a.Needs, Need{
			Field:                   field,
			RequiredLevel:           string(rule.RequiredLevel),
			EffectiveConfidence:     eff,
			PassTarget:              target,
			NeedScore:               score,
			MinRefsRequired:         minRefs,
			RefsSelected:            refs,
			MinRefsSatisfied:        minRefs <= 0 || refs >= minRefs,
			DistinctSourcesRequired: rule.Evidence.DistinctSources,
			DistinctSourcesSelected: len(hitSeen),
			Hits:                    hits,
			PrimeSources:            prime,
			Reasons:                 reasons,
		})
	}

	if leveled > 0 {
		a.CoverageOverall = float64(covered) / float64(leveled)
	}
	if required > 0 {
		a.CoverageRequired = float64(requiredCovered) / float64(required)
	}

	sort.SliceStable(a.Needs, func(i, j int) bool {
		return a.Needs[i].NeedScore > a.Needs[j].NeedScore
	})
	topN := cfg.TopN
	if topN <= 0 || topN > len(a.Needs) {
		topN = len(a.Needs)
	}
	a.Focus = a.Needs[:topN]
	return a
}

func multiplierOr[K comparable](m map[K]float64, k K, def float64) float64 {
	if v, ok := m[k]; ok {
		return v
	}
	return def
}
