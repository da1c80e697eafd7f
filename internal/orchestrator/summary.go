package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/CdubVentures/spec-harvester-sub003/internal/fetch"
	"github.com/CdubVentures/spec-harvester-sub003/internal/frontier"
	"github.com/CdubVentures/spec-harvester-sub003/internal/learning"
	"github.com/CdubVentures/spec-harvester-sub003/internal/logging"
	"github.com/CdubVentures/spec-harvester-sub003/internal/needset"
	"github.com/CdubVentures/spec-harvester-sub003/internal/pipeline"
	"github.com/CdubVentures/spec-harvester-sub003/internal/rules"
	"github.com/CdubVentures/spec-harvester-sub003/internal/storage"
)

// populateLearning feeds accepted values back into the shared learning
// stores. Only fields with a known gated value and at least one
// identity-matched evidence row qualify.
func (run *productRun) populateLearning() {
	r := run.runner
	var accepted []learning.AcceptedValue
	for field, fp := range run.prov {
		if !rules.IsKnown(fp.Value) || fp.ApprovedConfirmations == 0 {
			continue
		}
		var bestURL string
		var bestConf float64
		for _, ev := range fp.Evidence {
			if !ev.IdentityMatched {
				continue
			}
			if ev.Confidence >= bestConf {
				bestConf = ev.Confidence
				bestURL = ev.SourceURL
			}
			if r.learning != nil {
				_ = r.learning.RecordUsed(hostOf(ev.SourceURL), field)
			}
			if r.frontier != nil {
				_ = r.frontier.RecordYield(frontier.YieldRecord{
					URL:        ev.SourceURL,
					FieldKey:   field,
					ValueHash:  frontier.QueryHash(fp.Value),
					Confidence: ev.Confidence,
				})
			}
		}
		accepted = append(accepted, learning.AcceptedValue{
			Field:      field,
			Value:      fp.Value,
			URL:        bestURL,
			Domain:     hostOf(bestURL),
			Confidence: bestConf,
		})
	}
	if r.learning != nil && len(accepted) > 0 {
		if err := r.learning.Populate(accepted); err != nil {
			logging.Get(logging.CategoryLearning).Warn("populate failed", logging.Err(err))
		}
	}
}

// buildSummary assembles the run verdict consumers read instead of exit codes.
func (run *productRun) buildSummary(stopReason string, rounds int) *storage.Summary {
	a := run.assessment
	validated := a.MissingRequired == 0 && run.contradictions == 0

	var blockers []string
	if a.MissingRequired > 0 {
		blockers = append(blockers, fmt.Sprintf("missing_required_fields:%d", a.MissingRequired))
	}
	if a.MissingCritical > 0 {
		blockers = append(blockers, fmt.Sprintf("missing_critical_fields:%d", a.MissingCritical))
	}
	if run.contradictions > 0 {
		blockers = append(blockers, fmt.Sprintf("constraint_contradictions:%d", run.contradictions))
	}

	reasoning := make(map[string]string, len(a.Needs))
	for _, n := range a.Needs {
		reasoning[n.Field] = strings.Join(n.Reasons, ",")
	}

	return &storage.Summary{
		RunID:                        run.runID,
		ProductID:                    run.productID,
		Validated:                    validated,
		Confidence:                   run.avgConfidence(),
		CompletenessRequired:         a.CoverageRequired,
		CoverageOverall:              a.CoverageOverall,
		ConstraintContradictionCount: run.contradictions,
		Publishable:                  len(blockers) == 0,
		PublishBlockers:              blockers,
		FieldReasoning:               reasoning,
		StopReason:                   stopReason,
		Rounds:                       rounds,
		FinishedAt:                   run.runner.now().UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// FinalSpec is the published artifact for one product.
type FinalSpec struct {
	Fields  map[string]string `json:"fields"`
	Summary storage.Summary   `json:"summary"`
}

// persist writes the run artifacts and, when the promotion gate passes,
// replaces the published spec.
func (run *productRun) persist(summary *storage.Summary) error {
	r := run.runner
	cat, pid := run.category, run.productID

	if err := storage.WriteJSON(r.store, storage.LatestArtifactKey(cat, pid, "summary"), summary); err != nil {
		return err
	}
	if err := storage.WriteJSON(r.store, storage.LatestArtifactKey(cat, pid, "provenance"), run.prov); err != nil {
		return err
	}
	if err := storage.WriteJSON(r.store, storage.LatestArtifactKey(cat, pid, "needset"), run.assessment); err != nil {
		return err
	}
	if err := storage.WriteJSON(r.store, storage.LatestArtifactKey(cat, pid, "normalized"), run.gatedFields); err != nil {
		return err
	}
	candidateLog := struct {
		Candidates []pipeline.Candidate        `json:"candidates"`
		Dropped    []pipeline.DroppedCandidate `json:"dropped,omitempty"`
	}{run.candidates, run.dropped}
	if err := storage.WriteJSON(r.store, storage.LatestArtifactKey(cat, pid, "candidates"), candidateLog); err != nil {
		return err
	}

	line, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode history line: %w", err)
	}
	if err := r.store.AppendText(storage.HistoryKey(cat, pid), string(line)); err != nil {
		return err
	}

	var published FinalSpec
	var current *storage.Summary
	if found, err := r.store.ReadJSONOrNull(storage.FinalSpecKey(cat, pid), &published); err != nil {
		return err
	} else if found {
		current = &published.Summary
	}
	if storage.ShouldPromote(*summary, current) {
		final := FinalSpec{Fields: run.gatedFields, Summary: *summary}
		if err := storage.WriteJSON(r.store, storage.FinalSpecKey(cat, pid), final); err != nil {
			return err
		}
		logging.Get(logging.CategoryStorage).Info("spec promoted")
	}
	return nil
}

// metricsLine is one round's counters batched to the runtime metrics stream.
type metricsLine struct {
	RunID           string `json:"run_id"`
	ProductID       string `json:"product_id"`
	Round           int    `json:"round"`
	Processed       int    `json:"processed"`
	Failed          int    `json:"failed"`
	Skipped         int    `json:"skipped"`
	MissingRequired int    `json:"missing_required"`
	Contradictions  int    `json:"contradictions"`
	Improved        bool   `json:"improved"`
	Timestamp       string `json:"ts"`
}

func (run *productRun) appendMetrics(round int, stats fetch.DrainStats, snap *needset.RoundSnapshot, progress needset.Progress) {
	line := metricsLine{
		RunID:           run.runID,
		ProductID:       run.productID,
		Round:           round,
		Processed:       stats.Processed,
		Failed:          stats.Failed,
		Skipped:         stats.Skipped,
		MissingRequired: snap.MissingRequired,
		Contradictions:  snap.Contradictions,
		Improved:        progress.Improved,
		Timestamp:       run.runner.now().UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	if err := run.runner.store.AppendText(storage.MetricsKey(), string(data)); err != nil {
		logging.Get(logging.CategoryStorage).Warn("metrics append failed", logging.Err(err))
	}
}

func hostOf(rawURL string) string {
	u := frontier.NormalizeURL(rawURL)
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	if i := strings.IndexByte(u, '/'); i >= 0 {
		u = u[:i]
	}
	return u
}
