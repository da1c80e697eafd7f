package orchestrator

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/CdubVentures/spec-harvester-sub003/internal/config"
	"github.com/CdubVentures/spec-harvester-sub003/internal/fetch"
	"github.com/CdubVentures/spec-harvester-sub003/internal/frontier"
	"github.com/CdubVentures/spec-harvester-sub003/internal/learning"
	"github.com/CdubVentures/spec-harvester-sub003/internal/llm"
	"github.com/CdubVentures/spec-harvester-sub003/internal/logging"
	"github.com/CdubVentures/spec-harvester-sub003/internal/needset"
	"github.com/CdubVentures/spec-harvester-sub003/internal/pipeline"
	"github.com/CdubVentures/spec-harvester-sub003/internal/planner"
	"github.com/CdubVentures/spec-harvester-sub003/internal/rules"
)

// productRun is the mutable state of one product's convergence loop.
type productRun struct {
	runner    *Runner
	product   Product
	category  string
	productID string
	runID     string
	mode      string
	budget    config.Budget
	nsCfg     needset.Config

	prov           pipeline.Provenance
	assessment     needset.Assessment
	contradictions int
	urlsFetched    int
	sourcesPlanned int
	gatedFields    map[string]string
	candidates     []pipeline.Candidate
	dropped        []pipeline.DroppedCandidate

	// guards prov/candidates/dropped against concurrent scheduler workers
	mu sync.Mutex
}

func (run *productRun) roundContext(round int, mode string) needset.RoundContext {
	rctx := needset.RoundContext{Index: round, Mode: mode}
	for _, n := range run.assessment.Focus {
		rctx.FocusFields = append(rctx.FocusFields, n.Field)
	}
	for _, n := range run.assessment.Needs {
		for _, reason := range n.Reasons {
			if reason == "missing_value" && n.RequiredLevel != string(rules.LevelExpected) {
				rctx.MissingRequired = append(rctx.MissingRequired, n.Field)
				break
			}
		}
	}
	rctx.ForceVerify = mode == "uber_aggressive"
	return rctx
}

// executeRound plans this round's sources and drains them through the
// scheduler, folding each fetched page into provenance.
func (run *productRun) executeRound(ctx context.Context, engine *rules.Engine, rctx needset.RoundContext) fetch.DrainStats {
	r := run.runner
	log := logging.Get(logging.CategoryOrchestrator)

	hints := run.readHints(rctx.FocusFields)
	run.recordQueries(engine, rctx, hints)

	pl := run.buildPlanner(hints)
	remaining := run.budget.MaxURLs - run.urlsFetched
	var sources []fetch.Request
	for remaining > 0 {
		src := pl.Next()
		if src == nil {
			break
		}
		sources = append(sources, fetch.Request{URL: src.URL, Host: src.Host, Tier: src.Tier})
		remaining--
	}
	run.sourcesPlanned = len(sources)
	if len(sources) == 0 {
		log.Debug("no sources planned this round", zap.Int("round", rctx.Index))
		return fetch.DrainStats{}
	}

	pipe := pipeline.New(engine, run.product.Lock)
	sched := fetch.NewScheduler()
	stats := sched.DrainQueue(ctx, fetch.DrainOptions{
		Sources:           sources,
		FetchWithMode:     run.fetchWithMode,
		ShouldSkip:        run.shouldSkip,
		OnFetchResult:     run.onFetchResult(pipe),
		InitialMode:       fetch.Mode(r.cfg.Fetch.InitialMode),
		Concurrency:       r.cfg.Fetch.Concurrency,
		PerHostDelayMs:    r.cfg.Fetch.PerHostDelayMs,
		PageGotoTimeoutMs: r.cfg.Fetch.PageGotoTimeoutMs,
		MaxRetries:        r.cfg.Fetch.MaxRetries,
		RetryBackoffMs:    r.cfg.Fetch.RetryBackoffMs,
		HostPolicies:      r.cfg.HostPolicies,
	})
	run.urlsFetched += stats.Processed
	return stats
}

func (run *productRun) readHints(focusFields []string) *learning.Hints {
	if run.runner.learning == nil {
		return &learning.Hints{}
	}
	hints, err := run.runner.learning.Hints(focusFields)
	if err != nil {
		logging.Get(logging.CategoryLearning).Warn("reading hints failed", logging.Err(err))
		return &learning.Hints{}
	}
	return hints
}

// recordQueries generates this round's discovery queries and stamps them into
// the frontier's query cooldown table. Queries are handed to external search
// integration; within the run they only gate repetition.
func (run *productRun) recordQueries(engine *rules.Engine, rctx needset.RoundContext, hints *learning.Hints) {
	r := run.runner
	if r.frontier == nil {
		return
	}
	anchors := make(map[string][]string, len(rctx.FocusFields))
	for _, field := range rctx.FocusFields {
		if rule, ok := engine.Rule(field); ok {
			anchors[field] = rule.SearchHints.Anchors
		}
		for _, a := range hints.AnchorsByField[field] {
			anchors[field] = append(anchors[field], a.Phrase)
		}
	}
	queries := llm.GenerateOrFallback(context.Background(), r.llm, llm.QueryRequest{
		Category:    run.category,
		Brand:       run.product.Lock.Brand,
		Model:       run.product.Lock.Model,
		Variant:     run.product.Lock.Variant,
		FocusFields: rctx.FocusFields,
		Anchors:     anchors,
		MaxQueries:  run.budget.MaxQueriesPerRound,
	})
	for _, q := range queries {
		skip, err := r.frontier.ShouldSkipQuery(run.productID, q, rctx.ForceVerify)
		if err != nil || skip {
			continue
		}
		if _, err := r.frontier.RecordQuery(frontier.QueryRecord{ProductID: run.productID, Query: q}); err != nil {
			logging.Get(logging.CategoryFrontier).Warn("query record failed", logging.Err(err))
		}
	}
}

func (run *productRun) buildPlanner(hints *learning.Hints) *planner.Planner {
	r := run.runner
	p := run.product
	pl := planner.New(planner.Options{
		Category:                      run.category,
		Brand:                         p.Lock.Brand,
		ModelTokens:                   modelTokens(p.Lock.Model),
		ManufacturerDomains:           p.ManufacturerDomains,
		Hosts:                         planner.HostTable{Tiers: p.HostTiers},
		MaxUrlsPerProduct:             minPositive(r.cfg.Planner.MaxUrlsPerProduct, run.budget.MaxURLs-run.urlsFetched),
		MaxPagesPerDomain:             r.cfg.Planner.MaxPagesPerDomain,
		ManufacturerMaxPagesPerDomain: r.cfg.Planner.ManufacturerMaxPagesPerDomain,
		ManufacturerReserveUrls:       r.cfg.Planner.ManufacturerReserveUrls,
		FetchCandidateSources:         r.cfg.Planner.FetchCandidateSources,
		BroadDiscovery:                r.cfg.Planner.BroadDiscovery,
	})
	for _, domain := range hints.HighYieldDomains {
		pl.SetHostScore(domain, 2.0)
	}
	if r.learning != nil {
		if low, err := r.learning.LowYieldDomains(r.cfg.Learning.MinSeen, r.cfg.Learning.MaxYield); err == nil {
			for _, d := range low {
				pl.SetHostScore(d.Domain, -1.0)
			}
		}
	}
	for _, raw := range p.SeedURLs {
		pl.Enqueue(raw, planner.EnqueueOptions{Role: "seed"})
	}
	for _, known := range hints.KnownURLs {
		pl.Enqueue(known.URL, planner.EnqueueOptions{Role: "url_memory"})
	}
	return pl
}

// fetchWithMode dispatches to the configured fetcher for a mode.
func (run *productRun) fetchWithMode(ctx context.Context, req fetch.Request, mode fetch.Mode) (*fetch.PageData, error) {
	f, ok := run.runner.fetchers[mode]
	if !ok {
		return nil, fetch.ErrNoFetcher(mode)
	}
	return f.Fetch(ctx, req)
}

func (run *productRun) shouldSkip(url string) (bool, string) {
	if run.runner.frontier == nil {
		return false, ""
	}
	verdict, err := run.runner.frontier.ShouldSkipUrl(url)
	if err != nil {
		return false, ""
	}
	return verdict.Skip, verdict.Reason
}

// onFetchResult is the scheduler callback: record the fetch in the frontier,
// convert the page to candidates, and fold them into provenance.
func (run *productRun) onFetchResult(pipe *pipeline.Pipeline) func(fetch.Request, fetch.Result, *fetch.PageData) {
	r := run.runner
	return func(req fetch.Request, res fetch.Result, page *fetch.PageData) {
		if !res.ShouldExtract() {
			run.recordFetch(req, res, nil)
			return
		}
		out := pipe.ProcessSource(pipeline.SourceInput{Result: res, Page: page, Host: req.Host, Tier: req.Tier})
		run.mu.Lock()
		run.prov.Merge(out.Candidates)
		run.candidates = append(run.candidates, out.Candidates...)
		run.dropped = append(run.dropped, out.Dropped...)
		run.mu.Unlock()

		fieldsFound := make([]string, 0, len(out.Candidates))
		seen := map[string]bool{}
		for _, c := range out.Candidates {
			if !seen[c.Field] {
				seen[c.Field] = true
				fieldsFound = append(fieldsFound, c.Field)
			}
			if r.learning != nil {
				_ = r.learning.RecordSeen(req.Host, c.Field)
			}
		}
		run.recordFetch(req, res, fieldsFound)
	}
}

func (run *productRun) recordFetch(req fetch.Request, res fetch.Result, fieldsFound []string) {
	if run.runner.frontier == nil {
		return
	}
	if _, err := run.runner.frontier.RecordFetch(frontier.FetchRecord{
		ProductID:   run.productID,
		URL:         req.URL,
		Status:      res.Status,
		ContentType: res.ContentType,
		Bytes:       res.Bytes,
		ElapsedMs:   res.ElapsedMs,
		FieldsFound: fieldsFound,
	}); err != nil {
		logging.Get(logging.CategoryFrontier).Warn("fetch record failed", logging.Err(err))
	}
}

// assess gates the current field map and evaluates the need set, returning
// this round's snapshot.
func (run *productRun) assess(engine *rules.Engine, round int, stats fetch.DrainStats) *needset.RoundSnapshot {
	fields := make(map[string]string, len(run.prov))
	for field, fp := range run.prov {
		fields[field] = fp.Value
	}
	gate := engine.ApplyRuntimeGate(rules.GateInput{Fields: fields})
	run.gatedFields = gate.Fields
	run.contradictions = 0
	for _, f := range gate.Failures {
		if f.ReasonCode == rules.FailConstraint {
			run.contradictions++
		}
	}
	// gate rejections flow back into provenance so the need set sees them
	for field, value := range gate.Fields {
		if fp, ok := run.prov[field]; ok && fp.Value != value {
			fp.Value = value
			if value == rules.Unk {
				fp.Confidence = 0
			}
		}
	}

	run.assessment = needset.Evaluate(engine, run.prov, run.runner.now(), run.nsCfg)
	for i := range run.assessment.Needs {
		n := &run.assessment.Needs[i]
		req := llm.QueryRequest{
			Brand:   run.product.Lock.Brand,
			Model:   run.product.Lock.Model,
			Variant: run.product.Lock.Variant,
		}
		if rule, ok := engine.Rule(n.Field); ok && len(rule.SearchHints.Anchors) > 0 {
			req.Anchors = map[string][]string{n.Field: rule.SearchHints.Anchors}
		}
		n.RetrievalQuery = llm.FieldQuery(req, n.Field)
	}
	return &needset.RoundSnapshot{
		Round:           round,
		MissingRequired: run.assessment.MissingRequired,
		MissingCritical: run.assessment.MissingCritical,
		Contradictions:  run.contradictions,
		AvgConfidence:   run.avgConfidence(),
		Validated:       run.assessment.MissingRequired == 0 && run.contradictions == 0,
	}
}

func (run *productRun) avgConfidence() float64 {
	if len(run.prov) == 0 {
		return 0
	}
	now := run.runner.now()
	var sum float64
	for _, fp := range run.prov {
		sum += needset.EffectiveConfidence(fp, now, run.nsCfg)
	}
	return sum / float64(len(run.prov))
}

func (run *productRun) budgetExhausted() bool {
	if run.budget.MaxURLs > 0 && run.urlsFetched >= run.budget.MaxURLs {
		return true
	}
	return run.sourcesPlanned == 0
}

func modelTokens(model string) []string {
	fields := strings.Fields(strings.ToLower(model))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.Trim(f, "-"))
	}
	return out
}

func minPositive(a, b int) int {
	if b > 0 && b < a {
		return b
	}
	return a
}
