// Package orchestrator runs the per-product convergence loop: plan sources,
// drain the fetch scheduler, fold candidates into provenance, gate, assess
// the need set, and stop when a stop condition fires. Products in a batch run
// in parallel; everything inside one product run is sequential except the
// scheduler's worker pool.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/CdubVentures/spec-harvester-sub003/internal/config"
	"github.com/CdubVentures/spec-harvester-sub003/internal/fetch"
	"github.com/CdubVentures/spec-harvester-sub003/internal/frontier"
	"github.com/CdubVentures/spec-harvester-sub003/internal/identity"
	"github.com/CdubVentures/spec-harvester-sub003/internal/learning"
	"github.com/CdubVentures/spec-harvester-sub003/internal/llm"
	"github.com/CdubVentures/spec-harvester-sub003/internal/logging"
	"github.com/CdubVentures/spec-harvester-sub003/internal/needset"
	"github.com/CdubVentures/spec-harvester-sub003/internal/pipeline"
	"github.com/CdubVentures/spec-harvester-sub003/internal/rules"
	"github.com/CdubVentures/spec-harvester-sub003/internal/storage"
)

// Product is one batch entry: the identity is taken as input, never inferred.
type Product struct {
	Category            string         `json:"category,omitempty"`
	Lock                identity.Lock  `json:"identity"`
	SeedURLs            []string       `json:"seed_urls,omitempty"`
	ManufacturerDomains []string       `json:"manufacturer_domains,omitempty"`
	HostTiers           map[string]int `json:"host_tiers,omitempty"`
	Mode                string         `json:"mode,omitempty"`
}

// Options wires a Runner.
type Options struct {
	Config   *config.Config
	Store    storage.Store
	Frontier *frontier.Store
	Learning *learning.Store
	Rules    *rules.Provider
	Fetchers map[fetch.Mode]fetch.Fetcher
	LLM      llm.Client // nil: template queries only
	Now      func() time.Time
}

// Runner executes product runs against shared stores.
type Runner struct {
	cfg      *config.Config
	store    storage.Store
	frontier *frontier.Store
	learning *learning.Store
	rules    *rules.Provider
	fetchers map[fetch.Mode]fetch.Fetcher
	llm      llm.Client
	now      func() time.Time
}

func New(opts Options) (*Runner, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("orchestrator requires config")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("orchestrator requires a storage backend")
	}
	if opts.Rules == nil {
		return nil, fmt.Errorf("orchestrator requires a rules provider")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		cfg:      opts.Config,
		store:    opts.Store,
		frontier: opts.Frontier,
		learning: opts.Learning,
		rules:    opts.Rules,
		fetchers: opts.Fetchers,
		llm:      opts.LLM,
		now:      now,
	}, nil
}

// RunBatch runs products in parallel. Per-product failures land in their
// summaries; only infrastructure errors propagate.
func (r *Runner) RunBatch(ctx context.Context, products []Product, parallelism int) ([]*storage.Summary, error) {
	if parallelism <= 0 {
		parallelism = 1
	}
	summaries := make([]*storage.Summary, len(products))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, p := range products {
		g.Go(func() error {
			s, err := r.RunProduct(gctx, p)
			if err != nil {
				logging.Get(logging.CategoryOrchestrator).Error("product run failed",
					zap.String("product", p.Lock.Brand+" "+p.Lock.Model), logging.Err(err))
				return err
			}
			summaries[i] = s
			return nil
		})
	}
	err := g.Wait()
	r.writeQueueState(products, summaries)
	return summaries, err
}

// queueEntry is one product's position in the batch queue snapshot.
type queueEntry struct {
	ProductID string `json:"product_id"`
	Brand     string `json:"brand"`
	Model     string `json:"model"`
	Status    string `json:"status"` // stop reason, or failed
	RunID     string `json:"run_id,omitempty"`
}

func (r *Runner) writeQueueState(products []Product, summaries []*storage.Summary) {
	byCat := map[string][]queueEntry{}
	for i, p := range products {
		category := p.Category
		if category == "" {
			category = r.cfg.Category
		}
		if category == "" {
			continue
		}
		e := queueEntry{
			ProductID: identity.ProductID(category, p.Lock),
			Brand:     p.Lock.Brand,
			Model:     p.Lock.Model,
			Status:    "failed",
		}
		if s := summaries[i]; s != nil {
			e.Status = s.StopReason
			e.RunID = s.RunID
		}
		byCat[category] = append(byCat[category], e)
	}
	for category, entries := range byCat {
		if err := storage.WriteJSON(r.store, storage.QueueStateKey(category), entries); err != nil {
			logging.Get(logging.CategoryStorage).Warn("queue state write failed", logging.Err(err))
		}
	}
}

// RunProduct executes the full convergence loop for one product.
func (r *Runner) RunProduct(ctx context.Context, p Product) (*storage.Summary, error) {
	if err := p.Lock.Validate(); err != nil {
		return nil, err
	}
	category := p.Category
	if category == "" {
		category = r.cfg.Category
	}
	if strings.TrimSpace(category) == "" {
		return nil, rules.ErrCategoryRequired
	}

	log := logging.Get(logging.CategoryOrchestrator)
	productID := identity.ProductID(category, p.Lock)
	runID := uuid.NewString()
	mode := config.CanonicalMode(p.Mode)
	budget := r.cfg.BudgetFor(mode)
	nsCfg := needset.Config{
		DecayDays:  r.cfg.NeedSet.DecayDays,
		DecayFloor: r.cfg.NeedSet.DecayFloor,
		TopN:       r.cfg.NeedSet.FocusFields,
	}
	roundsLimit := budget.MaxRounds
	if roundsLimit <= 0 {
		roundsLimit = r.cfg.NeedSet.RoundsLimit
	}

	log.Info("product run started",
		zap.String("run_id", runID),
		zap.String("product_id", productID),
		zap.String("mode", mode))

	run := &productRun{
		runner:    r,
		product:   p,
		category:  category,
		productID: productID,
		runID:     runID,
		mode:      mode,
		budget:    budget,
		nsCfg:     nsCfg,
		prov:      pipeline.Provenance{},
	}

	stopReason := ""
	var prev *needset.RoundSnapshot
	noProgress, lowQuality, round := 0, 0, 0

	for {
		engine := r.rules.Engine()
		rctx := run.roundContext(round, mode)
		stats := run.executeRound(ctx, engine, rctx)

		snap := run.assess(engine, round, stats)
		progress := needset.EvaluateRoundProgress(prev, snap)
		if progress.Improved {
			noProgress = 0
		} else {
			noProgress++
		}
		if stats.Processed == 0 {
			lowQuality++
		}
		run.appendMetrics(round, stats, snap, progress)
		prev = snap
		round++

		// hot-reloaded rule bundles take effect only here
		if r.rules.Advance() {
			log.Info("rule bundle advanced at round boundary", zap.Int("round", round))
		}

		reason, stop := needset.StopReason(needset.StopInputs{
			AllRequiredMet:      snap.MissingRequired == 0,
			Contradictions:      snap.Contradictions,
			BudgetExhausted:     run.budgetExhausted(),
			RoundIndex:          round,
			RoundsLimit:         roundsLimit,
			NoProgressStreak:    noProgress,
			NoProgressLimit:     r.cfg.NeedSet.NoProgressLimit,
			LowQualityRounds:    lowQuality,
			MaxLowQualityRounds: r.cfg.NeedSet.MaxLowQualityRounds,
		})
		if stop {
			stopReason = reason
			break
		}
	}

	run.populateLearning()
	summary := run.buildSummary(stopReason, round)
	if err := run.persist(summary); err != nil {
		return nil, err
	}
	log.Info("product run finished",
		zap.String("run_id", runID),
		zap.String("stop_reason", stopReason),
		zap.Int("rounds", round),
		zap.Bool("publishable", summary.Publishable))
	return summary, nil
}
