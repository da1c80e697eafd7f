package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CdubVentures/spec-harvester-sub003/internal/fetch"
	"github.com/CdubVentures/spec-harvester-sub003/internal/frontier"
	"github.com/CdubVentures/spec-harvester-sub003/internal/learning"
	"github.com/CdubVentures/spec-harvester-sub003/internal/llm"
	"github.com/CdubVentures/spec-harvester-sub003/internal/logging"
	"github.com/CdubVentures/spec-harvester-sub003/internal/orchestrator"
	"github.com/CdubVentures/spec-harvester-sub003/internal/rules"
	"github.com/CdubVentures/spec-harvester-sub003/internal/storage"
)

var (
	runProductsPath string
	runCategory     string
	runMode         string
	runParallel     int
	runNoBrowser    bool
)

// runCmd executes a product batch end to end.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a product batch through the convergence loop",
	Long: `Reads a JSON array of products (identity lock, seed URLs, host tiers)
and runs each through planning, fetching, extraction, gating and need-set
evaluation until a stop condition fires. One summary JSON line per product
is written to stdout.`,
	RunE: runBatch,
}

func init() {
	runCmd.Flags().StringVarP(&runProductsPath, "products", "p", "", "JSON file with the product batch (required)")
	runCmd.Flags().StringVar(&runCategory, "category", "", "category override")
	runCmd.Flags().StringVar(&runMode, "mode", "balanced", "run mode: balanced, aggressive, uber_aggressive")
	runCmd.Flags().IntVar(&runParallel, "parallel", 2, "products in flight at once")
	runCmd.Flags().BoolVar(&runNoBrowser, "no-browser", false, "disable the headless-browser escalation tier")
	_ = runCmd.MarkFlagRequired("products")
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runCategory != "" {
		cfg.Category = runCategory
	}

	data, err := os.ReadFile(runProductsPath)
	if err != nil {
		return fmt.Errorf("read products file: %w", err)
	}
	var products []orchestrator.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return fmt.Errorf("parse products file: %w", err)
	}
	if len(products) == 0 {
		return fmt.Errorf("products file %s is empty", runProductsPath)
	}
	category := cfg.Category
	if category == "" {
		category = products[0].Category
	}
	if category == "" {
		return fmt.Errorf("no category: set --category, config, or per-product category")
	}
	for i := range products {
		if products[i].Mode == "" {
			products[i].Mode = runMode
		}
	}

	store, err := storage.NewLocalStore(cfg.Storage.OutputRoot)
	if err != nil {
		return err
	}
	front, err := openFrontier()
	if err != nil {
		return err
	}
	defer front.Close()
	learn, err := learning.Open(cfg.Storage.StateDir, category)
	if err != nil {
		return err
	}
	defer learn.Close()

	provider, err := rules.NewProvider(cfg.Storage.HelperRoot, category)
	if err != nil {
		return err
	}
	go func() {
		if err := provider.Watch(ctx); err != nil {
			logging.Get(logging.CategoryRules).Warn("bundle watch stopped", logging.Err(err))
		}
	}()

	fetchers, stopFetchers, err := buildFetchers()
	if err != nil {
		return err
	}
	defer stopFetchers()

	var client llm.Client
	if cfg.LLM.Provider == "gemini" && cfg.LLM.APIKey != "" {
		client, err = llm.NewGeminiClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
		if err != nil {
			logging.Get(logging.CategoryLLM).Warn("llm unavailable, falling back to template queries", logging.Err(err))
			client = nil
		}
	}

	runner, err := orchestrator.New(orchestrator.Options{
		Config:   cfg,
		Store:    store,
		Frontier: front,
		Learning: learn,
		Rules:    provider,
		Fetchers: fetchers,
		LLM:      client,
	})
	if err != nil {
		return err
	}

	summaries, runErr := runner.RunBatch(ctx, products, runParallel)
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, s := range summaries {
		if s != nil {
			_ = enc.Encode(s)
		}
	}
	return runErr
}

// buildFetchers wires the fetch mode ladder. The browser tier is optional:
// a failed Chrome launch degrades the ladder rather than aborting the batch.
func buildFetchers() (map[fetch.Mode]fetch.Fetcher, func(), error) {
	rich := fetch.NewHTTPFetcher(fetch.HTTPFetcherConfig{
		UserAgent:    cfg.Fetch.UserAgent,
		MaxBodyBytes: cfg.Fetch.MaxResponseBodyBytes,
		Rich:         true,
	})
	bare := fetch.NewHTTPFetcher(fetch.HTTPFetcherConfig{
		UserAgent:    cfg.Fetch.UserAgent,
		MaxBodyBytes: cfg.Fetch.MaxResponseBodyBytes,
	})
	fetchers := map[fetch.Mode]fetch.Fetcher{
		fetch.ModeHTTPRich: rich,
		fetch.ModeHTTP:     bare,
	}
	started := []fetch.Fetcher{rich, bare}
	for _, f := range started {
		if err := f.Start(); err != nil {
			return nil, nil, err
		}
	}

	if !runNoBrowser {
		browser := fetch.NewRodFetcher(fetch.RodFetcherConfig{
			Headless:            cfg.Fetch.BrowserHeadless,
			NavigationTimeoutMs: cfg.Fetch.BrowserNavTimeoutMs,
		})
		if err := browser.Start(); err != nil {
			logging.Get(logging.CategoryFetch).Warn("browser tier unavailable", logging.Err(err))
		} else {
			fetchers[fetch.ModeBrowser] = browser
			started = append(started, browser)
		}
	}

	stopAll := func() {
		for _, f := range started {
			_ = f.Stop()
		}
	}
	return fetchers, stopAll, nil
}

func openFrontier() (*frontier.Store, error) {
	return frontier.Open(filepath.Join(cfg.Storage.StateDir, "frontier.db"), frontier.Config{
		QueryCooldownSeconds:         cfg.Frontier.QueryCooldownSeconds,
		Cooldown403BaseSeconds:       cfg.Frontier.Cooldown403BaseSeconds,
		PathPenaltyNotfoundThreshold: cfg.Frontier.PathPenaltyNotfoundThreshold,
	})
}
