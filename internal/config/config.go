// Package config holds all harvester configuration. Configuration is loaded
// from a YAML file, then overridden by HARVESTER_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object.
type Config struct {
	Category string `yaml:"category"`

	Fetch    FetchConfig    `yaml:"fetch"`
	Planner  PlannerConfig  `yaml:"planner"`
	Frontier FrontierConfig `yaml:"frontier"`
	NeedSet  NeedSetConfig  `yaml:"needset"`
	Learning LearningConfig `yaml:"learning"`
	LLM      LLMConfig      `yaml:"llm"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`

	// HostPolicies maps a host token (lowercased, www. stripped) to per-host
	// fetch policy overrides.
	HostPolicies HostPolicyTable `yaml:"host_policies"`

	// Budgets maps a run mode to its per-product budget table. Modes without
	// an entry fall back to the balanced table.
	Budgets map[string]Budget `yaml:"budgets"`
}

// FetchConfig controls the fetch scheduler.
type FetchConfig struct {
	Concurrency          int    `yaml:"concurrency"`
	PerHostDelayMs       int    `yaml:"per_host_delay_ms"`
	PageGotoTimeoutMs    int    `yaml:"page_goto_timeout_ms"`
	MaxRetries           int    `yaml:"max_retries"`
	RetryBackoffMs       int    `yaml:"retry_backoff_ms"`
	InitialMode          string `yaml:"initial_mode"` // http_rich, browser, http
	BrowserHeadless      bool   `yaml:"browser_headless"`
	BrowserNavTimeoutMs  int    `yaml:"browser_nav_timeout_ms"`
	UserAgent            string `yaml:"user_agent"`
	MaxResponseBodyBytes int64  `yaml:"max_response_body_bytes"`
}

// PlannerConfig controls the source planner.
type PlannerConfig struct {
	MaxUrlsPerProduct             int  `yaml:"max_urls_per_product"`
	MaxPagesPerDomain             int  `yaml:"max_pages_per_domain"`
	ManufacturerMaxPagesPerDomain int  `yaml:"manufacturer_max_pages_per_domain"`
	ManufacturerReserveUrls       int  `yaml:"manufacturer_reserve_urls"`
	FetchCandidateSources         bool `yaml:"fetch_candidate_sources"`
	BroadDiscovery                bool `yaml:"broad_discovery"`
}

// FrontierConfig controls durable URL/query memory.
type FrontierConfig struct {
	QueryCooldownSeconds         int `yaml:"query_cooldown_seconds"`
	Cooldown403BaseSeconds       int `yaml:"cooldown_403_base_seconds"`
	PathPenaltyNotfoundThreshold int `yaml:"path_penalty_notfound_threshold"`
}

// NeedSetConfig controls convergence evaluation.
type NeedSetConfig struct {
	DecayDays           float64 `yaml:"decay_days"`
	DecayFloor          float64 `yaml:"decay_floor"`
	RoundsLimit         int     `yaml:"rounds_limit"`
	NoProgressLimit     int     `yaml:"no_progress_limit"`
	MaxLowQualityRounds int     `yaml:"max_low_quality_rounds"`
	FocusFields         int     `yaml:"focus_fields"` // top-N need scores per round
}

// LearningConfig controls the durable learning stores.
type LearningConfig struct {
	MinSeen  int     `yaml:"min_seen"`  // low-yield surfacing threshold
	MaxYield float64 `yaml:"max_yield"` // used/seen at or below this is low-yield
}

// LLMConfig configures the optional discovery/escalation planner client.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini or none
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// StorageConfig points at the output root for all persisted artifacts.
type StorageConfig struct {
	OutputRoot string `yaml:"output_root"`
	HelperRoot string `yaml:"helper_root"` // compiled rule bundles
	StateDir   string `yaml:"state_dir"`   // sqlite stores
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Level      string          `yaml:"level"`
	Dir        string          `yaml:"dir"`
	Console    bool            `yaml:"console"`
	Categories map[string]bool `yaml:"categories"`
}

// Budget caps a single product run under one mode.
type Budget struct {
	MaxRounds          int `yaml:"max_rounds"`
	MaxURLs            int `yaml:"max_urls"`
	MaxQueriesPerRound int `yaml:"max_queries_per_round"`
}

// DefaultConfig returns the balanced-mode defaults.
func DefaultConfig() *Config {
	return &Config{
		Fetch: FetchConfig{
			Concurrency:          4,
			PerHostDelayMs:       1500,
			PageGotoTimeoutMs:    30000,
			MaxRetries:           2,
			RetryBackoffMs:       750,
			InitialMode:          "http_rich",
			BrowserHeadless:      true,
			BrowserNavTimeoutMs:  30000,
			UserAgent:            "spec-harvester/1.0",
			MaxResponseBodyBytes: 8 << 20,
		},
		Planner: PlannerConfig{
			MaxUrlsPerProduct:             40,
			MaxPagesPerDomain:             6,
			ManufacturerMaxPagesPerDomain: 12,
			ManufacturerReserveUrls:       4,
		},
		Frontier: FrontierConfig{
			QueryCooldownSeconds:         6 * 3600,
			Cooldown403BaseSeconds:       900,
			PathPenaltyNotfoundThreshold: 3,
		},
		NeedSet: NeedSetConfig{
			DecayDays:           14,
			DecayFloor:          0.2,
			RoundsLimit:         6,
			NoProgressLimit:     3,
			MaxLowQualityRounds: 2,
			FocusFields:         8,
		},
		Learning: LearningConfig{
			MinSeen:  10,
			MaxYield: 0.05,
		},
		LLM: LLMConfig{Provider: "none", Model: "gemini-2.0-flash"},
		Storage: StorageConfig{
			OutputRoot: "out",
			HelperRoot: "helper_files",
			StateDir:   ".harvester",
		},
		Logging: LoggingConfig{Level: "info", Dir: ".harvester/logs"},
		Budgets: map[string]Budget{
			"balanced":   {MaxRounds: 4, MaxURLs: 40, MaxQueriesPerRound: 4},
			"aggressive": {MaxRounds: 6, MaxURLs: 80, MaxQueriesPerRound: 8},
		},
	}
}

// Load reads a YAML config file over the defaults, then applies env overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as runtime faults.
func (c *Config) Validate() error {
	if c.Fetch.Concurrency < 1 {
		return fmt.Errorf("fetch.concurrency must be >= 1, got %d", c.Fetch.Concurrency)
	}
	if c.NeedSet.DecayDays <= 0 {
		return fmt.Errorf("needset.decay_days must be positive, got %v", c.NeedSet.DecayDays)
	}
	if c.NeedSet.DecayFloor < 0 || c.NeedSet.DecayFloor > 1 {
		return fmt.Errorf("needset.decay_floor must be in [0,1], got %v", c.NeedSet.DecayFloor)
	}
	switch c.Fetch.InitialMode {
	case "http_rich", "browser", "http":
	default:
		return fmt.Errorf("fetch.initial_mode %q not one of http_rich, browser, http", c.Fetch.InitialMode)
	}
	return nil
}

// BudgetFor resolves a mode name (including aliases) to its budget table.
// uber_aggressive shares the aggressive table unless explicitly configured.
func (c *Config) BudgetFor(mode string) Budget {
	mode = CanonicalMode(mode)
	if b, ok := c.Budgets[mode]; ok {
		return b
	}
	if mode == "uber_aggressive" {
		if b, ok := c.Budgets["aggressive"]; ok {
			return b
		}
	}
	return c.Budgets["balanced"]
}

// CanonicalMode maps mode aliases to canonical names. Unknown modes fall back
// to balanced.
func CanonicalMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "uber", "ultra", "uber_aggressive":
		return "uber_aggressive"
	case "aggressive":
		return "aggressive"
	case "balanced", "":
		return "balanced"
	default:
		return "balanced"
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HARVESTER_CATEGORY"); v != "" {
		c.Category = v
	}
	if v := os.Getenv("HARVESTER_OUTPUT_ROOT"); v != "" {
		c.Storage.OutputRoot = v
	}
	if v := os.Getenv("HARVESTER_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("HARVESTER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v, ok := envInt("HARVESTER_FETCH_CONCURRENCY"); ok {
		c.Fetch.Concurrency = v
	}
	if v, ok := envInt("HARVESTER_PER_HOST_DELAY_MS"); ok {
		c.Fetch.PerHostDelayMs = v
	}
	if v, ok := envInt("HARVESTER_MAX_URLS_PER_PRODUCT"); ok {
		c.Planner.MaxUrlsPerProduct = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
