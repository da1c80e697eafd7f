package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() error = %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("category: mice\nfetch:\n  concurrency: 9\n  per_host_delay_ms: 250\n  initial_mode: http\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Category != "mice" {
		t.Fatalf("Category = %q, want mice", cfg.Category)
	}
	if cfg.Fetch.Concurrency != 9 {
		t.Fatalf("Concurrency = %d, want 9", cfg.Fetch.Concurrency)
	}
	// untouched sections keep defaults
	if cfg.Planner.MaxUrlsPerProduct != 40 {
		t.Fatalf("MaxUrlsPerProduct = %d, want 40", cfg.Planner.MaxUrlsPerProduct)
	}
}

func TestEnvOverrideWins(t *testing.T) {
	t.Setenv("HARVESTER_FETCH_CONCURRENCY", "2")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Fetch.Concurrency != 2 {
		t.Fatalf("Concurrency = %d, want 2", cfg.Fetch.Concurrency)
	}
}

func TestCanonicalMode(t *testing.T) {
	cases := map[string]string{
		"uber":       "uber_aggressive",
		"ultra":      "uber_aggressive",
		"AGGRESSIVE": "aggressive",
		"balanced":   "balanced",
		"":           "balanced",
		"nonsense":   "balanced",
	}
	for in, want := range cases {
		if got := CanonicalMode(in); got != want {
			t.Errorf("CanonicalMode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBudgetForUberAliasesAggressive(t *testing.T) {
	cfg := DefaultConfig()
	if got, want := cfg.BudgetFor("uber"), cfg.Budgets["aggressive"]; got != want {
		t.Fatalf("BudgetFor(uber) = %+v, want %+v", got, want)
	}
}

func TestHostPolicyLookupWalksParents(t *testing.T) {
	table := HostPolicyTable{
		"example.com": {PerHostMinDelayMs: 4000},
	}
	p, ok := table.Lookup("www.shop.example.com")
	if !ok {
		t.Fatal("Lookup() ok = false, want true")
	}
	if p.PerHostMinDelayMs != 4000 {
		t.Fatalf("PerHostMinDelayMs = %d, want 4000", p.PerHostMinDelayMs)
	}
	if got := table.DelayMsFor("other.com", 1500); got != 1500 {
		t.Fatalf("DelayMsFor(other.com) = %d, want global 1500", got)
	}
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fetch.InitialMode = "carrier_pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() error = nil, want mode error")
	}
}
