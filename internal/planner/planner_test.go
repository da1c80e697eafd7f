package planner

import "testing"

func testOptions() Options {
	return Options{
		Category:            "gaming-mice",
		Brand:               "Logitech",
		ModelTokens:         []string{"g-pro", "superlight"},
		ManufacturerDomains: []string{"logitech.com"},
		Hosts: HostTable{
			Tiers: map[string]int{
				"logitech.com": TierManufacturer,
				"razer.com":    TierManufacturer,
				"rtings.com":   TierLabReview,
				"techpowerup.com": TierDatabase,
			},
			Blocked: []string{"spam.example"},
		},
		MaxUrlsPerProduct:             10,
		MaxPagesPerDomain:             3,
		ManufacturerMaxPagesPerDomain: 5,
	}
}

func drain(p *Planner) []string {
	var out []string
	for {
		s := p.Next()
		if s == nil {
			return out
		}
		out = append(out, s.URL)
	}
}

func TestEmptyPlanner(t *testing.T) {
	p := New(testOptions())
	if p.HasNext() {
		t.Fatal("HasNext() = true on empty planner")
	}
	if p.Next() != nil {
		t.Fatal("Next() != nil on empty planner")
	}
}

func TestTierOrdering(t *testing.T) {
	p := New(testOptions())
	p.Enqueue("https://techpowerup.com/mouse/1", EnqueueOptions{})
	p.Enqueue("https://rtings.com/review/1", EnqueueOptions{})
	p.Enqueue("https://logitech.com/g-pro", EnqueueOptions{})

	got := drain(p)
	want := []string{
		"https://logitech.com/g-pro",
		"https://rtings.com/review/1",
		"https://techpowerup.com/mouse/1",
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("emit order = %v, want %v", got, want)
		}
	}
}

func TestScoreAndRewardTiebreak(t *testing.T) {
	p := New(testOptions())
	p.SetHostScore("rtings.com", 2.0)
	p.SetRewardFn(func(host, path string) float64 {
		if host == "notebookcheck.net" {
			return 1.5
		}
		return 0
	})
	// three tier-2 entries: scored host first, then rewarded host, then insertion order
	p.Enqueue("https://hwtest.org/review", EnqueueOptions{Tier: TierLabReview})
	p.Enqueue("https://notebookcheck.net/review", EnqueueOptions{Tier: TierLabReview})
	p.Enqueue("https://rtings.com/review", EnqueueOptions{Tier: TierLabReview})

	got := drain(p)
	want := []string{
		"https://rtings.com/review",
		"https://notebookcheck.net/review",
		"https://hwtest.org/review",
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("emit order = %v, want %v", got, want)
		}
	}
}

func TestDedup(t *testing.T) {
	p := New(testOptions())
	if !p.Enqueue("https://rtings.com/review/1", EnqueueOptions{}) {
		t.Fatal("first enqueue rejected")
	}
	for _, dup := range []string{
		"https://WWW.rtings.com/review/1",
		"https://rtings.com/review/1/",
		"https://rtings.com/review/1#specs",
	} {
		if p.Enqueue(dup, EnqueueOptions{}) {
			t.Fatalf("duplicate admitted: %s", dup)
		}
	}
	if n := len(drain(p)); n != 1 {
		t.Fatalf("emitted %d, want 1", n)
	}
}

func TestForeignManufacturerRejected(t *testing.T) {
	p := New(testOptions())
	if p.Enqueue("https://razer.com/viper", EnqueueOptions{}) {
		t.Fatal("foreign manufacturer URL admitted")
	}
}

func TestBroadDiscoveryModelSignal(t *testing.T) {
	opts := testOptions()
	opts.BroadDiscovery = true
	p := New(opts)
	// foreign manufacturer host, but the path carries strong model signal
	if !p.Enqueue("https://razer.com/compare/g-pro-x-superlight", EnqueueOptions{}) {
		t.Fatal("broad discovery should admit strong model-signal path")
	}
	if p.Enqueue("https://razer.com/viper-v3", EnqueueOptions{}) {
		t.Fatal("weak-signal foreign manufacturer URL admitted")
	}
}

func TestPerHostCap(t *testing.T) {
	p := New(testOptions())
	for i := 0; i < 5; i++ {
		p.Enqueue("https://rtings.com/review/"+string(rune('a'+i)), EnqueueOptions{})
	}
	if n := len(drain(p)); n != 3 {
		t.Fatalf("emitted %d from one host, want cap 3", n)
	}
}

func TestManufacturerCapOverride(t *testing.T) {
	p := New(testOptions())
	for i := 0; i < 6; i++ {
		p.Enqueue("https://logitech.com/page/"+string(rune('a'+i)), EnqueueOptions{})
	}
	if n := len(drain(p)); n != 5 {
		t.Fatalf("emitted %d manufacturer pages, want override cap 5", n)
	}
}

func TestTotalBudget(t *testing.T) {
	opts := testOptions()
	opts.MaxUrlsPerProduct = 2
	p := New(opts)
	p.Enqueue("https://rtings.com/1", EnqueueOptions{})
	p.Enqueue("https://techpowerup.com/1", EnqueueOptions{})
	p.Enqueue("https://logitech.com/1", EnqueueOptions{})
	if n := len(drain(p)); n != 2 {
		t.Fatalf("emitted %d, want budget 2", n)
	}
}

func TestBlockHost(t *testing.T) {
	p := New(testOptions())
	p.Enqueue("https://rtings.com/1", EnqueueOptions{})
	p.Enqueue("https://rtings.com/2", EnqueueOptions{})
	p.Enqueue("https://techpowerup.com/1", EnqueueOptions{})

	if removed := p.BlockHost("rtings.com", "blocked_by_operator"); removed != 2 {
		t.Fatalf("BlockHost removed %d, want 2", removed)
	}
	if p.Enqueue("https://rtings.com/3", EnqueueOptions{}) {
		t.Fatal("blocked host admitted new URL")
	}
	got := drain(p)
	if len(got) != 1 || got[0] != "https://techpowerup.com/1" {
		t.Fatalf("emitted %v, want only techpowerup", got)
	}
}

func TestBlockedByTableRejected(t *testing.T) {
	p := New(testOptions())
	if p.Enqueue("https://spam.example/offer", EnqueueOptions{}) {
		t.Fatal("host-table blocked URL admitted")
	}
}

func TestCandidateSourcesGatedAndLast(t *testing.T) {
	opts := testOptions()
	p := New(opts)
	if p.Enqueue("https://randomblog.net/review", EnqueueOptions{CandidateSource: true}) {
		t.Fatal("candidate source admitted with fetchCandidateSources=false")
	}

	opts.FetchCandidateSources = true
	p = New(opts)
	p.Enqueue("https://randomblog.net/review", EnqueueOptions{CandidateSource: true})
	p.Enqueue("https://rtings.com/review", EnqueueOptions{})
	got := drain(p)
	if len(got) != 2 || got[len(got)-1] != "https://randomblog.net/review" {
		t.Fatalf("emitted %v, candidate source must sort last", got)
	}
}

func TestManufacturerReservation(t *testing.T) {
	opts := testOptions()
	opts.MaxUrlsPerProduct = 3
	opts.ManufacturerReserveUrls = 2
	p := New(opts)
	p.Enqueue("https://rtings.com/1", EnqueueOptions{})
	p.Enqueue("https://rtings.com/2", EnqueueOptions{})
	p.Enqueue("https://techpowerup.com/1", EnqueueOptions{})

	// only one non-manufacturer slot is free; two stay reserved
	got := drain(p)
	if len(got) != 1 {
		t.Fatalf("emitted %v, want 1 with 2 slots reserved", got)
	}

	// a manufacturer URL arriving later uses the reserve
	p.Enqueue("https://logitech.com/g-pro", EnqueueOptions{})
	s := p.Next()
	if s == nil || s.Tier != TierManufacturer {
		t.Fatalf("Next() = %+v, want manufacturer from reserve", s)
	}
}

func TestDiscoverFromSitemap(t *testing.T) {
	p := New(testOptions())
	body := `<?xml version="1.0"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://logitech.com/g-pro-x</loc></url>
  <url><loc>https://logitech.com/g-pro-x-superlight</loc></url>
</urlset>`
	if n := p.DiscoverFromSitemap("https://logitech.com/sitemap.xml", body); n != 2 {
		t.Fatalf("DiscoverFromSitemap() = %d, want 2", n)
	}
	s := p.Next()
	if s == nil || s.Tier != TierManufacturer {
		t.Fatalf("discovered URL tier = %+v, want manufacturer tier", s)
	}
}

func TestDiscoverFromSitemapIndex(t *testing.T) {
	p := New(testOptions())
	body := `<sitemapindex><sitemap><loc>https://logitech.com/sitemap-products.xml</loc></sitemap></sitemapindex>`
	if n := p.DiscoverFromSitemap("https://logitech.com/sitemap.xml", body); n != 1 {
		t.Fatalf("DiscoverFromSitemap(index) = %d, want 1", n)
	}
}

func TestDiscoverFromRobots(t *testing.T) {
	p := New(testOptions())
	body := "User-agent: *\nDisallow: /cart\nSitemap: https://logitech.com/sitemap.xml\nsitemap: https://logitech.com/sitemap2.xml\n"
	if n := p.DiscoverFromRobots("https://logitech.com/robots.txt", body); n != 2 {
		t.Fatalf("DiscoverFromRobots() = %d, want 2", n)
	}
}
