package frontier

import (
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "frontier.db"), Config{
		QueryCooldownSeconds:         3600,
		Cooldown403BaseSeconds:       900,
		PathPenaltyNotfoundThreshold: 3,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordFetch404Cooldown(t *testing.T) {
	s := testStore(t)
	row, err := s.RecordFetch(FetchRecord{URL: "https://a.com/specs/x", Status: 404})
	if err != nil {
		t.Fatalf("RecordFetch() error = %v", err)
	}
	if row.CooldownReason != "404_gone" {
		t.Fatalf("CooldownReason = %q, want 404_gone", row.CooldownReason)
	}
	v, err := s.ShouldSkipUrl("https://a.com/specs/x")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Skip || v.Reason != "cooldown" {
		t.Fatalf("ShouldSkipUrl() = %+v, want cooldown skip", v)
	}
}

func TestRecordFetch403ExponentialBackoff(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return base })

	row1, err := s.RecordFetch(FetchRecord{URL: "https://a.com/p", Status: 403})
	if err != nil {
		t.Fatal(err)
	}
	row2, err := s.RecordFetch(FetchRecord{URL: "https://a.com/p", Status: 403})
	if err != nil {
		t.Fatal(err)
	}
	d1 := row1.CooldownUntil.Sub(base)
	d2 := row2.CooldownUntil.Sub(base)
	if d1 != 900*time.Second {
		t.Fatalf("first 403 cooldown = %v, want 900s", d1)
	}
	if d2 != 1800*time.Second {
		t.Fatalf("second 403 cooldown = %v, want 1800s", d2)
	}
}

func Test403BackoffCappedAt24h(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return base })
	var row Row
	var err error
	for i := 0; i < 12; i++ {
		row, err = s.RecordFetch(FetchRecord{URL: "https://a.com/q", Status: 403})
		if err != nil {
			t.Fatal(err)
		}
	}
	if got := row.CooldownUntil.Sub(base); got != 24*time.Hour {
		t.Fatalf("capped cooldown = %v, want 24h", got)
	}
}

func TestCooldownMonotonic(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return base })

	// two 403s push the cooldown out to 1800s
	if _, err := s.RecordFetch(FetchRecord{URL: "https://a.com/r", Status: 403}); err != nil {
		t.Fatal(err)
	}
	row, err := s.RecordFetch(FetchRecord{URL: "https://a.com/r", Status: 403})
	if err != nil {
		t.Fatal(err)
	}
	longest := row.CooldownUntil

	// a success resets the streak; the next 403 writes a shorter cooldown,
	// which must not shorten the existing later one of the same family
	if _, err := s.RecordFetch(FetchRecord{URL: "https://a.com/r", Status: 200}); err != nil {
		t.Fatal(err)
	}
	row, err = s.RecordFetch(FetchRecord{URL: "https://a.com/r", Status: 403})
	if err != nil {
		t.Fatal(err)
	}
	if row.CooldownUntil.Before(*longest) {
		t.Fatalf("cooldown shortened: %v < %v", row.CooldownUntil, longest)
	}
}

func TestPathDeadPattern(t *testing.T) {
	s := testStore(t)
	for _, u := range []string{
		"https://a.com/mice/one",
		"https://a.com/mice/two",
		"https://a.com/mice/three",
	} {
		if _, err := s.RecordFetch(FetchRecord{URL: u, Status: 404}); err != nil {
			t.Fatal(err)
		}
	}
	v, err := s.ShouldSkipUrl("https://a.com/mice/sibling")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Skip || v.Reason != "path_dead_pattern" {
		t.Fatalf("ShouldSkipUrl(sibling) = %+v, want path_dead_pattern", v)
	}
	// a different parent path is unaffected
	v, err = s.ShouldSkipUrl("https://a.com/keyboards/one")
	if err != nil {
		t.Fatal(err)
	}
	if v.Skip {
		t.Fatalf("ShouldSkipUrl(other path) = %+v, want no skip", v)
	}
}

func TestPathStreakResetsOnSuccess(t *testing.T) {
	s := testStore(t)
	for i := 0; i < 2; i++ {
		if _, err := s.RecordFetch(FetchRecord{URL: "https://a.com/mice/x", Status: 404}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.RecordFetch(FetchRecord{URL: "https://a.com/mice/ok", Status: 200}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordFetch(FetchRecord{URL: "https://a.com/mice/y", Status: 404}); err != nil {
		t.Fatal(err)
	}
	v, err := s.ShouldSkipUrl("https://a.com/mice/z")
	if err != nil {
		t.Fatal(err)
	}
	if v.Skip {
		t.Fatalf("ShouldSkipUrl() = %+v, streak should have reset", v)
	}
}

func TestQueryCooldown(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	now := base
	s.SetClock(func() time.Time { return now })

	hash, err := s.RecordQuery(QueryRecord{ProductID: "p1", Query: "logitech  G Pro weight", Provider: "ddg"})
	if err != nil {
		t.Fatal(err)
	}
	if hash == "" {
		t.Fatal("RecordQuery() returned empty hash")
	}

	// same query modulo whitespace/case within cooldown
	skip, err := s.ShouldSkipQuery("p1", "Logitech g pro WEIGHT", false)
	if err != nil {
		t.Fatal(err)
	}
	if !skip {
		t.Fatal("ShouldSkipQuery() = false inside cooldown, want true")
	}
	if skip, _ = s.ShouldSkipQuery("p1", "Logitech g pro WEIGHT", true); skip {
		t.Fatal("force should bypass the cooldown")
	}
	if skip, _ = s.ShouldSkipQuery("p2", "logitech g pro weight", false); skip {
		t.Fatal("query dedup must be scoped per product")
	}

	now = base.Add(2 * time.Hour)
	if skip, _ = s.ShouldSkipQuery("p1", "logitech g pro weight", false); skip {
		t.Fatal("ShouldSkipQuery() = true after cooldown expiry")
	}
}

func TestRecordYieldAccumulatesFields(t *testing.T) {
	s := testStore(t)
	for _, f := range []string{"weight", "dpi", "weight"} {
		if err := s.RecordYield(YieldRecord{URL: "https://a.com/s", FieldKey: f, ValueHash: "sha256:ab", Confidence: 0.8}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.RecordFetch(FetchRecord{URL: "https://a.com/s", Status: 200}); err != nil {
		t.Fatal(err)
	}
	row, err := s.Row("https://a.com/s")
	if err != nil {
		t.Fatal(err)
	}
	if len(row.FieldsYielded) != 2 {
		t.Fatalf("FieldsYielded = %v, want 2 distinct fields", row.FieldsYielded)
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"https://WWW.A.com/Path/#frag": "https://a.com/Path",
		"https://a.com/path/":          "https://a.com/path",
		"https://a.com":                "https://a.com",
	}
	for in, want := range cases {
		if got := NormalizeURL(in); got != want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}
