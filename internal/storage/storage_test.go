package storage

import (
	"os"
	"strings"
	"testing"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	key := FinalSpecKey("gaming-mice", "gaming-mice-logitech-g-pro")
	type spec struct {
		Weight string `json:"weight"`
	}
	if err := WriteJSON(s, key, spec{Weight: "60"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	ok, err := s.ObjectExists(key)
	if err != nil || !ok {
		t.Fatalf("ObjectExists() = %v, %v", ok, err)
	}

	var got spec
	found, err := s.ReadJSONOrNull(key, &got)
	if err != nil {
		t.Fatalf("ReadJSONOrNull() error = %v", err)
	}
	if !found || got.Weight != "60" {
		t.Fatalf("ReadJSONOrNull() = %v, %+v", found, got)
	}

	var missing spec
	found, err = s.ReadJSONOrNull("final/none/spec.json", &missing)
	if err != nil || found {
		t.Fatalf("missing key: found=%v err=%v", found, err)
	}
}

func TestAppendTextAddsNewlines(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	key := HistoryKey("gaming-mice", "p1")
	if err := s.AppendText(key, `{"run":1}`); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendText(key, `{"run":2}`); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("history lines = %d, want 2", len(lines))
	}
}

func TestKeyLayout(t *testing.T) {
	cases := map[string]string{
		FinalSpecKey("gaming-mice", "p1"):              "final/gaming-mice/p1/spec.json",
		HistoryKey("gaming-mice", "p1"):                "final/gaming-mice/p1/history/runs.jsonl",
		LatestArtifactKey("gaming-mice", "p1", "provenance"): "final/gaming-mice/p1/latest/provenance.json",
		QueueStateKey("gaming-mice"):                   "_queue/gaming-mice/state.json",
		MetricsKey():                                   "_runtime/metrics.jsonl",
		ReviewQueueKey("gaming-mice"):                  "_review/gaming-mice/queue.json",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("key = %q, want %q", got, want)
		}
	}
}

func TestShouldPromote(t *testing.T) {
	base := Summary{Validated: true, Confidence: 0.8, CompletenessRequired: 0.9, CoverageOverall: 0.7, ConstraintContradictionCount: 1, Publishable: true}

	cases := []struct {
		name      string
		candidate Summary
		current   *Summary
		want      bool
	}{
		{"not publishable", Summary{Publishable: false, Confidence: 1}, nil, false},
		{"no current", Summary{Publishable: true}, nil, true},
		{"confidence up", with(base, func(s *Summary) { s.Confidence = 0.85 }), &base, true},
		{"contradictions down", with(base, func(s *Summary) { s.ConstraintContradictionCount = 0 }), &base, true},
		{"validated flip", with(base, func(s *Summary) { s.Validated = true }), withPtr(base, func(s *Summary) { s.Validated = false }), true},
		{"identical", base, &base, false},
		{"worse everywhere", with(base, func(s *Summary) { s.Confidence = 0.5; s.CoverageOverall = 0.5 }), &base, false},
	}
	for _, tc := range cases {
		if got := ShouldPromote(tc.candidate, tc.current); got != tc.want {
			t.Errorf("%s: ShouldPromote() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func with(s Summary, fn func(*Summary)) Summary {
	fn(&s)
	return s
}

func withPtr(s Summary, fn func(*Summary)) *Summary {
	fn(&s)
	return &s
}
