package fetch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func okPage(url string) *PageData {
	return &PageData{URL: url, FinalURL: url, Status: 200, ContentType: "text/html", HTML: "<html></html>"}
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) emit(name string, _ map[string]any) {
	l.mu.Lock()
	l.events = append(l.events, name)
	l.mu.Unlock()
}

func (l *eventLog) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e == name {
			n++
		}
	}
	return n
}

func TestDrainPerHostPacing(t *testing.T) {
	var mu sync.Mutex
	times := map[string][]time.Time{}

	fetch := func(ctx context.Context, req Request, mode Mode) (*PageData, error) {
		mu.Lock()
		times[req.Host] = append(times[req.Host], time.Now())
		mu.Unlock()
		return okPage(req.URL), nil
	}

	s := NewScheduler()
	stats := s.DrainQueue(context.Background(), DrainOptions{
		Sources: []Request{
			{URL: "https://a.com/1", Host: "a.com"},
			{URL: "https://a.com/2", Host: "a.com"},
			{URL: "https://b.com/1", Host: "b.com"},
		},
		FetchWithMode:  fetch,
		Concurrency:    3,
		PerHostDelayMs: 200,
	})
	if stats.Processed != 3 {
		t.Fatalf("Processed = %d, want 3", stats.Processed)
	}
	if len(times["a.com"]) != 2 {
		t.Fatalf("a.com fetches = %d, want 2", len(times["a.com"]))
	}
	gap := times["a.com"][1].Sub(times["a.com"][0])
	if gap < 0 {
		gap = -gap
	}
	if gap < 190*time.Millisecond {
		t.Fatalf("a.com fetch gap = %v, want >= ~200ms", gap)
	}
}

func TestDrainFallbackLadder(t *testing.T) {
	var modes []Mode
	var results []Result
	log := &eventLog{}

	fetch := func(ctx context.Context, req Request, mode Mode) (*PageData, error) {
		modes = append(modes, mode)
		switch mode {
		case ModeHTTPRich:
			return nil, errors.New("403 Forbidden")
		case ModeBrowser:
			return nil, errors.New("navigation_timeout: page load exceeded budget")
		default:
			return okPage(req.URL), nil
		}
	}

	s := NewScheduler()
	stats := s.DrainQueue(context.Background(), DrainOptions{
		Sources:       []Request{{URL: "https://a.com/1", Host: "a.com"}},
		FetchWithMode: fetch,
		OnFetchResult: func(_ Request, r Result, _ *PageData) { results = append(results, r) },
		EmitEvent:     log.emit,
		Concurrency:   1,
		Sleep:         func(time.Duration) {},
	})
	if stats.Processed != 1 {
		t.Fatalf("Processed = %d, want 1", stats.Processed)
	}
	wantModes := []Mode{ModeHTTPRich, ModeBrowser, ModeHTTP}
	if len(modes) != len(wantModes) {
		t.Fatalf("fetch modes = %v, want %v", modes, wantModes)
	}
	for i := range wantModes {
		if modes[i] != wantModes[i] {
			t.Fatalf("fetch modes = %v, want %v", modes, wantModes)
		}
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	r := results[0]
	if !r.OK || r.FetcherKind != ModeHTTP || r.DegradedFromMode != ModeHTTPRich {
		t.Fatalf("result = %+v, want OK http degraded from http_rich", r)
	}
	if n := log.count(EventFallbackStarted); n != 2 {
		t.Fatalf("fallback_started events = %d, want 2", n)
	}
	if n := log.count(EventFallbackSucceeded); n != 1 {
		t.Fatalf("fallback_succeeded events = %d, want 1", n)
	}
}

func TestDrainNotFoundAborts(t *testing.T) {
	calls := 0
	var results []Result
	log := &eventLog{}

	s := NewScheduler()
	stats := s.DrainQueue(context.Background(), DrainOptions{
		Sources: []Request{{URL: "https://a.com/gone", Host: "a.com"}},
		FetchWithMode: func(ctx context.Context, req Request, mode Mode) (*PageData, error) {
			calls++
			return nil, errors.New("404 not found")
		},
		OnFetchResult: func(_ Request, r Result, _ *PageData) { results = append(results, r) },
		EmitEvent:     log.emit,
		Concurrency:   1,
		MaxRetries:    3,
		Sleep:         func(time.Duration) {},
	})
	if stats.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", stats.Failed)
	}
	if calls != 1 {
		t.Fatalf("fetch calls = %d, want 1 (no retry, no fallback on 404)", calls)
	}
	if n := log.count(EventFallbackStarted); n != 0 {
		t.Fatalf("fallback_started events = %d, want 0", n)
	}
	if len(results) != 1 || results[0].FetcherKind != ModeHTTPRich {
		t.Fatalf("results = %+v, want single http_rich failure", results)
	}
	if !strings.Contains(results[0].Error, "404") {
		t.Fatalf("result error = %q, want 404 text", results[0].Error)
	}
}

func TestDrainRetryThenEscalate(t *testing.T) {
	richCalls := 0
	var backoffs []time.Duration

	s := NewScheduler()
	stats := s.DrainQueue(context.Background(), DrainOptions{
		Sources: []Request{{URL: "https://a.com/1", Host: "a.com"}},
		FetchWithMode: func(ctx context.Context, req Request, mode Mode) (*PageData, error) {
			if mode == ModeHTTPRich {
				richCalls++
				return nil, errors.New("429 too many requests")
			}
			return okPage(req.URL), nil
		},
		Concurrency:    1,
		MaxRetries:     2,
		RetryBackoffMs: 100,
		Sleep:          func(d time.Duration) { backoffs = append(backoffs, d) },
	})
	if stats.Processed != 1 {
		t.Fatalf("Processed = %d, want 1", stats.Processed)
	}
	if richCalls != 3 {
		t.Fatalf("http_rich attempts = %d, want initial + 2 retries", richCalls)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(backoffs) != 2 || backoffs[0] != want[0] || backoffs[1] != want[1] {
		t.Fatalf("backoffs = %v, want %v", backoffs, want)
	}
}

func TestDrainSkip(t *testing.T) {
	calls := 0
	s := NewScheduler()
	stats := s.DrainQueue(context.Background(), DrainOptions{
		Sources: []Request{
			{URL: "https://a.com/skip", Host: "a.com"},
			{URL: "https://a.com/keep", Host: "a.com"},
		},
		FetchWithMode: func(ctx context.Context, req Request, mode Mode) (*PageData, error) {
			calls++
			return okPage(req.URL), nil
		},
		ShouldSkip: func(url string) (bool, string) {
			return strings.HasSuffix(url, "/skip"), "cooldown"
		},
		Concurrency: 1,
		Sleep:       func(time.Duration) {},
	})
	if stats.Skipped != 1 || stats.Processed != 1 {
		t.Fatalf("stats = %+v, want 1 skipped 1 processed", stats)
	}
	if calls != 1 {
		t.Fatalf("fetch calls = %d, want 1", calls)
	}
}

func TestDrainDeadStatusCountsFailed(t *testing.T) {
	s := NewScheduler()
	var res Result
	stats := s.DrainQueue(context.Background(), DrainOptions{
		Sources: []Request{{URL: "https://a.com/gone", Host: "a.com"}},
		FetchWithMode: func(ctx context.Context, req Request, mode Mode) (*PageData, error) {
			return &PageData{URL: req.URL, FinalURL: req.URL, Status: 404}, nil
		},
		OnFetchResult: func(_ Request, r Result, _ *PageData) { res = r },
		Concurrency:   1,
		Sleep:         func(time.Duration) {},
	})
	if stats.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", stats.Failed)
	}
	if !res.Dead || res.ShouldExtract() {
		t.Fatalf("result = %+v, want dead and not extractable", res)
	}
}

func TestClassifyOutcome(t *testing.T) {
	cases := []struct {
		err  string
		want Outcome
	}{
		{"404 not found", OutcomeNotFound},
		{"410 gone", OutcomeNotFound},
		{"429 too many requests", OutcomeRateLimited},
		{"rate limit exceeded", OutcomeRateLimited},
		{"403 Forbidden", OutcomeBlocked},
		{"captcha challenge presented", OutcomeBlocked},
		{"parse error: bad payload", OutcomeParseError},
		{"connection reset by peer", OutcomeFetchError},
	}
	for _, tc := range cases {
		if got := ClassifyOutcome(errors.New(tc.err)); got != tc.want {
			t.Fatalf("ClassifyOutcome(%q) = %v, want %v", tc.err, got, tc.want)
		}
	}
	if got := ClassifyOutcome(nil); got != "" {
		t.Fatalf("ClassifyOutcome(nil) = %v, want empty", got)
	}
}

func TestNextModeLadder(t *testing.T) {
	if NextMode(ModeHTTPRich) != ModeBrowser || NextMode(ModeBrowser) != ModeHTTP || NextMode(ModeHTTP) != "" {
		t.Fatal("ladder must run http_rich -> browser -> http -> exhausted")
	}
}
