// Package fetch drains planned sources into fetch results under bounded
// concurrency, per-host pacing and fetcher-mode fallback. The fetchers
// themselves sit behind a small interface; the scheduler owns retry, pacing
// and escalation decisions.
package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Mode names a fetcher implementation tier.
type Mode string

const (
	// ModeHTTPRich is the default fetcher: plain HTTP with cookie jar and
	// browser-like headers.
	ModeHTTPRich Mode = "http_rich"
	// ModeBrowser is the headless-browser escalation.
	ModeBrowser Mode = "browser"
	// ModeHTTP is the bare last-resort HTTP client.
	ModeHTTP Mode = "http"
)

// NextMode returns the escalation after a mode, or "" when the ladder is
// exhausted.
func NextMode(m Mode) Mode {
	switch m {
	case ModeHTTPRich:
		return ModeBrowser
	case ModeBrowser:
		return ModeHTTP
	default:
		return ""
	}
}

// Outcome classifies a fetch failure for the fallback policy.
type Outcome string

const (
	OutcomeBlocked     Outcome = "blocked"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeFetchError  Outcome = "fetch_error"
	OutcomeParseError  Outcome = "parse_error"
)

// ClassifyOutcome is the default error classifier. It keys off the error
// text the fetchers produce.
func ClassifyOutcome(err error) Outcome {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found") || strings.Contains(msg, "410"):
		return OutcomeNotFound
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return OutcomeRateLimited
	case strings.Contains(msg, "403") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "captcha") || strings.Contains(msg, "blocked"):
		return OutcomeBlocked
	case strings.Contains(msg, "parse"):
		return OutcomeParseError
	default:
		return OutcomeFetchError
	}
}

// Request is one URL handed to the scheduler.
type Request struct {
	URL  string
	Host string
	Tier int
}

// NetworkResponse is one captured JSON network exchange from a browser fetch.
type NetworkResponse struct {
	URL         string `json:"url"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
}

// PDFBlock is one extracted region of a PDF resource.
type PDFBlock struct {
	Page int    `json:"page"`
	Kind string `json:"kind"` // table or kv
	Text string `json:"text"`
}

// PageData is the raw material a fetcher yields for extraction.
type PageData struct {
	URL              string            `json:"url"`
	FinalURL         string            `json:"final_url"`
	Status           int               `json:"status"`
	Title            string            `json:"title"`
	HTML             string            `json:"html"`
	LDJSONBlocks     []string          `json:"ldjson_blocks,omitempty"`
	EmbeddedState    []string          `json:"embedded_state,omitempty"`
	NetworkResponses []NetworkResponse `json:"network_responses,omitempty"`
	PDFBlocks        []PDFBlock        `json:"pdf_blocks,omitempty"`
	ContentType      string            `json:"content_type"`
	Bytes            int64             `json:"bytes"`
	ElapsedMs        int64             `json:"elapsed_ms"`
	BlockedByRobots  bool              `json:"blocked_by_robots"`
}

// Result is the normalized outcome of one fetch attempt chain.
type Result struct {
	URL              string    `json:"url"`
	FinalURL         string    `json:"final_url"`
	Status           int       `json:"status"`
	ContentType      string    `json:"content_type"` // media type only, no charset
	Bytes            int64     `json:"bytes"`
	ElapsedMs        int64     `json:"elapsed_ms"`
	Error            string    `json:"error,omitempty"`
	OK               bool      `json:"ok"`
	Dead             bool      `json:"dead"`
	Redirect         bool      `json:"redirect"`
	BlockedByRobots  bool      `json:"blocked_by_robots"`
	FetchedAt        time.Time `json:"fetched_at"`
	FetcherKind      Mode      `json:"fetcher_kind"`
	DegradedFromMode Mode      `json:"degraded_from_mode,omitempty"`
}

// IsDeadStatus is true for statuses that permanently kill a URL.
func IsDeadStatus(status int) bool {
	return status == 404 || status == 410 || status == 451
}

// BuildResult derives the flag set from a completed page fetch.
func BuildResult(req Request, page *PageData, mode Mode, fetchErr error, now time.Time) Result {
	r := Result{
		URL:         req.URL,
		FetchedAt:   now.UTC(),
		FetcherKind: mode,
	}
	if fetchErr != nil {
		r.Error = fetchErr.Error()
	}
	if page != nil {
		r.FinalURL = page.FinalURL
		r.Status = page.Status
		r.ContentType = stripCharset(page.ContentType)
		r.Bytes = page.Bytes
		r.ElapsedMs = page.ElapsedMs
		r.BlockedByRobots = page.BlockedByRobots
		r.Redirect = page.FinalURL != "" && page.FinalURL != req.URL
	}
	r.Dead = IsDeadStatus(r.Status)
	r.OK = fetchErr == nil && r.Status >= 200 && r.Status < 400
	return r
}

// ShouldExtract says whether a result is worth running extraction on.
func (r Result) ShouldExtract() bool {
	return r.OK && !r.Dead && !r.BlockedByRobots
}

func stripCharset(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

// ErrNoFetcher reports a mode nobody registered a fetcher for.
func ErrNoFetcher(m Mode) error {
	return fmt.Errorf("no fetcher configured for mode %s", m)
}

// Fetcher is the pluggable page retriever.
type Fetcher interface {
	Start() error
	Stop() error
	Fetch(ctx context.Context, req Request) (*PageData, error)
	Mode() Mode
}
