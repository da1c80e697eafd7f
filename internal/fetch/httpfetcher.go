package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"regexp"
	"strings"
	"time"
)

// HTTPFetcherConfig configures the plain-HTTP fetchers.
type HTTPFetcherConfig struct {
	UserAgent    string
	MaxBodyBytes int64
	Rich         bool // cookie jar + browser-like headers
}

// HTTPFetcher retrieves pages over net/http. With Rich enabled it carries a
// cookie jar and browser-like headers (the default fetcher mode); without it,
// it is the bare last-resort client.
type HTTPFetcher struct {
	cfg    HTTPFetcherConfig
	client *http.Client
}

// NewHTTPFetcher builds a fetcher; Start must be called before Fetch.
func NewHTTPFetcher(cfg HTTPFetcherConfig) *HTTPFetcher {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 8 << 20
	}
	return &HTTPFetcher{cfg: cfg}
}

func (f *HTTPFetcher) Mode() Mode {
	if f.cfg.Rich {
		return ModeHTTPRich
	}
	return ModeHTTP
}

func (f *HTTPFetcher) Start() error {
	client := &http.Client{}
	if f.cfg.Rich {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return fmt.Errorf("cookie jar: %w", err)
		}
		client.Jar = jar
	}
	f.client = client
	return nil
}

func (f *HTTPFetcher) Stop() error {
	f.client = nil
	return nil
}

// Fetch retrieves one page. HTTP status codes are returned in PageData, not
// as errors; only transport failures error out.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*PageData, error) {
	if f.client == nil {
		return nil, fmt.Errorf("fetcher not started")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", f.cfg.UserAgent)
	if f.cfg.Rich {
		httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	}

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	page := &PageData{
		URL:         req.URL,
		FinalURL:    resp.Request.URL.String(),
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Bytes:       int64(len(body)),
		ElapsedMs:   time.Since(start).Milliseconds(),
	}
	if strings.Contains(page.ContentType, "html") || looksLikeHTML(body) {
		html := string(body)
		page.HTML = html
		page.Title = extractTitle(html)
		page.LDJSONBlocks = extractLDJSON(html)
		page.EmbeddedState = extractEmbeddedState(html)
	}
	return page, nil
}

func looksLikeHTML(body []byte) bool {
	head := strings.ToLower(string(body[:min(len(body), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

func extractTitle(html string) string {
	if m := titleRe.FindStringSubmatch(html); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

var ldjsonRe = regexp.MustCompile(`(?is)<script[^>]*type\s*=\s*["']application/ld\+json["'][^>]*>(.*?)</script>`)

func extractLDJSON(html string) []string {
	var out []string
	for _, m := range ldjsonRe.FindAllStringSubmatch(html, -1) {
		if block := strings.TrimSpace(m[1]); block != "" {
			out = append(out, block)
		}
	}
	return out
}

// embeddedStateRes match the common SPA state globals spec pages hide their
// data in.
var embeddedStateRes = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script[^>]*id\s*=\s*["']__NEXT_DATA__["'][^>]*>(.*?)</script>`),
	regexp.MustCompile(`(?s)window\.__INITIAL_STATE__\s*=\s*(\{.*?\});?\s*</script>`),
	regexp.MustCompile(`(?s)window\.__NUXT__\s*=\s*(\{.*?\});?\s*</script>`),
}

func extractEmbeddedState(html string) []string {
	var out []string
	for _, re := range embeddedStateRes {
		for _, m := range re.FindAllStringSubmatch(html, -1) {
			if block := strings.TrimSpace(m[1]); block != "" {
				out = append(out, block)
			}
		}
	}
	return out
}
