package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPFetcherExtractsSurfaces(t *testing.T) {
	page := `<!doctype html>
<html><head>
<title> Apex Mouse Specs </title>
<script type="application/ld+json">{"@type":"Product","name":"Apex"}</script>
</head><body>
<script id="__NEXT_DATA__" type="application/json">{"props":{"weight":"59 g"}}</script>
</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPFetcherConfig{UserAgent: "spec-harvester-test", Rich: true})
	if err := f.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer f.Stop()

	got, err := f.Fetch(context.Background(), Request{URL: srv.URL, Host: "localhost"})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if got.Status != 200 {
		t.Fatalf("Status = %d, want 200", got.Status)
	}
	if got.Title != "Apex Mouse Specs" {
		t.Fatalf("Title = %q", got.Title)
	}
	if len(got.LDJSONBlocks) != 1 || got.LDJSONBlocks[0] != `{"@type":"Product","name":"Apex"}` {
		t.Fatalf("LDJSONBlocks = %v", got.LDJSONBlocks)
	}
	if len(got.EmbeddedState) != 1 {
		t.Fatalf("EmbeddedState = %v, want the __NEXT_DATA__ payload", got.EmbeddedState)
	}
}

func TestHTTPFetcherFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>ok</body></html>")
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	f := NewHTTPFetcher(HTTPFetcherConfig{UserAgent: "spec-harvester-test"})
	if err := f.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer f.Stop()

	req := Request{URL: srv.URL + "/old", Host: "localhost"}
	got, err := f.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if got.FinalURL != srv.URL+"/new" {
		t.Fatalf("FinalURL = %q, want %q", got.FinalURL, srv.URL+"/new")
	}
	res := BuildResult(req, got, ModeHTTP, nil, time.Now())
	if !res.Redirect {
		t.Fatal("Redirect = false, want true")
	}
}

func TestHTTPFetcherCarriesCookies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/set", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc"})
		fmt.Fprint(w, "<html>set</html>")
	})
	var sawCookie bool
	mux.HandleFunc("/check", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err == nil && c.Value == "abc" {
			sawCookie = true
		}
		fmt.Fprint(w, "<html>check</html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewHTTPFetcher(HTTPFetcherConfig{UserAgent: "spec-harvester-test", Rich: true})
	if err := f.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer f.Stop()

	ctx := context.Background()
	if _, err := f.Fetch(ctx, Request{URL: srv.URL + "/set", Host: "localhost"}); err != nil {
		t.Fatalf("Fetch(set) error: %v", err)
	}
	if _, err := f.Fetch(ctx, Request{URL: srv.URL + "/check", Host: "localhost"}); err != nil {
		t.Fatalf("Fetch(check) error: %v", err)
	}
	if !sawCookie {
		t.Fatal("rich fetcher dropped the session cookie between fetches")
	}
}
