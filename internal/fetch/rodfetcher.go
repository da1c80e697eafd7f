package fetch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/CdubVentures/spec-harvester-sub003/internal/logging"
)

// RodFetcherConfig configures the headless-browser fetcher.
type RodFetcherConfig struct {
	DebuggerURL         string
	Headless            bool
	NavigationTimeoutMs int
	NetworkIdleMs       int
	MaxNetworkBodyBytes int
	CaptureGraphQL      bool
}

// RodFetcher drives a shared headless Chrome. It is the escalation fetcher
// for pages that render their spec tables client-side; alongside the DOM it
// captures JSON network exchanges so extraction can read the API payloads
// directly.
type RodFetcher struct {
	cfg     RodFetcherConfig
	mu      sync.Mutex
	browser *rod.Browser
}

func NewRodFetcher(cfg RodFetcherConfig) *RodFetcher {
	if cfg.NavigationTimeoutMs <= 0 {
		cfg.NavigationTimeoutMs = 30000
	}
	if cfg.NetworkIdleMs <= 0 {
		cfg.NetworkIdleMs = 1500
	}
	if cfg.MaxNetworkBodyBytes <= 0 {
		cfg.MaxNetworkBodyBytes = 2 << 20
	}
	return &RodFetcher{cfg: cfg}
}

func (f *RodFetcher) Mode() Mode { return ModeBrowser }

// Start connects to an existing Chrome or launches a headless one.
func (f *RodFetcher) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		if _, err := f.browser.Version(); err == nil {
			return nil
		}
		_ = f.browser.Close()
		f.browser = nil
	}

	controlURL := f.cfg.DebuggerURL
	if controlURL == "" {
		url, err := launcher.New().Headless(f.cfg.Headless).Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	f.browser = browser
	return nil
}

func (f *RodFetcher) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser == nil {
		return nil
	}
	err := f.browser.Close()
	f.browser = nil
	return err
}

// Fetch navigates a fresh page, waits for network idle, and returns the
// rendered DOM plus any captured JSON responses.
func (f *RodFetcher) Fetch(ctx context.Context, req Request) (*PageData, error) {
	f.mu.Lock()
	browser := f.browser
	f.mu.Unlock()
	if browser == nil {
		return nil, fmt.Errorf("fetcher not started")
	}
	log := logging.Get(logging.CategoryFetch)

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer func() { _ = page.Close() }()
	page = page.Context(ctx)

	var (
		capMu    sync.Mutex
		captured []NetworkResponse
		status   int
	)
	stopCapture := page.EachEvent(func(ev *proto.NetworkResponseReceived) {
		if ev.Response == nil {
			return
		}
		if ev.Type == proto.NetworkResourceTypeDocument {
			capMu.Lock()
			if status == 0 {
				status = ev.Response.Status
			}
			capMu.Unlock()
		}
		ct := strings.ToLower(ev.Response.MIMEType)
		if !strings.Contains(ct, "json") {
			return
		}
		if !f.cfg.CaptureGraphQL && strings.Contains(ev.Response.URL, "/graphql") {
			return
		}
		body, bodyErr := proto.NetworkGetResponseBody{RequestID: ev.RequestID}.Call(page)
		if bodyErr != nil || len(body.Body) == 0 {
			return
		}
		text := body.Body
		if len(text) > f.cfg.MaxNetworkBodyBytes {
			return
		}
		capMu.Lock()
		captured = append(captured, NetworkResponse{
			URL:         ev.Response.URL,
			Status:      ev.Response.Status,
			ContentType: ev.Response.MIMEType,
			Body:        text,
		})
		capMu.Unlock()
	})
	go stopCapture()

	start := time.Now()
	navTimeout := time.Duration(f.cfg.NavigationTimeoutMs) * time.Millisecond
	if err := page.Timeout(navTimeout).Navigate(req.URL); err != nil {
		return nil, fmt.Errorf("navigation_timeout: %w", err)
	}
	if err := page.Timeout(navTimeout).WaitLoad(); err != nil {
		return nil, fmt.Errorf("navigation_timeout: %w", err)
	}
	if err := page.WaitIdle(time.Duration(f.cfg.NetworkIdleMs) * time.Millisecond); err != nil {
		log.Debug("network idle wait expired, extracting anyway")
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("read dom: %w", err)
	}
	info, err := page.Info()
	if err != nil {
		return nil, fmt.Errorf("page info: %w", err)
	}

	capMu.Lock()
	responses := append([]NetworkResponse(nil), captured...)
	docStatus := status
	capMu.Unlock()

	if docStatus == 0 {
		docStatus = 200
	}
	return &PageData{
		URL:              req.URL,
		FinalURL:         info.URL,
		Status:           docStatus,
		Title:            info.Title,
		HTML:             html,
		LDJSONBlocks:     extractLDJSON(html),
		EmbeddedState:    extractEmbeddedState(html),
		NetworkResponses: responses,
		ContentType:      "text/html",
		Bytes:            int64(len(html)),
		ElapsedMs:        time.Since(start).Milliseconds(),
	}, nil
}
