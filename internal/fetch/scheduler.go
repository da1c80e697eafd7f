package fetch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CdubVentures/spec-harvester-sub003/internal/config"
	"github.com/CdubVentures/spec-harvester-sub003/internal/logging"
)

// Scheduler events.
const (
	EventTick              = "scheduler_tick"
	EventHostWait          = "scheduler_host_wait"
	EventFallbackStarted   = "scheduler_fallback_started"
	EventFallbackSucceeded = "scheduler_fallback_succeeded"
	EventFallbackExhausted = "scheduler_fallback_exhausted"
	EventDrainCompleted    = "scheduler_drain_completed"
)

// FetchFn retrieves a page in a given mode.
type FetchFn func(ctx context.Context, req Request, mode Mode) (*PageData, error)

// DrainOptions wires one drainQueue call.
type DrainOptions struct {
	Sources         []Request
	FetchWithMode   FetchFn
	ClassifyOutcome func(error) Outcome
	OnFetchResult   func(Request, Result, *PageData)
	OnFetchError    func(Request, error)
	EmitEvent       func(name string, fields map[string]any)
	ShouldSkip      func(url string) (bool, string)
	InitialMode     Mode

	Concurrency       int
	PerHostDelayMs    int
	PageGotoTimeoutMs int
	MaxRetries        int
	RetryBackoffMs    int
	HostPolicies      config.HostPolicyTable

	// Sleep is injectable for tests; nil means time.Sleep.
	Sleep func(time.Duration)
	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

// DrainStats summarize one drain.
type DrainStats struct {
	Processed int
	Failed    int
	Skipped   int
}

// Scheduler drains source queues through a worker pool.
type Scheduler struct {
	pacer *HostPacer
}

// NewScheduler builds a scheduler with a fresh host pacer.
func NewScheduler() *Scheduler {
	return &Scheduler{pacer: NewHostPacer()}
}

// DrainQueue pulls every source through the fetch ladder. Workers pull FIFO;
// cancellation is by queue exhaustion only, in-flight fetches complete.
func (s *Scheduler) DrainQueue(ctx context.Context, opts DrainOptions) DrainStats {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ClassifyOutcome == nil {
		opts.ClassifyOutcome = ClassifyOutcome
	}
	if opts.InitialMode == "" {
		opts.InitialMode = ModeHTTPRich
	}
	emit := opts.EmitEvent
	if emit == nil {
		emit = func(string, map[string]any) {}
	}
	log := logging.Get(logging.CategoryScheduler)

	queue := make(chan Request)
	var mu sync.Mutex
	var stats DrainStats

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.Concurrency; i++ {
		g.Go(func() error {
			for req := range queue {
				emit(EventTick, map[string]any{"url": req.URL})
				outcome := s.processOne(gctx, req, opts, emit)
				mu.Lock()
				switch outcome {
				case "processed":
					stats.Processed++
				case "skipped":
					stats.Skipped++
				default:
					stats.Failed++
				}
				mu.Unlock()
			}
			return nil
		})
	}

	for _, req := range opts.Sources {
		queue <- req
	}
	close(queue)
	_ = g.Wait()

	emit(EventDrainCompleted, map[string]any{
		"processed": stats.Processed, "failed": stats.Failed, "skipped": stats.Skipped,
	})
	log.Info("drain completed")
	return stats
}

func (s *Scheduler) processOne(ctx context.Context, req Request, opts DrainOptions, emit func(string, map[string]any)) string {
	if opts.ShouldSkip != nil {
		if skip, reason := opts.ShouldSkip(req.URL); skip {
			emit("scheduler_source_skipped", map[string]any{"url": req.URL, "reason": reason})
			return "skipped"
		}
	}

	delay := time.Duration(opts.HostPolicies.DelayMsFor(req.Host, opts.PerHostDelayMs)) * time.Millisecond
	timeout := opts.PageGotoTimeoutMs
	retryBudget := opts.MaxRetries
	backoffMs := opts.RetryBackoffMs
	if pol, ok := opts.HostPolicies.Lookup(req.Host); ok {
		if pol.PageGotoTimeoutMs > 0 {
			timeout = pol.PageGotoTimeoutMs
		}
		if pol.RetryBudget > 0 {
			retryBudget = pol.RetryBudget
		}
		if pol.RetryBackoffMs > 0 {
			backoffMs = pol.RetryBackoffMs
		}
	}

	mode := opts.InitialMode
	retries := 0
	degraded := false

	for {
		if wait := s.pacer.Reserve(req.Host, delay); wait > 0 {
			emit(EventHostWait, map[string]any{"host": req.Host, "wait_ms": wait.Milliseconds()})
			opts.Sleep(wait)
		}

		fctx := ctx
		cancel := func() {}
		if timeout > 0 {
			fctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Millisecond)
		}
		page, err := opts.FetchWithMode(fctx, req, mode)
		cancel()

		if err == nil {
			res := BuildResult(req, page, mode, nil, opts.Now())
			if degraded {
				res.DegradedFromMode = opts.InitialMode
				emit(EventFallbackSucceeded, map[string]any{"url": req.URL, "mode": string(mode)})
			}
			if opts.OnFetchResult != nil {
				opts.OnFetchResult(req, res, page)
			}
			if res.Dead || !res.OK {
				return "failed"
			}
			return "processed"
		}

		tag := opts.ClassifyOutcome(err)
		switch tag {
		case OutcomeNotFound:
			// dead end, no fallback
			s.finishError(req, page, mode, err, opts, degraded)
			return "failed"
		case OutcomeParseError:
			s.finishError(req, page, mode, err, opts, degraded)
			return "failed"
		case OutcomeRateLimited, OutcomeFetchError:
			if retries < retryBudget {
				retries++
				opts.Sleep(time.Duration(backoffMs) * time.Millisecond << (retries - 1))
				continue
			}
		case OutcomeBlocked:
			// escalate immediately
		}

		next := NextMode(mode)
		if next == "" {
			emit(EventFallbackExhausted, map[string]any{"url": req.URL, "last_mode": string(mode)})
			s.finishError(req, page, mode, err, opts, degraded)
			return "failed"
		}
		emit(EventFallbackStarted, map[string]any{"url": req.URL, "from": string(mode), "to": string(next), "outcome": string(tag)})
		mode = next
		retries = 0
		degraded = true
	}
}

func (s *Scheduler) finishError(req Request, page *PageData, mode Mode, err error, opts DrainOptions, degraded bool) {
	res := BuildResult(req, page, mode, err, opts.Now())
	if degraded {
		res.DegradedFromMode = opts.InitialMode
	}
	if opts.OnFetchResult != nil {
		opts.OnFetchResult(req, res, page)
	}
	if opts.OnFetchError != nil {
		opts.OnFetchError(req, err)
	}
}
