// Package planner maintains the tier-ordered URL queue for one product run:
// host classification, dedup, per-host caps, brand-manufacturer safety and
// the manufacturer budget reservation. The planner is the only component that
// admits URLs into the fetch schedule.
package planner

import (
	"net/url"
	"sort"
	"strings"

	"github.com/CdubVentures/spec-harvester-sub003/internal/logging"
)

// Tier ranks source hosts: 1 manufacturer, 2 lab review, 3 database/retail,
// 4 candidate/unclassified.
const (
	TierManufacturer = 1
	TierLabReview    = 2
	TierDatabase     = 3
	TierCandidate    = 4
)

// HostTable classifies hosts for a category.
type HostTable struct {
	// Tiers maps host tokens to tiers 1-3. Unlisted hosts are candidates.
	Tiers map[string]int
	// Blocked hosts yield no URLs.
	Blocked []string
}

// Source is one admitted URL ready for fetching.
type Source struct {
	URL          string
	Host         string
	RootDomain   string
	Tier         int
	Role         string
	Candidate    bool
	PlannerScore float64
	FieldReward  float64
	insertion    int
}

// Options configures a planner for one product run.
type Options struct {
	Category                      string
	Brand                         string
	ModelTokens                   []string // lowercased model tokens for broad-discovery path signal
	ManufacturerDomains           []string // root domains belonging to the brand
	Hosts                         HostTable
	MaxUrlsPerProduct             int
	MaxPagesPerDomain             int
	ManufacturerMaxPagesPerDomain int
	ManufacturerReserveUrls       int
	FetchCandidateSources         bool
	BroadDiscovery                bool
}

// Planner is the per-product URL queue. Not safe for concurrent use; the
// orchestration loop owns it.
type Planner struct {
	opts Options

	queues    map[int][]*Source // tier -> pending
	seen      map[string]bool   // normalized URL dedup
	blocked   map[string]string // host -> reason
	hostEmits map[string]int
	hostScore map[string]float64
	rewardFn  func(host, path string) float64

	emittedTotal        int
	emittedManufacturer int
	insertions          int
}

// New builds a planner for one product.
func New(opts Options) *Planner {
	p := &Planner{
		opts:      opts,
		queues:    make(map[int][]*Source),
		seen:      make(map[string]bool),
		blocked:   make(map[string]string),
		hostEmits: make(map[string]int),
		hostScore: make(map[string]float64),
	}
	for _, h := range opts.Hosts.Blocked {
		p.blocked[normalizeHost(h)] = "host_table_blocked"
	}
	return p
}

// SetHostScore records a source-intel planner score for a host.
func (p *Planner) SetHostScore(host string, score float64) {
	p.hostScore[normalizeHost(host)] = score
}

// SetRewardFn installs the field-reward memory used as a tiebreaker.
func (p *Planner) SetRewardFn(fn func(host, path string) float64) {
	p.rewardFn = fn
}

// EnqueueOptions qualifies one enqueued URL.
type EnqueueOptions struct {
	Tier            int // 0 means classify by host
	Role            string
	CandidateSource bool
}

// Enqueue classifies and admits a URL. Duplicates, blocked hosts, foreign
// manufacturer URLs and over-cap candidates are silently dropped; the return
// value reports admission.
func (p *Planner) Enqueue(rawURL string, opts EnqueueOptions) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	norm := normalizeURL(u)
	if p.seen[norm] {
		return false
	}
	host := normalizeHost(u.Host)
	if _, isBlocked := p.blocked[host]; isBlocked {
		return false
	}

	tier := opts.Tier
	if tier == 0 {
		tier = p.classify(host)
	}
	if opts.CandidateSource {
		if !p.opts.FetchCandidateSources {
			return false
		}
		if tier == 0 || tier > TierDatabase {
			tier = TierCandidate
		}
	}
	if tier == TierCandidate && !opts.CandidateSource && !p.opts.FetchCandidateSources {
		return false
	}

	root := rootDomain(host)
	if tier == TierManufacturer && !p.isBrandManufacturer(root) {
		if !(p.opts.BroadDiscovery && p.pathHasModelSignal(u.Path)) {
			logging.Get(logging.CategoryPlanner).Debug("rejected foreign manufacturer url: " + norm)
			return false
		}
	}

	p.seen[norm] = true
	p.insertions++
	src := &Source{
		URL:          norm,
		Host:         host,
		RootDomain:   root,
		Tier:         tier,
		Role:         opts.Role,
		Candidate:    opts.CandidateSource,
		PlannerScore: p.hostScore[host],
		insertion:    p.insertions,
	}
	if p.rewardFn != nil {
		src.FieldReward = p.rewardFn(host, u.Path)
	}
	p.queues[tier] = append(p.queues[tier], src)
	return true
}

// Next returns the highest-priority admissible URL, or nil when the queue is
// drained or the budget is spent. The manufacturer queue goes first; within a
// tier, higher planner score wins, then field reward, then insertion order.
// Candidate sources always sort last within their tier.
func (p *Planner) Next() *Source {
	if p.emittedTotal >= p.opts.MaxUrlsPerProduct {
		return nil
	}
	reservedRemaining := p.opts.ManufacturerReserveUrls - p.emittedManufacturer
	if reservedRemaining < 0 {
		reservedRemaining = 0
	}
	budgetRemaining := p.opts.MaxUrlsPerProduct - p.emittedTotal

	for _, tier := range []int{TierManufacturer, TierLabReview, TierDatabase, TierCandidate} {
		if tier != TierManufacturer && budgetRemaining <= reservedRemaining {
			// remaining slots are reserved for manufacturer URLs
			return nil
		}
		src := p.popBest(tier)
		if src == nil {
			continue
		}
		p.emittedTotal++
		if tier == TierManufacturer {
			p.emittedManufacturer++
		}
		p.hostEmits[src.Host]++
		return src
	}
	return nil
}

// HasNext reports whether Next can still emit something.
func (p *Planner) HasNext() bool {
	if p.emittedTotal >= p.opts.MaxUrlsPerProduct {
		return false
	}
	reservedRemaining := p.opts.ManufacturerReserveUrls - p.emittedManufacturer
	if reservedRemaining < 0 {
		reservedRemaining = 0
	}
	budgetRemaining := p.opts.MaxUrlsPerProduct - p.emittedTotal
	for _, tier := range []int{TierManufacturer, TierLabReview, TierDatabase, TierCandidate} {
		if tier != TierManufacturer && budgetRemaining <= reservedRemaining {
			return false
		}
		if p.peekAdmissible(tier) {
			return true
		}
	}
	return false
}

// BlockHost drops all pending URLs for a host and rejects future ones.
// Returns how many pending URLs were removed.
func (p *Planner) BlockHost(host, reason string) int {
	host = normalizeHost(host)
	p.blocked[host] = reason
	removed := 0
	for tier, q := range p.queues {
		kept := q[:0]
		for _, src := range q {
			if src.Host == host {
				removed++
				continue
			}
			kept = append(kept, src)
		}
		p.queues[tier] = kept
	}
	if removed > 0 {
		logging.Get(logging.CategoryPlanner).Info("blocked host " + host + ": " + reason)
	}
	return removed
}

func (p *Planner) popBest(tier int) *Source {
	q := p.queues[tier]
	// stable order: score desc, reward desc, insertion asc; candidates last
	sort.SliceStable(q, func(i, j int) bool {
		a, b := q[i], q[j]
		if a.Candidate != b.Candidate {
			return !a.Candidate
		}
		if a.PlannerScore != b.PlannerScore {
			return a.PlannerScore > b.PlannerScore
		}
		if a.FieldReward != b.FieldReward {
			return a.FieldReward > b.FieldReward
		}
		return a.insertion < b.insertion
	})
	for idx, src := range q {
		if !p.hostAdmissible(src) {
			continue
		}
		p.queues[tier] = append(q[:idx:idx], q[idx+1:]...)
		return src
	}
	return nil
}

func (p *Planner) peekAdmissible(tier int) bool {
	for _, src := range p.queues[tier] {
		if p.hostAdmissible(src) {
			return true
		}
	}
	return false
}

func (p *Planner) hostAdmissible(src *Source) bool {
	if _, blocked := p.blocked[src.Host]; blocked {
		return false
	}
	cap := p.opts.MaxPagesPerDomain
	if src.Tier == TierManufacturer && p.opts.ManufacturerMaxPagesPerDomain > 0 {
		cap = p.opts.ManufacturerMaxPagesPerDomain
	}
	return cap <= 0 || p.hostEmits[src.Host] < cap
}

func (p *Planner) classify(host string) int {
	token := host
	for token != "" {
		if t, ok := p.opts.Hosts.Tiers[token]; ok {
			return t
		}
		i := strings.IndexByte(token, '.')
		if i < 0 {
			break
		}
		token = token[i+1:]
	}
	if p.isBrandManufacturer(rootDomain(host)) {
		return TierManufacturer
	}
	return TierCandidate
}

func (p *Planner) isBrandManufacturer(root string) bool {
	for _, d := range p.opts.ManufacturerDomains {
		if rootDomain(normalizeHost(d)) == root {
			return true
		}
	}
	return false
}

func (p *Planner) pathHasModelSignal(path string) bool {
	path = strings.ToLower(path)
	hits := 0
	for _, tok := range p.opts.ModelTokens {
		if tok != "" && strings.Contains(path, tok) {
			hits++
		}
	}
	return hits >= 2 || (len(p.opts.ModelTokens) > 0 && hits == len(p.opts.ModelTokens))
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimPrefix(host, "www.")
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}

func normalizeURL(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.Host = normalizeHost(u.Host)
	c.Path = strings.TrimSuffix(c.Path, "/")
	return c.String()
}

// rootDomain is the registrable-ish parent: the last two labels. Good enough
// for the host tables the harvester runs against.
func rootDomain(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}
