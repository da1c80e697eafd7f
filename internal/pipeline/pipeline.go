package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CdubVentures/spec-harvester-sub003/internal/extract"
	"github.com/CdubVentures/spec-harvester-sub003/internal/fetch"
	"github.com/CdubVentures/spec-harvester-sub003/internal/identity"
	"github.com/CdubVentures/spec-harvester-sub003/internal/logging"
	"github.com/CdubVentures/spec-harvester-sub003/internal/rules"
)

// SourceInput is one fetched source ready for candidate conversion.
type SourceInput struct {
	Result   fetch.Result
	Page     *fetch.PageData
	Host     string // zero value: derived from the result URL
	Tier     int
	Observed identity.Observed // zero value: derived from the extracted page
}

// SourceOutput carries everything one source produced.
type SourceOutput struct {
	Identity   identity.Match
	Candidates []Candidate
	Dropped    []DroppedCandidate
}

// Pipeline converts fetched sources into scored candidates for one product.
type Pipeline struct {
	engine *rules.Engine
	mapper *FieldMapper
	lock   identity.Lock
}

func New(engine *rules.Engine, lock identity.Lock) *Pipeline {
	return &Pipeline{engine: engine, mapper: NewFieldMapper(engine), lock: lock}
}

// ProcessSource runs the stages in order: surface extraction, identity check,
// identity gate, normalize+score, dedup.
func (p *Pipeline) ProcessSource(in SourceInput) SourceOutput {
	log := logging.Get(logging.CategoryPipeline)
	raw := extract.Extract(in.Page)

	cands := p.buildCandidates(raw, in)

	obs := in.Observed
	if obs == (identity.Observed{}) {
		obs = observedFrom(in.Page, cands)
	}
	id := identity.Score(p.lock, obs)
	if !id.Match {
		log.Debug("source failed identity check",
			zap.String("url", in.Result.URL),
			zap.Float64("score", id.Score),
			zap.String("decision", string(id.Decision)))
	}
	cands = ApplyIdentityGate(cands, id)

	var kept []Candidate
	var dropped []DroppedCandidate
	for _, c := range cands {
		norm := p.engine.NormalizeCandidate(c.Field, c.Value)
		if !norm.OK {
			dropped = append(dropped, DroppedCandidate{Field: c.Field, Raw: c.RawValue, Reason: string(norm.FailureCode)})
			log.Debug("candidate dropped",
				zap.String("field", c.Field),
				zap.String("reason", string(norm.FailureCode)))
			continue
		}
		c.Value = norm.Normalized
		c.List = norm.List
		scoreCandidate(p.engine, &c)
		kept = append(kept, c)
	}

	return SourceOutput{Identity: id, Candidates: dedup(kept), Dropped: dropped}
}

func (p *Pipeline) buildCandidates(raw []extract.RawKV, in SourceInput) []Candidate {
	res := in.Result
	host := in.Host
	if host == "" {
		host = hostOf(res.URL)
	}
	root := rootDomainOf(host)
	var out []Candidate
	for _, kv := range raw {
		field, exact, ok := p.mapper.Map(kv.Key)
		if !ok {
			continue
		}
		method := MethodForSurface(kv.Surface)
		quote := strings.TrimSpace(kv.Key + ": " + kv.Value)
		out = append(out, Candidate{
			Field:         field,
			Value:         kv.Value,
			RawValue:      kv.Value,
			Method:        method,
			KeyPath:       kv.Path,
			RowID:         kv.RowID,
			TableID:       kv.TableID,
			SourceURL:     res.URL,
			Host:          host,
			RootDomain:    root,
			Tier:          in.Tier,
			Quote:         quote,
			SnippetID:     uuid.NewString(),
			SnippetHash:   hashSnippet(quote),
			RetrievedAt:   res.FetchedAt,
			Confidence:    methodConfidence[method],
			ExactKeyMatch: exact,
		})
	}
	return out
}

func hashSnippet(quote string) string {
	sum := sha256.Sum256([]byte(quote))
	return "sha256:" + hex.EncodeToString(sum[:])
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// rootDomainOf collapses a host to its registrable last two labels. Good
// enough for evidence attribution; this is not a public-suffix lookup.
func rootDomainOf(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

// observedFrom assembles the source's identity claim from its own brand and
// model candidates, falling back to the page title.
func observedFrom(page *fetch.PageData, cands []Candidate) identity.Observed {
	obs := identity.Observed{}
	if page != nil {
		obs.Title = page.Title
	}
	for _, c := range cands {
		switch c.Field {
		case "brand":
			if obs.Brand == "" {
				obs.Brand = c.Value
			}
		case "model":
			if obs.Model == "" {
				obs.Model = c.Value
			}
		case "sku":
			if obs.SKU == "" {
				obs.SKU = c.Value
			}
		}
	}
	return obs
}

// dedup keeps the first candidate per (field, value, method, key_path).
func dedup(cands []Candidate) []Candidate {
	seen := make(map[string]bool, len(cands))
	out := cands[:0]
	for _, c := range cands {
		key := fmt.Sprintf("%s\x00%s\x00%s\x00%s", c.Field, strings.ToLower(c.Value), c.Method, c.KeyPath)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}
