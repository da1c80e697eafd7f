// Package pipeline converts fetched pages into scored field candidates and
// merges them into per-field provenance. Sources that fail the identity check
// are downgraded rather than dropped, so counter-evidence stays on record.
package pipeline

import (
	"time"

	"github.com/CdubVentures/spec-harvester-sub003/internal/extract"
)

// Method names how a candidate was produced. Extraction surfaces map 1:1;
// llm_extract and helper_supportive come from the discovery planner and
// helper files rather than page extraction.
type Method string

const (
	MethodNetworkJSON      Method = "network_json"
	MethodLDJSON           Method = "ldjson"
	MethodHTMLTable        Method = "html_table"
	MethodPDFTable         Method = "pdf_table"
	MethodPDFKV            Method = "pdf_kv"
	MethodDOM              Method = "dom"
	MethodLLMExtract       Method = "llm_extract"
	MethodHelperSupportive Method = "helper_supportive"
)

// methodBase is the scoring priority of each production method.
var methodBase = map[Method]float64{
	MethodNetworkJSON:      5,
	MethodLDJSON:           5,
	MethodHTMLTable:        4,
	MethodPDFTable:         4,
	MethodPDFKV:            3,
	MethodDOM:              2,
	MethodLLMExtract:       1,
	MethodHelperSupportive: 1,
}

// methodConfidence is the prior confidence a method earns before identity
// gating and normalization.
var methodConfidence = map[Method]float64{
	MethodNetworkJSON:      0.9,
	MethodLDJSON:           0.9,
	MethodHTMLTable:        0.85,
	MethodPDFTable:         0.8,
	MethodPDFKV:            0.7,
	MethodDOM:              0.6,
	MethodLLMExtract:       0.5,
	MethodHelperSupportive: 0.5,
}

// MethodForSurface maps an extraction surface to its candidate method.
func MethodForSurface(surface string) Method {
	switch surface {
	case extract.SurfaceNetworkJSON:
		return MethodNetworkJSON
	case extract.SurfaceLDJSON:
		return MethodLDJSON
	case extract.SurfaceHTMLTable:
		return MethodHTMLTable
	case extract.SurfacePDFTable:
		return MethodPDFTable
	case extract.SurfacePDFKV:
		return MethodPDFKV
	default:
		return MethodDOM
	}
}

// Candidate is a single (field, value) extraction attempt. Quote is the raw
// key/value text as it appeared on the page; SnippetHash is its sha256 so a
// re-extraction can be checked against what was originally quoted.
type Candidate struct {
	Field              string    `json:"field"`
	Value              string    `json:"value"`
	List               []string  `json:"list,omitempty"`
	RawValue           string    `json:"raw_value"`
	Method             Method    `json:"method"`
	KeyPath            string    `json:"key_path"`
	RowID              string    `json:"row_id,omitempty"`
	TableID            string    `json:"table_id,omitempty"`
	SourceURL          string    `json:"source_url"`
	Host               string    `json:"host,omitempty"`
	RootDomain         string    `json:"root_domain,omitempty"`
	Tier               int       `json:"tier,omitempty"`
	Quote              string    `json:"quote,omitempty"`
	SnippetID          string    `json:"snippet_id,omitempty"`
	SnippetHash        string    `json:"snippet_hash,omitempty"`
	RetrievedAt        time.Time `json:"retrieved_at"`
	Confidence         float64   `json:"confidence"`
	OriginalConfidence float64   `json:"original_confidence,omitempty"`
	TargetMatchPassed  bool      `json:"target_match_passed"`
	Score              float64   `json:"score"`
	ExactKeyMatch      bool      `json:"-"`
}

// DroppedCandidate records a per-candidate normalization failure.
type DroppedCandidate struct {
	Field  string `json:"field"`
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}
