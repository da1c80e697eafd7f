package pipeline

import "time"

// Evidence is one supporting observation behind a selected field value.
type Evidence struct {
	SourceURL       string    `json:"source_url"`
	Host            string    `json:"host,omitempty"`
	RootDomain      string    `json:"root_domain,omitempty"`
	Tier            int       `json:"tier,omitempty"`
	Method          Method    `json:"method"`
	KeyPath         string    `json:"key_path"`
	RowID           string    `json:"row_id,omitempty"`
	TableID         string    `json:"table_id,omitempty"`
	Quote           string    `json:"quote,omitempty"`
	SnippetID       string    `json:"snippet_id,omitempty"`
	SnippetHash     string    `json:"snippet_hash,omitempty"`
	RetrievedAt     time.Time `json:"retrieved_at"`
	Confidence      float64   `json:"confidence"`
	IdentityMatched bool      `json:"identity_matched"`
}

func evidenceFrom(c *Candidate) Evidence {
	return Evidence{
		SourceURL:       c.SourceURL,
		Host:            c.Host,
		RootDomain:      c.RootDomain,
		Tier:            c.Tier,
		Method:          c.Method,
		KeyPath:         c.KeyPath,
		RowID:           c.RowID,
		TableID:         c.TableID,
		Quote:           c.Quote,
		SnippetID:       c.SnippetID,
		SnippetHash:     c.SnippetHash,
		RetrievedAt:     c.RetrievedAt,
		Confidence:      c.Confidence,
		IdentityMatched: c.TargetMatchPassed,
	}
}

// refKey identifies an evidence reference: one source can confirm a value
// through the same method and key path at most once, however often it is
// refetched.
func refKey(sourceURL string, m Method, keyPath string) string {
	return sourceURL + "\x00" + string(m) + "\x00" + keyPath
}

// RejectedEvidence is a losing candidate kept for audit.
type RejectedEvidence struct {
	Value string `json:"value"`
	Evidence
}

// FieldProvenance tracks the provisional value for one field plus everything
// that supports it.
type FieldProvenance struct {
	Field                 string             `json:"field"`
	Value                 string             `json:"value"`
	List                  []string           `json:"list,omitempty"`
	Confidence            float64            `json:"confidence"`
	Score                 float64            `json:"score"`
	Confirmations         int                `json:"confirmations"`
	ApprovedConfirmations int                `json:"approved_confirmations"`
	Evidence              []Evidence         `json:"evidence"`
	Rejected              []RejectedEvidence `json:"rejected,omitempty"`
}

const maxRejectedRows = 32

// Provenance is the per-product field state accumulated across rounds.
type Provenance map[string]*FieldProvenance

// Merge folds a batch of scored candidates into provenance. Per field, the
// highest-scoring candidate's value becomes (or stays) the provisional value;
// every candidate agreeing with it contributes an evidence row and a
// confirmation, approved when its source passed the identity check. Losing
// values are kept under rejected for audit. A candidate whose
// (source_url, method, key_path) already holds an evidence row is a refetch:
// it refreshes that row's timestamp and confidence and earns no new
// confirmation.
func (prov Provenance) Merge(cands []Candidate) {
	best := make(map[string]*Candidate)
	for i := range cands {
		c := &cands[i]
		b, ok := best[c.Field]
		if !ok || c.Score > b.Score || (c.Score == b.Score && c.Confidence > b.Confidence) {
			best[c.Field] = c
		}
	}

	for field, top := range best {
		fp := prov[field]
		if fp == nil {
			fp = &FieldProvenance{Field: field}
			prov[field] = fp
		}
		// an incumbent value with a better score keeps its seat
		if fp.Value == "" || top.Score > fp.Score {
			fp.Value = top.Value
			fp.List = top.List
			fp.Score = top.Score
			fp.Confidence = top.Confidence
		} else if fp.Value == top.Value && top.Confidence > fp.Confidence {
			fp.Confidence = top.Confidence
		}

		refIndex := make(map[string]int, len(fp.Evidence))
		for i, ev := range fp.Evidence {
			refIndex[refKey(ev.SourceURL, ev.Method, ev.KeyPath)] = i
		}
		rejSeen := make(map[string]bool, len(fp.Rejected))
		for _, rej := range fp.Rejected {
			rejSeen[rej.Value+"\x00"+refKey(rej.SourceURL, rej.Method, rej.KeyPath)] = true
		}

		for i := range cands {
			c := &cands[i]
			if c.Field != field {
				continue
			}
			if c.Value != fp.Value {
				key := c.Value + "\x00" + refKey(c.SourceURL, c.Method, c.KeyPath)
				if !rejSeen[key] && len(fp.Rejected) < maxRejectedRows {
					rejSeen[key] = true
					fp.Rejected = append(fp.Rejected, RejectedEvidence{Value: c.Value, Evidence: evidenceFrom(c)})
				}
				continue
			}
			key := refKey(c.SourceURL, c.Method, c.KeyPath)
			if j, ok := refIndex[key]; ok {
				ev := &fp.Evidence[j]
				if c.RetrievedAt.After(ev.RetrievedAt) {
					ev.RetrievedAt = c.RetrievedAt
				}
				if c.Confidence > ev.Confidence {
					ev.Confidence = c.Confidence
				}
				continue
			}
			refIndex[key] = len(fp.Evidence)
			fp.Evidence = append(fp.Evidence, evidenceFrom(c))
			fp.Confirmations++
			if c.TargetMatchPassed {
				fp.ApprovedConfirmations++
			}
		}
	}
}
