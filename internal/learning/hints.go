package learning

import (
	"sort"
	"time"
)

// Anchor is one retrieval phrase with its decay-weighted strength.
type Anchor struct {
	Phrase string      `json:"phrase"`
	Weight float64     `json:"weight"`
	Status DecayStatus `json:"decay_status"`
}

// KnownURL is a URL remembered to have yielded a field.
type KnownURL struct {
	Field      string      `json:"field"`
	URL        string      `json:"url"`
	Confidence float64     `json:"confidence"`
	Weight     float64     `json:"weight"`
	Status     DecayStatus `json:"decay_status"`
}

// ComponentValue is one lexicon entry.
type ComponentValue struct {
	Field  string      `json:"field"`
	Value  string      `json:"value"`
	Seen   int         `json:"seen"`
	Status DecayStatus `json:"decay_status"`
}

// Hints is the bundle consumed by the planner and the query generator.
type Hints struct {
	AnchorsByField   map[string][]Anchor
	KnownURLs        []KnownURL
	ComponentValues  []ComponentValue
	DomainYields     []DomainYield
	HighYieldDomains []string
}

// Hints reads the learning stores for the given focus fields. Expired lexicon
// entries are dropped; decayed entries carry their reduced weight.
func (s *Store) Hints(focusFields []string) (*Hints, error) {
	now := s.now().UTC()
	h := &Hints{AnchorsByField: make(map[string][]Anchor, len(focusFields))}
	fieldSet := make(map[string]bool, len(focusFields))
	for _, f := range focusFields {
		fieldSet[f] = true
	}

	rows, err := s.db.Query(`SELECT field, phrase, hit_count, last_seen_at FROM field_anchors`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var field, phrase string
		var hits int
		var seen time.Time
		if err := rows.Scan(&field, &phrase, &hits, &seen); err != nil {
			rows.Close()
			return nil, err
		}
		if len(fieldSet) > 0 && !fieldSet[field] {
			continue
		}
		age := now.Sub(seen)
		h.AnchorsByField[field] = append(h.AnchorsByField[field], Anchor{
			Phrase: phrase,
			Weight: decayWeight(age, anchorHalfLifeDays) * float64(hits),
			Status: statusFor(age, anchorHalfLifeDays, 0),
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, anchors := range h.AnchorsByField {
		sort.Slice(anchors, func(i, j int) bool { return anchors[i].Weight > anchors[j].Weight })
	}

	rows, err = s.db.Query(`SELECT field, url, confidence, last_seen_at FROM url_memory`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var u KnownURL
		var seen time.Time
		if err := rows.Scan(&u.Field, &u.URL, &u.Confidence, &seen); err != nil {
			rows.Close()
			return nil, err
		}
		if len(fieldSet) > 0 && !fieldSet[u.Field] {
			continue
		}
		age := now.Sub(seen)
		u.Weight = decayWeight(age, urlHalfLifeDays)
		u.Status = statusFor(age, urlHalfLifeDays, 0)
		h.KnownURLs = append(h.KnownURLs, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`SELECT field, canonical_value, seen_count, last_seen_at FROM component_lexicon`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var cv ComponentValue
		var seen time.Time
		if err := rows.Scan(&cv.Field, &cv.Value, &cv.Seen, &seen); err != nil {
			rows.Close()
			return nil, err
		}
		age := now.Sub(seen)
		cv.Status = statusFor(age, lexiconHalfLifeDays, lexiconExpiryDays)
		if cv.Status == DecayExpired {
			continue
		}
		if len(fieldSet) > 0 && !fieldSet[cv.Field] {
			continue
		}
		h.ComponentValues = append(h.ComponentValues, cv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	yrows, err := s.db.Query(`SELECT domain, field, seen_count, used_count FROM domain_field_yield WHERE seen_count > 0`)
	if err != nil {
		return nil, err
	}
	defer yrows.Close()
	highYield := make(map[string]bool)
	for yrows.Next() {
		var d DomainYield
		if err := yrows.Scan(&d.Domain, &d.Field, &d.SeenCount, &d.UsedCount); err != nil {
			return nil, err
		}
		d.Yield = float64(d.UsedCount) / float64(d.SeenCount)
		h.DomainYields = append(h.DomainYields, d)
		if d.Yield >= 0.5 && d.UsedCount >= 2 {
			highYield[d.Domain] = true
		}
	}
	if err := yrows.Err(); err != nil {
		return nil, err
	}
	for domain := range highYield {
		h.HighYieldDomains = append(h.HighYieldDomains, domain)
	}
	sort.Strings(h.HighYieldDomains)
	return h, nil
}
