package identity

import (
	"strings"
	"unicode"
)

// Decision classifies how a source relates to the identity lock.
type Decision string

const (
	DecisionAccept Decision = "ACCEPT"
	DecisionReview Decision = "REVIEW"
	DecisionReject Decision = "REJECT"
)

// Match is the per-source identity verdict.
type Match struct {
	Match    bool     `json:"match"`
	Score    float64  `json:"score"`
	Decision Decision `json:"decision"`
}

// Observed is what a source claims about the product.
type Observed struct {
	Brand string
	Model string
	SKU   string
	Title string
}

const (
	acceptThreshold = 0.72
	reviewThreshold = 0.45
)

// Score compares observed source identity against the lock using token
// overlap blended with bigram similarity. An exact SKU hit short-circuits to
// a full match.
func Score(lock Lock, obs Observed) Match {
	if lock.SKU != "" && obs.SKU != "" && normalizeToken(lock.SKU) == normalizeToken(obs.SKU) {
		return Match{Match: true, Score: 1.0, Decision: DecisionAccept}
	}

	want := strings.TrimSpace(lock.Brand + " " + lock.Model + " " + lock.Variant)
	got := strings.TrimSpace(obs.Brand + " " + obs.Model)
	if got == "" {
		got = obs.Title
	}

	tok := tokenOverlap(want, got)
	big := bigramSimilarity(normalizeToken(want), normalizeToken(got))
	score := 0.6*tok + 0.4*big

	// Brand disagreement is disqualifying regardless of string similarity.
	if lock.Brand != "" && obs.Brand != "" &&
		normalizeToken(lock.Brand) != normalizeToken(obs.Brand) {
		score = min(score, 0.2)
	}

	m := Match{Score: score}
	switch {
	case score >= acceptThreshold:
		m.Match = true
		m.Decision = DecisionAccept
	case score >= reviewThreshold:
		m.Decision = DecisionReview
	default:
		m.Decision = DecisionReject
	}
	return m
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func tokenOverlap(a, b string) float64 {
	at, bt := tokenize(a), tokenize(b)
	if len(at) == 0 || len(bt) == 0 {
		return 0
	}
	set := make(map[string]bool, len(bt))
	for _, t := range bt {
		set[t] = true
	}
	hits := 0
	for _, t := range at {
		if set[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(at))
}

// bigramSimilarity is the Sørensen–Dice coefficient over character bigrams.
func bigramSimilarity(a, b string) float64 {
	ab, bb := bigrams(a), bigrams(b)
	if len(ab) == 0 || len(bb) == 0 {
		return 0
	}
	counts := make(map[string]int, len(ab))
	for _, g := range ab {
		counts[g]++
	}
	overlap := 0
	for _, g := range bb {
		if counts[g] > 0 {
			counts[g]--
			overlap++
		}
	}
	return 2 * float64(overlap) / float64(len(ab)+len(bb))
}

func bigrams(s string) []string {
	r := []rune(s)
	if len(r) < 2 {
		return nil
	}
	out := make([]string, 0, len(r)-1)
	for i := 0; i < len(r)-1; i++ {
		out = append(out, string(r[i:i+2]))
	}
	return out
}

func normalizeToken(s string) string {
	return strings.Join(tokenize(s), " ")
}
