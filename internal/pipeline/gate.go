package pipeline

import "github.com/CdubVentures/spec-harvester-sub003/internal/identity"

// identityGatedFields are the fields that define the product itself; a
// mismatched source must not overwrite them, so they get a stricter cap.
var identityGatedFields = map[string]bool{
	"brand":      true,
	"model":      true,
	"variant":    true,
	"sku":        true,
	"base_model": true,
}

const identityGateStrictFactor = 0.5

// ApplyIdentityGate downgrades candidates from a source that did not match
// the identity lock. Helper-supportive candidates carry curated operator data
// and pass through untouched.
func ApplyIdentityGate(cands []Candidate, id identity.Match) []Candidate {
	for i := range cands {
		c := &cands[i]
		if c.Method == MethodHelperSupportive {
			c.TargetMatchPassed = true
			continue
		}
		if id.Match {
			c.TargetMatchPassed = true
			continue
		}
		c.TargetMatchPassed = false
		c.OriginalConfidence = c.Confidence
		limit := id.Score
		if identityGatedFields[c.Field] {
			limit = id.Score * identityGateStrictFactor
		}
		if c.Confidence > limit {
			c.Confidence = limit
		}
	}
	return cands
}
