// Package llm holds the optional language-model assist for discovery: given
// the identity lock and the round's focus fields, it proposes search queries.
// Correctness never depends on it; any failure degrades to template queries.
package llm

import "context"

// QueryRequest describes one discovery-query generation call.
type QueryRequest struct {
	Category    string
	Brand       string
	Model       string
	Variant     string
	FocusFields []string
	Anchors     map[string][]string // field -> known anchor phrases
	MaxQueries  int
}

// Client generates discovery queries. Implementations must be safe for
// concurrent use.
type Client interface {
	GenerateQueries(ctx context.Context, req QueryRequest) ([]string, error)
	Name() string
}
