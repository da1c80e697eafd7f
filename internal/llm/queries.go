package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/CdubVentures/spec-harvester-sub003/internal/logging"
	"go.uber.org/zap"
)

func identityName(req QueryRequest) string {
	return strings.TrimSpace(strings.Join(strings.Fields(
		req.Brand+" "+req.Model+" "+req.Variant), " "))
}

// FieldQuery is the single-field retrieval query for one needy field. The
// field's first anchor phrase takes precedence over the bare field name.
func FieldQuery(req QueryRequest, field string) string {
	name := identityName(req)
	if name == "" || field == "" {
		return ""
	}
	if anchors := req.Anchors[field]; len(anchors) > 0 {
		return fmt.Sprintf("%s %q", name, anchors[0])
	}
	return fmt.Sprintf("%s %s", name, strings.ReplaceAll(field, "_", " "))
}

// TemplateQueries builds deterministic fallback queries from the identity and
// focus fields. Always returns at least one query for a valid identity.
func TemplateQueries(req QueryRequest) []string {
	name := identityName(req)
	if name == "" {
		return nil
	}
	maxQ := req.MaxQueries
	if maxQ <= 0 {
		maxQ = 6
	}

	queries := []string{
		name + " specifications",
		strings.TrimSpace(name + " review " + req.Category),
	}
	if brandTokens := strings.Fields(req.Brand); len(brandTokens) > 0 {
		queries = append(queries, name+" specs site:"+strings.ToLower(brandTokens[0])+".com")
	}
	for _, field := range req.FocusFields {
		queries = append(queries, FieldQuery(req, field))
	}

	seen := make(map[string]bool, len(queries))
	out := queries[:0]
	for _, q := range queries {
		key := strings.ToLower(q)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) >= maxQ {
			break
		}
	}
	return out
}

// GenerateOrFallback tries the client and degrades to template queries on any
// failure. A nil client goes straight to templates.
func GenerateOrFallback(ctx context.Context, client Client, req QueryRequest) []string {
	if client == nil {
		return TemplateQueries(req)
	}
	queries, err := client.GenerateQueries(ctx, req)
	if err != nil || len(queries) == 0 {
		logging.Get(logging.CategoryLLM).Warn("query generation degraded to templates",
			zap.String("client", client.Name()), logging.Err(err))
		return TemplateQueries(req)
	}
	return queries
}
