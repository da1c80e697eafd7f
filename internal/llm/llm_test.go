package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubClient struct {
	queries []string
	err     error
}

func (s *stubClient) GenerateQueries(context.Context, QueryRequest) ([]string, error) {
	return s.queries, s.err
}
func (s *stubClient) Name() string { return "stub" }

func req() QueryRequest {
	return QueryRequest{
		Category:    "gaming-mice",
		Brand:       "Logitech",
		Model:       "G Pro X Superlight",
		FocusFields: []string{"polling_rate", "sensor"},
		Anchors:     map[string][]string{"polling_rate": {"polling rate"}},
		MaxQueries:  6,
	}
}

func TestTemplateQueries(t *testing.T) {
	got := TemplateQueries(req())
	if len(got) == 0 {
		t.Fatal("no template queries")
	}
	if got[0] != "Logitech G Pro X Superlight specifications" {
		t.Fatalf("first query = %q", got[0])
	}
	joined := strings.Join(got, "\n")
	if !strings.Contains(joined, "site:logitech.com") {
		t.Fatalf("missing manufacturer site query in %v", got)
	}
	if !strings.Contains(joined, `"polling rate"`) {
		t.Fatalf("anchor phrase not used in %v", got)
	}
}

func TestFieldQuery(t *testing.T) {
	r := req()
	if got := FieldQuery(r, "polling_rate"); got != `Logitech G Pro X Superlight "polling rate"` {
		t.Fatalf("FieldQuery(anchored) = %q", got)
	}
	if got := FieldQuery(r, "switch_lifespan"); got != "Logitech G Pro X Superlight switch lifespan" {
		t.Fatalf("FieldQuery(plain) = %q", got)
	}
	if got := FieldQuery(QueryRequest{}, "sensor"); got != "" {
		t.Fatalf("FieldQuery(empty identity) = %q, want empty", got)
	}
}

func TestTemplateQueriesEmptyIdentity(t *testing.T) {
	if got := TemplateQueries(QueryRequest{}); got != nil {
		t.Fatalf("TemplateQueries(empty) = %v, want nil", got)
	}
}

func TestTemplateQueriesRespectsMax(t *testing.T) {
	r := req()
	r.MaxQueries = 2
	if got := TemplateQueries(r); len(got) != 2 {
		t.Fatalf("queries = %d, want 2", len(got))
	}
}

func TestGenerateOrFallbackUsesClient(t *testing.T) {
	want := []string{"q1", "q2"}
	got := GenerateOrFallback(context.Background(), &stubClient{queries: want}, req())
	if len(got) != 2 || got[0] != "q1" {
		t.Fatalf("queries = %v, want %v", got, want)
	}
}

func TestGenerateOrFallbackDegrades(t *testing.T) {
	got := GenerateOrFallback(context.Background(), &stubClient{err: errors.New("quota")}, req())
	if len(got) == 0 || !strings.Contains(got[0], "specifications") {
		t.Fatalf("degraded queries = %v, want templates", got)
	}
}

func TestGenerateOrFallbackNilClient(t *testing.T) {
	if got := GenerateOrFallback(context.Background(), nil, req()); len(got) == 0 {
		t.Fatal("nil client must fall back to templates")
	}
}
