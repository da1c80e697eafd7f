package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient generates discovery queries with the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient builds a client. Model defaults to a fast flash tier; query
// generation does not need a reasoning model.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (c *GeminiClient) Name() string { return fmt.Sprintf("gemini:%s", c.model) }

// GenerateQueries asks the model for one search query per line.
func (c *GeminiClient) GenerateQueries(ctx context.Context, req QueryRequest) ([]string, error) {
	maxQ := req.MaxQueries
	if maxQ <= 0 {
		maxQ = 6
	}
	prompt := buildPrompt(req, maxQ)

	result, err := c.client.Models.GenerateContent(ctx, c.model,
		genai.Text(prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("gemini returned empty response")
	}

	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
		if len(out) >= maxQ {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("gemini returned no usable queries")
	}
	return out, nil
}

func buildPrompt(req QueryRequest, maxQ int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate up to %d web search queries to find technical specifications for this %s product.\n", maxQ, req.Category)
	fmt.Fprintf(&b, "Product: %s %s %s\n", req.Brand, req.Model, req.Variant)
	if len(req.FocusFields) > 0 {
		fmt.Fprintf(&b, "We specifically still need these fields: %s\n", strings.Join(req.FocusFields, ", "))
	}
	for field, anchors := range req.Anchors {
		if len(anchors) > 0 {
			fmt.Fprintf(&b, "Phrases that usually appear near %q: %s\n", field, strings.Join(anchors, "; "))
		}
	}
	b.WriteString("Output one query per line, no numbering, no commentary.\n")
	return b.String()
}
