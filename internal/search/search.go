// Package search provides the web search backends the model can call
// through the webSearch tool.
package search

import (
	"context"
	"fmt"
	"strings"
)

const defaultCount = 5

// Result is a single search hit. Date is whatever the provider reports
// (absolute or relative) and may be empty.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
	Date    string `json:"date,omitempty"`
}

// Options are optional parameters for a query.
type Options struct {
	// Count caps the number of results. Zero means provider default.
	Count int
}

// Provider is a web search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// New returns the provider named by kind, or nil when kind is empty.
func New(kind, searxngURL, braveKey string) (Provider, error) {
	switch kind {
	case "":
		return nil, nil
	case "searxng":
		if searxngURL == "" {
			return nil, fmt.Errorf("searxng provider needs search.searxng_url")
		}
		return NewSearXNG(searxngURL), nil
	case "brave":
		if braveKey == "" {
			return nil, fmt.Errorf("brave provider needs an API key")
		}
		return NewBrave(braveKey), nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", kind)
	}
}

// Format renders results as a numbered list for the model.
func Format(results []Result) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s\n   %s", i+1, r.Title, r.URL)
		if r.Date != "" {
			fmt.Fprintf(&b, "\n   Published: %s", r.Date)
		}
		if r.Snippet != "" {
			b.WriteString("\n   ")
			b.WriteString(r.Snippet)
		}
	}
	return b.String()
}

func countOrDefault(n int) int {
	if n <= 0 {
		return defaultCount
	}
	return n
}
