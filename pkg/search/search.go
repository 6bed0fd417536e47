// Package search provides the web search capability used by the research
// orchestrator.
//
// Available providers:
//
//   - WaterCrawl: POST /search against a WaterCrawl-style service that
//     returns extracted page content alongside each hit
//   - SearxNG: JSON API of a SearxNG instance, optionally fetching each
//     result page and extracting its readable text
//   - Arxiv: the export.arxiv.org Atom API
//   - File: a local JSON file, for offline runs and tests
package search

import (
	"context"
	"strings"
)

// DefaultLimit is the number of results requested per query.
const DefaultLimit = 5

// Result represents a single search hit from any provider.
type Result struct {
	Title string `json:"title"`
	// Body is the short snippet returned by the search engine.
	Body string `json:"body"`
	// Content is the full extracted page text, when available.
	Content string `json:"content,omitempty"`
	URL     string `json:"url"`
	Source  string `json:"source,omitempty"`
}

// Provider is a minimal interface for search providers.
type Provider interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
	Name() string
}

// URLs returns the non-empty result URLs in order.
func URLs(results []Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		if u := strings.TrimSpace(r.URL); u != "" {
			out = append(out, u)
		}
	}
	return out
}
