package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mikeboe/deep-research/pkg/llm"
)

// QueryPlanner turns a query into up to n search directives.
type QueryPlanner interface {
	Plan(ctx context.Context, query string, n int, learnings []string) ([]SerpQuery, error)
}

// LLMPlanner plans queries with a language model.
type LLMPlanner struct {
	Model  llm.Model
	Logger *slog.Logger
}

type planResponse struct {
	Queries []SerpQuery `json:"queries"`
}

func (p *LLMPlanner) Plan(ctx context.Context, query string, n int, learnings []string) ([]SerpQuery, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: number of queries must be positive", ErrInvalidArgument)
	}

	prompt := fmt.Sprintf("Given the following prompt from the user, generate a list of SERP queries to research the topic. "+
		"Return a maximum of %d queries, but feel free to return less if the original prompt is clear. "+
		"Make sure each query is unique and not similar to each other: <prompt>%s</prompt>\n\n", n, query)
	if len(learnings) > 0 {
		prompt += "Here are some learnings from previous research, use them to generate more specific queries that explore new directions: " +
			strings.Join(learnings, "\n")
	}
	prompt += responseFormat(planSchema)

	resp, err := llm.GenerateJSON(ctx, p.Model, llm.Request{System: systemPrompt(), Prompt: prompt}, func(r *planResponse) error {
		r.Queries = dedupeQueries(r.Queries)
		if len(r.Queries) == 0 {
			return errors.New("empty queries list")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("plan queries: %w", err)
	}

	queries := resp.Queries
	if len(queries) > n {
		queries = queries[:n]
	}
	p.logger().Info("Created queries", "count", len(queries), "queries", queryTexts(queries))
	return queries, nil
}

func (p *LLMPlanner) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// dedupeQueries drops blank queries and exact repeats, keeping the first.
func dedupeQueries(in []SerpQuery) []SerpQuery {
	seen := make(map[string]bool, len(in))
	out := make([]SerpQuery, 0, len(in))
	for _, q := range in {
		q.Query = strings.TrimSpace(q.Query)
		if q.Query == "" || seen[q.Query] {
			continue
		}
		seen[q.Query] = true
		out = append(out, q)
	}
	return out
}

func queryTexts(qs []SerpQuery) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.Query
	}
	return out
}
