package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/search"
	"github.com/mikeboe/deep-research/pkg/splitter"
)

const (
	// DefaultItemTokenBudget bounds each search result embedded in a prompt.
	DefaultItemTokenBudget = 25000
	// DefaultDistillTimeout bounds the language-model call of one distillation.
	DefaultDistillTimeout = 60 * time.Second
)

// Distiller extracts learnings and follow-up questions from search results.
type Distiller interface {
	Distill(ctx context.Context, query string, results []search.Result, numLearnings, numFollowUps int) (Distillation, error)
}

// LLMDistiller distills results with a language model.
type LLMDistiller struct {
	Model           llm.Model
	Trimmer         *splitter.Trimmer
	ItemTokenBudget int
	Timeout         time.Duration
	Logger          *slog.Logger
}

func (d *LLMDistiller) Distill(ctx context.Context, query string, results []search.Result, numLearnings, numFollowUps int) (Distillation, error) {
	contents := d.contents(results)
	if len(contents) == 0 {
		d.logger().Warn("No content extracted from search results", "query", query, "results", len(results))
		return noContent(query), nil
	}
	d.logger().Info("Ran query", "query", query, "contents", len(contents))

	prompt := fmt.Sprintf("Given the following contents from a SERP search for the query <query>%s</query>, "+
		"generate a list of learnings from the contents. Return a maximum of %d learnings, but feel free to return less if the contents are clear. "+
		"Make sure each learning is unique and not similar to each other. The learnings should be concise and to the point, as detailed and information dense as possible. "+
		"Make sure to include any entities like people, places, companies, products, things, etc in the learnings, as well as any exact metrics, numbers, or dates. "+
		"The learnings will be used to research the topic further. Also return a maximum of %d follow-up questions.\n\n<contents>%s</contents>",
		query, numLearnings, numFollowUps, wrapTagged("content", contents))
	prompt += responseFormat(distillSchema)

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultDistillTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := llm.GenerateJSON[Distillation](tctx, d.Model, llm.Request{System: systemPrompt(), Prompt: prompt}, nil)
	if err != nil {
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return Distillation{}, fmt.Errorf("%w: distill %q after %s", ErrTimeout, query, timeout)
		}
		return Distillation{}, fmt.Errorf("distill %q: %w", query, err)
	}

	if numLearnings > 0 && len(out.Learnings) > numLearnings {
		out.Learnings = out.Learnings[:numLearnings]
	}
	if numFollowUps >= 0 && len(out.FollowUpQuestions) > numFollowUps {
		out.FollowUpQuestions = out.FollowUpQuestions[:numFollowUps]
	}
	d.logger().Info("Created learnings", "query", query, "learnings", len(out.Learnings), "followUps", len(out.FollowUpQuestions))
	return out, nil
}

// contents picks one trimmed text per result: full content, then snippet,
// then title. When none is usable it synthesizes one from all fields.
func (d *LLMDistiller) contents(results []search.Result) []string {
	budget := d.ItemTokenBudget
	if budget <= 0 {
		budget = DefaultItemTokenBudget
	}

	var out []string
	for _, r := range results {
		if text := firstNonEmpty(r.Content, r.Body, r.Title); text != "" {
			out = append(out, d.trim(text, budget))
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, r := range results {
		text := fmt.Sprintf("%s\n%s\nSource: %s", r.Title, r.Body, r.URL)
		if strings.TrimSpace(text) == "Source:" {
			continue
		}
		out = append(out, d.trim(text, budget))
	}
	return out
}

func (d *LLMDistiller) trim(text string, budget int) string {
	if d.Trimmer != nil {
		return d.Trimmer.Trim(text, budget)
	}
	return splitter.TrimPrompt(text, budget)
}

func (d *LLMDistiller) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func noContent(query string) Distillation {
	return Distillation{
		Learnings:         []string{"Unable to extract content for query: " + query},
		FollowUpQuestions: []string{"Retry search with different keywords for: " + query},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
