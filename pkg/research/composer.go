package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/splitter"
)

// DefaultContextSize is the token budget for the composed prompt.
const DefaultContextSize = 128000

// Composer turns research results into a report or a short answer.
type Composer struct {
	Model       llm.Model
	Trimmer     *splitter.Trimmer
	ContextSize int
	Logger      *slog.Logger
}

type reportResponse struct {
	ReportMarkdown string `json:"reportMarkdown"`
}

type answerResponse struct {
	ExactAnswer string `json:"exactAnswer"`
}

// WriteReport writes a Markdown report from learnings and appends the
// visited URLs as a sources section.
func (c *Composer) WriteReport(ctx context.Context, prompt string, learnings, visitedURLs []string) (string, error) {
	body := fmt.Sprintf("Given the following prompt from the user, write a final report on the topic using the learnings from research. "+
		"Make it as detailed as possible, aim for 3 or more pages, include ALL the learnings from research:\n\n<prompt>%s</prompt>\n\n"+
		"Here are all the learnings from previous research:\n\n<learnings>\n%s\n</learnings>",
		prompt, c.learningsBlock(learnings))
	body += responseFormat(reportSchema)

	out, err := llm.GenerateJSON(ctx, c.Model, llm.Request{System: systemPrompt(), Prompt: body}, func(r *reportResponse) error {
		if strings.TrimSpace(r.ReportMarkdown) == "" {
			return errors.New("empty report")
		}
		return nil
	})
	if err != nil {
		return "", c.wrap(ctx, "write report", err)
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(out.ReportMarkdown))
	b.WriteString("\n\n## Sources\n\n")
	for _, u := range visitedURLs {
		fmt.Fprintf(&b, "- %s\n", u)
	}
	c.logger().Info("Final report generated", "length", b.Len(), "sources", len(visitedURLs))
	return b.String(), nil
}

// WriteAnswer returns a concise answer to prompt based on learnings.
func (c *Composer) WriteAnswer(ctx context.Context, prompt string, learnings []string) (string, error) {
	body := fmt.Sprintf("Given the following prompt from the user, write a final answer on the topic using the learnings from research. "+
		"Follow the format specified in the prompt. Do not yap or babble or include any other text than the answer besides the format specified in the prompt. "+
		"Keep the answer as concise as possible - usually it should be just a few words or maximum a sentence.\n\n<prompt>%s</prompt>\n\n"+
		"Here are all the learnings from research on the topic that you can use to help answer the prompt:\n\n<learnings>\n%s\n</learnings>",
		prompt, c.learningsBlock(learnings))
	body += responseFormat(answerSchema)

	out, err := llm.GenerateJSON(ctx, c.Model, llm.Request{System: systemPrompt(), Prompt: body}, func(r *answerResponse) error {
		if strings.TrimSpace(r.ExactAnswer) == "" {
			return errors.New("empty answer")
		}
		return nil
	})
	if err != nil {
		return "", c.wrap(ctx, "write answer", err)
	}
	return out.ExactAnswer, nil
}

func (c *Composer) learningsBlock(learnings []string) string {
	size := c.ContextSize
	if size <= 0 {
		size = DefaultContextSize
	}
	block := wrapTagged("learning", learnings)
	if c.Trimmer != nil {
		return c.Trimmer.Trim(block, size)
	}
	return splitter.TrimPrompt(block, size)
}

func (c *Composer) wrap(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (c *Composer) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
