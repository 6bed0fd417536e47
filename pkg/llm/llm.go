package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrNoChoices is returned when a provider answers without any content.
	ErrNoChoices = errors.New("llm returned no choices")
	// ErrUnknownProvider is returned by New for unsupported provider names.
	ErrUnknownProvider = errors.New("unknown llm provider")
)

// Request is a single system + user prompt exchange.
type Request struct {
	System string
	Prompt string
	// JSON asks the provider for a JSON object response.
	JSON bool
}

// Model is the language-model capability used by the research pipeline.
type Model interface {
	Generate(ctx context.Context, req Request) (string, error)
	Name() string
}

// MaxAttempts is the number of tries GenerateJSON makes before giving up.
const MaxAttempts = 3

// retryBackoff is multiplied by the attempt number between retries.
var retryBackoff = time.Second

// GenerateJSON asks m for a JSON object, decodes it into T and runs validate
// on the result. Provider errors, malformed JSON and validation failures are
// retried until MaxAttempts is reached. Context errors are returned at once.
func GenerateJSON[T any](ctx context.Context, m Model, req Request, validate func(*T) error) (T, error) {
	var zero T
	req.JSON = true
	var lastErr error

	for i := 0; i < MaxAttempts; i++ {
		if i > 0 {
			slog.Warn("Retrying LLM generation", "model", m.Name(), "attempt", i+1, "last_error", lastErr)
			if err := sleep(ctx, retryBackoff*time.Duration(i)); err != nil {
				return zero, err
			}
		}

		content, err := m.Generate(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return zero, fmt.Errorf("llm generation failed: %w", err)
			}
			lastErr = fmt.Errorf("llm generation failed: %w", err)
			continue
		}

		var out T
		if err := json.Unmarshal([]byte(StripCodeFence(content)), &out); err != nil {
			lastErr = fmt.Errorf("json parse error: %w", err)
			continue
		}
		if validate != nil {
			if err := validate(&out); err != nil {
				lastErr = fmt.Errorf("validation failed: %w", err)
				continue
			}
		}
		return out, nil
	}

	return zero, fmt.Errorf("operation failed after %d retries: %w", MaxAttempts, lastErr)
}

// StripCodeFence removes a surrounding ```json fence some models add even in JSON mode.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
