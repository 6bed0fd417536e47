package llm

import (
	"context"
	"fmt"
	"strings"
)

// Provider names accepted by New.
const (
	ProviderGoogleAI = "googleai"
	ProviderGemini   = "gemini"
	ProviderOpenAI   = "openai"
)

// Options selects and configures a provider.
type Options struct {
	Provider      string
	Model         string
	GoogleAPIKey  string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

// ResolveProvider returns the explicit provider, or picks one from the
// available keys: Google first, then OpenAI.
func ResolveProvider(opts Options) string {
	if p := strings.ToLower(strings.TrimSpace(opts.Provider)); p != "" {
		return p
	}
	switch {
	case opts.GoogleAPIKey != "":
		return ProviderGoogleAI
	case opts.OpenAIAPIKey != "":
		return ProviderOpenAI
	default:
		return ""
	}
}

// New builds the model once at process start. The result is passed
// explicitly to the planner, distiller and composer.
func New(ctx context.Context, opts Options) (Model, error) {
	provider := ResolveProvider(opts)
	switch provider {
	case ProviderGoogleAI:
		return NewGoogleAI(ctx, opts.GoogleAPIKey, opts.Model)
	case ProviderGemini:
		return NewGemini(ctx, opts.GoogleAPIKey, opts.Model)
	case ProviderOpenAI:
		return NewOpenAI(opts.OpenAIAPIKey, opts.OpenAIBaseURL, opts.Model)
	case "":
		return nil, fmt.Errorf("%w: no provider configured and no API key found", ErrUnknownProvider)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
}
