package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
)

const (
	// DefaultModel is the default model to use if none is specified
	DefaultModel = "gemini-2.5-flash"
	ProModel     = "gemini-2.5-pro"
)

// LangChain adapts any langchaingo llms.Model to Model.
type LangChain struct {
	LLM   llms.Model
	Model string
}

// NewGoogleAI builds a langchaingo Google AI client for the given model.
func NewGoogleAI(ctx context.Context, apiKey, model string) (*LangChain, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("googleai: API key is missing")
	}
	if model == "" {
		model = DefaultModel
	}

	// See https://ai.google.dev/gemini-api/docs/models/gemini for possible models
	llm, err := googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(model))
	if err != nil {
		return nil, fmt.Errorf("failed to init googleai: %w", err)
	}
	return &LangChain{LLM: llm, Model: model}, nil
}

func (l *LangChain) Name() string { return "googleai/" + l.Model }

func (l *LangChain) Generate(ctx context.Context, req Request) (string, error) {
	var msgs []llms.MessageContent
	if req.System != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	var opts []llms.CallOption
	if req.JSON {
		opts = append(opts, llms.WithJSONMode())
	}

	resp, err := l.LLM.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Content, nil
}
