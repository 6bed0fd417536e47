package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// DeepResearchInput is the argument object of the deep_research tool.
type DeepResearchInput struct {
	Query   string `json:"query" jsonschema:"the research question"`
	Depth   int    `json:"depth,omitempty" jsonschema:"recursion depth, 1 to 10, default 3"`
	Breadth int    `json:"breadth,omitempty" jsonschema:"queries per level, 1 to 20, default 3"`
	Mode    string `json:"mode,omitempty" jsonschema:"report or answer, default report"`
}

// DeepResearchOutput is the structured result of the deep_research tool.
type DeepResearchOutput struct {
	Answer      string   `json:"answer"`
	Learnings   []string `json:"learnings"`
	VisitedURLs []string `json:"visitedUrls"`
}

// NewMCPServer exposes the research service as an MCP tool.
func NewMCPServer(s *Service, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "deep-research", Version: version}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "deep_research",
		Description: "Research a topic recursively on the web and return a Markdown report (or a short answer) with the learnings and sources found.",
	}, deepResearchTool(s))
	return server
}

// NewMCPHandler serves server over streamable HTTP.
func NewMCPHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}

// deepResearchTool runs one research session per call. Failures are
// returned as errors, which the SDK reports as tool results with IsError.
func deepResearchTool(s *Service) mcp.ToolHandlerFor[DeepResearchInput, DeepResearchOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in DeepResearchInput) (*mcp.CallToolResult, DeepResearchOutput, error) {
		req := ResearchRequest{Query: in.Query, Mode: in.Mode}
		if in.Depth != 0 {
			req.Depth = &in.Depth
		}
		if in.Breadth != 0 {
			req.Breadth = &in.Breadth
		}
		p, err := req.Validate()
		if err != nil {
			return nil, DeepResearchOutput{}, err
		}

		out, err := s.Run(ctx, p)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Details != "" {
				return nil, DeepResearchOutput{}, fmt.Errorf("%s: %s", apiErr.Message, apiErr.Details)
			}
			return nil, DeepResearchOutput{}, err
		}

		result := &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: out.Answer}},
		}
		return result, DeepResearchOutput{
			Answer:      out.Answer,
			Learnings:   out.Learnings,
			VisitedURLs: out.VisitedURLs,
		}, nil
	}
}
