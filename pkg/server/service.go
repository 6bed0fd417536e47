package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mikeboe/deep-research/pkg/research"
)

const (
	DefaultDepth   = 3
	DefaultBreadth = 3

	MaxQueryLength = 5000
	MaxDepth       = 10
	MaxBreadth     = 20

	ModeReport = "report"
	ModeAnswer = "answer"
)

const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeRateLimited = "RATE_LIMITED"
	CodeTimeout     = "TIMEOUT"
	CodeInternal    = "INTERNAL_ERROR"
)

// APIError is an error with an HTTP status and a stable code.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details string
	// RetryAfter, when set, is sent as the Retry-After header in seconds.
	RetryAfter int
}

func (e *APIError) Error() string { return e.Message }

func validationError(format string, args ...any) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Researcher runs the research tree.
type Researcher interface {
	Research(ctx context.Context, req research.Request) (research.Result, error)
}

// Writer composes the final output from research results.
type Writer interface {
	WriteReport(ctx context.Context, prompt string, learnings, visitedURLs []string) (string, error)
	WriteAnswer(ctx context.Context, prompt string, learnings []string) (string, error)
}

// ResearchRequest is the body of /api/research and /api/generate-report.
// Depth and Breadth are pointers so an explicit 0 is rejected rather than
// replaced by the default.
type ResearchRequest struct {
	Query   string `json:"query"`
	Depth   *int   `json:"depth,omitempty"`
	Breadth *int   `json:"breadth,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

// Params are validated research parameters.
type Params struct {
	Query   string
	Depth   int
	Breadth int
	Mode    string
}

// Validate checks the request bounds and fills in defaults.
func (r ResearchRequest) Validate() (Params, error) {
	p := Params{Query: strings.TrimSpace(r.Query), Depth: DefaultDepth, Breadth: DefaultBreadth, Mode: ModeReport}
	if p.Query == "" {
		return Params{}, validationError("query is required")
	}
	if n := utf8.RuneCountInString(p.Query); n > MaxQueryLength {
		return Params{}, validationError("query must be at most %d characters, got %d", MaxQueryLength, n)
	}
	if r.Depth != nil {
		p.Depth = *r.Depth
	}
	if p.Depth < 1 || p.Depth > MaxDepth {
		return Params{}, validationError("depth must be between 1 and %d", MaxDepth)
	}
	if r.Breadth != nil {
		p.Breadth = *r.Breadth
	}
	if p.Breadth < 1 || p.Breadth > MaxBreadth {
		return Params{}, validationError("breadth must be between 1 and %d", MaxBreadth)
	}
	if m := strings.ToLower(strings.TrimSpace(r.Mode)); m != "" {
		if m != ModeReport && m != ModeAnswer {
			return Params{}, validationError("mode must be %q or %q", ModeReport, ModeAnswer)
		}
		p.Mode = m
	}
	return p, nil
}

// Outcome is the result of one research request.
type Outcome struct {
	Answer      string
	Learnings   []string
	VisitedURLs []string
}

// Service runs research requests under the configured deadlines.
type Service struct {
	Researcher      Researcher
	Writer          Writer
	ResearchTimeout time.Duration
	ReportTimeout   time.Duration
	Logger          *slog.Logger
}

func NewService(r Researcher, w Writer, researchTimeout, reportTimeout time.Duration) *Service {
	return &Service{
		Researcher:      r,
		Writer:          w,
		ResearchTimeout: researchTimeout,
		ReportTimeout:   reportTimeout,
		Logger:          slog.Default(),
	}
}

// Run researches p.Query and composes a report or answer, depending on p.Mode.
func (s *Service) Run(ctx context.Context, p Params) (Outcome, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rctx, cancel := context.WithTimeout(ctx, s.ResearchTimeout)
	res, err := s.Researcher.Research(rctx, research.Request{
		Query:   p.Query,
		Breadth: p.Breadth,
		Depth:   p.Depth,
		OnProgress: func(pr research.Progress) {
			logger.DebugContext(ctx, "Research progress",
				"depth", pr.CurrentDepth, "breadth", pr.CurrentBreadth,
				"completed", pr.CompletedQueries, "total", pr.TotalQueries)
		},
	})
	cancel()
	if err != nil {
		return Outcome{}, classify(err, "research", s.ResearchTimeout)
	}
	logger.InfoContext(ctx, "Research completed", "learnings", len(res.Learnings), "urls", len(res.VisitedURLs))

	wctx, cancel := context.WithTimeout(ctx, s.ReportTimeout)
	defer cancel()
	var answer string
	if p.Mode == ModeAnswer {
		answer, err = s.Writer.WriteAnswer(wctx, p.Query, res.Learnings)
	} else {
		answer, err = s.Writer.WriteReport(wctx, p.Query, res.Learnings, res.VisitedURLs)
	}
	if err != nil {
		return Outcome{}, classify(err, "report generation", s.ReportTimeout)
	}
	return Outcome{Answer: answer, Learnings: res.Learnings, VisitedURLs: res.VisitedURLs}, nil
}

// classify maps internal failures onto the error classes the API exposes.
func classify(err error, phase string, limit time.Duration) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, research.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return &APIError{
			Status:     http.StatusGatewayTimeout,
			Code:       CodeTimeout,
			Message:    fmt.Sprintf("%s timed out after %s", phase, limit),
			Details:    "Try again with a smaller depth or breadth.",
			RetryAfter: 30,
		}
	}
	if errors.Is(err, research.ErrInvalidArgument) {
		return &APIError{Status: http.StatusBadRequest, Code: CodeValidation, Message: err.Error()}
	}
	return &APIError{
		Status:  http.StatusInternalServerError,
		Code:    CodeInternal,
		Message: fmt.Sprintf("%s failed", phase),
		Details: err.Error(),
	}
}
