package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/mikeboe/deep-research/pkg/render"
)

// Responses with more items than these are truncated.
const (
	MaxResponseLearnings = 200
	MaxResponseURLs      = 500
)

// ResponseMetadata describes how a research response was produced.
type ResponseMetadata struct {
	RequestID         string `json:"requestId"`
	ProcessingTime    int64  `json:"processingTime"`
	LearningsCount    int    `json:"learningsCount"`
	URLsCount         int    `json:"urlsCount"`
	ResponseOptimized bool   `json:"responseOptimized"`
	TotalLearnings    int    `json:"totalLearnings,omitempty"`
	TotalURLs         int    `json:"totalUrls,omitempty"`
}

// ResearchResponse is the body returned by /api/research.
type ResearchResponse struct {
	Success     bool             `json:"success"`
	Answer      string           `json:"answer"`
	Learnings   []string         `json:"learnings"`
	VisitedURLs []string         `json:"visitedUrls"`
	Metadata    ResponseMetadata `json:"metadata"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

type Handler struct {
	Service *Service
	Limiter *RateLimiter
	// MCP, when set, is mounted at /mcp.
	MCP http.Handler
}

func NewHandler(s *Service, limiter *RateLimiter, mcpHandler http.Handler) *Handler {
	return &Handler{Service: s, Limiter: limiter, MCP: mcpHandler}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)

	api := r.Group("/api")
	if h.Limiter != nil {
		api.Use(h.Limiter.Middleware())
	}
	{
		api.POST("/research", h.research)
		api.POST("/generate-report", h.generateReport)
	}

	if h.MCP != nil {
		r.Any("/mcp", gin.WrapH(h.MCP))
	}
}

// NewRouter builds the gin engine with recovery, request logging and CORS.
func NewRouter(h *Handler, logger *slog.Logger, allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger))

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key", RequestIDHeader, "Mcp-Session-Id", "Mcp-Protocol-Version"},
		ExposeHeaders: []string{"Content-Length", RequestIDHeader, "Retry-After", "Mcp-Session-Id"},
		MaxAge:        12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = allowedOrigins
		corsCfg.AllowCredentials = true
	}
	r.Use(cors.New(corsCfg))

	h.RegisterRoutes(r)
	return r
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) research(c *gin.Context) {
	start := time.Now()
	p, ok := bindParams(c)
	if !ok {
		return
	}

	out, err := h.Service.Run(c.Request.Context(), p)
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := ResearchResponse{
		Success:     true,
		Answer:      out.Answer,
		Learnings:   out.Learnings,
		VisitedURLs: out.VisitedURLs,
	}
	if len(resp.Learnings) > MaxResponseLearnings || len(resp.VisitedURLs) > MaxResponseURLs {
		resp.Metadata.ResponseOptimized = true
		resp.Metadata.TotalLearnings = len(out.Learnings)
		resp.Metadata.TotalURLs = len(out.VisitedURLs)
		if len(resp.Learnings) > MaxResponseLearnings {
			resp.Learnings = resp.Learnings[:MaxResponseLearnings]
		}
		if len(resp.VisitedURLs) > MaxResponseURLs {
			resp.VisitedURLs = resp.VisitedURLs[:MaxResponseURLs]
		}
	}
	if resp.Learnings == nil {
		resp.Learnings = []string{}
	}
	if resp.VisitedURLs == nil {
		resp.VisitedURLs = []string{}
	}
	resp.Metadata.RequestID = RequestIDFrom(c.Request.Context())
	resp.Metadata.ProcessingTime = time.Since(start).Milliseconds()
	resp.Metadata.LearningsCount = len(resp.Learnings)
	resp.Metadata.URLsCount = len(resp.VisitedURLs)

	c.JSON(http.StatusOK, resp)
}

// generateReport always produces a full report. It answers with plain
// Markdown, or with an HTML page for ?format=html.
func (h *Handler) generateReport(c *gin.Context) {
	p, ok := bindParams(c)
	if !ok {
		return
	}
	p.Mode = ModeReport

	out, err := h.Service.Run(c.Request.Context(), p)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if c.Query("format") == "html" {
		page, err := render.HTMLDocument(p.Query, out.Answer)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(out.Answer))
}

func bindParams(c *gin.Context) (Params, bool) {
	var req ResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, &APIError{
			Status:  http.StatusBadRequest,
			Code:    CodeValidation,
			Message: "Invalid request body",
			Details: err.Error(),
		})
		return Params{}, false
	}
	p, err := req.Validate()
	if err != nil {
		abortWithError(c, err)
		return Params{}, false
	}
	return p, true
}

func abortWithError(c *gin.Context, err error) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		apiErr = &APIError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "Internal server error", Details: err.Error()}
	}
	if apiErr.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(apiErr.RetryAfter))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(apiErr.Status, ErrorResponse{
		Success: false,
		Error:   apiErr.Message,
		Code:    apiErr.Code,
		Details: apiErr.Details,
	})
}
