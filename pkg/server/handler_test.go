package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mikeboe/deep-research/pkg/research"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubResearcher struct {
	mu   sync.Mutex
	last research.Request
	res  research.Result
	err  error
}

func (s *stubResearcher) Research(_ context.Context, req research.Request) (research.Result, error) {
	s.mu.Lock()
	s.last = req
	s.mu.Unlock()
	if req.OnProgress != nil {
		req.OnProgress(research.Progress{TotalQueries: 1})
	}
	return s.res, s.err
}

type stubWriter struct {
	report  string
	answer  string
	err     error
	block   bool
	answers int
	reports int
}

func (w *stubWriter) WriteReport(ctx context.Context, _ string, _, _ []string) (string, error) {
	w.reports++
	if w.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return w.report, w.err
}

func (w *stubWriter) WriteAnswer(ctx context.Context, _ string, _ []string) (string, error) {
	w.answers++
	if w.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return w.answer, w.err
}

func newTestRouter(r Researcher, w Writer, limiter *RateLimiter) *gin.Engine {
	svc := NewService(r, w, time.Second, time.Second)
	svc.Logger = quietLogger
	return NewRouter(NewHandler(svc, limiter, nil), quietLogger, nil)
}

func doJSON(t *testing.T, r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return e
}

func TestHealth(t *testing.T) {
	r := newTestRouter(&stubResearcher{}, &stubWriter{}, nil)
	rec := doJSON(t, r, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"healthy"`) {
		t.Fatalf("health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestResearchSuccess(t *testing.T) {
	researcher := &stubResearcher{res: research.Result{Learnings: []string{"L1", "L2"}, VisitedURLs: []string{"https://a"}}}
	writer := &stubWriter{report: "# Report"}
	r := newTestRouter(researcher, writer, nil)

	rec := doJSON(t, r, http.MethodPost, "/api/research", `{"query":"  solar panels  "}`, map[string]string{RequestIDHeader: "req-123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(RequestIDHeader); got != "req-123" {
		t.Fatalf("request id header = %q", got)
	}

	var resp ResearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Answer != "# Report" || len(resp.Learnings) != 2 || len(resp.VisitedURLs) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Metadata.RequestID != "req-123" || resp.Metadata.LearningsCount != 2 || resp.Metadata.URLsCount != 1 || resp.Metadata.ResponseOptimized {
		t.Fatalf("unexpected metadata: %+v", resp.Metadata)
	}
	if researcher.last.Query != "solar panels" || researcher.last.Depth != DefaultDepth || researcher.last.Breadth != DefaultBreadth {
		t.Fatalf("researcher got %+v", researcher.last)
	}
	if writer.reports != 1 || writer.answers != 0 {
		t.Fatalf("expected report mode, reports=%d answers=%d", writer.reports, writer.answers)
	}
}

func TestResearchGeneratesRequestID(t *testing.T) {
	r := newTestRouter(&stubResearcher{}, &stubWriter{report: "r"}, nil)
	rec := doJSON(t, r, http.MethodPost, "/api/research", `{"query":"q"}`, nil)
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected generated request id")
	}
	var resp ResearchResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Metadata.RequestID != rec.Header().Get(RequestIDHeader) {
		t.Fatalf("metadata id %q != header id %q", resp.Metadata.RequestID, rec.Header().Get(RequestIDHeader))
	}
	if resp.Learnings == nil || resp.VisitedURLs == nil {
		t.Fatal("empty results should encode as arrays")
	}
}

func TestResearchAnswerMode(t *testing.T) {
	researcher := &stubResearcher{}
	writer := &stubWriter{answer: "42"}
	r := newTestRouter(researcher, writer, nil)

	rec := doJSON(t, r, http.MethodPost, "/api/research", `{"query":"q","depth":2,"breadth":5,"mode":"ANSWER"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if writer.answers != 1 || !strings.Contains(rec.Body.String(), `"answer":"42"`) {
		t.Fatalf("answer mode not used: %s", rec.Body.String())
	}
	if researcher.last.Depth != 2 || researcher.last.Breadth != 5 {
		t.Fatalf("researcher got %+v", researcher.last)
	}
}

func TestResearchValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"Missing query", `{}`},
		{"Blank query", `{"query":"   "}`},
		{"Query too long", fmt.Sprintf(`{"query":%q}`, strings.Repeat("x", MaxQueryLength+1))},
		{"Depth zero", `{"query":"q","depth":0}`},
		{"Depth too large", `{"query":"q","depth":11}`},
		{"Breadth zero", `{"query":"q","breadth":0}`},
		{"Breadth too large", `{"query":"q","breadth":21}`},
		{"Depth not a number", `{"query":"q","depth":"deep"}`},
		{"Unknown mode", `{"query":"q","mode":"essay"}`},
		{"Malformed JSON", `{"query":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			researcher := &stubResearcher{}
			r := newTestRouter(researcher, &stubWriter{}, nil)
			rec := doJSON(t, r, http.MethodPost, "/api/research", tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
			}
			e := decodeError(t, rec)
			if e.Success || e.Code != CodeValidation || e.Error == "" {
				t.Fatalf("unexpected error body: %+v", e)
			}
			if researcher.last.Query != "" {
				t.Fatal("research should not start on invalid input")
			}
		})
	}
}

func TestResearchQueryAtLimit(t *testing.T) {
	r := newTestRouter(&stubResearcher{}, &stubWriter{report: "r"}, nil)
	body := fmt.Sprintf(`{"query":%q}`, strings.Repeat("é", MaxQueryLength))
	if rec := doJSON(t, r, http.MethodPost, "/api/research", body, nil); rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestResearchResponseOptimized(t *testing.T) {
	learnings := make([]string, 250)
	for i := range learnings {
		learnings[i] = fmt.Sprintf("learning %d", i)
	}
	urls := make([]string, 600)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/%d", i)
	}
	r := newTestRouter(&stubResearcher{res: research.Result{Learnings: learnings, VisitedURLs: urls}}, &stubWriter{report: "r"}, nil)

	rec := doJSON(t, r, http.MethodPost, "/api/research", `{"query":"q"}`, nil)
	var resp ResearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	m := resp.Metadata
	if !m.ResponseOptimized || m.TotalLearnings != 250 || m.TotalURLs != 600 {
		t.Fatalf("unexpected metadata: %+v", m)
	}
	if len(resp.Learnings) != MaxResponseLearnings || len(resp.VisitedURLs) != MaxResponseURLs {
		t.Fatalf("arrays not truncated: %d learnings, %d urls", len(resp.Learnings), len(resp.VisitedURLs))
	}
	if m.LearningsCount != MaxResponseLearnings || m.URLsCount != MaxResponseURLs {
		t.Fatalf("counts should describe the returned arrays: %+v", m)
	}
}

func TestResearchErrors(t *testing.T) {
	tests := []struct {
		name       string
		researcher *stubResearcher
		writer     *stubWriter
		wantStatus int
		wantCode   string
		wantRetry  bool
	}{
		{
			name:       "Research timeout",
			researcher: &stubResearcher{err: fmt.Errorf("%w: research", research.ErrTimeout)},
			writer:     &stubWriter{},
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   CodeTimeout,
			wantRetry:  true,
		},
		{
			name:       "Report timeout",
			researcher: &stubResearcher{},
			writer:     &stubWriter{block: true},
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   CodeTimeout,
			wantRetry:  true,
		},
		{
			name:       "Planner failure",
			researcher: &stubResearcher{err: errors.New("llm quota exceeded")},
			writer:     &stubWriter{},
			wantStatus: http.StatusInternalServerError,
			wantCode:   CodeInternal,
		},
		{
			name:       "Writer failure",
			researcher: &stubResearcher{},
			writer:     &stubWriter{err: errors.New("bad json")},
			wantStatus: http.StatusInternalServerError,
			wantCode:   CodeInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.researcher, tt.writer, time.Second, 20*time.Millisecond)
			svc.Logger = quietLogger
			r := NewRouter(NewHandler(svc, nil, nil), quietLogger, nil)

			rec := doJSON(t, r, http.MethodPost, "/api/research", `{"query":"q"}`, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
			}
			e := decodeError(t, rec)
			if e.Code != tt.wantCode {
				t.Fatalf("code = %q", e.Code)
			}
			if got := rec.Header().Get("Retry-After") != ""; got != tt.wantRetry {
				t.Fatalf("Retry-After present = %v, want %v", got, tt.wantRetry)
			}
		})
	}
}

func TestGenerateReport(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		wantType string
		wantBody string
	}{
		{"Plain text", "/api/generate-report", "text/plain", "# Findings"},
		{"HTML", "/api/generate-report?format=html", "text/html", "<h1>Findings</h1>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writer := &stubWriter{report: "# Findings", answer: "unused"}
			r := newTestRouter(&stubResearcher{}, writer, nil)
			rec := doJSON(t, r, http.MethodPost, tt.path, `{"query":"q","mode":"answer"}`, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
			}
			if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, tt.wantType) {
				t.Fatalf("content type = %q", ct)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("body = %s", rec.Body.String())
			}
			if writer.answers != 0 {
				t.Fatal("generate-report must always write a report")
			}
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewRateLimiter(0.001, 1)
	r := newTestRouter(&stubResearcher{}, &stubWriter{report: "r"}, limiter)

	first := doJSON(t, r, http.MethodPost, "/api/research", `{"query":"q"}`, map[string]string{"X-API-Key": "alice"})
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d", first.Code)
	}
	second := doJSON(t, r, http.MethodPost, "/api/research", `{"query":"q"}`, map[string]string{"X-API-Key": "alice"})
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d", second.Code)
	}
	if e := decodeError(t, second); e.Code != CodeRateLimited {
		t.Fatalf("code = %q", e.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
	other := doJSON(t, r, http.MethodPost, "/api/research", `{"query":"q"}`, map[string]string{"X-API-Key": "bob"})
	if other.Code != http.StatusOK {
		t.Fatalf("other key status = %d", other.Code)
	}
	if health := doJSON(t, r, http.MethodGet, "/health", "", map[string]string{"X-API-Key": "alice"}); health.Code != http.StatusOK {
		t.Fatalf("health should not be rate limited, got %d", health.Code)
	}
}

func TestRateLimiterEvictsIdleKeys(t *testing.T) {
	l := NewRateLimiter(1, 1)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if ok, _ := l.Allow("k"); !ok {
		t.Fatal("first call should pass")
	}
	if ok, wait := l.Allow("k"); ok || wait <= 0 {
		t.Fatalf("second call should be refused with a wait, got ok=%v wait=%v", ok, wait)
	}
	now = now.Add(idleTTL + time.Second)
	if ok, _ := l.Allow("other"); !ok {
		t.Fatal("other key should pass")
	}
	l.mu.Lock()
	_, kept := l.visitors["k"]
	l.mu.Unlock()
	if kept {
		t.Fatal("idle key should be evicted")
	}
}

func TestRequestIDHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewRequestIDHandler(slog.NewJSONHandler(&buf, nil))).With("component", "test")

	logger.InfoContext(WithRequestID(context.Background(), "abc"), "hello")
	logger.Info("no id")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	var first, second map[string]any
	_ = json.Unmarshal([]byte(lines[0]), &first)
	_ = json.Unmarshal([]byte(lines[1]), &second)
	if first["request_id"] != "abc" || first["component"] != "test" {
		t.Fatalf("first record = %v", first)
	}
	if _, ok := second["request_id"]; ok {
		t.Fatalf("second record should have no request id: %v", second)
	}
}

func TestDeepResearchTool(t *testing.T) {
	researcher := &stubResearcher{res: research.Result{Learnings: []string{"L1"}, VisitedURLs: []string{"https://a"}}}
	svc := NewService(researcher, &stubWriter{report: "# Report"}, time.Second, time.Second)
	svc.Logger = quietLogger
	tool := deepResearchTool(svc)

	res, out, err := tool(context.Background(), nil, DeepResearchInput{Query: "topic", Depth: 2})
	if err != nil {
		t.Fatalf("tool: %v", err)
	}
	if out.Answer != "# Report" || len(out.Learnings) != 1 || out.VisitedURLs[0] != "https://a" {
		t.Fatalf("unexpected output: %+v", out)
	}
	if res == nil || len(res.Content) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if researcher.last.Depth != 2 || researcher.last.Breadth != DefaultBreadth {
		t.Fatalf("researcher got %+v", researcher.last)
	}

	if _, _, err := tool(context.Background(), nil, DeepResearchInput{Query: "topic", Breadth: 99}); err == nil {
		t.Fatal("expected validation error")
	}

	researcher.err = fmt.Errorf("%w: slow", research.ErrTimeout)
	if _, _, err := tool(context.Background(), nil, DeepResearchInput{Query: "topic"}); err == nil || !strings.Contains(err.Error(), "smaller depth") {
		t.Fatalf("expected timeout error with hint, got %v", err)
	}
}

func TestNewMCPServer(t *testing.T) {
	svc := NewService(&stubResearcher{}, &stubWriter{}, time.Second, time.Second)
	if NewMCPHandler(NewMCPServer(svc, "test")) == nil {
		t.Fatal("expected handler")
	}
}
