package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultMaxBytes caps how much of a page body is read.
const DefaultMaxBytes = 2 << 20

// Fetcher downloads HTML pages and returns their readable text.
type Fetcher struct {
	HTTPClient *http.Client
	UserAgent  string
	// PerRequestTimeout bounds each request. Zero means 15s.
	PerRequestTimeout time.Duration
	// MaxBytes caps the body size read. Zero means DefaultMaxBytes.
	MaxBytes int64
	// MaxConcurrent limits in-flight requests. Zero means unlimited.
	MaxConcurrent int

	limiter     chan struct{}
	limiterOnce sync.Once
}

// NewFetcher returns a fetcher with conservative defaults.
func NewFetcher(userAgent string) *Fetcher {
	return &Fetcher{UserAgent: userAgent, MaxConcurrent: 4}
}

// FetchText GETs rawURL and extracts its main text.
func (f *Fetcher) FetchText(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported URL scheme: %q", u.Scheme)
	}

	f.acquire()
	defer f.release()

	timeout := f.PerRequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	hc := f.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if ct := strings.ToLower(resp.Header.Get("Content-Type")); !strings.HasPrefix(ct, "text/html") && !strings.HasPrefix(ct, "application/xhtml+xml") {
		return "", fmt.Errorf("unsupported content type: %s", ct)
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return ExtractText(body).Text, nil
}

func (f *Fetcher) acquire() {
	if f.MaxConcurrent <= 0 {
		return
	}
	f.limiterOnce.Do(func() {
		f.limiter = make(chan struct{}, f.MaxConcurrent)
	})
	f.limiter <- struct{}{}
}

func (f *Fetcher) release() {
	if f.MaxConcurrent <= 0 || f.limiter == nil {
		return
	}
	<-f.limiter
}
