package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WaterCrawl queries a crawl service that searches and extracts page
// content server-side.
type WaterCrawl struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewWaterCrawl returns a provider with a generous timeout, since the
// service fetches every result page before answering.
func NewWaterCrawl(baseURL string) *WaterCrawl {
	return &WaterCrawl{BaseURL: baseURL, HTTPClient: &http.Client{Timeout: 90 * time.Second}}
}

func (w *WaterCrawl) Name() string { return "watercrawl" }

type waterCrawlRequest struct {
	Query []string `json:"query"`
	N     int      `json:"n"`
}

type waterCrawlResponse struct {
	Results []struct {
		Title   string `json:"title"`
		Body    string `json:"body"`
		URL     string `json:"url"`
		Content string `json:"content"`
		Source  string `json:"source"`
	} `json:"results"`
}

func (w *WaterCrawl) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if strings.TrimSpace(w.BaseURL) == "" {
		return nil, fmt.Errorf("missing watercrawl base url")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	payload, err := json.Marshal(waterCrawlRequest{Query: []string{query}, N: limit})
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimRight(w.BaseURL, "/") + "/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	hc := w.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("watercrawl request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("watercrawl status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var wr waterCrawlResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, fmt.Errorf("decode watercrawl response: %w", err)
	}

	out := make([]Result, 0, len(wr.Results))
	for _, r := range wr.Results {
		out = append(out, Result{
			Title:   strings.TrimSpace(r.Title),
			Body:    strings.TrimSpace(r.Body),
			Content: strings.TrimSpace(r.Content),
			URL:     strings.TrimSpace(r.URL),
			Source:  w.Name(),
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
