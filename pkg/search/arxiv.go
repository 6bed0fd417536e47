package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultArxivURL is the public arXiv query endpoint.
const DefaultArxivURL = "https://export.arxiv.org/api/query"

type arxivEntry struct {
	ID        string      `xml:"id"`
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Link      []arxivLink `xml:"link"`
}

type arxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
	Rel  string `xml:"rel,attr"`
}

type arxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []arxivEntry `xml:"entry"`
}

// Arxiv searches paper abstracts. The abstract becomes the result content.
type Arxiv struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewArxiv returns a provider for the public arXiv API.
func NewArxiv() *Arxiv {
	return &Arxiv{BaseURL: DefaultArxivURL, HTTPClient: &http.Client{Timeout: 30 * time.Second}}
}

func (a *Arxiv) Name() string { return "arxiv" }

func (a *Arxiv) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	base := a.BaseURL
	if base == "" {
		base = DefaultArxivURL
	}
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	params := url.Values{}
	params.Add("search_query", "all:"+query)
	params.Add("max_results", strconv.Itoa(limit))
	params.Add("start", "0")
	apiURL := base + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	hc := a.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		logger.Error("arxiv returned non-200 status code", "status", resp.StatusCode, "body", string(bodyBytes))
		return nil, fmt.Errorf("arxiv returned non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	logger.Debug("arxiv response read", "size", len(body))

	var feed arxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal XML: %w", err)
	}

	out := make([]Result, 0, len(feed.Entry))
	for _, entry := range feed.Entry {
		summary := strings.Join(strings.Fields(entry.Summary), " ")
		title := strings.Join(strings.Fields(entry.Title), " ")
		content := fmt.Sprintf("# %s\nPublished: %s\n\n%s", title, entry.Published, summary)
		out = append(out, Result{
			Title:   title,
			Body:    summary,
			Content: content,
			URL:     entryURL(entry),
			Source:  a.Name(),
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// entryURL prefers the abstract page, then the PDF, then the entry id.
func entryURL(e arxivEntry) string {
	var pdf string
	for _, link := range e.Link {
		if link.Rel == "alternate" && link.Href != "" {
			return link.Href
		}
		if link.Type == "application/pdf" && pdf == "" {
			pdf = link.Href
		}
	}
	if pdf != "" {
		return pdf
	}
	return strings.TrimSpace(e.ID)
}
