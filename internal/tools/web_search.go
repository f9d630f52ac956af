package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// SearchType selects between general web results and news results.
type SearchType string

const (
	SearchTypeText SearchType = "text"
	SearchTypeNews SearchType = "news"
)

// Citation is one web_search result.
type Citation struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Source  string `json:"source,omitempty"`
	Date    string `json:"date,omitempty"`
}

// WebSearchEndpoint is the configured search backend base URL; empty means
// no backend is configured and every query returns a synthetic error citation.
var WebSearchEndpoint string

// WebSearch runs one query per entry in queries against the configured
// search endpoint, deduping results by (url, title) and capping the combined
// result list at min(limit, 20). A query that errors becomes a single
// synthetic error citation rather than failing the whole call.
func WebSearch(ctx context.Context, queries []string, kind SearchType, limit int) []Citation {
	if limit <= 0 || limit > 20 {
		limit = 20
	}

	seen := make(map[string]bool)
	var out []Citation

	for _, q := range queries {
		results, err := runOneQuery(ctx, q, kind)
		if err != nil {
			out = append(out, Citation{Index: len(out) + 1, Title: "search error", URL: "", Snippet: err.Error()})
			continue
		}
		for _, c := range results {
			key := c.URL + "|" + c.Title
			if seen[key] {
				continue
			}
			seen[key] = true
			c.Index = len(out) + 1
			out = append(out, c)
			if len(out) >= limit {
				return out
			}
		}
	}
	return out
}

func runOneQuery(ctx context.Context, query string, kind SearchType) ([]Citation, error) {
	if WebSearchEndpoint == "" {
		return nil, fmt.Errorf("no web search backend configured")
	}

	endpoint := fmt.Sprintf("%s?q=%s&type=%s", WebSearchEndpoint, url.QueryEscape(query), kind)
	reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search backend returned %d", resp.StatusCode)
	}

	var parsed struct {
		Results []Citation `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return parsed.Results, nil
}
