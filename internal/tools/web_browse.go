package tools

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/sync/errgroup"
)

// Page is one web_browse fetch outcome.
type Page struct {
	URL       string
	Title     string
	Text      string
	Truncated bool
	Err       error
}

var collapseWhitespaceRe = regexp.MustCompile(`\n{3,}`)

// WebBrowse fetches every URL concurrently, each with a 15s timeout, extracts
// the title, strips script/style/noscript, converts block content to
// markdown-ish text, and truncates to cfg.WebBrowseMaxChars. goquery
// parses the document, bluemonday strips disallowed tags, html-to-markdown
// renders the remainder. Results keep input order; a failed fetch becomes a
// Page with Err set rather than failing the batch.
func WebBrowse(ctx context.Context, urls []string, cfg Config) []Page {
	out := make([]Page, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			out[i] = fetchPage(gctx, u, cfg)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

var sanitizer = bluemonday.NewPolicy().AllowElements(
	"p", "div", "span", "a", "h1", "h2", "h3", "h4", "h5", "h6",
	"ul", "ol", "li", "strong", "em", "b", "i", "code", "pre", "blockquote", "br", "table", "tr", "td", "th",
)

func fetchPage(ctx context.Context, rawURL string, cfg Config) Page {
	timeout := 15 * time.Second
	if cfg.WebFetchTimeoutMs > 0 {
		timeout = time.Duration(cfg.WebFetchTimeoutMs) * time.Millisecond
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Page{URL: rawURL, Err: err}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Page{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Page{URL: rawURL, Err: fmt.Errorf("parse html: %w", err)}
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("script, style, noscript").Remove()
	bodyHTML, err := doc.Find("body").Html()
	if err != nil || strings.TrimSpace(bodyHTML) == "" {
		bodyHTML, _ = doc.Html()
	}

	sanitized := sanitizer.Sanitize(bodyHTML)

	converter := md.NewConverter("", true, nil)
	text, err := converter.ConvertString(sanitized)
	if err != nil {
		text = sanitized
	}

	text = collapseWhitespaceRe.ReplaceAllString(strings.TrimSpace(text), "\n\n")

	truncated := false
	if cfg.WebBrowseMaxChars > 0 && len(text) > cfg.WebBrowseMaxChars {
		text = text[:cfg.WebBrowseMaxChars]
		truncated = true
	}

	return Page{URL: rawURL, Title: title, Text: text, Truncated: truncated}
}
