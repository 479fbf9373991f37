// Package brave queries the Brave web search API. The analysis gateway uses
// it to find competitors and industry signal for a website.
package brave

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"mediaplan/backend/internal/config"
)

const (
	maxResponseBytes = 1 << 20
	maxErrorRunes    = 512
	maxQueryWords    = 50
	defaultCount     = 5
	maxCount         = 20
)

var ErrMissingAPIKey = errors.New("brave api key is not configured")

type APIError struct {
	StatusCode int
	Body       string
}

func (e APIError) Error() string {
	return fmt.Sprintf("brave returned %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed if repeated.
func (e APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Query is one competitor or industry lookup.
type Query struct {
	Text  string
	Count int
	// Market is an ISO 3166 country code such as "IN" or "GB". Empty means
	// worldwide.
	Market string
}

// SearchResult is one site. Host is lowercased without a leading "www.".
type SearchResult struct {
	URL     string
	Host    string
	Title   string
	Snippet string
}

type Client struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a client throttled to cfg.SearchRatePerSec requests per
// second. A non-positive rate disables throttling.
func NewClient(cfg config.Config, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.SearchRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SearchRatePerSec), 1)
	}
	return Client{
		apiKey:     strings.TrimSpace(cfg.BraveAPIKey),
		endpoint:   strings.TrimRight(strings.TrimSpace(cfg.BraveBaseURL), "/") + "/web/search",
		httpClient: httpClient,
		limiter:    limiter,
	}
}

func (c Client) Configured() bool {
	return c.apiKey != ""
}

// Search returns up to q.Count results, at most one per site.
func (c Client) Search(ctx context.Context, q Query) ([]SearchResult, error) {
	ctx, span := otel.Tracer("brave/Client").Start(ctx, "Search")
	defer span.End()

	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	text := strings.Join(firstWords(q.Text, maxQueryWords), " ")
	if text == "" {
		return nil, nil
	}
	count := q.Count
	switch {
	case count <= 0:
		count = defaultCount
	case count > maxCount:
		count = maxCount
	}
	market := strings.ToUpper(strings.TrimSpace(q.Market))
	span.SetAttributes(
		attribute.String("brave.query", text),
		attribute.Int("brave.count", count),
		attribute.String("brave.market", market),
	)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for brave rate limit: %w", err)
	}

	params := url.Values{}
	params.Set("q", text)
	params.Set("count", strconv.Itoa(count))
	params.Set("spellcheck", "0")
	params.Set("text_decorations", "0")
	params.Set("result_filter", "web")
	if market != "" {
		params.Set("country", market)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build brave request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("request brave: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read brave response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := APIError{StatusCode: resp.StatusCode, Body: errorSummary(body)}
		span.RecordError(apiErr)
		return nil, apiErr
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("decode brave response: invalid json")
	}

	items := gjson.GetBytes(body, "web.results")
	if !items.IsArray() || len(items.Array()) == 0 {
		items = gjson.GetBytes(body, "results")
	}
	results := collectResults(items.Array(), count)
	span.SetAttributes(attribute.Int("brave.results", len(results)))
	return results, nil
}

func collectResults(items []gjson.Result, count int) []SearchResult {
	results := make([]SearchResult, 0, min(len(items), count))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		rawURL := strings.TrimSpace(item.Get("url").String())
		host := siteHost(rawURL)
		if host == "" {
			continue
		}
		if _, dup := seen[host]; dup {
			continue
		}
		seen[host] = struct{}{}

		title := strings.TrimSpace(item.Get("title").String())
		if title == "" {
			title = rawURL
		}
		snippet := ""
		for _, path := range []string{"description", "snippet", "extra_snippets.0"} {
			if value := strings.TrimSpace(item.Get(path).String()); value != "" {
				snippet = value
				break
			}
		}

		results = append(results, SearchResult{URL: rawURL, Host: host, Title: title, Snippet: snippet})
		if len(results) >= count {
			break
		}
	}
	return results
}

func siteHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
}

// errorSummary prefers the API's own message over the raw body.
func errorSummary(body []byte) string {
	for _, path := range []string{"error.detail", "error.message", "message", "error"} {
		if value := gjson.GetBytes(body, path); value.Type == gjson.String && value.String() != "" {
			return value.String()
		}
	}
	summary := []rune(strings.TrimSpace(string(body)))
	if len(summary) > maxErrorRunes {
		summary = summary[:maxErrorRunes]
	}
	return string(summary)
}

func firstWords(input string, limit int) []string {
	words := strings.Fields(input)
	if len(words) > limit {
		words = words[:limit]
	}
	return words
}
