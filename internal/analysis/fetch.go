package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	defaultFetchRedirects = 3
	defaultFetchTimeout   = 10 * time.Second
	defaultFetchMaxBytes  = int64(2 << 20)
	defaultMaxTextRunes   = 16_000
	fetchUserAgent        = "mediaplan-analyzer/1.0"
)

type Page struct {
	URL         string
	FinalURL    string
	ContentType string
	Title       string
	Text        string
	Truncated   bool
}

// StatusError is a non-2xx answer from the analysed site.
type StatusError struct {
	StatusCode int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("site returned status %d", e.StatusCode)
}

func (e StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

type FetcherConfig struct {
	RequestTimeout time.Duration
	MaxBytes       int64
	MaxRedirects   int
	MaxTextRunes   int
}

// HTTPFetcher downloads a homepage and extracts its text. Only public
// http(s) hosts are reachable, including across redirects.
type HTTPFetcher struct {
	cfg        FetcherConfig
	httpClient *http.Client
}

// NewHTTPFetcher builds a fetcher. A nil httpClient gets a transport that
// refuses to dial private addresses.
func NewHTTPFetcher(cfg FetcherConfig, httpClient *http.Client) *HTTPFetcher {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultFetchTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultFetchMaxBytes
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultFetchRedirects
	}
	if cfg.MaxTextRunes <= 0 {
		cfg.MaxTextRunes = defaultMaxTextRunes
	}

	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = guardedDialer(&net.Dialer{Timeout: cfg.RequestTimeout})
		httpClient = &http.Client{Transport: transport}
	}
	httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= cfg.MaxRedirects {
			return errors.New("too many redirects")
		}
		_, err := checkSiteURL(req.URL.String())
		return err
	}

	return &HTTPFetcher{cfg: cfg, httpClient: httpClient}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	parsed, err := checkSiteURL(rawURL)
	if err != nil {
		return Page{URL: rawURL}, err
	}

	requestCtx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return Page{URL: parsed.String()}, err
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,application/pdf;q=0.8,*/*;q=0.2")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Page{URL: parsed.String()}, err
	}
	defer resp.Body.Close()

	page := Page{URL: parsed.String(), FinalURL: parsed.String()}
	if resp.Request != nil && resp.Request.URL != nil {
		page.FinalURL = resp.Request.URL.String()
	}

	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if parsedType, _, parseErr := mime.ParseMediaType(contentType); parseErr == nil {
		contentType = parsedType
	}
	if contentType == "" {
		contentType = "text/html"
	}
	page.ContentType = contentType

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusBadRequest {
		return page, StatusError{StatusCode: resp.StatusCode}
	}

	payload, truncated, err := readBoundedBody(resp.Body, f.cfg.MaxBytes)
	if err != nil {
		return page, err
	}
	page.Truncated = truncated

	title, text, err := ExtractText(contentType, payload, f.cfg.MaxTextRunes)
	if err != nil {
		return page, err
	}
	page.Title = title
	page.Text = text
	return page, nil
}

func readBoundedBody(r io.Reader, maxBytes int64) ([]byte, bool, error) {
	payload, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(payload)) > maxBytes {
		return payload[:maxBytes], true, nil
	}
	return payload, false, nil
}
