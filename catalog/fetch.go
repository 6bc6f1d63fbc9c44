// Package catalog retrieves MARCXML records from a library catalog, which
// serves a record at <catalog>/<id>.marcxml.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/miku/bfkit"
	"github.com/sethgrid/pester"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultTimeout for a single request.
	DefaultTimeout = 30 * time.Second
	// recordMarker starts every valid response.
	recordMarker = "<record"
)

// ErrNotFound signals that the catalog has no record for an id.
var ErrNotFound = errors.New("no record found")

// Fetcher returns raw MARCXML for a record id.
type Fetcher interface {
	Fetch(ctx context.Context, id string) (string, error)
}

// Doer abstracts https://pkg.go.dev/net/http#Client.Do.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// HTTPFetcher fetches records over HTTP.
type HTTPFetcher struct {
	Client    Doer
	BaseURL   string
	UserAgent string
}

// NewHTTPFetcher returns a fetcher using a retrying client.
func NewHTTPFetcher(baseURL string, maxRetries int, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := pester.New()
	client.Backoff = pester.ExponentialBackoff
	client.MaxRetries = maxRetries
	client.RetryOnHTTP429 = true
	client.Timeout = timeout
	return &HTTPFetcher{
		Client:    client,
		BaseURL:   baseURL,
		UserAgent: fmt.Sprintf("%s/%s", bfkit.AppName, bfkit.Version),
	}
}

// URL returns the location of the MARCXML for a record id.
func (f *HTTPFetcher) URL(id string) string {
	return fmt.Sprintf("%s/%s.marcxml", strings.TrimRight(f.BaseURL, "/"), url.PathEscape(id))
}

// Fetch retrieves the record. Any response that does not start with a record
// element is reported as ErrNotFound, regardless of the HTTP status.
func (f *HTTPFetcher) Fetch(ctx context.Context, id string) (string, error) {
	link := f.URL(id)
	log.Debugf("catalog: fetching %s", link)
	req, err := http.NewRequestWithContext(ctx, "GET", link, nil)
	if err != nil {
		return "", err
	}
	if f.UserAgent != "" {
		req.Header.Add("User-Agent", f.UserAgent)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("catalog: %s: %w", link, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("catalog: %s: %w", link, err)
	}
	if !IsRecord(b) {
		return "", fmt.Errorf("%w: %s (HTTP %d%s)", ErrNotFound, id, resp.StatusCode, describe(b))
	}
	return string(b), nil
}

// IsRecord reports whether a response body starts with a MARCXML record
// element; leading whitespace is ignored.
func IsRecord(b []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(b, " \t\r\n"), []byte(recordMarker))
}

// describe returns a short hint about a non-record response, e.g. the title
// of an HTML error page.
func describe(b []byte) string {
	if len(bytes.TrimSpace(b)) == 0 {
		return ", empty response"
	}
	if !bytes.Contains(bytes.ToLower(b), []byte("<html")) {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(b))
	if err != nil {
		return ""
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return ", " + title
	}
	return ""
}
