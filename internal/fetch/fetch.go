// Package fetch implements the two HTTP collaborators the calendar parser
// and the HAL resolver consume: FetchText and FetchJSON.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"w3cgroup/internal/lazy"
	appLog "w3cgroup/internal/log"
)

// Error is returned when a response is not 2xx, the transport fails, or the
// body cannot be decoded.
type Error struct {
	Status     int
	StatusText string
	URL        string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("GET %s: %d %s: %v", e.URL, e.Status, e.StatusText, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("GET %s: %d %s", e.URL, e.Status, e.StatusText)
	default:
		return fmt.Sprintf("GET %s: %v", e.URL, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

var (
	// ErrEmptyBody is wrapped when a JSON endpoint answers with no content.
	ErrEmptyBody = errors.New("empty body")
	// ErrNotModifiedNoCache is wrapped on a 304 for a URL we hold no body for.
	ErrNotModifiedNoCache = errors.New("304 Not Modified but no cached body available")
)

// cacheEntry holds HTTP cache metadata for a single URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher retrieves text with HTTP caching (ETag / Last-Modified, disk
// backed) and JSON with an in-memory per-URL memo.
//
// The JSON memo belongs to the Fetcher: two Fetchers never share entries.
type Fetcher struct {
	client   *http.Client
	cacheDir string

	mu   sync.Mutex
	json map[string]*lazy.Deferred[any]
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient replaces the default HTTP client (15s timeout).
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithCacheDir enables the disk cache for FetchText under dir.
func WithCacheDir(dir string) Option {
	return func(f *Fetcher) { f.cacheDir = dir }
}

// New creates a Fetcher. Without WithCacheDir, FetchText does not cache.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		json: make(map[string]*lazy.Deferred[any]),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchJSON fetches url and decodes it as JSON. Successful results are
// memoized per URL for the lifetime of the Fetcher, or until Forget or
// Reset; concurrent callers for the same URL share one request. A failure
// is handed to every caller waiting on that request and then dropped, so
// the next call retries.
func (f *Fetcher) FetchJSON(ctx context.Context, url string) (any, error) {
	f.mu.Lock()
	d, ok := f.json[url]
	if !ok {
		d = lazy.New(func(ctx context.Context) (any, error) {
			return f.getJSON(ctx, url)
		})
		f.json[url] = d
	}
	f.mu.Unlock()

	v, err := d.Get(ctx)
	if err != nil && d.State() == lazy.Rejected {
		f.mu.Lock()
		if f.json[url] == d {
			delete(f.json, url)
		}
		f.mu.Unlock()
	}
	return v, err
}

// Forget drops the memoized JSON for url so the next FetchJSON refetches.
func (f *Fetcher) Forget(url string) {
	f.mu.Lock()
	delete(f.json, url)
	f.mu.Unlock()
}

// Reset drops every memoized JSON document.
func (f *Fetcher) Reset() {
	f.mu.Lock()
	n := len(f.json)
	f.json = make(map[string]*lazy.Deferred[any])
	f.mu.Unlock()
	appLog.Debug("json memo reset", "dropped", n)
}

func (f *Fetcher) getJSON(ctx context.Context, url string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	appLog.Debug("json fetch start", "url", appLog.RedactURL(url))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Status: resp.StatusCode, StatusText: http.StatusText(resp.StatusCode), URL: url}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Status: resp.StatusCode, URL: url, Err: err}
	}
	if len(body) == 0 {
		return nil, &Error{Status: resp.StatusCode, StatusText: http.StatusText(resp.StatusCode), URL: url, Err: ErrEmptyBody}
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, &Error{Status: resp.StatusCode, StatusText: http.StatusText(resp.StatusCode), URL: url, Err: fmt.Errorf("JSON syntax error: %w", err)}
	}
	return v, nil
}

// FetchText fetches url as text, honoring ETag and Last-Modified when a
// cache directory is configured. On network errors or non-2xx answers a
// previously cached body is served instead, if one exists.
func (f *Fetcher) FetchText(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", &Error{Err: errors.New("source URL is empty")}
	}

	var (
		cachePath  string
		meta       cacheEntry
		cachedBody []byte
	)
	if f.cacheDir != "" {
		cachePath = f.cachePathForURL(url)
		if err := os.MkdirAll(cachePath, 0o700); err != nil {
			return "", err
		}
		meta, _ = f.loadCacheMeta(cachePath)
		cachedBody, _ = f.loadCacheBody(cachePath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &Error{URL: url, Err: err}
	}

	// Conditional headers from cache metadata.
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	appLog.Info("text fetch start", "url", appLog.RedactURL(url))

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Error("text fetch network error, using cached body", err, "url", appLog.RedactURL(url))
			return string(cachedBody), nil
		}
		return "", &Error{URL: url, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return "", &Error{Status: resp.StatusCode, URL: url, Err: readErr}
		}

		if cachePath != "" {
			newMeta := cacheEntry{
				URL:          url,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := f.saveCache(cachePath, newMeta, body); err != nil {
				// Log but still return the freshly fetched body.
				appLog.Error("text cache save failed", err, "url", appLog.RedactURL(url))
			}
		}

		appLog.Info("text fetch success", "url", appLog.RedactURL(url), "status", resp.StatusCode, "from_cache", false)
		return string(body), nil

	case resp.StatusCode == http.StatusNotModified:
		if len(cachedBody) == 0 {
			return "", &Error{Status: resp.StatusCode, StatusText: http.StatusText(resp.StatusCode), URL: url, Err: ErrNotModifiedNoCache}
		}
		appLog.Info("text fetch not modified; using cache", "url", appLog.RedactURL(url))
		return string(cachedBody), nil

	default:
		fe := &Error{Status: resp.StatusCode, StatusText: http.StatusText(resp.StatusCode), URL: url}
		if len(cachedBody) > 0 {
			appLog.Error("text fetch non-OK, using cached body", fe, "url", appLog.RedactURL(url), "status", resp.StatusCode)
			return string(cachedBody), nil
		}
		return "", fe
	}
}

func (f *Fetcher) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	// Use first 16 hex chars as directory name.
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}
