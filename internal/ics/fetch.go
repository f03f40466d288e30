package ics

import (
	"context"
	"errors"
	"fmt"

	appLog "w3cgroup/internal/log"
)

// TextFetcher retrieves a calendar body. *fetch.Fetcher satisfies it.
type TextFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// Source represents a single ICS subscription source.
type Source struct {
	// ID is an internal identifier (e.g., config calendar ID).
	ID string
	// URL is the ICS endpoint.
	URL string
	// Options apply to this source only.
	Options []Option
}

// Result pairs a source with its parsed calendar.
type Result struct {
	Source   Source
	Calendar *VCalendar
}

// Load fetches url and parses it, recording the URL on the calendar.
func Load(ctx context.Context, f TextFetcher, url string, opts ...Option) (*VCalendar, error) {
	if url == "" {
		return nil, errors.New("ics: source URL is empty")
	}
	text, err := f.FetchText(ctx, url)
	if err != nil {
		return nil, err
	}
	cal, err := Parse(text, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", appLog.RedactURL(url), err)
	}
	cal.URL = url
	return cal, nil
}

// FetchAll loads every source. A failing source is logged and reported in
// the error slice; the others still produce results.
func FetchAll(ctx context.Context, f TextFetcher, sources []Source) ([]Result, []error) {
	results := make([]Result, 0, len(sources))
	errs := make([]error, 0)

	for _, src := range sources {
		cal, err := Load(ctx, f, src.URL, src.Options...)
		if err != nil {
			errs = append(errs, fmt.Errorf("calendar %s: %w", src.ID, err))
			appLog.Error("ics load failed", err, "id", src.ID, "url", appLog.RedactURL(src.URL))
			continue
		}
		appLog.Info("ics parse completed", "id", src.ID, "url", appLog.RedactURL(src.URL), "event_count", len(cal.Events))
		results = append(results, Result{Source: src, Calendar: cal})
	}

	return results, errs
}
