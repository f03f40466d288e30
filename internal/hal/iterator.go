package hal

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"

	appLog "w3cgroup/internal/log"
)

// Done is returned by Iterator.Next once the collection is exhausted.
var Done = errors.New("hal: no more items")

// JSONFetcher retrieves a decoded JSON document. *fetch.Fetcher satisfies it.
type JSONFetcher interface {
	FetchJSON(ctx context.Context, url string) (any, error)
}

// Options tune an Iterator.
type Options struct {
	// Embed asks the API to embed items (embed=1) and reads them from
	// _embedded[relation]. Without it items are the link objects found
	// under _links[relation].
	Embed bool
	// Adapter, if set, transforms every item before it is returned.
	Adapter func(item any) any
}

// Iterator walks a paginated HAL collection one page at a time. Pages are
// fetched on demand. An Iterator cannot be rewound; build a new one.
type Iterator struct {
	fetcher  JSONFetcher
	relation string
	opts     Options

	next  string         // URL of the next page, "" when none
	first map[string]any // source document given in place of a URL
	page  []any
	err   error
}

// NewIterator returns an iterator over relation. source is either the URL
// of the first page or an already decoded first page.
func NewIterator(f JSONFetcher, source any, relation string, opts Options) *Iterator {
	it := &Iterator{fetcher: f, relation: relation, opts: opts}
	switch s := source.(type) {
	case string:
		it.next = s
	case map[string]any:
		it.first = s
	case *Resource:
		it.first = s.Raw()
	default:
		it.err = fmt.Errorf("hal: unsupported iterator source %T", source)
	}
	return it
}

// Next returns the next item. It returns Done at the end of the collection
// and, after a fetch error, that error on every later call.
func (it *Iterator) Next(ctx context.Context) (any, error) {
	for len(it.page) == 0 {
		if it.err != nil {
			return nil, it.err
		}
		if err := it.load(ctx); err != nil {
			it.err = err
			return nil, err
		}
	}
	item := it.page[0]
	it.page = it.page[1:]
	if it.opts.Adapter != nil {
		item = it.opts.Adapter(item)
	}
	return item, nil
}

// All adapts the iterator to a range-over-func sequence. Iteration stops
// after the first error is yielded.
func (it *Iterator) All(ctx context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for {
			item, err := it.Next(ctx)
			if errors.Is(err, Done) {
				return
			}
			if !yield(item, err) || err != nil {
				return
			}
		}
	}
}

// Collect drains the iterator.
func (it *Iterator) Collect(ctx context.Context) ([]any, error) {
	var out []any
	for item, err := range it.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}

// load fills it.page from the next page, or sets Done.
func (it *Iterator) load(ctx context.Context) error {
	var data map[string]any
	switch {
	case it.first != nil:
		data, it.first = it.first, nil
	case it.next != "":
		u, err := it.pageURL(it.next)
		if err != nil {
			return err
		}
		it.next = ""
		appLog.Debug("hal page fetch", "url", appLog.RedactURL(u), "relation", it.relation)
		v, err := it.fetcher.FetchJSON(ctx, u)
		if err != nil {
			return err
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("hal: %s: expected an object, got %T", appLog.RedactURL(u), v)
		}
		data = obj
	default:
		return Done
	}

	it.page = it.items(data)
	it.next = nextPage(data)
	return nil
}

func (it *Iterator) pageURL(raw string) (string, error) {
	if !it.opts.Embed {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("hal: bad page URL: %w", err)
	}
	q := u.Query()
	q.Set("embed", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (it *Iterator) items(data map[string]any) []any {
	var container map[string]any
	if it.opts.Embed {
		container, _ = data["_embedded"].(map[string]any)
	} else {
		container, _ = data["_links"].(map[string]any)
	}
	switch v := container[it.relation].(type) {
	case []any:
		return append([]any(nil), v...)
	case map[string]any:
		return []any{v}
	}
	return nil
}

// nextPage returns the URL of the page after data, or "" on the last page.
func nextPage(data map[string]any) string {
	next := Href(data, "next")
	page, hasPage := data["page"].(float64)
	pages, hasPages := data["pages"].(float64)
	if hasPage && hasPages {
		if pages > 1 && page < pages {
			return next
		}
		return ""
	}
	return next
}
