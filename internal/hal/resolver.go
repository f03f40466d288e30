package hal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"

	"w3cgroup/internal/lazy"
	appLog "w3cgroup/internal/log"
)

// DefaultBase is the W3C API root.
const DefaultBase = "https://api.w3.org/"

// ErrNoAPIKey is returned by fetches when the resolver has no API key.
var ErrNoAPIKey = errors.New("hal: missing W3C API key")

// APIError is an error document returned by the API with a 2xx status.
type APIError struct {
	URL     string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hal: %s: %s", e.URL, e.Message)
}

// Enricher decorates a freshly expanded resource, typically by setting
// lazy properties. It runs once per resource identity.
type Enricher func(res *Resource)

type enricher struct {
	pattern *regexp.Regexp
	name    string
	fn      Enricher
}

// Resolver fetches API documents and expands them into Resources whose
// API links are lazy. It owns every cache involved: a deferred fetch per
// URL and an identity map from self href to Resource, so a resource
// reached through different paths is one object, enriched once. The
// identity entry settles only after links are expanded and enrichers
// have run, and every later copy of the document is merged into it.
// Failed fetches are not cached.
type Resolver struct {
	fetcher JSONFetcher
	base    string
	key     string

	mu        sync.Mutex
	cache     map[string]*lazy.Deferred[any]
	identity  map[string]*lazy.Deferred[*Resource]
	visited   map[string]bool
	enrichers []enricher
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithAPIKey sets the apikey query parameter sent with every request.
func WithAPIKey(key string) ResolverOption {
	return func(r *Resolver) { r.key = key }
}

// WithBase replaces DefaultBase.
func WithBase(base string) ResolverOption {
	return func(r *Resolver) {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		r.base = base
	}
}

// NewResolver returns a resolver with empty caches.
func NewResolver(f JSONFetcher, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		fetcher:  f,
		base:     DefaultBase,
		cache:    make(map[string]*lazy.Deferred[any]),
		identity: make(map[string]*lazy.Deferred[*Resource]),
		visited:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Base returns the API root, with a trailing slash.
func (r *Resolver) Base() string { return r.base }

// Register adds an enricher for resources whose self href matches
// pattern. The literal "{base}" in pattern stands for the quoted API root.
func (r *Resolver) Register(pattern, name string, fn Enricher) error {
	re, err := regexp.Compile(strings.ReplaceAll(pattern, "{base}", regexp.QuoteMeta(r.base)))
	if err != nil {
		return fmt.Errorf("hal: enricher %s: %w", name, err)
	}
	r.mu.Lock()
	r.enrichers = append(r.enrichers, enricher{pattern: re, name: name, fn: fn})
	r.mu.Unlock()
	return nil
}

// Deferred returns the memoized lazy fetch of path (relative to the API
// root, or absolute).
func (r *Resolver) Deferred(path string) *lazy.Deferred[any] {
	key := r.canonical(path)

	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.cache[key]
	if !ok {
		d = lazy.New(func(ctx context.Context) (any, error) {
			return r.fetch(ctx, key)
		})
		r.cache[key] = d
	}
	return d
}

// Fetch resolves path. The result is a *Resource for single documents
// and a []*Resource for collections, every page included. A failed fetch
// is dropped from the cache so the next call retries it.
func (r *Resolver) Fetch(ctx context.Context, path string) (any, error) {
	d := r.Deferred(path)
	v, err := d.Get(ctx)
	if err != nil && d.State() == lazy.Rejected {
		key := r.canonical(path)
		r.mu.Lock()
		if r.cache[key] == d {
			delete(r.cache, key)
		}
		r.mu.Unlock()
	}
	return v, err
}

// FetchResource is Fetch for paths that name a single resource.
func (r *Resolver) FetchResource(ctx context.Context, path string) (*Resource, error) {
	v, err := r.Fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	res, ok := v.(*Resource)
	if !ok {
		return nil, fmt.Errorf("hal: %s is a collection, not a resource", path)
	}
	return res, nil
}

// FetchList is Fetch for paths that name a collection. A single resource
// is returned as a one-element list.
func (r *Resolver) FetchList(ctx context.Context, path string) ([]*Resource, error) {
	v, err := r.Fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	return AsList(v)
}

// Iterator walks a collection page by page, yielding expanded Resources.
func (r *Resolver) Iterator(path, relation string) *Iterator {
	return NewIterator(r.fetcher, r.requestURL(r.canonical(path)), relation, Options{
		Embed: true,
		Adapter: func(item any) any {
			obj, ok := item.(map[string]any)
			if !ok {
				return item
			}
			// Expansion does no I/O; the context only bounds the wait.
			res, err := r.expand(context.Background(), obj)
			if err != nil {
				return item
			}
			return res
		},
	})
}

// AsList converts a Fetch result into a list of resources.
func AsList(v any) ([]*Resource, error) {
	switch t := v.(type) {
	case []*Resource:
		return t, nil
	case *Resource:
		return []*Resource{t}, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("hal: unexpected value %T", v)
}

// canonical resolves path against the API root and strips the query
// parameters the resolver adds itself.
func (r *Resolver) canonical(path string) string {
	base, err := url.Parse(r.base)
	if err != nil {
		return path
	}
	ref, err := url.Parse(path)
	if err != nil {
		return path
	}
	u := base.ResolveReference(ref)
	q := u.Query()
	q.Del("apikey")
	q.Del("embed")
	u.RawQuery = q.Encode()
	return u.String()
}

func (r *Resolver) requestURL(canonical string) string {
	u, err := url.Parse(canonical)
	if err != nil {
		return canonical
	}
	q := u.Query()
	if r.key != "" {
		q.Set("apikey", r.key)
	}
	q.Set("embed", "1")
	u.RawQuery = q.Encode()
	return u.String()
}

// fetch loads one document and expands it. Paginated collections are read
// to the end, each further page through its own memoized deferred.
func (r *Resolver) fetch(ctx context.Context, canonical string) (any, error) {
	if r.key == "" && strings.HasPrefix(canonical, r.base) {
		return nil, ErrNoAPIKey
	}
	u := r.requestURL(canonical)
	appLog.Debug("api fetch", "url", appLog.RedactURL(u))

	v, err := r.fetcher.FetchJSON(ctx, u)
	if err != nil {
		return nil, err
	}
	data, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("hal: %s: expected an object, got %T", canonical, v)
	}
	if msg, ok := data["error"]; ok {
		return nil, &APIError{URL: canonical, Message: fmt.Sprint(msg)}
	}

	embedded, hasEmbedded := data["_embedded"].(map[string]any)
	if !hasEmbedded {
		return r.expand(ctx, data)
	}

	var items []*Resource
	switch v := embedded[firstKey(embedded)].(type) {
	case []any:
		items = make([]*Resource, 0, len(v))
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			res, err := r.expand(ctx, obj)
			if err != nil {
				return nil, err
			}
			items = append(items, res)
		}
	case map[string]any:
		return r.expand(ctx, v)
	}

	if next := nextPage(data); next != "" {
		rest, err := r.Fetch(ctx, next)
		if err != nil {
			return nil, err
		}
		more, err := AsList(rest)
		if err != nil {
			return nil, err
		}
		items = append(items, more...)
	}
	return items, nil
}

// firstKey picks the relation of an _embedded object. The API sends one;
// with several the smallest name wins so the choice is stable.
func firstKey(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

// expand turns a decoded object into a Resource. An object whose self
// href is already known is merged into the existing Resource, which is
// returned once its links are expanded and its enrichers have run.
func (r *Resolver) expand(ctx context.Context, obj map[string]any) (*Resource, error) {
	self := Href(obj, "self")
	if self == "" {
		return r.build(obj), nil
	}

	r.mu.Lock()
	d, known := r.identity[self]
	if !known {
		d = lazy.New(func(context.Context) (*Resource, error) {
			return r.build(obj), nil
		})
		r.identity[self] = d
	}
	r.mu.Unlock()

	res, err := d.Get(ctx)
	if err != nil {
		if d.State() == lazy.Rejected {
			r.mu.Lock()
			if r.identity[self] == d {
				delete(r.identity, self)
			}
			r.mu.Unlock()
		}
		return nil, err
	}
	if known {
		res.merge(obj, r.linkProps(obj))
	}
	return res, nil
}

func (r *Resolver) build(obj map[string]any) *Resource {
	res := NewResource(obj)
	for _, lp := range r.linkProps(obj) {
		res.Set(lp.key, lp.value)
	}
	r.enrich(res)
	return res
}

// linkProp is one property derived from a link relation.
type linkProp struct {
	rel   string
	key   string
	value any
}

// linkProps derives the properties of every non-self link of obj, in
// relation order.
func (r *Resolver) linkProps(obj map[string]any) []linkProp {
	links, _ := obj["_links"].(map[string]any)
	rels := make([]string, 0, len(links))
	for rel := range links {
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	var out []linkProp
	for _, rel := range rels {
		if rel == "self" {
			continue
		}
		switch link := links[rel].(type) {
		case map[string]any:
			out = append(out, r.singleLink(rel, link)...)
		case []any:
			var hrefs []string
			for _, el := range link {
				obj, ok := el.(map[string]any)
				if !ok {
					continue
				}
				if href, ok := obj["href"].(string); ok {
					hrefs = append(hrefs, href)
				}
			}
			out = append(out, linkProp{rel: rel, key: rel + "-hrefs", value: hrefs})
			if len(hrefs) > 0 {
				out = append(out, linkProp{rel: rel, key: rel, value: r.linkValue(hrefs[0])})
			}
		}
	}
	return out
}

func (r *Resolver) singleLink(rel string, link map[string]any) []linkProp {
	keys := make([]string, 0, len(link))
	for k := range link {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []linkProp
	for _, k := range keys {
		v := link[k]
		if k != "href" {
			out = append(out, linkProp{rel: rel, key: rel + "-" + k, value: v})
			continue
		}
		href, ok := v.(string)
		if !ok {
			continue
		}
		out = append(out, linkProp{rel: rel, key: rel, value: r.linkValue(href)})
	}
	return out
}

// linkValue is a lazy fetch for hrefs under the API root and the href
// itself for anything else.
func (r *Resolver) linkValue(href string) any {
	if strings.HasPrefix(href, r.base) {
		return r.Deferred(href)
	}
	return href
}

func (r *Resolver) enrich(res *Resource) {
	self := res.Self()
	if self == "" {
		return
	}

	r.mu.Lock()
	var run []enricher
	for _, e := range r.enrichers {
		key := e.name + " " + self
		if r.visited[key] || !e.pattern.MatchString(self) {
			continue
		}
		r.visited[key] = true
		run = append(run, e)
	}
	r.mu.Unlock()

	for _, e := range run {
		appLog.Debug("enrich", "enricher", e.name, "self", self)
		e.fn(res)
	}
}
