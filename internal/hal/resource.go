// Package hal reads W3C API resources: HAL JSON documents whose _links
// point at further resources and whose collections are paginated.
package hal

import (
	"context"
	"encoding/json"
	"maps"
	"sort"
	"sync"

	"w3cgroup/internal/lazy"
)

// Resource is a decoded HAL object. The decoded JSON is never modified in
// place; expanded links and enrichment live in a separate property table
// that shadows the raw fields of the same name. A later, fuller copy of
// the same document replaces the raw map through merge.
type Resource struct {
	mu    sync.RWMutex
	raw   map[string]any
	props map[string]any
	order []string
}

// NewResource wraps a decoded JSON object.
func NewResource(raw map[string]any) *Resource {
	if raw == nil {
		raw = map[string]any{}
	}
	return &Resource{raw: raw, props: make(map[string]any)}
}

// Raw returns the decoded JSON. Callers must not modify it.
func (r *Resource) Raw() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.raw
}

// Self returns _links.self.href, or "".
func (r *Resource) Self() string {
	return Href(r.Raw(), "self")
}

// Get returns a property, looking at the property table first and at the
// raw JSON second. The value may be a lazy.Deferred; see Resolve.
func (r *Resource) Get(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.props[key]; ok {
		return v, true
	}
	v, ok := r.raw[key]
	return v, ok
}

// String returns a property when it is a plain string.
func (r *Resource) String(key string) string {
	v, _ := r.Get(key)
	s, _ := v.(string)
	return s
}

// Number returns a numeric property as an int64, 0 if absent.
func (r *Resource) Number(key string) int64 {
	v, _ := r.Get(key)
	switch n := v.(type) {
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case int:
		return int64(n)
	case int64:
		return n
	}
	return 0
}

// Bool returns a boolean property, false if absent.
func (r *Resource) Bool(key string) bool {
	v, _ := r.Get(key)
	b, _ := v.(bool)
	return b
}

// Set stores a property in the table. It never touches the raw JSON.
func (r *Resource) Set(key string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.props[key]; !ok {
		r.order = append(r.order, key)
	}
	r.props[key] = v
}

// Has reports whether a property exists in either layer.
func (r *Resource) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// Keys lists raw field names (sorted, "_links" and "_embedded" excluded)
// followed by table-only properties in insertion order.
func (r *Resource) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.raw))
	for k := range r.raw {
		if k == "_links" || k == "_embedded" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range r.order {
		if _, inRaw := r.raw[k]; !inRaw {
			keys = append(keys, k)
		}
	}
	return keys
}

// merge overlays doc on the raw JSON, keeping fields and links doc lacks,
// and sets the link properties of the relations doc adds. Enrichers are
// not run again. Both happen
// under one lock so readers never see a link without its property.
func (r *Resource) merge(doc map[string]any, links []linkProp) {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldLinks, _ := r.raw["_links"].(map[string]any)
	newLinks, _ := doc["_links"].(map[string]any)

	merged := make(map[string]any, len(r.raw)+len(doc))
	maps.Copy(merged, r.raw)
	maps.Copy(merged, doc)
	if len(oldLinks) > 0 || len(newLinks) > 0 {
		all := make(map[string]any, len(oldLinks)+len(newLinks))
		maps.Copy(all, oldLinks)
		maps.Copy(all, newLinks)
		merged["_links"] = all
	}
	r.raw = merged

	for _, lp := range links {
		if _, known := oldLinks[lp.rel]; known {
			continue
		}
		// Enrichment already set under this name wins.
		if _, set := r.props[lp.key]; set {
			continue
		}
		r.order = append(r.order, lp.key)
		r.props[lp.key] = lp.value
	}
}

// Resolve returns the concrete value of a property, waiting for deferred
// values. A missing property resolves to nil.
func (r *Resource) Resolve(ctx context.Context, key string) (any, error) {
	v, ok := r.Get(key)
	if !ok {
		return nil, nil
	}
	return lazy.Resolve(ctx, v)
}

// settledValue is what MarshalJSON needs from a deferred property.
type settledValue interface {
	State() lazy.State
	ResolveAny(ctx context.Context) (any, error)
}

// MarshalJSON renders the raw fields merged with the property table.
// Settled deferred properties appear as their value, or as {"error": msg}
// when rejected; unsettled ones are left out.
func (r *Resource) MarshalJSON() ([]byte, error) {
	r.mu.RLock()
	out := make(map[string]any, len(r.raw)+len(r.props))
	for k, v := range r.raw {
		if k == "_embedded" {
			continue
		}
		out[k] = v
	}
	props := make(map[string]any, len(r.props))
	for k, v := range r.props {
		props[k] = v
	}
	r.mu.RUnlock()

	for k, v := range props {
		rendered, ok := snapshot(v)
		if !ok {
			delete(out, k)
			continue
		}
		out[k] = rendered
	}
	return json.Marshal(out)
}

func snapshot(v any) (any, bool) {
	d, ok := v.(settledValue)
	if !ok {
		return v, true
	}
	switch d.State() {
	case lazy.Fulfilled:
		val, _ := d.ResolveAny(context.Background())
		return snapshot(val)
	case lazy.Rejected:
		_, err := d.ResolveAny(context.Background())
		return map[string]string{"error": err.Error()}, true
	}
	return nil, false
}

// Href returns obj._links[rel].href, or "".
func Href(obj map[string]any, rel string) string {
	links, _ := obj["_links"].(map[string]any)
	link, _ := links[rel].(map[string]any)
	href, _ := link["href"].(string)
	return href
}
