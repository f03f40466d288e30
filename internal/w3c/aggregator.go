// Package w3c assembles everything known about a W3C group: the API
// resource, expanded lazily, plus data from the spec dashboard, the
// repository validator, the GitHub cache, the mailing list archives and
// the group's meeting calendar.
package w3c

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"w3cgroup/internal/hal"
	"w3cgroup/internal/ics"
	"w3cgroup/internal/lazy"
	appLog "w3cgroup/internal/log"
)

// Fetcher is the HTTP collaborator. *fetch.Fetcher satisfies it.
type Fetcher interface {
	hal.JSONFetcher
	ics.TextFetcher
}

// Config holds the locations of every data source. Empty fields take the
// defaults below.
type Config struct {
	APIBase string
	APIKey  string

	GitHubCache    string
	RepoReport     string
	DashboardBase  string
	ListStats      string
	NotifyMLConfig string
	CommonLabels   string
	// GroupCalendar is an ICS URL template; "{identifier}" is replaced by
	// the group identifier (e.g. "wg/css"). Empty disables events.
	GroupCalendar string
	// GenericCalendar parses group calendars without the W3C meeting
	// conventions.
	GenericCalendar bool

	// Concurrency bounds fan-out fetches such as horizontal review issues.
	Concurrency int
	// Now is the clock used for charter status; time.Now when nil.
	Now func() time.Time
}

const (
	DefaultGitHubCache    = "https://labs.w3.org/github-cache"
	DefaultRepoReport     = "https://w3c.github.io/validate-repos/report.json"
	DefaultDashboardBase  = "https://w3c.github.io/spec-dashboard/"
	DefaultListStats      = "https://lists.w3.org/Archives/Public/00stats.json"
	DefaultNotifyMLConfig = "https://w3c.github.io/github-notify-ml-config/mls.json"
	DefaultCommonLabels   = "https://w3c.github.io/common-labels.json"
)

func (c *Config) normalize() {
	if c.APIBase == "" {
		c.APIBase = hal.DefaultBase
	}
	if c.GitHubCache == "" {
		c.GitHubCache = DefaultGitHubCache
	}
	c.GitHubCache = strings.TrimRight(c.GitHubCache, "/")
	if c.RepoReport == "" {
		c.RepoReport = DefaultRepoReport
	}
	if c.DashboardBase == "" {
		c.DashboardBase = DefaultDashboardBase
	}
	if !strings.HasSuffix(c.DashboardBase, "/") {
		c.DashboardBase += "/"
	}
	if c.ListStats == "" {
		c.ListStats = DefaultListStats
	}
	if c.NotifyMLConfig == "" {
		c.NotifyMLConfig = DefaultNotifyMLConfig
	}
	if c.CommonLabels == "" {
		c.CommonLabels = DefaultCommonLabels
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Aggregator enriches group resources as the resolver expands them.
type Aggregator struct {
	resolver *hal.Resolver
	fetcher  Fetcher
	cfg      Config

	mu       sync.Mutex
	enhanced map[*hal.Resource]bool
}

// New builds an aggregator with its own resolver and registers the group
// enricher on it.
func New(f Fetcher, cfg Config) (*Aggregator, error) {
	cfg.normalize()
	a := &Aggregator{
		resolver: hal.NewResolver(f, hal.WithBase(cfg.APIBase), hal.WithAPIKey(cfg.APIKey)),
		fetcher:  f,
		cfg:      cfg,
		enhanced: make(map[*hal.Resource]bool),
	}
	if err := a.resolver.Register(`^{base}groups/([0-9]+|[a-z]+/[^/]+)$`, "ongroup", a.enrichGroup); err != nil {
		return nil, err
	}
	return a, nil
}

// Resolver exposes the underlying resolver.
func (a *Aggregator) Resolver() *hal.Resolver { return a.resolver }

// Group fetches one group by numeric id or by identifier ("wg/css").
func (a *Aggregator) Group(ctx context.Context, id string) (*hal.Resource, error) {
	g, err := a.resolver.FetchResource(ctx, "groups/"+strings.Trim(id, "/"))
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", id, err)
	}
	return g, nil
}

// Groups fetches every group, following pagination.
func (a *Aggregator) Groups(ctx context.Context) ([]*hal.Resource, error) {
	groups, err := a.resolver.FetchList(ctx, "groups")
	if err != nil {
		return nil, fmt.Errorf("groups: %w", err)
	}
	return groups, nil
}

// Resolve settles the named properties of res concurrently. Properties
// fail independently: the returned error joins every failure, and the
// others are resolved all the same.
func (a *Aggregator) Resolve(ctx context.Context, res *hal.Resource, keys ...string) error {
	values := make([]any, len(keys))
	for i, k := range keys {
		values[i], _ = res.Get(k)
	}

	var errs []error
	for i, s := range lazy.AllSettled(ctx, a.cfg.Concurrency, values...) {
		if s.Err != nil {
			appLog.Warn("property unavailable", "property", keys[i], "self", res.Self(), "error", s.Err.Error())
			errs = append(errs, fmt.Errorf("%s: %w", keys[i], s.Err))
		}
	}
	return errors.Join(errs...)
}

// jsonDeferred lazily fetches a JSON document outside the API.
func (a *Aggregator) jsonDeferred(url string) *lazy.Deferred[any] {
	return lazy.New(func(ctx context.Context) (any, error) {
		return a.fetcher.FetchJSON(ctx, url)
	})
}

// wrap replaces property key with fn applied to its resolved value. The
// original value is only resolved when the new one is.
func wrap(res *hal.Resource, key string, fn func(ctx context.Context, v any) (any, error)) {
	orig, ok := res.Get(key)
	if !ok {
		return
	}
	res.Set(key, lazy.New(func(ctx context.Context) (any, error) {
		v, err := lazy.Resolve(ctx, orig)
		if err != nil {
			return nil, err
		}
		return fn(ctx, v)
	}))
}

// markEnhanced reports whether res was already enhanced, marking it.
func (a *Aggregator) markEnhanced(res *hal.Resource) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enhanced[res] {
		return true
	}
	a.enhanced[res] = true
	return false
}
