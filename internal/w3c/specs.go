package w3c

import (
	"context"
	"regexp"

	"w3cgroup/internal/hal"
	"w3cgroup/internal/lazy"
)

var titleSuffixes = []*regexp.Regexp{
	regexp.MustCompile(` \([^)]+\)$`),
	regexp.MustCompile(` Level \d+$`),
	regexp.MustCompile(` Module$`),
	regexp.MustCompile(` \d+(\.\d+)?$`),
	regexp.MustCompile(` Specification$`),
	regexp.MustCompile(` -$`),
}

// titleCleanup reduces a specification title to its series name:
// "CSS Grid Layout Module Level 2" becomes "CSS Grid Layout".
func titleCleanup(title string) string {
	for _, re := range titleSuffixes {
		title = re.ReplaceAllString(title, "")
	}
	return title
}

func (a *Aggregator) enrichSpecifications(g *hal.Resource) {
	wrap(g, "specifications", func(_ context.Context, v any) (any, error) {
		specs, err := hal.AsList(v)
		if err != nil {
			return nil, err
		}
		for _, spec := range specs {
			a.enhanceSpecification(g, spec)
		}
		return specs, nil
	})

	g.Set("active-specifications", lazy.New(func(ctx context.Context) (any, error) {
		specs, err := resolveList(ctx, g, "specifications")
		if err != nil {
			return nil, err
		}
		active := make([]*hal.Resource, 0, len(specs))
		for _, spec := range specs {
			status, err := spec.Resolve(ctx, "latest-status")
			if err != nil {
				return nil, err
			}
			if status != "Retired" && !spec.Has("superseded-by") {
				active = append(active, spec)
			}
		}
		return active, nil
	}))

	g.Set("series", lazy.New(func(ctx context.Context) (any, error) {
		specs, err := resolveList(ctx, g, "specifications")
		if err != nil {
			return nil, err
		}
		var series []*hal.Resource
		seen := make(map[string]bool)
		for _, spec := range specs {
			v, err := spec.Resolve(ctx, "series")
			if err != nil {
				return nil, err
			}
			s, ok := v.(*hal.Resource)
			if !ok || seen[s.String("shortname")] {
				continue
			}
			seen[s.String("shortname")] = true
			a.enhanceSeries(g, s, spec.String("shortname"))
			series = append(series, s)
		}
		return series, nil
	}))

	g.Set("active-series", lazy.New(func(ctx context.Context) (any, error) {
		series, err := resolveList(ctx, g, "series")
		if err != nil {
			return nil, err
		}
		var active []*hal.Resource
		for _, s := range series {
			v, err := s.Resolve(ctx, "current-specification")
			if err != nil {
				return nil, err
			}
			current, ok := v.(*hal.Resource)
			if !ok {
				continue
			}
			latest, err := current.Resolve(ctx, "latest-version")
			if err != nil {
				return nil, err
			}
			if lv, ok := latest.(*hal.Resource); ok && lv.String("status") != "Retired" {
				active = append(active, s)
			}
		}
		return active, nil
	}))
}

// enhanceSpecification adds status shortcuts, dashboard milestones and
// the history page to a specification. It runs once per resource.
func (a *Aggregator) enhanceSpecification(g *hal.Resource, spec *hal.Resource) {
	if a.markEnhanced(spec) {
		return
	}
	shortlink := spec.String("shortlink")

	spec.Set("milestones", lazy.New(func(ctx context.Context) (any, error) {
		dash, ok := g.Get("dashboard")
		if !ok {
			return nil, nil
		}
		d, ok := dash.(*hal.Resource)
		if !ok {
			return nil, nil
		}
		v, err := d.Resolve(ctx, "milestones")
		if err != nil {
			return nil, err
		}
		all, _ := v.(map[string]any)
		if m, ok := all[shortlink].(map[string]any); ok && len(m) > 0 {
			return m, nil
		}
		return nil, nil
	}))
	spec.Set("latest-status", latestField(spec, "status"))
	spec.Set("rec-track", latestField(spec, "rec-track"))
	spec.Set("history", "https://www.w3.org/standards/history/"+spec.String("shortname"))
	if spec.String("series-version") == "" {
		spec.Set("series-version", "unknown")
	}
}

func (a *Aggregator) enhanceSeries(g, series *hal.Resource, specShortname string) {
	if a.markEnhanced(series) {
		return
	}
	series.Set("title", lazy.New(func(ctx context.Context) (any, error) {
		v, err := series.Resolve(ctx, "current-specification")
		if err != nil {
			return nil, err
		}
		current, ok := v.(*hal.Resource)
		if !ok {
			return "", nil
		}
		return titleCleanup(current.String("title")), nil
	}))
	series.Set("wpt-fyi", "https://wpt.fyi/results/"+specShortname)

	wrap(series, "specifications", func(_ context.Context, v any) (any, error) {
		specs, err := hal.AsList(v)
		if err != nil {
			return nil, err
		}
		for _, spec := range specs {
			a.enhanceSpecification(g, spec)
		}
		return specs, nil
	})
	wrap(series, "current-specification", func(_ context.Context, v any) (any, error) {
		if spec, ok := v.(*hal.Resource); ok {
			a.enhanceSpecification(g, spec)
		}
		return v, nil
	})
}

// latestField reads a field of the specification's latest version.
func latestField(spec *hal.Resource, field string) *lazy.Deferred[any] {
	return lazy.New(func(ctx context.Context) (any, error) {
		v, err := spec.Resolve(ctx, "latest-version")
		if err != nil {
			return nil, err
		}
		latest, ok := v.(*hal.Resource)
		if !ok {
			return nil, nil
		}
		f, _ := latest.Get(field)
		return f, nil
	})
}

func resolveList(ctx context.Context, res *hal.Resource, key string) ([]*hal.Resource, error) {
	v, err := res.Resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	return hal.AsList(v)
}
