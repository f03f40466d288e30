package w3c

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"w3cgroup/internal/hal"
	"w3cgroup/internal/ics"
	"w3cgroup/internal/lazy"
	appLog "w3cgroup/internal/log"
)

var (
	shortTypePattern  = regexp.MustCompile(`^([a-z]+)`)
	githubTeamPattern = regexp.MustCompile(`^https://github.com/orgs/[-A-Za-z0-9]+/teams/([-A-Za-z0-9]+)`)
)

const listArchives = "https://lists.w3.org/Archives/Public/"

// rejoinWindow is how long after a charter starts participants have to
// rejoin the group.
const rejoinWindow = 45 * 24 * time.Hour

var groupTypes = map[string]string{
	"working group":   "wg",
	"interest group":  "ig",
	"community group": "cg",
	"business group":  "bg",
}

func (a *Aggregator) enrichGroup(g *hal.Resource) {
	groupID := strconv.FormatInt(g.Number("id"), 10)

	identifier := strings.TrimPrefix(g.Self(), a.resolver.Base()+"groups/")
	shortType := ""
	if m := shortTypePattern.FindStringSubmatch(identifier); m != nil {
		shortType = m[1]
	} else if t, ok := groupTypes[strings.ToLower(g.String("type"))]; ok {
		shortType = t
	} else {
		shortType = "other"
	}

	g.Set("identifier", identifier)
	g.Set("short-type", shortType)
	g.Set("default-homepage", "https://www.w3.org/groups/"+identifier)
	g.Set("details", fmt.Sprintf("https://www.w3.org/admin/%s/%s/show", shortType, groupID))

	dashboard := hal.NewResource(map[string]any{
		"href": "https://w3c.github.io/spec-dashboard/?" + groupID,
	})
	dashboard.Set("repositories", a.jsonDeferred(a.cfg.DashboardBase+"pergroup/"+groupID+"-repo.json"))
	dashboard.Set("milestones", a.jsonDeferred(a.cfg.DashboardBase+"pergroup/"+groupID+"-milestones.json"))
	g.Set("dashboard", dashboard)

	wrap(g, "participations", func(_ context.Context, v any) (any, error) {
		participants, err := hal.AsList(v)
		if err != nil {
			return nil, err
		}
		for _, p := range participants {
			if p.Bool("individual") {
				p.Set("title", p.String("user-title"))
			} else {
				p.Set("title", p.String("organization-title"))
			}
		}
		sortParticipants(participants)
		return participants, nil
	})

	wrap(g, "active-charter", func(_ context.Context, v any) (any, error) {
		charter, ok := v.(*hal.Resource)
		if !ok {
			return v, nil
		}
		a.charterStatus(charter)
		return charter, nil
	})

	g.Set("mailing-lists", a.mailingLists(groupID))

	if shortType == "wg" || shortType == "ig" || shortType == "other" {
		label := strings.ReplaceAll(identifier, "/", ":")
		g.Set("transitions", a.jsonDeferred(a.cfg.GitHubCache+"/v3/repos/w3c/transitions/issues?state=open&labels="+url.QueryEscape(label)))
		g.Set("onboarding", "https://github.com/w3c/onboarding/blob/master/template/"+identifier)
		g.Set("strategy", a.jsonDeferred(a.cfg.GitHubCache+"/v3/repos/w3c/strategy/issues?state=open&search="+url.QueryEscape("["+identifier+"]")))
		g.Set("past-transitions", "https://github.com/w3c/transitions/issues?q=is%3Aissue+label%3A"+label+"+is%3Aclosed")
		g.Set("horizontal-issues", a.horizontalIssues(label))
	}

	wrap(g, "services", func(_ context.Context, v any) (any, error) {
		services, err := hal.AsList(v)
		if err != nil {
			return nil, err
		}
		for _, s := range services {
			a.classifyService(s)
		}
		return services, nil
	})

	g.Set("events", lazy.New(func(ctx context.Context) (any, error) {
		return a.events(ctx, identifier)
	}))

	g.Set("repositories", lazy.New(func(ctx context.Context) (any, error) {
		return a.repositories(ctx, groupID)
	}))

	if g.Has("specifications") {
		a.enrichSpecifications(g)
	}

	appLog.Debug("group enriched", "identifier", identifier, "short_type", shortType)
}

func (a *Aggregator) charterStatus(charter *hal.Resource) {
	now := a.cfg.Now()
	if end, err := time.Parse(time.DateOnly, charter.String("end")); err == nil {
		charter.Set("expired", now.After(end))
	}
	if start, err := time.Parse(time.DateOnly, charter.String("start")); err == nil {
		charter.Set("rejoin", now.Before(start.Add(rejoinWindow)))
	}
}

// mailingLists lists the public archives backed by the group.
func (a *Aggregator) mailingLists(groupID string) *lazy.Deferred[any] {
	return lazy.New(func(ctx context.Context) (any, error) {
		v, err := a.fetcher.FetchJSON(ctx, a.cfg.ListStats)
		if err != nil {
			appLog.Error("mailing list stats unavailable", err, "group", groupID)
			return []map[string]any{}, nil
		}
		stats, _ := v.(map[string]any)

		lists := make([]map[string]any, 0)
		for name, entry := range stats {
			ml, ok := entry.(map[string]any)
			if !ok || jsonID(ml["dbbacked"]) != groupID {
				continue
			}
			out := make(map[string]any, len(ml)+1)
			for k, v := range ml {
				out[k] = v
			}
			out["name"] = name
			lists = append(lists, out)
		}
		sort.Slice(lists, func(i, j int) bool {
			return lists[i]["name"].(string) < lists[j]["name"].(string)
		})
		return lists, nil
	})
}

// jsonID renders a numeric identifier decoded from JSON without an exponent.
func jsonID(v any) string {
	switch id := v.(type) {
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case string:
		return id
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func (a *Aggregator) classifyService(s *hal.Resource) {
	link := s.String("link")
	switch {
	case s.String("type") == "lists":
		if !strings.HasPrefix(link, listArchives) {
			return
		}
		shortdesc := s.String("shortdesc")
		s.Set("notify", "https://github.com/w3c/github-notify-ml-config/blob/master/mls.json")
		s.Set("stats", lazy.Then(a.jsonDeferred(a.cfg.ListStats), func(_ context.Context, v any) (any, error) {
			m, _ := v.(map[string]any)
			return m[shortdesc], nil
		}))
		s.Set("notify-ml-config", lazy.Then(a.jsonDeferred(a.cfg.NotifyMLConfig), func(_ context.Context, v any) (any, error) {
			m, _ := v.(map[string]any)
			return m[shortdesc+"@w3.org"], nil
		}))
	case githubTeamPattern.MatchString(link):
		s.Set("repositories", link+"/repositories")
		s.Set("edit", link+"/members")
		s.Set("type", "github-team")
		s.Set("team", githubTeamPattern.FindStringSubmatch(link)[1])
	}
}

// HorizontalIssues are the open issues of one horizontal review repository
// labelled for the group.
type HorizontalIssues struct {
	Repo    string `json:"repo"`
	HTMLURL string `json:"html_url"`
	Issues  any    `json:"issues"`
}

func (a *Aggregator) horizontalIssues(label string) *lazy.Deferred[any] {
	return lazy.New(func(ctx context.Context) (any, error) {
		v, err := a.fetcher.FetchJSON(ctx, a.cfg.CommonLabels)
		if err != nil {
			return nil, err
		}
		labels, _ := v.([]any)

		var repos []string
		seen := make(map[string]bool)
		for _, l := range labels {
			m, _ := l.(map[string]any)
			repo, _ := m["repo"].(string)
			if repo == "" || seen[repo] {
				continue
			}
			seen[repo] = true
			repos = append(repos, repo)
		}

		issues := make([]any, len(repos))
		for i, repo := range repos {
			issues[i] = a.jsonDeferred(a.cfg.GitHubCache + "/v3/repos/" + repo + "/issues?state=open&labels=" + url.QueryEscape(label))
		}
		resolved, err := lazy.All(ctx, a.cfg.Concurrency, issues...)
		if err != nil {
			return nil, err
		}

		out := make([]HorizontalIssues, len(repos))
		for i, repo := range repos {
			out[i] = HorizontalIssues{
				Repo:    repo,
				HTMLURL: "https://github.com/" + repo + "/issues?state=open&labels=" + label,
				Issues:  resolved[i],
			}
		}
		return out, nil
	})
}

// events loads the group's meeting calendar, ordered by start.
func (a *Aggregator) events(ctx context.Context, identifier string) (any, error) {
	if a.cfg.GroupCalendar == "" {
		return []*ics.VEvent{}, nil
	}
	calURL := strings.ReplaceAll(a.cfg.GroupCalendar, "{identifier}", identifier)

	var opts []ics.Option
	if a.cfg.GenericCalendar {
		opts = append(opts, ics.WithoutMeetingConventions())
	}
	cal, err := ics.Load(ctx, a.fetcher, calURL, opts...)
	if err != nil {
		return nil, err
	}
	events := append([]*ics.VEvent(nil), cal.Events...)
	sortEvents(events)
	return events, nil
}

func sortEvents(events []*ics.VEvent) {
	start := func(ev *ics.VEvent) time.Time {
		t, err := ics.ParseResolved(ev.DTStart, time.UTC)
		if err != nil {
			return time.Time{}
		}
		return t
	}
	sort.SliceStable(events, func(i, j int) bool {
		return start(events[i]).Before(start(events[j]))
	})
}

// sortParticipants puts organizations before individuals, then orders by
// title, case-insensitively.
func sortParticipants(ps []*hal.Resource) {
	key := func(p *hal.Resource) string {
		prefix := "A"
		if p.Bool("individual") {
			prefix = "Z"
		}
		return prefix + strings.ToLower(p.String("title"))
	}
	sort.SliceStable(ps, func(i, j int) bool { return key(ps[i]) < key(ps[j]) })
}
