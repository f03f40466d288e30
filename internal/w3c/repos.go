package w3c

import (
	"context"
	"sort"
	"strings"

	"w3cgroup/internal/hal"
	appLog "w3cgroup/internal/log"
)

// reportEpoch stands in for a report without a timestamp.
const reportEpoch = "1994-10-01T00:00:00.000Z"

// repositories reads the repository validator report and returns the
// group's repositories, each with lazy GitHub data.
func (a *Aggregator) repositories(ctx context.Context, groupID string) (any, error) {
	v, err := a.fetcher.FetchJSON(ctx, a.cfg.RepoReport)
	if err != nil {
		return nil, err
	}
	report, _ := v.(map[string]any)
	groups, ok := report["groups"].(map[string]any)
	if !ok {
		appLog.Warn("repository report has no groups", "url", a.cfg.RepoReport)
		return []*hal.Resource{}, nil
	}
	groupReport, _ := groups[groupID].(map[string]any)
	if groupReport == nil {
		return []*hal.Resource{}, nil
	}

	timestamp, _ := report["timestamp"].(string)
	if timestamp == "" {
		timestamp = reportEpoch
	}
	known, _ := report["repos"].([]any)

	listed, _ := groupReport["repos"].([]any)
	repos := make([]*hal.Resource, 0, len(listed))
	for _, item := range listed {
		entry, _ := item.(map[string]any)
		fullName, _ := entry["fullName"].(string)
		name, _ := entry["name"].(string)
		owner, _, _ := strings.Cut(fullName, "/")

		repo := hal.NewResource(findRepo(known, owner, name, entry))
		repo.Set("fullName", fullName)
		repo.Set("retrievedAt", timestamp)
		if w3c, ok := repo.Raw()["w3c"].(map[string]any); ok {
			if types := w3c["repo-type"]; types != nil {
				repo.Set("hasRecTrack", hasRepoType(types, "rec-track"))
				repo.Set("hasNote", hasRepoType(types, "note"))
			}
		}
		a.decorateRepo(repo, owner, name)
		repos = append(repos, repo)
	}

	sortRepositories(repos)
	return repos, nil
}

// findRepo returns the report's full record for owner/name, or fallback.
func findRepo(known []any, owner, name string, fallback map[string]any) map[string]any {
	for _, k := range known {
		r, _ := k.(map[string]any)
		o, _ := r["owner"].(map[string]any)
		if r["name"] == name && o["login"] == owner {
			return r
		}
	}
	return fallback
}

func hasRepoType(types any, want string) bool {
	switch t := types.(type) {
	case string:
		return strings.Contains(t, want)
	case []any:
		for _, v := range t {
			if v == want {
				return true
			}
		}
	}
	return false
}

func (a *Aggregator) decorateRepo(repo *hal.Resource, owner, name string) {
	base := a.cfg.GitHubCache + "/v3/repos/" + owner + "/" + name
	repo.Set("issues", a.jsonDeferred(base+"/issues?state=all"))
	repo.Set("commits", a.jsonDeferred(base+"/commits"))
	repo.Set("open_issues", a.jsonDeferred(base+"/issues"))
	repo.Set("milestones", a.jsonDeferred(base+"/milestones"))
	repo.Set("hooks", a.jsonDeferred(base+"/hooks"))
}

// sortRepositories orders rec-track repositories first, then notes, then
// by name.
func sortRepositories(repos []*hal.Resource) {
	key := func(r *hal.Resource) string {
		k := "Z"
		if r.Bool("hasRecTrack") {
			k = "A"
		}
		if r.Bool("hasNote") {
			k += "A"
		} else {
			k += "Z"
		}
		return strings.ToLower(k + r.String("name"))
	}
	sort.SliceStable(repos, func(i, j int) bool { return key(repos[i]) < key(repos[j]) })
}
