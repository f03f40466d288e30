package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"w3cgroup/internal/config"
	"w3cgroup/internal/w3c"
)

const apiBase = "https://api.test/"

// stubFetcher serves documents by URL, ignoring the query string.
type stubFetcher struct {
	text map[string]string
	json map[string]string
}

var errNotFound = errors.New("not found")

func key(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	return u.String()
}

func (f *stubFetcher) FetchText(_ context.Context, u string) (string, error) {
	body, ok := f.text[key(u)]
	if !ok {
		return "", errNotFound
	}
	return body, nil
}

func (f *stubFetcher) FetchJSON(_ context.Context, u string) (any, error) {
	body, ok := f.json[key(u)]
	if !ok {
		return nil, errNotFound
	}
	var v any
	err := json.Unmarshal([]byte(body), &v)
	return v, err
}

var teamCalendar = strings.Join([]string{
	"BEGIN:VCALENDAR",
	"VERSION:2.0",
	"PRODID:-//Example//Team//EN",
	"BEGIN:VEVENT",
	"UID:standup",
	"SUMMARY:Standup",
	"DTSTART:20261020T150000Z",
	"DTEND:20261020T153000Z",
	"DTSTAMP:20261001T000000Z",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:retro",
	"SUMMARY:Retro",
	"DTSTART:20261019T150000Z",
	"DTEND:20261019T160000Z",
	"DTSTAMP:20261001T000000Z",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:last-year",
	"SUMMARY:Old",
	"DTSTART:20251019T150000Z",
	"DTEND:20251019T160000Z",
	"DTSTAMP:20251001T000000Z",
	"END:VEVENT",
	"END:VCALENDAR",
}, "\r\n") + "\r\n"

func newTestServer(t *testing.T, withGroups bool) *Server {
	t.Helper()
	f := &stubFetcher{
		text: map[string]string{
			"https://cal.test/team.ics": teamCalendar,
		},
		json: map[string]string{
			apiBase + "groups/wg/css": `{"id": 32061, "name": "CSS Working Group",
				"_links": {"self": {"href": "` + apiBase + `groups/wg/css"},
					"chairs": {"href": "` + apiBase + `groups/wg/css/chairs"}}}`,
		},
	}

	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.HorizonDays = 7
	cfg.Calendars = []config.CalendarConfig{
		{ID: "team", URL: "https://cal.test/team.ics", Generic: true},
		{ID: "gone", URL: "https://cal.test/gone.ics", Generic: true},
	}
	cfg.Groups = []string{"wg/css", "wg/missing"}
	cfg.Normalize()

	var agg *w3c.Aggregator
	if withGroups {
		var err error
		agg, err = w3c.New(f, w3c.Config{APIBase: apiBase, APIKey: "k"})
		if err != nil {
			t.Fatalf("w3c.New: %v", err)
		}
	}
	s := NewServer(cfg, f, agg)
	s.now = func() time.Time { return time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC) }
	return s
}

func get(t *testing.T, h http.Handler, target string, out any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s: decode: %v", target, err)
		}
	}
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestServer(t, false).Handler(), "/health", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestEvents(t *testing.T) {
	s := newTestServer(t, false)

	var resp EventsResponse
	rec := get(t, s.Handler(), "/api/events", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(resp.Occurrences) != 2 {
		t.Fatalf("got %d occurrences, want 2", len(resp.Occurrences))
	}
	if resp.Occurrences[0].UID != "retro" || resp.Occurrences[1].UID != "standup" {
		t.Errorf("order = %s, %s", resp.Occurrences[0].UID, resp.Occurrences[1].UID)
	}
	if len(resp.FailedSources) != 1 || resp.FailedSources[0] != "gone" {
		t.Errorf("failed sources = %v", resp.FailedSources)
	}
	if resp.DisplayTimeZone != "UTC" {
		t.Errorf("timezone = %s", resp.DisplayTimeZone)
	}

	var short EventsResponse
	get(t, s.Handler(), "/api/events?days=2", &short)
	if len(short.Occurrences) != 0 {
		t.Errorf("days=2: got %d occurrences", len(short.Occurrences))
	}
}

func TestCalendar(t *testing.T) {
	h := newTestServer(t, false).Handler()

	var resp struct {
		Calendar struct {
			Events []struct {
				UID string `json:"uid"`
			} `json:"events"`
		} `json:"calendar"`
		Lint []string `json:"lint"`
	}
	rec := get(t, h, "/api/calendar?id=team&lint=1", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(resp.Calendar.Events) != 3 || resp.Calendar.Events[0].UID != "standup" {
		t.Errorf("events = %+v", resp.Calendar.Events)
	}
	if len(resp.Lint) != 0 {
		t.Errorf("lint = %v", resp.Lint)
	}

	if rec := get(t, h, "/api/calendar?id=nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown calendar status = %d", rec.Code)
	}
	if rec := get(t, h, "/api/calendar?id=gone", nil); rec.Code != http.StatusBadGateway {
		t.Errorf("unreachable calendar status = %d", rec.Code)
	}
}

func TestGroup(t *testing.T) {
	h := newTestServer(t, true).Handler()

	var doc map[string]any
	rec := get(t, h, "/api/groups/wg/css?resolve=identifier,chairs", &doc)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if doc["identifier"] != "wg/css" || doc["short-type"] != "wg" {
		t.Errorf("identifier = %v, short-type = %v", doc["identifier"], doc["short-type"])
	}
	chairs, _ := doc["chairs"].(map[string]any)
	if _, ok := chairs["error"]; !ok {
		t.Errorf("chairs = %v", doc["chairs"])
	}

	if rec := get(t, h, "/api/groups/wg/missing", nil); rec.Code != http.StatusBadGateway {
		t.Errorf("missing group status = %d", rec.Code)
	}

	var list []map[string]any
	get(t, h, "/api/groups", &list)
	if len(list) != 2 || list[0]["identifier"] != "wg/css" || list[1]["error"] == nil {
		t.Errorf("groups = %v", list)
	}
}

func TestSetGroupsSwapsAggregator(t *testing.T) {
	s := newTestServer(t, false)
	h := s.Handler()
	if rec := get(t, h, "/api/groups/wg/css", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status before SetGroups = %d", rec.Code)
	}

	fresh := &stubFetcher{json: map[string]string{
		apiBase + "groups/wg/css": `{"id": 32061, "name": "Cascading Style Sheets WG",
			"_links": {"self": {"href": "` + apiBase + `groups/wg/css"}}}`,
	}}
	agg, err := w3c.New(fresh, w3c.Config{APIBase: apiBase, APIKey: "k"})
	if err != nil {
		t.Fatalf("w3c.New: %v", err)
	}
	s.SetGroups(agg)

	var doc map[string]any
	if rec := get(t, h, "/api/groups/wg/css", &doc); rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if doc["name"] != "Cascading Style Sheets WG" {
		t.Errorf("name = %v", doc["name"])
	}
}

func TestGroupWithoutResolver(t *testing.T) {
	rec := get(t, newTestServer(t, false).Handler(), "/api/groups/wg/css", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestBasicAuth(t *testing.T) {
	s := newTestServer(t, false)
	s.cfg.BasicAuth = &config.BasicAuthConfig{Username: "u", Password: "p"}
	h := s.Handler()

	if rec := get(t, h, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health behind auth = %d", rec.Code)
	}
	if rec := get(t, h, "/api/events", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("events without credentials = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("u", "p")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("events with credentials = %d", rec.Code)
	}
}
