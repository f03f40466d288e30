package hal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"w3cgroup/internal/fetch"
	"w3cgroup/internal/lazy"
)

// apiServer is a small stand-in for the W3C API. Documents are templates in
// which {base} is replaced by the server's root URL.
type apiServer struct {
	*httptest.Server
	base string

	mu   sync.Mutex
	hits map[string]int
}

func group(id, name string) string {
	return `{"id": ` + id + `, "name": "` + name + `", "type": "working group",
		"_links": {
			"self": {"href": "{base}groups/` + id + `"},
			"chairs": {"href": "{base}groups/` + id + `/chairs"},
			"broken": {"href": "{base}broken"},
			"homepage": {"href": "https://www.w3.org/groups/wg/` + name + `/", "title": "Homepage"},
			"participations": {"href": "{base}groups/` + id + `/participations"}
		}}`
}

var documents = map[string]string{
	"/groups": `{"page": 1, "pages": 2, "total": 3,
		"_links": {"self": {"href": "{base}groups"}, "next": {"href": "{base}groups?page=2&apikey=secret"}},
		"_embedded": {"groups": [` + group("1", "css") + `, ` + group("2", "html") + `]}}`,
	"/groups?page=2": `{"page": 2, "pages": 2, "total": 3,
		"_links": {"self": {"href": "{base}groups?page=2"}},
		"_embedded": {"groups": [` + group("3", "svg") + `]}}`,
	"/groups/1":                group("1", "css"),
	"/groups/1/chairs":         `{"page": 1, "pages": 1, "_embedded": {"chairs": [{"name": "Alice", "_links": {"self": {"href": "{base}users/a1"}}}]}}`,
	"/groups/1/participations": `{"_embedded": {"participations": []}}`,
	"/users/a1": `{"work-title": "Chair", "_links": {"self": {"href": "{base}users/a1"},
		"affiliations": {"href": "{base}users/a1/affiliations"}}}`,
	"/flaky": `{"ok": true, "_links": {"self": {"href": "{base}flaky"}}}`,
	"/specs":                   `{"_links": {"specifications": [{"href": "{base}specifications/a"}, {"href": "{base}specifications/b"}]}}`,
	"/apierror":                `{"error": "not allowed"}`,
}

func newAPIServer(t *testing.T) *apiServer {
	t.Helper()
	s := &apiServer{hits: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("apikey") != "secret" && !strings.HasPrefix(r.URL.Path, "/specs") {
			http.Error(w, "missing apikey", http.StatusForbidden)
			return
		}
		key := r.URL.Path
		if p := q.Get("page"); p != "" {
			key += "?page=" + p
		}
		s.mu.Lock()
		s.hits[key]++
		n := s.hits[key]
		s.mu.Unlock()

		if key == "/flaky" && n == 1 {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		doc, ok := documents[key]
		if !ok {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/hal+json")
		fmt.Fprint(w, strings.ReplaceAll(doc, "{base}", s.base))
	}))
	s.base = s.URL + "/"
	t.Cleanup(s.Close)
	return s
}

func (s *apiServer) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[key]
}

func (s *apiServer) resolver() *Resolver {
	return NewResolver(fetch.New(fetch.WithClient(s.Client())), WithBase(s.base), WithAPIKey("secret"))
}

func TestIteratorTwoPages(t *testing.T) {
	s := newAPIServer(t)
	f := fetch.New(fetch.WithClient(s.Client()))

	it := NewIterator(f, s.base+"groups?apikey=secret", "groups", Options{
		Embed:   true,
		Adapter: func(item any) any { return item.(map[string]any)["name"] },
	})
	var names []string
	for {
		item, err := it.Next(context.Background())
		if errors.Is(err, Done) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		names = append(names, item.(string))
	}
	if got := strings.Join(names, ","); got != "css,html,svg" {
		t.Errorf("items = %s, want css,html,svg", got)
	}
	if _, err := it.Next(context.Background()); !errors.Is(err, Done) {
		t.Errorf("Next after end = %v", err)
	}
}

func TestIteratorLinksAndSource(t *testing.T) {
	s := newAPIServer(t)
	f := fetch.New(fetch.WithClient(s.Client()))

	items, err := NewIterator(f, s.base+"specs", "specifications", Options{}).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %v", items)
	}

	doc := map[string]any{"_links": map[string]any{"specifications": map[string]any{"href": "x"}}}
	items, err = NewIterator(f, doc, "specifications", Options{}).Collect(context.Background())
	if err != nil || len(items) != 1 {
		t.Errorf("decoded source: %v, %v", items, err)
	}
}

func TestIteratorError(t *testing.T) {
	s := newAPIServer(t)
	f := fetch.New(fetch.WithClient(s.Client()))

	it := NewIterator(f, s.base+"missing?apikey=secret", "groups", Options{Embed: true})
	var n int
	for _, err := range it.All(context.Background()) {
		n++
		var fe *fetch.Error
		if !errors.As(err, &fe) || fe.Status != http.StatusInternalServerError {
			t.Errorf("err = %v", err)
		}
	}
	if n != 1 {
		t.Errorf("yielded %d times, want one error", n)
	}
}

func TestResolverCollectionAndIdentity(t *testing.T) {
	s := newAPIServer(t)
	r := s.resolver()

	var mu sync.Mutex
	enriched := map[string]int{}
	err := r.Register(`^{base}groups/[0-9]+$`, "count", func(res *Resource) {
		mu.Lock()
		enriched[res.Self()]++
		mu.Unlock()
		res.Set("seen", true)
	})
	if err != nil {
		t.Fatal(err)
	}

	groups, err := r.FetchList(context.Background(), "groups")
	if err != nil {
		t.Fatalf("FetchList: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("groups = %d, want 3", len(groups))
	}

	one, err := r.FetchResource(context.Background(), "/groups/1")
	if err != nil {
		t.Fatalf("FetchResource: %v", err)
	}
	if one != groups[0] {
		t.Errorf("same group fetched twice is two objects")
	}
	again, err := r.FetchResource(context.Background(), s.base+"groups/1?embed=1")
	if err != nil || again != one {
		t.Errorf("absolute alias: %v, %v", again == one, err)
	}
	if s.count("/groups/1") != 1 {
		t.Errorf("/groups/1 fetched %d times", s.count("/groups/1"))
	}

	for self, n := range enriched {
		if n != 1 {
			t.Errorf("%s enriched %d times", self, n)
		}
	}
	if len(enriched) != 3 || !one.Bool("seen") {
		t.Errorf("enriched = %v", enriched)
	}
}

func TestResolverDirectFetchCompletesEmbeddedCopy(t *testing.T) {
	s := newAPIServer(t)
	r := s.resolver()
	ctx := context.Background()

	chairs, err := r.FetchList(ctx, "groups/1/chairs")
	if err != nil || len(chairs) != 1 {
		t.Fatalf("chairs = %v, %v", chairs, err)
	}
	if chairs[0].Has("work-title") {
		t.Fatalf("embedded copy already has work-title")
	}

	alice, err := r.FetchResource(ctx, "users/a1")
	if err != nil {
		t.Fatalf("FetchResource: %v", err)
	}
	if alice != chairs[0] {
		t.Errorf("direct fetch returned a second object")
	}
	if got := alice.String("work-title"); got != "Chair" {
		t.Errorf("work-title = %q, want Chair", got)
	}
	if got := alice.String("name"); got != "Alice" {
		t.Errorf("name = %q, embedded field lost", got)
	}
	if !alice.Has("affiliations") {
		t.Errorf("affiliations link not expanded")
	}
	if v, _ := alice.Get("affiliations"); v == nil {
		t.Errorf("affiliations = nil")
	} else if _, ok := v.(*lazy.Deferred[any]); !ok {
		t.Errorf("affiliations = %T, want a deferred", v)
	}
}

func TestResolverIdentityWaitsForEnrichment(t *testing.T) {
	s := newAPIServer(t)
	r := s.resolver()

	err := r.Register(`^{base}groups/[0-9]+$`, "slow", func(res *Resource) {
		time.Sleep(20 * time.Millisecond)
		res.Set("seen", true)
	})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	results := make(chan *Resource, 16)
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			groups, err := r.FetchList(context.Background(), "groups")
			if err != nil {
				t.Errorf("FetchList: %v", err)
				return
			}
			results <- groups[0]
		}()
		go func() {
			defer wg.Done()
			g, err := r.FetchResource(context.Background(), "groups/1")
			if err != nil {
				t.Errorf("FetchResource: %v", err)
				return
			}
			results <- g
		}()
	}
	wg.Wait()
	close(results)

	var first *Resource
	for g := range results {
		if !g.Bool("seen") {
			t.Errorf("resource returned before enrichment finished")
		}
		if first == nil {
			first = g
		} else if g != first {
			t.Errorf("two objects for one identity")
		}
	}
}

func TestResolverRetriesFailedFetch(t *testing.T) {
	s := newAPIServer(t)
	r := s.resolver()
	ctx := context.Background()

	_, err := r.FetchResource(ctx, "flaky")
	var fe *fetch.Error
	if !errors.As(err, &fe) || fe.Status != http.StatusBadGateway {
		t.Fatalf("first fetch = %v, want 502", err)
	}
	res, err := r.FetchResource(ctx, "flaky")
	if err != nil || !res.Bool("ok") {
		t.Fatalf("second fetch = %v, %v", res, err)
	}
	if _, err := r.FetchResource(ctx, "flaky"); err != nil {
		t.Errorf("third fetch: %v", err)
	}
	if n := s.count("/flaky"); n != 2 {
		t.Errorf("/flaky fetched %d times, want 2", n)
	}
}

func TestResolverLazyLinks(t *testing.T) {
	s := newAPIServer(t)
	r := s.resolver()
	ctx := context.Background()

	g, err := r.FetchResource(ctx, "groups/1")
	if err != nil {
		t.Fatal(err)
	}

	v, _ := g.Get("chairs")
	d, ok := v.(*lazy.Deferred[any])
	if !ok {
		t.Fatalf("chairs = %T, want a deferred", v)
	}
	if d.State() != lazy.Pending || s.count("/groups/1/chairs") != 0 {
		t.Fatalf("chairs fetched before use")
	}

	for i := 0; i < 2; i++ {
		chairs, err := g.Resolve(ctx, "chairs")
		if err != nil {
			t.Fatalf("Resolve chairs: %v", err)
		}
		list, err := AsList(chairs)
		if err != nil || len(list) != 1 || list[0].String("name") != "Alice" {
			t.Fatalf("chairs = %#v, %v", chairs, err)
		}
	}
	if s.count("/groups/1/chairs") != 1 {
		t.Errorf("chairs fetched %d times", s.count("/groups/1/chairs"))
	}

	if got := g.String("homepage"); got != "https://www.w3.org/groups/wg/css/" {
		t.Errorf("homepage = %q", got)
	}
	if got := g.String("homepage-title"); got != "Homepage" {
		t.Errorf("homepage-title = %q", got)
	}

	// One failing link does not affect the others.
	_, err = g.Resolve(ctx, "broken")
	var fe *fetch.Error
	if !errors.As(err, &fe) || fe.Status != http.StatusInternalServerError {
		t.Errorf("broken = %v", err)
	}
	if _, err := g.Resolve(ctx, "chairs"); err != nil {
		t.Errorf("chairs after broken: %v", err)
	}

	b, err := json.Marshal(g)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if _, ok := out["chairs"].([]any); !ok {
		t.Errorf("resolved chairs not rendered: %s", b)
	}
	if e, ok := out["broken"].(map[string]any); !ok || e["error"] == nil {
		t.Errorf("rejected link not rendered as error: %s", b)
	}
	if _, ok := out["participations"]; ok {
		t.Errorf("pending link rendered: %s", b)
	}
	if out["name"] != "css" {
		t.Errorf("raw field lost: %s", b)
	}
}

func TestResolverListLinks(t *testing.T) {
	s := newAPIServer(t)
	r := s.resolver()

	res, err := r.FetchResource(context.Background(), s.base+"specs")
	if err != nil {
		t.Fatal(err)
	}
	hrefs, _ := res.Get("specifications-hrefs")
	if got, ok := hrefs.([]string); !ok || len(got) != 2 {
		t.Errorf("specifications-hrefs = %#v", hrefs)
	}
	if v, _ := res.Get("specifications"); v == nil {
		t.Errorf("first link not expanded")
	}
}

func TestResolverErrors(t *testing.T) {
	s := newAPIServer(t)

	noKey := NewResolver(fetch.New(fetch.WithClient(s.Client())), WithBase(s.base))
	if _, err := noKey.Fetch(context.Background(), "groups"); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("no key: %v", err)
	}

	var apiErr *APIError
	if _, err := s.resolver().Fetch(context.Background(), "apierror"); !errors.As(err, &apiErr) || apiErr.Message != "not allowed" {
		t.Errorf("api error: %v", err)
	}

	if err := s.resolver().Register("(", "bad", func(*Resource) {}); err == nil {
		t.Errorf("bad pattern accepted")
	}
}

func TestResolverIterator(t *testing.T) {
	s := newAPIServer(t)
	r := s.resolver()

	items, err := r.Iterator("groups", "groups").Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("items = %d", len(items))
	}
	first, ok := items[0].(*Resource)
	if !ok {
		t.Fatalf("item = %T", items[0])
	}
	direct, err := r.FetchResource(context.Background(), "groups/1")
	if err != nil || direct != first {
		t.Errorf("iterator and fetch disagree on identity: %v", err)
	}
}
