package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"w3cgroup/internal/config"
	"w3cgroup/internal/ics"
	appLog "w3cgroup/internal/log"
	"w3cgroup/internal/model"
	"w3cgroup/internal/w3c"
)

// Server exposes expanded calendars and enriched groups as JSON.
type Server struct {
	cfg     *config.Config
	fetcher w3c.Fetcher
	mux     *http.ServeMux
	now     func() time.Time

	groupsMu sync.RWMutex
	groups   *w3c.Aggregator

	// Expanded /api/events responses, keyed by query, so repeated requests
	// skip the fetch/parse/expand work.
	eventsMu    sync.RWMutex
	eventsCache map[string]*eventsCache
}

const eventsCacheTTL = 30 * time.Second

// NewServer constructs a new Server. groups may be nil, in which case the
// group endpoints answer 503.
func NewServer(cfg *config.Config, fetcher w3c.Fetcher, groups *w3c.Aggregator) *Server {
	s := &Server{
		cfg:         cfg,
		fetcher:     fetcher,
		groups:      groups,
		mux:         http.NewServeMux(),
		now:         time.Now,
		eventsCache: make(map[string]*eventsCache),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// SetGroups replaces the aggregator behind the group endpoints. Requests
// already running keep the one they started with.
func (s *Server) SetGroups(groups *w3c.Aggregator) {
	s.groupsMu.Lock()
	s.groups = groups
	s.groupsMu.Unlock()
}

func (s *Server) aggregator() *w3c.Aggregator {
	s.groupsMu.RLock()
	defer s.groupsMu.RUnlock()
	return s.groups
}

// Invalidate drops cached /api/events responses.
func (s *Server) Invalidate() {
	s.eventsMu.Lock()
	s.eventsCache = make(map[string]*eventsCache)
	s.eventsMu.Unlock()
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth rather than locking everyone out.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="w3cgroup", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Start serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/calendar", s.handleCalendar)
	s.mux.HandleFunc("GET /api/groups", s.handleGroups)
	s.mux.HandleFunc("GET /api/groups/{id...}", s.handleGroup)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// EventsResponse is the JSON shape of /api/events.
type EventsResponse struct {
	Occurrences     []model.Occurrence `json:"occurrences"`
	TruncatedUIDs   []string           `json:"truncated_uids,omitempty"`
	FailedSources   []string           `json:"failed_sources,omitempty"`
	RangeStart      time.Time          `json:"range_start"`
	RangeEnd        time.Time          `json:"range_end"`
	DisplayTimeZone string             `json:"display_timezone"`
}

type eventsCache struct {
	resp      EventsResponse
	updatedAt time.Time
}

// handleEvents returns expanded occurrences of the configured calendars.
//
// GET /api/events?days=14&backfill=1
//   - days:     how many days ahead (default: horizon_days)
//   - backfill: how many past days to include (default 1)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), s.cfg.HorizonDays)
	if days <= 0 {
		days = s.cfg.HorizonDays
	}
	backfill := parseIntDefault(q.Get("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}
	key := strconv.Itoa(days) + "/" + strconv.Itoa(backfill)

	s.eventsMu.RLock()
	ec := s.eventsCache[key]
	s.eventsMu.RUnlock()
	if ec != nil && s.now().Sub(ec.updatedAt) < eventsCacheTTL {
		writeJSON(w, http.StatusOK, ec.resp)
		return
	}

	loc := resolveLocationOrLocal(s.cfg.Timezone)
	now := s.now().In(loc)
	rangeStart := now.AddDate(0, 0, -backfill)
	rangeEnd := now.AddDate(0, 0, days)

	appLog.Info("api events request",
		"days", days,
		"backfill", backfill,
		"range_start", rangeStart.Format(time.RFC3339),
		"range_end", rangeEnd.Format(time.RFC3339),
	)

	resp, err := ExpandCalendars(r.Context(), s.fetcher, s.cfg.Sources(), ics.ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
	})
	if err != nil {
		appLog.Error("api events: expand failed", err)
		writeError(w, http.StatusInternalServerError, "failed to expand events")
		return
	}

	s.eventsMu.Lock()
	s.eventsCache[key] = &eventsCache{resp: resp, updatedAt: s.now()}
	s.eventsMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// ExpandCalendars fetches and expands sources. Sources that fail to load
// are listed in FailedSources; the rest are still expanded.
func ExpandCalendars(ctx context.Context, f ics.TextFetcher, sources []ics.Source, cfg ics.ExpandConfig) (EventsResponse, error) {
	resp := EventsResponse{
		Occurrences:     []model.Occurrence{},
		RangeStart:      cfg.RangeStart,
		RangeEnd:        cfg.RangeEnd,
		DisplayTimeZone: cfg.DisplayLocation.String(),
	}
	if len(sources) == 0 {
		return resp, nil
	}

	results, errs := ics.FetchAll(ctx, f, sources)
	if len(errs) > 0 {
		appLog.Error("api events: one or more calendars failed", errors.Join(errs...), "error_count", len(errs))
		loaded := make(map[string]bool, len(results))
		for _, res := range results {
			loaded[res.Source.ID] = true
		}
		for _, src := range sources {
			if !loaded[src.ID] {
				resp.FailedSources = append(resp.FailedSources, src.ID)
			}
		}
	}

	expanded, err := ics.Expand(results, cfg)
	if err != nil {
		return resp, err
	}
	resp.Occurrences = append(resp.Occurrences, expanded.Occurrences...)
	resp.TruncatedUIDs = expanded.TruncatedEvents
	return resp, nil
}

type calendarResponse struct {
	Calendar *ics.VCalendar `json:"calendar"`
	Lint     []string       `json:"lint,omitempty"`
}

// handleCalendar returns one configured calendar as parsed, without
// expansion.
//
// GET /api/calendar?id=css&lint=1
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cal, ok := s.cfg.Calendar(q.Get("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown calendar")
		return
	}
	src := cal.Source()

	text, err := s.fetcher.FetchText(r.Context(), src.URL)
	if err != nil {
		appLog.Error("api calendar: fetch failed", err, "id", src.ID)
		writeError(w, http.StatusBadGateway, "failed to fetch calendar")
		return
	}
	parsed, err := ics.Parse(text, src.Options...)
	if err != nil {
		appLog.Error("api calendar: parse failed", err, "id", src.ID)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	parsed.URL = src.URL

	resp := calendarResponse{Calendar: parsed}
	if q.Get("lint") == "1" {
		resp.Lint = ics.Lint(text, parsed)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGroups lists the configured default groups.
func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	agg := s.aggregator()
	if agg == nil {
		writeError(w, http.StatusServiceUnavailable, "group resolver not configured")
		return
	}
	out := make([]any, 0, len(s.cfg.Groups))
	for _, id := range s.cfg.Groups {
		g, err := agg.Group(r.Context(), id)
		if err != nil {
			out = append(out, map[string]string{"id": id, "error": err.Error()})
			continue
		}
		out = append(out, g)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGroup returns one enriched group.
//
// GET /api/groups/wg/css?resolve=participations,events
//
// Properties named in resolve are settled before the response is written;
// one that fails appears as {"error": "..."} without failing the request.
func (s *Server) handleGroup(w http.ResponseWriter, r *http.Request) {
	agg := s.aggregator()
	if agg == nil {
		writeError(w, http.StatusServiceUnavailable, "group resolver not configured")
		return
	}
	id := r.PathValue("id")
	g, err := agg.Group(r.Context(), id)
	if err != nil {
		appLog.Error("api group: fetch failed", err, "id", id)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if keys := splitList(r.URL.Query().Get("resolve")); len(keys) > 0 {
		// Failures are rendered inline by the resource.
		_ = agg.Resolve(r.Context(), g, keys...)
	}
	writeJSON(w, http.StatusOK, g)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
