package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"w3cgroup/internal/config"
	"w3cgroup/internal/fetch"
	"w3cgroup/internal/hal"
	"w3cgroup/internal/ics"
	appLog "w3cgroup/internal/log"
	"w3cgroup/internal/w3c"
	"w3cgroup/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string

	calendar string
	generic  bool
	lint     bool
	encode   bool

	group   string
	resolve string
	list    bool

	serve bool
	watch bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("w3cgroup starting",
		"version", version,
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"calendar_count", len(conf.Calendars),
		"group_count", len(conf.Groups),
		"api_base", conf.API.BaseURL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher := fetch.New(fetch.WithCacheDir(conf.CacheDir))

	if err := run(ctx, flags, conf, fetcher, os.Stdout); err != nil {
		appLog.Error("w3cgroup failed", err)
		os.Exit(1)
	}
	appLog.Info("w3cgroup exiting")
}

func run(ctx context.Context, flags flagConfig, conf *config.Config, fetcher *fetch.Fetcher, out io.Writer) error {
	switch {
	case flags.calendar != "":
		return dumpCalendar(ctx, flags, fetcher, out)
	case flags.list:
		agg, err := newAggregator(conf, fetcher)
		if err != nil {
			return err
		}
		return listGroups(ctx, agg.Resolver(), out)
	case flags.group != "":
		agg, err := newAggregator(conf, fetcher)
		if err != nil {
			return err
		}
		return dumpGroup(ctx, agg, flags.group, splitList(flags.resolve), out)
	case flags.serve:
		return serve(ctx, flags, conf, fetcher)
	}
	flag.Usage()
	return errors.New("nothing to do: pass -calendar, -group, -list or -serve")
}

func newAggregator(conf *config.Config, fetcher *fetch.Fetcher) (*w3c.Aggregator, error) {
	if conf.API.Key == "" {
		appLog.Warn("no API key configured; group lookups will fail", "api_base", conf.API.BaseURL)
	}
	return w3c.New(fetcher, aggregatorConfig(conf))
}

func aggregatorConfig(conf *config.Config) w3c.Config {
	return w3c.Config{
		APIBase:         conf.API.BaseURL,
		APIKey:          conf.API.Key,
		GitHubCache:     conf.GitHubCache,
		RepoReport:      conf.RepoReport,
		GroupCalendar:   conf.GroupCalendar,
		GenericCalendar: conf.GroupCalendarGeneric,
	}
}

// dumpCalendar prints one calendar as JSON, as linted, or re-encoded.
func dumpCalendar(ctx context.Context, flags flagConfig, fetcher *fetch.Fetcher, out io.Writer) error {
	text, err := fetcher.FetchText(ctx, flags.calendar)
	if err != nil {
		return err
	}

	if flags.encode {
		lines, err := ics.ContentLines(text)
		if err != nil {
			return err
		}
		root, err := ics.BuildTree(lines)
		if err != nil {
			return err
		}
		return ics.Encode(out, root)
	}

	var opts []ics.Option
	if flags.generic {
		opts = append(opts, ics.WithoutMeetingConventions())
	}
	cal, err := ics.Parse(text, opts...)
	if err != nil {
		return err
	}
	cal.URL = flags.calendar

	if flags.lint {
		problems := ics.Lint(text, cal)
		for _, p := range problems {
			fmt.Fprintln(out, p)
		}
		if len(problems) > 0 {
			return fmt.Errorf("%d lint problem(s)", len(problems))
		}
		appLog.Info("lint clean", "url", appLog.RedactURL(flags.calendar), "event_count", len(cal.Events))
		return nil
	}
	return writeJSON(out, cal)
}

// listGroups walks the group collection page by page.
func listGroups(ctx context.Context, r *hal.Resolver, out io.Writer) error {
	for item, err := range r.Iterator("groups", "groups").All(ctx) {
		if err != nil {
			return err
		}
		g, ok := item.(*hal.Resource)
		if !ok {
			continue
		}
		fmt.Fprintf(out, "%s\t%s\n", g.String("identifier"), g.String("name"))
	}
	return nil
}

func dumpGroup(ctx context.Context, agg *w3c.Aggregator, id string, keys []string, out io.Writer) error {
	g, err := agg.Group(ctx, id)
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		if err := agg.Resolve(ctx, g, keys...); err != nil {
			// Failed properties are printed inline as {"error": ...}.
			appLog.Warn("some properties failed", "group", id, "error", err.Error())
		}
	}
	return writeJSON(out, g)
}

// serve runs the HTTP API. With -watch, calendars are refetched on the
// configured cron schedule, cached responses dropped and the group
// aggregator rebuilt.
func serve(ctx context.Context, flags flagConfig, conf *config.Config, fetcher *fetch.Fetcher) error {
	agg, err := newAggregator(conf, fetcher)
	if err != nil {
		return err
	}
	srv := web.NewServer(conf, fetcher, agg)

	if flags.watch {
		c, err := startWatch(ctx, conf, fetcher, srv)
		if err != nil {
			return err
		}
		defer func() {
			<-c.Stop().Done()
			appLog.Info("refresh scheduler stopped")
		}()
	}
	return srv.Start(ctx)
}

func startWatch(ctx context.Context, conf *config.Config, fetcher *fetch.Fetcher, srv *web.Server) (*cron.Cron, error) {
	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		loc = time.Local
	}
	c := cron.New(cron.WithLocation(loc))
	refresh := func() { refreshAll(ctx, conf, fetcher, srv) }
	if _, err := c.AddFunc(conf.RefreshCron, refresh); err != nil {
		return nil, fmt.Errorf("refresh schedule %q: %w", conf.RefreshCron, err)
	}
	c.Start()
	appLog.Info("refresh scheduler started", "schedule", conf.RefreshCron, "timezone", loc.String())
	go refresh()
	return c, nil
}

// refreshAll drops every memoized API document, swaps in a fresh group
// aggregator and refetches the configured calendars.
func refreshAll(ctx context.Context, conf *config.Config, fetcher *fetch.Fetcher, srv *web.Server) {
	start := time.Now()
	fetcher.Reset()
	if agg, err := newAggregator(conf, fetcher); err != nil {
		appLog.Error("group aggregator rebuild failed", err)
	} else {
		srv.SetGroups(agg)
	}

	results, errs := ics.FetchAll(ctx, fetcher, conf.Sources())
	srv.Invalidate()
	appLog.Info("calendars refreshed",
		"ok", len(results),
		"failed", len(errs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
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

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./w3cgroup.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.calendar, "calendar", "", "Fetch an ICS URL and print it as JSON")
	flag.BoolVar(&cfg.generic, "generic", false, "With -calendar: do not apply the W3C meeting conventions")
	flag.BoolVar(&cfg.lint, "lint", false, "With -calendar: cross-check the parse with a second parser")
	flag.BoolVar(&cfg.encode, "encode", false, "With -calendar: re-encode the component tree as iCalendar")
	flag.StringVar(&cfg.group, "group", "", "Print a group (numeric id or identifier such as wg/css)")
	flag.StringVar(&cfg.resolve, "resolve", "", "With -group: comma-separated properties to resolve")
	flag.BoolVar(&cfg.list, "list", false, "List every group")
	flag.BoolVar(&cfg.serve, "serve", false, "Run the HTTP API")
	flag.BoolVar(&cfg.watch, "watch", false, "With -serve: refresh calendars on the configured cron schedule")

	flag.Parse()

	return cfg
}
