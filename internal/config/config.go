package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"w3cgroup/internal/ics"
)

const (
	DefaultAPIBase     = "https://api.w3.org/"
	DefaultRepoReport  = "https://w3c.github.io/validate-repos/report.json"
	DefaultGitHubCache = "https://labs.w3.org/github-cache"
)

// CalendarConfig describes a single ICS subscription source.
type CalendarConfig struct {
	// URL is the ICS endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// Generic turns off the W3C meeting conventions (meeting URL,
	// mandatory description, agenda extraction) for this feed.
	Generic bool `yaml:"generic,omitempty" json:"generic,omitempty"`
}

// APIConfig points at the HAL API the group resolver walks.
type APIConfig struct {
	// BaseURL is the API root. Only hrefs under it are expanded lazily.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Key is sent as the apikey query parameter.
	Key string `yaml:"key" json:"-"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the JSON API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the JSON API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used to present expanded occurrences.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used by -watch to refetch calendars.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays is the number of future days to expand.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// CacheDir holds the ETag/Last-Modified cache of fetched calendars.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	API APIConfig `yaml:"api" json:"api"`

	// Calendars is the list of subscribed ICS sources.
	Calendars []CalendarConfig `yaml:"calendars" json:"calendars"`

	// Groups lists group ids fetched by default.
	Groups []string `yaml:"groups" json:"groups"`

	// GroupCalendar is an ICS URL template; "{identifier}" is replaced by
	// the group identifier (e.g. "wg/css"). Empty disables group events.
	GroupCalendar string `yaml:"group_calendar" json:"group_calendar"`

	// GroupCalendarGeneric parses group calendars as plain iCalendar,
	// without the W3C meeting feed conventions.
	GroupCalendarGeneric bool `yaml:"group_calendar_generic" json:"group_calendar_generic"`

	// RepoReport is the validate-repos report used for group repositories.
	RepoReport string `yaml:"repo_report" json:"repo_report"`

	// GitHubCache is the GitHub API mirror used for issues and commits.
	GitHubCache string `yaml:"github_cache" json:"github_cache"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "UTC",
		LogLevel:    "info",
		RefreshCron: "*/15 * * * *",
		HorizonDays: 14,
		CacheDir:    "./var/ics-cache",
		API: APIConfig{
			BaseURL: DefaultAPIBase,
		},
		Calendars:   []CalendarConfig{},
		Groups:      []string{},
		RepoReport:  DefaultRepoReport,
		GitHubCache: DefaultGitHubCache,
		BasicAuth:   nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 14
	}
	if c.CacheDir == "" {
		c.CacheDir = "./var/ics-cache"
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultAPIBase
	}
	// Link expansion compares hrefs by prefix, so the base must end in "/".
	if !strings.HasSuffix(c.API.BaseURL, "/") {
		c.API.BaseURL += "/"
	}
	if c.RepoReport == "" {
		c.RepoReport = DefaultRepoReport
	}
	if c.GitHubCache == "" {
		c.GitHubCache = DefaultGitHubCache
	}
	c.GitHubCache = strings.TrimSuffix(c.GitHubCache, "/")
	if c.Calendars == nil {
		c.Calendars = []CalendarConfig{}
	}
	for i := range c.Calendars {
		if c.Calendars[i].ID == "" {
			if c.Calendars[i].Name != "" {
				c.Calendars[i].ID = c.Calendars[i].Name
			} else {
				c.Calendars[i].ID = c.Calendars[i].URL
			}
		}
	}
	if c.Groups == nil {
		c.Groups = []string{}
	}
}

// Sources converts the configured calendars into fetch sources.
func (c *Config) Sources() []ics.Source {
	sources := make([]ics.Source, 0, len(c.Calendars))
	for _, cal := range c.Calendars {
		if cal.URL == "" {
			continue
		}
		sources = append(sources, cal.Source())
	}
	return sources
}

// Source converts one calendar into a fetch source.
func (cal CalendarConfig) Source() ics.Source {
	src := ics.Source{ID: cal.ID, URL: cal.URL}
	if cal.Generic {
		src.Options = append(src.Options, ics.WithoutMeetingConventions())
	}
	return src
}

// Calendar returns the configured calendar with the given id.
func (c *Config) Calendar(id string) (CalendarConfig, bool) {
	for _, cal := range c.Calendars {
		if cal.ID == id {
			return cal, true
		}
	}
	return CalendarConfig{}, false
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600 (the API key lives here).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".w3cgroup-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
