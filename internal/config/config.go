package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Category kinds understood by the source package.
const (
	KindComebacks = "comebacks"
	KindReleases  = "releases"
)

// Store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

const (
	DefaultComebacksURL = "https://kpop-comebacks.heismauri.com/api"
	DefaultReleasesURL  = "https://gateway.reddit.com/desktopapi/v1/subreddits/kpop?include=structuredStyles"
	DefaultReleasesTag  = "Upcoming Releases"
)

// CategoryConfig describes one independent pipeline.
type CategoryConfig struct {
	// Name is the identifier used in URLs and on the CLI (e.g. "comebacks").
	Name string `yaml:"name" json:"name"`
	// Title is the heading shown by the renderers.
	Title string `yaml:"title" json:"title"`
	// Kind selects the upstream payload format: "comebacks" or "releases".
	Kind string `yaml:"kind" json:"kind"`
	// Namespace is the cache namespace. Defaults to "kpop-<name>-cache".
	Namespace string `yaml:"namespace" json:"namespace"`
	// Endpoint is the upstream URL.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// Freshness is the maximum age of the earliest cached event before the
	// list is refetched.
	Freshness time.Duration `yaml:"freshness" json:"freshness"`
	// Label is the widget label searched for in the releases payload.
	Label string `yaml:"label,omitempty" json:"label,omitempty"`
}

// StoreConfig selects the cache backend.
type StoreConfig struct {
	Backend    string `yaml:"backend" json:"backend"`
	SQLitePath string `yaml:"sqlite_path,omitempty" json:"sqlite_path,omitempty"`
}

// HTTPConfig controls the upstream client.
type HTTPConfig struct {
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`

	// MinInterval is the minimum spacing between two requests to the same
	// upstream. Zero disables throttling.
	MinInterval time.Duration `yaml:"min_interval" json:"min_interval"`
}

// WidgetConfig holds the number of events shown per widget size.
type WidgetConfig struct {
	Small  int `yaml:"small" json:"small"`
	Medium int `yaml:"medium" json:"medium"`
	Large  int `yaml:"large" json:"large"`

	// Clock24 renders times as HH:MM instead of HH:MMAM.
	Clock24 bool `yaml:"clock_24h" json:"clock_24h"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the web endpoints.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for display labels. Empty means the
	// host's local zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule used to prewarm every category.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// CacheRoot is the directory holding per-namespace cache files.
	CacheRoot string `yaml:"cache_root" json:"cache_root"`

	Store StoreConfig `yaml:"store" json:"store"`
	HTTP  HTTPConfig  `yaml:"http" json:"http"`

	// ServeStaleOnError returns the stale cached list when a refresh fails,
	// instead of surfacing the fetch error.
	ServeStaleOnError bool `yaml:"serve_stale_on_error" json:"serve_stale_on_error"`

	Categories []CategoryConfig `yaml:"categories" json:"categories"`

	Widget WidgetConfig `yaml:"widget" json:"widget"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultCategories returns the two pipelines tracked out of the box.
func DefaultCategories() []CategoryConfig {
	return []CategoryConfig{
		{
			Name:      "comebacks",
			Title:     "KPop Upcoming Comebacks",
			Kind:      KindComebacks,
			Namespace: "kpop-comebacks-cache",
			Endpoint:  DefaultComebacksURL,
			Freshness: 3600 * time.Second,
		},
		{
			Name:      "releases",
			Title:     "KPop Releases",
			Kind:      KindReleases,
			Namespace: "kpop-releases-cache",
			Endpoint:  DefaultReleasesURL,
			Freshness: 4200 * time.Second,
			Label:     DefaultReleasesTag,
		},
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		RefreshCron: "*/15 * * * *",
		LogLevel:    "info",
		CacheRoot:   "/var/lib/kpopcal",
		Store:       StoreConfig{Backend: BackendFile},
		HTTP: HTTPConfig{
			Timeout:   15 * time.Second,
			UserAgent: "kpopcal/0.1",
		},
		Categories: DefaultCategories(),
		Widget:     WidgetConfig{Small: 2, Medium: 3, Large: 10},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.CacheRoot == "" {
		c.CacheRoot = def.CacheRoot
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendFile
	}
	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = def.HTTP.Timeout
	}
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = def.HTTP.UserAgent
	}
	if c.HTTP.MinInterval < 0 {
		c.HTTP.MinInterval = 0
	}
	if c.Categories == nil {
		c.Categories = def.Categories
	}
	for i := range c.Categories {
		c.Categories[i].normalize()
	}
	if c.Widget.Small <= 0 {
		c.Widget.Small = def.Widget.Small
	}
	if c.Widget.Medium <= 0 {
		c.Widget.Medium = def.Widget.Medium
	}
	if c.Widget.Large <= 0 {
		c.Widget.Large = def.Widget.Large
	}
}

func (cc *CategoryConfig) normalize() {
	if cc.Kind == "" {
		cc.Kind = cc.Name
	}
	if cc.Namespace == "" && cc.Name != "" {
		cc.Namespace = "kpop-" + cc.Name + "-cache"
	}
	if cc.Title == "" {
		cc.Title = cc.Name
	}
	if cc.Freshness <= 0 {
		cc.Freshness = time.Hour
	}
	if cc.Kind == KindReleases && cc.Label == "" {
		cc.Label = DefaultReleasesTag
	}
}

// Validate checks the invariants the pipelines rely on.
func (c *Config) Validate() error {
	if len(c.Categories) == 0 {
		return errors.New("config: no categories configured")
	}
	seenName := make(map[string]bool)
	seenNS := make(map[string]bool)
	for _, cc := range c.Categories {
		if cc.Name == "" {
			return errors.New("config: category name is empty")
		}
		if seenName[cc.Name] {
			return fmt.Errorf("config: duplicate category %q", cc.Name)
		}
		if seenNS[cc.Namespace] {
			return fmt.Errorf("config: categories share namespace %q", cc.Namespace)
		}
		seenName[cc.Name] = true
		seenNS[cc.Namespace] = true

		switch cc.Kind {
		case KindComebacks, KindReleases:
		default:
			return fmt.Errorf("config: category %q has unknown kind %q", cc.Name, cc.Kind)
		}
		if cc.Endpoint == "" {
			return fmt.Errorf("config: category %q has no endpoint", cc.Name)
		}
	}
	switch c.Store.Backend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	return nil
}

// Category returns the category config with the given name.
func (c *Config) Category(name string) (CategoryConfig, bool) {
	for _, cc := range c.Categories {
		if cc.Name == name {
			return cc, true
		}
	}
	return CategoryConfig{}, false
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, err
	}
	return loc, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is decoded, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
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

	tmp, err := os.CreateTemp(dir, ".kpopcal-config-*.tmp")
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

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
