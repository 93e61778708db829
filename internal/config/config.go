// Package config loads crawler settings from a YAML file, environment
// variables and built-in defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

const envPrefix = "SKILLCRAWL"

// tokenEnvVars are probed in order for API tokens. Unset entries are
// skipped; an empty result means one anonymous client.
var tokenEnvVars = []string{
	"GITHUB_TOKEN",
	"GITHUB_TOKEN_2",
	"GITHUB_TOKEN_3",
	"GITHUB_TOKEN_4",
	"GITHUB_TOKEN_5",
	"GITHUB_TOKEN_6",
}

// uploadTokenEnvVar holds the archive storage credential. Kept out of
// the config file so it never ends up committed alongside one.
const uploadTokenEnvVar = "SKILLCRAWL_UPLOAD_TOKEN"

// Config holds every tunable of a crawler run.
type Config struct {
	// Filename is the canonical skill file name searched for
	// everywhere. Default: SKILL.md
	Filename string `mapstructure:"filename"`

	// Tags are the repository topics queried during topic discovery.
	Tags []string `mapstructure:"tags"`

	// PriorityRepos are "owner/name" references that get a guaranteed
	// deep scan before any search-based discovery.
	PriorityRepos []string `mapstructure:"priority_repos"`

	// SelfRepo is the registry's own hosting repository. It is always
	// excluded from discovery and used as the repository reference for
	// locally scanned skills.
	SelfRepo string `mapstructure:"self_repo"`

	// LocalDir is the root of the local filesystem scan. Empty
	// disables the local phase regardless of EnableLocal.
	LocalDir string `mapstructure:"local_dir"`

	EnableLocal  bool `mapstructure:"enable_local"`
	EnableTopics bool `mapstructure:"enable_topics"`
	EnableGlobal bool `mapstructure:"enable_global"`

	// StarFloor excludes forks below this star count from topic
	// discovery. Range: 0-1000
	StarFloor int `mapstructure:"star_floor"`

	// MaxSearchPages caps pagination per search query. Range: 1-100
	MaxSearchPages int `mapstructure:"max_search_pages"`

	// PerPage is the search page size. Range: 1-100 (API maximum)
	PerPage int `mapstructure:"per_page"`

	// GlobalResultCap is the search endpoint's hard result ceiling;
	// global discovery never requests past it. Range: 100-10000
	GlobalResultCap int `mapstructure:"global_result_cap"`

	// Workers is the parallel repository-scan count. Range: 1-64
	Workers int `mapstructure:"workers"`

	// StartInterval is the minimum delay between scan task starts.
	// Zero disables the start limiter.
	StartInterval time.Duration `mapstructure:"start_interval"`

	// MaxRuntime is the execution budget for one run. The crawler
	// starts winding down when StopBuffer of it remains. Zero means
	// no deadline.
	MaxRuntime time.Duration `mapstructure:"max_runtime"`

	// StopBuffer is the reserve kept for finalization: cache save,
	// registry write, summary. Must be shorter than MaxRuntime.
	StopBuffer time.Duration `mapstructure:"stop_buffer"`

	// CoreThreshold and SearchThreshold are the per-bucket remaining
	// counts at which a client stops being scheduled.
	CoreThreshold   int `mapstructure:"core_threshold"`
	SearchThreshold int `mapstructure:"search_threshold"`

	// MaxMetaRetries caps metadata-fetch retries across clients.
	// Range: 1-10
	MaxMetaRetries int `mapstructure:"max_meta_retries"`

	// MaxTreeDepth bounds the fallback recursive directory walk.
	// Range: 1-20
	MaxTreeDepth int `mapstructure:"max_tree_depth"`

	// ChunkThreshold is the skill count above which the registry is
	// split into chunk files. Range: 10-100000
	ChunkThreshold int `mapstructure:"chunk_threshold"`

	// CacheMigration is what happens to a cache written by an older
	// format version: "discard" rebuilds from scratch, "migrate"
	// converts it in place.
	CacheMigration string `mapstructure:"cache_migration"`

	// EnableArchives controls post-crawl archive building.
	EnableArchives bool `mapstructure:"enable_archives"`

	// UploadURL is the archive storage base URL. Empty disables
	// uploads; built archives then stay local.
	UploadURL string `mapstructure:"upload_url"`

	// CachePath, OutputDir and ZipDir default to XDG locations.
	CachePath string `mapstructure:"cache_path"`
	OutputDir string `mapstructure:"output_dir"`
	ZipDir    string `mapstructure:"zip_dir"`
}

// Default returns the production defaults.
//
// The budget defaults leave five minutes of runway on a one-hour run,
// enough to save the cache and write the registry even when every
// in-flight scan has to drain first.
func Default() *Config {
	return &Config{
		Filename:        "SKILL.md",
		Tags:            []string{"claude-skills", "agent-skills", "ai-skills"},
		EnableLocal:     true,
		EnableTopics:    true,
		EnableGlobal:    true,
		StarFloor:       2,
		MaxSearchPages:  10,
		PerPage:         100,
		GlobalResultCap: 1000,
		Workers:         8,
		StartInterval:   200 * time.Millisecond,
		MaxRuntime:      time.Hour,
		StopBuffer:      5 * time.Minute,
		CoreThreshold:   50,
		SearchThreshold: 2,
		MaxMetaRetries:  3,
		MaxTreeDepth:    6,
		ChunkThreshold:  500,
		CacheMigration:  "migrate",
		EnableArchives:  true,
		CachePath:       filepath.Join(xdg.CacheHome, "skillcrawl", "cache.json"),
		OutputDir:       filepath.Join(xdg.DataHome, "skillcrawl", "registry"),
		ZipDir:          filepath.Join(xdg.DataHome, "skillcrawl", "archives"),
	}
}

// Load reads the configuration. An explicit path must exist; with an
// empty path the standard locations are tried and silently skipped
// when absent. SKILLCRAWL_* environment variables override file
// values, and defaults fill the rest.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("skillcrawl")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, "skillcrawl"))
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("filename", d.Filename)
	v.SetDefault("tags", d.Tags)
	v.SetDefault("priority_repos", d.PriorityRepos)
	v.SetDefault("self_repo", d.SelfRepo)
	v.SetDefault("local_dir", d.LocalDir)
	v.SetDefault("enable_local", d.EnableLocal)
	v.SetDefault("enable_topics", d.EnableTopics)
	v.SetDefault("enable_global", d.EnableGlobal)
	v.SetDefault("star_floor", d.StarFloor)
	v.SetDefault("max_search_pages", d.MaxSearchPages)
	v.SetDefault("per_page", d.PerPage)
	v.SetDefault("global_result_cap", d.GlobalResultCap)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("start_interval", d.StartInterval)
	v.SetDefault("max_runtime", d.MaxRuntime)
	v.SetDefault("stop_buffer", d.StopBuffer)
	v.SetDefault("core_threshold", d.CoreThreshold)
	v.SetDefault("search_threshold", d.SearchThreshold)
	v.SetDefault("max_meta_retries", d.MaxMetaRetries)
	v.SetDefault("max_tree_depth", d.MaxTreeDepth)
	v.SetDefault("chunk_threshold", d.ChunkThreshold)
	v.SetDefault("cache_migration", d.CacheMigration)
	v.SetDefault("enable_archives", d.EnableArchives)
	v.SetDefault("upload_url", d.UploadURL)
	v.SetDefault("cache_path", d.CachePath)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("zip_dir", d.ZipDir)
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if c.Filename == "" {
		return fmt.Errorf("filename must not be empty")
	}
	if c.StarFloor < 0 || c.StarFloor > 1000 {
		return fmt.Errorf("star_floor must be between 0 and 1000 (got %d)", c.StarFloor)
	}
	if c.MaxSearchPages < 1 || c.MaxSearchPages > 100 {
		return fmt.Errorf("max_search_pages must be between 1 and 100 (got %d)", c.MaxSearchPages)
	}
	if c.PerPage < 1 || c.PerPage > 100 {
		return fmt.Errorf("per_page must be between 1 and 100 (got %d)", c.PerPage)
	}
	if c.GlobalResultCap < 100 || c.GlobalResultCap > 10000 {
		return fmt.Errorf("global_result_cap must be between 100 and 10000 (got %d)", c.GlobalResultCap)
	}
	if c.Workers < 1 || c.Workers > 64 {
		return fmt.Errorf("workers must be between 1 and 64 (got %d)", c.Workers)
	}
	if c.StartInterval < 0 {
		return fmt.Errorf("start_interval cannot be negative (got %s)", c.StartInterval)
	}
	if c.MaxRuntime < 0 {
		return fmt.Errorf("max_runtime cannot be negative (got %s)", c.MaxRuntime)
	}
	if c.MaxRuntime > 0 && c.StopBuffer >= c.MaxRuntime {
		return fmt.Errorf("stop_buffer (%s) must be shorter than max_runtime (%s)",
			c.StopBuffer, c.MaxRuntime)
	}
	if c.CoreThreshold < 0 || c.SearchThreshold < 0 {
		return fmt.Errorf("rate limit thresholds cannot be negative")
	}
	if c.MaxMetaRetries < 1 || c.MaxMetaRetries > 10 {
		return fmt.Errorf("max_meta_retries must be between 1 and 10 (got %d)", c.MaxMetaRetries)
	}
	if c.MaxTreeDepth < 1 || c.MaxTreeDepth > 20 {
		return fmt.Errorf("max_tree_depth must be between 1 and 20 (got %d)", c.MaxTreeDepth)
	}
	if c.ChunkThreshold < 10 || c.ChunkThreshold > 100000 {
		return fmt.Errorf("chunk_threshold must be between 10 and 100000 (got %d)", c.ChunkThreshold)
	}
	if c.CacheMigration != "discard" && c.CacheMigration != "migrate" {
		return fmt.Errorf("cache_migration must be 'discard' or 'migrate' (got %q)", c.CacheMigration)
	}
	return nil
}

// Tokens returns the API tokens found in the environment, in pool
// order.
func Tokens() []string {
	var tokens []string
	for _, key := range tokenEnvVars {
		if tok := os.Getenv(key); tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// UploadToken returns the archive storage credential, or empty when
// unset.
func UploadToken() string {
	return os.Getenv(uploadTokenEnvVar)
}
