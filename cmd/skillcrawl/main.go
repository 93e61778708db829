// skillcrawl discovers agent skill definition files across GitHub and
// a local tree, and publishes them as a JSON registry.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/skillcrawl/skillcrawl/internal/cache"
	"github.com/skillcrawl/skillcrawl/internal/config"
	"github.com/skillcrawl/skillcrawl/internal/crawl"
	"github.com/skillcrawl/skillcrawl/internal/ghapi"
)

var (
	configPath string
	verbose    bool

	// flagged overrides; empty/zero means "use the config value"
	flagOutput     string
	flagCachePath  string
	flagMaxMinutes int
)

var rootCmd = &cobra.Command{
	Use:   "skillcrawl",
	Short: "Crawl GitHub for agent skill definitions",
	Long: `skillcrawl discovers SKILL.md-style definition files in local
directories, curated repositories and GitHub-wide search, validates
them, and publishes a deduplicated JSON registry with downloadable
archives. Runs are incremental: unchanged repositories are served from
a revision-keyed cache, and work cut off by the execution budget is
resumed on the next run.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: XDG config dir, then working directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagOutput, "output", "", "registry output directory")
	rootCmd.PersistentFlags().StringVar(&flagCachePath, "cache", "", "cache file path")
	rootCmd.PersistentFlags().IntVar(&flagMaxMinutes, "max-minutes", 0, "execution budget in minutes (0 = config value)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies flag overrides.
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if flagOutput != "" {
		cfg.OutputDir = flagOutput
	}
	if flagCachePath != "" {
		cfg.CachePath = flagCachePath
	}
	if flagMaxMinutes > 0 {
		cfg.MaxRuntime = time.Duration(flagMaxMinutes) * time.Minute
	}
	return cfg
}

// openCache loads the cache with the configured migration strategy.
func openCache(cfg *config.Config) *cache.Cache {
	strategy := cache.MigrateInPlace
	if cfg.CacheMigration == "discard" {
		strategy = cache.MigrateDiscard
	}
	store, err := cache.Load(cfg.CachePath, strategy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return store
}

// newPool assembles the client pool from environment tokens and the
// configured limited-state thresholds.
func newPool(cfg *config.Config) *ghapi.Pool {
	tokens := config.Tokens()
	if len(tokens) == 0 {
		logrus.Warn("no GITHUB_TOKEN set; using one anonymous client with minimal quota")
	} else {
		logrus.Infof("client pool: %d token(s)", len(tokens))
	}
	return ghapi.NewPoolWithThresholds(tokens, ghapi.Thresholds{
		Core:   cfg.CoreThreshold,
		Search: cfg.SearchThreshold,
	})
}

// crawlConfig maps the loaded configuration onto the pipeline's knobs.
func crawlConfig(cfg *config.Config) *crawl.Config {
	return &crawl.Config{
		Filename:        cfg.Filename,
		Tags:            cfg.Tags,
		PriorityRepos:   cfg.PriorityRepos,
		SelfRepo:        cfg.SelfRepo,
		LocalDir:        cfg.LocalDir,
		StarFloor:       cfg.StarFloor,
		MaxSearchPages:  cfg.MaxSearchPages,
		PerPage:         cfg.PerPage,
		GlobalResultCap: cfg.GlobalResultCap,
		Workers:         cfg.Workers,
		StartInterval:   cfg.StartInterval,
		EnableLocal:     cfg.EnableLocal,
		EnableTopics:    cfg.EnableTopics,
		EnableGlobal:    cfg.EnableGlobal,
		MaxMetaRetries:  cfg.MaxMetaRetries,
		MaxTreeDepth:    cfg.MaxTreeDepth,
	}
}
