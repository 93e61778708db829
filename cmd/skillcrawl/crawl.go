package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/skillcrawl/skillcrawl/internal/archive"
	"github.com/skillcrawl/skillcrawl/internal/budget"
	"github.com/skillcrawl/skillcrawl/internal/config"
	"github.com/skillcrawl/skillcrawl/internal/crawl"
	"github.com/skillcrawl/skillcrawl/internal/ghapi"
	"github.com/skillcrawl/skillcrawl/internal/registry"
	"github.com/skillcrawl/skillcrawl/internal/skill"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run a full discovery pass and publish the registry",
	Long: `Run the discovery pipeline: local scan, priority repositories, topic
search and global search, then build archives and write the registry.

When a previous run left unfinished archive work, this command drains
it instead of starting a new crawl; run it again afterwards for the
full pass.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()
		store := openCache(cfg)

		if store.HasPendingWork() {
			yellow := color.New(color.FgYellow).SprintFunc()
			fmt.Printf("%s\n", yellow("Unfinished archive work from a previous run; resuming it first."))
			fmt.Println("Run 'skillcrawl crawl' again afterwards for a full pass.")
			runResume(ctx, cfg, store)
			return
		}

		runID := uuid.NewString()
		mon := budget.NewMonitor(cfg.MaxRuntime, cfg.StopBuffer)
		pool := newPool(cfg)
		api := ghapi.NewAPI(pool, cfg.PerPage)
		api.Calibrate(ctx)

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("\n%s\n\n", cyan("=== skillcrawl run "+runID[:8]+" ==="))

		crawler := crawl.New(api, pool, store, mon, crawlConfig(cfg))
		res := crawler.Run(ctx)

		if cfg.EnableArchives {
			post := crawl.NewPostProcessor(api, pool, store, mon, newUploader(cfg), cfg.ZipDir, crawlConfig(cfg))
			post.Process(ctx, res.Manifests)
		}

		final := registry.Finalize(res.Manifests)
		meta := registry.Meta{
			GeneratedAt: time.Now().UTC(),
			RunID:       runID,
			RateLimited: res.RateLimited,
			TimedOut:    res.TimedOut,
		}
		mainDoc, chunks := registry.Build(final, meta, cfg.ChunkThreshold)
		if err := registry.Write(cfg.OutputDir, mainDoc, chunks); err != nil {
			fmt.Fprintf(os.Stderr, "Error: writing registry: %v\n", err)
			os.Exit(1)
		}

		if err := store.Save(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: saving cache: %v\n", err)
			os.Exit(1)
		}

		printSummary(res, final, chunks, cfg.OutputDir)
	},
}

func init() {
	rootCmd.AddCommand(crawlCmd)
}

// newUploader returns nil when remote upload is not configured; built
// archives then stay in the local zip directory.
func newUploader(cfg *config.Config) archive.Uploader {
	if cfg.UploadURL == "" {
		return nil
	}
	return archive.NewHTTPUploader(cfg.UploadURL, config.UploadToken())
}

func printSummary(res *crawl.Result, final []*skill.Manifest, chunks []registry.Document, outputDir string) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	local, priority, remote := registry.Counts(final)
	fmt.Println()
	fmt.Printf("%s %d skills published (%d local, %d priority, %d remote)\n",
		green("✓"), len(final), local, priority, remote)
	if len(chunks) > 0 {
		fmt.Printf("  split into %d chunk files\n", len(chunks))
	}
	fmt.Printf("  output:  %s\n", outputDir)
	fmt.Printf("  elapsed: %s\n", res.Elapsed.Round(time.Second))

	if len(res.Errors) > 0 {
		fmt.Printf("%s %d repositories skipped with errors (see log)\n", yellow("!"), len(res.Errors))
	}
	if res.RateLimited {
		fmt.Printf("%s hit API rate limits; results may be incomplete\n", yellow("!"))
	}
	if res.TimedOut {
		fmt.Printf("%s execution budget exhausted; results may be incomplete\n", yellow("!"))
	}
}
