package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/skillcrawl/skillcrawl/internal/budget"
	"github.com/skillcrawl/skillcrawl/internal/cache"
	"github.com/skillcrawl/skillcrawl/internal/config"
	"github.com/skillcrawl/skillcrawl/internal/crawl"
	"github.com/skillcrawl/skillcrawl/internal/ghapi"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Drain archive work left over from an interrupted run",
	Long: `Build and upload the archives a previous run queued when its execution
budget ran out. No discovery happens; only the pending queues are
drained.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()
		store := openCache(cfg)

		if !store.HasPendingWork() {
			fmt.Println("Nothing pending; cache is fully processed.")
			return
		}
		runResume(ctx, cfg, store)
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

// runResume drains the pending queues and saves the cache. Shared with
// the crawl command's automatic resume-only mode.
func runResume(ctx context.Context, cfg *config.Config, store *cache.Cache) {
	zips, uploads := len(store.PendingZips), len(store.PendingUploads)
	fmt.Printf("Resuming: %d pending archives, %d pending uploads\n", zips, uploads)

	mon := budget.NewMonitor(cfg.MaxRuntime, cfg.StopBuffer)
	pool := newPool(cfg)
	api := ghapi.NewAPI(pool, cfg.PerPage)
	api.Calibrate(ctx)

	post := crawl.NewPostProcessor(api, pool, store, mon, newUploader(cfg), cfg.ZipDir, crawlConfig(cfg))
	post.Resume(ctx)

	if err := store.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: saving cache: %v\n", err)
		os.Exit(1)
	}

	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	if store.HasPendingWork() {
		fmt.Printf("%s still pending: %d archives, %d uploads; run resume again\n",
			yellow("!"), len(store.PendingZips), len(store.PendingUploads))
		return
	}
	fmt.Printf("%s drained %d archives and %d uploads\n", green("✓"), zips, uploads)
}
