package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/skillcrawl/skillcrawl/internal/cache"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache contents and pending work",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		store := openCache(cfg)

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== skillcrawl cache ==="))
		fmt.Printf("  file:    %s\n", cfg.CachePath)
		fmt.Printf("  format:  v%d\n", cache.FormatVersion)
		if !store.GeneratedAt.IsZero() {
			fmt.Printf("  saved:   %s\n", store.GeneratedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("  repos:   %d\n", len(store.Repos))
		fmt.Printf("  skills:  %d\n", len(store.Skills))

		archived := 0
		for _, se := range store.Skills {
			if se.Skill.ArchiveURL != "" {
				archived++
			}
		}
		fmt.Printf("  uploaded archives: %d\n", archived)

		fmt.Println()
		if store.HasPendingWork() {
			fmt.Printf("%s\n", yellow("Pending work:"))
			for _, key := range store.PendingZips {
				fmt.Printf("  zip     %s\n", key)
			}
			for _, key := range store.PendingUploads {
				fmt.Printf("  upload  %s\n", key)
			}
			fmt.Println("\nRun 'skillcrawl resume' to drain it.")
		} else {
			fmt.Printf("  %s\n", gray("No pending work"))
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
