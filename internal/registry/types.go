// Package registry finalizes crawl results into the published registry
// format: sorted, deduplicated, compacted and, past a size threshold,
// partitioned into repository-contiguous chunk files.
package registry

import (
	"time"

	"github.com/skillcrawl/skillcrawl/internal/skill"
)

// Meta describes one published snapshot. RateLimited and TimedOut warn
// downstream consumers that the dataset may be incomplete.
type Meta struct {
	GeneratedAt time.Time `json:"generatedAt"`
	RunID       string    `json:"runId"`

	Total    int `json:"total"`
	Local    int `json:"local"`
	Priority int `json:"priority"`
	Remote   int `json:"remote"`

	RateLimited bool `json:"rateLimited"`
	TimedOut    bool `json:"timedOut"`

	// Chunks lists the chunk file names when the skill list was
	// partitioned; empty for a single-document snapshot.
	Chunks []string `json:"chunks,omitempty"`
}

// Document is the published registry shape, shared by the main file and
// every chunk file. Manifests never duplicate the repository fields
// reachable through their repo key.
type Document struct {
	Meta         Meta                      `json:"meta"`
	Repositories map[string]skill.RepoInfo `json:"repositories"`
	Skills       []skill.Compact           `json:"skills"`
}
