package skill

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies the discovery channel a manifest came from.
// It doubles as a priority class when duplicate skills are resolved:
// local beats priority-configured beats generic GitHub discovery.
type Source string

const (
	SourceLocal    Source = "local"
	SourcePriority Source = "priority"
	SourceGitHub   Source = "github"
)

// Priority returns the sort rank of a source; lower sorts first.
func (s Source) Priority() int {
	switch s {
	case SourceLocal:
		return 0
	case SourcePriority:
		return 1
	default:
		return 2
	}
}

// RepoRef identifies a repository by owner and name.
type RepoRef struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// FullName returns the canonical "owner/name" form.
func (r RepoRef) FullName() string {
	return r.Owner + "/" + r.Name
}

// ParseRepoRef parses an "owner/name" string.
func ParseRepoRef(s string) (RepoRef, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return RepoRef{}, fmt.Errorf("invalid repository reference %q (want owner/name)", s)
	}
	return RepoRef{Owner: parts[0], Name: parts[1]}, nil
}

// RepoInfo carries the repository-level fields shared by every skill in
// one repository. These are factored out of manifests during compaction
// and re-joined during expansion.
type RepoInfo struct {
	URL      string    `json:"url"`
	Branch   string    `json:"branch"`
	Stars    int       `json:"stars"`
	Forks    int       `json:"forks"`
	PushedAt time.Time `json:"pushedAt,omitzero"`
}

// Manifest is the atomic unit of the registry: one validated skill file
// plus its sibling files in a single directory.
type Manifest struct {
	// ID is "owner/repo" for a repo-root skill or "owner/repo/path"
	// for a skill in a subdirectory.
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Author      string `json:"author"`
	Source      Source `json:"source"`

	Repo RepoRef `json:"repo"`
	// Path is the skill directory relative to the repository root;
	// empty for a repo-root skill.
	Path  string   `json:"path,omitempty"`
	Files []string `json:"files"`

	// Repository-level fields, duplicated here for convenience while
	// the manifest is in flight; stripped by compaction.
	RepoURL  string    `json:"repoUrl"`
	Branch   string    `json:"branch"`
	Stars    int       `json:"stars"`
	Forks    int       `json:"forks"`
	PushedAt time.Time `json:"pushedAt,omitzero"`

	Version       string   `json:"version,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Compatibility string   `json:"compatibility,omitempty"`
	ArchiveURL    string   `json:"archiveUrl,omitempty"`

	// Revision is the commit hash of the skill's directory, not the
	// repository head. Unrelated changes elsewhere in the repository
	// do not move it.
	Revision string `json:"revision,omitempty"`
}

// Key returns the cache key for this manifest's resource:
// "owner/repo" or "owner/repo/path".
func (m *Manifest) Key() string {
	if m.Path == "" {
		return m.Repo.FullName()
	}
	return m.Repo.FullName() + "/" + m.Path
}

// RepoInfo extracts the repository-level fields of this manifest.
func (m *Manifest) RepoInfo() RepoInfo {
	return RepoInfo{
		URL:      m.RepoURL,
		Branch:   m.Branch,
		Stars:    m.Stars,
		Forks:    m.Forks,
		PushedAt: m.PushedAt,
	}
}

// RefreshStats overwrites the mutable popularity fields from current
// repository data. Cached manifests are reused verbatim on a revision
// match except for these fields, which change independently of content.
func (m *Manifest) RefreshStats(info RepoInfo) {
	m.Stars = info.Stars
	m.Forks = info.Forks
	m.PushedAt = info.PushedAt
}
