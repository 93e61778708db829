package skill

// Compact is the minimal stored/published form of a manifest. Fields
// shared by every skill in a repository live in a side table keyed by
// "owner/name"; Compact carries only that key. Compaction and expansion
// are a lossless pair: Expand(CompactManifest(m), m.RepoInfo()) == m.
type Compact struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Author      string `json:"author"`
	Source      Source `json:"source"`

	// Repo is the "owner/name" key into the repository side table.
	Repo  string   `json:"repo"`
	Path  string   `json:"path,omitempty"`
	Files []string `json:"files,omitempty"`

	Version       string   `json:"version,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Compatibility string   `json:"compatibility,omitempty"`
	ArchiveURL    string   `json:"archiveUrl,omitempty"`
}

// CompactManifest strips the repository-level fields from a manifest,
// leaving only the repo key for the side table.
func CompactManifest(m *Manifest) Compact {
	return Compact{
		ID:            m.ID,
		Name:          m.Name,
		Description:   m.Description,
		Category:      m.Category,
		Author:        m.Author,
		Source:        m.Source,
		Repo:          m.Repo.FullName(),
		Path:          m.Path,
		Files:         m.Files,
		Version:       m.Version,
		Tags:          m.Tags,
		Compatibility: m.Compatibility,
		ArchiveURL:    m.ArchiveURL,
	}
}

// Expand reconstructs a full manifest from a compact record and the
// current repository info. Popularity stats come from info, never from
// the stored record, so cached skills always surface fresh stats.
func Expand(c Compact, info RepoInfo) (*Manifest, error) {
	ref, err := ParseRepoRef(c.Repo)
	if err != nil {
		return nil, err
	}
	return &Manifest{
		ID:            c.ID,
		Name:          c.Name,
		Description:   c.Description,
		Category:      c.Category,
		Author:        c.Author,
		Source:        c.Source,
		Repo:          ref,
		Path:          c.Path,
		Files:         c.Files,
		RepoURL:       info.URL,
		Branch:        info.Branch,
		Stars:         info.Stars,
		Forks:         info.Forks,
		PushedAt:      info.PushedAt,
		Version:       c.Version,
		Tags:          c.Tags,
		Compatibility: c.Compatibility,
		ArchiveURL:    c.ArchiveURL,
	}, nil
}
