package registry

import (
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/skillcrawl/skillcrawl/internal/skill"
)

// signature normalizes the (name, description) pair used for duplicate
// detection: case-folded and trimmed. Two skills sharing boilerplate
// description text will merge; that is a deliberate product policy, not
// an accident, and the losers are logged so merges stay auditable.
func signature(m *skill.Manifest) string {
	return strings.ToLower(strings.TrimSpace(m.Name)) + "\x00" +
		strings.ToLower(strings.TrimSpace(m.Description))
}

// Finalize sorts manifests by source priority and popularity, then
// drops duplicates. The first occurrence in sorted order wins, so an
// identical skill mirrored across repositories surfaces once, from its
// most authoritative source.
func Finalize(manifests []*skill.Manifest) []*skill.Manifest {
	sorted := make([]*skill.Manifest, len(manifests))
	copy(sorted, manifests)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if ap, bp := a.Source.Priority(), b.Source.Priority(); ap != bp {
			return ap < bp
		}
		if a.Stars != b.Stars {
			return a.Stars > b.Stars
		}
		return a.ID < b.ID
	})

	seen := make(map[string]*skill.Manifest, len(sorted))
	out := make([]*skill.Manifest, 0, len(sorted))
	for _, m := range sorted {
		sig := signature(m)
		if winner, ok := seen[sig]; ok {
			logrus.Infof("dropping duplicate skill %s (kept %s)", m.ID, winner.ID)
			continue
		}
		seen[sig] = m
		out = append(out, m)
	}
	return out
}

// Counts tallies manifests per provenance for the snapshot metadata.
func Counts(manifests []*skill.Manifest) (local, priority, remote int) {
	for _, m := range manifests {
		switch m.Source {
		case skill.SourceLocal:
			local++
		case skill.SourcePriority:
			priority++
		default:
			remote++
		}
	}
	return
}

// repoGroup is a run of finalized manifests sharing one repository,
// kept contiguous so chunking never splits a repository across files.
type repoGroup struct {
	repo   string
	info   skill.RepoInfo
	skills []skill.Compact
}

// groupByRepo compacts manifests and groups them by repository in
// first-appearance order.
func groupByRepo(manifests []*skill.Manifest) []repoGroup {
	index := map[string]int{}
	var groups []repoGroup
	for _, m := range manifests {
		key := m.Repo.FullName()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, repoGroup{repo: key, info: m.RepoInfo()})
		}
		groups[i].skills = append(groups[i].skills, skill.CompactManifest(m))
	}
	return groups
}

// Build assembles the publishable documents from finalized manifests.
// Below the chunk threshold everything lands in the main document; above
// it skills are packed into repository-contiguous chunks, each chunk
// self-contained with exactly the repository entries it references, and
// the main document carries the chunk list plus the full repository map.
func Build(manifests []*skill.Manifest, meta Meta, chunkSize int) (main Document, chunks []Document) {
	groups := groupByRepo(manifests)

	allRepos := make(map[string]skill.RepoInfo, len(groups))
	total := 0
	for _, g := range groups {
		allRepos[g.repo] = g.info
		total += len(g.skills)
	}

	meta.Total = total
	meta.Local, meta.Priority, meta.Remote = Counts(manifests)
	main = Document{Meta: meta, Repositories: allRepos, Skills: []skill.Compact{}}

	if chunkSize <= 0 || total <= chunkSize {
		for _, g := range groups {
			main.Skills = append(main.Skills, g.skills...)
		}
		return main, nil
	}

	var current *Document
	flush := func() {
		if current != nil {
			chunks = append(chunks, *current)
			current = nil
		}
	}
	for _, g := range groups {
		// A repository never splits: oversize groups get their own
		// chunk rather than straddling two.
		if current != nil && len(current.Skills)+len(g.skills) > chunkSize {
			flush()
		}
		if current == nil {
			current = &Document{Repositories: map[string]skill.RepoInfo{}}
		}
		current.Repositories[g.repo] = g.info
		current.Skills = append(current.Skills, g.skills...)
	}
	flush()

	for i := range chunks {
		// Chunks repeat the run identity and incompleteness flags so a
		// chunk file read on its own still warns its consumer.
		chunks[i].Meta = Meta{
			GeneratedAt: meta.GeneratedAt,
			RunID:       meta.RunID,
			RateLimited: meta.RateLimited,
			TimedOut:    meta.TimedOut,
			Total:       len(chunks[i].Skills),
		}
		main.Meta.Chunks = append(main.Meta.Chunks, chunkFileName(i))
	}
	return main, chunks
}
