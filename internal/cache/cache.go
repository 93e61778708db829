// Package cache persists the crawler's incremental state: a two-level
// map of repositories and skills keyed by commit hashes, plus the
// pending post-processing queues. Everything lives in one versioned
// JSON document so a run can resume from exactly where the last one
// stopped.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/skillcrawl/skillcrawl/internal/skill"
)

// FormatVersion is the current on-disk format. Version 1 stored skill
// records inline in each repository entry; version 2 factors them into
// the top-level skills map.
const FormatVersion = 2

// MigrationStrategy selects what happens when a cache file with an
// older format version is loaded.
type MigrationStrategy string

const (
	// MigrateDiscard starts from an empty cache on version mismatch.
	MigrateDiscard MigrationStrategy = "discard"
	// MigrateInPlace upgrades the loaded data one version at a time.
	MigrateInPlace MigrationStrategy = "migrate"
)

// RepoEntry records what the crawler knew about a repository the last
// time it finished scanning it completely. A partial scan never writes
// one of these; the absence of an entry is what forces the re-scan.
type RepoEntry struct {
	// Revision is the repository's latest commit hash at scan time.
	// When it still matches, the whole repository is skippable.
	Revision      string    `json:"revision"`
	SkillKeys     []string  `json:"skillKeys"`
	URL           string    `json:"url"`
	DefaultBranch string    `json:"defaultBranch"`
	Stars         int       `json:"stars"`
	Forks         int       `json:"forks"`
	PushedAt      time.Time `json:"pushedAt,omitzero"`
	FetchedAt     time.Time `json:"fetchedAt"`

	// InlineSkills is the version 1 layout; populated only while a
	// legacy file is being migrated.
	InlineSkills []skill.Compact `json:"skills,omitempty"`
}

// Info returns the repository-level fields in the form expansion needs.
func (r *RepoEntry) Info() skill.RepoInfo {
	return skill.RepoInfo{
		URL:      r.URL,
		Branch:   r.DefaultBranch,
		Stars:    r.Stars,
		Forks:    r.Forks,
		PushedAt: r.PushedAt,
	}
}

// SkillEntry is one cached skill resource. Revision is the commit hash
// of the skill's own directory, so unrelated churn elsewhere in the
// repository leaves the entry valid.
type SkillEntry struct {
	Revision    string        `json:"revision"`
	Skill       skill.Compact `json:"skill"`
	ArchivePath string        `json:"archivePath,omitempty"`
}

// Cache is the persisted crawler state. Mutated in memory during a run
// and written once, atomically, at shutdown.
type Cache struct {
	Version        int                    `json:"version"`
	GeneratedAt    time.Time              `json:"generatedAt"`
	Repos          map[string]*RepoEntry  `json:"repos"`
	Skills         map[string]*SkillEntry `json:"skills"`
	PendingZips    []string               `json:"pendingZips"`
	PendingUploads []string               `json:"pendingUploads"`

	path string
}

// New returns an empty cache that will persist to path.
func New(path string) *Cache {
	return &Cache{
		Version: FormatVersion,
		Repos:   map[string]*RepoEntry{},
		Skills:  map[string]*SkillEntry{},
		path:    path,
	}
}

// Load reads the cache file, applying the configured strategy on a
// format-version mismatch. A missing file and a corrupt file both yield
// an empty cache; neither is fatal.
func Load(path string, strategy MigrationStrategy) (*Cache, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(path), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache %s: %w", path, err)
	}

	var c Cache
	if err := json.Unmarshal(data, &c); err != nil {
		logrus.Warnf("cache %s is corrupt, starting empty: %v", path, err)
		return New(path), nil
	}
	c.path = path

	if c.Version != FormatVersion {
		if strategy == MigrateInPlace {
			if err := c.migrate(); err != nil {
				logrus.Warnf("cache migration from v%d failed, starting empty: %v", c.Version, err)
				return New(path), nil
			}
		} else {
			logrus.Infof("cache format v%d != v%d, discarding", c.Version, FormatVersion)
			return New(path), nil
		}
	}

	if c.Repos == nil {
		c.Repos = map[string]*RepoEntry{}
	}
	if c.Skills == nil {
		c.Skills = map[string]*SkillEntry{}
	}
	return &c, nil
}

// migrate upgrades the in-memory data one format version at a time.
// Each step is additive so future versions stack on top.
func (c *Cache) migrate() error {
	for c.Version < FormatVersion {
		switch c.Version {
		case 1:
			c.migrateV1toV2()
		default:
			return fmt.Errorf("no migration path from version %d", c.Version)
		}
	}
	return nil
}

// migrateV1toV2 lifts the inline skill records of the v1 layout into
// the top-level skills map and replaces them with key references.
func (c *Cache) migrateV1toV2() {
	if c.Skills == nil {
		c.Skills = map[string]*SkillEntry{}
	}
	for _, entry := range c.Repos {
		for _, s := range entry.InlineSkills {
			key := s.ID
			c.Skills[key] = &SkillEntry{Revision: entry.Revision, Skill: s}
			entry.SkillKeys = append(entry.SkillKeys, key)
		}
		entry.InlineSkills = nil
	}
	c.Version = 2
	logrus.Infof("cache migrated v1 -> v2 (%d repos, %d skills)", len(c.Repos), len(c.Skills))
}

// Save writes the cache atomically: temp file in the same directory,
// then rename. Called serially at shutdown, never from in-flight tasks.
func (c *Cache) Save() error {
	c.GeneratedAt = time.Now().UTC()
	c.Version = FormatVersion

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".cache-*.json")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing cache: %w", err)
	}
	return nil
}

// GetRepo looks up a repository entry and resolves every skill key it
// references. Any unresolved key makes the whole lookup a miss: partial
// state must never masquerade as a completed scan.
func (c *Cache) GetRepo(owner, name string) (*RepoEntry, []skill.Compact, bool) {
	entry, ok := c.Repos[owner+"/"+name]
	if !ok {
		return nil, nil, false
	}

	skills := make([]skill.Compact, 0, len(entry.SkillKeys))
	for _, key := range entry.SkillKeys {
		se, ok := c.Skills[key]
		if !ok {
			logrus.Warnf("cache entry %s/%s references missing skill %s; treating as miss", owner, name, key)
			return nil, nil, false
		}
		skills = append(skills, se.Skill)
	}
	return entry, skills, true
}

// SetRepo records a completed repository scan. Callers only invoke this
// after every resource in the repository was processed in this pass.
func (c *Cache) SetRepo(fullName string, entry *RepoEntry) {
	entry.FetchedAt = time.Now().UTC()
	c.Repos[fullName] = entry
}

// GetSkill looks up one cached skill resource.
func (c *Cache) GetSkill(key string) (*SkillEntry, bool) {
	se, ok := c.Skills[key]
	return se, ok
}

// SetSkill stores a compacted skill record under its resource key.
func (c *Cache) SetSkill(key, revision string, s skill.Compact) {
	prev := c.Skills[key]
	entry := &SkillEntry{Revision: revision, Skill: s}
	// Keep the archive reference when the content is unchanged.
	if prev != nil && prev.Revision == revision {
		entry.ArchivePath = prev.ArchivePath
	}
	c.Skills[key] = entry
}

// SetArchivePath records where a skill's built archive lives.
func (c *Cache) SetArchivePath(key, path string) {
	if se, ok := c.Skills[key]; ok {
		se.ArchivePath = path
	}
}

// NeedsRegeneration reports whether a skill's archive must be rebuilt:
// no cached archive reference, or the cached revision no longer matches.
func (c *Cache) NeedsRegeneration(key, currentRevision string) bool {
	se, ok := c.Skills[key]
	if !ok || se.ArchivePath == "" {
		return true
	}
	return se.Revision != currentRevision
}
