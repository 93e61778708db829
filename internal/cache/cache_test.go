package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillcrawl/skillcrawl/internal/skill"
)

func testCompact(id string) skill.Compact {
	return skill.Compact{
		ID:          id,
		Name:        "commit-helper",
		Description: "Writes conventional commit messages from diffs.",
		Category:    "development",
		Author:      "alice",
		Source:      skill.SourceGitHub,
		Repo:        "alice/skills",
		Path:        "commit-helper",
	}
}

func TestLoadMissingFile(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.json"), MigrateDiscard)
	require.NoError(t, err)
	assert.Empty(t, c.Repos)
	assert.Empty(t, c.Skills)
	assert.False(t, c.HasPendingWork())
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	c, err := Load(path, MigrateDiscard)
	require.NoError(t, err)
	assert.Empty(t, c.Repos)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	c := New(path)

	c.SetSkill("alice/skills/commit-helper", "rev1", testCompact("alice/skills/commit-helper"))
	c.SetRepo("alice/skills", &RepoEntry{
		Revision:      "headrev",
		SkillKeys:     []string{"alice/skills/commit-helper"},
		URL:           "https://github.com/alice/skills",
		DefaultBranch: "main",
		Stars:         12,
	})
	c.AddPendingZip("alice/skills/commit-helper")
	require.NoError(t, c.Save())

	got, err := Load(path, MigrateDiscard)
	require.NoError(t, err)

	entry, skills, ok := got.GetRepo("alice", "skills")
	require.True(t, ok)
	assert.Equal(t, "headrev", entry.Revision)
	require.Len(t, skills, 1)
	assert.Equal(t, "commit-helper", skills[0].Name)
	assert.Equal(t, []string{"alice/skills/commit-helper"}, got.PendingZips)
	assert.True(t, got.HasPendingWork())
}

func TestGetRepoUnresolvedKeyIsMiss(t *testing.T) {
	c := New("")
	c.SetRepo("alice/skills", &RepoEntry{
		Revision:  "headrev",
		SkillKeys: []string{"alice/skills/missing"},
	})

	_, _, ok := c.GetRepo("alice", "skills")
	assert.False(t, ok, "repo with a dangling skill key must be a cache miss")
}

func TestVersionMismatchDiscard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	legacy := map[string]any{
		"version": 1,
		"repos": map[string]any{
			"alice/skills": map[string]any{"revision": "r1"},
		},
	}
	data, _ := json.Marshal(legacy)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	c, err := Load(path, MigrateDiscard)
	require.NoError(t, err)
	assert.Empty(t, c.Repos, "discard strategy must start empty")
}

func TestVersionMismatchMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	legacy := Cache{
		Version: 1,
		Repos: map[string]*RepoEntry{
			"alice/skills": {
				Revision:     "r1",
				InlineSkills: []skill.Compact{testCompact("alice/skills/commit-helper")},
			},
		},
	}
	data, err := json.Marshal(&legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	c, err := Load(path, MigrateInPlace)
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, c.Version)

	entry, skills, ok := c.GetRepo("alice", "skills")
	require.True(t, ok)
	assert.Empty(t, entry.InlineSkills)
	assert.Equal(t, []string{"alice/skills/commit-helper"}, entry.SkillKeys)
	require.Len(t, skills, 1)
	assert.Equal(t, "r1", c.Skills["alice/skills/commit-helper"].Revision)
}

func TestNeedsRegeneration(t *testing.T) {
	c := New("")
	key := "alice/skills/commit-helper"

	assert.True(t, c.NeedsRegeneration(key, "rev1"), "unknown skill needs generation")

	c.SetSkill(key, "rev1", testCompact(key))
	assert.True(t, c.NeedsRegeneration(key, "rev1"), "no archive reference yet")

	c.SetArchivePath(key, "zips/commit-helper.zip")
	assert.False(t, c.NeedsRegeneration(key, "rev1"))
	assert.True(t, c.NeedsRegeneration(key, "rev2"), "revision change invalidates the archive")
}

func TestSetSkillKeepsArchiveOnSameRevision(t *testing.T) {
	c := New("")
	key := "alice/skills/commit-helper"

	c.SetSkill(key, "rev1", testCompact(key))
	c.SetArchivePath(key, "zips/a.zip")

	c.SetSkill(key, "rev1", testCompact(key))
	assert.Equal(t, "zips/a.zip", c.Skills[key].ArchivePath)

	c.SetSkill(key, "rev2", testCompact(key))
	assert.Empty(t, c.Skills[key].ArchivePath, "new revision drops the stale archive reference")
}

func TestPendingQueues(t *testing.T) {
	c := New("")
	c.AddPendingZip("a/b/c")
	c.AddPendingZip("a/b/c") // no duplicates
	c.AddPendingUpload("a/b/c")
	assert.Len(t, c.PendingZips, 1)

	c.RemovePendingZip("a/b/c")
	assert.Empty(t, c.PendingZips)
	assert.True(t, c.HasPendingWork())

	c.ClearPending()
	assert.False(t, c.HasPendingWork())
}
