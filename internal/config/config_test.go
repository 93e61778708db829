package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skillcrawl.yaml")
	body := `
filename: AGENT.md
tags:
  - my-skills
workers: 4
max_runtime: 30m
stop_buffer: 2m
star_floor: 5
priority_repos:
  - octo/curated
cache_migration: discard
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "AGENT.md", cfg.Filename)
	assert.Equal(t, []string{"my-skills"}, cfg.Tags)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 30*time.Minute, cfg.MaxRuntime)
	assert.Equal(t, 2*time.Minute, cfg.StopBuffer)
	assert.Equal(t, 5, cfg.StarFloor)
	assert.Equal(t, []string{"octo/curated"}, cfg.PriorityRepos)
	assert.Equal(t, "discard", cfg.CacheMigration)

	// Untouched settings keep their defaults.
	assert.Equal(t, 100, cfg.PerPage)
	assert.Equal(t, 500, cfg.ChunkThreshold)
	assert.True(t, cfg.EnableArchives)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skillcrawl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 4\n"), 0o644))
	t.Setenv("SKILLCRAWL_WORKERS", "16")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Workers)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero workers", "workers: 0"},
		{"oversized page", "per_page: 250"},
		{"buffer swallows runtime", "max_runtime: 1m\nstop_buffer: 5m"},
		{"unknown migration", "cache_migration: yolo"},
		{"empty filename", `filename: ""`},
		{"deep walk", "max_tree_depth: 99"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "skillcrawl.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestTokensInPoolOrder(t *testing.T) {
	for _, key := range tokenEnvVars {
		t.Setenv(key, "")
	}
	t.Setenv("GITHUB_TOKEN", "tok-a")
	t.Setenv("GITHUB_TOKEN_3", "tok-c")

	assert.Equal(t, []string{"tok-a", "tok-c"}, Tokens())
}

func TestTokensEmptyEnvironment(t *testing.T) {
	for _, key := range tokenEnvVars {
		t.Setenv(key, "")
	}
	assert.Empty(t, Tokens())
}

func TestUploadToken(t *testing.T) {
	t.Setenv(uploadTokenEnvVar, "secret")
	assert.Equal(t, "secret", UploadToken())
}
