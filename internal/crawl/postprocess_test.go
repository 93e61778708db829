package crawl

import (
	"archive/zip"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillcrawl/skillcrawl/internal/archive"
	"github.com/skillcrawl/skillcrawl/internal/cache"
	"github.com/skillcrawl/skillcrawl/internal/skill"
)

// fakeUploader records uploads and answers with a predictable URL, or
// fails every call when err is set.
type fakeUploader struct {
	uploads []string
	err     error
}

func (u *fakeUploader) Upload(_ context.Context, _ string, remoteName string) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.uploads = append(u.uploads, remoteName)
	return "https://archives.example.com/" + remoteName, nil
}

func testManifest(owner, repo, path, rev string) *skill.Manifest {
	m := &skill.Manifest{
		ID:          owner + "/" + repo,
		Name:        "test-skill",
		Description: "a genuinely descriptive summary line",
		Author:      owner,
		Source:      skill.SourceGitHub,
		Repo:        skill.RepoRef{Owner: owner, Name: repo},
		Path:        path,
		Files:       []string{"SKILL.md"},
		Revision:    rev,
	}
	if path != "" {
		m.ID += "/" + path
	}
	return m
}

func testPostProcessor(t *testing.T, api *fakeAPI, stop *fnStopper, up *fakeUploader) (*PostProcessor, *cache.Cache) {
	t.Helper()
	store := cache.New(filepath.Join(t.TempDir(), "cache.json"))
	var uploader archive.Uploader
	if up != nil {
		uploader = up
	}
	p := NewPostProcessor(api, &fakePool{}, store, stop, uploader, t.TempDir(), nil)
	return p, store
}

func TestProcessBuildsAndUploadsArchive(t *testing.T) {
	api := newFakeAPI()
	api.files["octo/hub/SKILL.md"] = validSkillDoc("test-skill")

	up := &fakeUploader{}
	p, store := testPostProcessor(t, api, neverStop(), up)

	m := testManifest("octo", "hub", "", "rev-1")
	store.SetSkill(m.Key(), "rev-0", skill.CompactManifest(m))

	p.Process(context.Background(), []*skill.Manifest{m})

	assert.Equal(t, []string{"octo__hub.zip"}, up.uploads)
	assert.Equal(t, "https://archives.example.com/octo__hub.zip", m.ArchiveURL)

	se, ok := store.GetSkill(m.Key())
	require.True(t, ok)
	require.NotEmpty(t, se.ArchivePath)
	assert.Equal(t, m.ArchiveURL, se.Skill.ArchiveURL, "cache record must carry the uploaded URL")

	r, err := zip.OpenReader(se.ArchivePath)
	require.NoError(t, err)
	defer r.Close()
	require.Len(t, r.File, 1)
	assert.Equal(t, "SKILL.md", r.File[0].Name)
}

func TestProcessSecondPassKeepsArchiveURL(t *testing.T) {
	api := newFakeAPI()
	api.files["octo/hub/SKILL.md"] = validSkillDoc("test-skill")

	up := &fakeUploader{}
	p, store := testPostProcessor(t, api, neverStop(), up)

	m := testManifest("octo", "hub", "", "rev-1")
	store.SetSkill(m.Key(), "rev-1", skill.CompactManifest(m))
	p.Process(context.Background(), []*skill.Manifest{m})
	require.Equal(t, "https://archives.example.com/octo__hub.zip", m.ArchiveURL)

	// Same revision on the next run: the archive is current, so the
	// manifest gets the cached URL and nothing is rebuilt or uploaded.
	m2 := testManifest("octo", "hub", "", "rev-1")
	p.Process(context.Background(), []*skill.Manifest{m2})

	assert.Equal(t, m.ArchiveURL, m2.ArchiveURL)
	assert.Len(t, up.uploads, 1, "an unchanged skill must not be re-uploaded")
}

func TestProcessReusesCurrentArchive(t *testing.T) {
	api := newFakeAPI()
	up := &fakeUploader{}
	p, store := testPostProcessor(t, api, neverStop(), up)

	m := testManifest("octo", "hub", "", "rev-1")
	cs := skill.CompactManifest(m)
	cs.ArchiveURL = "https://archives.example.com/octo__hub.zip"
	store.SetSkill(m.Key(), "rev-1", cs)
	store.SetArchivePath(m.Key(), filepath.Join(t.TempDir(), "octo__hub.zip"))

	p.Process(context.Background(), []*skill.Manifest{m})

	assert.Zero(t, api.fileCalls, "a current archive needs no fetches")
	assert.Empty(t, up.uploads)
	assert.Equal(t, "https://archives.example.com/octo__hub.zip", m.ArchiveURL)
}

func TestProcessQueuesWorkAtDeadline(t *testing.T) {
	api := newFakeAPI()
	stop := &fnStopper{fn: func() bool { return true }}
	p, store := testPostProcessor(t, api, stop, &fakeUploader{})

	m := testManifest("octo", "hub", "", "rev-1")
	store.SetSkill(m.Key(), "rev-0", skill.CompactManifest(m))

	p.Process(context.Background(), []*skill.Manifest{m})

	assert.Equal(t, []string{"octo/hub"}, store.PendingZips)
	assert.Empty(t, store.PendingUploads)
	assert.Zero(t, api.fileCalls)
	assert.True(t, store.HasPendingWork())
}

func TestProcessQueuesFailedUpload(t *testing.T) {
	api := newFakeAPI()
	api.files["octo/hub/SKILL.md"] = validSkillDoc("test-skill")

	up := &fakeUploader{err: errors.New("storage down")}
	p, store := testPostProcessor(t, api, neverStop(), up)

	m := testManifest("octo", "hub", "", "rev-1")
	store.SetSkill(m.Key(), "rev-0", skill.CompactManifest(m))

	p.Process(context.Background(), []*skill.Manifest{m})

	assert.Empty(t, m.ArchiveURL)
	assert.Equal(t, []string{"octo/hub"}, store.PendingUploads)
	se, _ := store.GetSkill(m.Key())
	assert.NotEmpty(t, se.ArchivePath, "the built archive survives the failed upload")
}

func TestProcessSkipsUploadWhenDisabled(t *testing.T) {
	api := newFakeAPI()
	api.files["octo/hub/SKILL.md"] = validSkillDoc("test-skill")

	p, store := testPostProcessor(t, api, neverStop(), nil)

	m := testManifest("octo", "hub", "", "rev-1")
	store.SetSkill(m.Key(), "rev-0", skill.CompactManifest(m))

	p.Process(context.Background(), []*skill.Manifest{m})

	assert.Empty(t, m.ArchiveURL)
	assert.Empty(t, store.PendingUploads)
	se, _ := store.GetSkill(m.Key())
	assert.NotEmpty(t, se.ArchivePath)
}

func TestResumeDrainsQueues(t *testing.T) {
	api := newFakeAPI()
	api.files["octo/hub/SKILL.md"] = validSkillDoc("test-skill")

	up := &fakeUploader{}
	p, store := testPostProcessor(t, api, neverStop(), up)

	m := testManifest("octo", "hub", "", "rev-1")
	store.SetSkill(m.Key(), "rev-1", skill.CompactManifest(m))
	store.SetRepo("octo/hub", &cache.RepoEntry{
		Revision:      "rev-1",
		SkillKeys:     []string{"octo/hub"},
		URL:           "https://github.com/octo/hub",
		DefaultBranch: "main",
	})
	store.AddPendingZip(m.Key())

	p.Resume(context.Background())

	assert.Empty(t, store.PendingZips)
	assert.Empty(t, store.PendingUploads)
	assert.Equal(t, []string{"octo__hub.zip"}, up.uploads)

	se, ok := store.GetSkill(m.Key())
	require.True(t, ok)
	assert.NotEmpty(t, se.ArchivePath)
	assert.Equal(t, "https://archives.example.com/octo__hub.zip", se.Skill.ArchiveURL)
}

func TestResumeDropsVanishedEntries(t *testing.T) {
	p, store := testPostProcessor(t, newFakeAPI(), neverStop(), &fakeUploader{})

	store.AddPendingZip("gone/away")
	store.AddPendingUpload("also/gone")

	p.Resume(context.Background())

	assert.Empty(t, store.PendingZips)
	assert.Empty(t, store.PendingUploads)
	assert.False(t, store.HasPendingWork())
}

func TestResumeStopsAtDeadlineAndKeepsQueue(t *testing.T) {
	api := newFakeAPI()
	stop := &fnStopper{fn: func() bool { return true }}
	p, store := testPostProcessor(t, api, stop, &fakeUploader{})

	m := testManifest("octo", "hub", "", "rev-1")
	store.SetSkill(m.Key(), "rev-1", skill.CompactManifest(m))
	store.AddPendingZip(m.Key())

	p.Resume(context.Background())

	assert.Equal(t, []string{"octo/hub"}, store.PendingZips, "queue must survive an immediate deadline")
}

func TestBuildArchiveRequiresCanonicalFile(t *testing.T) {
	api := newFakeAPI()
	// Only the sibling exists; the canonical file fetch fails.
	api.files["octo/hub/examples.md"] = []byte("examples")

	p, _ := testPostProcessor(t, api, neverStop(), nil)
	m := testManifest("octo", "hub", "", "rev-1")
	m.Files = []string{"SKILL.md", "examples.md"}

	_, err := p.buildArchive(context.Background(), m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SKILL.md")
}

func TestBuildArchiveToleratesMissingSiblings(t *testing.T) {
	api := newFakeAPI()
	api.files["octo/hub/SKILL.md"] = validSkillDoc("test-skill")

	p, _ := testPostProcessor(t, api, neverStop(), nil)
	m := testManifest("octo", "hub", "", "rev-1")
	m.Files = []string{"SKILL.md", "missing.md"}

	zipPath, err := p.buildArchive(context.Background(), m)
	require.NoError(t, err)

	r, err := zip.OpenReader(zipPath)
	require.NoError(t, err)
	defer r.Close()
	require.Len(t, r.File, 1)
	assert.Equal(t, "SKILL.md", r.File[0].Name)
}
