package crawl

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillcrawl/skillcrawl/internal/cache"
	"github.com/skillcrawl/skillcrawl/internal/ghapi"
	"github.com/skillcrawl/skillcrawl/internal/skill"
)

// fakeAPI serves canned responses and counts calls so tests can assert
// exactly which endpoints a code path touched.
type fakeAPI struct {
	mu sync.Mutex

	repos   map[string]*ghapi.Repo          // "owner/name"
	files   map[string][]byte               // "owner/name/path"
	dirs    map[string][]ghapi.ContentEntry // "owner/name|dir"
	commits map[string]string               // "owner/name|path"

	codePages  map[string]map[int]*ghapi.SearchCodePage // query -> page
	topicPages map[string]map[int]*ghapi.SearchReposPage
	codeErr    error

	repoCalls   int
	fileCalls   int
	listCalls   int
	commitCalls int
	codeCalls   int
	topicCalls  int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		repos:      map[string]*ghapi.Repo{},
		files:      map[string][]byte{},
		dirs:       map[string][]ghapi.ContentEntry{},
		commits:    map[string]string{},
		codePages:  map[string]map[int]*ghapi.SearchCodePage{},
		topicPages: map[string]map[int]*ghapi.SearchReposPage{},
	}
}

func (f *fakeAPI) GetRepo(_ context.Context, owner, name string) (*ghapi.Repo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repoCalls++
	if r, ok := f.repos[owner+"/"+name]; ok {
		return r, nil
	}
	return nil, ghapi.ErrNotFound
}

func (f *fakeAPI) ListContents(_ context.Context, owner, repo, dir string) ([]ghapi.ContentEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if es, ok := f.dirs[owner+"/"+repo+"|"+dir]; ok {
		return es, nil
	}
	return nil, ghapi.ErrNotFound
}

func (f *fakeAPI) GetFile(_ context.Context, owner, repo, path, _ string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fileCalls++
	if b, ok := f.files[owner+"/"+repo+"/"+path]; ok {
		return b, nil
	}
	return nil, ghapi.ErrNotFound
}

func (f *fakeAPI) LatestCommit(_ context.Context, owner, repo, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitCalls++
	if rev, ok := f.commits[owner+"/"+repo+"|"+path]; ok {
		return rev, nil
	}
	return "", ghapi.ErrNotFound
}

func (f *fakeAPI) SearchRepositoriesByTopic(_ context.Context, topic string, page int) (*ghapi.SearchReposPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topicCalls++
	if pages, ok := f.topicPages[topic]; ok {
		if res, ok := pages[page]; ok {
			return res, nil
		}
	}
	return &ghapi.SearchReposPage{}, nil
}

func (f *fakeAPI) SearchCode(_ context.Context, query string, page int) (*ghapi.SearchCodePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codeCalls++
	if f.codeErr != nil {
		return nil, f.codeErr
	}
	if pages, ok := f.codePages[query]; ok {
		if res, ok := pages[page]; ok {
			return res, nil
		}
	}
	return &ghapi.SearchCodePage{}, nil
}

func (f *fakeAPI) counts() (file, list, commit, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fileCalls, f.listCalls, f.commitCalls, f.codeCalls
}

// fakePool is always available unless a bucket class is marked limited.
type fakePool struct {
	mu      sync.Mutex
	limited map[ghapi.BucketClass]bool
	any     bool
}

func (p *fakePool) AllLimited(class ghapi.BucketClass) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.limited[class]
}

func (p *fakePool) WaitForAvailable(_ context.Context, _ ghapi.BucketClass, shouldStop func() bool) bool {
	return !shouldStop()
}

func (p *fakePool) AnyLimited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.any
}

// fnStopper trips when its predicate first reports true and stays
// tripped, matching the monitor's one-shot behavior.
type fnStopper struct {
	mu      sync.Mutex
	fn      func() bool
	tripped bool
}

func neverStop() *fnStopper {
	return &fnStopper{fn: func() bool { return false }}
}

func (s *fnStopper) ShouldStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tripped {
		return true
	}
	if s.fn() {
		s.tripped = true
	}
	return s.tripped
}

func (s *fnStopper) TimedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tripped
}

func validSkillDoc(name string) []byte {
	body := strings.Repeat("useful instruction text ", 30)
	return []byte("---\nname: " + name + "\ndescription: a genuinely descriptive summary line\n---\n" + body)
}

func testRepo(fullName string, stars int) *ghapi.Repo {
	parts := strings.SplitN(fullName, "/", 2)
	r := &ghapi.Repo{
		Name:          parts[1],
		FullName:      fullName,
		HTMLURL:       "https://github.com/" + fullName,
		DefaultBranch: "main",
		Stars:         stars,
		PushedAt:      time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	r.Owner.Login = parts[0]
	return r
}

func testCrawler(t *testing.T, api *fakeAPI, pool *fakePool, stop *fnStopper, cfg *Config) *Crawler {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.StartInterval = 0
	store := cache.New(filepath.Join(t.TempDir(), "cache.json"))
	return New(api, pool, store, stop, cfg)
}

func TestRunPrioritySkipsSelfAndBadRefs(t *testing.T) {
	api := newFakeAPI()
	api.repos["octo/tools"] = testRepo("octo/tools", 10)
	api.commits["octo/tools|"] = "aaa111"
	api.dirs["octo/tools|"] = []ghapi.ContentEntry{}

	cfg := DefaultConfig()
	cfg.SelfRepo = "octo/registry"
	cfg.PriorityRepos = []string{"octo/registry", "octo/tools", "octo/tools", "not-a-ref"}
	cfg.EnableLocal = false
	cfg.EnableTopics = false
	cfg.EnableGlobal = false

	c := testCrawler(t, api, &fakePool{}, neverStop(), cfg)
	res := c.Run(context.Background())

	// Self repo and the duplicate never reach the network; the bad ref
	// is reported, not fatal.
	assert.Equal(t, 1, api.repoCalls)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "priority repo")
	assert.False(t, res.TimedOut)
}

func TestRunTopicsFiltersLowStarForks(t *testing.T) {
	api := newFakeAPI()
	fork := testRepo("someone/fork-copy", 0)
	fork.Fork = true
	keeper := testRepo("octo/keeper", 25)
	api.topicPages["claude-skills"] = map[int]*ghapi.SearchReposPage{
		1: {Items: []ghapi.Repo{*fork, *keeper}},
	}
	api.commits["octo/keeper|"] = "bbb222"
	api.dirs["octo/keeper|"] = []ghapi.ContentEntry{}

	cfg := DefaultConfig()
	cfg.Tags = []string{"claude-skills"}
	cfg.EnableLocal = false
	cfg.EnableGlobal = false
	cfg.StarFloor = 2

	c := testCrawler(t, api, &fakePool{}, neverStop(), cfg)
	c.Run(context.Background())

	// Only the non-fork repository was scanned; its head commit query
	// is the tell.
	assert.Equal(t, 1, api.commitCalls)
	assert.True(t, c.seen["octo/keeper"])
	assert.False(t, c.seen["someone/fork-copy"])
}

func TestRunGlobalBackfillsRepoMetadata(t *testing.T) {
	api := newFakeAPI()
	repo := testRepo("found/by-search", 7)
	api.repos["found/by-search"] = repo
	api.commits["found/by-search|"] = "ccc333"
	api.files["found/by-search/SKILL.md"] = validSkillDoc("search-found")
	api.dirs["found/by-search|"] = []ghapi.ContentEntry{
		{Name: "SKILL.md", Path: "SKILL.md", Type: "file"},
	}
	hit := ghapi.CodeResult{Name: "SKILL.md", Path: "SKILL.md"}
	hit.Repository = *repo
	api.codePages["filename:SKILL.md"] = map[int]*ghapi.SearchCodePage{
		1: {Items: []ghapi.CodeResult{hit}},
	}
	api.codePages["filename:SKILL.md repo:found/by-search"] = map[int]*ghapi.SearchCodePage{
		1: {Items: []ghapi.CodeResult{hit}},
	}

	cfg := DefaultConfig()
	cfg.EnableLocal = false
	cfg.EnableTopics = false

	c := testCrawler(t, api, &fakePool{}, neverStop(), cfg)
	res := c.Run(context.Background())

	assert.Equal(t, 1, api.repoCalls)
	require.Len(t, res.Manifests, 1)
	assert.Equal(t, "found/by-search", res.Manifests[0].ID)
	assert.Equal(t, skill.SourceGitHub, res.Manifests[0].Source)
}

func TestWithRetryExhaustsOnPersistentRateLimit(t *testing.T) {
	c := testCrawler(t, newFakeAPI(), &fakePool{}, neverStop(), nil)

	calls := 0
	err := c.withRetry(context.Background(), ghapi.BucketCore, func() error {
		calls++
		return ghapi.ErrRateLimited
	})

	assert.ErrorIs(t, err, ghapi.ErrRateLimited)
	assert.Equal(t, c.cfg.MaxMetaRetries, calls)
}

func TestWithRetryStopsAtDeadline(t *testing.T) {
	stop := &fnStopper{fn: func() bool { return true }}
	c := testCrawler(t, newFakeAPI(), &fakePool{}, stop, nil)

	err := c.withRetry(context.Background(), ghapi.BucketCore, func() error {
		t.Fatal("must not be called after the deadline")
		return nil
	})
	assert.ErrorIs(t, err, errStopped)
}

func TestResultFlagsReflectPoolAndMonitor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableLocal = false
	cfg.EnableTopics = false
	cfg.EnableGlobal = false

	pool := &fakePool{any: true}
	stop := &fnStopper{fn: func() bool { return true }}
	c := testCrawler(t, newFakeAPI(), pool, stop, cfg)

	res := c.Run(context.Background())
	assert.True(t, res.RateLimited)
	assert.True(t, res.TimedOut)
	assert.Empty(t, res.Manifests)
}

func TestMarkSeen(t *testing.T) {
	c := testCrawler(t, newFakeAPI(), &fakePool{}, neverStop(), nil)
	assert.True(t, c.markSeen("a/b"))
	assert.False(t, c.markSeen("a/b"))
	assert.True(t, c.markSeen("a/c"))
}

func TestDefaultConfigApplied(t *testing.T) {
	c := New(newFakeAPI(), &fakePool{}, cache.New(filepath.Join(t.TempDir(), "c.json")), neverStop(), nil)
	require.NotNil(t, c.cfg)
	assert.Equal(t, "SKILL.md", c.cfg.Filename)
	assert.NotZero(t, c.cfg.Workers)
}

func repoCodePage(fullName string, paths ...string) *ghapi.SearchCodePage {
	page := &ghapi.SearchCodePage{}
	for _, p := range paths {
		hit := ghapi.CodeResult{Name: "SKILL.md", Path: p}
		hit.Repository.FullName = fullName
		page.Items = append(page.Items, hit)
	}
	return page
}

func scopedQuery(fullName string) string {
	return fmt.Sprintf("filename:SKILL.md repo:%s", fullName)
}
