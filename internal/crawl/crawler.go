// Package crawl orchestrates the four-phase skill discovery pipeline:
// local filesystem scan, configured priority repositories, topic search
// and an optional global code-search sweep. Every phase cooperates with
// the client pool's rate-limit buckets, the incremental cache and the
// execution budget monitor.
package crawl

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skillcrawl/skillcrawl/internal/cache"
	"github.com/skillcrawl/skillcrawl/internal/ghapi"
	"github.com/skillcrawl/skillcrawl/internal/skill"
)

// Stopper is the cooperative-stop capability threaded through every
// long-running loop. *budget.Monitor satisfies it.
type Stopper interface {
	ShouldStop() bool
	TimedOut() bool
}

// errStopped aborts a network helper when the execution budget trips
// mid-wait. It is a control signal, not a failure.
var errStopped = errors.New("execution budget exhausted")

// API is the subset of the REST adapter the pipeline calls. Narrowed to
// an interface so pipeline behavior is testable without timers or a
// network.
type API interface {
	GetRepo(ctx context.Context, owner, name string) (*ghapi.Repo, error)
	ListContents(ctx context.Context, owner, repo, dir string) ([]ghapi.ContentEntry, error)
	GetFile(ctx context.Context, owner, repo, path, ref string) ([]byte, error)
	LatestCommit(ctx context.Context, owner, repo, path string) (string, error)
	SearchRepositoriesByTopic(ctx context.Context, topic string, page int) (*ghapi.SearchReposPage, error)
	SearchCode(ctx context.Context, query string, page int) (*ghapi.SearchCodePage, error)
}

// Pool is the client-pool availability surface the pipeline consults.
type Pool interface {
	AllLimited(class ghapi.BucketClass) bool
	WaitForAvailable(ctx context.Context, class ghapi.BucketClass, shouldStop func() bool) bool
	AnyLimited() bool
}

// Config controls the pipeline. Zero values fall back to defaults via
// DefaultConfig.
type Config struct {
	// Filename is the canonical skill file name looked for everywhere.
	Filename string
	// Tags are the discovery topics searched in phase 3.
	Tags []string
	// PriorityRepos are "owner/name" references deep-scanned in phase 2.
	PriorityRepos []string
	// SelfRepo is the registry's own hosting repository; always skipped,
	// and used as the repository reference for locally scanned skills.
	SelfRepo string
	// LocalDir is the root of the phase 1 filesystem scan.
	LocalDir string

	// StarFloor excludes forks below this star count from phase 3.
	StarFloor int
	// MaxSearchPages caps pagination per search query.
	MaxSearchPages int
	// PerPage is the page size used to detect the last page.
	PerPage int
	// GlobalResultCap is the search endpoint's hard result ceiling.
	GlobalResultCap int

	Workers       int
	StartInterval time.Duration

	EnableLocal  bool
	EnableTopics bool
	EnableGlobal bool

	// MaxMetaRetries caps metadata-fetch retries across clients.
	MaxMetaRetries int
	// MaxTreeDepth bounds the fallback recursive directory walk.
	MaxTreeDepth int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		Filename:        "SKILL.md",
		Tags:            []string{"claude-skills", "agent-skills", "ai-skills"},
		StarFloor:       2,
		MaxSearchPages:  10,
		PerPage:         100,
		GlobalResultCap: 1000,
		Workers:         8,
		StartInterval:   200 * time.Millisecond,
		EnableLocal:     true,
		EnableTopics:    true,
		EnableGlobal:    true,
		MaxMetaRetries:  3,
		MaxTreeDepth:    6,
	}
}

// Result is what one pipeline run produced, plus the flags downstream
// consumers need to judge completeness.
type Result struct {
	Manifests   []*skill.Manifest
	Errors      []string
	RateLimited bool
	TimedOut    bool
	Elapsed     time.Duration
}

// Crawler runs the discovery pipeline. Shared state (result list, seen
// set, cache) is guarded by one mutex; scan tasks touch it only at
// well-defined points so a repository's cache write is never
// interleaved with another's.
type Crawler struct {
	api   API
	pool  Pool
	cache *cache.Cache
	mon   Stopper
	cfg   *Config

	mu        sync.Mutex
	manifests []*skill.Manifest
	seen      map[string]bool
	errs      []string
}

// New assembles a crawler. All collaborators are passed explicitly so
// independent runs never share state.
func New(api API, pool Pool, store *cache.Cache, mon Stopper, cfg *Config) *Crawler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Crawler{
		api:   api,
		pool:  pool,
		cache: store,
		mon:   mon,
		cfg:   cfg,
		seen:  map[string]bool{},
	}
}

// Run executes the phases in priority order and returns everything
// discovered. Deadline trips short-circuit remaining phases; the result
// is then explicitly marked incomplete.
func (c *Crawler) Run(ctx context.Context) *Result {
	start := time.Now()

	if c.cfg.EnableLocal && c.cfg.LocalDir != "" && !c.mon.ShouldStop() {
		c.runLocal()
	}
	if !c.mon.ShouldStop() {
		c.runPriority(ctx)
	}
	if c.cfg.EnableTopics && !c.mon.ShouldStop() {
		c.runTopics(ctx)
	}
	if c.cfg.EnableGlobal && !c.mon.ShouldStop() {
		c.runGlobal(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return &Result{
		Manifests:   c.manifests,
		Errors:      c.errs,
		RateLimited: c.pool.AnyLimited(),
		TimedOut:    c.mon.TimedOut(),
		Elapsed:     time.Since(start),
	}
}

// runPriority deep-scans the explicitly configured repositories on the
// task queue. The registry's own repository is always skipped.
func (c *Crawler) runPriority(ctx context.Context) {
	q := NewTaskQueue(c.cfg.Workers, c.cfg.StartInterval)
	for _, refStr := range c.cfg.PriorityRepos {
		if c.mon.ShouldStop() {
			break
		}
		if refStr == c.cfg.SelfRepo {
			continue
		}
		ref, err := skill.ParseRepoRef(refStr)
		if err != nil {
			c.addError("priority repo: " + err.Error())
			continue
		}
		if !c.markSeen(ref.FullName()) {
			continue
		}
		q.Go(ctx, func() {
			repo, err := c.fetchRepoMeta(ctx, ref.Owner, ref.Name)
			if err != nil {
				if !errors.Is(err, errStopped) {
					logrus.Warnf("skipping priority repo %s: %v", ref.FullName(), err)
				}
				return
			}
			c.scanRepo(ctx, repo, skill.SourcePriority)
		})
	}
	q.Wait()
}

// fetchRepoMeta fetches repository metadata with bounded retries across
// clients; the hard cap keeps a stuck quota from looping forever.
func (c *Crawler) fetchRepoMeta(ctx context.Context, owner, name string) (*ghapi.Repo, error) {
	var repo *ghapi.Repo
	err := c.withRetry(ctx, ghapi.BucketCore, func() error {
		var err error
		repo, err = c.api.GetRepo(ctx, owner, name)
		return err
	})
	return repo, err
}

// withRetry waits for pool availability and retries through client
// rotation on rate-limit errors, up to the configured cap. Every other
// error is returned as-is.
func (c *Crawler) withRetry(ctx context.Context, class ghapi.BucketClass, fn func() error) error {
	for attempt := 0; attempt < c.cfg.MaxMetaRetries; attempt++ {
		if !c.pool.WaitForAvailable(ctx, class, c.mon.ShouldStop) {
			return errStopped
		}
		err := fn()
		if errors.Is(err, ghapi.ErrRateLimited) {
			continue
		}
		return err
	}
	return ghapi.ErrRateLimited
}

// markSeen records a repository as processed; false means it already was.
func (c *Crawler) markSeen(fullName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[fullName] {
		return false
	}
	c.seen[fullName] = true
	return true
}

func (c *Crawler) addManifests(ms []*skill.Manifest) {
	if len(ms) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manifests = append(c.manifests, ms...)
}

func (c *Crawler) addError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, msg)
}
