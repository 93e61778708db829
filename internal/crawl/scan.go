package crawl

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/sirupsen/logrus"

	"github.com/skillcrawl/skillcrawl/internal/cache"
	"github.com/skillcrawl/skillcrawl/internal/ghapi"
	"github.com/skillcrawl/skillcrawl/internal/skill"
)

func repoInfo(repo *ghapi.Repo) skill.RepoInfo {
	return skill.RepoInfo{
		URL:      repo.HTMLURL,
		Branch:   repo.DefaultBranch,
		Stars:    repo.Stars,
		Forks:    repo.Forks,
		PushedAt: repo.PushedAt,
	}
}

// scanRepo is the shared cache-aware repository scan used by phases
// 2-4. One lightweight commit query decides whether the cached state is
// still current; a hit costs zero further network calls. The repository
// cache entry is written only when every candidate resource finished
// before the deadline, so a partial pass forces a full re-scan next run.
func (c *Crawler) scanRepo(ctx context.Context, repo *ghapi.Repo, source skill.Source) {
	owner, name := repo.Owner.Login, repo.Name
	if c.mon.ShouldStop() {
		return
	}

	var head string
	err := c.withRetry(ctx, ghapi.BucketCore, func() error {
		var err error
		head, err = c.api.LatestCommit(ctx, owner, name, "")
		return err
	})
	if err != nil {
		if !errors.Is(err, errStopped) {
			logrus.Warnf("skipping %s: cannot resolve head revision: %v", repo.FullName, err)
		}
		return
	}

	info := repoInfo(repo)

	c.mu.Lock()
	entry, compacts, hit := c.cache.GetRepo(owner, name)
	c.mu.Unlock()
	if hit && entry.Revision == head {
		ms := make([]*skill.Manifest, 0, len(compacts))
		for _, cs := range compacts {
			m, err := skill.Expand(cs, info)
			if err != nil {
				logrus.Warnf("cache expansion failed for %s: %v", cs.ID, err)
				continue
			}
			m.Source = source
			m.Revision = c.cachedRevision(m.Key(), head)
			ms = append(ms, m)
		}
		c.refreshRepoStats(repo, entry)
		c.addManifests(ms)
		logrus.Debugf("%s unchanged at %.8s; reused %d cached skills", repo.FullName, head, len(ms))
		return
	}

	paths, complete := c.findSkillFiles(ctx, owner, name, repo.FullName)

	ref := skill.RepoRef{Owner: owner, Name: name}
	var produced []*skill.Manifest
	for _, filePath := range paths {
		if c.mon.ShouldStop() {
			complete = false
			break
		}
		m, ok, stopped := c.processResource(ctx, ref, filePath, head, info, source)
		if ok {
			produced = append(produced, m)
		}
		if stopped {
			complete = false
			break
		}
	}

	c.addManifests(produced)

	if !complete {
		// Leave the repository un-cached: the next run re-attempts it
		// in full instead of trusting a partial scan.
		logrus.Debugf("%s scan incomplete; cache entry not written", repo.FullName)
		return
	}

	keys := make([]string, 0, len(produced))
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range produced {
		key := m.Key()
		keys = append(keys, key)
		c.cache.SetSkill(key, m.Revision, skill.CompactManifest(m))
	}
	c.cache.SetRepo(repo.FullName, &cache.RepoEntry{
		Revision:      head,
		SkillKeys:     keys,
		URL:           repo.HTMLURL,
		DefaultBranch: repo.DefaultBranch,
		Stars:         repo.Stars,
		Forks:         repo.Forks,
		PushedAt:      repo.PushedAt,
	})
}

// cachedRevision returns the stored per-resource revision, falling back
// to the repository head when the entry is gone.
func (c *Crawler) cachedRevision(key, head string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if se, ok := c.cache.GetSkill(key); ok {
		return se.Revision
	}
	return head
}

// refreshRepoStats updates only the mutable popularity fields of a
// cache-hit repository entry; everything else is untouched.
func (c *Crawler) refreshRepoStats(repo *ghapi.Repo, entry *cache.RepoEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry.Stars = repo.Stars
	entry.Forks = repo.Forks
	entry.PushedAt = repo.PushedAt
}

// processResource turns one candidate skill file into a manifest. The
// per-resource revision is the commit hash of the containing directory,
// so churn elsewhere in the repository never invalidates it. Fetch and
// validation failures skip just this resource, never the repository.
// stopped reports a deadline trip mid-resource; the caller must treat
// the scan as incomplete and withhold the repository cache entry.
func (c *Crawler) processResource(ctx context.Context, ref skill.RepoRef, filePath, head string, info skill.RepoInfo, source skill.Source) (m *skill.Manifest, ok, stopped bool) {
	dir := path.Dir(filePath)
	if dir == "." {
		dir = ""
	}
	key := ref.FullName()
	if dir != "" {
		key += "/" + dir
	}

	rev := head
	err := c.withRetry(ctx, ghapi.BucketCore, func() error {
		var err error
		rev, err = c.api.LatestCommit(ctx, ref.Owner, ref.Name, dir)
		return err
	})
	if err != nil {
		if errors.Is(err, errStopped) {
			return nil, false, true
		}
		// The directory-scoped query is an optimization; the head
		// revision is a safe, coarser substitute.
		rev = head
	}

	c.mu.Lock()
	se, cached := c.cache.GetSkill(key)
	c.mu.Unlock()
	if cached && se.Revision == rev {
		m, err := skill.Expand(se.Skill, info)
		if err == nil {
			m.Source = source
			m.Revision = rev
			return m, true, false
		}
		logrus.Warnf("cache expansion failed for %s: %v", key, err)
	}

	content, err := c.fetchFile(ctx, ref, filePath, head)
	if err != nil {
		if errors.Is(err, errStopped) {
			return nil, false, true
		}
		logrus.Warnf("skipping %s: %v", key, err)
		return nil, false, false
	}

	parsed, err := skill.Parse(content)
	if err != nil {
		logrus.Infof("skipping %s: %v", key, err)
		return nil, false, false
	}
	if err := skill.Validate(parsed); err != nil {
		logrus.Infof("skipping %s: %v", key, err)
		return nil, false, false
	}

	files, stopped := c.siblingFiles(ctx, ref, dir, filePath)

	m = skill.Build(parsed, ref, dir, files, source)
	m.RepoURL = info.URL
	m.Branch = info.Branch
	m.Stars = info.Stars
	m.Forks = info.Forks
	m.PushedAt = info.PushedAt
	m.Revision = rev
	return m, true, stopped
}

func (c *Crawler) fetchFile(ctx context.Context, ref skill.RepoRef, filePath, rev string) ([]byte, error) {
	var content []byte
	err := c.withRetry(ctx, ghapi.BucketCore, func() error {
		var err error
		content, err = c.api.GetFile(ctx, ref.Owner, ref.Name, filePath, rev)
		return err
	})
	if errors.Is(err, ghapi.ErrNotFound) {
		return nil, fmt.Errorf("file vanished: %s", filePath)
	}
	return content, err
}

// siblingFiles lists the files sharing the skill's directory. A listing
// failure degrades to just the skill file itself; stopped reports when
// the degradation was the deadline rather than an ordinary error.
func (c *Crawler) siblingFiles(ctx context.Context, ref skill.RepoRef, dir, filePath string) ([]string, bool) {
	var entries []ghapi.ContentEntry
	err := c.withRetry(ctx, ghapi.BucketCore, func() error {
		var err error
		entries, err = c.api.ListContents(ctx, ref.Owner, ref.Name, dir)
		return err
	})
	if err != nil {
		return []string{path.Base(filePath)}, errors.Is(err, errStopped)
	}
	var files []string
	for _, e := range entries {
		if e.Type == "file" {
			files = append(files, e.Name)
		}
	}
	if len(files) == 0 {
		return []string{path.Base(filePath)}, false
	}
	return files, false
}

// findSkillFiles enumerates candidate skill file paths. Tier one is a
// single repo-scoped code search; the full recursive tree walk only
// runs when every client's code-search bucket is exhausted. The
// complete flag is false when the deadline interrupted enumeration.
func (c *Crawler) findSkillFiles(ctx context.Context, owner, name, fullName string) (paths []string, complete bool) {
	if !c.pool.AllLimited(ghapi.BucketCodeSearch) {
		paths, complete, ok := c.searchSkillFiles(ctx, fullName)
		if ok {
			return paths, complete
		}
	}
	return c.walkTree(ctx, owner, name, "", 0)
}

// searchSkillFiles is the cheap tier: one scoped code-search query. The
// third return is false when the search could not be used at all and
// the caller should fall back to the tree walk.
func (c *Crawler) searchSkillFiles(ctx context.Context, fullName string) (paths []string, complete, usable bool) {
	query := fmt.Sprintf("filename:%s repo:%s", c.cfg.Filename, fullName)
	for page := 1; ; page++ {
		if c.mon.ShouldStop() {
			return paths, false, true
		}
		res, err := c.api.SearchCode(ctx, query, page)
		if err != nil {
			if page == 1 {
				return nil, false, false
			}
			return paths, false, true
		}
		for _, item := range res.Items {
			if path.Base(item.Path) == c.cfg.Filename {
				paths = append(paths, item.Path)
			}
		}
		if len(res.Items) < c.cfg.PerPage || page >= c.cfg.MaxSearchPages {
			return paths, true, true
		}
	}
}

// walkTree is the expensive tier: recursive directory traversal capped
// at MaxTreeDepth.
func (c *Crawler) walkTree(ctx context.Context, owner, name, dir string, depth int) (paths []string, complete bool) {
	if depth > c.cfg.MaxTreeDepth {
		return nil, true
	}
	if c.mon.ShouldStop() {
		return nil, false
	}

	var entries []ghapi.ContentEntry
	err := c.withRetry(ctx, ghapi.BucketCore, func() error {
		var err error
		entries, err = c.api.ListContents(ctx, owner, name, dir)
		return err
	})
	if err != nil {
		if errors.Is(err, ghapi.ErrNotFound) {
			return nil, true
		}
		return nil, false
	}

	complete = true
	for _, e := range entries {
		switch {
		case e.Type == "file" && e.Name == c.cfg.Filename:
			paths = append(paths, e.Path)
		case e.Type == "dir":
			sub, ok := c.walkTree(ctx, owner, name, e.Path, depth+1)
			paths = append(paths, sub...)
			if !ok {
				return paths, false
			}
		}
	}
	return paths, complete
}
