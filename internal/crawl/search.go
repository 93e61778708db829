package crawl

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/sirupsen/logrus"

	"github.com/skillcrawl/skillcrawl/internal/ghapi"
	"github.com/skillcrawl/skillcrawl/internal/skill"
)

// runTopics is phase 3: paginated repository search per discovery tag,
// deduplicated across tags, filtered against already-processed
// repositories and low-star forks, then scanned in parallel.
func (c *Crawler) runTopics(ctx context.Context) {
	discovered := map[string]*ghapi.Repo{}

	for _, tag := range c.cfg.Tags {
		if c.mon.ShouldStop() {
			break
		}
		for page := 1; page <= c.cfg.MaxSearchPages; page++ {
			if c.mon.ShouldStop() {
				break
			}
			if !c.pool.WaitForAvailable(ctx, ghapi.BucketSearch, c.mon.ShouldStop) {
				break
			}
			res, err := c.api.SearchRepositoriesByTopic(ctx, tag, page)
			if err != nil {
				if errors.Is(err, ghapi.ErrRateLimited) {
					// The wait loop gates the retry on the next pass.
					page--
					continue
				}
				logrus.Warnf("topic search %q page %d: %v", tag, page, err)
				break
			}
			for i := range res.Items {
				repo := res.Items[i]
				if _, ok := discovered[repo.FullName]; !ok {
					discovered[repo.FullName] = &repo
				}
			}
			if len(res.Items) < c.cfg.PerPage {
				break
			}
		}
	}

	queued := 0
	q := NewTaskQueue(c.cfg.Workers, c.cfg.StartInterval)
	for _, repo := range discovered {
		if c.mon.ShouldStop() {
			break
		}
		if repo.Fork && repo.Stars < c.cfg.StarFloor {
			continue
		}
		if repo.FullName == c.cfg.SelfRepo || !c.markSeen(repo.FullName) {
			continue
		}
		r := repo
		q.Go(ctx, func() { c.scanRepo(ctx, r, skill.SourceGitHub) })
		queued++
	}
	q.Wait()
	logrus.Infof("topic search discovered %d repositories, scanned %d new", len(discovered), queued)
}

// runGlobal is phase 4: a single global code-search query for the
// canonical filename, paginated up to the endpoint's hard result cap,
// to recover repositories the curated tag list missed. Metadata for
// newly discovered repositories is back-filled lazily.
func (c *Crawler) runGlobal(ctx context.Context) {
	query := fmt.Sprintf("filename:%s", c.cfg.Filename)
	maxPages := c.cfg.GlobalResultCap / c.cfg.PerPage
	if maxPages < 1 {
		maxPages = 1
	}

	fresh := map[string]bool{}
	for page := 1; page <= maxPages; page++ {
		if c.mon.ShouldStop() {
			break
		}
		if !c.pool.WaitForAvailable(ctx, ghapi.BucketCodeSearch, c.mon.ShouldStop) {
			break
		}
		res, err := c.api.SearchCode(ctx, query, page)
		if err != nil {
			if errors.Is(err, ghapi.ErrRateLimited) {
				page--
				continue
			}
			logrus.Warnf("global search page %d: %v", page, err)
			break
		}
		for _, item := range res.Items {
			if path.Base(item.Path) != c.cfg.Filename {
				continue
			}
			full := item.Repository.FullName
			if full == "" || full == c.cfg.SelfRepo {
				continue
			}
			fresh[full] = true
		}
		if len(res.Items) < c.cfg.PerPage {
			break
		}
	}

	queued := 0
	q := NewTaskQueue(c.cfg.Workers, c.cfg.StartInterval)
	for full := range fresh {
		if c.mon.ShouldStop() {
			break
		}
		ref, err := skill.ParseRepoRef(full)
		if err != nil || !c.markSeen(full) {
			continue
		}
		q.Go(ctx, func() {
			repo, err := c.fetchRepoMeta(ctx, ref.Owner, ref.Name)
			if err != nil {
				if !errors.Is(err, errStopped) {
					logrus.Warnf("skipping discovered repo %s: %v", ref.FullName(), err)
				}
				return
			}
			c.scanRepo(ctx, repo, skill.SourceGitHub)
		})
		queued++
	}
	q.Wait()
	logrus.Infof("global search surfaced %d repositories, scanned %d new", len(fresh), queued)
}
