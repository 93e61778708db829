package crawl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/skillcrawl/skillcrawl/internal/archive"
	"github.com/skillcrawl/skillcrawl/internal/cache"
	"github.com/skillcrawl/skillcrawl/internal/ghapi"
	"github.com/skillcrawl/skillcrawl/internal/skill"
)

// PostProcessor builds and uploads skill archives after a crawl, and
// drains the pending-work queues on resume. Work cut off by the
// deadline is queued with its resource key; the cached skill entry
// holds everything needed to resume precisely.
type PostProcessor struct {
	api      API
	pool     Pool
	cache    *cache.Cache
	mon      Stopper
	uploader archive.Uploader // nil disables uploads
	zipDir   string
	cfg      *Config
}

// NewPostProcessor wires a post-processor. uploader may be nil when
// remote upload is disabled.
func NewPostProcessor(api API, pool Pool, store *cache.Cache, mon Stopper, uploader archive.Uploader, zipDir string, cfg *Config) *PostProcessor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &PostProcessor{
		api:      api,
		pool:     pool,
		cache:    store,
		mon:      mon,
		uploader: uploader,
		zipDir:   zipDir,
		cfg:      cfg,
	}
}

// Process builds archives for every manifest whose archive is missing
// or stale, then uploads them. At the deadline boundary remaining items
// are pushed onto the pending queues instead of being dropped.
func (p *PostProcessor) Process(ctx context.Context, manifests []*skill.Manifest) {
	for _, m := range manifests {
		key := m.Key()

		if !p.cache.NeedsRegeneration(key, m.Revision) {
			if se, ok := p.cache.GetSkill(key); ok && se.Skill.ArchiveURL != "" {
				m.ArchiveURL = se.Skill.ArchiveURL
			}
			continue
		}

		if p.mon.ShouldStop() {
			p.cache.AddPendingZip(key)
			continue
		}

		zipPath, err := p.buildArchive(ctx, m)
		if err != nil {
			if errors.Is(err, errStopped) {
				p.cache.AddPendingZip(key)
				continue
			}
			logrus.Warnf("archive build failed for %s: %v", key, err)
			continue
		}
		p.cache.SetArchivePath(key, zipPath)

		if p.uploader == nil {
			continue
		}
		if p.mon.ShouldStop() {
			p.cache.AddPendingUpload(key)
			continue
		}
		if url, err := p.upload(ctx, key, zipPath); err != nil {
			logrus.Warnf("upload failed for %s, queued for retry: %v", key, err)
			p.cache.AddPendingUpload(key)
		} else {
			m.ArchiveURL = url
			// The cached record carries the URL so an unchanged skill
			// keeps it on later runs without re-uploading.
			if se, ok := p.cache.GetSkill(key); ok {
				se.Skill.ArchiveURL = url
			}
		}
	}
}

// Resume drains the pending queues exclusively: archives first, then
// uploads. No discovery happens in this mode. Items the deadline cuts
// off again simply stay queued.
func (p *PostProcessor) Resume(ctx context.Context) {
	for _, key := range slices.Clone(p.cache.PendingZips) {
		if p.mon.ShouldStop() {
			return
		}
		se, ok := p.cache.GetSkill(key)
		if !ok {
			logrus.Warnf("pending archive %s no longer in cache; dropping", key)
			p.cache.RemovePendingZip(key)
			continue
		}
		m, err := p.expandCached(se)
		if err != nil {
			logrus.Warnf("pending archive %s: %v; dropping", key, err)
			p.cache.RemovePendingZip(key)
			continue
		}

		zipPath, err := p.buildArchive(ctx, m)
		if err != nil {
			if errors.Is(err, errStopped) {
				return
			}
			logrus.Warnf("resume: archive build failed for %s: %v", key, err)
			continue
		}
		p.cache.SetArchivePath(key, zipPath)
		p.cache.RemovePendingZip(key)
		if p.uploader != nil {
			p.cache.AddPendingUpload(key)
		}
	}

	if p.uploader == nil {
		return
	}
	for _, key := range slices.Clone(p.cache.PendingUploads) {
		if p.mon.ShouldStop() {
			return
		}
		se, ok := p.cache.GetSkill(key)
		if !ok || se.ArchivePath == "" {
			logrus.Warnf("pending upload %s has no built archive; dropping", key)
			p.cache.RemovePendingUpload(key)
			continue
		}
		url, err := p.upload(ctx, key, se.ArchivePath)
		if err != nil {
			logrus.Warnf("resume: upload failed for %s: %v", key, err)
			continue
		}
		se.Skill.ArchiveURL = url
		p.cache.RemovePendingUpload(key)
	}
}

// expandCached rebuilds a manifest from its cache entry, joining the
// repository side table when available.
func (p *PostProcessor) expandCached(se *cache.SkillEntry) (*skill.Manifest, error) {
	var info skill.RepoInfo
	if entry, ok := p.cache.Repos[se.Skill.Repo]; ok {
		info = entry.Info()
	}
	m, err := skill.Expand(se.Skill, info)
	if err != nil {
		return nil, err
	}
	m.Revision = se.Revision
	return m, nil
}

// buildArchive collects a skill's files and zips them. Local-provenance
// skills read from disk; everything else is fetched at the manifest's
// recorded revision.
func (p *PostProcessor) buildArchive(ctx context.Context, m *skill.Manifest) (string, error) {
	files := map[string][]byte{}
	for _, name := range m.Files {
		data, err := p.readSkillFile(ctx, m, name)
		if err != nil {
			if errors.Is(err, errStopped) {
				return "", err
			}
			// The canonical file must be present; siblings are
			// best-effort.
			if name == p.cfg.Filename {
				return "", fmt.Errorf("fetching %s: %w", name, err)
			}
			logrus.Debugf("archive %s: skipping %s: %v", m.Key(), name, err)
			continue
		}
		files[name] = data
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no files available for %s", m.Key())
	}

	zipPath := filepath.Join(p.zipDir, archive.RemoteName(m.Key()))
	if err := archive.BuildZip(zipPath, files); err != nil {
		return "", err
	}
	return zipPath, nil
}

func (p *PostProcessor) readSkillFile(ctx context.Context, m *skill.Manifest, name string) ([]byte, error) {
	if m.Source == skill.SourceLocal {
		return os.ReadFile(filepath.Join(p.cfg.LocalDir, filepath.FromSlash(m.Path), name))
	}

	remote := name
	if m.Path != "" {
		remote = m.Path + "/" + name
	}
	var data []byte
	err := p.withPoolRetry(ctx, func() error {
		var err error
		data, err = p.api.GetFile(ctx, m.Repo.Owner, m.Repo.Name, remote, m.Revision)
		return err
	})
	return data, err
}

func (p *PostProcessor) withPoolRetry(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt < 3; attempt++ {
		if !p.pool.WaitForAvailable(ctx, ghapi.BucketCore, p.mon.ShouldStop) {
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

func (p *PostProcessor) upload(ctx context.Context, key, zipPath string) (string, error) {
	return p.uploader.Upload(ctx, zipPath, archive.RemoteName(key))
}
