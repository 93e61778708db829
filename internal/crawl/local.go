package crawl

import (
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/skillcrawl/skillcrawl/internal/skill"
)

// localRevisionSentinel marks a locally scanned skill when no
// version-control history is available for its directory.
const localRevisionSentinel = "local"

// runLocal is phase 1: walk the local tree for the canonical filename,
// parse and validate each hit, and tag it with a revision from the
// subdirectory's own commit history.
func (c *Crawler) runLocal() {
	ref, err := skill.ParseRepoRef(c.cfg.SelfRepo)
	if err != nil {
		ref = skill.RepoRef{Owner: "local", Name: "skills"}
	}

	var produced []*skill.Manifest
	walkErr := filepath.WalkDir(c.cfg.LocalDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			logrus.Warnf("local scan: %v", err)
			return nil
		}
		if c.mon.ShouldStop() {
			return filepath.SkipAll
		}
		if d.IsDir() || d.Name() != c.cfg.Filename {
			return nil
		}

		dir := filepath.Dir(p)
		rel, err := filepath.Rel(c.cfg.LocalDir, dir)
		if err != nil || rel == "." {
			rel = ""
		}
		rel = filepath.ToSlash(rel)

		content, err := os.ReadFile(p)
		if err != nil {
			logrus.Warnf("local scan: reading %s: %v", p, err)
			return nil
		}
		parsed, err := skill.Parse(content)
		if err != nil {
			logrus.Infof("skipping local %s: %v", rel, err)
			return nil
		}
		if err := skill.Validate(parsed); err != nil {
			logrus.Infof("skipping local %s: %v", rel, err)
			return nil
		}

		m := skill.Build(parsed, ref, rel, listLocalFiles(dir), skill.SourceLocal)
		m.Revision = localGitRevision(dir)
		produced = append(produced, m)
		return nil
	})
	if walkErr != nil {
		c.addError("local scan: " + walkErr.Error())
	}

	logrus.Infof("local scan found %d skills under %s", len(produced), c.cfg.LocalDir)
	c.addManifests(produced)
}

func listLocalFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, e.Name())
		}
	}
	return files
}

// localGitRevision asks git for the last commit touching dir. Scoped to
// the subdirectory so sibling skills keep independent revisions.
func localGitRevision(dir string) string {
	out, err := exec.Command("git", "-C", dir, "log", "-1", "--format=%H", "--", ".").Output()
	rev := strings.TrimSpace(string(out))
	if err != nil || rev == "" {
		return localRevisionSentinel
	}
	return rev
}
