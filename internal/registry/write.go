package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// MainFileName is the name of the main registry document.
const MainFileName = "skills.json"

func chunkFileName(i int) string {
	return fmt.Sprintf("skills-%d.json", i+1)
}

// Write persists the snapshot atomically under dir: every document goes
// to a temp file first, then all are renamed into place. A failure here
// is one of the few fatal conditions in the crawler.
func Write(dir string, main Document, chunks []Document) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	type staged struct{ tmp, final string }
	var files []staged

	stage := func(name string, doc Document) error {
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding %s: %w", name, err)
		}
		tmp, err := os.CreateTemp(dir, "."+name+"-*")
		if err != nil {
			return fmt.Errorf("staging %s: %w", name, err)
		}
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("writing %s: %w", name, err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("closing %s: %w", name, err)
		}
		files = append(files, staged{tmp: tmp.Name(), final: filepath.Join(dir, name)})
		return nil
	}

	if err := stage(MainFileName, main); err != nil {
		return err
	}
	for i, c := range chunks {
		if err := stage(chunkFileName(i), c); err != nil {
			for _, f := range files {
				os.Remove(f.tmp)
			}
			return err
		}
	}

	for _, f := range files {
		if err := os.Rename(f.tmp, f.final); err != nil {
			return fmt.Errorf("publishing %s: %w", f.final, err)
		}
	}

	logrus.Infof("wrote registry to %s (%d skills, %d chunks)",
		dir, main.Meta.Total, len(chunks))
	return nil
}
