// Package archive builds skill bundles and pushes them to remote
// object storage. Both steps are deliberately dumb I/O: the crawl
// pipeline decides what to build and when, including deferring work
// past the execution deadline.
package archive

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// BuildZip writes the given files into a zip at destPath. Entries are
// written in sorted name order with zeroed timestamps so identical
// inputs produce identical archives.
func BuildZip(destPath string, files map[string][]byte) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating archive %s: %w", destPath, err)
	}
	defer f.Close()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	w := zip.NewWriter(f)
	for _, name := range names {
		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
		entry, err := w.CreateHeader(hdr)
		if err != nil {
			w.Close()
			return fmt.Errorf("adding %s to archive: %w", name, err)
		}
		if _, err := entry.Write(files[name]); err != nil {
			w.Close()
			return fmt.Errorf("writing %s to archive: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finishing archive %s: %w", destPath, err)
	}
	return nil
}
