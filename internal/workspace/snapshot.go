package workspace

import (
	"io/fs"
	"iter"
	"path/filepath"
	"strings"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
)

// Snapshot returns the files currently in the workspace. The sequence is lazy
// and restartable: every range walks the directory again, and nothing is
// mutated. Dot-files and the log directory are skipped.
func (w *Workspace) Snapshot() iter.Seq2[ports.FileEntry, error] {
	return func(yield func(ports.FileEntry, error) bool) {
		_ = filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if !yield(ports.FileEntry{}, err) {
					return fs.SkipAll
				}
				return nil
			}
			if p == w.root {
				return nil
			}
			if w.skip(d.Name()) {
				if d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				if !yield(ports.FileEntry{}, err) {
					return fs.SkipAll
				}
				return nil
			}
			rel, _ := relWithin(w.root, p)
			entry := ports.FileEntry{
				Path:    toSlash(rel),
				Size:    info.Size(),
				ModTime: info.ModTime(),
			}
			w.mu.Lock()
			if a, ok := w.artifacts[entry.Path]; ok {
				entry.Tracked = true
				entry.Retention = a.Retention
			}
			w.mu.Unlock()

			if !yield(entry, nil) {
				return fs.SkipAll
			}
			return nil
		})
	}
}

// List collects a snapshot, stopping at the first error.
func (w *Workspace) List() ([]ports.FileEntry, error) {
	var entries []ports.FileEntry
	for entry, err := range w.Snapshot() {
		if err != nil {
			return entries, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (w *Workspace) skip(name string) bool {
	return strings.HasPrefix(name, ".") || w.ignore[name]
}
