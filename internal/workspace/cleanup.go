package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
)

// CleanupEphemeral deletes every ephemeral artifact that no upcoming step
// refers to in its arguments. Final artifacts and input files the task
// rewrote are never touched. Files that already vanished are dropped from
// tracking. Running it twice removes nothing the second time.
func (w *Workspace) CleanupEphemeral(upcoming []ports.Step) (ports.CleanupReport, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths := make([]string, 0, len(w.artifacts))
	for rel, a := range w.artifacts {
		if a.Retention == ports.RetentionEphemeral {
			paths = append(paths, rel)
		}
	}
	sort.Strings(paths)

	report := ports.CleanupReport{Removed: []string{}}
	var errs []error
	for _, rel := range paths {
		abs := filepath.Join(w.root, filepath.FromSlash(rel))
		if w.artifacts[rel].Input || referencedBy(upcoming, rel, abs) {
			report.Kept = append(report.Kept, rel)
			continue
		}
		if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", rel, err))
			continue
		}
		delete(w.artifacts, rel)
		w.contents.Remove(rel)
		report.Removed = append(report.Removed, rel)
	}
	if len(report.Removed) > 0 {
		w.logger.Info("cleanup removed %d ephemeral artifacts: %s", len(report.Removed), strings.Join(report.Removed, ", "))
	}
	return report, errors.Join(errs...)
}

func referencedBy(steps []ports.Step, rel, abs string) bool {
	for _, step := range steps {
		for _, val := range step.Arguments {
			if mentions(val, rel, abs) {
				return true
			}
		}
	}
	return false
}

func mentions(val any, rel, abs string) bool {
	switch v := val.(type) {
	case string:
		s := filepath.ToSlash(strings.TrimSpace(v))
		return containsPath(s, rel) || containsPath(v, abs)
	case []string:
		for _, item := range v {
			if mentions(item, rel, abs) {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if mentions(item, rel, abs) {
				return true
			}
		}
	case map[string]any:
		for _, item := range v {
			if mentions(item, rel, abs) {
				return true
			}
		}
	}
	return false
}

// containsPath reports whether s mentions p as a whole path, so that "a.md"
// is not found inside "data.md". A leading "./" is allowed.
func containsPath(s, p string) bool {
	if p == "" {
		return false
	}
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], p)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(p)
		if startsPath(s, start) && endsPath(s, end) {
			return true
		}
		from = start + 1
	}
	return false
}

func startsPath(s string, i int) bool {
	if i == 0 || !isPathByte(s[i-1]) {
		return true
	}
	if strings.HasSuffix(s[:i], "./") {
		return i == 2 || !isPathByte(s[i-3])
	}
	return false
}

func endsPath(s string, end int) bool {
	if end == len(s) {
		return true
	}
	c := s[end]
	if c == '.' {
		// Sentence punctuation after a file name.
		return end+1 == len(s) || !isPathByte(s[end+1])
	}
	return !isPathByte(c)
}

func isPathByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return c == '_' || c == '-' || c == '.' || c == '/' || c == '\\'
}
