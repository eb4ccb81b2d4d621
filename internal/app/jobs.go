package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrSharedWorkspace is returned when two jobs would work in the same tree.
var ErrSharedWorkspace = errors.New("working directories overlap")

// CheckDistinctDirs fails when any two dirs are the same directory or one
// contains the other, after resolving symlinks. Tasks never share a workspace.
func CheckDistinctDirs(dirs []string) error {
	found := overlaps(dirs)
	var errs []error
	for i := range dirs {
		if err, ok := found[i]; ok {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// overlaps maps the index of each dir that collides with an earlier one to
// the reason.
func overlaps(dirs []string) map[int]error {
	resolved := make([]string, len(dirs))
	for i, dir := range dirs {
		resolved[i] = canonicalDir(dir)
	}

	found := make(map[int]error)
	for i := range resolved {
		for j := 0; j < i; j++ {
			switch {
			case resolved[i] == resolved[j]:
				found[i] = fmt.Errorf("%w: %s and %s are the same directory", ErrSharedWorkspace, dirs[j], dirs[i])
			case within(resolved[j], resolved[i]):
				found[i] = fmt.Errorf("%w: %s is inside %s", ErrSharedWorkspace, dirs[i], dirs[j])
			case within(resolved[i], resolved[j]):
				found[i] = fmt.Errorf("%w: %s is inside %s", ErrSharedWorkspace, dirs[j], dirs[i])
			default:
				continue
			}
			break
		}
	}
	return found
}

func canonicalDir(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return filepath.Clean(dir)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}
	return abs
}

func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
