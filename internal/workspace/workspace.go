// Package workspace tracks the files a task reads and produces inside its
// working directory.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	agenterrors "github.com/vsingh18567/illuminate/internal/errors"
	"github.com/vsingh18567/illuminate/internal/logging"
)

const (
	// LogDirName is where transcripts and run records are written. It is never
	// part of a snapshot.
	LogDirName = "illuminate_logs"

	defaultDiffCacheSize = 64
	maxDiffBytes         = 64 * 1024
)

// Workspace is the artifact store for one task. It is not shared across tasks.
type Workspace struct {
	root    string // symlink-resolved
	rawRoot string // as given, made absolute
	ignore  map[string]bool
	logger  logging.Logger

	mu        sync.Mutex
	inputs    map[string]bool // files present when the workspace was opened
	artifacts map[string]ports.Artifact
	ledger    ports.StepLedger
	contents  *lru.Cache[string, string]
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithLogger sets the workspace logger.
func WithLogger(logger logging.Logger) Option {
	return func(w *Workspace) {
		w.logger = logging.Component(logger, "workspace")
	}
}

// WithIgnore hides additional file or directory names from snapshots.
func WithIgnore(names ...string) Option {
	return func(w *Workspace) {
		for _, name := range names {
			w.ignore[name] = true
		}
	}
}

// New opens the workspace rooted at root, which must be an existing directory.
// Files already present are remembered as inputs; cleanup never deletes them.
func New(root string, opts ...Option) (*Workspace, error) {
	rawRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	info, err := os.Stat(rawRoot)
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open workspace: %s is not a directory", rawRoot)
	}
	resolved, err := filepath.EvalSymlinks(rawRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	contents, err := lru.New[string, string](defaultDiffCacheSize)
	if err != nil {
		return nil, err
	}

	w := &Workspace{
		root:      resolved,
		rawRoot:   rawRoot,
		ignore:    map[string]bool{LogDirName: true, "__pycache__": true},
		logger:    logging.Nop(),
		artifacts: make(map[string]ports.Artifact),
		contents:  contents,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.inputs = w.scanInputs()
	return w, nil
}

func (w *Workspace) scanInputs() map[string]bool {
	inputs := make(map[string]bool)
	_ = filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != w.root && d.Name() == LogDirName {
				return fs.SkipDir
			}
			return nil
		}
		if rel, ok := relWithin(w.root, p); ok {
			inputs[toSlash(rel)] = true
		}
		return nil
	})
	return inputs
}

// IsInput reports whether path existed before the task started.
func (w *Workspace) IsInput(path string) bool {
	rel, err := w.Relative(path)
	if err != nil {
		return false
	}
	return w.inputs[rel]
}

// Root returns the symlink-resolved workspace directory.
func (w *Workspace) Root() string {
	return w.root
}

// BindLedger sets the step history consulted when recording artifacts.
func (w *Workspace) BindLedger(ledger ports.StepLedger) {
	w.mu.Lock()
	w.ledger = ledger
	w.mu.Unlock()
}

// Resolve returns the absolute path for path, which may be relative to the
// root. It fails with PathOutsideWorkspaceError when the path, or any symlink
// along it, leads outside the workspace, and with ErrReservedPath for paths
// under the log directory.
func (w *Workspace) Resolve(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", errors.New("path cannot be empty")
	}

	var abs string
	if filepath.IsAbs(trimmed) {
		abs = filepath.Clean(trimmed)
	} else {
		abs = filepath.Join(w.root, trimmed)
	}

	rel, ok := relWithin(w.root, abs)
	if !ok {
		if rel, ok = relWithin(w.rawRoot, abs); !ok {
			return "", w.outside(path)
		}
		abs = filepath.Join(w.root, rel)
	}

	real, err := evalExisting(abs)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	realRel, ok := relWithin(w.root, real)
	if !ok {
		return "", w.outside(path)
	}
	if inLogDir(rel) || inLogDir(realRel) {
		return "", fmt.Errorf("resolve %s: %w", path, agenterrors.ErrReservedPath)
	}
	return abs, nil
}

func inLogDir(rel string) bool {
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return first == LogDirName
}

// Relative returns path as a slash-separated path relative to the root.
func (w *Workspace) Relative(path string) (string, error) {
	abs, err := w.Resolve(path)
	if err != nil {
		return "", err
	}
	rel, _ := relWithin(w.root, abs)
	return filepath.ToSlash(rel), nil
}

func (w *Workspace) outside(path string) error {
	return &agenterrors.PathOutsideWorkspaceError{Path: path, Root: w.root}
}

// Artifact returns the tracked artifact at path.
func (w *Workspace) Artifact(path string) (ports.Artifact, bool) {
	rel, err := w.Relative(path)
	if err != nil {
		return ports.Artifact{}, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.artifacts[rel]
	return a, ok
}

// Artifacts returns every tracked artifact sorted by path.
func (w *Workspace) Artifacts() []ports.Artifact {
	return w.filter(func(ports.Artifact) bool { return true })
}

// FinalArtifacts returns the deliverables sorted by path.
func (w *Workspace) FinalArtifacts() []ports.Artifact {
	return w.filter(func(a ports.Artifact) bool { return a.Retention == ports.RetentionFinal })
}

func (w *Workspace) filter(keep func(ports.Artifact) bool) []ports.Artifact {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]ports.Artifact, 0, len(w.artifacts))
	for _, a := range w.artifacts {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Forget stops tracking path. Tools call it after deleting a file.
func (w *Workspace) Forget(path string) bool {
	rel, err := w.Relative(path)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.artifacts[rel]; !ok {
		return false
	}
	delete(w.artifacts, rel)
	w.contents.Remove(rel)
	return true
}

// Restore puts back artifact metadata saved before a write that is being
// undone. The path must be inside the workspace.
func (w *Workspace) Restore(a ports.Artifact) error {
	rel, err := w.Relative(a.Path)
	if err != nil {
		return err
	}
	a.Path = rel
	w.mu.Lock()
	defer w.mu.Unlock()
	w.artifacts[rel] = a
	w.contents.Remove(rel)
	return nil
}

type contextKey struct{}

// WithContext attaches the workspace to ctx so tools can resolve paths.
func WithContext(ctx context.Context, w *Workspace) context.Context {
	return context.WithValue(ctx, contextKey{}, w)
}

// FromContext returns the workspace attached to ctx.
func FromContext(ctx context.Context) (*Workspace, bool) {
	w, ok := ctx.Value(contextKey{}).(*Workspace)
	return w, ok && w != nil
}

func relWithin(base, target string) (string, bool) {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// evalExisting resolves symlinks on the deepest existing ancestor of path and
// re-attaches the missing suffix.
func evalExisting(path string) (string, error) {
	current := path
	var suffix []string
	for {
		if _, err := os.Lstat(current); err == nil {
			real, err := filepath.EvalSymlinks(current)
			if err != nil {
				return "", err
			}
			for i := len(suffix) - 1; i >= 0; i-- {
				real = filepath.Join(real, suffix[i])
			}
			return real, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path, nil
		}
		suffix = append(suffix, filepath.Base(current))
		current = parent
	}
}
