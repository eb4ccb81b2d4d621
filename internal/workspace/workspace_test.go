package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	agenterrors "github.com/vsingh18567/illuminate/internal/errors"
)

type ledger map[int]ports.StepStatus

func (l ledger) StepStatus(index int) (ports.StepStatus, bool) {
	status, ok := l[index]
	return status, ok
}

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := New(t.TempDir())
	require.NoError(t, err)
	return ws
}

func writeFile(t *testing.T, ws *Workspace, rel, content string) {
	t.Helper()
	path := filepath.Join(ws.Root(), filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewRejectsMissingOrFileRoot(t *testing.T) {
	t.Parallel()

	_, err := New(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = New(file)
	require.Error(t, err)
}

func TestRecordArtifactRejectsTraversal(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	for _, path := range []string{
		"../../etc/passwd",
		"../escape.txt",
		"nested/../../escape.txt",
		filepath.Dir(ws.Root()),
		"/etc/passwd",
	} {
		_, err := ws.RecordArtifact(path, 0, ports.RetentionFinal)
		var outside *agenterrors.PathOutsideWorkspaceError
		require.ErrorAs(t, err, &outside, path)
		assert.Equal(t, path, outside.Path)
	}
	assert.Empty(t, ws.Artifacts())
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(ws.Root(), "logs")); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}

	_, err := ws.Resolve(filepath.Join("logs", "secret.txt"))
	var outsideErr *agenterrors.PathOutsideWorkspaceError
	require.ErrorAs(t, err, &outsideErr)

	resolved, err := ws.Resolve("data/new/file.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Root(), "data", "new", "file.csv"), resolved)
}

func TestResolveAcceptsUnresolvedRoot(t *testing.T) {
	t.Parallel()

	real := t.TempDir()
	linkParent := t.TempDir()
	link := filepath.Join(linkParent, "link")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}
	ws, err := New(link)
	require.NoError(t, err)

	rel, err := ws.Relative(filepath.Join(link, "out", "chart.png"))
	require.NoError(t, err)
	assert.Equal(t, "out/chart.png", rel)
}

func TestRecordArtifactRequiresCompletedStep(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	ws.BindLedger(ledger{0: ports.StepCompleted, 1: ports.StepExecuting})
	writeFile(t, ws, "notes.txt", "hello")

	_, err := ws.RecordArtifact("notes.txt", 1, ports.RetentionEphemeral)
	require.ErrorIs(t, err, agenterrors.ErrStepNotCompleted)
	_, err = ws.RecordArtifact("notes.txt", 7, ports.RetentionEphemeral)
	require.ErrorIs(t, err, agenterrors.ErrStepNotCompleted)

	write, err := ws.RecordArtifact("notes.txt", 0, ports.RetentionEphemeral)
	require.NoError(t, err)
	assert.False(t, write.Overwrote)
	assert.Equal(t, "notes.txt", write.Artifact.Path)
	assert.EqualValues(t, 5, write.Artifact.Size)
	assert.Len(t, write.Artifact.Digest, 64)
}

func TestRecordArtifactRejectsMissingFileAndBadRetention(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	_, err := ws.RecordArtifact("absent.txt", 0, ports.RetentionFinal)
	require.ErrorIs(t, err, os.ErrNotExist)

	writeFile(t, ws, "x.txt", "x")
	_, err = ws.RecordArtifact("x.txt", 0, ports.Retention("forever"))
	require.Error(t, err)

	require.NoError(t, os.Mkdir(filepath.Join(ws.Root(), "dir"), 0o755))
	_, err = ws.RecordArtifact("dir", 0, ports.RetentionFinal)
	require.Error(t, err)
}

func TestRecordArtifactOverwriteKeepsLaterWrite(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	writeFile(t, ws, "draft.txt", "first draft")
	first, err := ws.RecordArtifact("draft.txt", 0, ports.RetentionEphemeral)
	require.NoError(t, err)
	assert.False(t, first.Overwrote)

	writeFile(t, ws, "draft.txt", "second draft!")
	second, err := ws.RecordArtifact("draft.txt", 1, ports.RetentionFinal)
	require.NoError(t, err)
	assert.True(t, second.Overwrote)
	assert.Equal(t, 0, second.PreviousStep)
	assert.Regexp(t, `^\+\d+/-\d+ chars$`, second.DiffSummary)

	artifact, ok := ws.Artifact("draft.txt")
	require.True(t, ok)
	assert.Equal(t, 1, artifact.StepIndex)
	assert.Equal(t, ports.RetentionFinal, artifact.Retention)

	third, err := ws.RecordArtifact("draft.txt", 2, ports.RetentionFinal)
	require.NoError(t, err)
	assert.Equal(t, "content unchanged", third.DiffSummary)
}

func TestSnapshotIsLazyAndRestartable(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	writeFile(t, ws, "a.csv", "1,2")
	writeFile(t, ws, "b/c.txt", "hello")
	writeFile(t, ws, ".hidden", "secret")
	writeFile(t, ws, LogDirName+"/planner.jsonl", "{}")
	_, err := ws.RecordArtifact("b/c.txt", 0, ports.RetentionFinal)
	require.NoError(t, err)

	first, err := ws.List()
	require.NoError(t, err)
	second, err := ws.List()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.Len(t, first, 2)
	assert.Equal(t, "a.csv", first[0].Path)
	assert.EqualValues(t, 3, first[0].Size)
	assert.False(t, first[0].Tracked)
	assert.Equal(t, "b/c.txt", first[1].Path)
	assert.True(t, first[1].Tracked)
	assert.Equal(t, ports.RetentionFinal, first[1].Retention)

	count := 0
	for range ws.Snapshot() {
		count++
		break
	}
	assert.Equal(t, 1, count)

	writeFile(t, ws, "late.txt", "new")
	after, err := ws.List()
	require.NoError(t, err)
	assert.Len(t, after, 3)
}

func TestCleanupEphemeralIsIdempotent(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	writeFile(t, ws, "scratch.csv", "tmp")
	writeFile(t, ws, "report.md", "# report")
	writeFile(t, ws, "report.pdf", "%PDF")
	writeFile(t, ws, "input.csv", "data")
	for path, retention := range map[string]ports.Retention{
		"scratch.csv": ports.RetentionEphemeral,
		"report.md":   ports.RetentionEphemeral,
		"report.pdf":  ports.RetentionFinal,
	} {
		_, err := ws.RecordArtifact(path, 0, retention)
		require.NoError(t, err)
	}

	upcoming := []ports.Step{{Index: 3, Tool: "render_pdf", Arguments: map[string]any{"document": "report.md"}}}
	report, err := ws.CleanupEphemeral(upcoming)
	require.NoError(t, err)
	assert.Equal(t, []string{"scratch.csv"}, report.Removed)
	assert.Equal(t, []string{"report.md"}, report.Kept)

	report, err = ws.CleanupEphemeral(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"report.md"}, report.Removed)

	report, err = ws.CleanupEphemeral(nil)
	require.NoError(t, err)
	assert.Empty(t, report.Removed)

	assert.NoFileExists(t, filepath.Join(ws.Root(), "report.md"))
	assert.FileExists(t, filepath.Join(ws.Root(), "report.pdf"))
	assert.FileExists(t, filepath.Join(ws.Root(), "input.csv"))
	require.Len(t, ws.FinalArtifacts(), 1)
	assert.Equal(t, "report.pdf", ws.FinalArtifacts()[0].Path)
}

func TestCleanupKeepsRewrittenInputFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "sales.csv"), []byte("raw input"), 0o644))
	ws, err := New(root)
	require.NoError(t, err)
	assert.True(t, ws.IsInput("sales.csv"))

	writeFile(t, ws, "sales.csv", "cleaned")
	writeFile(t, ws, "scratch.csv", "tmp")
	write, err := ws.RecordArtifact("sales.csv", 0, ports.RetentionEphemeral)
	require.NoError(t, err)
	assert.True(t, write.Artifact.Input)
	_, err = ws.RecordArtifact("scratch.csv", 0, ports.RetentionEphemeral)
	require.NoError(t, err)
	assert.False(t, ws.IsInput("scratch.csv"))

	report, err := ws.CleanupEphemeral(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"scratch.csv"}, report.Removed)
	assert.Equal(t, []string{"sales.csv"}, report.Kept)

	data, err := os.ReadFile(filepath.Join(root, "sales.csv"))
	require.NoError(t, err)
	assert.Equal(t, "cleaned", string(data))

	report, err = ws.CleanupEphemeral(nil)
	require.NoError(t, err)
	assert.Empty(t, report.Removed)
}

func TestResolveRejectsLogDirectory(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	writeFile(t, ws, LogDirName+"/run.yaml", "status: running")
	for _, path := range []string{
		LogDirName + "/run.yaml",
		LogDirName + "/planner.jsonl",
		"./" + LogDirName,
		filepath.Join(ws.Root(), LogDirName, "executor.jsonl"),
	} {
		_, err := ws.Resolve(path)
		require.ErrorIs(t, err, agenterrors.ErrReservedPath, path)
	}
	_, err := ws.RecordArtifact(LogDirName+"/run.yaml", 0, ports.RetentionFinal)
	require.ErrorIs(t, err, agenterrors.ErrReservedPath)

	_, err = ws.Resolve(LogDirName + "_copy/run.yaml")
	require.NoError(t, err)
}

func TestRestorePutsBackEarlierArtifact(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	writeFile(t, ws, "report.md", "# v1")
	first, err := ws.RecordArtifact("report.md", 0, ports.RetentionFinal)
	require.NoError(t, err)
	writeFile(t, ws, "report.md", "# v2")
	_, err = ws.RecordArtifact("report.md", 1, ports.RetentionEphemeral)
	require.NoError(t, err)

	require.NoError(t, ws.Restore(first.Artifact))
	got, ok := ws.Artifact("report.md")
	require.True(t, ok)
	assert.Equal(t, first.Artifact, got)
	assert.Len(t, ws.FinalArtifacts(), 1)

	require.Error(t, ws.Restore(ports.Artifact{Path: "../elsewhere.md"}))
}

func TestCleanupDropsAlreadyDeletedFiles(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	writeFile(t, ws, "gone.txt", "bye")
	_, err := ws.RecordArtifact("gone.txt", 0, ports.RetentionEphemeral)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(ws.Root(), "gone.txt")))

	report, err := ws.CleanupEphemeral(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"gone.txt"}, report.Removed)
	assert.Empty(t, ws.Artifacts())
}

func TestMentionsNestedArguments(t *testing.T) {
	t.Parallel()

	assert.True(t, mentions([]any{map[string]any{"source": "pd.read_csv('clean.csv')"}}, "clean.csv", "/w/clean.csv"))
	assert.True(t, mentions([]string{"/w/clean.csv"}, "other", "/w/clean.csv"))
	assert.False(t, mentions(3.0, "clean.csv", "/w/clean.csv"))
}

func TestContainsPathMatchesWholePaths(t *testing.T) {
	t.Parallel()

	cases := []struct {
		s, path string
		want    bool
	}{
		{"a.md", "a.md", true},
		{"data.md", "a.md", false},
		{"pd.read_csv('a.md')", "a.md", true},
		{"./a.md", "a.md", true},
		{"x/a.md", "a.md", false},
		{"see a.md.", "a.md", true},
		{"a.md.bak", "a.md", false},
		{"a.mdx", "a.md", false},
		{"data.md and a.md", "a.md", true},
		{"render out/report.md to pdf", "out/report.md", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, containsPath(tc.s, tc.path), "%q in %q", tc.path, tc.s)
	}
}

func TestForgetAndContext(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	writeFile(t, ws, "a.txt", "a")
	_, err := ws.RecordArtifact("a.txt", 0, ports.RetentionEphemeral)
	require.NoError(t, err)

	assert.True(t, ws.Forget("a.txt"))
	assert.False(t, ws.Forget("a.txt"))
	assert.False(t, ws.Forget("../x"))

	got, ok := FromContext(WithContext(context.Background(), ws))
	require.True(t, ok)
	assert.Same(t, ws, got)
	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}
