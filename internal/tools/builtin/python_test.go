package builtin

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePackageSpec(t *testing.T) {
	valid := []string{"pandas", "seaborn==0.13.2", "scikit-learn>=1.4", "uvicorn[standard]", "zope.interface~=6.0", "a"}
	for _, pkg := range valid {
		assert.NoError(t, validatePackageSpec(pkg), pkg)
	}

	invalid := []string{"", "-r requirements.txt", "--index-url=http://evil", "pandas; rm -rf /", "pandas numpy", "../local", "git+https://x/y.git", "pkg-"}
	for _, pkg := range invalid {
		assert.Error(t, validatePackageSpec(pkg), pkg)
	}
}

func TestPipInstallRejectsBeforeRunning(t *testing.T) {
	ctx, _ := newWorkspaceContext(t)
	tool := &pipInstall{python: "illuminate-no-such-python"}
	_, err := tool.Invoke(ctx, map[string]any{"package": "--upgrade pip"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid package specifier")
}

func TestRunPythonCapturesOutput(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	ctx, ws := newWorkspaceContext(t)
	writeFixture(t, ws, "job.sh", "echo \"rows: $1\"\necho 'warn' >&2\nexit 3\n")

	tool := &runPython{python: sh}
	out, err := tool.Invoke(ctx, map[string]any{"script": "job.sh", "args": []any{"42"}})
	require.NoError(t, err)
	assert.Equal(t, "exit code: 3\nstdout:\nrows: 42\nstderr:\nwarn", out.Text)
	assert.Empty(t, out.Files)

	_, err = tool.Invoke(ctx, map[string]any{"script": "missing.py"})
	assert.ErrorContains(t, err, "script not found")
}

func TestRunCommandStopsWithContext(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := runCommand(ctx, t.TempDir(), "sleep", "5")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunCommandDoesNotWaitForGrandchildren(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the pipe delay")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := runCommand(ctx, t.TempDir(), "sh", "-c", "sleep 30 & sleep 30")
	require.Error(t, err)
	assert.Less(t, time.Since(started), commandWaitDelay+10*time.Second)
}

func TestRunCommandMissingBinary(t *testing.T) {
	_, err := runCommand(context.Background(), t.TempDir(), "illuminate-no-such-binary")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run illuminate-no-such-binary")
}
