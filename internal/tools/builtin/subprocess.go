package builtin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/vsingh18567/illuminate/internal/tokenutil"
)

// commandWaitDelay bounds how long Run waits for the output pipes after the
// process is killed. Grandchildren that inherited them would otherwise keep
// Run blocked.
const commandWaitDelay = 5 * time.Second

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// runCommand runs name in dir and captures its output. A non-zero exit code is
// reported in the result; the error is set only when the process could not be
// run or was stopped by ctx.
func runCommand(ctx context.Context, dir, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = commandWaitDelay

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()
	result := commandResult{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}
	if runErr == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("%s stopped: %w", name, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return result, fmt.Errorf("run %s: %w", name, runErr)
}

// format renders the result for the planner, capping each stream at limit characters.
func (r commandResult) format(limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "exit code: %d", r.ExitCode)
	if out := strings.TrimRight(r.Stdout, "\n"); out != "" {
		b.WriteString("\nstdout:\n")
		b.WriteString(tokenutil.TruncateRunes(out, limit))
	}
	if errOut := strings.TrimRight(r.Stderr, "\n"); errOut != "" {
		b.WriteString("\nstderr:\n")
		b.WriteString(tokenutil.TruncateRunes(errOut, limit))
	}
	return b.String()
}
