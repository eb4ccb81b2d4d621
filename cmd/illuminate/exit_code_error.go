package main

import (
	"errors"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
)

// Process exit codes. Scripts rely on these staying stable.
const (
	exitOK        = 0
	exitFailed    = 1
	exitExhausted = 2
	exitUsage     = 3
)

// ExitCodeError wraps an error with a specific process exit code.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func usageError(err error) error {
	return &ExitCodeError{Code: exitUsage, Err: err}
}

// exitCode maps a command error to the process exit code. Errors without an
// explicit code are failures.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var coded *ExitCodeError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return exitFailed
}

// statusCode maps a terminal task status to an exit code.
func statusCode(status ports.TaskStatus) int {
	switch status {
	case ports.TaskSucceeded:
		return exitOK
	case ports.TaskExhausted:
		return exitExhausted
	default:
		return exitFailed
	}
}

// worstCode picks the code reported for several tasks: any failure wins over
// an exhausted budget, which wins over success.
func worstCode(codes ...int) int {
	worst := exitOK
	for _, code := range codes {
		switch {
		case code == exitFailed:
			return exitFailed
		case code == exitExhausted:
			worst = exitExhausted
		case code != exitOK && worst == exitOK:
			worst = code
		}
	}
	return worst
}
