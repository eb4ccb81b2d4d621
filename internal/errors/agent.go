package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrRegistrySealed is returned when registering after startup.
	ErrRegistrySealed = errors.New("tool registry is sealed")
	// ErrStepNotCompleted is returned when an artifact names a producing step
	// that does not exist or has not completed.
	ErrStepNotCompleted = errors.New("producing step is not completed")
	// ErrReservedPath is returned for paths inside the run log directory.
	ErrReservedPath = errors.New("path is reserved for run logs")
	// ErrCancelled marks a task stopped by its context.
	ErrCancelled = errors.New("task cancelled")
)

// DuplicateToolError is returned when a tool name is registered twice.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool already exists: %s", e.Name)
}

// UnknownToolError is returned when a tool name is not registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// Violation is one schema violation found while validating tool arguments.
type Violation struct {
	Field   string
	Message string
}

func (v Violation) String() string {
	if v.Field == "" {
		return v.Message
	}
	return v.Field + ": " + v.Message
}

// InvalidArgumentsError lists every schema violation of a tool call.
type InvalidArgumentsError struct {
	Tool       string
	Violations []Violation
}

func (e *InvalidArgumentsError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(parts, "; "))
}

// PathOutsideWorkspaceError is returned when a path escapes the working directory.
type PathOutsideWorkspaceError struct {
	Path string
	Root string
}

func (e *PathOutsideWorkspaceError) Error() string {
	return fmt.Sprintf("path %q resolves outside workspace %s", e.Path, e.Root)
}

// MalformedPlanError is a recoverable planning failure.
type MalformedPlanError struct {
	Reason     string
	Violations []string
	Raw        string
	Cause      error
}

func (e *MalformedPlanError) Error() string {
	msg := "malformed plan: " + e.Reason
	if len(e.Violations) > 0 {
		msg += ": " + strings.Join(e.Violations, "; ")
	}
	return msg
}

func (e *MalformedPlanError) Unwrap() error {
	return e.Cause
}

// ToolExecutionError wraps a tool failure with the call that caused it.
type ToolExecutionError struct {
	Tool      string
	Arguments map[string]any
	Cause     error
	TimedOut  bool
	Attempt   int
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed (args %s): %v", e.Tool, FormatArguments(e.Arguments), e.Cause)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Cause
}

// StepBudgetExhaustedError signals that a task used all of its steps.
type StepBudgetExhaustedError struct {
	Budget int
	Used   int
}

func (e *StepBudgetExhaustedError) Error() string {
	return fmt.Sprintf("step budget exhausted: used %d of %d steps", e.Used, e.Budget)
}

// IsRetryableStep reports whether a step failure may be retried with the same arguments.
func IsRetryableStep(err error) bool {
	var execErr *ToolExecutionError
	return errors.As(err, &execErr)
}

// FormatArguments renders tool arguments as a stable key=value list.
func FormatArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		val := fmt.Sprintf("%v", args[k])
		if len(val) > 80 {
			val = val[:77] + "..."
		}
		fmt.Fprintf(&b, "%s=%s", k, val)
	}
	b.WriteByte('}')
	return b.String()
}
