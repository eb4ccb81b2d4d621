package ports

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskExhausted TaskStatus = "exhausted"
)

// Terminal reports whether no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskExhausted
}

// StepStatus is the lifecycle state of a step.
type StepStatus string

const (
	StepProposed  StepStatus = "proposed"
	StepExecuting StepStatus = "executing"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Task is one end-to-end run against a prompt and a working directory.
type Task struct {
	ID         string
	Prompt     string
	WorkDir    string
	StepBudget int
	Status     TaskStatus
	CreatedAt  time.Time
}

// NewTask creates a pending task.
func NewTask(prompt, workDir string, stepBudget int) (*Task, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.New("task prompt is empty")
	}
	if strings.TrimSpace(workDir) == "" {
		return nil, errors.New("task working directory is empty")
	}
	if stepBudget <= 0 {
		return nil, errors.New("step budget must be positive")
	}
	return &Task{
		ID:         uuid.NewString(),
		Prompt:     prompt,
		WorkDir:    workDir,
		StepBudget: stepBudget,
		Status:     TaskPending,
		CreatedAt:  time.Now(),
	}, nil
}

// Step is one planned, tool-backed action.
type Step struct {
	Index     int
	Round     int
	Tool      string
	Arguments map[string]any
	Status    StepStatus
	Attempts  int
	Result    *StepResult
}

// StepResult captures what executing a step produced.
type StepResult struct {
	Text      string
	Artifacts []ArtifactWrite
	Err       error
	Duration  time.Duration
}

// Failed reports whether the result carries an error.
func (r StepResult) Failed() bool {
	return r.Err != nil
}
