package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vsingh18567/illuminate/internal/agent/orchestrator"
	"github.com/vsingh18567/illuminate/internal/agent/ports"
	"github.com/vsingh18567/illuminate/internal/workspace"
)

// RunRecordName is the file written into the log directory of each task.
const RunRecordName = "run.yaml"

// RunRecord is the persisted outcome of one task.
type RunRecord struct {
	TaskID     string           `yaml:"task_id"`
	Prompt     string           `yaml:"prompt"`
	WorkDir    string           `yaml:"work_dir"`
	Status     ports.TaskStatus `yaml:"status"`
	Summary    string           `yaml:"summary,omitempty"`
	Error      string           `yaml:"error,omitempty"`
	StartedAt  time.Time        `yaml:"started_at"`
	Duration   string           `yaml:"duration"`
	Rounds     int              `yaml:"rounds"`
	StepBudget int              `yaml:"step_budget"`
	StepsUsed  int              `yaml:"steps_used"`
	Steps      []StepRecord     `yaml:"steps"`
	Final      []ports.Artifact `yaml:"final_artifacts"`
	Removed    []string         `yaml:"removed,omitempty"`
	CleanupErr string           `yaml:"cleanup_error,omitempty"`
	Notes      []string         `yaml:"notes,omitempty"`
}

// StepRecord is one history entry of a RunRecord.
type StepRecord struct {
	Index     int              `yaml:"index"`
	Round     int              `yaml:"round"`
	Tool      string           `yaml:"tool"`
	Arguments map[string]any   `yaml:"arguments,omitempty"`
	Status    ports.StepStatus `yaml:"status"`
	Attempts  int              `yaml:"attempts"`
	Duration  string           `yaml:"duration,omitempty"`
	Files     []string         `yaml:"files,omitempty"`
	Error     string           `yaml:"error,omitempty"`
}

// NewRunRecord converts a loop result into its persisted form.
func NewRunRecord(task *ports.Task, res orchestrator.Result) RunRecord {
	rec := RunRecord{
		TaskID:    res.TaskID,
		Status:    res.Status,
		Summary:   res.Summary,
		Duration:  res.Duration.Round(time.Millisecond).String(),
		Rounds:    res.Rounds,
		StepsUsed: res.StepsUsed,
		Steps:     make([]StepRecord, 0, len(res.History)),
		Final:     res.FinalArtifacts,
		Removed:   res.Cleanup.Removed,
		Notes:     res.Notes,
	}
	if task != nil {
		rec.Prompt = task.Prompt
		rec.WorkDir = task.WorkDir
		rec.StartedAt = task.CreatedAt
		rec.StepBudget = task.StepBudget
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if res.CleanupErr != nil {
		rec.CleanupErr = res.CleanupErr.Error()
	}
	if rec.Final == nil {
		rec.Final = []ports.Artifact{}
	}

	for _, step := range res.History {
		sr := StepRecord{
			Index:     step.Index,
			Round:     step.Round,
			Tool:      step.Tool,
			Arguments: step.Arguments,
			Status:    step.Status,
			Attempts:  step.Attempts,
		}
		if step.Result != nil {
			sr.Duration = step.Result.Duration.Round(time.Millisecond).String()
			for _, write := range step.Result.Artifacts {
				sr.Files = append(sr.Files, write.Artifact.Path)
			}
			if step.Result.Err != nil {
				sr.Error = step.Result.Err.Error()
			}
		}
		rec.Steps = append(rec.Steps, sr)
	}
	return rec
}

// WriteRunRecord stores the record under the log directory of root and
// returns the file path.
func WriteRunRecord(root string, rec RunRecord) (string, error) {
	dir := filepath.Join(root, workspace.LogDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create log directory: %w", err)
	}
	data, err := yaml.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal run record: %w", err)
	}
	path := filepath.Join(dir, RunRecordName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write run record: %w", err)
	}
	return path, nil
}

// ReadRunRecord loads a record written by WriteRunRecord.
func ReadRunRecord(path string) (RunRecord, error) {
	var rec RunRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("parse run record: %w", err)
	}
	return rec, nil
}
