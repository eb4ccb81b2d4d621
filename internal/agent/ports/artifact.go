package ports

import "time"

// Artifact is a file tracked by the workspace. Input marks a file that was
// already in the working directory before the task wrote to it.
type Artifact struct {
	Path      string    `json:"path" yaml:"path"`
	StepIndex int       `json:"step_index" yaml:"step_index"`
	Retention Retention `json:"retention" yaml:"retention"`
	Size      int64     `json:"size" yaml:"size"`
	ModTime   time.Time `json:"mod_time" yaml:"mod_time"`
	Digest    string    `json:"digest" yaml:"digest"`
	Input     bool      `json:"input,omitempty" yaml:"input,omitempty"`
}

// ArtifactWrite is the outcome of recording an artifact.
type ArtifactWrite struct {
	Artifact     Artifact `json:"artifact" yaml:"artifact"`
	Overwrote    bool     `json:"overwrote,omitempty" yaml:"overwrote,omitempty"`
	PreviousStep int      `json:"previous_step,omitempty" yaml:"previous_step,omitempty"`
	DiffSummary  string   `json:"diff_summary,omitempty" yaml:"diff_summary,omitempty"`
	Undeclared   bool     `json:"undeclared,omitempty" yaml:"undeclared,omitempty"`
}

// FileEntry is one file in a workspace snapshot.
type FileEntry struct {
	Path      string    `json:"path" yaml:"path"`
	Size      int64     `json:"size" yaml:"size"`
	ModTime   time.Time `json:"mod_time" yaml:"mod_time"`
	Retention Retention `json:"retention,omitempty" yaml:"retention,omitempty"`
	Tracked   bool      `json:"tracked,omitempty" yaml:"tracked,omitempty"`
}

// CleanupReport lists what a cleanup pass removed and kept.
type CleanupReport struct {
	Removed []string `json:"removed" yaml:"removed"`
	Kept    []string `json:"kept,omitempty" yaml:"kept,omitempty"`
}

// StepLedger answers whether a step index refers to a completed step.
type StepLedger interface {
	StepStatus(index int) (StepStatus, bool)
}
