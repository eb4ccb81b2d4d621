package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	agenterrors "github.com/vsingh18567/illuminate/internal/errors"
)

// RecordArtifact registers a new or updated artifact produced by stepIndex.
// A later write to the same path replaces the earlier one; the returned
// ArtifactWrite says which step was overwritten.
func (w *Workspace) RecordArtifact(path string, stepIndex int, retention ports.Retention) (ports.ArtifactWrite, error) {
	abs, err := w.Resolve(path)
	if err != nil {
		return ports.ArtifactWrite{}, err
	}
	rel, _ := relWithin(w.root, abs)
	rel = toSlash(rel)
	if rel == "." {
		return ports.ArtifactWrite{}, fmt.Errorf("record artifact: %s is the workspace root", path)
	}
	if retention == "" {
		retention = ports.RetentionEphemeral
	}
	if !retention.Valid() {
		return ports.ArtifactWrite{}, fmt.Errorf("record artifact %s: unknown retention %q", rel, retention)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return ports.ArtifactWrite{}, fmt.Errorf("record artifact %s: %w", rel, err)
	}
	if info.IsDir() {
		return ports.ArtifactWrite{}, fmt.Errorf("record artifact %s: is a directory", rel)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return ports.ArtifactWrite{}, fmt.Errorf("record artifact %s: %w", rel, err)
	}
	sum := sha256.Sum256(data)

	artifact := ports.Artifact{
		Path:      rel,
		StepIndex: stepIndex,
		Retention: retention,
		Size:      info.Size(),
		ModTime:   info.ModTime(),
		Digest:    hex.EncodeToString(sum[:]),
		Input:     w.inputs[rel],
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ledger != nil {
		status, ok := w.ledger.StepStatus(stepIndex)
		if !ok || status != ports.StepCompleted {
			return ports.ArtifactWrite{}, fmt.Errorf("record artifact %s for step %d: %w", rel, stepIndex, agenterrors.ErrStepNotCompleted)
		}
	}

	write := ports.ArtifactWrite{Artifact: artifact}
	if prev, exists := w.artifacts[rel]; exists {
		write.Overwrote = true
		write.PreviousStep = prev.StepIndex
		switch {
		case prev.Digest == artifact.Digest:
			write.DiffSummary = "content unchanged"
		default:
			if before, ok := w.contents.Get(rel); ok && isText(data) {
				write.DiffSummary = summarizeDiff(before, string(data))
			}
		}
		w.logger.Info("step %d overwrote %s (previously written by step %d)", stepIndex, rel, prev.StepIndex)
	}

	w.artifacts[rel] = artifact
	if isText(data) {
		w.contents.Add(rel, string(data))
	} else {
		w.contents.Remove(rel)
	}
	return write, nil
}

func isText(data []byte) bool {
	return len(data) <= maxDiffBytes && utf8.Valid(data)
}
