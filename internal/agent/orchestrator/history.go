package orchestrator

import (
	"fmt"
	"sync"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
)

// History is the append-only step log of one task. It doubles as the
// workspace ledger for producing-step checks.
type History struct {
	mu    sync.RWMutex
	steps []*ports.Step
}

// Append adds step. Its index must equal the current length.
func (h *History) Append(step *ports.Step) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if step.Index != len(h.steps) {
		return fmt.Errorf("step index %d out of sequence, expected %d", step.Index, len(h.steps))
	}
	h.steps = append(h.steps, step)
	return nil
}

// Len returns the number of steps appended so far.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.steps)
}

// StepStatus implements ports.StepLedger.
func (h *History) StepStatus(index int) (ports.StepStatus, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if index < 0 || index >= len(h.steps) {
		return "", false
	}
	return h.steps[index].Status, true
}

// Steps returns a copy of every step in order.
func (h *History) Steps() []ports.Step {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ports.Step, len(h.steps))
	for i, step := range h.steps {
		out[i] = *step
	}
	return out
}

// Count returns how many steps ended with status.
func (h *History) Count(status ports.StepStatus) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, step := range h.steps {
		if step.Status == status {
			n++
		}
	}
	return n
}
