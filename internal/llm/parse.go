package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
)

type wireStep struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

type wireResponse struct {
	Action     string     `json:"action"`
	Steps      []wireStep `json:"steps"`
	Summary    string     `json:"summary"`
	Confidence *float64   `json:"confidence"`
}

// ParseResponse converts model text into the closed response variant. Anything
// that is not exactly one JSON object of a known shape is malformed; no repair
// is attempted.
func ParseResponse(raw string) ports.ModelResponse {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ports.MalformedResponse(raw, "empty response")
	}
	if !strings.HasPrefix(trimmed, "{") {
		return ports.MalformedResponse(raw, "response is not a JSON object")
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.DisallowUnknownFields()

	var wire wireResponse
	if err := dec.Decode(&wire); err != nil {
		return ports.MalformedResponse(raw, fmt.Sprintf("invalid JSON: %v", err))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return ports.MalformedResponse(raw, "unexpected content after the JSON object")
	}

	confidence := 0.0
	if wire.Confidence != nil {
		confidence = *wire.Confidence
		if confidence < 0 || confidence > 1 {
			return ports.MalformedResponse(raw, fmt.Sprintf("confidence %v is outside [0, 1]", confidence))
		}
	}

	switch wire.Action {
	case "plan":
		if wire.Summary != "" {
			return ports.MalformedResponse(raw, "a plan must not carry a summary")
		}
		steps := make([]ports.ProposedStep, 0, len(wire.Steps))
		for i, step := range wire.Steps {
			if strings.TrimSpace(step.Tool) == "" {
				return ports.MalformedResponse(raw, fmt.Sprintf("step %d has no tool", i))
			}
			args := step.Arguments
			if args == nil {
				args = map[string]any{}
			}
			steps = append(steps, ports.ProposedStep{Tool: step.Tool, Arguments: args})
		}
		resp := ports.PlanResponse(confidence, steps...)
		resp.Raw = raw
		return resp
	case "finish":
		if len(wire.Steps) > 0 {
			return ports.MalformedResponse(raw, "a finish signal must not propose steps")
		}
		if strings.TrimSpace(wire.Summary) == "" {
			return ports.MalformedResponse(raw, "a finish signal needs a summary")
		}
		resp := ports.FinishResponse(wire.Summary)
		resp.Confidence = confidence
		resp.Raw = raw
		return resp
	case "":
		return ports.MalformedResponse(raw, `missing "action"`)
	default:
		return ports.MalformedResponse(raw, fmt.Sprintf("unknown action %q", wire.Action))
	}
}
