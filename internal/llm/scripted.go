package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	agenterrors "github.com/vsingh18567/illuminate/internal/errors"
)

// ErrScriptExhausted is returned once a scripted gateway has no responses left.
var ErrScriptExhausted = errors.New("scripted gateway has no responses left")

// GatewayFunc adapts a function to ports.ModelGateway.
type GatewayFunc func(ctx context.Context, state ports.ConversationState, tools []ports.ToolSpec) (ports.ModelResponse, error)

func (f GatewayFunc) Generate(ctx context.Context, state ports.ConversationState, tools []ports.ToolSpec) (ports.ModelResponse, error) {
	return f(ctx, state, tools)
}

// ScriptedGateway replays a fixed list of responses. It backs the "script"
// provider and the orchestration tests.
type ScriptedGateway struct {
	mu         sync.Mutex
	responses  []ports.ModelResponse
	next       int
	repeatLast bool
	calls      []ports.ConversationState
}

// NewScriptedGateway returns a gateway that answers with responses in order.
func NewScriptedGateway(responses ...ports.ModelResponse) *ScriptedGateway {
	return &ScriptedGateway{responses: responses}
}

// RepeatLast makes the final response repeat forever instead of running out.
func (g *ScriptedGateway) RepeatLast() *ScriptedGateway {
	g.mu.Lock()
	g.repeatLast = true
	g.mu.Unlock()
	return g
}

func (g *ScriptedGateway) Generate(ctx context.Context, state ports.ConversationState, _ []ports.ToolSpec) (ports.ModelResponse, error) {
	if err := ctx.Err(); err != nil {
		return ports.ModelResponse{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, cloneState(state))

	if g.next >= len(g.responses) {
		if g.repeatLast && len(g.responses) > 0 {
			return g.responses[len(g.responses)-1], nil
		}
		return ports.ModelResponse{}, agenterrors.NewPermanentError(ErrScriptExhausted, "")
	}
	resp := g.responses[g.next]
	g.next++
	return resp, nil
}

// Calls returns the conversation states the gateway was asked about.
func (g *ScriptedGateway) Calls() []ports.ConversationState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ports.ConversationState(nil), g.calls...)
}

func cloneState(state ports.ConversationState) ports.ConversationState {
	out := state
	out.History = append([]ports.HistoryEntry(nil), state.History...)
	out.Workspace = append([]ports.FileEntry(nil), state.Workspace...)
	out.Notes = append([]string(nil), state.Notes...)
	return out
}

type scriptFile struct {
	RepeatLast bool          `yaml:"repeat_last"`
	Responses  []scriptEntry `yaml:"responses"`
}

type scriptEntry struct {
	Raw        string           `yaml:"raw"`
	Action     string           `yaml:"action"`
	Summary    string           `yaml:"summary"`
	Confidence *float64         `yaml:"confidence"`
	Steps      []map[string]any `yaml:"steps"`
}

// LoadScript reads a YAML script of responses. Each entry is either raw model
// text or a structured response; both go through ParseResponse so scripted
// runs obey the same parsing rules as live ones.
func LoadScript(path string) (*ScriptedGateway, error) {
	if path == "" {
		return nil, errors.New("script provider needs llm.script_file")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}

	var file scriptFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	if len(file.Responses) == 0 {
		return nil, fmt.Errorf("script %s has no responses", path)
	}

	responses := make([]ports.ModelResponse, 0, len(file.Responses))
	for _, entry := range file.Responses {
		raw := entry.Raw
		if raw == "" {
			encoded, err := json.Marshal(wireFromEntry(entry))
			if err != nil {
				return nil, fmt.Errorf("encode script entry: %w", err)
			}
			raw = string(encoded)
		}
		responses = append(responses, ParseResponse(raw))
	}

	gateway := NewScriptedGateway(responses...)
	if file.RepeatLast {
		gateway.RepeatLast()
	}
	return gateway, nil
}

func wireFromEntry(entry scriptEntry) map[string]any {
	out := map[string]any{"action": entry.Action}
	if entry.Summary != "" {
		out["summary"] = entry.Summary
	}
	if entry.Confidence != nil {
		out["confidence"] = *entry.Confidence
	}
	if len(entry.Steps) > 0 {
		out["steps"] = entry.Steps
	}
	return out
}
