package ports

import (
	"context"
	"sort"
)

// OutputKind declares what a tool returns.
type OutputKind string

const (
	OutputText OutputKind = "text"
	OutputFile OutputKind = "file"
	OutputBoth OutputKind = "both"
)

// Retention classifies an artifact as scratch or deliverable.
type Retention string

const (
	RetentionEphemeral Retention = "ephemeral"
	RetentionFinal     Retention = "final"
)

// Valid reports whether r is a known retention class.
func (r Retention) Valid() bool {
	return r == RetentionEphemeral || r == RetentionFinal
}

// Tool is the capability every registered tool implements.
type Tool interface {
	// Spec returns the tool's declaration. It must not change after registration.
	Spec() ToolSpec

	// Invoke runs the tool. Paths in the output may be absolute or relative
	// to the workspace root.
	Invoke(ctx context.Context, args map[string]any) (ToolOutput, error)
}

// ToolSpec defines a tool for the planner.
type ToolSpec struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	Parameters  ParameterSchema `json:"parameters" yaml:"parameters"`
	Output      OutputContract  `json:"output" yaml:"output"`
}

// OutputContract declares what a tool produces and how its files are retained by default.
type OutputContract struct {
	Kind             OutputKind `json:"kind" yaml:"kind"`
	DefaultRetention Retention  `json:"default_retention,omitempty" yaml:"default_retention,omitempty"`
}

// ParameterSchema defines tool parameters
type ParameterSchema struct {
	Type                 string              `json:"type" yaml:"type"`
	Properties           map[string]Property `json:"properties" yaml:"properties"`
	Required             []string            `json:"required,omitempty" yaml:"required,omitempty"`
	AdditionalProperties bool                `json:"additionalProperties,omitempty" yaml:"additional_properties,omitempty"`
}

// Property defines a single parameter
type Property struct {
	Type        string              `json:"type" yaml:"type"`
	Description string              `json:"description" yaml:"description"`
	Enum        []any               `json:"enum,omitempty" yaml:"enum,omitempty"`
	Items       *Property           `json:"items,omitempty" yaml:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required    []string            `json:"required,omitempty" yaml:"required,omitempty"`
}

// PropertyNames returns the schema's property names in sorted order.
func (s ParameterSchema) PropertyNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToolOutput is what a tool returns: some text, some files, or both.
type ToolOutput struct {
	Text  string
	Files []ProducedFile
}

// ProducedFile is a file a tool reports having written. An empty Retention
// falls back to the tool's default.
type ProducedFile struct {
	Path      string
	Retention Retention
}

// Clone returns a deep copy of the spec so registered specs stay immutable.
func (s ToolSpec) Clone() ToolSpec {
	out := s
	out.Parameters.Properties = cloneProperties(s.Parameters.Properties)
	out.Parameters.Required = append([]string(nil), s.Parameters.Required...)
	return out
}

func cloneProperties(in map[string]Property) map[string]Property {
	if in == nil {
		return nil
	}
	out := make(map[string]Property, len(in))
	for name, prop := range in {
		out[name] = prop.clone()
	}
	return out
}

func (p Property) clone() Property {
	out := p
	out.Enum = append([]any(nil), p.Enum...)
	out.Required = append([]string(nil), p.Required...)
	out.Properties = cloneProperties(p.Properties)
	if p.Items != nil {
		items := p.Items.clone()
		out.Items = &items
	}
	return out
}
