package toolregistry

import (
	"errors"
	"sort"
	"sync"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	agenterrors "github.com/vsingh18567/illuminate/internal/errors"
)

// Catalog is the read side of the registry consumed by the planner and executor.
type Catalog interface {
	Lookup(name string) (ports.ToolSpec, error)
	Get(name string) (ports.Tool, error)
	Validate(name string, args map[string]any) error
	Specs() []ports.ToolSpec
}

type entry struct {
	spec ports.ToolSpec
	tool ports.Tool
}

// Registry holds the process-wide tool set. Tools are registered at startup;
// after Seal the registry only serves reads.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]entry
	sealed bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register adds a tool. The spec is copied at registration time.
func (r *Registry) Register(tool ports.Tool) error {
	spec := tool.Spec().Clone()
	if spec.Name == "" {
		return errors.New("tool name is empty")
	}
	if spec.Parameters.Type == "" {
		spec.Parameters.Type = "object"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return agenterrors.ErrRegistrySealed
	}
	if _, exists := r.tools[spec.Name]; exists {
		return &agenterrors.DuplicateToolError{Name: spec.Name}
	}
	r.tools[spec.Name] = entry{spec: spec, tool: tool}
	return nil
}

// MustRegister registers every tool and panics on the first error. Intended for startup wiring.
func (r *Registry) MustRegister(tools ...ports.Tool) {
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			panic(err)
		}
	}
}

// Seal stops further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Lookup returns a copy of the named tool's spec.
func (r *Registry) Lookup(name string) (ports.ToolSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return ports.ToolSpec{}, &agenterrors.UnknownToolError{Name: name}
	}
	return e.spec.Clone(), nil
}

// Get returns the executable tool.
func (r *Registry) Get(name string) (ports.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return nil, &agenterrors.UnknownToolError{Name: name}
	}
	return e.tool, nil
}

// Validate checks args against the named tool's schema.
func (r *Registry) Validate(name string, args map[string]any) error {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &agenterrors.UnknownToolError{Name: name}
	}
	if violations := validateArguments(e.spec.Parameters, args); len(violations) > 0 {
		return &agenterrors.InvalidArgumentsError{Tool: name, Violations: violations}
	}
	return nil
}

// Specs returns every spec sorted by name.
func (r *Registry) Specs() []ports.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ports.ToolSpec, 0, len(r.tools))
	for _, e := range r.tools {
		specs = append(specs, e.spec.Clone())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// List returns the registered tool names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var _ Catalog = (*Registry)(nil)
