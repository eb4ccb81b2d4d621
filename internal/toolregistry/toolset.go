package toolregistry

import (
	"github.com/vsingh18567/illuminate/internal/agent/ports"
	agenterrors "github.com/vsingh18567/illuminate/internal/errors"
)

// filteredCatalog wraps a parent catalog and hides certain tools
type filteredCatalog struct {
	parent  Catalog
	exclude map[string]bool
}

// WithoutTools returns a read-only view of parent that hides the named tools.
func WithoutTools(parent Catalog, names ...string) Catalog {
	if len(names) == 0 {
		return parent
	}
	exclude := make(map[string]bool, len(names))
	for _, name := range names {
		exclude[name] = true
	}
	return &filteredCatalog{parent: parent, exclude: exclude}
}

func (f *filteredCatalog) Lookup(name string) (ports.ToolSpec, error) {
	if f.exclude[name] {
		return ports.ToolSpec{}, &agenterrors.UnknownToolError{Name: name}
	}
	return f.parent.Lookup(name)
}

func (f *filteredCatalog) Get(name string) (ports.Tool, error) {
	if f.exclude[name] {
		return nil, &agenterrors.UnknownToolError{Name: name}
	}
	return f.parent.Get(name)
}

func (f *filteredCatalog) Validate(name string, args map[string]any) error {
	if f.exclude[name] {
		return &agenterrors.UnknownToolError{Name: name}
	}
	return f.parent.Validate(name, args)
}

func (f *filteredCatalog) Specs() []ports.ToolSpec {
	all := f.parent.Specs()
	filtered := make([]ports.ToolSpec, 0, len(all))
	for _, spec := range all {
		if !f.exclude[spec.Name] {
			filtered = append(filtered, spec)
		}
	}
	return filtered
}
