// Package tools holds tool descriptors, their argument schemas and the
// registry the dispatcher resolves operation names against.
package tools

import (
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/xeipuuv/gojsonschema"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-/]{0,127}$`)

// ErrRegistryFrozen is returned by Register once the registry is sealed.
var ErrRegistryFrozen = errors.New("tool registry is frozen")

// DuplicateToolError reports a second registration under an existing name.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool '%s' is already registered", e.Name)
}

// UnknownToolError reports a lookup of a name that was never registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("tool '%s' is not registered", e.Name)
}

// Tool is a registered descriptor together with its handler and compiled schema.
type Tool struct {
	Descriptor
	Handler Handler
	schema  *gojsonschema.Schema
}

// Registry maps tool names to tools. It is filled once at startup, frozen,
// and read concurrently afterwards without locking. Register must not be
// called concurrently with itself.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	frozen atomic.Bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// ValidName reports whether name can be used as a tool name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Register adds a tool. Duplicate names are rejected rather than overwritten.
func (r *Registry) Register(desc Descriptor, handler Handler) error {
	if r.frozen.Load() {
		return ErrRegistryFrozen
	}
	if !ValidName(desc.Name) {
		return fmt.Errorf("invalid tool name %q", desc.Name)
	}
	if handler == nil {
		return fmt.Errorf("tool '%s' has no handler", desc.Name)
	}
	if _, exists := r.tools[desc.Name]; exists {
		return &DuplicateToolError{Name: desc.Name}
	}

	if desc.InputSchema.Type == "" {
		desc.InputSchema.Type = TypeObject
	}
	if desc.InputSchema.Properties == nil {
		desc.InputSchema.Properties = map[string]Property{}
	}
	for _, req := range desc.InputSchema.Required {
		if _, ok := desc.InputSchema.Properties[req]; !ok {
			return fmt.Errorf("tool '%s': required argument '%s' has no property", desc.Name, req)
		}
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(desc.InputSchema))
	if err != nil {
		return fmt.Errorf("tool '%s': compile input schema: %w", desc.Name, err)
	}

	r.tools[desc.Name] = &Tool{Descriptor: desc, Handler: handler, schema: compiled}
	r.order = append(r.order, desc.Name)
	return nil
}

// Freeze seals the registry; later Register calls fail.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (*Tool, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	return tool, nil
}

// List returns all descriptors in registration order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Descriptor)
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.order)
}
