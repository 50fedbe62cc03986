package tools

import (
	"fmt"
	"sync"

	"github.com/nexuscore/core/internal/capability"
)

// Registry holds registered tools and their compiled schemas, guarded by
// an RWMutex the way the teacher's ToolRegistry is (reads vastly
// outnumber registrations, which only happen at startup / plugin load).
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*capability.CompiledSchema
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*capability.CompiledSchema),
	}
}

// Register validates t's capability document, compiles its input schema,
// and adds it to the registry. A tool with an invalid capability is never
// registered — fail loud at startup rather than silently accepting calls
// nothing will validate correctly.
func (r *Registry) Register(t Tool) error {
	toolCap := t.Capability()
	if err := toolCap.Validate(); err != nil {
		return fmt.Errorf("tools: register %q: %w", t.Name(), err)
	}
	schema, err := capability.CompileSchema(toolCap)
	if err != nil {
		return fmt.Errorf("tools: register %q: %w", t.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.schemas[t.Name()] = schema
	return nil
}

// Get returns a registered tool and its compiled schema.
func (r *Registry) Get(name string) (Tool, *capability.CompiledSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, nil, false
	}
	return t, r.schemas[name], true
}

// Names returns all registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	return names
}
