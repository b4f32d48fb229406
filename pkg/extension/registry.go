package extension

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var (
	// ErrModuleNotFound indicates that no module exists under the requested name or path.
	ErrModuleNotFound = errors.New("module not found")
	// ErrModuleNil indicates a nil module registration attempt.
	ErrModuleNil = errors.New("module must not be nil")
	// ErrModuleNameEmpty indicates a module registration with an empty name.
	ErrModuleNameEmpty = errors.New("module name must not be empty")
	// ErrModuleAlreadyRegistered indicates duplicate module registration.
	ErrModuleAlreadyRegistered = errors.New("module already registered")
)

// Module is a loadable unit of extension values.
type Module struct {
	// Exports holds the named exports. The "default" key is the default export.
	Exports map[string]any
	// Value is the whole module value. When nil, Exports stands for the module.
	Value any
}

// Lookup resolves export, then the default export, then the whole module.
func (m *Module) Lookup(export string) (any, bool) {
	if m == nil {
		return nil, false
	}
	if v, ok := m.Exports[export]; ok && v != nil {
		return v, true
	}
	if v, ok := m.Exports["default"]; ok && v != nil {
		return v, true
	}
	if m.Value != nil {
		return m.Value, true
	}
	if m.Exports != nil {
		return m.Exports, true
	}
	return nil, false
}

// Loader loads a module by name or path.
type Loader interface {
	Load(ctx context.Context, name string) (*Module, error)
}

// Registry stores statically registered Go modules.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*Module
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]*Module)}
}

// Register adds a module under name, guarding against duplicates.
func (r *Registry) Register(name string, m *Module) error {
	if m == nil {
		return ErrModuleNil
	}
	key := strings.TrimSpace(name)
	if key == "" {
		return ErrModuleNameEmpty
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[key]; exists {
		return fmt.Errorf("%w: %s", ErrModuleAlreadyRegistered, key)
	}
	r.modules[key] = m
	return nil
}

// Load returns the module registered under name.
func (r *Registry) Load(_ context.Context, name string) (*Module, error) {
	r.mu.RLock()
	m, ok := r.modules[strings.TrimSpace(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (registered: %s)", ErrModuleNotFound, name, strings.Join(r.Names(), ", "))
	}
	return m, nil
}

// Names returns the registered module names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry used by the default loader.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds a module to the default registry.
func Register(name string, m *Module) error {
	return defaultRegistry.Register(name, m)
}
