package steps

import (
	"sort"
	"sync"

	"github.com/rendis/flowsim/pkg/schema"
)

// Registry maps step types to behaviors. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	behaviors map[string]Behavior
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		behaviors: make(map[string]Behavior),
	}
}

// Register adds a behavior. Returns error on duplicate type.
func (r *Registry) Register(b Behavior) error {
	if b == nil {
		return schema.NewError(schema.ErrCodeValidation, "behavior is nil")
	}
	stepType := b.Type()
	if stepType == "" {
		return schema.NewError(schema.ErrCodeValidation, "behavior step type is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.behaviors[stepType]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "step type %q already registered", stepType)
	}

	r.behaviors[stepType] = b
	return nil
}

// Get retrieves the behavior for a step type.
func (r *Registry) Get(stepType string) (Behavior, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.behaviors[stepType]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "step type %q not registered", stepType)
	}
	return b, nil
}

// List returns the registered step types, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.behaviors))
	for t := range r.behaviors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Has checks if a step type is registered.
func (r *Registry) Has(stepType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.behaviors[stepType]
	return ok
}

// ValidateConfig checks config against the behavior registered for
// stepType. Unregistered types and behaviors without config rules pass.
func (r *Registry) ValidateConfig(stepType string, config map[string]any) error {
	r.mu.RLock()
	b, ok := r.behaviors[stepType]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	if v, ok := b.(ConfigValidator); ok {
		return v.ValidateConfig(config)
	}
	return nil
}

// Count returns the number of registered behaviors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.behaviors)
}
