package actions

import (
	"sort"
	"sync"

	"github.com/leadflow/engine/pkg/schema"
)

// Registry is the thread-safe lookup table of action kinds.
type Registry struct {
	mu      sync.RWMutex
	actions map[schema.NodeType]Action
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[schema.NodeType]Action),
	}
}

// Register adds an action to the registry. Returns error on duplicate kind.
func (r *Registry) Register(action Action) error {
	if action == nil {
		return schema.NewError(schema.ErrCodeValidation, "action is nil")
	}
	kind := action.Kind()
	if !kind.IsAction() {
		return schema.NewErrorf(schema.ErrCodeValidation, "%q is not an action node type", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[kind]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", kind)
	}

	r.actions[kind] = action
	return nil
}

// Get retrieves an action by kind.
func (r *Registry) Get(kind schema.NodeType) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	action, ok := r.actions[kind]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "action %q not registered", kind)
	}
	return action, nil
}

// Has checks if an action kind is registered.
func (r *Registry) Has(kind schema.NodeType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[kind]
	return ok
}

// Kinds returns the registered action kinds, sorted.
func (r *Registry) Kinds() []schema.NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]schema.NodeType, 0, len(r.actions))
	for k := range r.actions {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
