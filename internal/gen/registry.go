package gen

import (
	"sort"
	"sync"

	"github.com/anthropics/midstream/internal/domain"
)

// Registry is a thread-safe mapping from model roles to endpoint specs.
type Registry struct {
	mu     sync.RWMutex
	models map[domain.ModelRole]domain.ModelSpec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[domain.ModelRole]domain.ModelSpec),
	}
}

// Register binds a spec to its role.
// Returns ErrDuplicateModel if the role is already bound.
func (r *Registry) Register(spec domain.ModelSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[spec.Role]; exists {
		return domain.ErrDuplicateModel
	}
	r.models[spec.Role] = spec
	return nil
}

// Lookup returns the spec for a role, or ErrModelNotRegistered.
func (r *Registry) Lookup(role domain.ModelRole) (domain.ModelSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.models[role]
	if !ok {
		return domain.ModelSpec{}, domain.ErrModelNotRegistered
	}
	return spec, nil
}

// List returns all bound roles in sorted order.
func (r *Registry) List() []domain.ModelRole {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roles := make([]domain.ModelRole, 0, len(r.models))
	for role := range r.models {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool {
		return string(roles[i]) < string(roles[j])
	})
	return roles
}
