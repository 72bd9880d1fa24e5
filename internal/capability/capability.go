// Package capability holds the per-role agent capabilities. A capability is
// the opaque "produce an output given a task input" contract the agent
// runtime invokes; the orchestration layer stays correct regardless of what
// a capability computes.
package capability

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/bngesp/MultiCoder/internal/domain"
)

// Capability processes tasks of a specific role.
//
// Invoke must either return an output payload or an error; errors are
// reported to the coordinator as agent failures and feed its retry policy.
// Deterministic failures (malformed input) should return immediately
// rather than waiting out the timeout.
type Capability interface {
	Invoke(ctx context.Context, input domain.TaskInput) (json.RawMessage, error)
	Role() domain.Role
}

// Registry maps roles to their capabilities.
type Registry struct {
	mu   sync.RWMutex
	caps map[domain.Role]Capability
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[domain.Role]Capability)}
}

// Register adds a capability. Safe to call concurrently.
func (r *Registry) Register(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[c.Role()] = c
}

// Get returns the capability for the given role.
// Returns UnknownRoleError if not registered.
func (r *Registry) Get(role domain.Role) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[role]
	if !ok {
		return nil, &domain.UnknownRoleError{Role: role}
	}
	return c, nil
}

// depOutput unmarshals the dependency output for role into v.
// Returns false when the dependency is absent.
func depOutput(input domain.TaskInput, role domain.Role, v any) (bool, error) {
	raw, ok := input.Deps[role]
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, err
	}
	return true, nil
}
