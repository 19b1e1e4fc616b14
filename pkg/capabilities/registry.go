package capabilities

import (
	"context"
	"sort"
	"sync"

	"github.com/kart-io/sentinel-agent/pkg/errors"
)

// Capability is a live capability instance.
type Capability interface {
	// Binding returns the handler binding the capability delivers through.
	Binding() *Binding
}

// Builder constructs a capability of one kind. cfg is the factory's own
// copy and binding is already attached to the caller's handler.
type Builder func(ctx context.Context, cfg Config, binding *Binding) (Capability, error)

// Registry maps kinds to builders. Kinds are registered at startup; the
// registry is read-mostly afterwards.
type Registry struct {
	mu       sync.RWMutex
	builders map[Kind]Builder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[Kind]Builder)}
}

// Register adds the builder for kind.
func (r *Registry) Register(kind Kind, b Builder) error {
	if kind == "" || b == nil {
		return errors.ErrInvalidCapabilityConfig.WithMessage("kind and builder are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.builders[kind]; exists {
		return errors.ErrDuplicateKind.WithMessagef("kind %q already registered", kind)
	}
	r.builders[kind] = b
	return nil
}

// Lookup returns the builder for kind.
func (r *Registry) Lookup(kind Kind) (Builder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.builders[kind]
	if !ok {
		return nil, errors.ErrUnknownKind.WithMessagef("no builder registered for kind %q", kind)
	}
	return b, nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.builders))
	for k := range r.builders {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
