package capabilities

import (
	"context"
	"fmt"
	"io"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-agent/pkg/errors"
)

// Factory builds capabilities and owns the cache of keyed instances.
type Factory struct {
	registry  *Registry
	instances *Instances[Capability]
}

// NewFactory creates a factory resolving builders from r.
func NewFactory(r *Registry) *Factory {
	return &Factory{
		registry:  r,
		instances: NewInstances[Capability](),
	}
}

// Registry returns the builder registry.
func (f *Factory) Registry() *Registry {
	return f.registry
}

// Build returns the capability described by cfg, bound to h.
//
// For a keyed cfg with a cached instance, the instance is rebound to h and
// returned without construction. A rebind failure is returned to the
// caller and the cached instance stays in place for a later attempt.
// Otherwise a new instance is constructed; keyed instances are cached.
// An unknown kind fails without touching the cache.
func (f *Factory) Build(ctx context.Context, cfg Config, h Handler) (Capability, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg, err := cfg.Clone()
	if err != nil {
		return nil, err
	}

	if !cfg.Keyed() {
		return f.construct(ctx, cfg, h)
	}

	if c, ok := f.instances.Get(cfg.Key); ok {
		return f.rebind(cfg, c, h)
	}

	c, fresh, err := f.instances.LoadOrBuild(cfg.Key, func() (Capability, error) {
		return f.construct(ctx, cfg, h)
	})
	if err != nil {
		return nil, err
	}
	if !fresh {
		return f.rebind(cfg, c, h)
	}

	logger.Debugw("Capability built", "key", cfg.Key, "kind", string(cfg.Kind))
	return c, nil
}

// Get returns the cached instance for key.
func (f *Factory) Get(key string) (Capability, bool) {
	return f.instances.Get(key)
}

// Keys returns the keys of all cached instances.
func (f *Factory) Keys() []string {
	return f.instances.Keys()
}

// Delete evicts the instance cached under key and closes it if it
// implements io.Closer. Deleting an unknown key is a no-op.
func (f *Factory) Delete(key string) error {
	c, ok := f.instances.Delete(key)
	if !ok {
		return nil
	}
	if closer, ok := c.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("close capability %q: %w", key, err)
		}
	}
	logger.Debugw("Capability deleted", "key", key)
	return nil
}

// Close evicts and closes every cached instance.
func (f *Factory) Close() error {
	var firstErr error
	for _, key := range f.instances.Keys() {
		if err := f.Delete(key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *Factory) construct(ctx context.Context, cfg Config, h Handler) (Capability, error) {
	build, err := f.registry.Lookup(cfg.Kind)
	if err != nil {
		return nil, err
	}

	c, err := build(ctx, cfg, NewBinding(h))
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.ErrInternal.WithMessagef("builder for kind %q returned no capability", cfg.Kind)
	}
	return c, nil
}

func (f *Factory) rebind(cfg Config, c Capability, h Handler) (Capability, error) {
	if err := c.Binding().Update(h); err != nil {
		logger.Warnw("Capability rebind failed", "key", cfg.Key, "kind", string(cfg.Kind), "error", err)
		return nil, errors.ErrRebindFailed.WithCause(err)
	}
	return c, nil
}

// BuildAs builds a capability and asserts its concrete type.
func BuildAs[T Capability](ctx context.Context, f *Factory, cfg Config, h Handler) (T, error) {
	var zero T
	c, err := f.Build(ctx, cfg, h)
	if err != nil {
		return zero, err
	}
	t, ok := c.(T)
	if !ok {
		return zero, errors.ErrInvalidCapabilityConfig.WithMessagef(
			"capability %q of kind %q is %T", cfg.Key, cfg.Kind, c)
	}
	return t, nil
}
