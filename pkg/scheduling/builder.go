package scheduling

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/kart-io/sentinel-agent/pkg/capabilities"
	"github.com/kart-io/sentinel-agent/pkg/errors"
)

// Capability kinds built by this package.
const (
	// KindSimple keeps tasks in memory only.
	KindSimple capabilities.Kind = "scheduler.simple"
	// KindPersistent mirrors tasks into the TaskStore.
	KindPersistent capabilities.Kind = "scheduler.persistent"
)

// Deps are the shared collaborators of every scheduler built from a
// registry.
type Deps struct {
	Clock Clock
	// Store backs KindPersistent. It may be nil when only KindSimple is
	// used.
	Store TaskStore
}

// Register adds the scheduler builders to r.
func Register(r *capabilities.Registry, deps Deps) error {
	if deps.Clock == nil {
		return errors.ErrInvalidParam.WithMessage("scheduler clock is required")
	}
	if err := r.Register(KindSimple, simpleBuilder(deps)); err != nil {
		return err
	}
	return r.Register(KindPersistent, persistentBuilder(deps))
}

func simpleBuilder(deps Deps) capabilities.Builder {
	return func(ctx context.Context, cfg capabilities.Config, b *capabilities.Binding) (capabilities.Capability, error) {
		return New(ctx, ownerOf(cfg, b), deps.Clock, b)
	}
}

func persistentBuilder(deps Deps) capabilities.Builder {
	return func(ctx context.Context, cfg capabilities.Config, b *capabilities.Binding) (capabilities.Capability, error) {
		if deps.Store == nil {
			return nil, errors.ErrInvalidCapabilityConfig.WithMessage("persistent scheduler needs a task store")
		}
		// Stored tasks are found again by key, so a transient persistent
		// scheduler could never reload them.
		if !cfg.Keyed() {
			return nil, errors.ErrInvalidCapabilityConfig.WithMessage("persistent scheduler needs a key")
		}
		return New(ctx, cfg.Key, deps.Clock, b, WithStore(deps.Store))
	}
}

// ownerOf names a simple scheduler: its key, else its handler's key, else
// a fresh id.
func ownerOf(cfg capabilities.Config, b *capabilities.Binding) string {
	if cfg.Keyed() {
		return cfg.Key
	}
	if key := b.Key(); key != "" {
		return key
	}
	return "transient-" + ulid.Make().String()
}
