// Package wake reconstructs dormant entities on demand.
//
// A Service keeps a durable Store of registrations (key, kind, config) and
// at most one live instance per key. WakeOne builds the instance from its
// registration and calls Wake on it; a later WakeOne for the same key
// returns the live instance. Hosts may wake every registration at boot with
// WakeAll or leave it to the first delivery through a Handler.
package wake

import (
	"context"
	stderrors "errors"
	"io"
	"sync"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-agent/pkg/capabilities"
	"github.com/kart-io/sentinel-agent/pkg/errors"
	"github.com/kart-io/sentinel-agent/pkg/infra/pool"
)

// Wakeable is an entity that can be reconstructed from its registration.
//
// Wake must reacquire every live resource the entity needs before it
// returns; the entity receives work only after Wake succeeded. onBoot is
// true when the wake is part of process startup.
type Wakeable interface {
	Wake(ctx context.Context, key string, cfg capabilities.Config, onBoot bool) error
}

// Constructor returns a new, not yet woken entity of one kind.
type Constructor func() Wakeable

// Option configures a Service.
type Option func(*Service)

// WithPool runs WakeAll on p instead of sequentially.
func WithPool(p *pool.Pool) Option {
	return func(s *Service) {
		s.pool = p
	}
}

// Service owns the registrations and the live instances.
type Service struct {
	store Store
	pool  *pool.Pool

	mu           sync.RWMutex
	constructors map[capabilities.Kind]Constructor

	live *capabilities.Instances[Wakeable]
}

// NewService creates a service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:        store,
		constructors: make(map[capabilities.Kind]Constructor),
		live:         capabilities.NewInstances[Wakeable](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterKind adds the constructor for kind.
func (s *Service) RegisterKind(kind capabilities.Kind, ctor Constructor) error {
	if kind == "" || ctor == nil {
		return errors.ErrInvalidParam.WithMessage("kind and constructor are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.constructors[kind]; exists {
		return errors.ErrDuplicateKind.WithMessagef("wake kind %q already registered", kind)
	}
	s.constructors[kind] = ctor
	return nil
}

func (s *Service) constructor(kind capabilities.Kind) (Constructor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctor, ok := s.constructors[kind]
	if !ok {
		return nil, errors.ErrUnknownKind.WithMessagef("no constructor registered for wake kind %q", kind)
	}
	return ctor, nil
}

// Register persists the registration of key. cfg is copied; its Key and
// Kind are set to key and kind. Registering an existing key replaces the
// stored configuration but leaves a live instance untouched.
func (s *Service) Register(ctx context.Context, key string, cfg capabilities.Config, kind capabilities.Kind) error {
	if _, err := s.constructor(kind); err != nil {
		return err
	}

	cfg, err := cfg.Clone()
	if err != nil {
		return err
	}
	reg := Registration{Key: key, Kind: kind, Config: cfg.WithKey(key)}
	reg.Config.Kind = kind
	if err := reg.Validate(); err != nil {
		return err
	}

	if err := s.store.Put(ctx, reg); err != nil {
		return errors.ErrStore.WithCause(err)
	}
	logger.Infow("Wake registration stored", "key", key, "kind", string(kind))
	return nil
}

// Unregister removes the registration of key and drops its live instance.
func (s *Service) Unregister(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, key); err != nil && !stderrors.Is(err, errors.ErrRecordNotFound) {
		return errors.ErrStore.WithCause(err)
	}
	s.Sleep(key)
	return nil
}

// WakeOne returns the live instance of key, waking it from its
// registration if needed. Concurrent calls for one key wake it once.
// A failed wake leaves nothing live.
func (s *Service) WakeOne(ctx context.Context, key string, onBoot bool) (Wakeable, error) {
	w, fresh, err := s.live.LoadOrBuild(key, func() (Wakeable, error) {
		return s.wake(ctx, key, onBoot)
	})
	if err != nil {
		return nil, err
	}
	if fresh {
		logger.Infow("Entity woken", "key", key, "on_boot", onBoot)
	}
	return w, nil
}

func (s *Service) wake(ctx context.Context, key string, onBoot bool) (Wakeable, error) {
	reg, err := s.store.Get(ctx, key)
	if err != nil {
		if stderrors.Is(err, errors.ErrRecordNotFound) {
			return nil, errors.ErrWakeNotRegistered.WithMessagef("wake key %q not registered", key)
		}
		return nil, errors.ErrStore.WithCause(err)
	}

	ctor, err := s.constructor(reg.Kind)
	if err != nil {
		return nil, err
	}

	w := ctor()
	if w == nil {
		return nil, errors.ErrWakeFailed.WithMessagef("constructor for kind %q returned nil", reg.Kind)
	}
	if err := w.Wake(ctx, key, reg.Config, onBoot); err != nil {
		logger.Errorw("Wake failed", "key", key, "kind", string(reg.Kind), "error", err)
		closeQuietly(key, w)
		return nil, errors.ErrWakeFailed.WithCause(err)
	}
	return w, nil
}

// WakeAll wakes every registration and returns the joined failures.
// A failing key does not stop the others.
func (s *Service) WakeAll(ctx context.Context, onBoot bool) error {
	regs, err := s.store.List(ctx)
	if err != nil {
		return errors.ErrStore.WithCause(err)
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	wakeOne := func(key string) {
		if _, err := s.WakeOne(ctx, key, onBoot); err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}

	for _, reg := range regs {
		key := reg.Key
		if s.pool == nil {
			wakeOne(key)
			continue
		}
		wg.Add(1)
		if err := s.pool.Submit(func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}
			wakeOne(key)
		}); err != nil {
			wg.Done()
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}
	wg.Wait()

	logger.Infow("Wake all finished", "registrations", len(regs), "failed", len(errs), "on_boot", onBoot)
	return stderrors.Join(errs...)
}

// Sleep drops the live instance of key and keeps its registration. The
// instance is closed if it implements io.Closer.
func (s *Service) Sleep(key string) {
	if w, ok := s.live.Delete(key); ok {
		closeQuietly(key, w)
		logger.Debugw("Entity put to sleep", "key", key)
	}
}

// Live returns the live instance of key without waking it.
func (s *Service) Live(key string) (Wakeable, bool) {
	return s.live.Get(key)
}

// LiveKeys returns the keys of all live instances.
func (s *Service) LiveKeys() []string {
	return s.live.Keys()
}

// Registration returns the stored registration of key.
func (s *Service) Registration(ctx context.Context, key string) (Registration, error) {
	reg, err := s.store.Get(ctx, key)
	if stderrors.Is(err, errors.ErrRecordNotFound) {
		return Registration{}, errors.ErrWakeNotRegistered.WithMessagef("wake key %q not registered", key)
	}
	return reg, err
}

// Close puts every live instance to sleep.
func (s *Service) Close() error {
	for _, key := range s.live.Keys() {
		s.Sleep(key)
	}
	return nil
}

func closeQuietly(key string, w Wakeable) {
	if closer, ok := w.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.Warnw("Failed to close entity", "key", key, "error", err)
		}
	}
}
