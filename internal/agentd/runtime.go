package agentd

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-agent/internal/agents/echo"
	"github.com/kart-io/sentinel-agent/pkg/capabilities"
	"github.com/kart-io/sentinel-agent/pkg/capabilities/wake"
	"github.com/kart-io/sentinel-agent/pkg/capabilities/wake/wakestore"
	etcdclient "github.com/kart-io/sentinel-agent/pkg/component/etcd"
	redisclient "github.com/kart-io/sentinel-agent/pkg/component/redis"
	sqlclient "github.com/kart-io/sentinel-agent/pkg/component/sql"
	"github.com/kart-io/sentinel-agent/pkg/errors"
	"github.com/kart-io/sentinel-agent/pkg/infra/app"
	"github.com/kart-io/sentinel-agent/pkg/infra/pool"
	"github.com/kart-io/sentinel-agent/pkg/infra/tracing"
	scheduleropts "github.com/kart-io/sentinel-agent/pkg/options/scheduler"
	wakeopts "github.com/kart-io/sentinel-agent/pkg/options/wake"
	"github.com/kart-io/sentinel-agent/pkg/scheduling"
	"github.com/kart-io/sentinel-agent/pkg/scheduling/clock"
	"github.com/kart-io/sentinel-agent/pkg/scheduling/taskstore"
	"github.com/kart-io/sentinel-agent/pkg/storage"
)

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithClockOptions passes opts to the shared clock.
func WithClockOptions(opts ...clock.Option) RuntimeOption {
	return func(r *Runtime) {
		r.clockOpts = append(r.clockOpts, opts...)
	}
}

// Runtime owns every long-lived component of the daemon. Components are
// started in dependency order and shut down in reverse.
type Runtime struct {
	opts      *Options
	clockOpts []clock.Option

	Tracing  *tracing.Provider
	Pools    *pool.Manager
	Storage  *storage.Manager
	Clock    *clock.RunnableClock
	Registry *capabilities.Registry
	Factory  *capabilities.Factory
	Wake     *wake.Service

	redis *redisclient.Client
	sql   *sqlclient.Client
	etcd  *etcdclient.Client

	tasks scheduling.TaskStore
	regs  wake.Store
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

// NewRuntime creates a runtime for opts. Nothing is started yet.
func NewRuntime(opts *Options, ros ...RuntimeOption) *Runtime {
	r := &Runtime{opts: opts}
	for _, ro := range ros {
		ro(r)
	}
	return r
}

// Start brings every component up. On failure the components started so
// far stay in place for Shutdown.
func (r *Runtime) Start(ctx context.Context) error {
	steps := []step{
		{"tracing", r.initTracing},
		{"pools", r.initPools},
		{"storage", r.initStorage},
		{"stores", r.initStores},
		{"clock", r.initClock},
		{"capabilities", r.initCapabilities},
		{"wake", r.initWake},
		{"seeds", r.seed},
		{"boot wake", r.bootWake},
	}
	for _, s := range steps {
		logger.Infof("Initializing %s...", s.name)
		if err := s.run(ctx); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", s.name, err)
		}
	}
	return nil
}

func (r *Runtime) initTracing(ctx context.Context) error {
	if r.opts.Tracing.ServiceName == "" {
		r.opts.Tracing.ServiceName = appName
	}
	var err error
	r.Tracing, err = tracing.NewProvider(ctx, r.opts.Tracing, app.GetVersion())
	if err == nil && r.Tracing.Enabled() {
		logger.Infow("Tracing enabled", "exporter", r.opts.Tracing.ExporterType, "endpoint", r.opts.Tracing.Endpoint)
	}
	return err
}

func (r *Runtime) initPools(context.Context) error {
	r.Pools = pool.NewManager()
	for _, typ := range []pool.Type{pool.DispatchPool, pool.BackgroundPool} {
		if _, err := r.Pools.Register(typ, r.opts.Pool.Config(typ)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) initStorage(ctx context.Context) error {
	background, err := r.Pools.Get(pool.BackgroundPool)
	if err != nil {
		return err
	}
	r.Storage = storage.NewManager(background)

	if r.opts.UsesRedis() {
		if r.redis, err = redisclient.NewWithContext(ctx, r.opts.Redis); err != nil {
			return err
		}
		if err := r.Storage.Register("redis", r.redis); err != nil {
			return err
		}
	}
	if r.opts.UsesSQL() {
		if r.sql, err = sqlclient.NewWithContext(ctx, r.opts.SQL); err != nil {
			return err
		}
		if err := r.Storage.Register("sql", r.sql); err != nil {
			return err
		}
	}
	if r.opts.UsesEtcd() {
		if r.etcd, err = etcdclient.NewWithContext(ctx, r.opts.Etcd); err != nil {
			return err
		}
		if err := r.Storage.Register("etcd", r.etcd); err != nil {
			return err
		}
	}

	for name, status := range r.Storage.HealthCheckAll(ctx) {
		logger.Infow("Storage connected", "backend", name, "latency", status.Latency)
	}
	return nil
}

func (r *Runtime) initStores(ctx context.Context) error {
	var err error
	switch r.opts.Scheduler.TaskStore {
	case scheduleropts.StoreRedis:
		r.tasks = taskstore.NewRedis(r.redis.Client(), r.redis.KeyPrefix())
	case scheduleropts.StoreSQL:
		r.tasks, err = taskstore.NewSQL(ctx, r.sql.DB())
	default:
		r.tasks = taskstore.NewMemory()
	}
	if err != nil {
		return err
	}

	switch r.opts.Wake.Store {
	case wakeopts.StoreRedis:
		r.regs = wakestore.NewRedis(r.redis.Client(), r.redis.KeyPrefix())
	case wakeopts.StoreSQL:
		r.regs, err = wakestore.NewSQL(ctx, r.sql.DB())
	case wakeopts.StoreEtcd:
		r.regs = wakestore.NewEtcd(r.etcd.Raw(), r.etcd.Prefix(), r.opts.Etcd.RequestTimeout)
	default:
		r.regs = wakestore.NewMemory()
	}
	return err
}

func (r *Runtime) initClock(context.Context) error {
	dispatch, err := r.Pools.Get(pool.DispatchPool)
	if err != nil {
		return err
	}
	r.Clock, err = clock.New(dispatch, r.clockOpts...)
	return err
}

func (r *Runtime) initCapabilities(context.Context) error {
	r.Registry = capabilities.NewRegistry()
	if err := scheduling.Register(r.Registry, scheduling.Deps{Clock: r.Clock, Store: r.tasks}); err != nil {
		return err
	}
	r.Factory = capabilities.NewFactory(r.Registry)
	logger.Infow("Capability kinds registered", "kinds", r.Registry.Kinds())
	return nil
}

func (r *Runtime) initWake(context.Context) error {
	background, err := r.Pools.Get(pool.BackgroundPool)
	if err != nil {
		return err
	}
	r.Wake = wake.NewService(r.regs, wake.WithPool(background))
	return r.Wake.RegisterKind(echo.Kind, echo.Constructor(r.Factory, r.Wake))
}

// seed registers every configured seed whose key is not registered yet.
// Existing registrations are left as stored.
func (r *Runtime) seed(ctx context.Context) error {
	for _, s := range r.opts.Wake.Seeds {
		_, err := r.Wake.Registration(ctx, s.Key)
		switch {
		case err == nil:
			continue
		case !stderrors.Is(err, errors.ErrWakeNotRegistered):
			return err
		}

		cfg := capabilities.Config{Params: s.Params}
		if err := r.Wake.Register(ctx, s.Key, cfg, capabilities.Kind(s.Kind)); err != nil {
			return fmt.Errorf("seed %q: %w", s.Key, err)
		}
	}
	return nil
}

// bootWake wakes every registration when eager wake is on. Failing
// agents are logged and left dormant; they are retried on delivery.
func (r *Runtime) bootWake(ctx context.Context) error {
	if !r.opts.Wake.Eager {
		logger.Info("Eager wake disabled, agents wake on first delivery")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.Wake.BootTimeout)
	defer cancel()
	if err := r.Wake.WakeAll(ctx, true); err != nil {
		logger.Warnw("Some agents failed to wake at boot", "error", err)
	}
	return nil
}

// Shutdown stops the components in reverse start order. Stored tasks and
// registrations are kept.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error
	if r.Wake != nil {
		errs = append(errs, r.Wake.Close())
	}
	if r.Factory != nil {
		errs = append(errs, r.Factory.Close())
	}
	if r.Clock != nil {
		errs = append(errs, r.Clock.Close())
	}
	if r.Storage != nil {
		errs = append(errs, r.Storage.CloseAll())
	}
	if r.Pools != nil {
		for name, stats := range r.Pools.Stats() {
			logger.Infow("Pool stats", "pool", name,
				"submitted", stats.SubmittedTasks, "completed", stats.CompletedTasks,
				"rejected", stats.RejectedTasks, "panics", stats.PanicRecovered,
				"running", stats.Running, "waiting", stats.Waiting)
		}

		timeout := r.opts.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if timeout > 0 {
			errs = append(errs, r.Pools.ReleaseAllTimeout(timeout))
		} else {
			errs = append(errs, r.Pools.Close())
		}
	}

	if r.Tracing != nil {
		errs = append(errs, r.Tracing.Shutdown(ctx))
	}

	err := stderrors.Join(errs...)
	if err != nil {
		logger.Errorw("Error during shutdown", "error", err)
	}
	return err
}
