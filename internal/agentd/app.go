// Package agentd is the sentinel agent daemon: it hosts the shared clock,
// the capability factory and the wake service, and wakes the registered
// agents.
package agentd

import (
	"context"
	"fmt"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-agent/pkg/infra/app"
)

const (
	appName        = "sentinel-agentd"
	appDescription = `Sentinel agent daemon

Hosts dormant agents and the deferred work scheduled for them.

The daemon provides:
  - One shared clock dispatching due tasks to a bounded worker pool
  - Per-agent schedulers, optionally persisted in Redis or SQL
  - Durable wake registrations in memory, Redis, SQL or etcd
  - Eager wake of every registration at boot, or lazy wake on delivery

Examples:
  # Start with in-memory stores
  sentinel-agentd

  # Persist tasks in Redis and registrations in etcd
  sentinel-agentd --scheduler.task-store=redis --wake.store=etcd

  # Use config file
  sentinel-agentd -c /etc/sentinel-agentd/sentinel-agentd.yaml

Configuration:
  Configuration can be provided via:
  - Command-line flags (highest priority)
  - Environment variables (prefix: SENTINEL_AGENTD_)
  - Configuration file (YAML)
  - Default values (lowest priority)`
)

// NewApp creates the daemon application.
func NewApp() *app.App {
	opts := NewOptions()

	return app.NewApp(
		app.WithName(appName),
		app.WithShortDescription("Sentinel agent daemon"),
		app.WithDescription(appDescription),
		app.WithOptions(opts),
		app.WithRunFunc(func(ctx context.Context) error {
			return Run(ctx, opts)
		}),
	)
}

// Run runs the daemon until ctx is cancelled.
func Run(ctx context.Context, opts *Options) error {
	if _, err := opts.Log.Init(appName, app.GetVersion()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Flush() }()

	logger.Infow("Starting agent daemon", "app", appName, "version", app.GetVersion(), "stores", opts.String())

	rt := NewRuntime(opts)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		if err := rt.Shutdown(shutdownCtx); err != nil {
			logger.Errorw("Shutdown finished with errors", "error", err)
		}
	}()

	if err := rt.Start(ctx); err != nil {
		return err
	}
	logger.Infow("Agent daemon is ready", "live_agents", len(rt.Wake.LiveKeys()))

	<-ctx.Done()
	logger.Info("Shutting down agent daemon")
	return nil
}
