package agentd

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/kart-io/sentinel-agent/internal/agents/echo"
	"github.com/kart-io/sentinel-agent/pkg/capabilities"
	"github.com/kart-io/sentinel-agent/pkg/codec"
	"github.com/kart-io/sentinel-agent/pkg/errors"
	scheduleropts "github.com/kart-io/sentinel-agent/pkg/options/scheduler"
	sqlopts "github.com/kart-io/sentinel-agent/pkg/options/sql"
	tracingopts "github.com/kart-io/sentinel-agent/pkg/options/tracing"
	wakeopts "github.com/kart-io/sentinel-agent/pkg/options/wake"
	"github.com/kart-io/sentinel-agent/pkg/scheduling"
	"github.com/kart-io/sentinel-agent/pkg/scheduling/clock"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testOptions(t *testing.T) *Options {
	t.Helper()
	opts := NewOptions()
	opts.Pool.DispatchCapacity = 4
	opts.Pool.BackgroundCapacity = 2
	opts.ShutdownTimeout = 5 * time.Second
	opts.Wake.Seeds = []wakeopts.Seed{
		{Key: "echo-1", Kind: string(echo.Kind), Params: map[string]interface{}{"greeting": "hello"}},
		{Key: "echo-2", Kind: string(echo.Kind)},
	}
	require.NoError(t, opts.Complete())
	require.NoError(t, opts.Validate())
	return opts
}

func useRedis(t *testing.T, opts *Options, mr *miniredis.Miniredis) {
	t.Helper()
	opts.Scheduler.TaskStore = scheduleropts.StoreRedis
	opts.Wake.Store = wakeopts.StoreRedis
	opts.Redis.Host = mr.Host()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	opts.Redis.Port = port
}

func useSQLite(opts *Options, path string) {
	opts.Scheduler.TaskStore = scheduleropts.StoreSQL
	opts.Wake.Store = wakeopts.StoreSQL
	opts.SQL.Driver = sqlopts.DriverSQLite
	opts.SQL.Database = path
}

func start(t *testing.T, opts *Options) (*Runtime, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClockAt(epoch)
	rt := NewRuntime(opts, WithClockOptions(clock.WithClock(fc)))
	require.NoError(t, rt.Start(context.Background()))
	return rt, fc
}

func stop(t *testing.T, rt *Runtime) {
	t.Helper()
	require.NoError(t, rt.Shutdown(context.Background()))
}

func send(t *testing.T, rt *Runtime, key string, msg echo.Message) {
	t.Helper()
	payload, err := codec.Marshal(msg)
	require.NoError(t, err)
	b := capabilities.NewBinding(rt.Wake.Handler(key))
	require.NoError(t, b.Deliver(context.Background(), payload, "test", ""))
}

func received(rt *Runtime, key string) []echo.Received {
	w, ok := rt.Wake.Live(key)
	if !ok {
		return nil
	}
	return w.(*echo.Agent).Received()
}

func TestEagerBootWakesSeeds(t *testing.T) {
	rt, fc := start(t, testOptions(t))
	defer stop(t, rt)

	assert.Equal(t, []string{"echo-1", "echo-2"}, rt.Wake.LiveKeys())
	assert.Equal(t, []string{echo.SchedulerKey("echo-1"), echo.SchedulerKey("echo-2")}, rt.Factory.Keys())

	send(t, rt, "echo-1", echo.Message{Text: "stretch", RemindAfter: "10m"})
	fc.Advance(10 * time.Minute)
	require.Eventually(t, func() bool { return len(received(rt, "echo-1")) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, scheduling.Source, received(rt, "echo-1")[1].Source)
}

func TestLazyBootWakesOnDelivery(t *testing.T) {
	opts := testOptions(t)
	opts.Wake.Eager = false
	rt, _ := start(t, opts)
	defer stop(t, rt)

	assert.Empty(t, rt.Wake.LiveKeys())

	send(t, rt, "echo-2", echo.Message{Text: "hi"})
	assert.Equal(t, []string{"echo-2"}, rt.Wake.LiveKeys())
	assert.Len(t, received(rt, "echo-2"), 1)
}

func TestUnknownSeedKindFailsStart(t *testing.T) {
	opts := testOptions(t)
	opts.Wake.Seeds = append(opts.Wake.Seeds, wakeopts.Seed{Key: "x", Kind: "agent.unknown"})

	rt := NewRuntime(opts)
	err := rt.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrUnknownKind)
	assert.NoError(t, rt.Shutdown(context.Background()))
}

// testRestart schedules a reminder, restarts the runtime on the same
// backends and expects the reminder to reach the woken agent.
func testRestart(t *testing.T, configure func(*Options)) {
	opts := testOptions(t)
	configure(opts)

	first, _ := start(t, opts)
	send(t, first, "echo-1", echo.Message{Text: "after restart", RemindAfter: "1h"})
	stop(t, first)

	// A changed seed does not overwrite the stored registration.
	opts.Wake.Seeds[0].Params = map[string]interface{}{"greeting": "changed"}
	second, fc := start(t, opts)
	defer stop(t, second)

	reg, err := second.Wake.Registration(context.Background(), "echo-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", reg.Config.Params["greeting"])

	w, ok := second.Wake.Live("echo-1")
	require.True(t, ok)
	require.Len(t, w.(*echo.Agent).Scheduler().Tasks(), 1)

	fc.Advance(time.Hour)
	require.Eventually(t, func() bool {
		got := received(second, "echo-1")
		return len(got) == 1 && got[0].Text == "after restart"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRestartWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	testRestart(t, func(opts *Options) { useRedis(t, opts, mr) })
}

func TestRestartWithSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentd.db")
	testRestart(t, func(opts *Options) { useSQLite(opts, path) })
}

func TestOptions(t *testing.T) {
	opts := NewOptions()
	require.NoError(t, opts.Complete())
	require.NoError(t, opts.Validate())
	assert.False(t, opts.UsesRedis())
	assert.False(t, opts.UsesSQL())
	assert.False(t, opts.UsesEtcd())

	opts.Wake.Store = wakeopts.StoreEtcd
	opts.Scheduler.TaskStore = scheduleropts.StoreRedis
	assert.True(t, opts.UsesEtcd())
	assert.True(t, opts.UsesRedis())

	// Unused backends are not validated.
	opts.SQL.Driver = "oracle"
	assert.NoError(t, opts.Validate())
	opts.Scheduler.TaskStore = scheduleropts.StoreSQL
	assert.Error(t, opts.Validate())

	opts = NewOptions()
	opts.ShutdownTimeout = 0
	assert.Error(t, opts.Validate())

	opts = NewOptions()
	opts.Wake.Store = "zookeeper"
	assert.Error(t, opts.Validate())
}

func TestTracingLifecycle(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	opts := testOptions(t)
	opts.Tracing.Enabled = true
	opts.Tracing.ExporterType = tracingopts.ExporterNoop
	require.NoError(t, opts.Validate())

	rt, _ := start(t, opts)
	require.True(t, rt.Tracing.Enabled())
	assert.Equal(t, appName, opts.Tracing.ServiceName)
	stop(t, rt)
}
