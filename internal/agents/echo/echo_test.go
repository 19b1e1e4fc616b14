package echo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-agent/pkg/capabilities"
	"github.com/kart-io/sentinel-agent/pkg/capabilities/wake"
	"github.com/kart-io/sentinel-agent/pkg/capabilities/wake/wakestore"
	"github.com/kart-io/sentinel-agent/pkg/codec"
	"github.com/kart-io/sentinel-agent/pkg/errors"
	"github.com/kart-io/sentinel-agent/pkg/infra/pool"
	"github.com/kart-io/sentinel-agent/pkg/scheduling"
	"github.com/kart-io/sentinel-agent/pkg/scheduling/clock"
	"github.com/kart-io/sentinel-agent/pkg/scheduling/taskstore"
)

type runtime struct {
	fc      *clockwork.FakeClock
	clock   *clock.RunnableClock
	factory *capabilities.Factory
	svc     *wake.Service
	tasks   *taskstore.Memory
}

func newRuntime(t *testing.T) *runtime {
	t.Helper()
	return newRuntimeWithWorkers(t, pool.DispatchPoolConfig().Capacity)
}

func newRuntimeWithWorkers(t *testing.T, workers int) *runtime {
	t.Helper()
	cfg := pool.DispatchPoolConfig()
	cfg.Capacity = workers
	p, err := pool.NewPool(t.Name(), pool.DispatchPool, cfg)
	require.NoError(t, err)
	t.Cleanup(p.Release)

	fc := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	c, err := clock.New(p, clock.WithClock(fc))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	tasks := taskstore.NewMemory()
	r := capabilities.NewRegistry()
	require.NoError(t, scheduling.Register(r, scheduling.Deps{Clock: c, Store: tasks}))
	f := capabilities.NewFactory(r)
	t.Cleanup(func() { _ = f.Close() })

	svc := wake.NewService(wakestore.NewMemory())
	require.NoError(t, svc.RegisterKind(Kind, Constructor(f, svc)))
	t.Cleanup(func() { _ = svc.Close() })

	return &runtime{fc: fc, clock: c, factory: f, svc: svc, tasks: tasks}
}

func (rt *runtime) send(t *testing.T, key string, msg Message) error {
	t.Helper()
	payload, err := codec.Marshal(msg)
	require.NoError(t, err)
	return capabilities.NewBinding(rt.svc.Handler(key)).Deliver(context.Background(), payload, "test", "")
}

func (rt *runtime) live(t *testing.T, key string) *Agent {
	t.Helper()
	w, ok := rt.svc.Live(key)
	require.True(t, ok, "%s should be awake", key)
	return w.(*Agent)
}

func TestWakeBuildsScheduler(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	cfg := capabilities.Config{Params: map[string]interface{}{"greeting": "hi"}}
	require.NoError(t, rt.svc.Register(ctx, "echo-1", cfg, Kind))

	w, err := rt.svc.WakeOne(ctx, "echo-1", true)
	require.NoError(t, err)
	a := w.(*Agent)
	assert.Equal(t, "echo-1", a.Key())
	assert.Equal(t, "hi", a.params.Greeting)
	require.NotNil(t, a.Scheduler())
	assert.True(t, a.Scheduler().Persistent())

	cached, ok := rt.factory.Get(SchedulerKey("echo-1"))
	require.True(t, ok)
	assert.Same(t, a.Scheduler(), cached)
}

func TestSimpleSchedulerParam(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	cfg := capabilities.Config{Params: map[string]interface{}{"scheduler": string(scheduling.KindSimple)}}
	require.NoError(t, rt.svc.Register(ctx, "echo-1", cfg, Kind))

	w, err := rt.svc.WakeOne(ctx, "echo-1", false)
	require.NoError(t, err)
	assert.False(t, w.(*Agent).Scheduler().Persistent())
}

func TestReminderWakesSleepingAgent(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()
	require.NoError(t, rt.svc.Register(ctx, "echo-1", capabilities.Config{}, Kind))

	// The first delivery wakes the agent lazily.
	require.NoError(t, rt.send(t, "echo-1", Message{Text: "water the plants", RemindAfter: "1m"}))
	first := rt.live(t, "echo-1")
	require.Len(t, first.Received(), 1)
	assert.Equal(t, "test", first.Received()[0].Source)

	stored, err := rt.tasks.List(ctx, SchedulerKey("echo-1"))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	taskID := stored[0].ID

	rt.svc.Sleep("echo-1")
	_, ok := rt.svc.Live("echo-1")
	require.False(t, ok)

	rt.fc.Advance(time.Minute)
	require.Eventually(t, func() bool {
		w, ok := rt.svc.Live("echo-1")
		return ok && len(w.(*Agent).Received()) == 1
	}, time.Second, 5*time.Millisecond)

	second := rt.live(t, "echo-1")
	assert.NotSame(t, first, second)
	assert.Equal(t, Received{Text: "water the plants", Source: scheduling.Source, Tag: taskID}, second.Received()[0])
	assert.Same(t, first.Scheduler(), second.Scheduler(), "the scheduler is rebound, not rebuilt")

	require.Eventually(t, func() bool {
		stored, err := rt.tasks.List(ctx, SchedulerKey("echo-1"))
		return err == nil && len(stored) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRecurringReminder(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()
	require.NoError(t, rt.svc.Register(ctx, "echo-1", capabilities.Config{}, Kind))

	require.NoError(t, rt.send(t, "echo-1", Message{Text: "stand up", RemindCron: "*/30 * * * *"}))
	a := rt.live(t, "echo-1")
	require.Len(t, a.Scheduler().Tasks(), 1)

	rt.fc.Advance(30 * time.Minute)
	require.Eventually(t, func() bool { return len(a.Received()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "stand up", a.Received()[1].Text)
	assert.Len(t, a.Scheduler().Tasks(), 1)
}

func TestReceiveRejectsBadMessages(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()
	require.NoError(t, rt.svc.Register(ctx, "echo-1", capabilities.Config{}, Kind))

	err := capabilities.NewBinding(rt.svc.Handler("echo-1")).Deliver(ctx, []byte("not json"), "test", "")
	assert.ErrorIs(t, err, errors.ErrInvalidParam)

	err = rt.send(t, "echo-1", Message{Text: "x", RemindAfter: "soon"})
	assert.ErrorIs(t, err, errors.ErrInvalidParam)

	err = rt.send(t, "echo-1", Message{Text: "x", RemindCron: "whenever"})
	assert.ErrorIs(t, err, errors.ErrInvalidCron)

	err = rt.send(t, "ghost", Message{Text: "x"})
	assert.ErrorIs(t, err, errors.ErrWakeNotRegistered)
}

func TestWakeWithMoreMissedRemindersThanWorkers(t *testing.T) {
	rt := newRuntimeWithWorkers(t, 2)
	ctx := context.Background()
	require.NoError(t, rt.svc.Register(ctx, "echo-1", capabilities.Config{}, Kind))

	const missed = 5
	for i := 0; i < missed; i++ {
		payload, err := codec.Marshal(Message{Text: fmt.Sprintf("missed-%d", i)})
		require.NoError(t, err)
		require.NoError(t, rt.tasks.Save(ctx, scheduling.Task{
			ID:       fmt.Sprintf("task-%d", i),
			OwnerKey: SchedulerKey("echo-1"),
			Due:      rt.fc.Now().Add(-time.Duration(i+1) * time.Minute),
			Payload:  payload,
		}))
	}

	done := make(chan error, 1)
	go func() {
		_, err := rt.svc.WakeOne(ctx, "echo-1", true)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("WakeOne 未在超时前返回")
	}

	a := rt.live(t, "echo-1")
	assert.Eventually(t, func() bool { return len(a.Received()) == missed }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		tasks, err := rt.tasks.List(ctx, SchedulerKey("echo-1"))
		return err == nil && len(tasks) == 0
	}, time.Second, 5*time.Millisecond)
}
