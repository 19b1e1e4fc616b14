package wake_test

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-agent/pkg/capabilities"
	"github.com/kart-io/sentinel-agent/pkg/capabilities/wake"
	"github.com/kart-io/sentinel-agent/pkg/capabilities/wake/wakestore"
	"github.com/kart-io/sentinel-agent/pkg/errors"
	"github.com/kart-io/sentinel-agent/pkg/infra/pool"
)

const kindAgent capabilities.Kind = "agent"

// agent records how it was woken and what it received.
type agent struct {
	key     string
	cfg     capabilities.Config
	onBoot  bool
	closed  atomic.Bool
	wakeErr error

	mu  sync.Mutex
	got []string
}

func (a *agent) Wake(_ context.Context, key string, cfg capabilities.Config, onBoot bool) error {
	if a.wakeErr != nil {
		return a.wakeErr
	}
	a.key, a.cfg, a.onBoot = key, cfg, onBoot
	return nil
}

func (a *agent) Receive(_ context.Context, payload []byte, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.got = append(a.got, string(payload))
	return nil
}

func (a *agent) Close() error {
	a.closed.Store(true)
	return nil
}

// mute can be woken but cannot receive.
type mute struct{}

func (mute) Wake(context.Context, string, capabilities.Config, bool) error { return nil }

func newService(t *testing.T, ctors *atomic.Int32, opts ...wake.Option) (*wake.Service, *wakestore.Memory) {
	t.Helper()
	store := wakestore.NewMemory()
	svc := wake.NewService(store, opts...)
	require.NoError(t, svc.RegisterKind(kindAgent, func() wake.Wakeable {
		ctors.Add(1)
		time.Sleep(5 * time.Millisecond)
		return &agent{}
	}))
	return svc, store
}

func TestRegisterAndWake(t *testing.T) {
	var ctors atomic.Int32
	svc, _ := newService(t, &ctors)
	ctx := context.Background()

	cfg := capabilities.Config{Params: map[string]interface{}{"greeting": "hi"}}
	require.NoError(t, svc.Register(ctx, "agent-1", cfg, kindAgent))

	reg, err := svc.Registration(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", reg.Config.Key)
	assert.Equal(t, kindAgent, reg.Config.Kind)

	_, ok := svc.Live("agent-1")
	assert.False(t, ok, "registration must not wake")

	w, err := svc.WakeOne(ctx, "agent-1", true)
	require.NoError(t, err)
	a := w.(*agent)
	assert.Equal(t, "agent-1", a.key)
	assert.True(t, a.onBoot)
	assert.Equal(t, "hi", a.cfg.Params["greeting"])

	again, err := svc.WakeOne(ctx, "agent-1", false)
	require.NoError(t, err)
	assert.Same(t, w, again)
	assert.Equal(t, int32(1), ctors.Load())
}

func TestRegisterValidation(t *testing.T) {
	var ctors atomic.Int32
	svc, _ := newService(t, &ctors)
	ctx := context.Background()

	err := svc.Register(ctx, "agent-1", capabilities.Config{}, "nope")
	assert.ErrorIs(t, err, errors.ErrUnknownKind)

	err = svc.Register(ctx, "", capabilities.Config{}, kindAgent)
	assert.ErrorIs(t, err, errors.ErrInvalidParam)

	assert.ErrorIs(t, svc.RegisterKind(kindAgent, func() wake.Wakeable { return &agent{} }), errors.ErrDuplicateKind)
	assert.ErrorIs(t, svc.RegisterKind("", nil), errors.ErrInvalidParam)
}

func TestWakeNotRegistered(t *testing.T) {
	var ctors atomic.Int32
	svc, _ := newService(t, &ctors)

	_, err := svc.WakeOne(context.Background(), "ghost", false)
	assert.ErrorIs(t, err, errors.ErrWakeNotRegistered)
	assert.Empty(t, svc.LiveKeys())

	_, err = svc.Registration(context.Background(), "ghost")
	assert.ErrorIs(t, err, errors.ErrWakeNotRegistered)
}

func TestWakeUnknownKind(t *testing.T) {
	var ctors atomic.Int32
	svc, store := newService(t, &ctors)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, wake.Registration{
		Key:    "stale",
		Kind:   "removed",
		Config: capabilities.Config{Key: "stale", Kind: "removed"},
	}))

	_, err := svc.WakeOne(ctx, "stale", false)
	assert.ErrorIs(t, err, errors.ErrUnknownKind)
	assert.Empty(t, svc.LiveKeys())
}

func TestConcurrentWakeYieldsOneInstance(t *testing.T) {
	var ctors atomic.Int32
	svc, _ := newService(t, &ctors)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "agent-1", capabilities.Config{}, kindAgent))

	const n = 32
	results := make([]wake.Wakeable, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := svc.WakeOne(ctx, "agent-1", false)
			if err != nil {
				t.Errorf("WakeOne 失败: %v", err)
				return
			}
			results[i] = w
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, int32(1), ctors.Load())
}

func TestWakeFailureCachesNothing(t *testing.T) {
	store := wakestore.NewMemory()
	svc := wake.NewService(store)
	ctx := context.Background()

	var fail atomic.Bool
	fail.Store(true)
	var built []*agent
	require.NoError(t, svc.RegisterKind(kindAgent, func() wake.Wakeable {
		a := &agent{}
		if fail.Load() {
			a.wakeErr = stderrors.New("dependency unavailable")
		}
		built = append(built, a)
		return a
	}))
	require.NoError(t, svc.Register(ctx, "agent-1", capabilities.Config{}, kindAgent))

	_, err := svc.WakeOne(ctx, "agent-1", false)
	assert.ErrorIs(t, err, errors.ErrWakeFailed)
	_, ok := svc.Live("agent-1")
	assert.False(t, ok)
	require.Len(t, built, 1)
	assert.True(t, built[0].closed.Load(), "failed entity should be closed")

	fail.Store(false)
	w, err := svc.WakeOne(ctx, "agent-1", false)
	require.NoError(t, err)
	assert.Same(t, built[1], w)
}

func TestSleepAndUnregister(t *testing.T) {
	var ctors atomic.Int32
	svc, _ := newService(t, &ctors)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "agent-1", capabilities.Config{}, kindAgent))

	first, err := svc.WakeOne(ctx, "agent-1", false)
	require.NoError(t, err)

	svc.Sleep("agent-1")
	assert.True(t, first.(*agent).closed.Load())
	_, ok := svc.Live("agent-1")
	assert.False(t, ok)

	second, err := svc.WakeOne(ctx, "agent-1", false)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), ctors.Load())

	require.NoError(t, svc.Unregister(ctx, "agent-1"))
	assert.True(t, second.(*agent).closed.Load())
	_, err = svc.WakeOne(ctx, "agent-1", false)
	assert.ErrorIs(t, err, errors.ErrWakeNotRegistered)

	assert.NoError(t, svc.Unregister(ctx, "agent-1"))
}

func TestWakeAll(t *testing.T) {
	p, err := pool.NewPool("wake-test", pool.BackgroundPool, pool.BackgroundPoolConfig())
	require.NoError(t, err)
	defer p.Release()

	var ctors atomic.Int32
	svc, store := newService(t, &ctors, wake.WithPool(p))
	ctx := context.Background()

	for _, key := range []string{"agent-1", "agent-2", "agent-3"} {
		require.NoError(t, svc.Register(ctx, key, capabilities.Config{}, kindAgent))
	}
	require.NoError(t, store.Put(ctx, wake.Registration{
		Key:    "stale",
		Kind:   "removed",
		Config: capabilities.Config{Key: "stale", Kind: "removed"},
	}))

	err = svc.WakeAll(ctx, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownKind)
	assert.Equal(t, []string{"agent-1", "agent-2", "agent-3"}, svc.LiveKeys())

	for _, key := range svc.LiveKeys() {
		w, _ := svc.Live(key)
		assert.True(t, w.(*agent).onBoot)
	}

	require.NoError(t, svc.Close())
	assert.Empty(t, svc.LiveKeys())
}

func TestWakeAllSequential(t *testing.T) {
	var ctors atomic.Int32
	svc, _ := newService(t, &ctors)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "agent-1", capabilities.Config{}, kindAgent))

	require.NoError(t, svc.WakeAll(ctx, false))
	assert.Equal(t, []string{"agent-1"}, svc.LiveKeys())
}

func TestHandlerWakesDormantEntity(t *testing.T) {
	var ctors atomic.Int32
	svc, _ := newService(t, &ctors)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "agent-1", capabilities.Config{}, kindAgent))

	binding := capabilities.NewBinding(svc.Handler("agent-1"))
	assert.Equal(t, "agent-1", binding.Key())

	require.NoError(t, binding.Deliver(ctx, []byte("first"), "test", "t1"))
	require.NoError(t, binding.Deliver(ctx, []byte("second"), "test", "t2"))
	assert.Equal(t, int32(1), ctors.Load())

	w, ok := svc.Live("agent-1")
	require.True(t, ok)
	assert.Equal(t, []string{"first", "second"}, w.(*agent).got)

	svc.Sleep("agent-1")
	require.NoError(t, binding.Deliver(ctx, []byte("third"), "test", "t3"))
	assert.Equal(t, int32(2), ctors.Load())
}

func TestHandlerNotReceiver(t *testing.T) {
	svc := wake.NewService(wakestore.NewMemory())
	ctx := context.Background()
	require.NoError(t, svc.RegisterKind("mute", func() wake.Wakeable { return mute{} }))
	require.NoError(t, svc.Register(ctx, "quiet", capabilities.Config{}, "mute"))

	_, err := svc.Handler("quiet").Receiver(ctx)
	assert.ErrorIs(t, err, errors.ErrNotReceiver)

	_, err = svc.Handler("ghost").Receiver(ctx)
	assert.ErrorIs(t, err, errors.ErrWakeNotRegistered)
}
