package capabilities

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-agent/pkg/errors"
)

const kindStub Kind = "stub"

type stub struct {
	binding *Binding
	cfg     Config
	closed  atomic.Bool
}

func (p *stub) Binding() *Binding { return p.binding }

func (p *stub) Close() error {
	p.closed.Store(true)
	p.binding.Close()
	return nil
}

// inbox is a receiver recording deliveries.
type inbox struct {
	mu   sync.Mutex
	got  []string
	name string
}

func (i *inbox) Receive(_ context.Context, payload []byte, _, _ string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.got = append(i.got, string(payload))
	return nil
}

func (i *inbox) messages() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.got...)
}

func newCountingFactory(t *testing.T, builds *atomic.Int32) *Factory {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register(kindStub, func(_ context.Context, cfg Config, b *Binding) (Capability, error) {
		builds.Add(1)
		time.Sleep(5 * time.Millisecond)
		return &stub{binding: b, cfg: cfg}, nil
	}))
	return NewFactory(r)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	b := func(context.Context, Config, *Binding) (Capability, error) { return nil, nil }

	require.NoError(t, r.Register("b", b))
	require.NoError(t, r.Register("a", b))

	err := r.Register("a", b)
	assert.True(t, stderrors.Is(err, errors.ErrDuplicateKind))

	err = r.Register("", b)
	assert.True(t, stderrors.Is(err, errors.ErrInvalidCapabilityConfig))

	_, err = r.Lookup("missing")
	assert.True(t, stderrors.Is(err, errors.ErrUnknownKind))

	assert.Equal(t, []Kind{"a", "b"}, r.Kinds())
}

func TestBuildRebindsCachedInstance(t *testing.T) {
	var builds atomic.Int32
	f := newCountingFactory(t, &builds)
	ctx := context.Background()

	x, y := &inbox{name: "x"}, &inbox{name: "y"}
	cfg := Config{Key: "A", Kind: kindStub}

	first, err := f.Build(ctx, cfg, Direct("agent-a", x))
	require.NoError(t, err)
	second, err := f.Build(ctx, cfg, Direct("agent-a", y))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), builds.Load())

	require.NoError(t, second.Binding().Deliver(ctx, []byte("work"), "test", "1"))
	assert.Empty(t, x.messages())
	assert.Equal(t, []string{"work"}, y.messages())
}

func TestBuildUnkeyedAlwaysConstructs(t *testing.T) {
	var builds atomic.Int32
	f := newCountingFactory(t, &builds)
	ctx := context.Background()

	a, err := f.Build(ctx, Config{Kind: kindStub}, nil)
	require.NoError(t, err)
	b, err := f.Build(ctx, Config{Kind: kindStub}, nil)
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, int32(2), builds.Load())
	assert.Empty(t, f.Keys())
}

func TestBuildUnknownKindLeavesCacheUntouched(t *testing.T) {
	var builds atomic.Int32
	f := newCountingFactory(t, &builds)

	_, err := f.Build(context.Background(), Config{Key: "A", Kind: "missing"}, nil)
	assert.True(t, stderrors.Is(err, errors.ErrUnknownKind), "got %v", err)
	_, ok := f.Get("A")
	assert.False(t, ok)

	_, err = f.Build(context.Background(), Config{Key: "A"}, nil)
	assert.True(t, stderrors.Is(err, errors.ErrInvalidCapabilityConfig), "got %v", err)
}

func TestBuildRebindFailureKeepsCache(t *testing.T) {
	var builds atomic.Int32
	f := newCountingFactory(t, &builds)
	ctx := context.Background()
	cfg := Config{Key: "A", Kind: kindStub}

	first, err := f.Build(ctx, cfg, Direct("a", &inbox{}))
	require.NoError(t, err)

	_, err = f.Build(ctx, cfg, nil)
	assert.True(t, stderrors.Is(err, errors.ErrRebindFailed), "got %v", err)

	cached, ok := f.Get("A")
	require.True(t, ok)
	assert.Same(t, first, cached)

	y := &inbox{}
	again, err := f.Build(ctx, cfg, Direct("a", y))
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, int32(1), builds.Load())
}

func TestConcurrentFirstBuildConverges(t *testing.T) {
	var builds atomic.Int32
	f := newCountingFactory(t, &builds)
	ctx := context.Background()
	cfg := Config{Key: "A", Kind: kindStub}

	const n = 32
	results := make([]Capability, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := f.Build(ctx, cfg, Direct(fmt.Sprintf("h%d", i), &inbox{}))
			assert.NoError(t, err)
			results[i] = c
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load())
	for _, c := range results {
		assert.Same(t, results[0], c)
	}
}

func TestBuildCopiesConfig(t *testing.T) {
	var builds atomic.Int32
	f := newCountingFactory(t, &builds)

	params := map[string]interface{}{"address": "a@example.org"}
	c, err := f.Build(context.Background(), Config{Key: "A", Kind: kindStub, Params: params}, nil)
	require.NoError(t, err)

	params["address"] = "mutated"
	assert.Equal(t, "a@example.org", c.(*stub).cfg.Params["address"])
}

func TestDeleteClosesInstance(t *testing.T) {
	var builds atomic.Int32
	f := newCountingFactory(t, &builds)
	ctx := context.Background()
	cfg := Config{Key: "A", Kind: kindStub}

	c, err := f.Build(ctx, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, f.Delete("A"))
	require.NoError(t, f.Delete("A"))
	assert.True(t, c.(*stub).closed.Load())

	// rebinding a closed instance fails
	err = c.Binding().Update(Direct("a", &inbox{}))
	assert.True(t, stderrors.Is(err, errors.ErrCapabilityClosed))

	fresh, err := f.Build(ctx, cfg, nil)
	require.NoError(t, err)
	assert.NotSame(t, c, fresh)
	assert.Equal(t, int32(2), builds.Load())
	require.NoError(t, f.Close())
	assert.Empty(t, f.Keys())
}

func TestBuildAs(t *testing.T) {
	var builds atomic.Int32
	f := newCountingFactory(t, &builds)

	p, err := BuildAs[*stub](context.Background(), f, Config{Kind: kindStub}, nil)
	require.NoError(t, err)
	assert.NotNil(t, p)

	type other struct{ Capability }
	_, err = BuildAs[*other](context.Background(), f, Config{Kind: kindStub}, nil)
	assert.True(t, stderrors.Is(err, errors.ErrInvalidCapabilityConfig))
}

func TestBindingWithoutHandler(t *testing.T) {
	b := NewBinding(nil)
	_, err := b.Receiver(context.Background())
	assert.True(t, stderrors.Is(err, errors.ErrNoReceiver))
	assert.Equal(t, "", b.Key())

	require.NoError(t, b.Update(Direct("k", &inbox{})))
	assert.Equal(t, "k", b.Key())

	_, err = Direct("nobody", nil).Receiver(context.Background())
	assert.True(t, stderrors.Is(err, errors.ErrNoReceiver))
}

func TestConfigDecode(t *testing.T) {
	cfg := Config{Kind: kindStub, Params: map[string]interface{}{
		"greeting": "hi",
		"repeat":   3,
	}}
	var out struct {
		Greeting string `json:"greeting"`
		Repeat   int    `json:"repeat"`
	}
	require.NoError(t, cfg.Decode(&out))
	assert.Equal(t, "hi", out.Greeting)
	assert.Equal(t, 3, out.Repeat)
	assert.Equal(t, "k", cfg.WithKey("k").Key)
	assert.Equal(t, "", cfg.Key)
}
