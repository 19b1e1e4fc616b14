package capabilities

import (
	"context"
	"sync"

	"github.com/kart-io/sentinel-agent/pkg/errors"
)

// Receiver accepts work delivered by a capability. source names the
// delivering capability and tag correlates the delivery (a task id, for
// instance).
type Receiver interface {
	Receive(ctx context.Context, payload []byte, source, tag string) error
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(ctx context.Context, payload []byte, source, tag string) error

// Receive calls f.
func (f ReceiverFunc) Receive(ctx context.Context, payload []byte, source, tag string) error {
	return f(ctx, payload, source, tag)
}

// Handler is the live reference through which a capability reaches its
// current owner.
type Handler interface {
	// Key identifies the owner.
	Key() string
	// Receiver resolves the owner's receiver. It may block, e.g. while a
	// dormant owner is woken.
	Receiver(ctx context.Context) (Receiver, error)
}

type directHandler struct {
	key      string
	receiver Receiver
}

// Direct returns a Handler that always resolves to r.
func Direct(key string, r Receiver) Handler {
	return &directHandler{key: key, receiver: r}
}

func (h *directHandler) Key() string { return h.key }

func (h *directHandler) Receiver(context.Context) (Receiver, error) {
	if h.receiver == nil {
		return nil, errors.ErrNoReceiver.WithMessagef("no receiver bound for %q", h.key)
	}
	return h.receiver, nil
}

// Binding holds a capability's current Handler. Update swaps it; the new
// handler is observed by subsequent deliveries while deliveries already
// in flight finish with the old one.
type Binding struct {
	mu      sync.RWMutex
	handler Handler
	closed  bool
}

// NewBinding returns a binding to h. h may be nil for capabilities that
// have no owner yet.
func NewBinding(h Handler) *Binding {
	return &Binding{handler: h}
}

// Update rebinds to next.
func (b *Binding) Update(next Handler) error {
	if next == nil {
		return errors.ErrInvalidParam.WithMessage("handler is nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.ErrCapabilityClosed
	}
	b.handler = next
	return nil
}

// Handler returns the current handler.
func (b *Binding) Handler() (Handler, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, errors.ErrCapabilityClosed
	}
	if b.handler == nil {
		return nil, errors.ErrNoReceiver
	}
	return b.handler, nil
}

// Key returns the current handler's key, or "" when unbound.
func (b *Binding) Key() string {
	h, err := b.Handler()
	if err != nil {
		return ""
	}
	return h.Key()
}

// Receiver resolves the current handler's receiver.
func (b *Binding) Receiver(ctx context.Context) (Receiver, error) {
	h, err := b.Handler()
	if err != nil {
		return nil, err
	}
	return h.Receiver(ctx)
}

// Deliver resolves the current receiver and hands it payload.
func (b *Binding) Deliver(ctx context.Context, payload []byte, source, tag string) error {
	r, err := b.Receiver(ctx)
	if err != nil {
		return err
	}
	return r.Receive(ctx, payload, source, tag)
}

// Close detaches the handler. Later updates fail with ErrCapabilityClosed.
func (b *Binding) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.handler = nil
}
