package wake

import (
	"context"

	"github.com/kart-io/sentinel-agent/pkg/capabilities"
	"github.com/kart-io/sentinel-agent/pkg/errors"
)

type handler struct {
	svc *Service
	key string
}

// Handler returns a capabilities.Handler for the entity registered under
// key. Resolving its receiver wakes the entity if it is dormant.
func (s *Service) Handler(key string) capabilities.Handler {
	return &handler{svc: s, key: key}
}

func (h *handler) Key() string { return h.key }

func (h *handler) Receiver(ctx context.Context) (capabilities.Receiver, error) {
	w, err := h.svc.WakeOne(ctx, h.key, false)
	if err != nil {
		return nil, err
	}
	r, ok := w.(capabilities.Receiver)
	if !ok {
		return nil, errors.ErrNotReceiver.WithMessagef("entity %q (%T) cannot receive", h.key, w)
	}
	return r, nil
}
