package wake

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/kart-io/sentinel-agent/pkg/capabilities"
	"github.com/kart-io/sentinel-agent/pkg/errors"
)

// Registration is the durable record of a dormant entity.
type Registration struct {
	Key    string              `json:"key" validate:"required"`
	Kind   capabilities.Kind   `json:"kind" validate:"required"`
	Config capabilities.Config `json:"config"`
}

var validate = validator.New()

// Validate checks the required fields.
func (r Registration) Validate() error {
	if err := validate.Struct(r); err != nil {
		return errors.ErrInvalidParam.WithCause(err)
	}
	return nil
}

// Store persists registrations. Get returns errors.ErrRecordNotFound for
// an unknown key. Implementations must be safe for concurrent use.
type Store interface {
	Put(ctx context.Context, reg Registration) error
	Get(ctx context.Context, key string) (Registration, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]Registration, error)
}
