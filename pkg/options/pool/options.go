// Package pool holds the worker pool options.
package pool

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-agent/pkg/infra/pool"
	"github.com/kart-io/sentinel-agent/pkg/options"
)

// Options sizes the dispatch pool running clock callbacks and the
// background pool running boot wakes and health checks.
type Options struct {
	DispatchCapacity   int           `json:"dispatch-capacity" mapstructure:"dispatch-capacity" validate:"min=1"`
	BackgroundCapacity int           `json:"background-capacity" mapstructure:"background-capacity" validate:"min=1"`
	ExpiryDuration     time.Duration `json:"expiry-duration" mapstructure:"expiry-duration" validate:"gt=0"`
	PreAlloc           bool          `json:"pre-alloc" mapstructure:"pre-alloc"`
}

// NewOptions creates a new Options object with default values.
func NewOptions() *Options {
	dispatch := pool.DispatchPoolConfig()
	return &Options{
		DispatchCapacity:   dispatch.Capacity,
		BackgroundCapacity: pool.BackgroundPoolConfig().Capacity,
		ExpiryDuration:     dispatch.ExpiryDuration,
	}
}

// Complete completes the options.
func (o *Options) Complete() error {
	return nil
}

// Validate checks if the options are valid.
func (o *Options) Validate() error {
	if err := options.ValidateStruct(o); err != nil {
		return fmt.Errorf("invalid pool options: %w", err)
	}
	return nil
}

// AddFlags adds flags for pool options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.DispatchCapacity, "pool.dispatch-capacity", o.DispatchCapacity, "Workers running due trigger callbacks")
	fs.IntVar(&o.BackgroundCapacity, "pool.background-capacity", o.BackgroundCapacity, "Workers running boot wakes and health checks")
	fs.DurationVar(&o.ExpiryDuration, "pool.expiry-duration", o.ExpiryDuration, "Idle worker expiry")
	fs.BoolVar(&o.PreAlloc, "pool.pre-alloc", o.PreAlloc, "Pre-allocate worker queues")
}

// Config returns the pool configuration for typ.
func (o *Options) Config(typ pool.Type) *pool.Config {
	var cfg *pool.Config
	switch typ {
	case pool.BackgroundPool:
		cfg = pool.BackgroundPoolConfig()
		cfg.Capacity = o.BackgroundCapacity
	default:
		cfg = pool.DispatchPoolConfig()
		cfg.Capacity = o.DispatchCapacity
	}
	cfg.ExpiryDuration = o.ExpiryDuration
	cfg.PreAlloc = o.PreAlloc
	return cfg
}
