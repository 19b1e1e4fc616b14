// Package wake holds the wake service options.
package wake

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-agent/pkg/options"
)

// Registration store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQL    = "sql"
	StoreEtcd   = "etcd"
)

// Seed is a registration written at boot when its key is not registered
// yet.
type Seed struct {
	Key    string                 `json:"key" mapstructure:"key" validate:"required"`
	Kind   string                 `json:"kind" mapstructure:"kind" validate:"required"`
	Params map[string]interface{} `json:"params" mapstructure:"params"`
}

// Options configures the wake service.
type Options struct {
	Store string `json:"store" mapstructure:"store" validate:"oneof=memory redis sql etcd"`
	// Eager wakes every registration at boot. Otherwise entities wake on
	// their first delivery.
	Eager       bool          `json:"eager" mapstructure:"eager"`
	BootTimeout time.Duration `json:"boot-timeout" mapstructure:"boot-timeout" validate:"gt=0"`
	Seeds       []Seed        `json:"seeds" mapstructure:"seeds" validate:"dive"`
}

// NewOptions creates a new Options object with default values.
func NewOptions() *Options {
	return &Options{
		Store:       StoreMemory,
		Eager:       true,
		BootTimeout: 30 * time.Second,
	}
}

// Complete completes the options.
func (o *Options) Complete() error {
	return nil
}

// Validate checks if the options are valid.
func (o *Options) Validate() error {
	if err := options.ValidateStruct(o); err != nil {
		return fmt.Errorf("invalid wake options: %w", err)
	}
	return nil
}

// AddFlags adds flags for wake options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Store, "wake.store", o.Store, "Registration store (memory|redis|sql|etcd)")
	fs.BoolVar(&o.Eager, "wake.eager", o.Eager, "Wake every registration at boot")
	fs.DurationVar(&o.BootTimeout, "wake.boot-timeout", o.BootTimeout, "Deadline of the boot wake")
}
