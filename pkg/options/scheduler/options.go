// Package scheduler holds the task scheduling options.
package scheduler

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-agent/pkg/options"
)

// Task store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQL    = "sql"
)

// Options selects where persistent schedulers keep pending tasks.
type Options struct {
	// TaskStore is the backend of persistent schedulers.
	TaskStore string `json:"task-store" mapstructure:"task-store" validate:"oneof=memory redis sql"`
}

// NewOptions creates a new Options object with default values.
func NewOptions() *Options {
	return &Options{TaskStore: StoreMemory}
}

// Complete completes the options.
func (o *Options) Complete() error {
	return nil
}

// Validate checks if the options are valid.
func (o *Options) Validate() error {
	if err := options.ValidateStruct(o); err != nil {
		return fmt.Errorf("invalid scheduler options: %w", err)
	}
	return nil
}

// AddFlags adds flags for scheduler options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.TaskStore, "scheduler.task-store", o.TaskStore, "Task store of persistent schedulers (memory|redis|sql)")
}
