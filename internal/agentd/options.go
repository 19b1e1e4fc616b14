package agentd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	etcdopts "github.com/kart-io/sentinel-agent/pkg/options/etcd"
	logopts "github.com/kart-io/sentinel-agent/pkg/options/logger"
	poolopts "github.com/kart-io/sentinel-agent/pkg/options/pool"
	redisopts "github.com/kart-io/sentinel-agent/pkg/options/redis"
	scheduleropts "github.com/kart-io/sentinel-agent/pkg/options/scheduler"
	sqlopts "github.com/kart-io/sentinel-agent/pkg/options/sql"
	tracingopts "github.com/kart-io/sentinel-agent/pkg/options/tracing"
	wakeopts "github.com/kart-io/sentinel-agent/pkg/options/wake"
)

// Options contains all daemon options.
type Options struct {
	Log       *logopts.Options       `json:"log" mapstructure:"log"`
	Tracing   *tracingopts.Options   `json:"tracing" mapstructure:"tracing"`
	Pool      *poolopts.Options      `json:"pool" mapstructure:"pool"`
	Scheduler *scheduleropts.Options `json:"scheduler" mapstructure:"scheduler"`
	Wake      *wakeopts.Options      `json:"wake" mapstructure:"wake"`

	// Backends are connected only when a selected store needs them.
	Redis *redisopts.Options `json:"redis" mapstructure:"redis"`
	SQL   *sqlopts.Options   `json:"sql" mapstructure:"sql"`
	Etcd  *etcdopts.Options  `json:"etcd" mapstructure:"etcd"`

	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Log:             logopts.NewOptions(),
		Tracing:         tracingopts.NewOptions(),
		Pool:            poolopts.NewOptions(),
		Scheduler:       scheduleropts.NewOptions(),
		Wake:            wakeopts.NewOptions(),
		Redis:           redisopts.NewOptions(),
		SQL:             sqlopts.NewOptions(),
		Etcd:            etcdopts.NewOptions(),
		ShutdownTimeout: 15 * time.Second,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	o.Log.AddFlags(fs)
	o.Tracing.AddFlags(fs)
	o.Pool.AddFlags(fs)
	o.Scheduler.AddFlags(fs)
	o.Wake.AddFlags(fs)
	o.Redis.AddFlags(fs)
	o.SQL.AddFlags(fs)
	o.Etcd.AddFlags(fs)
	fs.DurationVar(&o.ShutdownTimeout, "shutdown-timeout", o.ShutdownTimeout, "Deadline of the graceful shutdown")
}

// Complete completes the options.
func (o *Options) Complete() error {
	for _, c := range o.components() {
		if err := c.Complete(); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the options. Backend options are only checked when
// a store uses the backend.
func (o *Options) Validate() error {
	if err := o.Log.Validate(); err != nil {
		return err
	}
	if err := o.Tracing.Validate(); err != nil {
		return err
	}
	if err := o.Pool.Validate(); err != nil {
		return err
	}
	if err := o.Scheduler.Validate(); err != nil {
		return err
	}
	if err := o.Wake.Validate(); err != nil {
		return err
	}
	if o.ShutdownTimeout <= 0 {
		return errors.New("shutdown-timeout must be positive")
	}

	if o.UsesRedis() {
		if err := o.Redis.Validate(); err != nil {
			return err
		}
	}
	if o.UsesSQL() {
		if err := o.SQL.Validate(); err != nil {
			return err
		}
	}
	if o.UsesEtcd() {
		if err := o.Etcd.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type completer interface {
	Complete() error
}

func (o *Options) components() []completer {
	return []completer{o.Log, o.Tracing, o.Pool, o.Scheduler, o.Wake, o.Redis, o.SQL, o.Etcd}
}

// UsesRedis reports whether a store is backed by Redis.
func (o *Options) UsesRedis() bool {
	return o.Scheduler.TaskStore == scheduleropts.StoreRedis || o.Wake.Store == wakeopts.StoreRedis
}

// UsesSQL reports whether a store is backed by SQL.
func (o *Options) UsesSQL() bool {
	return o.Scheduler.TaskStore == scheduleropts.StoreSQL || o.Wake.Store == wakeopts.StoreSQL
}

// UsesEtcd reports whether a store is backed by etcd.
func (o *Options) UsesEtcd() bool {
	return o.Wake.Store == wakeopts.StoreEtcd
}

// String summarises the store selection.
func (o *Options) String() string {
	return fmt.Sprintf("tasks=%s registrations=%s eager=%t", o.Scheduler.TaskStore, o.Wake.Store, o.Wake.Eager)
}
