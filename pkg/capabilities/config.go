// Package capabilities maps capability configurations to live instances.
//
// A Factory builds capabilities through a Registry of kind-specific
// builders. Keyed capabilities are cached: a second Build for the same key
// returns the cached instance and rebinds it to the new Handler instead of
// constructing another one. Unkeyed capabilities are always built fresh.
package capabilities

import (
	"github.com/go-playground/validator/v10"

	"github.com/kart-io/sentinel-agent/pkg/codec"
	"github.com/kart-io/sentinel-agent/pkg/errors"
)

// Kind selects the builder for a capability configuration.
type Kind string

// Config describes one capability. Key is optional; an empty key marks a
// transient capability that is never cached. Params are builder specific.
//
// A Config is treated as an immutable value once it has been passed to
// the Factory: the factory keeps its own deep copy.
type Config struct {
	Key    string                 `json:"key,omitempty" mapstructure:"key"`
	Kind   Kind                   `json:"kind" mapstructure:"kind" validate:"required"`
	Params map[string]interface{} `json:"params,omitempty" mapstructure:"params"`
}

var validate = validator.New()

// Keyed reports whether the capability is durably addressable.
func (c Config) Keyed() bool {
	return c.Key != ""
}

// Validate checks the required fields.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.ErrInvalidCapabilityConfig.WithCause(err)
	}
	return nil
}

// Clone returns a deep copy of c.
func (c Config) Clone() (Config, error) {
	out := Config{Key: c.Key, Kind: c.Kind}
	if c.Params == nil {
		return out, nil
	}
	params, err := codec.Clone(c.Params)
	if err != nil {
		return Config{}, errors.ErrInvalidCapabilityConfig.WithCause(err)
	}
	out.Params = params
	return out, nil
}

// WithKey returns a copy of c addressed by key.
func (c Config) WithKey(key string) Config {
	c.Key = key
	return c
}

// Decode unmarshals Params into out, which should be a pointer to a struct
// with json tags.
func (c Config) Decode(out interface{}) error {
	if c.Params == nil {
		return nil
	}
	data, err := codec.Marshal(c.Params)
	if err != nil {
		return errors.ErrInvalidCapabilityConfig.WithCause(err)
	}
	if err := codec.Unmarshal(data, out); err != nil {
		return errors.ErrInvalidCapabilityConfig.WithCause(err)
	}
	return nil
}
