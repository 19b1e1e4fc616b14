// Package options holds the shared helpers of the component option sets.
package options

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// CliOptions is implemented by every option set wired into the daemon.
type CliOptions interface {
	Complete() error
	Validate() error
}

var validate = validator.New()

// Join concatenates prefixes with "." and appends a trailing "." when the
// result is not empty, e.g. Join("store", "redis") == "store.redis.".
func Join(prefixes ...string) string {
	joined := strings.Join(prefixes, ".")
	if joined != "" {
		joined += "."
	}
	return joined
}

// ValidateStruct checks the `validate` tags of v.
func ValidateStruct(v interface{}) error {
	return validate.Struct(v)
}
