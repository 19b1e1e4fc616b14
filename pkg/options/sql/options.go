// Package sql holds the relational database options shared by the gorm
// backed stores.
package sql

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-agent/pkg/options"
)

// Supported drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Options defines configuration options for the SQL stores.
type Options struct {
	Driver   string `json:"driver" mapstructure:"driver" validate:"oneof=mysql postgres sqlite"`
	Host     string `json:"host" mapstructure:"host" validate:"required_unless=Driver sqlite"`
	Port     int    `json:"port" mapstructure:"port" validate:"min=0,max=65535"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"-" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database" validate:"required"`
	SSLMode  string `json:"ssl-mode" mapstructure:"ssl-mode"`

	MaxIdleConnections    int           `json:"max-idle-connections" mapstructure:"max-idle-connections"`
	MaxOpenConnections    int           `json:"max-open-connections" mapstructure:"max-open-connections"`
	MaxConnectionLifeTime time.Duration `json:"max-connection-life-time" mapstructure:"max-connection-life-time"`
	// LogLevel maps to gorm: 1 silent, 2 error, 3 warn, 4 info.
	LogLevel      int           `json:"log-level" mapstructure:"log-level" validate:"min=0,max=4"`
	SlowThreshold time.Duration `json:"slow-threshold" mapstructure:"slow-threshold"`
}

// NewOptions creates a new Options object with default values.
// The default is an on-disk sqlite database.
func NewOptions() *Options {
	return &Options{
		Driver:                DriverSQLite,
		Database:              "sentinel-agent.db",
		SSLMode:               "disable",
		MaxIdleConnections:    10,
		MaxOpenConnections:    100,
		MaxConnectionLifeTime: 10 * time.Second,
		LogLevel:              1,
		SlowThreshold:         200 * time.Millisecond,
	}
}

// Complete fills the default port and reads the password from
// SQL_PASSWORD when none was given.
func (o *Options) Complete() error {
	if o.Password == "" {
		o.Password = os.Getenv("SQL_PASSWORD")
	}
	if o.Port == 0 {
		switch o.Driver {
		case DriverMySQL:
			o.Port = 3306
		case DriverPostgres:
			o.Port = 5432
		}
	}
	return nil
}

// Validate checks if the options are valid.
func (o *Options) Validate() error {
	if err := options.ValidateStruct(o); err != nil {
		return fmt.Errorf("invalid sql options: %w", err)
	}
	return nil
}

// AddFlags adds flags for SQL options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(append(prefixes, "sql")...)
	fs.StringVar(&o.Driver, p+"driver", o.Driver, "SQL driver (mysql|postgres|sqlite)")
	fs.StringVar(&o.Host, p+"host", o.Host, "SQL host")
	fs.IntVar(&o.Port, p+"port", o.Port, "SQL port")
	fs.StringVar(&o.Username, p+"username", o.Username, "SQL username")
	fs.StringVar(&o.Password, p+"password", o.Password, "SQL password (prefer the SQL_PASSWORD env var)")
	fs.StringVar(&o.Database, p+"database", o.Database, "SQL database name, or file path for sqlite")
	fs.StringVar(&o.SSLMode, p+"ssl-mode", o.SSLMode, "PostgreSQL SSL mode")
	fs.IntVar(&o.MaxIdleConnections, p+"max-idle-connections", o.MaxIdleConnections, "SQL max idle connections")
	fs.IntVar(&o.MaxOpenConnections, p+"max-open-connections", o.MaxOpenConnections, "SQL max open connections")
	fs.DurationVar(&o.MaxConnectionLifeTime, p+"max-connection-life-time", o.MaxConnectionLifeTime, "SQL max connection life time")
	fs.IntVar(&o.LogLevel, p+"log-level", o.LogLevel, "gorm log level (1 silent, 2 error, 3 warn, 4 info)")
	fs.DurationVar(&o.SlowThreshold, p+"slow-threshold", o.SlowThreshold, "Queries slower than this are logged")
}
