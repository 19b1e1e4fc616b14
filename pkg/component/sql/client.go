// Package sql provides the gorm connection used by the SQL stores.
// MySQL, PostgreSQL and pure-Go SQLite are supported.
package sql

import (
	"context"
	dbsql "database/sql"
	"fmt"

	"github.com/glebarez/sqlite"
	mysqldriver "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	options "github.com/kart-io/sentinel-agent/pkg/options/sql"
	"github.com/kart-io/sentinel-agent/pkg/storage"
)

// Client wraps a gorm.DB.
type Client struct {
	db   *gorm.DB
	opts *options.Options
}

// Compile-time check that Client implements storage.Client.
var _ storage.Client = (*Client)(nil)

// NewWithContext validates opts, opens the database and pings it.
func NewWithContext(ctx context.Context, opts *options.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("sql options cannot be nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	dialector, err := Dialector(opts)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewGormLogger(logLevel(opts.LogLevel), opts.SlowThreshold, true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if opts.MaxIdleConnections > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConnections)
	}
	if opts.MaxOpenConnections > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConnections)
	}
	if opts.MaxConnectionLifeTime > 0 {
		sqlDB.SetConnMaxLifetime(opts.MaxConnectionLifeTime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", opts.Driver, err)
	}

	return &Client{
		db:   db,
		opts: opts,
	}, nil
}

// Dialector returns the gorm dialector for the configured driver.
func Dialector(opts *options.Options) (gorm.Dialector, error) {
	switch opts.Driver {
	case options.DriverMySQL:
		return mysqldriver.Open(MySQLDSN(opts)), nil
	case options.DriverPostgres:
		return postgres.Open(PostgresDSN(opts)), nil
	case options.DriverSQLite:
		return sqlite.Open(SQLiteDSN(opts)), nil
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", opts.Driver)
	}
}

func logLevel(level int) gormlogger.LogLevel {
	switch level {
	case 2:
		return gormlogger.Error
	case 3:
		return gormlogger.Warn
	case 4:
		return gormlogger.Info
	default:
		return gormlogger.Silent
	}
}

// Name returns the configured driver.
func (c *Client) Name() string {
	return c.opts.Driver
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool.
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// DB returns the underlying gorm.DB instance.
func (c *Client) DB() *gorm.DB {
	return c.db
}

// SqlDB returns the underlying sql.DB instance.
func (c *Client) SqlDB() (*dbsql.DB, error) {
	return c.db.DB()
}
