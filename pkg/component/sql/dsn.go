package sql

import (
	"fmt"
	"net/url"
	"strings"

	options "github.com/kart-io/sentinel-agent/pkg/options/sql"
)

// MySQLDSN builds username:password@tcp(host:port)/database?params.
// The password is escaped so special characters cannot break the DSN.
func MySQLDSN(opts *options.Options) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		opts.Username,
		url.QueryEscape(opts.Password),
		opts.Host,
		opts.Port,
		opts.Database,
	)
}

// PostgresDSN builds a key=value PostgreSQL DSN.
func PostgresDSN(opts *options.Options) string {
	sslMode := opts.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		opts.Host,
		opts.Port,
		opts.Username,
		escapePostgresValue(opts.Password),
		opts.Database,
		sslMode,
	)
}

// escapePostgresValue quotes values containing spaces, quotes or
// backslashes.
func escapePostgresValue(value string) string {
	if value == "" {
		return "''"
	}
	if !strings.ContainsAny(value, " '\\") {
		return value
	}
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "'", "''")
	return "'" + escaped + "'"
}

// SQLiteDSN is the database path with a busy timeout, so concurrent
// writers wait for the lock instead of failing. A path that already
// carries query parameters is used as given.
func SQLiteDSN(opts *options.Options) string {
	if strings.Contains(opts.Database, "?") {
		return opts.Database
	}
	return opts.Database + "?_pragma=busy_timeout(5000)"
}
