package config

import (
	"fmt"
	"net"
)

const (
	// DefaultAPIListen is the default API listen address.
	DefaultAPIListen = ":9090"

	// DefaultRequestsPerMinute is the default per-IP request budget.
	DefaultRequestsPerMinute = 120

	// DefaultSQLitePath is the default history database file.
	DefaultSQLitePath = "reportoor.db"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// APIConfig contains all API server configuration.
type APIConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
	Auth        APIAuthConfig   `yaml:"auth,omitempty" mapstructure:"auth"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// APIAuthConfig contains authentication settings. When TokenHash is set,
// every request except the health check must carry a bearer token whose
// bcrypt hash matches it.
type APIAuthConfig struct {
	TokenHash string `yaml:"token_hash,omitempty" mapstructure:"token_hash"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// DSN returns the PostgreSQL connection string.
func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

func (c *APIConfig) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultAPIListen
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		c.RateLimit.RequestsPerMinute = DefaultRequestsPerMinute
	}
}

// Validate checks the API configuration.
func (c *APIConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}

	return nil
}

func (c *DatabaseConfig) applyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}

	if c.Driver == DriverSQLite && c.SQLite.Path == "" {
		c.SQLite.Path = DefaultSQLitePath
	}

	if c.Driver == DriverPostgres {
		if c.Postgres.Port == 0 {
			c.Postgres.Port = 5432
		}

		if c.Postgres.SSLMode == "" {
			c.Postgres.SSLMode = "disable"
		}
	}
}

// Validate checks the database configuration.
func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required")
		}
	case DriverPostgres:
		if c.Postgres.Host == "" {
			return fmt.Errorf("postgres.host is required")
		}

		if c.Postgres.Database == "" {
			return fmt.Errorf("postgres.database is required")
		}
	default:
		return fmt.Errorf("%w %q", ErrDatabaseDriver, c.Driver)
	}

	return nil
}
