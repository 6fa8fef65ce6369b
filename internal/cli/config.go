package cli

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	maxWalkDepth = 25
	redacted     = "********"
)

// Driver names accepted in database.driver.
const (
	DriverPgx       = "pgx"
	DriverPq        = "pq"
	DriverPgxStdlib = "pgx-stdlib"
)

// Config represents the pgsupporter configuration from pgsupporter.yaml.
type Config struct {
	// Schema is the default search_path schema for query commands.
	Schema string `mapstructure:"schema" json:"schema"`

	Database DatabaseConfig `mapstructure:"database" json:"database"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
	Query    QueryConfig    `mapstructure:"query" json:"query"`
	Doctor   DoctorConfig   `mapstructure:"doctor" json:"doctor"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	URL      string     `mapstructure:"url" json:"url"`
	Host     string     `mapstructure:"host" json:"host"`
	Port     int        `mapstructure:"port" json:"port"`
	Name     string     `mapstructure:"name" json:"name"`
	User     string     `mapstructure:"user" json:"user"`
	Password string     `mapstructure:"password" json:"password"`
	SSLMode  string     `mapstructure:"sslmode" json:"sslmode"`
	Driver   string     `mapstructure:"driver" json:"driver"`
	Pool     PoolConfig `mapstructure:"pool" json:"pool"`
}

// PoolConfig holds connection pool settings. With the pool disabled every
// transaction dials its own connection.
type PoolConfig struct {
	Enabled  bool `mapstructure:"enabled" json:"enabled"`
	MinConns int  `mapstructure:"min_conns" json:"min_conns"`
	MaxConns int  `mapstructure:"max_conns" json:"max_conns"`
}

// LogConfig holds logging settings. With File set, logs are also written
// to a size-rotated file.
type LogConfig struct {
	Level      string `mapstructure:"level" json:"level"`
	File       string `mapstructure:"file" json:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"`
}

// QueryConfig holds settings for the select/insert/update/delete commands.
type QueryConfig struct {
	Output string `mapstructure:"output" json:"output"`
	DryRun bool   `mapstructure:"dry_run" json:"dry_run"`
}

// DoctorConfig holds doctor command settings.
type DoctorConfig struct {
	Verbose bool `mapstructure:"verbose" json:"verbose"`
}

// LoadConfig discovers and loads configuration with proper precedence:
// flags > env > config file > defaults.
//
// Returns the loaded config, the path to the config file (empty if none found),
// and any error encountered.
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PGSUPPORTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, configPath, err
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("schema", "")

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "prefer")
	v.SetDefault("database.driver", DriverPgx)
	v.SetDefault("database.pool.enabled", true)
	v.SetDefault("database.pool.min_conns", 5)
	v.SetDefault("database.pool.max_conns", 10)

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)

	v.SetDefault("query.output", "yaml")
	v.SetDefault("query.dry_run", false)

	v.SetDefault("doctor.verbose", false)
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from cwd looking for pgsupporter.yaml or
// pgsupporter.yml, stopping at a .git directory or after maxWalkDepth levels.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		for _, name := range []string{"pgsupporter.yaml", "pgsupporter.yml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		// Stop at the repository root.
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// Validate checks values that cannot be caught by unmarshaling.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPgx, DriverPq, DriverPgxStdlib:
	default:
		return fmt.Errorf("database.driver must be one of %s, %s, %s (got %q)",
			DriverPgx, DriverPq, DriverPgxStdlib, c.Database.Driver)
	}

	p := c.Database.Pool
	if p.MinConns < 0 || p.MaxConns < 0 {
		return fmt.Errorf("database.pool connection bounds must not be negative")
	}
	if p.Enabled && p.MaxConns > 0 && p.MinConns > p.MaxConns {
		return fmt.Errorf("database.pool.min_conns (%d) exceeds database.pool.max_conns (%d)", p.MinConns, p.MaxConns)
	}

	switch c.Query.Output {
	case "yaml", "json":
	default:
		return fmt.Errorf("query.output must be yaml or json (got %q)", c.Query.Output)
	}
	return nil
}

// DSN returns the database connection string.
// If database.url is set, it's returned directly.
// Otherwise, builds a DSN from discrete fields.
func (c *Config) DSN() (string, error) {
	db := c.Database

	if db.URL != "" {
		return db.URL, nil
	}

	if db.Host == "" {
		return "", fmt.Errorf("database.host is required when database.url is not set")
	}
	if db.Name == "" {
		return "", fmt.Errorf("database.name is required when database.url is not set")
	}
	if db.User == "" {
		return "", fmt.Errorf("database.user is required when database.url is not set")
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   "/" + db.Name,
	}

	if db.Password != "" {
		u.User = url.UserPassword(db.User, db.Password)
	} else {
		u.User = url.User(db.User)
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// Redacted returns a copy of the config with credentials masked.
func (c *Config) Redacted() Config {
	out := *c
	if out.Database.Password != "" {
		out.Database.Password = redacted
	}
	if out.Database.URL != "" {
		out.Database.URL = RedactDSN(out.Database.URL)
	}
	return out
}

// RedactDSN masks the password of a URL-form DSN. Key/value DSNs are
// returned with any password=... pair masked.
func RedactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
		return u.Redacted()
	}

	fields := strings.Fields(dsn)
	for i, f := range fields {
		if strings.HasPrefix(f, "password=") {
			fields[i] = "password=" + redacted
		}
	}
	return strings.Join(fields, " ")
}
