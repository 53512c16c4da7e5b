package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
)

// DefaultPath is the configuration file read when no path is given.
const DefaultPath = "config.yaml"

// Config holds all configuration for itsm-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr       string        `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port           string        `yaml:"port" env:"PORT" env-default:"8080"`
	Env            string        `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT" env-default:"30s"`
	Version        string        `yaml:"-"` // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	NATS        NATSConfig        `yaml:"nats"`
	Logging     LoggingConfig     `yaml:"logging"`
	Problems    ProblemsConfig    `yaml:"problems"`
	KnownErrors KnownErrorsConfig `yaml:"known_errors"`

	// CustomFields is the schema registry for typed problem custom fields.
	// YAML only; there is no sensible env representation for a list of definitions.
	CustomFields []models.CustomFieldDefinition `yaml:"custom_fields"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"itsm"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"itsm_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	// AutoMigrate applies pending migrations when the server starts.
	AutoMigrate bool `yaml:"auto_migrate" env:"PGAUTO_MIGRATE" env-default:"true"`
}

// RedisConfig holds optional Redis configuration. When Host is empty, record
// locks for bulk operations are held in-process only.
type RedisConfig struct {
	Host     string        `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int           `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string        `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	LockTTL  time.Duration `yaml:"lock_ttl" env:"REDIS_LOCK_TTL" env-default:"30s"`
}

// NATSConfig holds optional NATS configuration for lifecycle events.
// When URL is empty, events are not published.
type NATSConfig struct {
	URL           string `yaml:"url" env:"NATS_URL" env-default:""`
	SubjectPrefix string `yaml:"subject_prefix" env:"NATS_SUBJECT_PREFIX" env-default:"itsm"`
}

// LoggingConfig controls the root zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"` // json or console
}

// ProblemsConfig holds problem workflow settings.
type ProblemsConfig struct {
	SLA SLAConfig `yaml:"sla_hours"`

	// NonDeletableStatusesStr is a comma-separated list of statuses that block deletion.
	NonDeletableStatusesStr string `yaml:"non_deletable_statuses" env:"PROBLEMS_NON_DELETABLE_STATUSES" env-default:"investigating,rca_in_progress"`
	// NonDeletableStatuses is parsed from NonDeletableStatusesStr (not from config file).
	NonDeletableStatuses []models.ProblemStatus `yaml:"-"`

	BulkMaxIDs         int `yaml:"bulk_max_ids" env:"PROBLEMS_BULK_MAX_IDS" env-default:"500"`
	BulkMaxConcurrency int `yaml:"bulk_max_concurrency" env:"PROBLEMS_BULK_MAX_CONCURRENCY" env-default:"4"`
	ExportMaxRows      int `yaml:"export_max_rows" env:"PROBLEMS_EXPORT_MAX_ROWS" env-default:"50000"`
}

// SLAConfig holds resolution targets in hours per priority.
type SLAConfig struct {
	Critical int `yaml:"critical" env:"SLA_HOURS_CRITICAL" env-default:"24"`
	High     int `yaml:"high" env:"SLA_HOURS_HIGH" env-default:"72"`
	Medium   int `yaml:"medium" env:"SLA_HOURS_MEDIUM" env-default:"168"`
	Low      int `yaml:"low" env:"SLA_HOURS_LOW" env-default:"336"`
}

// Threshold returns the SLA resolution target for a priority.
func (c SLAConfig) Threshold(p models.Priority) time.Duration {
	var hours int
	switch p {
	case models.PriorityCritical:
		hours = c.Critical
	case models.PriorityHigh:
		hours = c.High
	case models.PriorityMedium:
		hours = c.Medium
	default:
		hours = c.Low
	}
	return time.Duration(hours) * time.Hour
}

// KnownErrorsConfig holds knowledge base settings.
type KnownErrorsConfig struct {
	// CacheMaxCost is the byte budget of the in-process known-error cache. 0 disables it.
	CacheMaxCost       int64         `yaml:"cache_max_cost" env:"KNOWN_ERRORS_CACHE_MAX_COST" env-default:"16777216"`
	CacheTTL           time.Duration `yaml:"cache_ttl" env:"KNOWN_ERRORS_CACHE_TTL" env-default:"5m"`
	DefaultSearchLimit int           `yaml:"default_search_limit" env:"KNOWN_ERRORS_DEFAULT_SEARCH_LIMIT" env-default:"10"`
	MaxSearchLimit     int           `yaml:"max_search_limit" env:"KNOWN_ERRORS_MAX_SEARCH_LIMIT" env-default:"50"`
}

// Load reads configuration from the YAML file at path with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Environment variables override YAML values. Secrets (PGPASSWORD,
// REDIS_PASSWORD) must come from environment variables (yaml:"-" fields).
func Load(path, version string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	cfg := &Config{
		Version: version,
	}

	// Load config from YAML file with environment variable overrides
	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	// Parse complex fields
	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}

	// Validate TLS configuration
	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	if err := cfg.validateProblems(); err != nil {
		return nil, fmt.Errorf("invalid problems configuration: %w", err)
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() error {
	statuses, err := parseStatuses(c.Problems.NonDeletableStatusesStr)
	if err != nil {
		return err
	}
	c.Problems.NonDeletableStatuses = statuses
	return nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist and be readable.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	// Both must be provided together or both empty
	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	// If both provided, verify files exist (actual readability checked by tls.LoadX509KeyPair at startup)
	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

func (c *Config) validateProblems() error {
	if c.Problems.BulkMaxIDs < 1 {
		return fmt.Errorf("bulk_max_ids must be positive")
	}
	if c.Problems.BulkMaxConcurrency < 1 {
		return fmt.Errorf("bulk_max_concurrency must be positive")
	}
	// Each bulk worker holds a pool connection for its transaction; leave at
	// least one for the request that started the batch.
	if int64(c.Problems.BulkMaxConcurrency) >= int64(c.Database.MaxConnections) {
		return fmt.Errorf("bulk_max_concurrency (%d) must be below database.max_connections (%d)",
			c.Problems.BulkMaxConcurrency, c.Database.MaxConnections)
	}
	sla := c.Problems.SLA
	if sla.Critical <= 0 || sla.High <= 0 || sla.Medium <= 0 || sla.Low <= 0 {
		return fmt.Errorf("sla_hours must be positive for every priority")
	}
	if _, err := models.NewCustomFieldRegistry(c.CustomFields); err != nil {
		return err
	}
	return nil
}

// parseStatuses parses a comma-separated list of problem statuses.
func parseStatuses(value string) ([]models.ProblemStatus, error) {
	var out []models.ProblemStatus
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		status := models.ProblemStatus(part)
		if !status.IsValid() {
			return nil, fmt.Errorf("unknown problem status %q", part)
		}
		out = append(out, status)
	}
	return out, nil
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", ResolveHostForDocker(c.Host), c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Addr returns the host:port address of the Redis server.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", ResolveHostForDocker(c.Host), c.Port)
}

// ListenAddr returns the address the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return c.BindAddr + ":" + c.Port
}
