// Package config loads and validates the engine's typed configuration:
// policy/entity sources, reload cadence, property-parse prefixes, and the
// ambient logging/metrics/audit/cache options, from a YAML document parsed
// with gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PolicySources names where PolicySyntax sources are read from.
type PolicySources struct {
	LocalFiles []string `yaml:"local_files"`
	ConfigMap  string   `yaml:"config_map"`
}

// EntitySources names where external Entity sources are read from.
type EntitySources struct {
	LocalFiles []string `yaml:"local_files"`
	ConfigMap  string   `yaml:"config_map"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | console
}

// MetricsConfig controls the Prometheus registry and scrape listener.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Namespace  string `yaml:"namespace"`
	ListenAddr string `yaml:"listen_addr"`
}

// AuditConfig controls the compliance audit sink.
type AuditConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Type        string `yaml:"type"` // stdout | file | syslog | postgres
	FilePath    string `yaml:"file_path"`
	SyslogAddr  string `yaml:"syslog_addr"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// DecisionCacheConfig controls the per-request memoization layer in front of
// the Evaluator.
type DecisionCacheConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Capacity  int    `yaml:"capacity"`
	TTLSecs   int    `yaml:"ttl_secs"`
	RedisAddr string `yaml:"redis_addr"`
}

func (c DecisionCacheConfig) TTL() time.Duration { return time.Duration(c.TTLSecs) * time.Second }

// ServerConfig controls the HTTP surface that fronts the Authorizer facade:
// the authorization-check/introspect/reload contract plus health and metrics
// endpoints. The engine's own scope stops at the Authorizer (spec.md §7);
// this is the thin operational listener around it, not a management API.
type ServerConfig struct {
	Port         int      `yaml:"port"`
	ReadTimeout  int      `yaml:"read_timeout_secs"`
	WriteTimeout int      `yaml:"write_timeout_secs"`
	IdleTimeout  int      `yaml:"idle_timeout_secs"`
	EnableCORS   bool     `yaml:"enable_cors"`
	CORSOrigins  []string `yaml:"cors_origins"`
}

func (c ServerConfig) ReadTimeoutDuration() time.Duration  { return time.Duration(c.ReadTimeout) * time.Second }
func (c ServerConfig) WriteTimeoutDuration() time.Duration { return time.Duration(c.WriteTimeout) * time.Second }
func (c ServerConfig) IdleTimeoutDuration() time.Duration  { return time.Duration(c.IdleTimeout) * time.Second }

// Config is the engine's full typed configuration, per spec.md §6.3 plus the
// ambient sections SPEC_FULL.md §6.6 adds.
type Config struct {
	PolicySources                  PolicySources       `yaml:"policy_sources"`
	EntityJSONSources               EntitySources        `yaml:"entity_json_sources"`
	ExternallyManagedUserAndRoles   bool                `yaml:"externally_managed_user_and_roles"`
	RefreshIntervalSecs             int                 `yaml:"refresh_interval_secs"`
	PropertyParsePrefixes           []string            `yaml:"property_parse_prefixes"`
	IdentityProviders               []string            `yaml:"identity_providers"`
	OpenIDRolesClaim                string              `yaml:"openid_roles_claim"`

	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Audit         AuditConfig         `yaml:"audit"`
	DecisionCache DecisionCacheConfig `yaml:"decision_cache"`
}

// Default returns the documented defaults (spec.md §6.3).
func Default() Config {
	return Config{
		RefreshIntervalSecs:   5,
		PropertyParsePrefixes: []string{"access-", "access_"},
		Server: ServerConfig{
			Port: 8080, ReadTimeout: 15, WriteTimeout: 15, IdleTimeout: 60,
			EnableCORS: true, CORSOrigins: []string{"*"},
		},
		Logging:       LoggingConfig{Level: "info", Format: "json"},
		Metrics:       MetricsConfig{Enabled: true, Namespace: "lakehouse_authz", ListenAddr: ":9090"},
		Audit:         AuditConfig{Enabled: true, Type: "stdout"},
		DecisionCache: DecisionCacheConfig{Enabled: true, Capacity: 100000, TTLSecs: 300},
	}
}

// Load reads and parses path, merging onto Default(), and validates the
// result. Schema/structural errors here are fatal at startup per spec.md §7.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks structural invariants that can't be expressed in YAML
// tags alone.
func (c *Config) Validate() error {
	if len(c.PolicySources.LocalFiles) == 0 && c.PolicySources.ConfigMap == "" {
		return fmt.Errorf("policy_sources: at least one local file or config_map must be configured")
	}
	if c.RefreshIntervalSecs <= 0 {
		return fmt.Errorf("refresh_interval_secs must be positive, got %d", c.RefreshIntervalSecs)
	}
	if c.ExternallyManagedUserAndRoles &&
		len(c.EntityJSONSources.LocalFiles) == 0 && c.EntityJSONSources.ConfigMap == "" {
		return fmt.Errorf("externally_managed_user_and_roles requires at least one entity_json_sources entry")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	return nil
}

// RefreshInterval is RefreshIntervalSecs as a time.Duration.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSecs) * time.Second
}
