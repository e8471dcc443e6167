// Package config loads configuration from files, env vars, and flags, and validates it.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"thingmapper/internal/naming"
)

// Config holds the application configuration.
type Config struct {
	SchemaFile    string              `mapstructure:"schema_file"`
	Connectors    []ConnectorConfig   `mapstructure:"connectors"`
	Connector     ConnectorConfig     `mapstructure:"connector"`
	Mutation      MutationConfig      `mapstructure:"mutation"`
	Naming        naming.Config       `mapstructure:"naming"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ConnectorConfig describes one storage connector.
type ConnectorConfig struct {
	ID       string `mapstructure:"id"`
	Provider string `mapstructure:"provider"` // neo4j, tidb, bolt

	// tidb
	DSN  string `mapstructure:"dsn"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// neo4j
	URI string `mapstructure:"uri"`

	// tidb and neo4j
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	Database       string `mapstructure:"database"`

	// bolt
	Path string `mapstructure:"path"`
}

// MySQLDSN returns the connector's DSN, built from the discrete fields when no
// DSN is configured.
func (c ConnectorConfig) MySQLDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN()
}

// ActiveConnectors returns the configured connectors. A connector given
// through the connector.* flags or env vars is appended to the file's list.
func (c *Config) ActiveConnectors() []ConnectorConfig {
	out := append([]ConnectorConfig(nil), c.Connectors...)
	if c.Connector.Provider != "" {
		single := c.Connector
		if single.ID == "" {
			single.ID = single.Provider
		}
		out = append(out, single)
	}
	return out
}

// MutationConfig holds pipeline behavior settings.
type MutationConfig struct {
	IgnoreNonexistingThings bool          `mapstructure:"ignore_nonexisting_things"`
	PreQuery                bool          `mapstructure:"pre_query"`
	PreQueryMaxRounds       int           `mapstructure:"pre_query_max_rounds"`
	TargetResolution        string        `mapstructure:"target_resolution"` // strict, first
	StageTimeout            time.Duration `mapstructure:"stage_timeout"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // Enable OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName      string        `mapstructure:"service_name"`
	ServiceVersion   string        `mapstructure:"service_version"`
	Environment      string        `mapstructure:"environment"`
	MetricsEnabled   bool          `mapstructure:"metrics_enabled"`
	MetricsTextfile  string        `mapstructure:"metrics_textfile"` // Prometheus textfile written after each run
	TracingEnabled   bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio float64       `mapstructure:"trace_sample_ratio"`
	Logging          LoggingConfig `mapstructure:"logging"`

	// Global OTLP settings (defaults for all signals)
	OTLP OTLPConfig `mapstructure:"otlp"`

	// Signal-specific overrides (optional)
	Traces *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs   *OTLPConfig `mapstructure:"logs,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // "none", "gzip"
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
	RetryMaxAttempts  int               `mapstructure:"retry_max_attempts"`
}

// GetTracesConfig returns the effective OTLP config for traces
func (c *ObservabilityConfig) GetTracesConfig() OTLPConfig {
	if c.Traces != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Traces)
	}
	return c.OTLP
}

// GetLogsConfig returns the effective OTLP config for logs
func (c *ObservabilityConfig) GetLogsConfig() OTLPConfig {
	if c.Logs != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Logs)
	}
	return c.OTLP
}

// mergeOTLPConfigs lays the non-zero values of a signal override over the
// global settings. Insecure always comes from the override.
func mergeOTLPConfigs(base OTLPConfig, override OTLPConfig) OTLPConfig {
	result := base

	if override.Endpoint != "" {
		result.Endpoint = override.Endpoint
	}
	if override.Protocol != "" {
		result.Protocol = override.Protocol
	}
	result.Insecure = override.Insecure

	if override.TLSCertFile != "" {
		result.TLSCertFile = override.TLSCertFile
	}
	if override.TLSClientCertFile != "" {
		result.TLSClientCertFile = override.TLSClientCertFile
	}
	if override.TLSClientKeyFile != "" {
		result.TLSClientKeyFile = override.TLSClientKeyFile
	}
	if override.Headers != nil {
		result.Headers = make(map[string]string, len(base.Headers)+len(override.Headers))
		for k, v := range base.Headers {
			result.Headers[k] = v
		}
		for k, v := range override.Headers {
			result.Headers[k] = v
		}
	}
	if override.Timeout != 0 {
		result.Timeout = override.Timeout
	}
	if override.Compression != "" {
		result.Compression = override.Compression
	}
	if override.RetryMaxAttempts != 0 {
		result.RetryEnabled = override.RetryEnabled
		result.RetryMaxAttempts = override.RetryMaxAttempts
	}

	return result
}

func (c ConnectorConfig) String() string {
	return fmt.Sprintf("%s (%s)", c.ID, c.Provider)
}
