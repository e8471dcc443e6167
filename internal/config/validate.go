package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"

	"thingmapper/internal/naming"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) addError(field, hint, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Hint: hint})
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	if strings.TrimSpace(c.SchemaFile) == "" {
		result.addError("schema_file", "pass --schema_file or set THINGMAPPER_SCHEMA_FILE", "schema file is required")
	}

	validateConnectors(result, c.ActiveConnectors())
	c.Mutation.validate(result)
	validateNamingConfig(result, c.Naming)
	c.Observability.validate(result)

	return result
}

func validateConnectors(result *ValidationResult, connectors []ConnectorConfig) {
	if len(connectors) == 0 {
		result.addError("connectors", "configure connectors in the config file or pass --connector.provider", "no storage connector is configured")
		return
	}
	if len(connectors) > 1 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "connectors",
			Message: fmt.Sprintf("%d connectors are configured; mutations are rejected unless exactly one is active", len(connectors)),
		})
	}

	seen := make(map[string]bool, len(connectors))
	for i, c := range connectors {
		field := fmt.Sprintf("connectors[%d]", i)
		if strings.TrimSpace(c.ID) == "" {
			result.addError(field+".id", "", "connector id cannot be empty")
		} else if seen[c.ID] {
			result.addError(field+".id", "connector ids must be unique", "duplicate connector id %q", c.ID)
		}
		seen[c.ID] = true
		c.validate(field, result)
	}
}

func (c *ConnectorConfig) validate(field string, result *ValidationResult) {
	switch c.Provider {
	case "tidb":
		if c.DSN != "" {
			if _, err := mysql.ParseDSN(c.DSN); err != nil {
				result.addError(field+".dsn", "use the user:pass@tcp(host:port)/db form", "invalid DSN: %v", err)
			}
			return
		}
		if strings.TrimSpace(c.Host) == "" {
			result.addError(field+".host", "set either dsn or host", "tidb connector needs a host")
		}
		if c.Port < 1 || c.Port > 65535 {
			result.addError(field+".port", "", "port %d is out of valid range (1-65535)", c.Port)
		}
		if strings.TrimSpace(c.Database) == "" {
			result.addError(field+".database", "", "tidb connector needs a database")
		}
	case "neo4j":
		if strings.TrimSpace(c.URI) == "" {
			result.addError(field+".uri", "for example neo4j://localhost:7687", "neo4j connector needs a uri")
		} else if u, err := url.Parse(c.URI); err != nil || u.Scheme == "" || u.Host == "" {
			result.addError(field+".uri", "for example neo4j://localhost:7687", "invalid neo4j uri %q", c.URI)
		}
	case "bolt":
		if strings.TrimSpace(c.Path) == "" {
			result.addError(field+".path", "", "bolt connector needs a file path")
		}
	default:
		result.addError(field+".provider", "valid values are: neo4j, tidb, bolt", "unsupported provider %q", c.Provider)
	}
}

func (m *MutationConfig) validate(result *ValidationResult) {
	switch m.TargetResolution {
	case "", "strict", "first":
	default:
		result.addError("mutation.target_resolution", "valid values are: strict, first", "invalid target resolution %q", m.TargetResolution)
	}
	if m.StageTimeout < 0 {
		result.addError("mutation.stage_timeout", "use 0 to disable", "stage timeout cannot be negative")
	}
	if m.PreQueryMaxRounds < 1 {
		result.addError("mutation.pre_query_max_rounds", "", "pre_query_max_rounds must be at least 1, got %d", m.PreQueryMaxRounds)
	}
	if !m.PreQuery {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "mutation.pre_query",
			Message: "pre-query is disabled; neo4j and tidb connectors cannot resolve links to existing things",
		})
	}
}

func validateNamingConfig(result *ValidationResult, cfg naming.Config) {
	for singular, plural := range cfg.PluralOverrides {
		if strings.TrimSpace(singular) == "" {
			result.addError("naming.plural_overrides", "", "singular name cannot be empty")
			continue
		}
		if strings.TrimSpace(plural) == "" {
			result.addError("naming.plural_overrides", "", "plural override for %q cannot be empty", singular)
		}
	}
	if strings.ContainsAny(cfg.TablePrefix, "` .") {
		result.addError("naming.table_prefix", "", "table prefix %q contains an invalid character", cfg.TablePrefix)
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.addError("observability.logging.level", "valid values are: debug, info, warn, error", "invalid log level %q", o.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.addError("observability.logging.format", "valid values are: json, text", "invalid log format %q", o.Logging.Format)
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.addError("observability.trace_sample_ratio", "", "sample ratio %v must be between 0.0 and 1.0", o.TraceSampleRatio)
	}
	if o.MetricsTextfile != "" && !o.MetricsEnabled {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "observability.metrics_textfile",
			Message: "metrics textfile is set but metrics are disabled",
			Hint:    "set observability.metrics_enabled=true",
		})
	}

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.addError(prefix+".protocol", "valid values are: grpc, http/protobuf", "invalid OTLP protocol %q", o.Protocol)
	}

	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		result.addError(prefix+".endpoint", "use host:port or a full URL", "invalid OTLP endpoint %q for http/protobuf", o.Endpoint)
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.addError(prefix+".compression", "valid values are: none, gzip", "invalid OTLP compression %q", o.Compression)
	}

	if o.RetryMaxAttempts < 0 {
		result.addError(prefix+".retry_max_attempts", "", "retry_max_attempts cannot be negative")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
