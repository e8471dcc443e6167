package config

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

const (
	envPrefix = "THINGMAPPER"
	// configKeyAnnotation marks flags that map onto configuration keys.
	configKeyAnnotation = "thingmapper.config_key"
)

// NewFlagSet returns a flag set holding every configuration flag plus
// --config. Callers may add their own flags before parsing it.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	defineFlags(fs)
	return fs
}

// Load loads configuration from multiple sources with the following precedence:
// 1. Explicit overrides (v.Set) – password files and the interactive prompt
// 2. Command line flags
// 3. Environment variables
// 4. Config file
// 5. Default values
//
// fs must come from NewFlagSet and be parsed already.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	cfgPath, _ := fs.GetString("config")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("thingmapper")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/thingmapper/")
		v.AddConfigPath("$HOME/.thingmapper")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Env vars: THINGMAPPER_MUTATION_STAGE_TIMEOUT
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindChangedFlagsToViper(fs, v)

	if v.GetString("connector.password") == "" && v.GetString("connector.password_file") != "" {
		pwd, err := readPasswordFile(v.GetString("connector.password_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read connector password file: %w", err)
		}
		v.Set("connector.password", pwd)
	}
	if v.GetString("connector.password") == "" && v.GetBool("connector.password_prompt") {
		pwd, err := promptPassword()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("connector.password", pwd)
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}
	for i := range cfg.Connectors {
		c := &cfg.Connectors[i]
		if c.Password == "" && c.PasswordFile != "" {
			if c.Password, err = readPasswordFile(c.PasswordFile); err != nil {
				return nil, fmt.Errorf("failed to read password file of connector %q: %w", c.ID, err)
			}
		}
	}
	return cfg, nil
}

// unmarshal decodes strictly: unknown keys are errors.
func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToStringSliceHookFunc(","),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// bindChangedFlagsToViper copies only explicitly-set configuration flags into
// Viper, preserving precedence: flags > env > file > defaults.
func bindChangedFlagsToViper(fs *pflag.FlagSet, v *viper.Viper) {
	fs.Visit(func(f *pflag.Flag) {
		if _, ok := f.Annotations[configKeyAnnotation]; !ok {
			return
		}

		switch f.Value.Type() {
		case "string":
			val, _ := fs.GetString(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := fs.GetInt(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := fs.GetBool(f.Name)
			v.Set(f.Name, val)
		case "float64":
			val, _ := fs.GetFloat64(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := fs.GetDuration(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

// defineFlags defines all configuration flags using canonical snake_case keys.
func defineFlags(fs *pflag.FlagSet) {
	fs.String("schema_file", "", "Path to the enriched schema YAML document")

	// Single connector flags (appended to connectors from the config file)
	fs.String("connector.id", "", "Connector id (defaults to the provider name)")
	fs.String("connector.provider", "", "Connector provider (neo4j, tidb, bolt)")
	fs.String("connector.dsn", "", "Complete MySQL DSN (user:pass@tcp(host:port)/db)")
	fs.String("connector.host", "", "Database host")
	fs.Int("connector.port", 0, "Database port")
	fs.String("connector.uri", "", "Neo4j URI (neo4j://host:7687)")
	fs.String("connector.user", "", "Database user")
	fs.String("connector.password", "", "Database password")
	fs.String("connector.password_file", "", "Path to file containing the database password (use @- for stdin)")
	fs.Bool("connector.password_prompt", false, "Prompt for the database password securely")
	fs.String("connector.database", "", "Database name")
	fs.String("connector.path", "", "Bolt document store file")

	// Mutation flags
	fs.Bool("mutation.ignore_nonexisting_things", false, "Drop operations on missing things instead of failing")
	fs.Bool("mutation.pre_query", false, "Read current state before compiling mutations (providers that need it)")
	fs.Int("mutation.pre_query_max_rounds", 0, "Maximum pre-query rounds per mutation")
	fs.String("mutation.target_resolution", "", "Tie-break for ambiguous nested blocks: strict fails, first takes the first candidate in schema order (default strict)")
	fs.Duration("mutation.stage_timeout", 0, "Timeout for a single pipeline stage (0 = none)")

	// Naming flags
	fs.String("naming.table_prefix", "", "Prefix for SQL table names")

	// Observability flags
	fs.String("observability.service_name", "", "Service name for observability")
	fs.String("observability.service_version", "", "Service version for observability")
	fs.String("observability.environment", "", "Environment name (dev, staging, prod)")
	fs.Bool("observability.metrics_enabled", false, "Enable metrics collection")
	fs.String("observability.metrics_textfile", "", "Write Prometheus metrics to this file after each run")
	fs.Bool("observability.tracing_enabled", false, "Enable distributed tracing")
	fs.Float64("observability.trace_sample_ratio", 0, "Trace sampling ratio from 0.0 to 1.0")

	// Logging flags (under observability)
	fs.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
	fs.String("observability.logging.format", "", "Log format (json, text)")
	fs.Bool("observability.logging.exports_enabled", false, "Enable OTLP log export")

	// Global OTLP flags
	fs.String("observability.otlp.endpoint", "", "OTLP endpoint for all signals (e.g., localhost:4317)")
	fs.String("observability.otlp.protocol", "", "OTLP protocol for all signals (grpc, http/protobuf)")
	fs.Bool("observability.otlp.insecure", false, "Use insecure connection (no TLS)")
	fs.String("observability.otlp.tls_cert_file", "", "Path to TLS certificate file for server verification")
	fs.String("observability.otlp.tls_client_cert_file", "", "Path to client certificate file for mTLS")
	fs.String("observability.otlp.tls_client_key_file", "", "Path to client key file for mTLS")
	fs.Duration("observability.otlp.timeout", 0, "OTLP export timeout")
	fs.String("observability.otlp.compression", "", "OTLP compression (none, gzip)")
	fs.Bool("observability.otlp.retry_enabled", false, "Enable retry on transient errors")
	fs.Int("observability.otlp.retry_max_attempts", 0, "Maximum retry attempts")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = fs.SetAnnotation(f.Name, configKeyAnnotation, []string{f.Name})
	})

	fs.StringP("config", "c", "", "Config file path")
}

// setDefaults sets default values (lowest precedence). Every key needs a
// default so env vars can reach it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("schema_file", "")

	v.SetDefault("connector.id", "")
	v.SetDefault("connector.provider", "")
	v.SetDefault("connector.dsn", "")
	v.SetDefault("connector.host", "localhost")
	v.SetDefault("connector.port", 4000)
	v.SetDefault("connector.uri", "")
	v.SetDefault("connector.user", "")
	v.SetDefault("connector.password", "")
	v.SetDefault("connector.password_file", "")
	v.SetDefault("connector.password_prompt", false)
	v.SetDefault("connector.database", "")
	v.SetDefault("connector.path", "")

	v.SetDefault("mutation.ignore_nonexisting_things", false)
	v.SetDefault("mutation.pre_query", true)
	v.SetDefault("mutation.pre_query_max_rounds", 4)
	v.SetDefault("mutation.target_resolution", "strict")
	v.SetDefault("mutation.stage_timeout", 30*time.Second)

	v.SetDefault("naming.plural_overrides", map[string]string{})
	v.SetDefault("naming.table_prefix", "")

	v.SetDefault("observability.service_name", "thingmapper")
	v.SetDefault("observability.service_version", "")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.metrics_enabled", false)
	v.SetDefault("observability.metrics_textfile", "")
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)

	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "text")
	v.SetDefault("observability.logging.exports_enabled", false)

	v.SetDefault("observability.otlp.endpoint", "localhost:4317")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.tls_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_key_file", "")
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
	v.SetDefault("observability.otlp.compression", "gzip")
	v.SetDefault("observability.otlp.retry_enabled", true)
	v.SetDefault("observability.otlp.retry_max_attempts", 3)
}

// promptPassword prompts on stderr for a password without echoing it.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Enter database password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

func readPasswordFile(path string) (string, error) {
	var data []byte
	var err error

	if path == "@-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}

		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}

		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}
