// Package naming derives relational storage names (tables, columns and
// junction tables) from schema thing and field names.
package naming

// Config holds naming customization options
type Config struct {
	// PluralOverrides maps a singular snake_case word to its table plural.
	// Example: {"person": "people", "status": "statuses"}
	PluralOverrides map[string]string `mapstructure:"plural_overrides"`

	// TablePrefix is prepended to every table name.
	TablePrefix string `mapstructure:"table_prefix"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PluralOverrides: make(map[string]string),
	}
}
