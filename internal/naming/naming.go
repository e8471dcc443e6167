package naming

import (
	"log/slog"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// Namer converts schema names to storage names. It handles pluralization,
// overrides and table name collisions. A Namer is not safe for concurrent use;
// build the full layout once and share the result.
type Namer struct {
	config   Config
	logger   *slog.Logger
	resolver *CollisionResolver
}

// New creates a Namer with the given configuration
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{
		config:   cfg,
		logger:   logger,
		resolver: NewCollisionResolver(logger),
	}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// Pluralize converts a singular word to its plural form.
// Checks custom overrides first, then falls back to the inflection library.
func (n *Namer) Pluralize(word string) string {
	if override, ok := n.config.PluralOverrides[word]; ok {
		return override
	}
	return inflection.Plural(word)
}

// TableName returns the table of a thing: its snake_case name with the last
// word pluralized. Two things mapping to the same table get numeric suffixes
// in registration order.
// Example: "SpaceUser" -> "space_users"
func (n *Namer) TableName(thing string) string {
	name := n.config.TablePrefix + n.pluralizeLast(ToSnakeCase(thing))
	return n.resolver.RegisterTable(name, thing)
}

// ColumnName converts a field path to a column name.
// Example: "createdAt" -> "created_at"
func (n *Namer) ColumnName(path string) string {
	return ToSnakeCase(path)
}

// RoleColumns returns the id and thing columns holding a to-one role player.
// Example: "owner" -> ("owner_id", "owner_thing")
func (n *Namer) RoleColumns(role string) (string, string) {
	base := ToSnakeCase(role)
	return base + "_id", base + "_thing"
}

// JunctionTable returns the table holding the players of a to-many role.
// Example: ("UserTag", "users") -> "user_tag_users"
func (n *Namer) JunctionTable(relation, role string) string {
	name := n.config.TablePrefix + ToSnakeCase(relation) + "_" + ToSnakeCase(role)
	return n.resolver.RegisterTable(name, relation+"."+role)
}

func (n *Namer) pluralizeLast(snake string) string {
	i := strings.LastIndex(snake, "_")
	return snake[:i+1] + n.Pluralize(snake[i+1:])
}

// ToSnakeCase converts camelCase and PascalCase to snake_case. Runs of
// capitals are kept together.
// Example: "APIKey" -> "api_key", "userTags" -> "user_tags"
func ToSnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && runes[i-1] != '_' {
				prevLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if prevLower || (unicode.IsUpper(runes[i-1]) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
