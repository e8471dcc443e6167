package naming

import (
	"fmt"
	"log/slog"
)

// CollisionResolver tracks registered table names and resolves collisions
// by applying numeric suffixes when duplicates are detected.
type CollisionResolver struct {
	seenTables map[string]string // table name -> source
	bySource   map[string]string // source -> resolved table name
	logger     *slog.Logger
}

// NewCollisionResolver creates a new collision resolver.
func NewCollisionResolver(logger *slog.Logger) *CollisionResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollisionResolver{
		seenTables: make(map[string]string),
		bySource:   make(map[string]string),
		logger:     logger,
	}
}

// RegisterTable registers a table name for source and returns the resolved
// name. Registering the same source again returns its earlier name.
func (c *CollisionResolver) RegisterTable(name, source string) string {
	if resolved, ok := c.bySource[source]; ok {
		return resolved
	}
	resolved := c.resolveCollision(name, c.seenTables, source)
	c.bySource[source] = resolved
	return resolved
}

// resolveCollision attempts to register a name in the given map.
// If the name already exists, finds the next available numeric suffix.
func (c *CollisionResolver) resolveCollision(name string, seen map[string]string, source string) string {
	if _, exists := seen[name]; !exists {
		seen[name] = source
		return name
	}

	existingSource := seen[name]
	c.logger.Warn("naming collision detected, applying suffix",
		slog.String("name", name),
		slog.String("existing_source", existingSource),
		slog.String("new_source", source),
	)

	for i := 2; ; i++ {
		suffixed := fmt.Sprintf("%s_%d", name, i)
		if _, exists := seen[suffixed]; !exists {
			seen[suffixed] = source
			return suffixed
		}
	}
}
