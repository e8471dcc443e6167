// Package sqlutil holds identifier quoting shared by the SQL store.
package sqlutil

import "strings"

// QuoteIdentifier wraps a table or column name in backticks. Embedded
// backticks are doubled.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QuoteIdentifiers quotes each name in order.
func QuoteIdentifiers(names ...string) []string {
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = QuoteIdentifier(name)
	}
	return out
}
