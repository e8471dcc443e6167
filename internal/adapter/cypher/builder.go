// Package cypher compiles partitioned mutations into parameterised Cypher
// and runs them against Neo4j.
package cypher

import (
	"fmt"
	"regexp"
	"strings"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// isValidIdentifier guards labels, relationship types and property keys,
// which Cypher cannot parameterise.
func isValidIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// Statement is one parameterised Cypher statement.
type Statement struct {
	Cypher string
	Params map[string]any
}

// builder collects parameters for one statement. Every value goes through a
// parameter; only validated identifiers are spliced into the text.
type builder struct {
	params  map[string]any
	counter int
}

func newBuilder() *builder {
	return &builder{params: map[string]any{}}
}

func (b *builder) param(v any) string {
	name := fmt.Sprintf("p%d", b.counter)
	b.counter++
	b.params[name] = v
	return "$" + name
}

func (b *builder) statement(format string, args ...any) Statement {
	return Statement{Cypher: fmt.Sprintf(format, args...), Params: b.params}
}

// labels renders ":A:B" for a thing and its ancestors.
func labels(names []string) (string, error) {
	var sb strings.Builder
	for _, n := range names {
		if !isValidIdentifier(n) {
			return "", fmt.Errorf("invalid label %q", n)
		}
		sb.WriteString(":")
		sb.WriteString(n)
	}
	return sb.String(), nil
}

func relType(name string) (string, error) {
	if !isValidIdentifier(name) {
		return "", fmt.Errorf("invalid relationship type %q", name)
	}
	return name, nil
}

// roleEdge orders the two roles of a role-to-role link so the same
// relationship is written and read in one direction whichever side created
// it. forward is true when roleA's player is the start node.
func roleEdge(roleA, roleB string) (from, to string, forward bool) {
	if roleA <= roleB {
		return roleA, roleB, true
	}
	return roleB, roleA, false
}
