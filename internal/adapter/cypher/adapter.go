package cypher

import (
	"context"

	"thingmapper/internal/adapter"
	"thingmapper/internal/bql"
	"thingmapper/internal/schema"
)

// Provider is the connector provider name of this backend.
const Provider = "neo4j"

// Adapter is the Neo4j backend. Link and unlink operations need the current
// graph state, so it requires the pre-query stage.
type Adapter struct {
	id     string
	schema *schema.Schema
	runner Runner
}

// New returns an adapter issuing statements through r.
func New(connectorID string, s *schema.Schema, r Runner) *Adapter {
	return &Adapter{id: connectorID, schema: s, runner: r}
}

// Provider reports "neo4j". The adapter needs the pre-query stage.
func (a *Adapter) Provider() string       { return Provider }
func (a *Adapter) ConnectorID() string    { return a.id }
func (a *Adapter) RequiresPreQuery() bool { return true }

// Mutate compiles the mutation and runs every statement in one write
// transaction.
func (a *Adapter) Mutate(ctx context.Context, req adapter.Request) ([]adapter.Result, error) {
	req, err := adapter.Settle(req)
	if err != nil {
		return nil, err
	}
	g := adapter.AssignIDs(req.Schema, req.Graph)
	stmts, err := Compile(req.Schema, g)
	if err != nil {
		return nil, err
	}
	if len(stmts) > 0 {
		if err := a.runner.Write(ctx, stmts); err != nil {
			return nil, err
		}
	}
	return adapter.MergeResults(g, adapter.TempIDs(req.Tree)), nil
}

// Fetch reads the current state of the probed things in one query.
func (a *Adapter) Fetch(ctx context.Context, probes []bql.Probe) ([]bql.Record, error) {
	stmt, err := FetchStatement(a.schema, probes)
	if err != nil {
		return nil, err
	}
	rows, err := a.runner.Read(ctx, stmt)
	if err != nil {
		return nil, err
	}
	return parseRecords(probes, rows)
}

// Close closes the driver.
func (a *Adapter) Close(ctx context.Context) error {
	return a.runner.Close(ctx)
}

var (
	_ adapter.Adapter = (*Adapter)(nil)
	_ bql.Fetcher     = (*Adapter)(nil)
)
