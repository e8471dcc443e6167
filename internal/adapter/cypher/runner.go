package cypher

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Runner executes compiled statements. Write runs every statement in one
// transaction.
type Runner interface {
	Write(ctx context.Context, stmts []Statement) error
	Read(ctx context.Context, stmt Statement) ([]map[string]any, error)
	Close(ctx context.Context) error
}

// Config holds Neo4j connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// DriverRunner runs statements through the official Neo4j driver.
type DriverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

// Open connects to Neo4j and verifies connectivity.
func Open(ctx context.Context, cfg Config) (*DriverRunner, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j at %s: %w", cfg.URI, err)
	}
	return &DriverRunner{driver: driver, database: cfg.Database}, nil
}

func (r *DriverRunner) Write(ctx context.Context, stmts []Statement) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: r.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, st := range stmts {
			result, err := tx.Run(ctx, st.Cypher, st.Params)
			if err != nil {
				return nil, err
			}
			if _, err := result.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (r *DriverRunner) Read(ctx context.Context, stmt Statement) ([]map[string]any, error) {
	result, err := neo4j.ExecuteQuery(ctx, r.driver, stmt.Cypher, stmt.Params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(r.database),
		neo4j.ExecuteQueryWithReadersRouting(),
	)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, len(result.Records))
	for i, rec := range result.Records {
		rows[i] = rec.AsMap()
	}
	return rows, nil
}

func (r *DriverRunner) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}
