// Package sqlstore is the TiDB/MySQL backend. Things are rows, role players
// are columns or junction rows, and every mutation runs in one transaction.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/XSAM/otelsql"
	"github.com/go-sql-driver/mysql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"thingmapper/internal/adapter"
	"thingmapper/internal/bql"
	"thingmapper/internal/dbexec"
	"thingmapper/internal/logging"
)

// Provider is the connector provider name of this backend.
const Provider = "tidb"

// Config holds database connection settings.
type Config struct {
	DSN            string
	TracingEnabled bool
	MetricsEnabled bool
}

// Store is the relational backend. Links, unlinks and updates are compiled
// against the current rows, so it requires the pre-query stage.
type Store struct {
	id       string
	layout   *Layout
	executor *dbexec.StandardExecutor
	stats    interface{ Unregister() error }
}

// New returns a store running statements through executor.
func New(connectorID string, layout *Layout, executor *dbexec.StandardExecutor) *Store {
	return &Store{id: connectorID, layout: layout, executor: executor}
}

// Open connects to the database through the otelsql-instrumented mysql driver
// and pings it.
func Open(ctx context.Context, connectorID string, layout *Layout, cfg Config) (*Store, error) {
	if _, err := mysql.ParseDSN(cfg.DSN); err != nil {
		return nil, fmt.Errorf("connector %s: dsn is invalid: %w", connectorID, err)
	}

	opts := []otelsql.Option{
		otelsql.WithAttributes(semconv.DBSystemMySQL),
	}
	if cfg.TracingEnabled {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{
			DisableErrSkip: true,
		}))
	}
	db, err := otelsql.Open("mysql", cfg.DSN, opts...)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connector %s: failed to reach database: %w", connectorID, err)
	}

	s := New(connectorID, layout, dbexec.NewStandardExecutor(db))
	if cfg.MetricsEnabled {
		stats, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemMySQL))
		if err != nil {
			logging.FromContext(ctx).Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		} else {
			s.stats = stats
		}
	}
	return s, nil
}

func (s *Store) Provider() string       { return Provider }
func (s *Store) ConnectorID() string    { return s.id }
func (s *Store) RequiresPreQuery() bool { return true }

// Mutate plans the whole mutation and executes it in one transaction. Any
// failing statement rolls everything back.
func (s *Store) Mutate(ctx context.Context, req adapter.Request) ([]adapter.Result, error) {
	req, err := adapter.Settle(req)
	if err != nil {
		return nil, err
	}
	g := adapter.AssignIDs(req.Schema, req.Graph)
	queries, err := s.layout.Plan(g)
	if err != nil {
		return nil, err
	}
	if len(queries) > 0 {
		if err := s.exec(ctx, queries); err != nil {
			return nil, err
		}
	}
	return adapter.MergeResults(g, adapter.TempIDs(req.Tree)), nil
}

func (s *Store) exec(ctx context.Context, queries []SQLQuery) (err error) {
	tx, err := s.executor.BeginTx(ctx)
	if err != nil {
		return err
	}
	scope := dbexec.NewScope(tx)
	defer func() {
		if err != nil {
			scope.MarkError()
		}
		if finishErr := scope.Finalize(); finishErr != nil && err == nil {
			err = finishErr
		}
	}()

	logger := logging.FromContext(ctx)
	for _, q := range queries {
		logger.Debug("executing statement", slog.String("sql", q.SQL))
		if _, err := scope.Tx().ExecContext(ctx, q.SQL, q.Args...); err != nil {
			return normalizeError(err)
		}
	}
	return nil
}

func (s *Store) Fetch(ctx context.Context, probes []bql.Probe) ([]bql.Record, error) {
	queries, err := s.layout.fetchQueries(probes)
	if err != nil {
		return nil, err
	}

	records := make([]bql.Record, len(probes))
	index := make(map[string]int, len(probes))
	for i, p := range probes {
		records[i] = bql.Record{Thing: p.Thing, ID: p.ID}
		index[p.Thing+"\x00"+p.ID] = i
	}

	for _, q := range queries {
		if err := s.read(ctx, q, func(owner, id, thing string) {
			i, ok := index[q.thing+"\x00"+owner]
			if !ok {
				return
			}
			rec := &records[i]
			if q.field == "" {
				rec.Exists = true
				return
			}
			if rec.Linked == nil {
				rec.Linked = map[string][]bql.LinkedRef{}
			}
			rec.Linked[q.field] = append(rec.Linked[q.field], bql.LinkedRef{Thing: thing, ID: id})
		}); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// read runs one fetch query and calls fn per row. Existence reads only fill
// owner.
func (s *Store) read(ctx context.Context, q fetchQuery, fn func(owner, id, thing string)) error {
	rows, err := s.executor.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return normalizeError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var owner string
		if q.field == "" {
			if err := rows.Scan(&owner); err != nil {
				return err
			}
			fn(owner, "", "")
			continue
		}
		var id, thing sql.NullString
		if err := rows.Scan(&owner, &id, &thing); err != nil {
			return err
		}
		if id.Valid {
			fn(owner, id.String, thing.String)
		}
	}
	return rows.Err()
}

func (s *Store) Close(context.Context) error {
	if s.stats != nil {
		_ = s.stats.Unregister()
	}
	return s.executor.Close()
}

var (
	_ adapter.Adapter = (*Store)(nil)
	_ bql.Fetcher     = (*Store)(nil)
)
