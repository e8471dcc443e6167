package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"thingmapper/internal/adapter"
	"thingmapper/internal/bql"
	"thingmapper/internal/logging"
	"thingmapper/internal/observability"
	"thingmapper/internal/schema"
)

const tracerName = "thingmapper/pipeline"

// Config holds the mutation settings of a Machine.
type Config struct {
	IgnoreNonexistingThings bool
	// PreQuery enables the pre-query stage for backends that need it.
	PreQuery          bool
	PreQueryMaxRounds int
	TargetResolution  bql.TargetResolution
	// StageTimeout bounds every single stage. Zero disables it.
	StageTimeout time.Duration
}

// Machine runs mutations against one schema and a set of opened backends.
// A Machine is safe for concurrent use; every Run owns its own Context.
type Machine struct {
	schema  *schema.Schema
	handles adapter.Handles
	cfg     Config
	metrics *observability.PipelineMetrics
	tracer  trace.Tracer
}

// Option configures a Machine.
type Option func(*Machine)

// WithMetrics records run and stage metrics on m.
func WithMetrics(m *observability.PipelineMetrics) Option {
	return func(mc *Machine) { mc.metrics = m }
}

// WithTracerProvider creates stage spans on tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(mc *Machine) { mc.tracer = tp.Tracer(tracerName) }
}

// New returns a Machine. handles are only used, never closed.
func New(s *schema.Schema, handles adapter.Handles, cfg Config, opts ...Option) *Machine {
	m := &Machine{
		schema:  s,
		handles: handles,
		cfg:     cfg,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run drives raw through every stage and returns the merged backend results.
// Either all results are returned or a single error describing the first
// failure; ctx is checked before every stage.
func (m *Machine) Run(ctx context.Context, raw any) ([]adapter.Result, error) {
	mutationID := uuid.NewString()
	logger := logging.FromContext(ctx).WithMutationID(mutationID)
	ctx = logging.WithLogger(logging.WithMutationIDContext(ctx, mutationID), logger)

	ctx, span := m.tracer.Start(ctx, "mutation", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	start := time.Now()
	if m.metrics != nil {
		m.metrics.IncrementActive(ctx)
		defer m.metrics.DecrementActive(ctx)
	}

	state, c := StateStringify, Context{Raw: raw}
	for !state.Terminal() {
		var ev Event
		if err := ctx.Err(); err != nil {
			ev = Failed(err)
		} else {
			ev = m.runStage(ctx, state, &c)
		}
		next, nc := Transition(state, ev, c)
		logger.Debug("pipeline transition",
			slog.String("from", state.String()),
			slog.String("to", next.String()),
		)
		state, c = next, nc
	}

	summary := observability.MutationSummary{
		MutationID: mutationID,
		Roots:      len(c.Nodes),
		PreQueried: c.PreQuery,
	}
	if c.Adapter != nil {
		summary.ConnectorID = c.Adapter.ConnectorID()
		summary.Provider = c.Adapter.Provider()
	}
	if c.Graph != nil {
		summary.Things, summary.Edges = len(c.Graph.Things), len(c.Graph.Edges)
	}
	span.SetAttributes(observability.MutationSpanAttributes(summary)...)
	fields := observability.MutationLogFields(ctx, summary)

	if m.metrics != nil {
		m.metrics.RecordMutation(ctx, time.Since(start), summary.Provider, bql.ErrorKind(c.Err))
	}

	if state == StateError {
		span.RecordError(c.Err)
		span.SetStatus(codes.Error, c.Err.Error())
		logger.Error("mutation failed",
			append(fields, slog.String("error_kind", bql.ErrorKind(c.Err)), slog.String("error", c.Err.Error()))...)
		return nil, c.Err
	}
	logger.Info("mutation applied", append(fields, slog.Int("results", len(c.Result)))...)
	return c.Result, nil
}

// runStage runs the actor of state inside its own span and timeout.
func (m *Machine) runStage(ctx context.Context, state State, c *Context) Event {
	ctx, span := m.tracer.Start(ctx, "pipeline."+state.String())
	defer span.End()

	if m.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.StageTimeout)
		defer cancel()
	}

	start := time.Now()
	err := m.stage(ctx, state, c)
	if m.metrics != nil {
		m.metrics.RecordStage(ctx, state.String(), time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Failed(err)
	}
	span.SetAttributes(attribute.Int("mutation.pass", c.Passes))
	return Done()
}

func (m *Machine) stage(ctx context.Context, state State, c *Context) error {
	switch state {
	case StateStringify:
		return m.stringify(c)
	case StateEnrich:
		return m.enrich(ctx, c)
	case StatePreQuery:
		return m.preQuery(ctx, c)
	case StatePreHookDependencies:
		return m.resolveDependencies(c)
	case StateParseBQL:
		return m.parse(ctx, c)
	case StateAdapter:
		return m.dispatch(ctx, c)
	}
	return fmt.Errorf("no stage runs in state %s", state)
}

// stringify picks the backend before any input is looked at, so connector
// misconfiguration is reported without I/O, then normalizes the input.
func (m *Machine) stringify(c *Context) error {
	a, err := m.handles.Active()
	if err != nil {
		return err
	}
	c.Adapter = a
	c.PreQuery = m.cfg.PreQuery && a.RequiresPreQuery()

	nodes, err := bql.Normalize(c.Raw)
	if err != nil {
		return err
	}
	c.Nodes = nodes
	return nil
}

func (m *Machine) enrich(ctx context.Context, c *Context) error {
	c.Passes++
	if c.Tree == nil {
		tree, err := bql.Enrich(ctx, m.schema, c.Nodes, bql.Options{TargetResolution: m.cfg.TargetResolution})
		if err != nil {
			return err
		}
		c.Tree = tree
		return nil
	}
	if c.Passes > m.maxPasses() {
		return &bql.ValidationError{Message: fmt.Sprintf("mutation still has unresolved dependencies after %d passes", c.Passes-1)}
	}
	tree, err := bql.Reenrich(ctx, c.Tree)
	if err != nil {
		return err
	}
	c.Tree = tree
	return nil
}

func (m *Machine) maxPasses() int {
	if m.cfg.PreQueryMaxRounds > 0 {
		return m.cfg.PreQueryMaxRounds + 1
	}
	return bql.DefaultPreQueryRounds + 1
}

func (m *Machine) preQuery(ctx context.Context, c *Context) error {
	f, ok := c.Adapter.(bql.Fetcher)
	if !ok {
		return &bql.ConfigError{Message: fmt.Sprintf("provider %q requires pre-query but cannot read current state", c.Adapter.Provider())}
	}
	tree, err := bql.PreQuery(ctx, m.schema, f, c.Tree, bql.PreQueryOptions{
		IgnoreNonexistingThings: m.cfg.IgnoreNonexistingThings,
		MaxRounds:               m.cfg.PreQueryMaxRounds,
	})
	if err != nil {
		if bql.ErrorKind(err) == "internal" {
			return wrapBackendError(c.Adapter, err)
		}
		return err
	}
	c.Tree = tree
	return nil
}

func (m *Machine) resolveDependencies(c *Context) error {
	tree, err := bql.ResolveDependencies(m.schema, c.Tree)
	if err != nil {
		return err
	}
	c.Tree = tree
	return nil
}

func (m *Machine) parse(ctx context.Context, c *Context) error {
	g, err := bql.Partition(c.Tree)
	if err != nil {
		return err
	}
	c.Graph = g
	if m.metrics != nil {
		m.metrics.RecordGraph(ctx, c.Adapter.Provider(), len(g.Things), len(g.Edges))
	}
	return nil
}

func (m *Machine) dispatch(ctx context.Context, c *Context) error {
	results, err := c.Adapter.Mutate(ctx, adapter.Request{
		Raw:     c.Raw,
		Tree:    c.Tree,
		Graph:   c.Graph,
		Schema:  m.schema,
		Options: adapter.Options{IgnoreNonexistingThings: m.cfg.IgnoreNonexistingThings},
	})
	if err != nil {
		return wrapBackendError(c.Adapter, err)
	}
	c.Result = results
	return nil
}

func wrapBackendError(a adapter.Adapter, err error) error {
	var be *bql.BackendError
	if errors.As(err, &be) {
		return err
	}
	return &bql.BackendError{Provider: a.Provider(), ConnectorID: a.ConnectorID(), Err: err}
}
