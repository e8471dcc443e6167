package app

import (
	"context"
	"fmt"
	"log/slog"

	"thingmapper/internal/adapter"
	"thingmapper/internal/logging"
	"thingmapper/internal/pipeline"
	"thingmapper/internal/schema"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.WithLogger(ctx, a.logger)

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			_ = cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	meterProvider, pipelineMetrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
		if path := a.cfg.Observability.MetricsTextfile; path != "" {
			cleanup.push("metrics textfile", func(context.Context) error {
				return meterProvider.WriteTextfile(path)
			})
		}
	}

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	s, err := schema.LoadFile(a.cfg.SchemaFile)
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}
	a.logger.Info("schema loaded",
		slog.String("path", a.cfg.SchemaFile),
		slog.Int("things", len(s.Names())),
	)

	handles := adapter.Handles{}
	for _, cc := range a.cfg.ActiveConnectors() {
		a.logger.Info("opening connector", slog.String("connector", cc.ID), slog.String("provider", cc.Provider))
		ad, err := openConnector(ctx, a.cfg, cc, s, a.logger)
		if err != nil {
			return fmt.Errorf("failed to open connector %s: %w", cc, err)
		}
		handles[cc.ID] = ad
		cleanup.push("connector "+cc.ID, ad.Close)
	}

	pcfg, err := pipelineConfig(a.cfg.Mutation)
	if err != nil {
		return err
	}
	opts := []pipeline.Option{}
	if pipelineMetrics != nil {
		opts = append(opts, pipeline.WithMetrics(pipelineMetrics))
	}
	machine := pipeline.New(s, handles, pcfg, opts...)

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.pipelineMetrics = pipelineMetrics
	a.tracerProvider = tracerProvider
	a.schema = s
	a.handles = handles
	a.machine = machine
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
