// Package app wires configuration, observability, the schema and the storage
// connectors into a mutation pipeline and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"sync"

	"thingmapper/internal/adapter"
	"thingmapper/internal/config"
	"thingmapper/internal/logging"
	"thingmapper/internal/observability"
	"thingmapper/internal/pipeline"
	"thingmapper/internal/schema"
)

// App owns runtime resources for one thingmapper process.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider

	meterProvider   *observability.MeterProvider
	pipelineMetrics *observability.PipelineMetrics
	tracerProvider  *observability.TracerProvider

	schema  *schema.Schema
	handles adapter.Handles
	machine *pipeline.Machine

	cleanup cleanupStack

	stateMu     sync.Mutex
	initialized bool

	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Mutate runs one mutation through the pipeline.
func (a *App) Mutate(ctx context.Context, raw any) ([]adapter.Result, error) {
	a.stateMu.Lock()
	machine := a.machine
	a.stateMu.Unlock()
	if machine == nil {
		return nil, fmt.Errorf("app is not initialized")
	}
	return machine.Run(logging.WithLogger(ctx, a.logger), raw)
}
