package app

import (
	"context"
	"fmt"
	"log/slog"

	"thingmapper/internal/adapter"
	"thingmapper/internal/adapter/cypher"
	"thingmapper/internal/adapter/docstore"
	"thingmapper/internal/adapter/sqlstore"
	"thingmapper/internal/bql"
	"thingmapper/internal/config"
	"thingmapper/internal/logging"
	"thingmapper/internal/naming"
	"thingmapper/internal/observability"
	"thingmapper/internal/pipeline"
	"thingmapper/internal/schema"
)

// InitLogger builds the process logger and, when log export is enabled, the
// OTLP logger provider it also writes to.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
		OTLPConfig:     exporterConfig(logsConfig),
	})
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func exporterConfig(c config.OTLPConfig) observability.OTLPExporterConfig {
	return observability.OTLPExporterConfig{
		Endpoint:          c.Endpoint,
		Protocol:          c.Protocol,
		Insecure:          c.Insecure,
		TLSCertFile:       c.TLSCertFile,
		TLSClientCertFile: c.TLSClientCertFile,
		TLSClientKeyFile:  c.TLSClientKeyFile,
		Headers:           c.Headers,
		Timeout:           c.Timeout,
		Compression:       c.Compression,
		RetryEnabled:      c.RetryEnabled,
		RetryMaxAttempts:  c.RetryMaxAttempts,
	}
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.PipelineMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil
	}

	logger.Debug("initializing OpenTelemetry metrics",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("textfile", cfg.Observability.MetricsTextfile),
	)

	meterProvider, err := observability.InitMeterProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
	})
	if err != nil {
		return nil, nil, err
	}

	pipelineMetrics, err := observability.InitPipelineMetrics()
	if err != nil {
		_ = meterProvider.Shutdown(context.Background(), logger.Logger)
		return nil, nil, err
	}
	return meterProvider, pipelineMetrics, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Bool("insecure", tracesConfig.Insecure),
	)

	return observability.InitTracerProvider(observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig:       exporterConfig(tracesConfig),
	})
}

// openConnector opens the backend named by cc.Provider.
func openConnector(ctx context.Context, cfg *config.Config, cc config.ConnectorConfig, s *schema.Schema, logger *logging.Logger) (adapter.Adapter, error) {
	switch cc.Provider {
	case cypher.Provider:
		runner, err := cypher.Open(ctx, cypher.Config{
			URI:      cc.URI,
			Username: cc.User,
			Password: cc.Password,
			Database: cc.Database,
		})
		if err != nil {
			return nil, err
		}
		return cypher.New(cc.ID, s, runner), nil
	case sqlstore.Provider:
		layout := sqlstore.NewLayout(s, naming.New(cfg.Naming, logger.Logger))
		store, err := sqlstore.Open(ctx, cc.ID, layout, sqlstore.Config{
			DSN:            cc.MySQLDSN(),
			TracingEnabled: cfg.Observability.TracingEnabled,
			MetricsEnabled: cfg.Observability.MetricsEnabled,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case docstore.Provider:
		store, err := docstore.Open(cc.ID, cc.Path, s)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, &bql.ConfigError{Message: fmt.Sprintf("unsupported provider %q", cc.Provider)}
}

func pipelineConfig(m config.MutationConfig) (pipeline.Config, error) {
	resolution, err := bql.ParseTargetResolution(m.TargetResolution)
	if err != nil {
		return pipeline.Config{}, &bql.ConfigError{Message: err.Error()}
	}
	return pipeline.Config{
		IgnoreNonexistingThings: m.IgnoreNonexistingThings,
		PreQuery:                m.PreQuery,
		PreQueryMaxRounds:       m.PreQueryMaxRounds,
		TargetResolution:        resolution,
		StageTimeout:            m.StageTimeout,
	}, nil
}
