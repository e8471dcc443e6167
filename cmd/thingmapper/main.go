package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"thingmapper/internal/adapter"
	"thingmapper/internal/app"
	"thingmapper/internal/config"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

const usage = `Usage: thingmapper [flags] [mutation.json]

Applies one mutation to the configured storage connector and prints the merged
results as JSON. The mutation is read from stdin when no file is given.

Flags:
`

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		slog.Error("thingmapper error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := config.NewFlagSet("thingmapper")
	fs.Bool("version", false, "Print version and exit")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion, _ := fs.GetBool("version"); showVersion {
		fmt.Fprintf(stdout, "thingmapper %s (%s)\n", Version, Commit)
		return nil
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	validationResult := cfg.Validate()
	for _, warn := range validationResult.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if validationResult.HasErrors() {
		for _, err := range validationResult.Errors {
			slog.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return fmt.Errorf("configuration validation failed")
	}

	raw, err := readMutation(fs.Args(), stdin)
	if err != nil {
		return err
	}

	logger, loggerProvider, err := app.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return err
	}
	a.AttachLoggerProvider(loggerProvider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Init(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return err
	}

	results, mutateErr := a.Mutate(ctx, raw)
	shutdownErr := a.Shutdown(context.Background())
	if mutateErr != nil {
		return mutateErr
	}
	if err := writeResults(stdout, results); err != nil {
		return err
	}
	return shutdownErr
}

// readMutation decodes the mutation document from the single file argument,
// or from stdin. Numbers are kept as json.Number so ids and large integers
// survive unchanged.
func readMutation(args []string, stdin io.Reader) (any, error) {
	var r io.Reader
	switch len(args) {
	case 0:
		r = stdin
	case 1:
		f, err := os.Open(args[0])
		if err != nil {
			return nil, fmt.Errorf("failed to open mutation file: %w", err)
		}
		defer f.Close()
		r = f
	default:
		return nil, fmt.Errorf("expected at most one mutation file, got %d", len(args))
	}

	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("mutation input is empty")
		}
		return nil, fmt.Errorf("failed to decode mutation: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("mutation input holds more than one JSON document")
	}
	return raw, nil
}

func writeResults(w io.Writer, results []adapter.Result) error {
	if results == nil {
		results = []adapter.Result{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
