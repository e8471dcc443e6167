package bql

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SchemaError reports input that cannot be resolved against the schema:
// unknown things or fields, or no viable target type.
type SchemaError struct {
	Path    string
	Message string
}

func (e *SchemaError) Error() string {
	if e.Path == "" {
		return "schema resolution: " + e.Message
	}
	return fmt.Sprintf("schema resolution at %s: %s", e.Path, e.Message)
}

// ValidationError reports a malformed mutation block.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "invalid mutation: " + e.Message
	}
	return fmt.Sprintf("invalid mutation at %s: %s", e.Path, e.Message)
}

// ConfigError reports a pipeline configuration problem detected before any I/O.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "configuration: " + e.Message
}

// NotFoundError reports a referenced persisted thing that does not exist, or
// that is not linked where the mutation expects it to be.
type NotFoundError struct {
	Thing string
	ID    string
	// Via names the parent field when the thing exists but is not linked there.
	Via string
}

func (e *NotFoundError) Error() string {
	if e.Via != "" {
		return fmt.Sprintf("%s %q is not linked through %s", e.Thing, e.ID, e.Via)
	}
	return fmt.Sprintf("%s %q not found", e.Thing, e.ID)
}

// BackendError wraps a failure raised by a storage backend with the identity
// of the connector that produced it.
type BackendError struct {
	Provider    string
	ConnectorID string
	Err         error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("[thingmapper:%s:%s] %v", e.Provider, e.ConnectorID, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies an error for metrics and logs.
func ErrorKind(err error) string {
	var (
		se *SchemaError
		ve *ValidationError
		ce *ConfigError
		nf *NotFoundError
		be *BackendError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &se):
		return "schema"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ce):
		return "config"
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &be):
		return "backend"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}

func joinPath(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ".")
}
