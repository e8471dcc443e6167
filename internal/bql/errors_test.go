package bql

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKind(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&SchemaError{Message: "x"}, "schema"},
		{&ValidationError{Message: "x"}, "validation"},
		{&ConfigError{Message: "x"}, "config"},
		{fmt.Errorf("wrapped: %w", &NotFoundError{Thing: "User", ID: "u1"}), "not_found"},
		{&BackendError{Provider: "neo4j", ConnectorID: "main", Err: cause}, "backend"},
		{fmt.Errorf("stage: %w", context.DeadlineExceeded), "canceled"},
		{cause, "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err), "%v", tt.err)
	}
}

func TestBackendError(t *testing.T) {
	cause := errors.New("constraint violated")
	err := &BackendError{Provider: "tidb", ConnectorID: "primary", Err: cause}
	assert.Equal(t, "[thingmapper:tidb:primary] constraint violated", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "schema resolution at [0].spaces: no viable target type",
		(&SchemaError{Path: "[0].spaces", Message: "no viable target type"}).Error())
	assert.Equal(t, "invalid mutation: mutation is empty", (&ValidationError{Message: "mutation is empty"}).Error())
	assert.Equal(t, "configuration: no connector", (&ConfigError{Message: "no connector"}).Error())
}
