package tracer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Disabled(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	assert.False(t, Enabled())

	shutdown, err := Init(context.Background(), "refinery")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_Enabled(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "127.0.0.1:1")

	shutdown, err := Init(context.Background(), "refinery-test")
	require.NoError(t, err)
	// Nothing was exported, so shutdown has nothing to flush.
	assert.NoError(t, shutdown(context.Background()))
}
