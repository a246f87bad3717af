package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSpanWithoutTracer(t *testing.T) {
	DefaultTracer = nil
	_, span := StartSpan(context.Background(), "noop")
	assert.False(t, span.IsRecording())
	span.End()
}

func TestSetupWritesTraces(t *testing.T) {
	out := filepath.Join(t.TempDir(), "traces.json")
	shutdown, err := SetupOTelSDK(context.Background(), out)
	require.NoError(t, err)
	defer func() { DefaultTracer = nil }()

	_, span := StartSpan(context.Background(), "dispatch")
	span.AddEvent("dispatched")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(b), "dispatch")
}
