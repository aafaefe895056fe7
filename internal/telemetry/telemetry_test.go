package telemetry

import (
	"context"
	"testing"

	"github.com/soyeahso/xiaoji/internal/config"
	"github.com/soyeahso/xiaoji/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.Defaults(), logging.New(nil, "silent"))
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupEnabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.Telemetry.OTLPEndpoint = "http://127.0.0.1:4318"

	shutdown, err := Setup(context.Background(), cfg, logging.New(nil, "silent"))
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "test")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "collector:4318", hostOf("collector:4318"))
	assert.Equal(t, "collector:4318", hostOf("http://collector:4318/"))
	assert.Equal(t, "otel.example.com", hostOf("https://otel.example.com"))
}
