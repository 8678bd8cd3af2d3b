package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTelemetry_Disabled(t *testing.T) {
	shutdown, err := InitTelemetry(context.Background(), "terrain-test", false)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	// Без провайдера спаны no-op, но API работает
	_, span := Tracer().Start(context.Background(), "noop")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid())
}

func TestInitTelemetry_Enabled(t *testing.T) {
	// Экспортер подключается лениво, поэтому инициализация не требует коллектора
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://127.0.0.1:1")

	shutdown, err := InitTelemetry(context.Background(), "terrain-test", true)
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "generate")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	// Экспорт в недоступный коллектор может вернуть ошибку, но не должен зависать
	_ = shutdown(context.Background())
}
