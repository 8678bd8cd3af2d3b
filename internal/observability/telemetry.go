package observability

import (
	"context"
	"time"

	"github.com/annel0/terrain/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// InstrumentationName имя, под которым сервис создаёт спаны.
const InstrumentationName = "github.com/annel0/terrain"

// Tracer возвращает трейсер сервиса из глобального TracerProvider.
func Tracer() oteltrace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// InitTelemetry настраивает OTLP экспортер и устанавливает глобальный TracerProvider.
// Возвращает функцию shutdown, которую нужно вызвать при завершении приложения.
// При enabled=false глобальный провайдер остаётся no-op.
func InitTelemetry(ctx context.Context, serviceName string, enabled bool) (func(context.Context) error, error) {
	if !enabled {
		logging.Debug("OpenTelemetry отключён")
		return func(context.Context) error { return nil }, nil
	}

	// OTLP HTTP экспортер (по умолчанию localhost:4318, OTEL_EXPORTER_OTLP_ENDPOINT)
	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	logging.Info("📡 OpenTelemetry инициализирован (OTLP → 4318, service=%s)", serviceName)

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}
	return shutdown, nil
}
