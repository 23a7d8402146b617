package trace

import (
	"context"
	"errors"
	"testing"

	"github.com/amoylab/coordinator/internal/common/config"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), &config.TracingConfig{}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_HTTP_NoopUsage(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	// Use HTTP protocol to avoid opening a gRPC connection in tests.
	cfg := &config.TracingConfig{
		Enabled:     true,
		ServiceName: "coordinator-test",
		Protocol:    "http",
		Insecure:    true,
		SamplerRate: 2.5, // clamped to 1.0
		Environment: "dev",
		Headers:     map[string]string{"x-test": "1"},
	}

	shutdown, err := InitTracing(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	require.NoError(t, shutdown(context.Background()))
}

func TestBuilder_Start_WithAttrs_Fail_End(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sr),
		sdktrace.WithResource(resource.Empty()),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	scope := Tracer("trace-test").Start(context.Background(), "op")
	require.NotNil(t, scope)
	scope.WithAttrs(attribute.String("k", "v")).Fail(errors.New("boom"))
	scope.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status().Code)

	found := false
	for _, a := range spans[0].Attributes() {
		if a.Key == "k" && a.Value.AsString() == "v" {
			found = true
			break
		}
	}
	require.True(t, found, "expected attribute k=v to be set on span")
}

func TestSpanScope_NilSafe(t *testing.T) {
	var s *SpanScope
	require.Nil(t, s.WithAttrs(attribute.Int("n", 1)))
	s.Fail(errors.New("x"))
	s.End()
}
