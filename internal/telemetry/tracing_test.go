package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestInitTracerProviderInstallsGlobals(t *testing.T) {
	t.Cleanup(func() { otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator()) })

	tp, err := InitTracerProvider(context.Background(), Config{ServiceName: "newsfeeds-test", SampleRatio: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	assert.ElementsMatch(t, []string{"traceparent", "tracestate", "baggage"}, otel.GetTextMapPropagator().Fields())

	carrier := propagation.MapCarrier{}
	ctx, span := otel.Tracer(TracerName).Start(context.Background(), "enqueue")
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	span.End()
	require.NotEmpty(t, carrier.Get("traceparent"))
	assert.Contains(t, carrier.Get("traceparent"), span.SpanContext().TraceID().String())
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Config{ServiceName: "newsfeeds", SampleRatio: 0.25}.Validate())
	require.ErrorContains(t, Config{SampleRatio: 1}.Validate(), "telemetry.service_name")
	require.ErrorContains(t, Config{ServiceName: "x", SampleRatio: -0.1}.Validate(), "telemetry.sample_ratio")

	_, err := InitTracerProvider(context.Background(), Config{})
	require.Error(t, err)
}
