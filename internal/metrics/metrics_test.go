package metrics_test

import (
	"context"
	"testing"

	"registration-service/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRegistrationCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	m, err := metrics.New(meter)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordRegistrationCreated(ctx)
	m.RecordRegistrationCreated(ctx)
	m.RecordConflict(ctx, "precheck")
	m.RecordConflict(ctx, "constraint")
	m.RecordConflict(ctx, "constraint")
	m.RecordRejected(ctx, "conflict")
	m.RecordScreenshotStored(ctx, 2048)
	m.RecordEventPublishFailed(ctx)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := make(map[string]metricdata.Aggregation)
	for _, md := range rm.ScopeMetrics[0].Metrics {
		byName[md.Name] = md.Data
	}

	created, ok := byName["registration_service.registrations.created"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, created.DataPoints, 1)
	assert.Equal(t, int64(2), created.DataPoints[0].Value)

	conflicts, ok := byName["registration_service.registrations.conflicts"].(metricdata.Sum[int64])
	require.True(t, ok)
	perStage := make(map[string]int64)
	for _, dp := range conflicts.DataPoints {
		stage, _ := dp.Attributes.Value(attribute.Key("stage"))
		perStage[stage.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"precheck": 1, "constraint": 2}, perStage)

	sizes, ok := byName["registration_service.screenshots.size"].(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, sizes.DataPoints, 1)
	assert.Equal(t, int64(2048), sizes.DataPoints[0].Sum)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *metrics.Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordRegistrationCreated(ctx)
		m.RecordConflict(ctx, "precheck")
		m.RecordRejected(ctx, "storage")
		m.RecordScreenshotStored(ctx, 1)
		m.RecordEventPublishFailed(ctx)
		m.RecordRegistrationViewed(ctx, "list")
		metrics.NewMock().RecordRegistrationCreated(ctx)
	})
}
