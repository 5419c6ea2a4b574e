package telemetry_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"registration-service/common/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tel, err := telemetry.Init(context.Background(), "registration-service", "dev", "test", telemetry.Options{}, logger)
	require.NoError(t, err)

	assert.Nil(t, tel.MeterProvider)
	require.NotNil(t, tel.Metrics)
	assert.NotNil(t, tel.Metrics.Database)
	assert.NoError(t, tel.Shutdown(context.Background(), logger))
}
