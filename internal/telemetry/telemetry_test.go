package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tsumo/internal/telemetry"
)

func TestSetup_NoopWhenDisabled(t *testing.T) {
	shutdown, err := telemetry.Setup(context.Background(), telemetry.Config{
		Enabled:  false,
		Endpoint: "http://localhost:4318",
	})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	cfg := telemetry.DefaultConfig()
	cfg.Enabled = true

	shutdown, err := telemetry.Setup(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, shutdown(ctx), "noop shutdown ignores cancelled context")
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so no export happens.
	shutdown, err := telemetry.Setup(context.Background(), telemetry.Config{
		Enabled:  true,
		Endpoint: "http://192.0.2.1:4318",
	})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
