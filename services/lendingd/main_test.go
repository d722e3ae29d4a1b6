package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"moneymarket/core"
	"moneymarket/core/genesis"
	"moneymarket/services/lendingd/config"
	"moneymarket/storage"
)

func TestShippedGenesisBuildsNode(t *testing.T) {
	spec, err := genesis.Load("genesis.toml")
	require.NoError(t, err)
	node, err := core.NewNode(storage.NewMemDB(), spec, core.NodeOptions{})
	require.NoError(t, err)

	p := node.Protocol()
	require.Len(t, p.Markets(), 2)
	require.ElementsMatch(t, []string{"stable", "volatile"}, p.RateModels())
	eth, err := p.MarketBySymbol("mETH")
	require.NoError(t, err)
	cfg, ok := p.Comptroller().MarketConfig(eth.Address())
	require.True(t, ok)
	require.Equal(t, "50000000000000000000000", cfg.BorrowCap.Dec())
}

func TestTelemetryConfigFallsBackToEnvironment(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x-api-key=abc")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")

	got := telemetryConfig(config.TelemetryConfig{Metrics: true, Traces: true}, "dev")
	require.Equal(t, "collector:4318", got.Endpoint)
	require.Equal(t, map[string]string{"x-api-key": "abc"}, got.Headers)
	require.True(t, got.Insecure)
	require.True(t, got.Metrics)
	require.Equal(t, "dev", got.Environment)

	got = telemetryConfig(config.TelemetryConfig{Endpoint: "otlp:4318", Headers: "a=b"}, "")
	require.Equal(t, "otlp:4318", got.Endpoint)
	require.Equal(t, map[string]string{"a": "b"}, got.Headers)
	require.False(t, got.Metrics)
}

func TestProduceBlocksStopsOnCancel(t *testing.T) {
	spec, err := genesis.Load("genesis.toml")
	require.NoError(t, err)
	node, err := core.NewNode(storage.NewMemDB(), spec, core.NodeOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		produceBlocks(ctx, node, time.Millisecond, slog.Default())
	}()
	require.Eventually(t, func() bool { return node.Height() >= 2 }, time.Second, time.Millisecond)
	cancel()
	<-done
}
