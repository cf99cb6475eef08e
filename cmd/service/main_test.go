package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repository-reconciler/internal/config"
	"repository-reconciler/internal/registry"
)

func TestSetLogLevel(t *testing.T) {
	testCases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range testCases {
		v := new(slog.LevelVar)
		setLogLevel(in, v)
		assert.Equal(t, want, v.Level(), in)
	}
}

func TestRenderConnectors(t *testing.T) {
	var buf bytes.Buffer

	err := renderConnectors(&buf, []registry.Available{
		{ID: "github", Label: "GitHub", Description: "Hosted repositories.", Enabled: true},
		{ID: "yml_remote", Label: "Remote .yml file", Description: "Descriptor files.", Enabled: false},
	})

	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "yml_remote")
	assert.Contains(t, out, "Remote .yml file")
	assert.Contains(t, out, "true")
	assert.Contains(t, out, "false")

	buf.Reset()
	require.NoError(t, renderConnectors(&buf, nil))
	assert.Equal(t, "No connectors are defined.\n", buf.String())
}

func TestNewApp_MemoryStore(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	cfg := &config.Config{
		StoreDriver:       "memory",
		QueueDriver:       "memory",
		EnabledConnectors: []string{"yml_remote"},
		SecretsProvider:   "environment",
		Workers:           1,
		SyncSchedule:      "@every 1h",
	}

	a, err := newApp(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer a.close()

	require.Len(t, a.registry.Enabled(), 1)
	assert.Equal(t, "yml_remote", a.registry.Enabled()[0].ID())
	assert.Same(t, a.reconciler, a.forRun(false))
	assert.NotSame(t, a.reconciler, a.forRun(true))

	sy, err := a.newSyncer(a.reconciler)
	require.NoError(t, err)
	summary, err := sy.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "updated 0 of 0 accounts", summary.Message())
}

func TestNewApp_UnknownConnector(t *testing.T) {
	cfg := &config.Config{StoreDriver: "memory", QueueDriver: "memory", EnabledConnectors: []string{"svn"}}

	_, err := newApp(context.Background(), cfg, slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	assert.ErrorContains(t, err, `unknown connector "svn"`)
}
