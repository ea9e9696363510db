package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aide/internal/config"
)

func TestWriteStarterConfigRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aide.yaml")

	require.NoError(t, writeStarterConfig(path, false))
	err := writeStarterConfig(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")
	require.NoError(t, writeStarterConfig(path, true))
}

func TestStarterConfigLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aide.yaml")
	require.NoError(t, writeStarterConfig(path, false))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Provider.Name)
	assert.Equal(t, 50, cfg.Engine.MaxIterations)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 0.7, cfg.Verification.Threshold)
}
