package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateDefaultThenLoad(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	created, err := CreateDefault(configPath)
	require.NoError(t, err)
	require.Equal(t, dir, created.RootPath)
	require.Equal(t, defaultObserveInterval, created.ObserveInterval)
	require.Equal(t, defaultBootstrapServer, created.BootstrapServer)
	require.NotEmpty(t, created.EndpointClientName)

	require.DirExists(t, created.ModelsPath())
	require.DirExists(t, created.ResourcesPath())

	loaded, err := Load(configPath)
	require.NoError(t, err)
	require.Equal(t, created, loaded)
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	_, err := CreateDefault(configPath)
	require.NoError(t, err)

	t.Setenv("LWM2MCLIENT_ENDPOINTCLIENTNAME", "overridden-endpoint")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.Equal(t, "overridden-endpoint", cfg.EndpointClientName)
}

func TestSaveRoundTrips(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	cfg := &Config{
		RootPath:           dir,
		ObserveInterval:    10,
		BootstrapServer:    "bootstrap.example.com:5683",
		EndpointClientName: "my-endpoint",
	}
	require.NoError(t, Save(configPath, cfg))

	_, err := os.Stat(configPath)
	require.NoError(t, err)

	loaded, err := Load(configPath)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}
