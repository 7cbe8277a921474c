package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("HOST", "0.0.0.0")
	t.Setenv("PORT", "8080")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/atp")
	t.Setenv("HOST", "0.0.0.0")
	t.Setenv("PORT", "8080")
	t.Setenv("DATABASE_MAX_CONNECTIONS", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, int32(10), cfg.DatabaseMaxConnections)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestLoadInvalidMaxConnections(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/atp")
	t.Setenv("HOST", "0.0.0.0")
	t.Setenv("PORT", "8080")
	t.Setenv("DATABASE_MAX_CONNECTIONS", "not-a-number")

	_, err := Load()
	require.Error(t, err)
}
