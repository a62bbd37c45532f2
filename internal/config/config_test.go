package config

import (
	"testing"
	"time"

	"dabubble/internal/guards"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, BackendMemory, cfg.Backend)
	require.Equal(t, 50, cfg.MessageLimit)
	require.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	require.Equal(t, uint16(9000), cfg.Server.Port)
	require.Equal(t, "dabubble", cfg.Postgres.DBName)

	p, err := cfg.Policy()
	require.NoError(t, err)
	require.Equal(t, guards.Strict, p)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BACKEND", "postgres")
	t.Setenv("PG_HOST", "db.internal")
	t.Setenv("GUARD_POLICY", "lax")
	t.Setenv("MESSAGE_LIMIT", "20")
	t.Setenv("PORT", "8081")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, BackendPostgres, cfg.Backend)
	require.Equal(t, "db.internal", cfg.Postgres.Host)
	require.Equal(t, 20, cfg.MessageLimit)
	require.Equal(t, uint16(8081), cfg.Server.Port)

	p, err := cfg.Policy()
	require.NoError(t, err)
	require.Equal(t, guards.Lax, p)
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("BACKEND", "sqlite")
	_, err := Load()
	require.ErrorIs(t, err, ErrUnknownBackend)

	t.Setenv("BACKEND", "memory")
	t.Setenv("GUARD_POLICY", "loose")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("GUARD_POLICY", "strict")
	t.Setenv("MESSAGE_LIMIT", "0")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("MESSAGE_LIMIT", "many")
	_, err = Load()
	require.Error(t, err)
}
