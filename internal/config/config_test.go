package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://app:secret@db:5432/reward?sslmode=disable")
	t.Setenv("ADMIN_JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, 10*time.Minute, cfg.RewardPeriodDuration)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, "doa-tap-otp", cfg.SessionCookieName)
	assert.Equal(t, int64(8453), cfg.SIWEChainID)
	assert.False(t, cfg.AllowUnsignedWallet)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite://reward.db")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("ADMIN_JWT_SECRET", "test-secret")
	t.Setenv("REWARD_PERIOD_DURATION", "0")
	t.Setenv("TAP_API_TIMEOUT", "750ms")
	t.Setenv("ALLOW_UNSIGNED_WALLET", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.RewardPeriodDuration, "zero means open-ended")
	assert.Equal(t, 750*time.Millisecond, cfg.TapAPITimeout)
	assert.True(t, cfg.AllowUnsignedWallet)
}

func TestLoad_Required(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ADMIN_JWT_SECRET", "x")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("DATABASE_URL", "postgres://localhost/reward")
	t.Setenv("ADMIN_JWT_SECRET", "")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoad_ProductionGuards(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/reward")
	t.Setenv("APP_ENV", "production")
	t.Setenv("ADMIN_JWT_SECRET", "short")
	_, err := Load()
	assert.ErrorContains(t, err, "ADMIN_JWT_SECRET")

	t.Setenv("ADMIN_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("TAP_DEV_MODE", "true")
	_, err = Load()
	assert.ErrorContains(t, err, "TAP_DEV_MODE")

	t.Setenv("TAP_DEV_MODE", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}
