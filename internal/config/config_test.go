package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("TAP_ALLOW_DEV_MODE", "")
	cfg := Load()

	require.False(t, cfg.Tap.AllowDevMode)
	require.Equal(t, time.Minute, cfg.Tap.RateLimitWindow)
	require.Equal(t, 15*time.Minute, cfg.Tap.ClaimTTL)
	require.Equal(t, "/puntos", cfg.Tap.SuccessPath)
	require.False(t, cfg.DotEnvLoaded)
	require.NoError(t, cfg.Validate())
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("APP_PUBLIC_URL=https://app.aion.test\n"), 0o600))
	t.Chdir(dir)

	// godotenv never overrides a variable that is already set; Setenv only
	// registers the restore.
	t.Setenv("APP_PUBLIC_URL", "")
	require.NoError(t, os.Unsetenv("APP_PUBLIC_URL"))

	cfg := Load()
	require.True(t, cfg.DotEnvLoaded)
	require.Equal(t, "https://app.aion.test", cfg.App.PublicURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TAP_ALLOW_DEV_MODE", "true")
	t.Setenv("TAP_RATE_LIMIT_WINDOW", "90s")
	t.Setenv("TAP_CLAIM_TTL", "not-a-duration")
	cfg := Load()

	require.True(t, cfg.Tap.AllowDevMode)
	require.Equal(t, 90*time.Second, cfg.Tap.RateLimitWindow)
	require.Equal(t, 15*time.Minute, cfg.Tap.ClaimTTL)
}

func TestValidateRefusesDevModeInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("TAP_ALLOW_DEV_MODE", "true")
	cfg := Load()
	require.Error(t, cfg.Validate())

	cfg.Tap.AllowDevModeInProduction = true
	require.NoError(t, cfg.Validate())
}

func TestValidateRequiresJWTSecretInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "default-secret")
	require.Error(t, Load().Validate())
}
