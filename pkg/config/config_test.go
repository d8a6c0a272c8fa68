package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessExpiration)
	assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshExpiration)
	assert.Equal(t, StoreDriverPostgres, cfg.TokenStore.Driver)
	assert.True(t, cfg.Database.AutoMigrate)
}

func TestLoadFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ACCESS_TOKEN_TTL_MS", "60000")
	t.Setenv("REFRESH_TOKEN_TTL_MS", "120000")
	t.Setenv("JWT_ENCRYPTION_SECRET", "super-secret")
	t.Setenv("TOKEN_STORE_DRIVER", "Redis")
	t.Setenv("USER_DIRECTORY_URL", "http://users.internal/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.JWT.AccessExpiration)
	assert.Equal(t, 2*time.Minute, cfg.JWT.RefreshExpiration)
	assert.Equal(t, "super-secret", cfg.JWT.EncryptionSecret)
	assert.Equal(t, StoreDriverRedis, cfg.TokenStore.Driver)
	assert.Equal(t, "http://users.internal", cfg.UserDirectory.BaseURL)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	base := Config{
		JWT:           JWTConfig{AccessExpiration: time.Minute, RefreshExpiration: time.Hour},
		TokenStore:    TokenStoreConfig{Driver: StoreDriverPostgres},
		UserDirectory: UserDirectoryConfig{BaseURL: "http://users"},
	}
	require.NoError(t, base.Validate())

	noTTL := base
	noTTL.JWT.AccessExpiration = 0
	assert.Error(t, noTTL.Validate())

	badDriver := base
	badDriver.TokenStore.Driver = "mongo"
	assert.Error(t, badDriver.Validate())

	noDirectory := base
	noDirectory.UserDirectory.BaseURL = ""
	assert.Error(t, noDirectory.Validate())
}

func TestValidateProductionSecret(t *testing.T) {
	cfg := Config{
		Env:           EnvProduction,
		JWT:           JWTConfig{AccessExpiration: time.Minute, RefreshExpiration: time.Hour},
		TokenStore:    TokenStoreConfig{Driver: StoreDriverPostgres},
		UserDirectory: UserDirectoryConfig{BaseURL: "http://users"},
	}

	cfg.JWT.EncryptionSecret = DevEncryptionSecret
	assert.Error(t, cfg.Validate())

	cfg.JWT.EncryptionSecret = ""
	assert.Error(t, cfg.Validate())

	cfg.JWT.EncryptionSecret = "rotated-production-secret"
	assert.NoError(t, cfg.Validate())

	cfg.Env = EnvDevelopment
	cfg.JWT.EncryptionSecret = DevEncryptionSecret
	assert.NoError(t, cfg.Validate())
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
