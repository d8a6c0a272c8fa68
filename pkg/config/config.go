package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// DevEncryptionSecret is the JWT_ENCRYPTION_SECRET fallback for local runs.
// Production refuses to start with it.
const DevEncryptionSecret = "dev_encryption_secret"

// Supported token store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverRedis    = "redis"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	TokenStore    TokenStoreConfig
	UserDirectory UserDirectoryConfig
	Audit         AuditConfig
	CORS          CORSConfig
	Log           LogConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds token lifetimes and the secret protecting the signing key at rest.
type JWTConfig struct {
	AccessExpiration  time.Duration
	RefreshExpiration time.Duration
	EncryptionSecret  string
}

// TokenStoreConfig selects where token records and signing keys are persisted.
type TokenStoreConfig struct {
	Driver string
}

// UserDirectoryConfig points at the external user service.
type UserDirectoryConfig struct {
	BaseURL string
	Timeout time.Duration
}

// AuditConfig sizes the background audit log writer.
type AuditConfig struct {
	Workers    int
	BufferSize int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		AccessExpiration:  millis(v.GetInt64("ACCESS_TOKEN_TTL_MS")),
		RefreshExpiration: millis(v.GetInt64("REFRESH_TOKEN_TTL_MS")),
		EncryptionSecret:  v.GetString("JWT_ENCRYPTION_SECRET"),
	}

	cfg.TokenStore = TokenStoreConfig{
		Driver: strings.ToLower(strings.TrimSpace(v.GetString("TOKEN_STORE_DRIVER"))),
	}

	cfg.UserDirectory = UserDirectoryConfig{
		BaseURL: strings.TrimRight(v.GetString("USER_DIRECTORY_URL"), "/"),
		Timeout: parseDuration(v.GetString("USER_DIRECTORY_TIMEOUT"), 5*time.Second),
	}

	cfg.Audit = AuditConfig{
		Workers:    v.GetInt("AUDIT_WORKERS"),
		BufferSize: v.GetInt("AUDIT_BUFFER_SIZE"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the token service cannot run with.
func (c *Config) Validate() error {
	if c.JWT.AccessExpiration <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL_MS must be positive")
	}
	if c.JWT.RefreshExpiration <= 0 {
		return fmt.Errorf("REFRESH_TOKEN_TTL_MS must be positive")
	}
	switch c.TokenStore.Driver {
	case StoreDriverPostgres, StoreDriverRedis:
	default:
		return fmt.Errorf("unsupported TOKEN_STORE_DRIVER %q", c.TokenStore.Driver)
	}
	if c.UserDirectory.BaseURL == "" {
		return fmt.Errorf("USER_DIRECTORY_URL is required")
	}
	if c.Env == EnvProduction {
		switch c.JWT.EncryptionSecret {
		case "", DevEncryptionSecret:
			return fmt.Errorf("JWT_ENCRYPTION_SECRET must be set to a non-default value in production")
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "token_service")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ACCESS_TOKEN_TTL_MS", 900000)
	v.SetDefault("REFRESH_TOKEN_TTL_MS", 604800000)
	v.SetDefault("JWT_ENCRYPTION_SECRET", DevEncryptionSecret)

	v.SetDefault("TOKEN_STORE_DRIVER", StoreDriverPostgres)

	v.SetDefault("USER_DIRECTORY_URL", "http://localhost:8081")
	v.SetDefault("USER_DIRECTORY_TIMEOUT", "5s")

	v.SetDefault("AUDIT_WORKERS", 2)
	v.SetDefault("AUDIT_BUFFER_SIZE", 256)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func millis(raw int64) time.Duration {
	return time.Duration(raw) * time.Millisecond
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
