package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig holds process settings read from the environment
type AppConfig struct {
	Env           string `envconfig:"APP_ENV" default:"development"`
	Port          int    `envconfig:"PORT" default:"8080"`
	DatabaseURL   string `envconfig:"DATABASE_URL" required:"true"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"true"`

	TallyConfigPath string `envconfig:"TALLY_CONFIG" default:"tally.toml"`
	TallyURL        string `envconfig:"TALLY_URL"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	MinioEnabled   bool   `envconfig:"MINIO_ENABLED" default:"false"`
	MinioEndpoint  string `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	MinioAccessKey string `envconfig:"MINIO_ACCESS_KEY" default:"minioadmin"`
	MinioSecretKey string `envconfig:"MINIO_SECRET_KEY" default:"minioadmin"`
	MinioUseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`
	MinioBucket    string `envconfig:"MINIO_BUCKET" default:"tally-payloads"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	TriggerRateLimit int `envconfig:"SYNC_TRIGGER_RATE_LIMIT" default:"10"`
}

// LoadAppConfig loads optional .env files and then reads the environment.
// Missing .env files are not an error.
func LoadAppConfig(envFiles ...string) (*AppConfig, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return &cfg, nil
}

// IsProduction returns true when the service runs in production
func (c *AppConfig) IsProduction() bool {
	return c != nil && c.Env == "production"
}

// Apply pushes environment overrides into the TOML configuration
func (c *AppConfig) Apply(tally *TallyConfig) {
	if c.TallyURL != "" {
		tally.Tally.APIEndpoint = c.TallyURL
	}
	if tally.Queuing.RedisAddr == "" {
		tally.Queuing.RedisAddr = c.RedisAddr
		tally.Queuing.RedisDB = c.RedisDB
	}
}
