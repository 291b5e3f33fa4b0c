// Package config reads the console configuration from the environment. A
// .env file in the working directory is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type StoreBackend string

const (
	StoreDynamoDB StoreBackend = "dynamodb"
	StorePostgres StoreBackend = "postgres"
	// StoreMemory keeps everything in process; it is meant for local runs
	// seeded from PERMISSION_CATALOG_FILE.
	StoreMemory StoreBackend = "memory"
)

type Config struct {
	Port         string
	LogLevel     string
	StoreBackend StoreBackend
	TableName    string
	Region       string
	DatabaseURL  string

	AuthMode        string
	UserPoolID      string
	CognitoClientID string
	JWTSecret       string

	RedisURL     string
	RedisChannel string
	GateWait     time.Duration
	SessionTTL   time.Duration
	CatalogFile  string
	AutoMigrate  bool
}

// Load reads .env files (missing files are ignored) and then the process
// environment. Variables already set in the environment win.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	cfg := Config{
		Port:            get("PORT", "8080"),
		LogLevel:        get("LOG_LEVEL", "info"),
		StoreBackend:    StoreBackend(strings.ToLower(get("STORE_BACKEND", string(StoreDynamoDB)))),
		TableName:       get("TABLE_NAME", ""),
		Region:          get("AWS_REGION", ""),
		DatabaseURL:     get("DATABASE_URL", ""),
		AuthMode:        strings.ToLower(get("AUTH_MODE", "none")),
		UserPoolID:      get("COGNITO_USER_POOL_ID", ""),
		CognitoClientID: get("COGNITO_CLIENT_ID", ""),
		JWTSecret:       get("JWT_SECRET", ""),
		RedisURL:        get("REDIS_URL", ""),
		RedisChannel:    get("REDIS_CHANNEL", "console:auth-events"),
		CatalogFile:     get("PERMISSION_CATALOG_FILE", ""),
		AutoMigrate:     get("AUTO_MIGRATE", "false") == "true",
	}

	var err error
	if cfg.GateWait, err = duration(get("GATE_WAIT_TIMEOUT", "2s")); err != nil {
		return Config{}, fmt.Errorf("GATE_WAIT_TIMEOUT: %w", err)
	}
	if cfg.SessionTTL, err = duration(get("SESSION_IDLE_TTL", "30m")); err != nil {
		return Config{}, fmt.Errorf("SESSION_IDLE_TTL: %w", err)
	}
	return cfg, cfg.Validate()
}

func duration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("must not be negative")
	}
	return d, nil
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case StoreDynamoDB:
		if c.TableName == "" || c.Region == "" {
			return errors.New("TABLE_NAME and AWS_REGION are required for the dynamodb store")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.AuthMode {
	case "none":
	case "cognito":
		if c.UserPoolID == "" || c.CognitoClientID == "" || c.Region == "" {
			return errors.New("COGNITO_USER_POOL_ID, COGNITO_CLIENT_ID and AWS_REGION are required for cognito auth mode")
		}
	case "jwt":
		if len(c.JWTSecret) < 16 {
			return errors.New("JWT_SECRET of at least 16 bytes is required for jwt auth mode")
		}
	default:
		return fmt.Errorf("invalid AUTH_MODE %q", c.AuthMode)
	}
	return nil
}
