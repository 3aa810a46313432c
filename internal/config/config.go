package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Storage backends understood by StorageBackend.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
	BackendGCS   = "gcs"
)

// Progress store backends understood by ProgressBackend.
const (
	ProgressMemory = "memory"
	ProgressRedis  = "redis"
)

// Config holds every setting the service reads from the environment.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR,default=:8080"`
	Debug      bool   `env:"DEBUG,default=false"`

	// Upload pipeline
	StagingDir         string `env:"STAGING_DIR"`
	StoragePrefix      string `env:"SCORM_PKG_STORAGE_DIR,default=scorms"`
	MaxChunkBytes      int64  `env:"MAX_CHUNK_BYTES,default=104857600"`
	ProgressBackend    string `env:"PROGRESS_BACKEND,default=memory"`
	ProgressTTLSeconds int    `env:"PROGRESS_TTL_SECONDS,default=3600"`
	RedisAddr          string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword      string `env:"REDIS_PASSWORD"`
	RedisDB            int    `env:"REDIS_DB,default=0"`

	// Content store
	StorageBackend string `env:"STORAGE_BACKEND,default=local"`
	LocalRoot      string `env:"LOCAL_STORAGE_ROOT,default=./data/content"`
	PublicBaseURL  string `env:"PUBLIC_BASE_URL,default=http://localhost:8080/static"`
	Bucket         string `env:"CONTENT_BUCKET"`
	RoleARN        string `env:"CONTENT_ACCESS_ROLE_ARN"`
	PresignMinutes int    `env:"PRESIGN_MINUTES,default=60"`

	// Learner state
	StatusDBPath   string `env:"STATUS_DB_PATH,default=./data/status.db"`
	DefaultWeight  int    `env:"DEFAULT_WEIGHT,default=1"`
	OIDCIssuer     string `env:"OIDC_ISSUER"`
	AllowAnonymous bool   `env:"ALLOW_ANONYMOUS,default=true"`
	// TrustGatewayTokens reads token claims without checking signatures.
	// Only for deployments where a gateway authorizer verified them first.
	TrustGatewayTokens bool `env:"TRUST_GATEWAY_TOKENS,default=false"`
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = os.TempDir()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the combination of settings.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendLocal:
		if c.LocalRoot == "" {
			return fmt.Errorf("LOCAL_STORAGE_ROOT must be set for the local backend")
		}
	case BackendS3, BackendGCS:
		if c.Bucket == "" {
			return fmt.Errorf("CONTENT_BUCKET must be set for the %s backend", c.StorageBackend)
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	switch c.ProgressBackend {
	case ProgressMemory, ProgressRedis:
	default:
		return fmt.Errorf("unknown PROGRESS_BACKEND %q", c.ProgressBackend)
	}

	if c.ProgressTTLSeconds <= 0 {
		return fmt.Errorf("PROGRESS_TTL_SECONDS must be positive")
	}
	if c.MaxChunkBytes <= 0 {
		return fmt.Errorf("MAX_CHUNK_BYTES must be positive")
	}
	if c.DefaultWeight < 0 {
		return fmt.Errorf("DEFAULT_WEIGHT cannot be negative")
	}
	return nil
}

// ProgressTTL is the expiry applied to upload progress entries.
func (c *Config) ProgressTTL() time.Duration {
	return time.Duration(c.ProgressTTLSeconds) * time.Second
}

// PresignExpiry is the lifetime of presigned content URLs.
func (c *Config) PresignExpiry() time.Duration {
	return time.Duration(c.PresignMinutes) * time.Minute
}
