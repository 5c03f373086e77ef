package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the serving binary: where it
// listens, where the metadata database lives, where repository blobs are
// stored, and the ambient auth/tenancy/cache knobs every deployment needs
// regardless of which storage driver it picks.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Auth     AuthConfig     `yaml:"auth"`
	Tenancy  TenancyConfig  `yaml:"tenancy"`
	Cache    CacheConfig    `yaml:"cache"`
}

type ServerConfig struct {
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	TrustedProxies     []string `yaml:"trusted_proxies"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// DatabaseConfig selects the metastore backend: the user/repository/
// branch-metadata tables, not the object store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`    // file path for sqlite, connection string for postgres
}

// StorageConfig selects the blob-store backend the object and ref stores
// are built on.
type StorageConfig struct {
	Driver string          `yaml:"driver"` // "local" or "s3"
	Path   string          `yaml:"path"`   // local filesystem root, used by the "local" driver
	S3     S3StorageConfig `yaml:"s3"`
}

type S3StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	PathStyle bool   `yaml:"path_style"`
}

type AuthConfig struct {
	JWTSecret          string `yaml:"jwt_secret"`
	TokenDuration      string `yaml:"token_duration"` // e.g. "24h"
	EnablePasswordAuth bool   `yaml:"enable_password_auth"`
}

type TenancyConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Header          string `yaml:"header"`
	DefaultTenantID string `yaml:"default_tenant_id"`
}

// CacheConfig configures the optional out-of-process KV tier (Redis) that
// sits in front of the blob store. Leaving RedisAddr empty runs with only the
// in-process advertisement cache, which every configuration carries.
type CacheConfig struct {
	RedisAddr              string `yaml:"redis_addr"`
	AdvertisementTTLMillis int    `yaml:"advertisement_ttl_millis"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) ValidateServe() error {
	if c == nil {
		return fmt.Errorf("config is required")
	}
	if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("GITLAKE_JWT_SECRET must be set to a non-default value (example: GITLAKE_JWT_SECRET=dev-jwt-secret-change-this)")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("GITLAKE_JWT_SECRET must be at least 16 characters (current length: %d)", len(c.Auth.JWTSecret))
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path must be configured")
	}
	return nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "gitlake.db",
		},
		Storage: StorageConfig{
			Driver: "local",
			Path:   "data/repos",
		},
		Auth: AuthConfig{
			JWTSecret:     "change-me-in-production",
			TokenDuration: "24h",
		},
		Tenancy: TenancyConfig{
			Enabled: false,
			Header:  "X-Gitlake-Tenant-ID",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GITLAKE_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("GITLAKE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("GITLAKE_TRUSTED_PROXIES"); v != "" {
		cfg.Server.TrustedProxies = parseCSV(v)
	}
	if v := os.Getenv("GITLAKE_CORS_ALLOW_ORIGINS"); v != "" {
		cfg.Server.CORSAllowedOrigins = parseCSV(v)
	}
	if v := os.Getenv("GITLAKE_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("GITLAKE_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("GITLAKE_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("GITLAKE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("GITLAKE_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("GITLAKE_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("GITLAKE_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("GITLAKE_S3_ACCESS_KEY"); v != "" {
		cfg.Storage.S3.AccessKey = v
	}
	if v := os.Getenv("GITLAKE_S3_SECRET_KEY"); v != "" {
		cfg.Storage.S3.SecretKey = v
	}
	if v := os.Getenv("GITLAKE_S3_USE_SSL"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Storage.S3.UseSSL = enabled
		}
	}
	if v := os.Getenv("GITLAKE_S3_PATH_STYLE"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Storage.S3.PathStyle = enabled
		}
	}
	if v := os.Getenv("GITLAKE_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("GITLAKE_ENABLE_PASSWORD_AUTH"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.EnablePasswordAuth = enabled
		}
	}
	if v := os.Getenv("GITLAKE_ENABLE_TENANCY"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Tenancy.Enabled = enabled
		}
	}
	if v := os.Getenv("GITLAKE_TENANCY_HEADER"); v != "" {
		cfg.Tenancy.Header = v
	}
	if v := os.Getenv("GITLAKE_DEFAULT_TENANT_ID"); v != "" {
		cfg.Tenancy.DefaultTenantID = strings.TrimSpace(v)
	}
	if v := os.Getenv("GITLAKE_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("GITLAKE_ADVERTISEMENT_TTL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Cache.AdvertisementTTLMillis = n
		}
	}
}

func parseCSV(v string) []string {
	raw := strings.TrimSpace(v)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
