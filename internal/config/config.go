package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Chain    ChainConfig    `yaml:"chain"`
	Auth     AuthConfig     `yaml:"auth"`
	Accrual  AccrualConfig  `yaml:"accrual"`
	Events   EventsConfig   `yaml:"events"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int    `yaml:"port"`
	CORSOrigins   string `yaml:"cors_origins"`
	SessionCookie string `yaml:"session_cookie"`
}

// DatabaseConfig selects and configures the durable store
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres, mongo or memory
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	MongoURI string `yaml:"mongo_uri"`
	MongoDB  string `yaml:"mongo_db"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ChainConfig points the indexer at the collection contract
type ChainConfig struct {
	RPCURL           string `yaml:"rpc_url"`
	Contract         string `yaml:"contract"`
	IPFSGateway      string `yaml:"ipfs_gateway"`
	FetchConcurrency int    `yaml:"fetch_concurrency"`
	HTTPTimeoutSec   int    `yaml:"http_timeout_sec"`
	MetadataCache    int    `yaml:"metadata_cache"`
	MetadataCacheDir string `yaml:"metadata_cache_dir"`
}

type AuthConfig struct {
	NonceTTLSec   int `yaml:"nonce_ttl_sec"`
	SessionTTLSec int `yaml:"session_ttl_sec"`
}

type AccrualConfig struct {
	Schedule     string `yaml:"schedule"`
	RunOnStart   bool   `yaml:"run_on_start"`
	Workers      int    `yaml:"workers"`
	QueueSize    int    `yaml:"queue_size"`
	TaskTimeoutS int    `yaml:"task_timeout_sec"`
}

type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
}

// ArchiveConfig enables snapshot archiving. Both sinks are optional.
type ArchiveConfig struct {
	Dir         string `yaml:"dir"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
	S3Prefix    string `yaml:"s3_prefix"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          8000,
			CORSOrigins:   "*",
			SessionCookie: "sid",
		},
		Database: DatabaseConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			DBName:   "nftrarity",
			SSLMode:  "disable",
			MongoURI: "mongodb://localhost:27017",
			MongoDB:  "nftrarity",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Chain: ChainConfig{
			IPFSGateway:      "https://ipfs.io/ipfs/",
			FetchConcurrency: 5,
			HTTPTimeoutSec:   15,
			MetadataCache:    20000,
		},
		Auth: AuthConfig{
			NonceTTLSec:   300,
			SessionTTLSec: 86400,
		},
		Accrual: AccrualConfig{
			Schedule:     "0 0 * * *",
			RunOnStart:   true,
			Workers:      8,
			QueueSize:    1000,
			TaskTimeoutS: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// a .env file and finally environment variables
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

	// .env is optional; real environment variables take precedence over it
	_ = godotenv.Load()

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvAsInt("PORT", cfg.Server.Port)
	cfg.Server.CORSOrigins = getEnv("CORS_ORIGINS", cfg.Server.CORSOrigins)
	cfg.Server.SessionCookie = getEnv("SESSION_COOKIE", cfg.Server.SessionCookie)

	cfg.Database.Driver = getEnv("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvAsInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.DBName = getEnv("DB_NAME", cfg.Database.DBName)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)
	cfg.Database.MongoURI = getEnv("MONGO_URI", cfg.Database.MongoURI)
	cfg.Database.MongoDB = getEnv("MONGO_DB", cfg.Database.MongoDB)

	cfg.Redis.Host = getEnv("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = getEnvAsInt("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.Username = getEnv("REDIS_USERNAME", cfg.Redis.Username)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)

	cfg.Chain.RPCURL = getEnv("RPC_URL", cfg.Chain.RPCURL)
	cfg.Chain.Contract = getEnv("NFT_CONTRACT_ADDRESS", cfg.Chain.Contract)
	cfg.Chain.IPFSGateway = getEnv("IPFS_GATEWAY", cfg.Chain.IPFSGateway)
	cfg.Chain.FetchConcurrency = getEnvAsInt("FETCH_CONCURRENCY", cfg.Chain.FetchConcurrency)
	cfg.Chain.HTTPTimeoutSec = getEnvAsInt("FETCH_TIMEOUT_SEC", cfg.Chain.HTTPTimeoutSec)
	cfg.Chain.MetadataCache = getEnvAsInt("METADATA_CACHE_SIZE", cfg.Chain.MetadataCache)
	cfg.Chain.MetadataCacheDir = getEnv("METADATA_CACHE_DIR", cfg.Chain.MetadataCacheDir)

	cfg.Auth.NonceTTLSec = getEnvAsInt("NONCE_TTL_SEC", cfg.Auth.NonceTTLSec)
	cfg.Auth.SessionTTLSec = getEnvAsInt("SESSION_TTL_SEC", cfg.Auth.SessionTTLSec)

	cfg.Accrual.Schedule = getEnv("ACCRUAL_SCHEDULE", cfg.Accrual.Schedule)
	cfg.Accrual.RunOnStart = getEnvAsBool("ACCRUAL_RUN_ON_START", cfg.Accrual.RunOnStart)
	cfg.Accrual.Workers = getEnvAsInt("ACCRUAL_WORKERS", cfg.Accrual.Workers)

	cfg.Events.NATSURL = getEnv("NATS_URL", cfg.Events.NATSURL)

	cfg.Archive.Dir = getEnv("ARCHIVE_DIR", cfg.Archive.Dir)
	cfg.Archive.S3Bucket = getEnv("S3_BUCKET", cfg.Archive.S3Bucket)
	cfg.Archive.S3Region = getEnv("S3_REGION", cfg.Archive.S3Region)
	cfg.Archive.S3Endpoint = getEnv("S3_ENDPOINT", cfg.Archive.S3Endpoint)
	cfg.Archive.S3AccessKey = getEnv("S3_ACCESS_KEY", cfg.Archive.S3AccessKey)
	cfg.Archive.S3SecretKey = getEnv("S3_SECRET_KEY", cfg.Archive.S3SecretKey)
	cfg.Archive.S3Prefix = getEnv("S3_PREFIX", cfg.Archive.S3Prefix)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
}

// Validate rejects settings the services cannot start with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mongo", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Chain.FetchConcurrency < 1 {
		return fmt.Errorf("fetch concurrency must be positive, got %d", c.Chain.FetchConcurrency)
	}
	if c.Auth.NonceTTLSec <= 0 || c.Auth.SessionTTLSec <= 0 {
		return fmt.Errorf("auth TTLs must be positive")
	}
	if c.Accrual.Workers < 1 {
		return fmt.Errorf("accrual workers must be positive, got %d", c.Accrual.Workers)
	}
	return nil
}

// GetDSN returns the PostgreSQL DSN
func (c *Config) GetDSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c *Config) NonceTTL() time.Duration {
	return time.Duration(c.Auth.NonceTTLSec) * time.Second
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Auth.SessionTTLSec) * time.Second
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Chain.HTTPTimeoutSec) * time.Second
}

func (c *Config) AccrualTaskTimeout() time.Duration {
	return time.Duration(c.Accrual.TaskTimeoutS) * time.Second
}

// AllowedOrigins splits the comma separated CORS list
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.Server.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}
