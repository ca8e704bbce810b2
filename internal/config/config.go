package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Admin         AdminConfig
	Store         StoreConfig
	Scylla        ScyllaConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	Storage       StorageConfig
}

type ServerConfig struct {
	Port           int
	TLSPort        int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	EnableTLS      bool
	AutoCert       bool
	Domain         string
	CertFile       string
	KeyFile        string
	AutoCertDir    string
	Email          string
	AllowedOrigins []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// AdminConfig controls the admin login and the admin_session cookie.
type AdminConfig struct {
	SecretKey         string
	PathPrefix        string
	SessionMaxAge     time.Duration
	VerifySignature   bool
	LoginMaxAttempts  int
	LoginWindow       time.Duration
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
}

type StoreConfig struct {
	Driver string // "scylla" or "memory"
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
	UseTLS   bool
	CAPath   string
}

type RedisConfig struct {
	Enabled  bool
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type ElasticsearchConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Index    string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
}

// StorageConfig describes the S3-compatible bucket holding app icons.
type StorageConfig struct {
	Enabled       bool
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
	DefaultFolder string
	MaxUploadSize int64
}

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:           getEnvInt("PORT", 8080),
			TLSPort:        getEnvInt("TLS_PORT", 8443),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			EnableTLS:      getEnvBool("ENABLE_TLS", false),
			AutoCert:       getEnvBool("AUTO_CERT", false),
			Domain:         getEnv("DOMAIN", "localhost"),
			CertFile:       getEnv("TLS_CERT_FILE", ""),
			KeyFile:        getEnv("TLS_KEY_FILE", ""),
			AutoCertDir:    getEnv("AUTO_CERT_DIR", "./certs"),
			Email:          getEnv("ACME_EMAIL", ""),
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Admin: AdminConfig{
			SecretKey:         getEnv("ADMIN_SECRET_KEY", ""),
			PathPrefix:        getEnv("ADMIN_PATH_PREFIX", "/admin"),
			SessionMaxAge:     getEnvDuration("ADMIN_SESSION_MAX_AGE", 24*time.Hour),
			VerifySignature:   getEnvBool("ADMIN_SESSION_VERIFY_SIGNATURE", false),
			LoginMaxAttempts:  getEnvInt("ADMIN_LOGIN_MAX_ATTEMPTS", 5),
			LoginWindow:       getEnvDuration("ADMIN_LOGIN_WINDOW", 15*time.Minute),
			Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 64*1024),
			Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 1),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
		},
		Store: StoreConfig{
			Driver: getEnv("STORE_DRIVER", "scylla"),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", []string{"127.0.0.1"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "portal"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
			UseTLS:   getEnvBool("SCYLLA_TLS", false),
			CAPath:   getEnv("SCYLLA_CA_FILE", ""),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_TOPIC", "app-link-events"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:  getEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:      getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: getEnv("ELASTICSEARCH_USERNAME", ""),
			Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    getEnv("ELASTICSEARCH_INDEX", "app_links"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "portal"),
		},
		Storage: StorageConfig{
			Enabled:       getEnvBool("STORAGE_ENABLED", false),
			Bucket:        getEnv("STORAGE_BUCKET", ""),
			Region:        getEnv("STORAGE_REGION", "ap-southeast-1"),
			Endpoint:      getEnv("STORAGE_ENDPOINT", ""),
			AccessKey:     getEnv("STORAGE_ACCESS_KEY", ""),
			SecretKey:     getEnv("STORAGE_SECRET_KEY", ""),
			PublicBaseURL: strings.TrimRight(getEnv("STORAGE_PUBLIC_BASE_URL", ""), "/"),
			DefaultFolder: getEnv("STORAGE_DEFAULT_FOLDER", "app-icons"),
			MaxUploadSize: int64(getEnvInt("STORAGE_MAX_UPLOAD_BYTES", 5<<20)),
		},
	}
}

// Validate reports configuration that would leave the portal unusable.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Admin.SecretKey) == "" {
		errs = append(errs, errors.New("ADMIN_SECRET_KEY is required"))
	}
	if !strings.HasPrefix(c.Admin.PathPrefix, "/") {
		errs = append(errs, fmt.Errorf("ADMIN_PATH_PREFIX must start with '/': %q", c.Admin.PathPrefix))
	}
	if c.Admin.SessionMaxAge <= 0 {
		errs = append(errs, errors.New("ADMIN_SESSION_MAX_AGE must be positive"))
	}
	switch c.Store.Driver {
	case "scylla", "memory":
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be scylla or memory, got %q", c.Store.Driver))
	}
	if c.Storage.Enabled && (c.Storage.Bucket == "" || c.Storage.PublicBaseURL == "") {
		errs = append(errs, errors.New("STORAGE_BUCKET and STORAGE_PUBLIC_BASE_URL are required when storage is enabled"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
