package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment overrides: COMMENTFLOW_WORKER__CONCURRENCY -> worker.concurrency
const EnvPrefix = "COMMENTFLOW_"

// DefaultConfigFile is read when present
const DefaultConfigFile = "conf/config.yaml"

var (
	current  atomic.Pointer[Config]
	validate = validator.New()
)

// Config holds all application configuration
type Config struct {
	Env       string          `koanf:"env" validate:"oneof=development staging production test"`
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	RabbitMQ  RabbitMQConfig  `koanf:"rabbitmq"`
	Redis     RedisConfig     `koanf:"redis"`
	Kafka     KafkaConfig     `koanf:"kafka"`
	Vault     VaultConfig     `koanf:"vault"`
	Instagram InstagramConfig `koanf:"instagram"`
	Worker    WorkerConfig    `koanf:"worker"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
	Log       LogConfig       `koanf:"log"`
	Tracing   TracingConfig   `koanf:"tracing"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port             string  `koanf:"port" validate:"required,numeric"`
	WebhookRateLimit float64 `koanf:"webhook_rate_limit" validate:"gte=0"`
	WebhookBurst     int     `koanf:"webhook_burst" validate:"gte=0"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `koanf:"host" validate:"required"`
	Port     string `koanf:"port" validate:"required,numeric"`
	User     string `koanf:"user" validate:"required"`
	Password string `koanf:"password" validate:"required"`
	DBName   string `koanf:"name" validate:"required"`
	SSLMode  string `koanf:"sslmode" validate:"oneof=disable require verify-ca verify-full"`
}

// RabbitMQConfig holds RabbitMQ configuration
type RabbitMQConfig struct {
	Host       string `koanf:"host" validate:"required"`
	Port       string `koanf:"port" validate:"required,numeric"`
	User       string `koanf:"user" validate:"required"`
	Password   string `koanf:"password"`
	EventQueue string `koanf:"event_queue" validate:"required"`
	DeadLetter string `koanf:"dead_letter_queue" validate:"required"`
}

// RedisConfig holds the idempotency cache configuration
type RedisConfig struct {
	Addr           string        `koanf:"addr"`
	Password       string        `koanf:"password"`
	DB             int           `koanf:"db" validate:"gte=0"`
	IdempotencyTTL time.Duration `koanf:"idempotency_ttl"`
}

// KafkaConfig holds the dead-letter topic configuration
type KafkaConfig struct {
	Brokers         []string `koanf:"brokers"`
	DeadLetterTopic string   `koanf:"dead_letter_topic"`
}

// VaultConfig holds the credential store configuration
type VaultConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Mount      string        `koanf:"mount"`
	PathPrefix string        `koanf:"path_prefix"`
	CacheTTL   time.Duration `koanf:"cache_ttl"`
}

// InstagramConfig holds platform API and webhook configuration
type InstagramConfig struct {
	VerifyToken string        `koanf:"verify_token" validate:"required"`
	AppSecret   string        `koanf:"app_secret"`
	GraphURL    string        `koanf:"graph_url" validate:"required,url"`
	APIVersion  string        `koanf:"api_version" validate:"required"`
	Timeout     time.Duration `koanf:"timeout" validate:"gt=0"`
}

// WorkerConfig holds event worker configuration
type WorkerConfig struct {
	Concurrency int           `koanf:"concurrency" validate:"gte=1"`
	MaxAttempts int           `koanf:"max_attempts" validate:"gte=1"`
	BaseBackoff time.Duration `koanf:"base_backoff"`
	DLQBackend  string        `koanf:"dlq_backend" validate:"oneof=amqp kafka none"`
}

// DispatchConfig holds dispatch engine switches
type DispatchConfig struct {
	EnforceDMQuota bool `koanf:"enforce_dm_quota"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Dir string `koanf:"dir" validate:"required"`
	Tee bool   `koanf:"tee"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"service_name"`
}

// Defaults returns the configuration used when nothing overrides a key
func Defaults() Config {
	return Config{
		Env: "development",
		Server: ServerConfig{
			Port:             "8080",
			WebhookRateLimit: 50,
			WebhookBurst:     100,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    "5432",
			User:    "commentflow",
			DBName:  "commentflow_db",
			SSLMode: "disable",
		},
		RabbitMQ: RabbitMQConfig{
			Host:       "localhost",
			Port:       "5672",
			User:       "guest",
			Password:   "guest",
			EventQueue: "webhook_events",
			DeadLetter: "webhook_events.dlq",
		},
		Redis: RedisConfig{
			IdempotencyTTL: 24 * time.Hour,
		},
		Kafka: KafkaConfig{
			DeadLetterTopic: "webhook.events.dlq",
		},
		Vault: VaultConfig{
			Mount:      "secret",
			PathPrefix: "commentflow/ig-connections",
			CacheTTL:   5 * time.Minute,
		},
		Instagram: InstagramConfig{
			GraphURL:   "https://graph.instagram.com",
			APIVersion: "v24.0",
			Timeout:    30 * time.Second,
		},
		Worker: WorkerConfig{
			Concurrency: 4,
			MaxAttempts: 3,
			BaseBackoff: time.Second,
			DLQBackend:  "amqp",
		},
		Log: LogConfig{
			Dir: ".",
			Tee: true,
		},
		Tracing: TracingConfig{
			ServiceName: "commentflow",
		},
	}
}

// Load reads .env, the optional YAML file and prefixed env overrides, then validates
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	path := DefaultConfigFile
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		path = p
	}

	return LoadFrom(path)
}

// LoadFrom builds a Config from defaults, the YAML file at path (if it exists) and env overrides
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(s, EnvPrefix), "__", "."))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env overrides: %w", err)
	}

	cfg := Defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	current.Store(&cfg)
	return &cfg, nil
}

// Get returns the last loaded configuration
func Get() *Config {
	return current.Load()
}

// GetDatabaseDSN returns PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetRabbitMQURL returns RabbitMQ connection URL
func (c *Config) GetRabbitMQURL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s/",
		c.RabbitMQ.User,
		c.RabbitMQ.Password,
		net.JoinHostPort(c.RabbitMQ.Host, c.RabbitMQ.Port),
	)
}

// GetGraphBaseURL returns the versioned Graph API root
func (c *Config) GetGraphBaseURL() string {
	return strings.TrimRight(c.Instagram.GraphURL, "/") + "/" + c.Instagram.APIVersion
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
