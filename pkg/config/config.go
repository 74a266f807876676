// Package config loads and validates engine configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Engine, Metadata, Maintenance, Kafka, Redis, Watcher, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Engine      EngineConfig      `yaml:"engine"`
	Search      SearchConfig      `yaml:"search"`
	Metadata    MetadataConfig    `yaml:"metadata"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	Watcher     WatcherConfig     `yaml:"watcher"`
	Checkpoint  CheckpointConfig  `yaml:"checkpoint"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// EngineConfig controls tokenization and index sharding.
type EngineConfig struct {
	MinTermLength int `yaml:"minTermLength" validate:"gte=1,lte=64"`
	TermShards    int `yaml:"termShards" validate:"gte=1,lte=4096"`
}

// SearchConfig controls query limits and timeouts.
type SearchConfig struct {
	DefaultLimit  int           `yaml:"defaultLimit" validate:"gte=1"`
	MaxLimit      int           `yaml:"maxLimit" validate:"gte=1,gtefield=DefaultLimit"`
	MaxQueryBytes int           `yaml:"maxQueryBytes" validate:"gte=1"`
	Timeout       time.Duration `yaml:"timeout" validate:"gte=0"`
}

// MetadataConfig selects and configures the metadata store backend.
type MetadataConfig struct {
	Backend  string         `yaml:"backend" validate:"oneof=memory badger postgres"`
	Shards   int            `yaml:"shards" validate:"gte=1,lte=4096"`
	Badger   BadgerConfig   `yaml:"badger"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// BadgerConfig holds the embedded BadgerDB location.
type BadgerConfig struct {
	Dir      string `yaml:"dir"`
	InMemory bool   `yaml:"inMemory"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// MaintenanceConfig controls the coordinator's worker pool, retry policy and
// repair loop.
type MaintenanceConfig struct {
	Workers         int           `yaml:"workers" validate:"gte=1,lte=1024"`
	QueueSize       int           `yaml:"queueSize" validate:"gte=1"`
	RetryAttempts   int           `yaml:"retryAttempts" validate:"gte=1,lte=20"`
	RetryDelay      time.Duration `yaml:"retryDelay" validate:"gt=0"`
	RetryMaxDelay   time.Duration `yaml:"retryMaxDelay" validate:"gtefield=RetryDelay"`
	RepairInterval  time.Duration `yaml:"repairInterval" validate:"gt=0"`
	TombstoneTTL    time.Duration `yaml:"tombstoneTTL" validate:"gt=0"`
	EventsPerSecond float64       `yaml:"eventsPerSecond" validate:"gte=0"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers" validate:"required_if=Enabled true"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	FileEvents string `yaml:"fileEvents"`
}

// RedisConfig holds Redis connection and query-cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// WatcherConfig configures the local filesystem watcher source.
type WatcherConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Root           string        `yaml:"root" validate:"required_if=Enabled true"`
	RenameWindow   time.Duration `yaml:"renameWindow"`
	PublishToKafka bool          `yaml:"publishToKafka"`
	// ForgetDeletedAfter is how long the watcher keeps ordering state for
	// deleted files. It must outlive maintenance.tombstoneTTL.
	ForgetDeletedAfter time.Duration `yaml:"forgetDeletedAfter"`
}

// CheckpointConfig controls periodic metadata checkpoints.
type CheckpointConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Dir        string        `yaml:"dir" validate:"required_if=Enabled true"`
	Interval   time.Duration `yaml:"interval"`
	S3Bucket   string        `yaml:"s3Bucket"`
	S3Prefix   string        `yaml:"s3Prefix"`
	S3Region   string        `yaml:"s3Region"`
	S3Endpoint string        `yaml:"s3Endpoint" validate:"omitempty,url"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port" validate:"gte=0,lte=65535"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config suitable for a single-node local deployment.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			MinTermLength: 1,
			TermShards:    32,
		},
		Search: SearchConfig{
			DefaultLimit:  20,
			MaxLimit:      500,
			MaxQueryBytes: 1024,
			Timeout:       2 * time.Second,
		},
		Metadata: MetadataConfig{
			Backend: "memory",
			Shards:  32,
			Badger: BadgerConfig{
				Dir: "data/metadata",
			},
			Postgres: PostgresConfig{
				Host:            "localhost",
				Port:            5432,
				Database:        "fsearch",
				User:            "fsearch",
				Password:        "localdev",
				SSLMode:         "disable",
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Maintenance: MaintenanceConfig{
			Workers:        8,
			QueueSize:      1024,
			RetryAttempts:  4,
			RetryDelay:     50 * time.Millisecond,
			RetryMaxDelay:  2 * time.Second,
			RepairInterval: 10 * time.Second,
			TombstoneTTL:   10 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "fsearch-indexer",
			Topics: KafkaTopics{
				FileEvents: "fs-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 30 * time.Second,
		},
		Watcher: WatcherConfig{
			RenameWindow:       250 * time.Millisecond,
			ForgetDeletedAfter: time.Hour,
		},
		Checkpoint: CheckpointConfig{
			Dir:      "data/checkpoints",
			Interval: 5 * time.Minute,
			S3Region: "us-east-1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads FS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FS_METADATA_BACKEND"); v != "" {
		cfg.Metadata.Backend = v
	}
	if v := os.Getenv("FS_BADGER_DIR"); v != "" {
		cfg.Metadata.Badger.Dir = v
	}
	if v := os.Getenv("FS_POSTGRES_HOST"); v != "" {
		cfg.Metadata.Postgres.Host = v
	}
	if v := os.Getenv("FS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metadata.Postgres.Port = port
		}
	}
	if v := os.Getenv("FS_POSTGRES_DATABASE"); v != "" {
		cfg.Metadata.Postgres.Database = v
	}
	if v := os.Getenv("FS_POSTGRES_USER"); v != "" {
		cfg.Metadata.Postgres.User = v
	}
	if v := os.Getenv("FS_POSTGRES_PASSWORD"); v != "" {
		cfg.Metadata.Postgres.Password = v
	}
	if v := os.Getenv("FS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("FS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("FS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FS_WATCH_ROOT"); v != "" {
		cfg.Watcher.Root = v
		cfg.Watcher.Enabled = true
	}
	if v := os.Getenv("FS_CHECKPOINT_S3_BUCKET"); v != "" {
		cfg.Checkpoint.S3Bucket = v
	}
	if v := os.Getenv("FS_CHECKPOINT_S3_ENDPOINT"); v != "" {
		cfg.Checkpoint.S3Endpoint = v
	}
	if v := os.Getenv("FS_MAINTENANCE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Maintenance.Workers = n
		}
	}
	if v := os.Getenv("FS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("FS_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
