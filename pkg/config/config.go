// Package config loads and validates application configuration from
// YAML files with environment-variable overrides. It provides typed
// structs for every subsystem (tree, oram, storage backend, ingestion,
// metrics).
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Tree    TreeConfig    `yaml:"tree"`
	Oram    OramConfig    `yaml:"oram"`
	Storage StorageConfig `yaml:"storage"`
	Crypto  CryptoConfig  `yaml:"crypto"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// TreeConfig holds the IR-tree parameters.
type TreeConfig struct {
	Dimensions  int     `yaml:"dimensions"`
	MinCapacity int     `yaml:"minCapacity"`
	MaxCapacity int     `yaml:"maxCapacity"`
	Alpha       float64 `yaml:"alpha"`
	TopK        int     `yaml:"topK"`
}

// OramConfig holds the Ring-ORAM parameters.
type OramConfig struct {
	Capacity    int    `yaml:"capacity"`
	RealSlots   int    `yaml:"realSlots"`
	DummySlots  int    `yaml:"dummySlots"`
	EvictRound  int    `yaml:"evictRound"`
	CacheLevels int    `yaml:"cacheLevels"`
	BlobSize    int    `yaml:"blobSize"`
	Seed        string `yaml:"seed"`
}

// StorageConfig selects and configures the untrusted bucket store.
type StorageConfig struct {
	// Backend is one of "memory", "redis", "postgres", "grpc".
	Backend  string         `yaml:"backend"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	HostAddr string         `yaml:"hostAddr"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslMode"`
}

// CryptoConfig controls master key material.
type CryptoConfig struct {
	// Passphrase optionally derives the master key; empty generates a
	// fresh random key at startup.
	Passphrase string `yaml:"passphrase"`
}

// KafkaConfig holds the ingestion topic settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"groupID"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LoggingConfig controls log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Tree: TreeConfig{
			Dimensions:  2,
			MinCapacity: 2,
			MaxCapacity: 8,
			Alpha:       0.5,
			TopK:        10,
		},
		Oram: OramConfig{
			Capacity:   1024,
			RealSlots:  4,
			DummySlots: 6,
			EvictRound: 4,
			BlobSize:   4096,
		},
		Storage: StorageConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "veiltree",
				User:     "veiltree",
				SSLMode:  "disable",
			},
			HostAddr: "localhost:9090",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "veiltree.documents",
			GroupID: "veiltree-ingest",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads YAML configuration from path, layered over defaults, and
// applies environment overrides. An empty path returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VEILTREE_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("VEILTREE_REDIS_ADDR"); v != "" {
		cfg.Storage.Redis.Addr = v
	}
	if v := os.Getenv("VEILTREE_POSTGRES_HOST"); v != "" {
		cfg.Storage.Postgres.Host = v
	}
	if v := os.Getenv("VEILTREE_HOST_ADDR"); v != "" {
		cfg.Storage.HostAddr = v
	}
	if v := os.Getenv("VEILTREE_ORAM_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Oram.Capacity = n
		}
	}
	if v := os.Getenv("VEILTREE_KEY_PASSPHRASE"); v != "" {
		cfg.Crypto.Passphrase = v
	}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	if c.Tree.Dimensions <= 0 {
		return fmt.Errorf("tree.dimensions must be positive, got %d", c.Tree.Dimensions)
	}
	if c.Tree.MinCapacity <= 0 || c.Tree.MaxCapacity < c.Tree.MinCapacity {
		return fmt.Errorf("invalid tree capacities min=%d max=%d", c.Tree.MinCapacity, c.Tree.MaxCapacity)
	}
	if c.Tree.Alpha < 0 || c.Tree.Alpha > 1 {
		return fmt.Errorf("tree.alpha must be in [0,1], got %v", c.Tree.Alpha)
	}
	if c.Oram.Capacity <= 0 {
		return fmt.Errorf("oram.capacity must be positive, got %d", c.Oram.Capacity)
	}
	if c.Oram.RealSlots <= 0 || c.Oram.DummySlots <= 0 {
		return fmt.Errorf("invalid oram slots Z=%d S=%d", c.Oram.RealSlots, c.Oram.DummySlots)
	}
	switch c.Storage.Backend {
	case "memory", "redis", "postgres", "grpc":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}
