// Package config defines the top-level configuration for the settlement
// service and provides validation helpers.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PARI_* environment variables.
type Config struct {
	Postgres    PostgresConfig    `toml:"postgres"`
	NATS        NATSConfig        `toml:"nats"`
	Server      ServerConfig      `toml:"server"`
	Engine      EngineConfig      `toml:"engine"`
	Persistence PersistenceConfig `toml:"persistence"`
	LogLevel    string            `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Database string `toml:"database"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	SSLMode  string `toml:"ssl_mode"`
	MaxConns int    `toml:"max_conns"`
}

// DSN renders the lib/pq connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		p.Host, p.Port, p.Database, p.User, p.Password, p.SSLMode,
	)
}

// NATSConfig holds the JetStream connection parameters.
type NATSConfig struct {
	URL string `toml:"url"`
}

// ServerConfig holds the listen addresses.
type ServerConfig struct {
	GRPCAddr string `toml:"grpc_addr"`
	HTTPAddr string `toml:"http_addr"`
}

// EngineConfig holds the deterministic engine parameters.
type EngineConfig struct {
	// Deployer seeds admin, oracle and treasury on a fresh ledger
	Deployer        string `toml:"deployer"`
	OpChannelSize   int    `toml:"op_channel_size"`
	PersistChanSize int    `toml:"persist_channel_size"`
	ProjectChanSize int    `toml:"projection_channel_size"`
	MilestoneSize   int    `toml:"milestone_channel_size"`
	PublishChanSize int    `toml:"publish_channel_size"`
	LRUCapacity     int    `toml:"lru_capacity"`
}

// PersistenceConfig holds op-log writer batching parameters.
type PersistenceConfig struct {
	BatchSize    int      `toml:"batch_size"`
	FlushTimeout duration `toml:"flush_timeout"`
}

// duration wraps time.Duration for TOML decoding of strings like "50ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Defaults returns the built-in configuration a development environment runs
// with when nothing is overridden.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "pariledger",
			User:     "pariledger",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		Server: ServerConfig{
			GRPCAddr: ":9090",
			HTTPAddr: ":8080",
		},
		Engine: EngineConfig{
			Deployer:        "deployer",
			OpChannelSize:   4096,
			PersistChanSize: 8192,
			ProjectChanSize: 8192,
			MilestoneSize:   1024,
			PublishChanSize: 8192,
			LRUCapacity:     1_000_000,
		},
		Persistence: PersistenceConfig{
			BatchSize:    100,
			FlushTimeout: duration{50 * time.Millisecond},
		},
		LogLevel: "info",
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Postgres.Host == "" || c.Postgres.Database == "" {
		return fmt.Errorf("postgres host and database are required")
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("nats url is required")
	}
	if c.Engine.Deployer == "" {
		return fmt.Errorf("engine deployer is required")
	}
	if c.Engine.LRUCapacity <= 0 {
		return fmt.Errorf("engine lru_capacity must be positive")
	}
	if c.Persistence.BatchSize <= 0 {
		return fmt.Errorf("persistence batch_size must be positive")
	}
	if c.Persistence.FlushTimeout.Duration <= 0 {
		return fmt.Errorf("persistence flush_timeout must be positive")
	}
	for name, size := range map[string]int{
		"op_channel_size":         c.Engine.OpChannelSize,
		"persist_channel_size":    c.Engine.PersistChanSize,
		"projection_channel_size": c.Engine.ProjectChanSize,
		"milestone_channel_size":  c.Engine.MilestoneSize,
		"publish_channel_size":    c.Engine.PublishChanSize,
	} {
		if size <= 0 {
			return fmt.Errorf("engine %s must be positive", name)
		}
	}
	return nil
}
