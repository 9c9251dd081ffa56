package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds the final configuration: built-in defaults, optionally merged
// with a TOML file at path (skipped when path is empty or the file is
// missing), then PARI_* environment overrides. The caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, err
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PARI_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Postgres.Host, "PARI_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PARI_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PARI_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PARI_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PARI_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PARI_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.MaxConns, "PARI_POSTGRES_MAX_CONNS")

	setStr(&cfg.NATS.URL, "PARI_NATS_URL")

	setStr(&cfg.Server.GRPCAddr, "PARI_GRPC_ADDR")
	setStr(&cfg.Server.HTTPAddr, "PARI_HTTP_ADDR")

	setStr(&cfg.Engine.Deployer, "PARI_DEPLOYER")
	setInt(&cfg.Engine.OpChannelSize, "PARI_OP_CHANNEL_SIZE")
	setInt(&cfg.Engine.PersistChanSize, "PARI_PERSIST_CHANNEL_SIZE")
	setInt(&cfg.Engine.ProjectChanSize, "PARI_PROJECTION_CHANNEL_SIZE")
	setInt(&cfg.Engine.MilestoneSize, "PARI_MILESTONE_CHANNEL_SIZE")
	setInt(&cfg.Engine.PublishChanSize, "PARI_PUBLISH_CHANNEL_SIZE")
	setInt(&cfg.Engine.LRUCapacity, "PARI_LRU_CAPACITY")

	setInt(&cfg.Persistence.BatchSize, "PARI_PERSIST_BATCH_SIZE")
	setDuration(&cfg.Persistence.FlushTimeout, "PARI_PERSIST_FLUSH_TIMEOUT")

	setStr(&cfg.LogLevel, "PARI_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		_ = dst.UnmarshalText([]byte(v))
	}
}
