package main

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the sweeper configuration, loadable from environment variables
// (CHECKOUT_SWEEPER_ prefix), flags, or YAML config files.
type Config struct {
	DatabaseURL string        `usage:"PostgreSQL connection URL (or DATABASE_URL)" flag:"database-url"`
	Interval    time.Duration `default:"0" usage:"Sweep every interval; zero sweeps once and exits"`
	Redis       RedisConfig
	Lock        LockConfig
}

// RedisConfig selects the Redis instance holding the sweep lock. With neither
// field set the sweeper runs unlocked, which is only safe for a single
// instance.
type RedisConfig struct {
	Addr string `usage:"Redis address (host:port)"`
	URL  string `usage:"Redis URL (redis://...), takes precedence over Addr"`
}

// LockConfig controls the distributed sweep lock.
type LockConfig struct {
	Key string        `default:"checkout:sweeper" usage:"Redis key of the sweep lock"`
	TTL time.Duration `default:"5m" usage:"Lock lifetime; bounds how long a crashed sweep blocks others"`
}

func loadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT_SWEEPER",
		Files:     []string{"sweeper.yaml", "/etc/checkout/sweeper.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set CHECKOUT_SWEEPER_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = os.Getenv("REDIS_URL")
	}
	return &cfg, nil
}
