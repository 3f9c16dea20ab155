package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Env         string      `yaml:"env" env:"ENV" env-default:"local"`
	ServiceName string      `yaml:"service_name" env:"SERVICE_NAME" env-default:"booking-service"`
	Log         Log         `yaml:"log"`
	HTTP        HTTP        `yaml:"http"`
	Storage     Storage     `yaml:"storage"`
	Postgres    Postgres    `yaml:"postgres"`
	Redis       Redis       `yaml:"redis"`
	Kafka       Kafka       `yaml:"kafka"`
	Tracing     Tracing     `yaml:"tracing"`
	Reservation Reservation `yaml:"reservation"`
	Store       Store       `yaml:"store"`
	Seed        Seed        `yaml:"seed"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type HTTP struct {
	Addr            string        `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env-default:"5s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env-default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"10s"`
	ImagesDir       string        `yaml:"images_dir" env:"IMAGES_DIR" env-default:"./images"`
}

type Storage struct {
	Driver string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"memory"`
}

type Postgres struct {
	URL string `yaml:"url" env:"PG_URL"`
}

type Redis struct {
	Addr           string        `yaml:"addr" env:"REDIS_ADDR"`
	SearchCacheTTL time.Duration `yaml:"search_cache_ttl" env-default:"30s"`
	LeaseTTL       time.Duration `yaml:"lease_ttl" env-default:"30s"`
	LeaseWait      time.Duration `yaml:"lease_wait" env-default:"5s"`
}

type Kafka struct {
	Brokers       []string      `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic         string        `yaml:"topic" env:"KAFKA_TOPIC" env-default:"booking.orders"`
	RelayInterval time.Duration `yaml:"relay_interval" env-default:"500ms"`
	MaxRetries    int           `yaml:"max_retries" env-default:"5"`
}

type Tracing struct {
	Endpoint string `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

type Reservation struct {
	LockTimeout            time.Duration `yaml:"lock_timeout" env:"RESERVATION_LOCK_TIMEOUT" env-default:"2s"`
	CompensationMaxElapsed time.Duration `yaml:"compensation_max_elapsed" env-default:"30s"`
}

type Store struct {
	RetryMaxElapsed  time.Duration `yaml:"retry_max_elapsed" env-default:"2s"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout" env-default:"10s"`
	BreakerMinCalls  uint32        `yaml:"breaker_min_calls" env-default:"5"`
	BreakerFailRatio float64       `yaml:"breaker_fail_ratio" env-default:"0.6"`
}

type Seed struct {
	File string `yaml:"file" env:"SEED_FILE"`
}

// Load reads the YAML file at CONFIG_PATH (default ./config/local.yaml) and
// applies environment overrides. A .env file, if present, is loaded first.
// Without a config file the environment alone is used.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/local.yaml"
	}

	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Postgres.URL == "" {
			return errors.New("postgres.url is required for the postgres storage driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	return nil
}
