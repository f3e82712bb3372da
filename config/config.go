// Package config loads settings from a .env file, an optional YAML
// file and the environment, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Download DownloadConfig `yaml:"download"`
	Delays   DelaysConfig   `yaml:"delays"`
	Headways HeadwaysConfig `yaml:"headways"`
	Stops    StopsConfig    `yaml:"stops"`
	NATS     NATSConfig     `yaml:"nats"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Server   ServerConfig   `yaml:"server"`
}

type StorageConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=memory sqlite postgres"`
	SQLiteDir   string `yaml:"sqlite_dir" validate:"required_if=Backend sqlite"`
	PostgresURL string `yaml:"postgres_url" validate:"required_if=Backend postgres"`
}

type DownloadConfig struct {
	// Archives fetched over HTTP are cached here if set.
	CacheDir string        `yaml:"cache_dir"`
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"gte=0"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxSize  int           `yaml:"max_size" validate:"gte=0"`
}

type DelaysConfig struct {
	Samples     int    `yaml:"samples" validate:"gte=1"`
	Seed        int64  `yaml:"seed"`
	ServiceDate string `yaml:"service_date" validate:"datetime=2006-01-02"`
}

type HeadwaysConfig struct {
	MaxRows int `yaml:"max_rows" validate:"gte=0"`
}

type StopsConfig struct {
	TopN int `yaml:"top_n" validate:"gte=0"`
}

type NATSConfig struct {
	// Publishing is disabled when blank.
	URL     string  `yaml:"url" validate:"omitempty,url"`
	Subject string  `yaml:"subject" validate:"required"`
	Rate    float64 `yaml:"rate" validate:"gte=0"`
	Burst   int     `yaml:"burst" validate:"gte=0"`
}

type MetricsConfig struct {
	File string `yaml:"file"`
	Addr string `yaml:"addr"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:   "sqlite",
			SQLiteDir: ".",
		},
		Download: DownloadConfig{
			CacheTTL: time.Hour,
			Timeout:  5 * time.Minute,
		},
		Delays: DelaysConfig{
			Samples:     20000,
			Seed:        42,
			ServiceDate: "2025-11-01",
		},
		Headways: HeadwaysConfig{
			MaxRows: 200000,
		},
		Stops: StopsConfig{
			TopN: 5000,
		},
		NATS: NATSConfig{
			Subject: "gtfskpi.delays",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Loads configuration. Defaults are overlaid with the YAML file at
// path (skipped if blank), then with environment variables. A .env
// file in the working directory, if present, is loaded into the
// environment first.
func Load(path string) (*Config, error) {
	// Missing .env is fine
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	for name, dst := range map[string]*string{
		"GTFSKPI_STORAGE":      &c.Storage.Backend,
		"GTFSKPI_SQLITE_DIR":   &c.Storage.SQLiteDir,
		"DATABASE_URL":         &c.Storage.PostgresURL,
		"GTFSKPI_CACHE_DIR":    &c.Download.CacheDir,
		"GTFSKPI_METRICS_FILE": &c.Metrics.File,
		"GTFSKPI_METRICS_ADDR": &c.Metrics.Addr,
		"NATS_URL":             &c.NATS.URL,
		"GTFSKPI_NATS_SUBJECT": &c.NATS.Subject,
		"GTFSKPI_SERVE_ADDR":   &c.Server.Addr,
		"GTFSKPI_SERVICE_DATE": &c.Delays.ServiceDate,
	} {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("GTFSKPI_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid GTFSKPI_SEED: %q", v)
		}
		c.Delays.Seed = seed
	}

	if v := os.Getenv("GTFSKPI_SAMPLES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid GTFSKPI_SAMPLES: %q", v)
		}
		c.Delays.Samples = n
	}

	return nil
}
