package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Detection DetectionConfig `yaml:"detection"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Registry  RegistryConfig  `yaml:"registry"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host           string    `yaml:"host"`
	Port           int       `yaml:"port"`
	AuthToken      string    `yaml:"auth_token"`
	AllowedOrigins []string  `yaml:"allowed_origins"`
	RateLimit      RateLimit `yaml:"rate_limit"`
}

// RateLimit bounds requests per client IP within a sliding window.
type RateLimit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// DetectionConfig overrides per-category debounce behaviour. Keys are event
// type names (e.g. "looking_away"). Unlisted categories keep the built-in
// table.
type DetectionConfig struct {
	Thresholds map[string]time.Duration `yaml:"thresholds"`
	Cooldowns  map[string]time.Duration `yaml:"cooldowns"`
}

type BroadcastConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

type RegistryConfig struct {
	MutationTimeout time.Duration `yaml:"mutation_timeout"`
	MaxBatchSize    int           `yaml:"max_batch_size"`
	DefaultPageSize int           `yaml:"default_page_size"`
}

type ArchiveConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			RateLimit: RateLimit{
				Requests: 100,
				Window:   10 * time.Minute,
			},
		},
		Broadcast: BroadcastConfig{
			BufferSize: 64,
		},
		Registry: RegistryConfig{
			MutationTimeout: 5 * time.Second,
			MaxBatchSize:    100,
			DefaultPageSize: 10,
		},
		Archive: ArchiveConfig{
			Path: "proctor.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path, layering it over the defaults.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
