package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Guardrail GuardrailConfig `yaml:"guardrail"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// GuardrailConfig holds the fatigue thresholds. Enforcement defaults to on;
// set disabled to run in observe-only mode.
type GuardrailConfig struct {
	DailyLimit              int  `yaml:"daily_limit"`
	WeeklyLimit             int  `yaml:"weekly_limit"`
	WarningThresholdPercent int  `yaml:"warning_threshold_percent"`
	Disabled                bool `yaml:"disabled"`
}

// TrackingConfig holds the open-tracking settings. Coarse geolocation is on
// by default; set disable_geo to skip location resolution entirely.
type TrackingConfig struct {
	BaseURL    string `yaml:"base_url"`
	Disabled   bool   `yaml:"disabled"`
	DisableGeo bool   `yaml:"disable_geo"`
}

// RedisConfig holds the optional shared window-counter store. An empty addr
// keeps the counters in process memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig holds the optional open-event journal target. An empty URL
// disables journaling.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// Load reads and parses the configuration file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Guardrail.DailyLimit == 0 {
		cfg.Guardrail.DailyLimit = 3
	}
	if cfg.Guardrail.WeeklyLimit == 0 {
		cfg.Guardrail.WeeklyLimit = 10
	}
	if cfg.Guardrail.WarningThresholdPercent == 0 {
		cfg.Guardrail.WarningThresholdPercent = 80
	}
	if cfg.Tracking.BaseURL == "" {
		cfg.Tracking.BaseURL = "http://localhost:8080"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides. A
// .env file is loaded first (if present) so settings can live in .env
// locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if host := os.Getenv("HOST"); host != "" {
		cfg.Server.Host = host
	}
	if baseURL := os.Getenv("TRACKING_BASE_URL"); baseURL != "" {
		cfg.Tracking.BaseURL = baseURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if limit := os.Getenv("GUARDRAIL_DAILY_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			cfg.Guardrail.DailyLimit = n
		}
	}
	if limit := os.Getenv("GUARDRAIL_WEEKLY_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			cfg.Guardrail.WeeklyLimit = n
		}
	}

	return cfg, nil
}
