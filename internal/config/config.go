package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Issuance  IssuanceConfig  `yaml:"issuance"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type SweeperConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// Interval converts the yaml seconds value.
func (c SweeperConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

type IssuanceConfig struct {
	MaxAttempts  int `yaml:"max_attempts"`
	RetryDelayMS int `yaml:"retry_delay_ms"`
}

// RetryDelay converts the yaml milliseconds value.
func (c IssuanceConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

// Load reads yaml file and applies env overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if cfg.Sweeper.IntervalSeconds <= 0 {
		cfg.Sweeper.IntervalSeconds = 60
	}
	if cfg.Issuance.MaxAttempts <= 0 {
		cfg.Issuance.MaxAttempts = 10
	}
	if cfg.Issuance.RetryDelayMS <= 0 {
		cfg.Issuance.RetryDelayMS = 50
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "card-service"
	}
	return &cfg, nil
}
