package models

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	ServerAddr  string `yaml:"server_addr"`
	DatabaseURL string `yaml:"database_url"`
	KafkaBroker string `yaml:"kafka_broker"`
	KafkaTopic  string `yaml:"kafka_topic"`
	StoragePath string `yaml:"storage_path"`

	TesseractLang string `yaml:"tesseract_lang"`

	JWTSecret       string `yaml:"jwt_secret"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`

	// Task execution limits, seconds. The soft limit only produces a
	// warning; the hard limit cancels the OCR call.
	TaskTimeLimit     int `yaml:"task_time_limit"`
	TaskSoftTimeLimit int `yaml:"task_soft_time_limit"`

	// Interval for the sweep that fails job records stuck in processing.
	StaleSweepMinutes int `yaml:"stale_sweep_minutes"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.TesseractLang == "" {
		c.TesseractLang = "rus+eng"
	}
	if c.TokenTTLMinutes <= 0 {
		c.TokenTTLMinutes = 30
	}
	if c.TaskTimeLimit <= 0 {
		c.TaskTimeLimit = 60
	}
	if c.TaskSoftTimeLimit <= 0 || c.TaskSoftTimeLimit > c.TaskTimeLimit {
		c.TaskSoftTimeLimit = c.TaskTimeLimit * 5 / 6
	}
	if c.StaleSweepMinutes <= 0 {
		c.StaleSweepMinutes = 5
	}
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}

func (c *Config) HardLimit() time.Duration {
	return time.Duration(c.TaskTimeLimit) * time.Second
}

func (c *Config) SoftLimit() time.Duration {
	return time.Duration(c.TaskSoftTimeLimit) * time.Second
}
