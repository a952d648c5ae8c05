package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

var cfg *Config

type Config struct {
	Port      string    `yaml:"port"`
	HttpsInfo httpsInfo `yaml:"https_info"`
	ProxyUrl  string    `yaml:"proxy_url"`
	DataFile  string    `yaml:"data_file"`
	Artifact  artifact  `yaml:"artifact"`
	Pool      pool      `yaml:"pool"`
	Chat      chat      `yaml:"chat"`
}

type httpsInfo struct {
	Enable  bool   `yaml:"enable"`
	PemFile string `yaml:"pem_file"`
	KeyFile string `yaml:"key_file"`
}

type artifact struct {
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries"`
}

type pool struct {
	SlotsPerAccount int   `yaml:"slots_per_account"`
	DegradedAfter   int   `yaml:"degraded_after"`
	ExpiredAfter    int   `yaml:"expired_after"`
	RotateMinutes   int64 `yaml:"rotate_minutes"`
}

type chat struct {
	ConversationTTLMinutes int64 `yaml:"conversation_ttl_minutes"`
	TimeoutSeconds         int   `yaml:"timeout_seconds"`
}

func V() *Config {
	return cfg
}

func Parse(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg == nil {
		// 空yaml文档解析后还是nil
		cfg = &Config{}
	}
	fill(cfg)
	return cfg, nil
}

// Default returns a runnable configuration when no file is given.
func Default() *Config {
	cfg = &Config{Port: "8000"}
	fill(cfg)
	return cfg
}

func fill(c *Config) {
	if c.Port == "" {
		c.Port = "8000"
	}
	if c.DataFile == "" {
		c.DataFile = "data.json"
	}
	if c.Artifact.Path == "" {
		c.Artifact.Path = "images"
	}
	if c.Artifact.MaxEntries == 0 {
		c.Artifact.MaxEntries = 512
	}
	if c.Pool.SlotsPerAccount == 0 {
		c.Pool.SlotsPerAccount = 1
	}
	if c.Pool.DegradedAfter == 0 {
		c.Pool.DegradedAfter = 2
	}
	if c.Pool.ExpiredAfter == 0 {
		c.Pool.ExpiredAfter = 3
	}
	if c.Pool.RotateMinutes == 0 {
		c.Pool.RotateMinutes = 30
	}
	if c.Chat.ConversationTTLMinutes == 0 {
		c.Chat.ConversationTTLMinutes = 30
	}
	if c.Chat.TimeoutSeconds == 0 {
		c.Chat.TimeoutSeconds = 120
	}
}
