package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port int `yaml:"port"`
	// Base URL of the context API. Context routes are disabled if empty.
	ContextAPI string `yaml:"contextApi"`
	// Interval of background updates of stale resources.
	UpdateInterval time.Duration `yaml:"updateInterval"`
	// Maximum length of refresh chains, 0 for unbounded.
	MaxRefreshDepth int         `yaml:"maxRefreshDepth"`
	Store           StoreConfig `yaml:"store"`
	Log             LogConfig   `yaml:"log"`
}

type StoreConfig struct {
	// One of memory, sqlite, leveldb or redis.
	Type string `yaml:"type"`
	// Database file (sqlite) or directory (leveldb).
	Path string `yaml:"path"`
	// Redis address.
	Redis string `yaml:"redis"`
}

func defaultConfig() Config {
	return Config{
		Port: 8080,
		Store: StoreConfig{
			Type: "sqlite",
			Path: "fusion.db",
		},
	}
}

// getConfig reads a YAML config file on top of the defaults.
func getConfig(filename string) (Config, error) {
	config := defaultConfig()
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}
