// Package config resolves kernel configuration from environment variables
// with optional YAML overrides.
//
// What: A Config struct covering the environment surface named in the
// external-interfaces section: log-directory, data-directory,
// buffer-pool-size, log-buffer-size, enable-logging, plus the network
// listen addresses used by cmd/kerneld.
// How: Load starts from hard-coded defaults, applies a YAML file if one is
// given, then applies environment variables, so the precedence is
// defaults < file < environment — matching the teacher's own layered
// flag-then-environment resolution in cmd/server/main.go.
// Why: kerneld resolves its options through Load (kernelctl only takes a
// server address flag); keeping them in one struct avoids flag duplication.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the fully-resolved set of kernel options.
type Config struct {
	DataDirectory   string `yaml:"data_directory"`
	LogDirectory    string `yaml:"log_directory"`
	BufferPoolSize  int    `yaml:"buffer_pool_size"`
	LogBufferSize   int    `yaml:"log_buffer_size"`
	EnableLogging   bool   `yaml:"enable_logging"`
	LogLevel        string `yaml:"log_level"`
	ListenAddr      string `yaml:"listen_addr"`
	AdminGRPCAddr   string `yaml:"admin_grpc_addr"`
	CheckpointEvery string `yaml:"checkpoint_every"` // cron expression
}

// Default returns the out-of-the-box configuration.
func Default() Config {
	return Config{
		DataDirectory:   "./data",
		LogDirectory:    "./data/wal",
		BufferPoolSize:  1 << 14, // 2^14 frames per spec §4.2
		LogBufferSize:   4 << 20,
		EnableLogging:   true,
		LogLevel:        "info",
		ListenAddr:      "127.0.0.1:5432",
		AdminGRPCAddr:   "127.0.0.1:5433",
		CheckpointEvery: "@every 1m",
	}
}

// Load resolves configuration: defaults, then an optional YAML file at
// yamlPath (ignored if empty or missing), then environment variables.
func Load(yamlPath string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("KERNEL_DATA_DIRECTORY"); v != "" {
		cfg.DataDirectory = v
	}
	if v := os.Getenv("KERNEL_LOG_DIRECTORY"); v != "" {
		cfg.LogDirectory = v
	}
	if v := os.Getenv("KERNEL_BUFFER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BufferPoolSize = n
		}
	}
	if v := os.Getenv("KERNEL_LOG_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LogBufferSize = n
		}
	}
	if v := os.Getenv("KERNEL_ENABLE_LOGGING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.EnableLogging = b
		}
	}
	if v := os.Getenv("KERNEL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("KERNEL_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("KERNEL_ADMIN_GRPC_ADDR"); v != "" {
		cfg.AdminGRPCAddr = v
	}
}
