// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package config loads configuration for the edgesync binaries from a YAML
// file and environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/plantops/edgesync/connector"
)

// AgentConfig configures the edge agent binary.
type AgentConfig struct {
	SiteID       string `mapstructure:"site_id"`
	DatabasePath string `mapstructure:"database_path"`

	Endpoint struct {
		URL          string `mapstructure:"url"`
		SecurityMode string `mapstructure:"security_mode"` // none, sign, sign-encrypt
		Policy       string `mapstructure:"policy"`
		CertFile     string `mapstructure:"cert_file"`
		KeyFile      string `mapstructure:"key_file"`
		Simulate     bool   `mapstructure:"simulate"` // Use the in-memory simulator
	} `mapstructure:"endpoint"`

	Ingest struct {
		BaseURL   string `mapstructure:"base_url"`
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"ingest"`

	Sync struct {
		Interval      time.Duration `mapstructure:"interval"`
		ClockInterval time.Duration `mapstructure:"clock_interval"`
		BatchSize     int           `mapstructure:"batch_size"`
		MaxRetries    int           `mapstructure:"max_retries"`
		RetentionDays int           `mapstructure:"retention_days"`
	} `mapstructure:"sync"`

	Tags []connector.TagMapping `mapstructure:"tags"`
}

// ServerConfig configures the ingest server binary.
type ServerConfig struct {
	ListenAddr  string `mapstructure:"listen_addr"`
	DatabaseURL string `mapstructure:"database_url"`
	JWTSecret   string `mapstructure:"jwt_secret"`
}

// LoadAgent reads the agent configuration from path (a directory containing
// agent.yaml) with EDGESYNC_-prefixed environment overrides.
func LoadAgent(path string) (*AgentConfig, error) {
	v := viper.New()
	v.SetConfigName("agent")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix("EDGESYNC")
	v.AutomaticEnv()

	v.SetDefault("database_path", "edgesync.db")
	v.SetDefault("sync.interval", 60*time.Second)
	v.SetDefault("sync.clock_interval", 15*time.Minute)
	v.SetDefault("sync.batch_size", 100)
	v.SetDefault("sync.max_retries", 5)
	v.SetDefault("sync.retention_days", 30)
	v.SetDefault("endpoint.security_mode", "none")

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("failed to read agent config: %w", err)
		}
	}

	var cfg AgentConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode agent config: %w", err)
	}
	if cfg.SiteID == "" {
		return nil, fmt.Errorf("site_id must be configured")
	}
	if cfg.Ingest.BaseURL == "" {
		return nil, fmt.Errorf("ingest.base_url must be configured")
	}
	return &cfg, nil
}

// LoadServer reads the ingest server configuration from path (a directory
// containing server.yaml) with EDGESYNC_-prefixed environment overrides.
func LoadServer(path string) (*ServerConfig, error) {
	v := viper.New()
	v.SetConfigName("server")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix("EDGESYNC")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("failed to read server config: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode server config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url must be configured")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret must be configured")
	}
	return &cfg, nil
}
