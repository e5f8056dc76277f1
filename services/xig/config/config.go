// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the xig server configuration.
//
// Configuration comes from a YAML file with environment variable
// overrides for container deployments (XIG_PORT, XIG_DATASET_URL,
// XIG_DATASET_PATH). Validation uses go-playground/validator struct tags
// so a misconfigured server fails at startup, not at first refresh.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "24h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration for the xig server.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Dataset DatasetConfig `yaml:"dataset"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	// Port the HTTP API listens on.
	Port int `yaml:"port" validate:"required,min=1,max=65535"`

	// PageSize is the fixed listing page size. Requests cannot raise it;
	// it bounds the cost of a single query.
	PageSize int `yaml:"page_size" validate:"required,min=1,max=1000"`
}

// DatasetConfig controls where the dataset lives and how it is refreshed.
type DatasetConfig struct {
	// Path is the canonical location of the SQLite dataset file.
	Path string `yaml:"path" validate:"required"`

	// DownloadURL is where new dataset versions are fetched from.
	DownloadURL string `yaml:"download_url" validate:"required,url"`

	// FetchTimeout bounds a whole download attempt.
	FetchTimeout Duration `yaml:"fetch_timeout" validate:"required"`

	// MaxRedirects caps redirect hops during a fetch.
	MaxRedirects int `yaml:"max_redirects" validate:"min=0,max=20"`

	// FetchAttempts is how many times a failed download is retried
	// within one refresh before the refresh is abandoned.
	FetchAttempts int `yaml:"fetch_attempts" validate:"min=1,max=10"`

	// RefreshInterval is the cadence of the periodic refresh trigger.
	RefreshInterval Duration `yaml:"refresh_interval" validate:"required"`
}

// LoggingConfig mirrors pkg/logging.Config in YAML form.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:     8080,
			PageSize: 200,
		},
		Dataset: DatasetConfig{
			Path:            "data/xig.db",
			DownloadURL:     "https://fhir.github.io/ig-registry/xig.db",
			FetchTimeout:    Duration(5 * time.Minute),
			MaxRedirects:    10,
			FetchAttempts:   3,
			RefreshInterval: Duration(24 * time.Hour),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the configuration file at path, applies environment
// overrides, and validates the result. A missing file is not an error;
// defaults are used.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// fall through to env overrides on defaults
	case err != nil:
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("XIG_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("XIG_DATASET_URL"); v != "" {
		cfg.Dataset.DownloadURL = v
	}
	if v := os.Getenv("XIG_DATASET_PATH"); v != "" {
		cfg.Dataset.Path = v
	}
}
