// Package config loads the CLI harness configuration.
//
// The engine itself takes a plain memoria.Config struct; this package is
// for the command-line front end, which reads a YAML file and applies
// MEMORIA_-prefixed environment overrides on top. The file is also where
// `memoria set-token` and `memoria set-url` persist their values, so the
// settings survive across invocations.
//
// Precedence: environment > file > defaults.
//
// Environment Variables:
//   - MEMORIA_DB_PATH
//   - MEMORIA_SERVER_URL
//   - MEMORIA_AUTH_TOKEN
//   - MEMORIA_EMBEDDING_MODEL
//   - MEMORIA_EMBEDDING_DIMENSIONS
//   - MEMORIA_TOP_K
//
// Example:
//
//	cfg, err := config.Load("./memoria.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	system := memoria.NewWithConfig(cfg.ToSystemConfig())
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/memoria-db/memoria/pkg/memoria"
)

// Config is the on-disk CLI configuration. Zero values fall back to the
// engine defaults.
type Config struct {
	DBPath              string `yaml:"db_path,omitempty"`
	ServerURL           string `yaml:"server_url,omitempty"`
	AuthToken           string `yaml:"auth_token,omitempty"`
	EmbeddingModel      string `yaml:"embedding_model,omitempty"`
	EmbeddingDimensions int    `yaml:"embedding_dimensions,omitempty"`
	TopK                int    `yaml:"top_k,omitempty"`
}

// Load reads the YAML file at path (a missing file yields an empty
// config) and applies environment overrides.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// No file yet: defaults plus environment.
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return &cfg, nil
}

// Save writes the config back to path as YAML, 0600 since it may carry
// the auth token.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MEMORIA_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("MEMORIA_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("MEMORIA_AUTH_TOKEN"); v != "" {
		c.AuthToken = v
	}
	if v := os.Getenv("MEMORIA_EMBEDDING_MODEL"); v != "" {
		c.EmbeddingModel = v
	}
	if v := os.Getenv("MEMORIA_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.EmbeddingDimensions = n
		}
	}
	if v := os.Getenv("MEMORIA_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.TopK = n
		}
	}
}

// ToSystemConfig merges this CLI config over the engine defaults.
func (c *Config) ToSystemConfig() *memoria.Config {
	system := memoria.DefaultConfig()
	if c.DBPath != "" {
		system.DBPath = c.DBPath
	}
	if c.ServerURL != "" {
		system.ServerURL = c.ServerURL
	}
	if c.AuthToken != "" {
		system.AuthToken = c.AuthToken
	}
	if c.EmbeddingModel != "" {
		system.EmbeddingModel = c.EmbeddingModel
	}
	if c.EmbeddingDimensions > 0 {
		system.EmbeddingDimensions = c.EmbeddingDimensions
	}
	if c.TopK > 0 {
		system.TopK = c.TopK
	}
	return system
}
