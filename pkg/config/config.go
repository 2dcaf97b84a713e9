// Package config loads the service configuration from a YAML file with
// environment variable fallbacks for credentials.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	// API keys
	OpenAIKey string `yaml:"openai_key"`

	// Chat model configuration
	Model         string `yaml:"model"`
	MaxToolRounds int    `yaml:"max_tool_rounds"`

	// Embeddings
	EmbeddingModel string `yaml:"embedding_model"`

	// Redis backs the conversation ledger and the sensor view
	Redis RedisConfig `yaml:"redis"`

	// Vector store for medical records: memory or firestore
	VectorProvider string          `yaml:"vector_provider"`
	Firestore      FirestoreConfig `yaml:"firestore"`

	// Fitbit API access
	Fitbit FitbitConfig `yaml:"fitbit"`

	// HTTP server
	Server ServerConfig `yaml:"server"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// FirestoreConfig holds the Firestore vector store settings.
type FirestoreConfig struct {
	ProjectID   string `yaml:"project_id"`
	Collection  string `yaml:"collection"`
	Credentials string `yaml:"credentials"`
}

// FitbitConfig holds the Fitbit Web API settings.
type FitbitConfig struct {
	AccessToken string `yaml:"access_token"`
	BaseURL     string `yaml:"base_url"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

// Load reads configuration from a YAML file, then applies defaults and
// environment fallbacks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.MaxToolRounds == 0 {
		c.MaxToolRounds = 8
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.VectorProvider == "" {
		c.VectorProvider = "memory"
	}
	if c.Firestore.Collection == "" {
		c.Firestore.Collection = "medical-records"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) applyEnv() {
	if c.OpenAIKey == "" {
		c.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Fitbit.AccessToken == "" {
		c.Fitbit.AccessToken = os.Getenv("FITBIT_ACCESS_TOKEN")
	}
	if c.Firestore.ProjectID == "" {
		c.Firestore.ProjectID = os.Getenv("GCP_PROJECT")
	}
	if c.Firestore.Credentials == "" {
		c.Firestore.Credentials = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" && c.Redis.Addr == "localhost:6379" {
		c.Redis.Addr = addr
	}
}

// Validate checks settings that have no workable default.
func (c *Config) Validate() error {
	if c.OpenAIKey == "" {
		return fmt.Errorf("openai_key is required (or set OPENAI_API_KEY)")
	}
	if c.VectorProvider != "memory" && c.VectorProvider != "firestore" {
		return fmt.Errorf("unknown vector_provider %q", c.VectorProvider)
	}
	if c.VectorProvider == "firestore" && c.Firestore.ProjectID == "" {
		return fmt.Errorf("firestore.project_id is required for the firestore vector provider")
	}
	return nil
}
