package opgate

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level client configuration.
type Config struct {
	SubjectID string       `yaml:"subject_id"`
	Ledger    LedgerConfig `yaml:"ledger"`
	Jobs      JobsConfig   `yaml:"jobs"`

	// TickSeconds is the countdown granularity (default 1).
	TickSeconds int `yaml:"tick_seconds"`

	// PollSeconds is the tracker poll-fallback interval (default 5,
	// 0 disables polling).
	PollSeconds int `yaml:"poll_seconds"`
}

// LedgerConfig configures the remote balance ledger endpoint.
type LedgerConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	// SigningKey is an optional hex-encoded secp256k1 private key for
	// signed ledger requests.
	SigningKey string `yaml:"signing_key"`
}

// JobsConfig configures the remote job service endpoint. When empty,
// the ledger endpoint is used for sessions too.
type JobsConfig struct {
	BaseURL string `yaml:"base_url"`
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("opgate: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("opgate: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if c.Ledger.BaseURL == "" {
		return fmt.Errorf("opgate: config: ledger.base_url is required")
	}
	if c.TickSeconds < 0 {
		return fmt.Errorf("opgate: config: tick_seconds must not be negative")
	}
	if c.PollSeconds < 0 {
		return fmt.Errorf("opgate: config: poll_seconds must not be negative")
	}
	if c.Ledger.SigningKey != "" {
		keyBytes, err := hex.DecodeString(c.Ledger.SigningKey)
		if err != nil {
			return fmt.Errorf("opgate: config: ledger.signing_key is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("opgate: config: ledger.signing_key must be 32 bytes, got %d", len(keyBytes))
		}
	}
	return nil
}
