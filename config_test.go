package opgate_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opgate/opgate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "opgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("OPGATE_API_KEY", "secret-key")

	path := writeConfig(t, `
subject_id: user-42
ledger:
  base_url: https://ledger.example.test
  api_key: ${OPGATE_API_KEY}
jobs:
  base_url: https://jobs.example.test
tick_seconds: 2
poll_seconds: 10
`)

	cfg, err := opgate.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "user-42", cfg.SubjectID)
	assert.Equal(t, "https://ledger.example.test", cfg.Ledger.BaseURL)
	assert.Equal(t, "secret-key", cfg.Ledger.APIKey)
	assert.Equal(t, "https://jobs.example.test", cfg.Jobs.BaseURL)
	assert.Equal(t, 2, cfg.TickSeconds)
	assert.Equal(t, 10, cfg.PollSeconds)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := opgate.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "ledger: [not a mapping")
	_, err := opgate.LoadConfig(path)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	valid := opgate.Config{
		Ledger: opgate.LedgerConfig{BaseURL: "https://ledger.example.test"},
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*opgate.Config)
	}{
		{"missing base url", func(c *opgate.Config) { c.Ledger.BaseURL = "" }},
		{"negative tick", func(c *opgate.Config) { c.TickSeconds = -1 }},
		{"negative poll", func(c *opgate.Config) { c.PollSeconds = -1 }},
		{"signing key not hex", func(c *opgate.Config) { c.Ledger.SigningKey = "zz" }},
		{"signing key wrong length", func(c *opgate.Config) { c.Ledger.SigningKey = "deadbeef" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfigValidate_SigningKey(t *testing.T) {
	cfg := opgate.Config{
		Ledger: opgate.LedgerConfig{
			BaseURL:    "https://ledger.example.test",
			SigningKey: "3f2a6c1d9e8b7a5c4d3e2f1a0b9c8d7e6f5a4b3c2d1e0f9a8b7c6d5e4f3a2b1c",
		},
	}
	assert.NoError(t, cfg.Validate())
}
