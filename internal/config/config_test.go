package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfigCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	_, err := ReadConfig(viper.New(), path)
	require.ErrorIs(t, err, ErrConfigCreated)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	cfg, err := ReadConfig(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, Default().Port, cfg.Port)
	assert.Empty(t, cfg.Scope)
	assert.Empty(t, cfg.Allow)
	assert.Equal(t, Default().Network, cfg.Network)
	assert.Equal(t, Default().Registry, cfg.Registry)
}

func TestReadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	content := `
port: 11883
scope: home
allow: ["sensors/#"]
deny: ["secret/#"]
generalise_subs: ["home/sensors/**"]
network:
  backend: nats
  url: nats://nats:4222
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := ReadConfig(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 11883, cfg.Port)
	assert.Equal(t, "home", cfg.Scope)
	assert.Equal(t, []string{"sensors/#"}, cfg.Allow)
	assert.Equal(t, []string{"secret/#"}, cfg.Deny)
	assert.Equal(t, []string{"home/sensors/**"}, cfg.GeneraliseSubs)
	assert.Equal(t, BackendNATS, cfg.Network.Backend)
	assert.Equal(t, "nats://nats:4222", cfg.Network.URL)
	// untouched keys keep their defaults
	assert.Equal(t, 256, cfg.OutboundQueue)
	assert.Equal(t, DefaultStatusRoot, cfg.Admin.StatusRoot)
}

func TestWriteDefaultYAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yml")
	require.NoError(t, WriteDefault(path))

	cfg, err := ReadConfig(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, Default().Port, cfg.Port)
	assert.Equal(t, Default().Network, cfg.Network)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Port = 0 }},
		{"port too large", func(c *Config) { c.Port = 70000 }},
		{"wildcard scope", func(c *Config) { c.Scope = "home/*" }},
		{"malformed scope", func(c *Config) { c.Scope = "home/" }},
		{"bad allow filter", func(c *Config) { c.Allow = []string{"a/#/b"} }},
		{"bad deny filter", func(c *Config) { c.Deny = []string{"a/b+"} }},
		{"bad generalise pattern", func(c *Config) { c.GeneraliseSubs = []string{"a//b"} }},
		{"unknown network backend", func(c *Config) { c.Network.Backend = "zenoh" }},
		{"nats without url", func(c *Config) { c.Network.Backend = BackendNATS; c.Network.URL = "" }},
		{"unknown registry backend", func(c *Config) { c.Registry.Backend = "redis" }},
		{"bad mongo timeout", func(c *Config) { c.Registry.Backend = BackendMongo; c.Registry.Mongo.OperationTimeout = "soon" }},
		{"wildcard status root", func(c *Config) { c.Admin.StatusRoot = "@mqtt/*" }},
		{"bad connect timeout", func(c *Config) { c.ConnectTimeout = "forever" }},
		{"zero outbound queue", func(c *Config) { c.OutboundQueue = 0 }},
		{"zero connect timeout", func(c *Config) { c.ConnectTimeout = "0s" }},
		{"zero nats timeout", func(c *Config) { c.Network.Backend = BackendNATS; c.Network.Timeout = "0ms" }},
		{"zero max packet size", func(c *Config) { c.MaxPacketSize = 0 }},
		{"max packet size beyond protocol limit", func(c *Config) { c.MaxPacketSize = MaxRemainingLength + 1 }},
	}

	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		cfg := Default()
		tt.mutate(cfg)
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig, tt.name)
	}
}

func TestConnectTimeoutDuration(t *testing.T) {
	cfg := Default()
	assert.Equal(t, time.Minute, cfg.ConnectTimeoutDuration())
}
