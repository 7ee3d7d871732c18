package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/config"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/encoding"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/keyexpr"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/network"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/version"
)

func parse(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags(args))
	v := viper.New()
	require.NoError(t, bindFlags(v, cmd.Flags()))
	return v
}

func TestLoadConfigFromFlags(t *testing.T) {
	v := parse(t, "--port", "1884", "--scope", "home", "--deny", "secret/#", "--debug")
	cfg, err := loadConfig(v, "")
	require.NoError(t, err)
	assert.Equal(t, 1884, cfg.Port)
	assert.Equal(t, "home", cfg.Scope)
	assert.Equal(t, []string{"secret/#"}, cfg.Deny)
	assert.True(t, cfg.DebugMode)
	assert.Equal(t, config.BackendLocal, cfg.Network.Backend)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("MQTT_BRIDGE_SCOPE", "site")
	t.Setenv("MQTT_BRIDGE_ADMIN_LISTEN", "127.0.0.1:8080")
	cfg, err := loadConfig(parse(t), "")
	require.NoError(t, err)
	assert.Equal(t, "site", cfg.Scope)
	assert.Equal(t, "127.0.0.1:8080", cfg.Admin.Listen)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	_, err := loadConfig(parse(t, "--network", "carrier-pigeon"), "")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestLoadConfigCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	_, err := loadConfig(parse(t), path)
	assert.ErrorIs(t, err, config.ErrConfigCreated)
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)

	cfg, err := loadConfig(parse(t, "--scope", "flagged"), path)
	require.NoError(t, err)
	assert.Equal(t, "flagged", cfg.Scope)
}

func TestOpenLocalNetwork(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.GeneraliseSubs = []string{"sensors/**"}
	net, err := openNetwork(ctx, cfg)
	require.NoError(t, err)
	defer net.Close(ctx)

	var got []string
	_, err = net.DeclareSubscriber(ctx, keyexpr.MustNew("sensors/a"), func(s network.Sample) {
		got = append(got, s.Key.String())
	})
	require.NoError(t, err)
	require.NoError(t, net.Put(ctx, keyexpr.MustNew("sensors/a"), []byte("1"), encoding.TextPlain))
	require.NoError(t, net.Put(ctx, keyexpr.MustNew("sensors/b"), []byte("2"), encoding.TextPlain))
	assert.Equal(t, []string{"sensors/a"}, got)
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasSuffix(out.String(), " "+version.Current()+"\n"), out.String())
}
