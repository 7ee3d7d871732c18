package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/access"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/admin"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/bridge"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/config"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/database"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/event"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/logger"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/metric"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/network"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/network/local"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/network/natsnet"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/server"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/topic"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/utils"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/version"
)

const envPrefix = "MQTT_BRIDGE"

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"port":            "port",
	"scope":           "scope",
	"allow":           "allow",
	"deny":            "deny",
	"generalise-subs": "generalise_subs",
	"generalise-pubs": "generalise_pubs",
	"log-level":       "log_level",
	"log-dir":         "log_dir",
	"debug":           "debug_mode",
	"network":         "network.backend",
	"network-url":     "network.url",
	"admin-listen":    "admin.listen",
	"registry":        "registry.backend",
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:           "mqtt-bridge",
		Short:         "mqtt-bridge relays MQTT 3.1.1 and 5.0 clients onto a pub/sub network",
		SilenceErrors: true,
		Example: `
  # in-process network, every topic bridged
  mqtt-bridge

  # NATS network, MQTT topics scoped under "home"
  mqtt-bridge --network nats --network-url nats://127.0.0.1:4222 --scope home

  # configuration file with environment overrides
  MQTT_BRIDGE_PORT=1884 mqtt-bridge --config config.yaml
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cfg, err := loadConfig(v, configFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "configuration file (JSON or YAML), created with defaults when missing")
	d := config.Default()
	flags.Int("port", d.Port, "MQTT listen port")
	flags.String("scope", d.Scope, "key expression prefix applied to every MQTT topic")
	flags.StringSlice("allow", nil, "topic filters clients may publish or subscribe to")
	flags.StringSlice("deny", nil, "topic filters clients may never publish or subscribe to")
	flags.StringSlice("generalise-subs", nil, "key expressions aggregating network subscriptions")
	flags.StringSlice("generalise-pubs", nil, "key expressions aggregating network publications")
	flags.String("log-level", d.LogLevel, "trace, debug, info, warn or error")
	flags.String("log-dir", d.LogDir, "directory for daily log files, empty to disable")
	flags.Bool("debug", d.DebugMode, "force debug logging")
	flags.String("network", d.Network.Backend, "pub/sub network backend: local or nats")
	flags.String("network-url", d.Network.URL, "NATS server URL")
	flags.String("admin-listen", d.Admin.Listen, "admin HTTP listen address, empty to disable")
	flags.String("registry", d.Registry.Backend, "client registry backend: memory or mongo")

	if err := bindFlags(v, flags); err != nil {
		panic(err)
	}
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return nil
}

func loadConfig(v *viper.Viper, path string) (*config.Config, error) {
	if path != "" {
		return config.ReadConfig(v, path)
	}
	config.SetDefaults(v)
	return config.FromViper(v)
}

func openNetwork(ctx context.Context, cfg *config.Config) (network.Session, error) {
	var inner network.Session
	switch cfg.Network.Backend {
	case config.BackendNATS:
		timeout, err := utils.ParseStringTime(cfg.Network.Timeout)
		if err != nil {
			return nil, err
		}
		s, err := natsnet.Connect(ctx, natsnet.Options{URL: cfg.Network.URL, Name: cfg.Network.Name, Timeout: timeout})
		if err != nil {
			return nil, err
		}
		inner = s
	default:
		inner = local.New()
	}
	return network.NewAggregator(inner, cfg.GeneraliseSubs, cfg.GeneralisePubs), nil
}

func run(ctx context.Context, cfg *config.Config) error {
	level, err := logger.ParseLevel(cfg.LogLevel, cfg.DebugMode)
	if err != nil {
		return err
	}
	loggerCallback := logger.Init(logger.Options{Dir: cfg.LogDir, Level: level})
	defer func() { _ = loggerCallback.Invoke(context.Background()) }()

	cleaner := event.NewCleaner()
	defer func() { _ = cleaner.Clean(context.Background()) }()

	logger.InfoF("%s %s starting", cfg.AppName, version.Current())

	net, err := openNetwork(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open pub/sub network: %w", err)
	}
	cleaner.Add(event.CallableFunc(net.Close))

	registry, err := database.NewStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open client registry: %w", err)
	}
	cleaner.Add(database.NewDBCloseCallback(registry))

	responder, err := admin.NewResponder(cfg.Admin.StatusRoot, version.Current())
	if err != nil {
		return err
	}
	adminSpace, err := responder.Declare(ctx, net)
	if err != nil {
		return err
	}
	cleaner.Add(event.CallableFunc(func(context.Context) error { return adminSpace.Undeclare() }))

	filter, err := access.NewFilter(cfg.Allow, cfg.Deny)
	if err != nil {
		return err
	}
	metrics := metric.NewMetrics()
	srv := server.New(cfg, net,
		server.WithRegistry(registry),
		server.WithMetrics(metrics),
		server.WithSessionOptions(
			bridge.WithMetrics(metrics),
			bridge.WithFilter(filter),
			bridge.WithTranslator(topic.NewTranslator(cfg.Scope)),
		),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(ctx) })
	if cfg.Admin.Listen != "" {
		g.Go(func() error {
			return admin.NewServer(responder, registry, metrics.Registry()).ListenAndServe(ctx, cfg.Admin.Listen)
		})
	}

	err = g.Wait()
	logger.Info("Received shutdown, server offline")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
