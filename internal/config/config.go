package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/keyexpr"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/topic"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/utils"
)

const (
	DefaultFileName   = "config.json"
	DefaultPort       = 1883
	DefaultStatusRoot = "@mqtt/status"
	DefaultNATSURL    = "nats://127.0.0.1:4222"

	DefaultMaxPacketSize = 1 << 20
	// MaxRemainingLength is the largest remaining length a fixed header can encode.
	MaxRemainingLength = 268435455

	BackendLocal  = "local"
	BackendNATS   = "nats"
	BackendMemory = "memory"
	BackendMongo  = "mongo"
)

var (
	ErrConfigCreated = errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")
	ErrInvalidConfig = errors.New("invalid configuration")
)

type MongoConfig struct {
	Host             string `json:"host" yaml:"host" mapstructure:"host"`
	Port             uint64 `json:"port" yaml:"port" mapstructure:"port"`
	Username         string `json:"username" yaml:"username" mapstructure:"username"`
	Password         string `json:"password" yaml:"password" mapstructure:"password"`
	Database         string `json:"database" yaml:"database" mapstructure:"database"`
	UseTLS           bool   `json:"use_tls" yaml:"use_tls" mapstructure:"use_tls"`
	ConnectTimeout   string `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect_timeout"`
	OperationTimeout string `json:"operation_timeout" yaml:"operation_timeout" mapstructure:"operation_timeout"`
	MinPoolSize      uint64 `json:"min_pool_size" yaml:"min_pool_size" mapstructure:"min_pool_size"`
	MaxPoolSize      uint64 `json:"max_pool_size" yaml:"max_pool_size" mapstructure:"max_pool_size"`
}

type NetworkConfig struct {
	Backend string `json:"backend" yaml:"backend" mapstructure:"backend"`
	URL     string `json:"url" yaml:"url" mapstructure:"url"`
	Name    string `json:"name" yaml:"name" mapstructure:"name"`
	Timeout string `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

type AdminConfig struct {
	Listen     string `json:"listen" yaml:"listen" mapstructure:"listen"`
	StatusRoot string `json:"status_root" yaml:"status_root" mapstructure:"status_root"`
}

type RegistryConfig struct {
	Backend string      `json:"backend" yaml:"backend" mapstructure:"backend"`
	Mongo   MongoConfig `json:"mongo" yaml:"mongo" mapstructure:"mongo"`
}

// Config is loaded once at startup and shared read-only by every session.
type Config struct {
	Port           int      `json:"port" yaml:"port" mapstructure:"port"`
	Scope          string   `json:"scope" yaml:"scope" mapstructure:"scope"`
	GeneraliseSubs []string `json:"generalise_subs" yaml:"generalise_subs" mapstructure:"generalise_subs"`
	GeneralisePubs []string `json:"generalise_pubs" yaml:"generalise_pubs" mapstructure:"generalise_pubs"`
	Allow          []string `json:"allow" yaml:"allow" mapstructure:"allow"`
	Deny           []string `json:"deny" yaml:"deny" mapstructure:"deny"`

	DebugMode      bool   `json:"debug_mode" yaml:"debug_mode" mapstructure:"debug_mode"`
	LogLevel       string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogDir         string `json:"log_dir" yaml:"log_dir" mapstructure:"log_dir"`
	AppName        string `json:"app_name" yaml:"app_name" mapstructure:"app_name"`
	MaxConnections int    `json:"max_connections" yaml:"max_connections" mapstructure:"max_connections"`
	OutboundQueue  int    `json:"outbound_queue" yaml:"outbound_queue" mapstructure:"outbound_queue"`
	MaxPacketSize  int    `json:"max_packet_size" yaml:"max_packet_size" mapstructure:"max_packet_size"`
	ConnectTimeout string `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect_timeout"`

	Network  NetworkConfig  `json:"network" yaml:"network" mapstructure:"network"`
	Admin    AdminConfig    `json:"admin" yaml:"admin" mapstructure:"admin"`
	Registry RegistryConfig `json:"registry" yaml:"registry" mapstructure:"registry"`
}

// Default returns a configuration that bridges every topic, unscoped, over the
// in-process network.
func Default() *Config {
	return &Config{
		Port:           DefaultPort,
		AppName:        "mqtt-bridge",
		LogDir:         "logs",
		MaxConnections: 10000,
		OutboundQueue:  256,
		MaxPacketSize:  DefaultMaxPacketSize,
		ConnectTimeout: "60s",
		Network: NetworkConfig{
			Backend: BackendLocal,
			URL:     DefaultNATSURL,
			Name:    "mqtt-bridge",
			Timeout: "5s",
		},
		Admin: AdminConfig{
			StatusRoot: DefaultStatusRoot,
		},
		Registry: RegistryConfig{
			Backend: BackendMemory,
			Mongo: MongoConfig{
				Host:             "127.0.0.1",
				Port:             27017,
				Database:         "mqtt_bridge",
				ConnectTimeout:   "10s",
				OperationTimeout: "5s",
				MinPoolSize:      1,
				MaxPoolSize:      10,
			},
		},
	}
}

// ReadConfig loads path through v. A missing file is created with defaults and
// reported as ErrConfigCreated.
func ReadConfig(v *viper.Viper, path string) (*Config, error) {
	if path == "" {
		path = DefaultFileName
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %q: %w", path, err)
		}
		if err := WriteDefault(path); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrConfigCreated, path)
	}

	SetDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}
	return FromViper(v)
}

// FromViper decodes every setting known to v on top of the defaults and validates the result.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults registers every default with v so environment overrides apply to all keys.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("port", d.Port)
	v.SetDefault("scope", d.Scope)
	v.SetDefault("generalise_subs", d.GeneraliseSubs)
	v.SetDefault("generalise_pubs", d.GeneralisePubs)
	v.SetDefault("allow", d.Allow)
	v.SetDefault("deny", d.Deny)
	v.SetDefault("debug_mode", d.DebugMode)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_dir", d.LogDir)
	v.SetDefault("app_name", d.AppName)
	v.SetDefault("max_connections", d.MaxConnections)
	v.SetDefault("outbound_queue", d.OutboundQueue)
	v.SetDefault("max_packet_size", d.MaxPacketSize)
	v.SetDefault("connect_timeout", d.ConnectTimeout)
	v.SetDefault("network.backend", d.Network.Backend)
	v.SetDefault("network.url", d.Network.URL)
	v.SetDefault("network.name", d.Network.Name)
	v.SetDefault("network.timeout", d.Network.Timeout)
	v.SetDefault("admin.listen", d.Admin.Listen)
	v.SetDefault("admin.status_root", d.Admin.StatusRoot)
	v.SetDefault("registry.backend", d.Registry.Backend)
	v.SetDefault("registry.mongo.host", d.Registry.Mongo.Host)
	v.SetDefault("registry.mongo.port", d.Registry.Mongo.Port)
	v.SetDefault("registry.mongo.database", d.Registry.Mongo.Database)
	v.SetDefault("registry.mongo.connect_timeout", d.Registry.Mongo.ConnectTimeout)
	v.SetDefault("registry.mongo.operation_timeout", d.Registry.Mongo.OperationTimeout)
	v.SetDefault("registry.mongo.min_pool_size", d.Registry.Mongo.MinPoolSize)
	v.SetDefault("registry.mongo.max_pool_size", d.Registry.Mongo.MaxPoolSize)
}

// WriteDefault renders the default configuration to path, as YAML for .yaml/.yml
// files and as indented JSON otherwise.
func WriteDefault(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(Default())
	default:
		data, err = json.MarshalIndent(Default(), "", "\t")
	}
	if err != nil {
		return fmt.Errorf("render default configuration: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write default configuration: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.Scope != "" {
		ke, err := keyexpr.New(c.Scope)
		if err != nil {
			return fmt.Errorf("%w: scope: %w", ErrInvalidConfig, err)
		}
		if ke.IsWild() {
			return fmt.Errorf("%w: scope %q must not contain wildcards", ErrInvalidConfig, c.Scope)
		}
	}
	for _, list := range []struct {
		name     string
		patterns []string
	}{{"allow", c.Allow}, {"deny", c.Deny}} {
		for _, p := range list.patterns {
			if err := topic.ValidateFilter(p); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, list.name, err)
			}
			if _, err := topic.ToKey(p, ""); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, list.name, err)
			}
		}
	}
	for _, list := range []struct {
		name     string
		patterns []string
	}{{"generalise_subs", c.GeneraliseSubs}, {"generalise_pubs", c.GeneralisePubs}} {
		for _, p := range list.patterns {
			if err := keyexpr.Validate(p); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, list.name, err)
			}
		}
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("%w: max_connections must be positive", ErrInvalidConfig)
	}
	if c.OutboundQueue <= 0 {
		return fmt.Errorf("%w: outbound_queue must be positive", ErrInvalidConfig)
	}
	if c.MaxPacketSize < 2 || c.MaxPacketSize > MaxRemainingLength {
		return fmt.Errorf("%w: max_packet_size %d out of range 2..%d", ErrInvalidConfig, c.MaxPacketSize, MaxRemainingLength)
	}
	if err := positiveDuration("connect_timeout", c.ConnectTimeout); err != nil {
		return err
	}
	switch c.Network.Backend {
	case BackendLocal:
	case BackendNATS:
		if c.Network.URL == "" {
			return fmt.Errorf("%w: network.url is required for the nats backend", ErrInvalidConfig)
		}
		if err := positiveDuration("network.timeout", c.Network.Timeout); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown network backend %q", ErrInvalidConfig, c.Network.Backend)
	}
	if ke, err := keyexpr.New(c.Admin.StatusRoot); err != nil || ke.IsWild() {
		return fmt.Errorf("%w: admin.status_root %q must be a concrete key expression", ErrInvalidConfig, c.Admin.StatusRoot)
	}
	switch c.Registry.Backend {
	case BackendMemory:
	case BackendMongo:
		for name, value := range map[string]string{
			"connect_timeout":   c.Registry.Mongo.ConnectTimeout,
			"operation_timeout": c.Registry.Mongo.OperationTimeout,
		} {
			if _, err := utils.ParseStringTime(value); err != nil {
				return fmt.Errorf("%w: registry.mongo.%s: %w", ErrInvalidConfig, name, err)
			}
		}
	default:
		return fmt.Errorf("%w: unknown registry backend %q", ErrInvalidConfig, c.Registry.Backend)
	}
	return nil
}

func positiveDuration(name, value string) error {
	d, err := utils.ParseStringTime(value)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, name, err)
	}
	if d <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %q", ErrInvalidConfig, name, value)
	}
	return nil
}

// ConnectTimeoutDuration is the deadline for the first CONNECT packet. Validate
// guarantees it parses.
func (c *Config) ConnectTimeoutDuration() time.Duration {
	d, _ := utils.ParseStringTime(c.ConnectTimeout)
	return d
}
