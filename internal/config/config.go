package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "GAINS"

const (
	TransportZMQ    = "zmq"
	TransportNATS   = "nats"
	TransportLibp2p = "libp2p"
	TransportMemory = "memory"
)

type BackoffConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Jitter       bool          `mapstructure:"jitter"`
}

type RelayConfig struct {
	Transport         string        `mapstructure:"transport"`
	EndpointAddress   string        `mapstructure:"endpoint_address"`
	Topic             string        `mapstructure:"topic"`
	ReceiveTimeout    time.Duration `mapstructure:"receive_timeout"`
	ConnectAttempts   int           `mapstructure:"connect_attempts"`
	Backoff           BackoffConfig `mapstructure:"backoff"`
	ReceiveErrorDelay time.Duration `mapstructure:"receive_error_delay"`
}

type ZMQConfig struct {
	DialRetry      time.Duration `mapstructure:"dial_retry"`
	DialMaxRetries int           `mapstructure:"dial_max_retries"`
}

type NATSConfig struct {
	Name          string        `mapstructure:"name"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
}

type Libp2pConfig struct {
	ListenAddrs     []string `mapstructure:"listen_addrs"`
	Bootstrap       []string `mapstructure:"bootstrap"`
	Rendezvous      string   `mapstructure:"rendezvous"`
	EnableMDNS      bool     `mapstructure:"enable_mdns"`
	IdentityKeyFile string   `mapstructure:"identity_key_file"`
}

type HTTPConfig struct {
	ListenAddr     string `mapstructure:"listen_addr"`
	ListenerBuffer int    `mapstructure:"listener_buffer"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type Config struct {
	Relay  RelayConfig  `mapstructure:"relay"`
	ZMQ    ZMQConfig    `mapstructure:"zmq"`
	NATS   NATSConfig   `mapstructure:"nats"`
	Libp2p Libp2pConfig `mapstructure:"libp2p"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	Log    LogConfig    `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("relay.transport", TransportZMQ)
	v.SetDefault("relay.endpoint_address", "tcp://localhost:5555")
	v.SetDefault("relay.topic", "")
	v.SetDefault("relay.receive_timeout", time.Duration(0))
	v.SetDefault("relay.connect_attempts", 1)
	v.SetDefault("relay.backoff.initial_delay", 500*time.Millisecond)
	v.SetDefault("relay.backoff.multiplier", 2.0)
	v.SetDefault("relay.backoff.max_delay", 10*time.Second)
	v.SetDefault("relay.backoff.jitter", false)
	v.SetDefault("relay.receive_error_delay", time.Duration(0))

	v.SetDefault("zmq.dial_retry", 250*time.Millisecond)
	v.SetDefault("zmq.dial_max_retries", 0)

	v.SetDefault("nats.name", "gains-bridge")
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.max_reconnects", 60)

	v.SetDefault("libp2p.listen_addrs", []string{"/ip4/0.0.0.0/tcp/0"})
	v.SetDefault("libp2p.bootstrap", []string{})
	v.SetDefault("libp2p.rendezvous", "gains-bus")
	v.SetDefault("libp2p.enable_mdns", false)
	v.SetDefault("libp2p.identity_key_file", "")

	v.SetDefault("http.listen_addr", ":8090")
	v.SetDefault("http.listener_buffer", 64)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"transport":       "relay.transport",
	"endpoint":        "relay.endpoint_address",
	"topic":           "relay.topic",
	"receive-timeout": "relay.receive_timeout",
	"http-addr":       "http.listen_addr",
	"log-level":       "log.level",
	"log-file":        "log.file",
}

// NewFlagSet declares the command-line flags Load understands.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML or TOML config file")
	fs.String("env-file", ".env", "dotenv file loaded before reading the environment")
	fs.String("transport", TransportZMQ, "bus transport: zmq, nats, libp2p, or memory (in-process, test/dev only: nothing outside the process can publish to it)")
	fs.String("endpoint", "tcp://localhost:5555", "bus endpoint address")
	fs.String("topic", "", "subscription topic filter")
	fs.Duration("receive-timeout", 0, "per-receive timeout, 0 waits indefinitely")
	fs.String("http-addr", ":8090", "HTTP listen address")
	fs.String("log-level", "info", "log level: debug, info, warn or error")
	fs.String("log-file", "", "rotated log file, empty logs to stdout only")
	return fs
}

// Load resolves configuration from defaults, an optional config file, the
// dotenv file, GAINS_* environment variables and changed flags, in rising
// precedence. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	var path, envFile string
	if fs != nil {
		path, _ = fs.GetString("config")
		envFile, _ = fs.GetString("env-file")
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load env file %s: %w", envFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Relay.Transport = strings.ToLower(strings.TrimSpace(c.Relay.Transport))
	c.Relay.EndpointAddress = strings.TrimSpace(c.Relay.EndpointAddress)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	r := c.Relay
	switch r.Transport {
	case TransportZMQ, TransportNATS:
		if r.EndpointAddress == "" {
			return fmt.Errorf("config: relay.endpoint_address is required for %s", r.Transport)
		}
	case TransportLibp2p:
		if r.Topic == "" {
			return errors.New("config: relay.topic is required for libp2p")
		}
	case TransportMemory:
	default:
		return fmt.Errorf("config: unknown relay.transport %q", r.Transport)
	}
	if r.ConnectAttempts < 1 {
		return fmt.Errorf("config: relay.connect_attempts must be at least 1, got %d", r.ConnectAttempts)
	}
	durations := map[string]time.Duration{
		"relay.receive_timeout":       r.ReceiveTimeout,
		"relay.receive_error_delay":   r.ReceiveErrorDelay,
		"relay.backoff.initial_delay": r.Backoff.InitialDelay,
		"relay.backoff.max_delay":     r.Backoff.MaxDelay,
		"nats.reconnect_wait":         c.NATS.ReconnectWait,
		"zmq.dial_retry":              c.ZMQ.DialRetry,
	}
	for key, d := range durations {
		if d < 0 {
			return fmt.Errorf("config: %s must not be negative", key)
		}
	}
	if c.ZMQ.DialMaxRetries < 0 {
		return errors.New("config: zmq.dial_max_retries must not be negative")
	}
	if r.Backoff.Multiplier < 0 {
		return errors.New("config: relay.backoff.multiplier must not be negative")
	}
	if c.HTTP.ListenerBuffer < 1 {
		return errors.New("config: http.listener_buffer must be at least 1")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log.level %q", c.Log.Level)
	}
	return nil
}
