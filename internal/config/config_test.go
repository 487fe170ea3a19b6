package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnvFile(t *testing.T, args ...string) []string {
	t.Helper()
	return append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...)
}

func loadArgs(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := NewFlagSet("test")
	require.NoError(t, fs.Parse(args))
	return Load(fs)
}

func TestDefaults(t *testing.T) {
	cfg, err := loadArgs(t, noEnvFile(t)...)
	require.NoError(t, err)

	assert.Equal(t, TransportZMQ, cfg.Relay.Transport)
	assert.Equal(t, "tcp://localhost:5555", cfg.Relay.EndpointAddress)
	assert.Equal(t, "", cfg.Relay.Topic)
	assert.Zero(t, cfg.Relay.ReceiveTimeout)
	assert.Equal(t, 1, cfg.Relay.ConnectAttempts)
	assert.Equal(t, ":8090", cfg.HTTP.ListenAddr)
	assert.Equal(t, 64, cfg.HTTP.ListenerBuffer)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, 250*time.Millisecond, cfg.ZMQ.DialRetry)
	assert.Zero(t, cfg.ZMQ.DialMaxRetries)
}

func TestLoadNilFlagSet(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "tcp://localhost:5555", cfg.Relay.EndpointAddress)
}

func TestConfigFileEnvAndFlagPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "bridge.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
relay:
  transport: nats
  endpoint_address: nats://bus:4222
  topic: gains.events
  receive_timeout: 250ms
  connect_attempts: 4
  backoff:
    initial_delay: 100ms
    multiplier: 1.5
http:
  listen_addr: ":9000"
log:
  level: debug
`), 0o644))

	cfg, err := loadArgs(t, noEnvFile(t, "--config", file)...)
	require.NoError(t, err)
	assert.Equal(t, TransportNATS, cfg.Relay.Transport)
	assert.Equal(t, "nats://bus:4222", cfg.Relay.EndpointAddress)
	assert.Equal(t, 250*time.Millisecond, cfg.Relay.ReceiveTimeout)
	assert.Equal(t, 4, cfg.Relay.ConnectAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Relay.Backoff.InitialDelay)
	assert.Equal(t, 1.5, cfg.Relay.Backoff.Multiplier)
	assert.Equal(t, ":9000", cfg.HTTP.ListenAddr)

	t.Setenv("GAINS_RELAY_ENDPOINT_ADDRESS", "nats://override:4222")
	t.Setenv("GAINS_HTTP_LISTEN_ADDR", ":9100")
	cfg, err = loadArgs(t, noEnvFile(t, "--config", file, "--http-addr", ":9200")...)
	require.NoError(t, err)
	assert.Equal(t, "nats://override:4222", cfg.Relay.EndpointAddress)
	assert.Equal(t, ":9200", cfg.HTTP.ListenAddr)
}

func TestEndpointFlag(t *testing.T) {
	cfg, err := loadArgs(t, noEnvFile(t, "--endpoint", "tcp://10.0.0.5:6000", "--receive-timeout", "1s")...)
	require.NoError(t, err)
	assert.Equal(t, "tcp://10.0.0.5:6000", cfg.Relay.EndpointAddress)
	assert.Equal(t, time.Second, cfg.Relay.ReceiveTimeout)
}

func TestDotEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("GAINS_RELAY_TOPIC=asr.\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("GAINS_RELAY_TOPIC") })

	cfg, err := loadArgs(t, "--env-file", envFile)
	require.NoError(t, err)
	assert.Equal(t, "asr.", cfg.Relay.Topic)
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		args []string
		env  map[string]string
		msg  string
	}{
		"unknown transport":   {args: []string{"--transport", "kafka"}, msg: "unknown relay.transport"},
		"libp2p needs topic":  {args: []string{"--transport", "libp2p"}, msg: "relay.topic is required"},
		"empty endpoint":      {args: []string{"--endpoint", " "}, msg: "endpoint_address is required"},
		"negative timeout":    {args: []string{"--receive-timeout=-1s"}, msg: "relay.receive_timeout"},
		"zero attempts":       {env: map[string]string{"GAINS_RELAY_CONNECT_ATTEMPTS": "0"}, msg: "connect_attempts"},
		"bad log level":       {args: []string{"--log-level", "loud"}, msg: "unknown log.level"},
		"negative dial retry": {env: map[string]string{"GAINS_ZMQ_DIAL_RETRY": "-1s"}, msg: "zmq.dial_retry"},
		"negative dial max":   {env: map[string]string{"GAINS_ZMQ_DIAL_MAX_RETRIES": "-2"}, msg: "zmq.dial_max_retries"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := loadArgs(t, noEnvFile(t, tc.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestMemoryTransportNeedsNoEndpoint(t *testing.T) {
	cfg, err := loadArgs(t, noEnvFile(t, "--transport", "MEMORY", "--endpoint", "")...)
	require.NoError(t, err)
	assert.Equal(t, TransportMemory, cfg.Relay.Transport)
}

func TestZMQDialSettings(t *testing.T) {
	t.Setenv("GAINS_ZMQ_DIAL_RETRY", "100ms")
	t.Setenv("GAINS_ZMQ_DIAL_MAX_RETRIES", "5")
	cfg, err := loadArgs(t, noEnvFile(t)...)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, cfg.ZMQ.DialRetry)
	assert.Equal(t, 5, cfg.ZMQ.DialMaxRetries)
}

func TestTransportUsageMarksMemoryAsTestOnly(t *testing.T) {
	usage := NewFlagSet("test").Lookup("transport").Usage
	assert.Contains(t, usage, "memory")
	assert.Contains(t, usage, "test/dev only")
}
