package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 4000, cfg.Storage.MaxBodyLength)
	assert.Equal(t, 64, cfg.Bus.SubscriberBuffer)
	assert.Equal(t, 100, cfg.Bus.PageSize)
	assert.Equal(t, 60*time.Second, cfg.Presence.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Presence.SweepInterval)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, ":9090", cfg.GRPC.Addr)
	assert.Equal(t, "room-bus", cfg.Logging.Service)
	assert.Equal(t, "std", cfg.Logging.Backend)
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: postgres
  dsn: postgres://localhost/roombus
presence:
  timeout: 90s
  mirror: postgres
kafka:
  brokers: ["k1:9092"]
`)
	t.Setenv("ROOMBUS_HTTP_ADDR", ":18080")
	t.Setenv("ROOMBUS_KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("ROOMBUS_PRESENCE_TIMEOUT", "2m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, ":18080", cfg.HTTP.Addr)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "room-bus.messages", cfg.Kafka.Topic)
	assert.Equal(t, 2*time.Minute, cfg.Presence.Timeout)
}

func TestLoad_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"postgres without dsn": "storage: {driver: postgres}\n",
		"unknown driver":       "storage: {driver: mongo}\n",
		"redis without url":    "presence: {mirror: redis}\n",
		"pg mirror on memory":  "presence: {mirror: postgres}\n",
		"relay on memory":      "kafka: {brokers: [\"k:9092\"]}\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingExplicitPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestParseDurationOr(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseDurationOr(time.Second, "5s"))
	assert.Equal(t, time.Second, parseDurationOr(time.Second, "soon"))
	assert.Equal(t, time.Second, parseDurationOr(time.Second, "-5s"))
}
