package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 5, cfg.Database.MaxConns)
	assert.Equal(t, 2, cfg.Database.MaxIdle)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "config/conflict_resolution.yaml", cfg.PolicyPath)
	assert.Equal(t, 2*time.Second, cfg.Resolver.AuditTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Resolver.MetricsTimeout)
	assert.Equal(t, "sync:conflicts:requests", cfg.Stream.Requests)
	assert.Equal(t, 4, cfg.Stream.Workers)
	assert.Equal(t, 10, cfg.Stream.BatchSize)
	assert.True(t, strings.HasPrefix(cfg.Stream.ConsumerName, "sync-resolver-"))
	assert.Equal(t, "sync:conflicts", cfg.Metrics.KeyPrefix)
	assert.Empty(t, cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, "sync/conflicts/manual", cfg.Notify.TopicPrefix)
	assert.Empty(t, cfg.Notify.WebhookURL)
	assert.Equal(t, 5*time.Second, cfg.Notify.WebhookTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DB_HOST", "test-host")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_MAX_CONNS", "16")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_POOL_SIZE", "12")
	t.Setenv("CONFLICT_CONFIG_PATH", "/etc/sync/policy.yaml")
	t.Setenv("AUDIT_TIMEOUT_MS", "750")
	t.Setenv("RESOLVE_WORKERS", "8")
	t.Setenv("CONSUMER_NAME", "resolver-a")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MQTT_BROKER", "tcp://mqtt:1883")
	t.Setenv("MQTT_QOS", "0")
	t.Setenv("REVIEW_WEBHOOK_URL", "http://review.local/hooks/conflicts")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 16, cfg.Database.MaxConns)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 12, cfg.Redis.PoolSize)
	assert.Equal(t, "/etc/sync/policy.yaml", cfg.PolicyPath)
	assert.Equal(t, 750*time.Millisecond, cfg.Resolver.AuditTimeout)
	assert.Equal(t, 8, cfg.Stream.Workers)
	assert.Equal(t, "resolver-a", cfg.Stream.ConsumerName)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "tcp://mqtt:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(0), cfg.MQTT.QoS)
	assert.Equal(t, "wisefido-sync-resolver", cfg.MQTT.ClientID)
	assert.Equal(t, "http://review.local/hooks/conflicts", cfg.Notify.WebhookURL)
}

func TestLoad_InvalidNumbersFallBackToDefaults(t *testing.T) {
	t.Setenv("AUDIT_TIMEOUT_MS", "soon")
	t.Setenv("RESOLVE_WORKERS", "-1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Resolver.AuditTimeout)
	assert.Equal(t, 4, cfg.Stream.Workers)
}

func TestLoad_WorkersMayExceedPool(t *testing.T) {
	t.Setenv("RESOLVE_WORKERS", "20")
	t.Setenv("DB_MAX_CONNS", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Stream.Workers)
	assert.Equal(t, 5, cfg.Database.MaxConns)
	assert.True(t, cfg.PoolUndersized())

	cfg.Stream.Workers = 5
	assert.False(t, cfg.PoolUndersized())
}

func TestLoad_StreamLoop(t *testing.T) {
	t.Setenv("STREAM_REQUESTS", "same")
	t.Setenv("STREAM_RESOLVED", "same")

	_, err := Load()
	require.Error(t, err)
}
