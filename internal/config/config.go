package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"wisefido-sync-resolver/internal/common/config"
)

// Config 冲突解析服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig // 人工复核通知（可选）

	// 策略文件（YAML，兼容 JSON）
	PolicyPath string

	Resolver struct {
		AuditTimeout   time.Duration // 单次审计写入超时
		MetricsTimeout time.Duration // 单次指标写入超时
	}

	// Redis Streams 配置
	Stream struct {
		Requests      string // 解析请求流，如 "sync:conflicts:requests"
		Resolved      string // 解析结果流
		Manual        string // 人工复核通知流
		ConsumerGroup string
		ConsumerName  string
		BatchSize     int           // 单次读取条数
		Block         time.Duration // XREADGROUP 阻塞时长
		Workers       int           // 并发解析数
	}

	// 人工复核外部通知
	Notify struct {
		TopicPrefix    string        // MQTT 主题前缀
		WebhookURL     string        // 为空表示不启用 webhook
		WebhookTimeout time.Duration
	}

	Metrics struct {
		KeyPrefix string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "owlrd"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 5
	cfg.Database.MaxIdle = 2
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.ClientID = "wisefido-sync-resolver"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.PolicyPath = getEnv("CONFLICT_CONFIG_PATH", "config/conflict_resolution.yaml")

	cfg.Resolver.AuditTimeout = getEnvMillis("AUDIT_TIMEOUT_MS", 2000)
	cfg.Resolver.MetricsTimeout = getEnvMillis("METRICS_TIMEOUT_MS", 500)

	cfg.Stream.Requests = getEnv("STREAM_REQUESTS", "sync:conflicts:requests")
	cfg.Stream.Resolved = getEnv("STREAM_RESOLVED", "sync:conflicts:resolved")
	cfg.Stream.Manual = getEnv("STREAM_MANUAL", "sync:conflicts:manual")
	cfg.Stream.ConsumerGroup = getEnv("CONSUMER_GROUP", "sync-resolver-group")
	cfg.Stream.ConsumerName = getEnv("CONSUMER_NAME", defaultConsumerName())
	cfg.Stream.BatchSize = getEnvInt("BATCH_SIZE", 10)
	cfg.Stream.Block = getEnvMillis("STREAM_BLOCK_MS", 2000)
	cfg.Stream.Workers = getEnvInt("RESOLVE_WORKERS", 4)

	cfg.Notify.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "sync/conflicts/manual")
	cfg.Notify.WebhookURL = getEnv("REVIEW_WEBHOOK_URL", "")
	cfg.Notify.WebhookTimeout = getEnvMillis("REVIEW_WEBHOOK_TIMEOUT_MS", 5000)

	cfg.Metrics.KeyPrefix = getEnv("METRICS_KEY_PREFIX", "sync:conflicts")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Stream.Requests == c.Stream.Resolved || c.Stream.Requests == c.Stream.Manual {
		return fmt.Errorf("STREAM_REQUESTS must differ from STREAM_RESOLVED and STREAM_MANUAL")
	}
	return nil
}

// PoolUndersized 解析并发数大于连接池上限时返回 true
// 连接池独立配置，超出部分的审计写入会排队等待连接（受 AUDIT_TIMEOUT_MS 约束）
func (c *Config) PoolUndersized() bool {
	return c.Database.MaxConns > 0 && c.Stream.Workers > c.Database.MaxConns
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "sync-resolver-1"
	}
	return "sync-resolver-" + host
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Millisecond
}
