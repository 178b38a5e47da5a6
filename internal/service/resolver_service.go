package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-sync-resolver/internal/common/database"
	mqttcommon "wisefido-sync-resolver/internal/common/mqtt"
	rediscommon "wisefido-sync-resolver/internal/common/redis"
	"wisefido-sync-resolver/internal/config"
	"wisefido-sync-resolver/internal/consumer"
	"wisefido-sync-resolver/internal/metrics"
	"wisefido-sync-resolver/internal/notify"
	"wisefido-sync-resolver/internal/policy"
	"wisefido-sync-resolver/internal/repository"
	"wisefido-sync-resolver/internal/resolver"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// shutdownTimeout 停止时等待进行中解析完成的上限
const shutdownTimeout = 30 * time.Second

// ResolverService 冲突解析服务
type ResolverService struct {
	config         *config.Config
	logger         *zap.Logger
	db             *sql.DB
	redisClient    *redis.Client
	mqttClient     *mqttcommon.Client // 未配置 MQTT_BROKER 时为 nil
	policies       *policy.Set
	conflictLog    *repository.ConflictLogRepository
	recorder       *metrics.RedisRecorder
	resolver       *resolver.Resolver
	streamConsumer *consumer.StreamConsumer
	done           chan struct{}
}

// NewResolverService 创建冲突解析服务
// 策略文件先于任何连接加载，配置错误直接返回
func NewResolverService(cfg *config.Config, logger *zap.Logger) (*ResolverService, error) {
	policies, err := policy.LoadFile(cfg.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load conflict policy: %w", err)
	}

	// 初始化数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 初始化 Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 初始化 MQTT（可选）
	var mqttClient *mqttcommon.Client
	if cfg.MQTT.Broker != "" {
		mqttClient, err = mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			rediscommon.Close(redisClient)
			database.Close(db)
			return nil, fmt.Errorf("failed to connect to mqtt: %w", err)
		}
	}

	return newResolverService(cfg, logger, db, redisClient, mqttClient, policies), nil
}

func newResolverService(
	cfg *config.Config,
	logger *zap.Logger,
	db *sql.DB,
	redisClient *redis.Client,
	mqttClient *mqttcommon.Client,
	policies *policy.Set,
) *ResolverService {
	if cfg.PoolUndersized() {
		logger.Warn("RESOLVE_WORKERS exceeds DB_MAX_CONNS, audit writes will wait for pool connections",
			zap.Int("workers", cfg.Stream.Workers),
			zap.Int("max_conns", cfg.Database.MaxConns),
			zap.Duration("audit_timeout", cfg.Resolver.AuditTimeout),
		)
	}

	conflictLog := repository.NewConflictLogRepository(db, logger)
	recorder := metrics.NewRedisRecorder(redisClient, cfg.Metrics.KeyPrefix, logger)

	res := resolver.NewResolver(policies, conflictLog, recorder, logger, resolver.Options{
		AuditTimeout:   cfg.Resolver.AuditTimeout,
		MetricsTimeout: cfg.Resolver.MetricsTimeout,
	})

	streamConsumer := consumer.NewStreamConsumer(redisClient, res, logger, consumer.Options{
		RequestStream:  cfg.Stream.Requests,
		ResolvedStream: cfg.Stream.Resolved,
		ManualStream:   cfg.Stream.Manual,
		GroupName:      cfg.Stream.ConsumerGroup,
		ConsumerName:   cfg.Stream.ConsumerName,
		BatchSize:      int64(cfg.Stream.BatchSize),
		Block:          cfg.Stream.Block,
		Workers:        cfg.Stream.Workers,
		Notifier:       buildNotifier(cfg, logger, mqttClient),
		NotifyTimeout:  cfg.Notify.WebhookTimeout,
	})

	return &ResolverService{
		config:         cfg,
		logger:         logger,
		db:             db,
		redisClient:    redisClient,
		mqttClient:     mqttClient,
		policies:       policies,
		conflictLog:    conflictLog,
		recorder:       recorder,
		resolver:       res,
		streamConsumer: streamConsumer,
		done:           make(chan struct{}),
	}
}

// buildNotifier 按配置组合人工复核通知；都未配置时返回 nil
func buildNotifier(cfg *config.Config, logger *zap.Logger, mqttClient *mqttcommon.Client) notify.Notifier {
	var notifiers notify.Multi
	if mqttClient != nil {
		notifiers = append(notifiers, notify.NewMQTTNotifier(mqttClient, cfg.Notify.TopicPrefix))
	}
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.WebhookTimeout, logger))
	}
	if len(notifiers) == 0 {
		return nil
	}
	return notifiers
}

// Resolver 返回解析器，供同进程调用方直接使用
func (s *ResolverService) Resolver() *resolver.Resolver {
	return s.resolver
}

// Start 启动服务，阻塞直到 ctx 取消
func (s *ResolverService) Start(ctx context.Context) error {
	defer close(s.done)

	s.logger.Info("Starting conflict resolver service",
		zap.String("policy_path", s.config.PolicyPath),
		zap.String("default_strategy", s.policies.Default().Strategy.String()),
		zap.Strings("tables", s.policies.Tables()),
		zap.Int("workers", s.config.Stream.Workers),
	)
	if s.mqttClient != nil {
		s.logger.Info("Manual review MQTT notifications enabled",
			zap.String("broker", s.config.MQTT.Broker),
			zap.String("topic_prefix", s.config.Notify.TopicPrefix),
			zap.Bool("connected", s.mqttClient.IsConnected()),
		)
	}
	if s.config.Notify.WebhookURL != "" {
		s.logger.Info("Manual review webhook enabled", zap.String("url", s.config.Notify.WebhookURL))
	}

	return s.streamConsumer.Start(ctx)
}

// Stop 等待进行中的解析完成后关闭连接
// 等待时间取 ctx 截止与 shutdownTimeout 中较早者；ctx 先结束时连接照常关闭，返回 ctx 的错误
func (s *ResolverService) Stop(ctx context.Context) error {
	timer := time.NewTimer(shutdownTimeout)
	defer timer.Stop()

	var waitErr error
	select {
	case <-s.done:
	case <-timer.C:
		s.logger.Warn("Timed out waiting for in-flight resolutions")
	case <-ctx.Done():
		s.logger.Warn("Shutdown context ended before in-flight resolutions finished", zap.Error(ctx.Err()))
		waitErr = ctx.Err()
	}

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	var firstErr error
	if err := rediscommon.Close(s.redisClient); err != nil {
		firstErr = fmt.Errorf("failed to close redis: %w", err)
	}
	if err := database.Close(s.db); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close database: %w", err)
	}
	if firstErr == nil {
		firstErr = waitErr
	}
	return firstErr
}
