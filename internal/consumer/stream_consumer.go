package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rediscommon "wisefido-sync-resolver/internal/common/redis"
	"wisefido-sync-resolver/internal/models"
	"wisefido-sync-resolver/internal/notify"
	"wisefido-sync-resolver/internal/policy"
	"wisefido-sync-resolver/internal/resolver"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ConflictResolver 冲突解析接口（resolver.Resolver 实现）
type ConflictResolver interface {
	ResolveOutcome(ctx context.Context, req resolver.Request) models.Outcome
}

// ResolveRequest 解析请求消息（stream 字段 "data" 中的 JSON）
type ResolveRequest struct {
	RequestID    string      `json:"request_id,omitempty"`
	Table        string      `json:"table"`
	SourceRow    *models.Row `json:"source_row"` // null 或缺失表示 source 侧不存在
	TargetRow    *models.Row `json:"target_row"`
	ClientID     string      `json:"client_id"`
	DeploymentID string      `json:"deployment_id,omitempty"`
}

// ResolveResult 解析结果消息
type ResolveResult struct {
	RequestID          string              `json:"request_id,omitempty"`
	MessageID          string              `json:"message_id"`
	Table              string              `json:"table"`
	ClientID           string              `json:"client_id"`
	RecordID           string              `json:"record_id"`
	ConflictType       models.ConflictType `json:"conflict_type"`
	ConfiguredStrategy string              `json:"configured_strategy"`
	AppliedStrategy    string              `json:"applied_strategy"`
	FellBack           bool                `json:"fell_back"`
	ResolvedRow        *models.Row         `json:"resolved_row"`
	DurationMicros     int64               `json:"duration_us"`
}

// Options 消费者配置
type Options struct {
	RequestStream  string
	ResolvedStream string
	ManualStream   string
	GroupName      string
	ConsumerName   string
	BatchSize      int64
	Block          time.Duration
	Workers        int
	// Notifier 人工复核外部通知（MQTT / webhook），可为空
	Notifier      notify.Notifier
	NotifyTimeout time.Duration
}

// pendingReader 分页读取本消费者未确认的消息
type pendingReader func(ctx context.Context, client *redis.Client, stream, group, consumer, start string, count int64) ([]rediscommon.StreamMessage, error)

// StreamConsumer 从 Redis Streams 读取解析请求，并发解析后发布结果
type StreamConsumer struct {
	redisClient *redis.Client
	resolver    ConflictResolver
	logger      *zap.Logger
	opts        Options
	readPending pendingReader
}

// NewStreamConsumer 创建流消费者
func NewStreamConsumer(
	redisClient *redis.Client,
	conflictResolver ConflictResolver,
	logger *zap.Logger,
	opts Options,
) *StreamConsumer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamConsumer{
		redisClient: redisClient,
		resolver:    conflictResolver,
		logger:      logger,
		opts:        opts,
		readPending: rediscommon.ReadPendingFromStream,
	}
}

// Start 启动消费循环，直到 ctx 取消；取消后不再读取新消息，进行中的解析会完成
func (c *StreamConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.opts.RequestStream, c.opts.GroupName); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("stream", c.opts.RequestStream),
		zap.String("consumer_group", c.opts.GroupName),
		zap.String("consumer_name", c.opts.ConsumerName),
		zap.Int("workers", c.opts.Workers),
	)

	// 先处理上次退出前未确认的消息
	if err := c.recoverPending(ctx); err != nil {
		c.logger.Warn("Failed to recover pending messages", zap.Error(err))
	}

	// 指数退避
	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Stream consumer stopped")
			return nil
		default:
		}

		if _, err := c.consumeBatch(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("Failed to consume resolve requests",
				zap.Error(err),
				zap.Duration("backoff", backoffDuration),
			)

			select {
			case <-ctx.Done():
			case <-time.After(backoffDuration):
				backoffDuration *= 2
				if backoffDuration > maxBackoff {
					backoffDuration = maxBackoff
				}
			}
			continue
		}
		backoffDuration = time.Second
	}
}

// recoverPending 按 BatchSize 分页重新处理全部未确认消息
// 每页从上一页最后一条之后读取，处理后仍未确认的消息（发布失败）不会被重复读取
func (c *StreamConsumer) recoverPending(ctx context.Context) error {
	start := "0"
	total := 0
	for ctx.Err() == nil {
		messages, err := c.readPending(ctx, c.redisClient,
			c.opts.RequestStream, c.opts.GroupName, c.opts.ConsumerName, start, c.opts.BatchSize)
		if err != nil {
			return err
		}
		if len(messages) == 0 {
			break
		}
		c.processAll(ctx, messages)
		total += len(messages)
		start = messages[len(messages)-1].ID
	}
	if total > 0 {
		c.logger.Info("Reprocessed pending messages", zap.Int("count", total))
	}
	return nil
}

// consumeBatch 读取并处理一批消息，返回处理条数
func (c *StreamConsumer) consumeBatch(ctx context.Context) (int, error) {
	messages, err := rediscommon.ReadFromStream(
		ctx,
		c.redisClient,
		c.opts.RequestStream,
		c.opts.GroupName,
		c.opts.ConsumerName,
		c.opts.BatchSize,
		c.opts.Block,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to read from stream: %w", err)
	}

	c.processAll(ctx, messages)
	return len(messages), nil
}

// processAll 有界并发处理一批消息，全部完成后返回
func (c *StreamConsumer) processAll(ctx context.Context, messages []rediscommon.StreamMessage) {
	// 已读取的消息不随 ctx 取消而放弃
	work := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(c.opts.Workers)
	for _, msg := range messages {
		msg := msg
		g.Go(func() error {
			c.processMessage(work, msg)
			return nil
		})
	}
	_ = g.Wait()
}

// processMessage 解析单条消息；无法解码的消息记录日志后直接确认
func (c *StreamConsumer) processMessage(ctx context.Context, msg rediscommon.StreamMessage) {
	req, err := parseRequest(msg)
	if err != nil {
		c.logger.Error("Dropping malformed resolve request",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		c.ack(ctx, msg.ID)
		return
	}

	outcome := c.resolver.ResolveOutcome(ctx, resolver.Request{
		Table:        req.Table,
		Source:       req.SourceRow,
		Target:       req.TargetRow,
		ClientID:     req.ClientID,
		DeploymentID: req.DeploymentID,
	})

	result := ResolveResult{
		RequestID:          req.RequestID,
		MessageID:          msg.ID,
		Table:              req.Table,
		ClientID:           req.ClientID,
		RecordID:           outcome.RecordID,
		ConflictType:       outcome.ConflictType,
		ConfiguredStrategy: outcome.ConfiguredStrategy,
		AppliedStrategy:    outcome.AppliedStrategy,
		FellBack:           outcome.FellBack,
		ResolvedRow:        outcome.Row,
		DurationMicros:     outcome.Duration.Microseconds(),
	}

	if _, err := rediscommon.PublishJSONToStream(ctx, c.redisClient, c.opts.ResolvedStream, result); err != nil {
		// 不确认，重启后从 pending 列表重新处理
		c.logger.Error("Failed to publish resolve result",
			zap.String("message_id", msg.ID),
			zap.String("stream", c.opts.ResolvedStream),
			zap.Error(err),
		)
		return
	}

	if outcome.AppliedStrategy == policy.StrategyManual.String() {
		c.notifyManual(ctx, msg.ID, req, result)
	}

	c.ack(ctx, msg.ID)
}

// notifyManual 通知人工复核；失败只记录日志，不影响确认
func (c *StreamConsumer) notifyManual(ctx context.Context, messageID string, req *ResolveRequest, result ResolveResult) {
	if c.opts.ManualStream != "" {
		if _, err := rediscommon.PublishJSONToStream(ctx, c.redisClient, c.opts.ManualStream, result); err != nil {
			c.logger.Warn("Failed to publish manual review notification",
				zap.String("message_id", messageID),
				zap.String("record_id", result.RecordID),
				zap.Error(err),
			)
		}
	}

	if c.opts.Notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(ctx, c.opts.NotifyTimeout)
	defer cancel()
	err := c.opts.Notifier.NotifyManual(notifyCtx, notify.ManualReview{
		RequestID:    req.RequestID,
		MessageID:    messageID,
		ClientID:     req.ClientID,
		Table:        req.Table,
		RecordID:     result.RecordID,
		ConflictType: result.ConflictType,
		Source:       req.SourceRow,
		Target:       req.TargetRow,
	})
	if err != nil {
		c.logger.Warn("Failed to deliver manual review notification",
			zap.String("message_id", messageID),
			zap.String("record_id", result.RecordID),
			zap.Error(err),
		)
	}
}

func (c *StreamConsumer) ack(ctx context.Context, id string) {
	if err := rediscommon.Ack(ctx, c.redisClient, c.opts.RequestStream, c.opts.GroupName, id); err != nil {
		c.logger.Warn("Failed to ack message",
			zap.String("message_id", id),
			zap.Error(err),
		)
	}
}

// parseRequest 解析消息体
func parseRequest(msg rediscommon.StreamMessage) (*ResolveRequest, error) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("missing data field")
	}

	var req ResolveRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal resolve request: %w", err)
	}
	if req.Table == "" {
		return nil, fmt.Errorf("table is required")
	}
	if req.ClientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}
	return &req, nil
}
