package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DefaultKeyPrefix 指标键前缀
const DefaultKeyPrefix = "sync:conflicts"

const sumField = "sum_us"

// RedisRecorder 基于 Redis Hash 的指标记录器，多个 worker/进程共享计数
//
//	{prefix}:count              field "client|table|type|strategy" → 次数
//	{prefix}:latency:{strategy} field 分桶标签 → 次数, "sum_us" → 总耗时
type RedisRecorder struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisRecorder 创建 Redis 指标记录器
func NewRedisRecorder(client *redis.Client, prefix string, logger *zap.Logger) *RedisRecorder {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisRecorder{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (r *RedisRecorder) countKey() string {
	return r.prefix + ":count"
}

func (r *RedisRecorder) latencyKey(strategy string) string {
	return r.prefix + ":latency:" + strategy
}

// Record 在一个 pipeline 中写入计数和耗时
func (r *RedisRecorder) Record(ctx context.Context, s Sample) error {
	key := CounterKey{Client: s.Client, Table: s.Table, ConflictType: s.ConflictType, Strategy: s.Strategy}
	latencyKey := r.latencyKey(s.Strategy)

	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, r.countKey(), key.field(), 1)
		pipe.HIncrBy(ctx, latencyKey, Bucket(s.Duration), 1)
		pipe.HIncrBy(ctx, latencyKey, sumField, s.Duration.Microseconds())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record conflict metrics: %w", err)
	}

	r.logger.Debug("Recorded conflict metrics",
		zap.String("client", s.Client),
		zap.String("table", s.Table),
		zap.String("conflict_type", s.ConflictType),
		zap.String("strategy", s.Strategy),
		zap.Duration("duration", s.Duration),
	)
	return nil
}

// Snapshot 读取当前全部指标
func (r *RedisRecorder) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Counters:         make(map[CounterKey]int64),
		Latency:          make(map[string]map[string]int64),
		LatencySumMicros: make(map[string]int64),
	}

	counts, err := r.client.HGetAll(ctx, r.countKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read counters: %w", err)
	}
	for field, raw := range counts {
		key, ok := parseCounterField(field)
		if !ok {
			r.logger.Warn("Skipping malformed counter field", zap.String("field", field))
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		snap.Counters[key] = n
	}

	prefix := r.latencyKey("")
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		latencyKey := iter.Val()
		strategy := strings.TrimPrefix(latencyKey, prefix)

		fields, err := r.client.HGetAll(ctx, latencyKey).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read latency for %s: %w", strategy, err)
		}
		buckets := make(map[string]int64, len(fields))
		for field, raw := range fields {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			if field == sumField {
				snap.LatencySumMicros[strategy] = n
				continue
			}
			buckets[field] = n
		}
		snap.Latency[strategy] = buckets
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan latency keys: %w", err)
	}

	return snap, nil
}
