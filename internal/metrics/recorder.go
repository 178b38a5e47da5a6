// Package metrics 冲突解析指标：按 (client, table, conflict_type, strategy) 计数，并按策略记录耗时分布
package metrics

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Sample 单次解析的指标样本
type Sample struct {
	Client       string
	Table        string
	ConflictType string
	Strategy     string // 实际生效的策略
	Duration     time.Duration
}

// Recorder 指标发射接口
type Recorder interface {
	Record(ctx context.Context, s Sample) error
}

// NopRecorder 不记录任何指标
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Sample) error { return nil }

// Buckets 耗时分桶上界（秒）
var Buckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}

// InfBucket 超过最大上界的分桶
const InfBucket = "+Inf"

// Bucket 返回耗时所在分桶的标签（上界秒数）
func Bucket(d time.Duration) string {
	sec := d.Seconds()
	for _, b := range Buckets {
		if sec <= b {
			return strconv.FormatFloat(b, 'f', -1, 64)
		}
	}
	return InfBucket
}

// CounterKey 计数维度
type CounterKey struct {
	Client       string
	Table        string
	ConflictType string
	Strategy     string
}

const keySep = '|'

var fieldEscaper = strings.NewReplacer(`\`, `\\`, "|", `\|`)

// field 编码为 "client|table|type|strategy"，维度值中的 '|' 与 '\' 以 '\' 转义
func (k CounterKey) field() string {
	parts := []string{k.Client, k.Table, k.ConflictType, k.Strategy}
	for i, p := range parts {
		parts[i] = fieldEscaper.Replace(p)
	}
	return strings.Join(parts, string(keySep))
}

func parseCounterField(field string) (CounterKey, bool) {
	var parts []string
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(field); i++ {
		c := field[i]
		switch {
		case escaped:
			cur.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == keySep:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if escaped {
		return CounterKey{}, false
	}
	parts = append(parts, cur.String())
	if len(parts) != 4 {
		return CounterKey{}, false
	}
	return CounterKey{Client: parts[0], Table: parts[1], ConflictType: parts[2], Strategy: parts[3]}, true
}

// Snapshot 指标快照
type Snapshot struct {
	Counters map[CounterKey]int64
	// Latency 策略 → 分桶标签 → 次数
	Latency map[string]map[string]int64
	// LatencySumMicros 策略 → 总耗时（微秒）
	LatencySumMicros map[string]int64
}
