// Package resolver 双向同步的冲突解析引擎
//
// 核心计算（分类 + 策略 + 合并）是无共享状态的纯函数，可在任意数量的 worker 上并发执行；
// 审计写入和指标发射在结果算出之后进行，各自带超时，失败只记录日志，不影响返回的行。
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wisefido-sync-resolver/internal/metrics"
	"wisefido-sync-resolver/internal/models"
	"wisefido-sync-resolver/internal/policy"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecordIDField 记录主键列
const RecordIDField = "id"

// AuditLog 冲突审计日志（追加写）
type AuditLog interface {
	// LogDetect 插入新的冲突记录，返回 log_id
	LogDetect(ctx context.Context, rec *models.ConflictRecord) (int64, error)
	// LogResolve 更新 (client, table, record_id) 最近一条未解析的记录
	LogResolve(ctx context.Context, res models.Resolution) error
}

// Request 一次冲突解析请求
type Request struct {
	Table        string
	Source       *models.Row // nil 表示 source 侧不存在
	Target       *models.Row // nil 表示 target 侧不存在
	ClientID     string
	DeploymentID string // 可选，UUID 字符串
}

// Options 审计与指标超时
type Options struct {
	AuditTimeout   time.Duration
	MetricsTimeout time.Duration
}

const (
	defaultAuditTimeout   = 2 * time.Second
	defaultMetricsTimeout = 500 * time.Millisecond
)

// Resolver 冲突解析编排器，可被多个 goroutine 并发使用
type Resolver struct {
	policies       *policy.Set
	audit          AuditLog
	recorder       metrics.Recorder
	logger         *zap.Logger
	auditTimeout   time.Duration
	metricsTimeout time.Duration
}

// NewResolver 创建解析器；audit / recorder 为 nil 时跳过对应写入
func NewResolver(
	policies *policy.Set,
	audit AuditLog,
	recorder metrics.Recorder,
	logger *zap.Logger,
	opts Options,
) *Resolver {
	if recorder == nil {
		recorder = metrics.NopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.AuditTimeout <= 0 {
		opts.AuditTimeout = defaultAuditTimeout
	}
	if opts.MetricsTimeout <= 0 {
		opts.MetricsTimeout = defaultMetricsTimeout
	}
	return &Resolver{
		policies:       policies,
		audit:          audit,
		recorder:       recorder,
		logger:         logger,
		auditTimeout:   opts.AuditTimeout,
		metricsTimeout: opts.MetricsTimeout,
	}
}

// Resolve 解析冲突并返回最终行，从不返回错误
func (r *Resolver) Resolve(ctx context.Context, req Request) *models.Row {
	return r.ResolveOutcome(ctx, req).Row
}

// ResolveOutcome 解析冲突并返回完整结果
// 顺序：分类 → 选择策略并执行（失败回退 target_wins）→ 审计 detect → 审计 resolve → 指标
func (r *Resolver) ResolveOutcome(ctx context.Context, req Request) models.Outcome {
	start := time.Now()

	p := r.policies.StrategyFor(req.Table)
	conflictType := Classify(req.Source, req.Target, p.CompareField)
	recordID := RecordID(req.Source, req.Target)

	row, applied, execErr := r.apply(req, p)
	outcome := models.Outcome{
		Row:                row,
		RecordID:           recordID,
		ConflictType:       conflictType,
		ConfiguredStrategy: p.Strategy.String(),
		AppliedStrategy:    applied.String(),
		FellBack:           execErr != nil,
		Duration:           time.Since(start),
	}

	fields := []zap.Field{
		zap.String("client", req.ClientID),
		zap.String("table", req.Table),
		zap.String("record_id", recordID),
		zap.String("conflict_type", string(conflictType)),
		zap.String("strategy", p.Strategy.String()),
	}
	if execErr != nil {
		r.logger.Warn("Strategy failed, falling back to target_wins",
			append(fields, zap.Error(execErr))...)
	} else if applied == policy.StrategyManual {
		r.logger.Warn("Conflict flagged for manual review, keeping target unchanged", fields...)
	} else {
		r.logger.Debug("Conflict resolved",
			append(fields, zap.Duration("duration", outcome.Duration))...)
	}

	// 进行中的解析不随同步批次取消而中断，审计/指标只受自身超时约束
	bg := context.WithoutCancel(ctx)
	r.writeAudit(bg, req, p, outcome)
	r.emitMetrics(bg, req, outcome)

	return outcome
}

// apply 执行配置的策略；策略返回错误或 panic 时回退 target_wins
func (r *Resolver) apply(req Request, p policy.TablePolicy) (*models.Row, policy.Strategy, error) {
	fn, err := strategyFor(p.Strategy)
	if err == nil {
		var row *models.Row
		row, err = execute(fn, req.Source, req.Target, p)
		if err == nil {
			return row, p.Strategy, nil
		}
	}

	execErr := &StrategyExecutionError{Table: req.Table, Strategy: p.Strategy, Err: err}
	row, _ := TargetWins(req.Source, req.Target, p)
	return row, policy.StrategyTargetWins, execErr
}

func execute(fn StrategyFunc, source, target *models.Row, p policy.TablePolicy) (row *models.Row, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			row = nil
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(source, target, p)
}

func (r *Resolver) writeAudit(ctx context.Context, req Request, p policy.TablePolicy, outcome models.Outcome) {
	if r.audit == nil {
		return
	}

	rec := &models.ConflictRecord{
		DeploymentID:       r.deploymentID(req),
		ClientName:         req.ClientID,
		TableName:          req.Table,
		RecordID:           outcome.RecordID,
		ConflictType:       outcome.ConflictType,
		SourceData:         r.serialize(req.Source, "source"),
		TargetData:         r.serialize(req.Target, "target"),
		ResolutionStrategy: p.Strategy.String(),
	}

	detectCtx, cancel := context.WithTimeout(ctx, r.auditTimeout)
	logID, err := r.audit.LogDetect(detectCtx, rec)
	cancel()
	if err != nil {
		r.logAuditError(&AuditWriteError{Phase: "detect", Table: req.Table, RecordID: outcome.RecordID, Err: err})
		// detect 未落库时不更新，避免关闭同一记录更早的未解析冲突
		return
	}

	var resolvedBy *string
	if outcome.AppliedStrategy != policy.StrategyManual.String() {
		by := models.ResolvedByAutomatic
		resolvedBy = &by
	}
	res := models.Resolution{
		ClientName:   req.ClientID,
		TableName:    req.Table,
		RecordID:     outcome.RecordID,
		ResolvedData: r.serialize(outcome.Row, "resolved"),
		Strategy:     outcome.AppliedStrategy,
		ResolvedBy:   resolvedBy,
	}

	resolveCtx, cancel := context.WithTimeout(ctx, r.auditTimeout)
	err = r.audit.LogResolve(resolveCtx, res)
	cancel()
	if err != nil {
		r.logAuditError(&AuditWriteError{Phase: "resolve", Table: req.Table, RecordID: outcome.RecordID, Err: err})
		return
	}

	r.logger.Debug("Conflict audit written",
		zap.Int64("log_id", logID),
		zap.String("table", req.Table),
		zap.String("record_id", outcome.RecordID),
	)
}

func (r *Resolver) logAuditError(err *AuditWriteError) {
	fields := []zap.Field{
		zap.String("phase", err.Phase),
		zap.String("table", err.Table),
		zap.String("record_id", err.RecordID),
		zap.Error(err.Err),
	}
	if errors.Is(err, context.DeadlineExceeded) {
		fields = append(fields, zap.Duration("timeout", r.auditTimeout))
	}
	r.logger.Error("Failed to write conflict audit log", fields...)
}

func (r *Resolver) emitMetrics(ctx context.Context, req Request, outcome models.Outcome) {
	metricsCtx, cancel := context.WithTimeout(ctx, r.metricsTimeout)
	defer cancel()

	err := r.recorder.Record(metricsCtx, metrics.Sample{
		Client:       req.ClientID,
		Table:        req.Table,
		ConflictType: string(outcome.ConflictType),
		Strategy:     outcome.AppliedStrategy,
		Duration:     outcome.Duration,
	})
	if err != nil {
		r.logger.Warn("Failed to record conflict metrics",
			zap.String("client", req.ClientID),
			zap.String("table", req.Table),
			zap.Error(err),
		)
	}
}

// deploymentID 非法 UUID 记录告警后按 NULL 写入
func (r *Resolver) deploymentID(req Request) *string {
	if req.DeploymentID == "" {
		return nil
	}
	id, err := uuid.Parse(req.DeploymentID)
	if err != nil {
		r.logger.Warn("Ignoring invalid deployment_id",
			zap.String("deployment_id", req.DeploymentID),
			zap.Error(err),
		)
		return nil
	}
	s := id.String()
	return &s
}

func (r *Resolver) serialize(row *models.Row, side string) []byte {
	data, err := models.SerializeRow(row)
	if err != nil {
		r.logger.Warn("Failed to serialize row snapshot", zap.String("side", side), zap.Error(err))
		return nil
	}
	return data
}

// RecordID 取 source 的 id，缺失时取 target 的 id
func RecordID(source, target *models.Row) string {
	for _, row := range []*models.Row{source, target} {
		if v, ok := row.Get(RecordIDField); ok && !v.IsNull() {
			return v.String()
		}
	}
	return ""
}
