package resolver

import (
	"fmt"

	"wisefido-sync-resolver/internal/policy"
)

// StrategyExecutionError 策略或合并引擎执行失败（包括 panic），由 Resolve 捕获并回退为 target_wins
type StrategyExecutionError struct {
	Table    string
	Strategy policy.Strategy
	Err      error
}

func (e *StrategyExecutionError) Error() string {
	return fmt.Sprintf("strategy %s failed for table %s: %v", e.Strategy, e.Table, e.Err)
}

func (e *StrategyExecutionError) Unwrap() error {
	return e.Err
}

// AuditWriteError 审计日志写入失败，只记录日志，不影响解析结果
type AuditWriteError struct {
	Phase    string // "detect" | "resolve"
	Table    string
	RecordID string
	Err      error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit %s write failed for %s/%s: %v", e.Phase, e.Table, e.RecordID, e.Err)
}

func (e *AuditWriteError) Unwrap() error {
	return e.Err
}
