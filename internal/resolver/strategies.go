package resolver

import (
	"errors"
	"fmt"

	"wisefido-sync-resolver/internal/models"
	"wisefido-sync-resolver/internal/policy"
)

// StrategyFunc 策略函数：(source, target, policy) → 解析后的行，纯函数
type StrategyFunc func(source, target *models.Row, p policy.TablePolicy) (*models.Row, error)

// strategyFor 按策略枚举选择实现（穷举 switch）
func strategyFor(s policy.Strategy) (StrategyFunc, error) {
	switch s {
	case policy.StrategyNewestWins:
		return NewestWins, nil
	case policy.StrategySourceWins:
		return SourceWins, nil
	case policy.StrategyTargetWins:
		return TargetWins, nil
	case policy.StrategyMerge:
		return MergeStrategy, nil
	case policy.StrategyManual:
		return Manual, nil
	default:
		return nil, fmt.Errorf("no implementation for %s", s)
	}
}

// NewestWins 比较 compare_field，返回较新一方的整行；相同时间 source 胜出
// 任一侧时间戳缺失或无法解析时按 policy.TieBreaker 决定
func NewestWins(source, target *models.Row, p policy.TablePolicy) (*models.Row, error) {
	st, serr := readTimestamp(source, p.CompareField)
	tt, terr := readTimestamp(target, p.CompareField)
	if serr != nil || terr != nil {
		return tieBreak(source, target, p.TieBreaker), nil
	}
	if tt.After(st) {
		return target.Clone(), nil
	}
	return source.Clone(), nil
}

func tieBreak(source, target *models.Row, tb policy.TieBreaker) *models.Row {
	if tb == policy.TieBreakTarget {
		return target.Clone()
	}
	return source.Clone()
}

// SourceWins 无条件返回 source（本地/边缘侧为权威，如会话状态）
func SourceWins(source, _ *models.Row, _ policy.TablePolicy) (*models.Row, error) {
	return source.Clone(), nil
}

// TargetWins 无条件返回 target（中心侧为权威）
func TargetWins(_, target *models.Row, _ policy.TablePolicy) (*models.Row, error) {
	return target.Clone(), nil
}

// Manual 保持 target 不变，resolved_by 留空等待人工处理
func Manual(_, target *models.Row, _ policy.TablePolicy) (*models.Row, error) {
	return target.Clone(), nil
}

// MergeStrategy 按字段规则合并
func MergeStrategy(source, target *models.Row, p policy.TablePolicy) (*models.Row, error) {
	if len(p.MergeRules) == 0 {
		// 加载时已校验，这里只防御手工构造的 TablePolicy
		return nil, errors.New("merge strategy has no merge rules")
	}
	return Merge(source, target, p.MergeRules, p.CompareField)
}
