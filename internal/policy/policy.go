// Package policy 冲突解析策略配置：启动时加载一次，表名 → 策略 的只读映射
package policy

import (
	"fmt"
	"sort"
)

// Strategy 解析策略（封闭枚举，加载时解析，未知名称在启动时失败）
type Strategy int

const (
	StrategyNewestWins Strategy = iota + 1
	StrategySourceWins
	StrategyTargetWins
	StrategyMerge
	StrategyManual
)

var strategyNames = map[Strategy]string{
	StrategyNewestWins: "newest_wins",
	StrategySourceWins: "source_wins",
	StrategyTargetWins: "target_wins",
	StrategyMerge:      "merge",
	StrategyManual:     "manual",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// ParseStrategy 解析策略名称
func ParseStrategy(name string) (Strategy, error) {
	for s, n := range strategyNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown strategy %q", name)
}

// MergeRule 字段级合并规则（仅 merge 策略使用）
type MergeRule int

const (
	RuleAppend MergeRule = iota + 1
	RuleUnion
	RuleNewestWins
	RuleSourceWins
	RuleTargetWins
)

var ruleNames = map[MergeRule]string{
	RuleAppend:     "append",
	RuleUnion:      "union",
	RuleNewestWins: "newest_wins",
	RuleSourceWins: "source_wins",
	RuleTargetWins: "target_wins",
}

func (r MergeRule) String() string {
	if name, ok := ruleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("rule(%d)", int(r))
}

// ParseMergeRule 解析合并规则名称
func ParseMergeRule(name string) (MergeRule, error) {
	for r, n := range ruleNames {
		if n == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown merge rule %q", name)
}

// TieBreaker newest_wins 时间戳缺失或无法解析时的胜出方
type TieBreaker int

const (
	TieBreakSource TieBreaker = iota
	TieBreakTarget
)

func (t TieBreaker) String() string {
	if t == TieBreakTarget {
		return "target"
	}
	return "source"
}

// ParseTieBreaker 解析 tie_breaker；空字符串按 source 处理
func ParseTieBreaker(name string) (TieBreaker, error) {
	switch name {
	case "", "source":
		return TieBreakSource, nil
	case "target":
		return TieBreakTarget, nil
	default:
		return 0, fmt.Errorf("unknown tie_breaker %q", name)
	}
}

// FieldRule 单个字段的合并规则
type FieldRule struct {
	Field string
	Rule  MergeRule
}

// TablePolicy 单表策略（加载后不可变）
type TablePolicy struct {
	Table        string // 默认策略为空
	Strategy     Strategy
	CompareField string
	TieBreaker   TieBreaker
	MergeRules   []FieldRule // 按字段名排序
}

// Set 已加载的策略集合
type Set struct {
	defaults TablePolicy
	tables   map[string]TablePolicy
}

// StrategyFor 返回表的策略；未配置的表使用全局默认策略
func (s *Set) StrategyFor(table string) TablePolicy {
	if p, ok := s.tables[table]; ok {
		return p
	}
	return s.defaults
}

// Default 全局默认策略
func (s *Set) Default() TablePolicy {
	return s.defaults
}

// Tables 已配置的表名（排序）
func (s *Set) Tables() []string {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
