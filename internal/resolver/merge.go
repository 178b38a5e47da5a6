package resolver

import (
	"errors"
	"fmt"

	"wisefido-sync-resolver/internal/models"
	"wisefido-sync-resolver/internal/policy"
)

// Merge 字段级合并
// 以 target 的完整副本为基础（未配置规则的字段保留 target 值），再逐字段应用规则。
// append/union 字段任一侧不是列表时，直接取 source 的原始值。
func Merge(source, target *models.Row, rules []policy.FieldRule, compareField string) (*models.Row, error) {
	if source == nil || target == nil {
		return nil, errors.New("merge requires both source and target rows")
	}

	merged := target.Clone()
	for _, fr := range rules {
		switch fr.Rule {
		case policy.RuleAppend:
			sv, tv := listOperands(source, target, fr.Field)
			if sv.IsList() && tv.IsList() {
				merged.Set(fr.Field, appendNovel(tv, sv))
			} else {
				merged.Set(fr.Field, sv.Clone())
			}

		case policy.RuleUnion:
			sv, tv := listOperands(source, target, fr.Field)
			if sv.IsList() && tv.IsList() {
				merged.Set(fr.Field, union(tv, sv))
			} else {
				merged.Set(fr.Field, sv.Clone())
			}

		case policy.RuleNewestWins:
			// 比较整行的时间戳列，而非字段级时间戳
			st, serr := readTimestamp(source, compareField)
			tt, terr := readTimestamp(target, compareField)
			if serr == nil && terr == nil && st.After(tt) {
				if v, ok := source.Get(fr.Field); ok {
					merged.Set(fr.Field, v.Clone())
				}
			}

		case policy.RuleSourceWins:
			if v, ok := source.Get(fr.Field); ok {
				merged.Set(fr.Field, v.Clone())
			}

		case policy.RuleTargetWins:
			// 已在 merged 中

		default:
			return nil, fmt.Errorf("unsupported merge rule %s for field %s", fr.Rule, fr.Field)
		}
	}
	return merged, nil
}

// listOperands 缺失的字段按空列表处理
func listOperands(source, target *models.Row, field string) (models.Value, models.Value) {
	sv, ok := source.Get(field)
	if !ok {
		sv = models.List()
	}
	tv, ok := target.Get(field)
	if !ok {
		tv = models.List()
	}
	return sv, tv
}

// appendNovel target 顺序在前，追加 target 中不存在的 source 元素
func appendNovel(target, source models.Value) models.Value {
	seen := make(map[string]struct{}, len(target.Items()))
	out := make([]models.Value, 0, len(target.Items())+len(source.Items()))
	for _, item := range target.Items() {
		seen[item.Key()] = struct{}{}
		out = append(out, item.Clone())
	}
	for _, item := range source.Items() {
		if _, ok := seen[item.Key()]; ok {
			continue
		}
		out = append(out, item.Clone())
	}
	return models.List(out...)
}

// union 集合并集（结果顺序不作保证，当前实现为 target 在前、去重）
func union(target, source models.Value) models.Value {
	seen := make(map[string]struct{})
	var out []models.Value
	for _, items := range [][]models.Value{target.Items(), source.Items()} {
		for _, item := range items {
			k := item.Key()
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, item.Clone())
		}
	}
	return models.List(out...)
}
