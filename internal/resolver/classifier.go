package resolver

import "wisefido-sync-resolver/internal/models"

// Classify 判断冲突类型（纯函数）
// 规则顺序：target 不存在 → insert；source 不存在 → delete；
// 两侧时间戳列都有值且不同 → update；其余 → custom
func Classify(source, target *models.Row, compareField string) models.ConflictType {
	if target == nil {
		return models.ConflictTypeInsert
	}
	if source == nil {
		return models.ConflictTypeDelete
	}

	sv, sok := source.Get(compareField)
	tv, tok := target.Get(compareField)
	if sok && tok && !sv.IsNull() && !tv.IsNull() && !sv.Equal(tv) {
		return models.ConflictTypeUpdate
	}
	return models.ConflictTypeCustom
}
