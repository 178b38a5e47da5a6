package resolver

import (
	"errors"
	"math"
	"strings"
	"time"

	"wisefido-sync-resolver/internal/models"
)

// ErrTimestampUnusable 时间戳列缺失或无法解析；不会返回给调用方，只触发 tie-breaker
var ErrTimestampUnusable = errors.New("timestamp unusable")

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// readTimestamp 读取行中的时间戳列
// 字符串按 ISO-8601 系列格式解析（无时区按 UTC）；整数/浮点按 Unix 秒处理
func readTimestamp(row *models.Row, field string) (time.Time, error) {
	v, ok := row.Get(field)
	if !ok || v.IsNull() {
		return time.Time{}, ErrTimestampUnusable
	}
	return parseTimestamp(v)
}

func parseTimestamp(v models.Value) (time.Time, error) {
	switch v.Kind() {
	case models.KindString:
		s := strings.TrimSpace(v.Str())
		if s == "" {
			return time.Time{}, ErrTimestampUnusable
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, ErrTimestampUnusable
	case models.KindInt:
		return time.Unix(v.Int(), 0).UTC(), nil
	case models.KindFloat:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return time.Time{}, ErrTimestampUnusable
		}
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	default:
		return time.Time{}, ErrTimestampUnusable
	}
}
