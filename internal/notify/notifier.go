// Package notify 人工复核通知：manual 策略的冲突推送到 MQTT 主题或 HTTP webhook
package notify

import (
	"context"
	"errors"

	"wisefido-sync-resolver/internal/models"
)

// ManualReview 待人工复核的冲突
type ManualReview struct {
	RequestID    string              `json:"request_id,omitempty"`
	MessageID    string              `json:"message_id,omitempty"`
	ClientID     string              `json:"client_id"`
	Table        string              `json:"table"`
	RecordID     string              `json:"record_id"`
	ConflictType models.ConflictType `json:"conflict_type"`
	Source       *models.Row         `json:"source_row"`
	Target       *models.Row         `json:"target_row"`
}

// Notifier 通知接口
type Notifier interface {
	NotifyManual(ctx context.Context, review ManualReview) error
}

// Multi 依次通知所有接收方，返回合并后的错误
type Multi []Notifier

func (m Multi) NotifyManual(ctx context.Context, review ManualReview) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyManual(ctx, review); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
