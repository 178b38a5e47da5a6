package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookNotifier POST 到 HTTP webhook
type WebhookNotifier struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewWebhookNotifier 创建 webhook 通知
func NewWebhookNotifier(url string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookNotifier{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

func (n *WebhookNotifier) NotifyManual(ctx context.Context, review ManualReview) error {
	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(review).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("failed to call review webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("review webhook returned status %d", resp.StatusCode())
	}

	n.logger.Debug("Manual review webhook delivered",
		zap.String("table", review.Table),
		zap.String("record_id", review.RecordID),
		zap.Int("status_code", resp.StatusCode()),
	)
	return nil
}
