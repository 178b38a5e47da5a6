package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultTopicPrefix 主题前缀，完整主题为 {prefix}/{client_id}/{table}
const DefaultTopicPrefix = "sync/conflicts/manual"

const defaultPublishTimeout = 2 * time.Second

// Publisher MQTT 发布接口（internal/common/mqtt.Client 实现）
type Publisher interface {
	Publish(topic string, payload []byte, timeout time.Duration) error
}

// MQTTNotifier 发布到 MQTT 主题
type MQTTNotifier struct {
	publisher   Publisher
	topicPrefix string
}

// NewMQTTNotifier 创建 MQTT 通知
func NewMQTTNotifier(publisher Publisher, topicPrefix string) *MQTTNotifier {
	if topicPrefix == "" {
		topicPrefix = DefaultTopicPrefix
	}
	return &MQTTNotifier{
		publisher:   publisher,
		topicPrefix: strings.TrimSuffix(topicPrefix, "/"),
	}
}

func (n *MQTTNotifier) NotifyManual(ctx context.Context, review ManualReview) error {
	payload, err := json.Marshal(review)
	if err != nil {
		return fmt.Errorf("failed to marshal manual review: %w", err)
	}

	timeout := defaultPublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	return n.publisher.Publish(n.Topic(review), payload, timeout)
}

// Topic 返回通知主题；主题层级中的通配符和分隔符替换为 '_'
func (n *MQTTNotifier) Topic(review ManualReview) string {
	return n.topicPrefix + "/" + topicLevel(review.ClientID) + "/" + topicLevel(review.Table)
}

func topicLevel(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
