package notify

import (
	"context"
	"fmt"

	"haccp-core/common/redis"
	"haccp-core/internal/domain"

	"go.uber.org/zap"
)

// 默认 Redis Stream 名称
const (
	NotificationStream = "haccp:notifications"
	AuditStream        = "haccp:audit"

	MsgTypeNotification = "notification"
	MsgTypeAudit        = "audit_event"
)

// StreamNotifier 把通知写入 Redis Stream，由通知服务消费投递
type StreamNotifier struct {
	client *redis.Client
	stream string
	opts   redis.StreamOptions
	logger *zap.Logger
}

// NewStreamNotifier 创建通知 sink，stream 为空时使用默认名称
func NewStreamNotifier(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *StreamNotifier {
	if stream == "" {
		stream = NotificationStream
	}
	return &StreamNotifier{
		client: client,
		stream: stream,
		opts:   redis.StreamOptions{MaxLen: maxLen},
		logger: logger,
	}
}

// Notify 实现 deviation.Notifier
func (n *StreamNotifier) Notify(ctx context.Context, msg domain.Notification) error {
	if msg.UserID == "" {
		return fmt.Errorf("%w: notification has no recipient", domain.ErrValidation)
	}
	id, err := redis.PublishJSONToStream(ctx, n.client, n.stream, MsgTypeNotification, msg, n.opts)
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	n.logger.Debug("Notification published",
		zap.String("stream", n.stream),
		zap.String("message_id", id),
		zap.String("user_id", msg.UserID),
		zap.String("category", msg.Category),
	)
	return nil
}

// StreamAuditSink 审计事件写入 Redis Stream
type StreamAuditSink struct {
	client *redis.Client
	stream string
	opts   redis.StreamOptions
}

// NewStreamAuditSink 创建审计 sink
func NewStreamAuditSink(client *redis.Client, stream string, maxLen int64) *StreamAuditSink {
	if stream == "" {
		stream = AuditStream
	}
	return &StreamAuditSink{
		client: client,
		stream: stream,
		opts:   redis.StreamOptions{MaxLen: maxLen},
	}
}

// Record 实现 AuditSink
func (s *StreamAuditSink) Record(ctx context.Context, ev domain.AuditEvent) error {
	if _, err := redis.PublishJSONToStream(ctx, s.client, s.stream, MsgTypeAudit, ev, s.opts); err != nil {
		return fmt.Errorf("failed to publish audit event: %w", err)
	}
	return nil
}
