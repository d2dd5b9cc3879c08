package service

import (
	"context"
	"time"

	"haccp-core/internal/domain"
	"haccp-core/internal/metrics"
	"haccp-core/internal/risk"

	"go.uber.org/zap"
)

// AuditSink 审计事件 sink
type AuditSink interface {
	Record(ctx context.Context, ev domain.AuditEvent) error
}

type options struct {
	audit   AuditSink
	metrics *metrics.Metrics
	now     func() time.Time
	risk    risk.Config
}

// Option 服务的可选依赖
type Option func(*options)

// WithAuditSink 审计
func WithAuditSink(a AuditSink) Option { return func(o *options) { o.audit = a } }

// WithMetrics 指标
func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithClock 测试用时钟
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithRiskDefaults 产品未配置风险参数时的默认值
func WithRiskDefaults(cfg risk.Config) Option { return func(o *options) { o.risk = cfg } }

func applyOptions(opts []Option) options {
	o := options{now: time.Now, risk: risk.DefaultConfig}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// recordAudit 审计失败只记日志
func recordAudit(ctx context.Context, sink AuditSink, logger *zap.Logger, ev domain.AuditEvent) {
	if sink == nil {
		return
	}
	if err := sink.Record(ctx, ev); err != nil {
		logger.Warn("Failed to record audit event",
			zap.String("action", ev.Action),
			zap.String("resource_id", ev.ResourceID),
			zap.Error(err),
		)
	}
}
