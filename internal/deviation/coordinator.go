package deviation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"haccp-core/internal/domain"
	"haccp-core/internal/evaluator"
	"haccp-core/internal/metrics"
	"haccp-core/internal/validation"

	"go.uber.org/zap"
)

const (
	// NCSource 自动开立 NC 的来源
	NCSource = "HACCP"
	// QuarantineReason 自动隔离原因
	QuarantineReason = "CCP_Out_of_Spec"
	// NCResolutionWindow NC 目标解决期限
	NCResolutionWindow = 7 * 24 * time.Hour

	// NotificationCategory 偏差报警分类
	NotificationCategory = "ccp_deviation"
)

// Notifier 通知 sink
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// NCOpener 外部不符合项服务
type NCOpener interface {
	OpenNonConformance(ctx context.Context, req domain.NonConformanceRequest) (*domain.NonConformance, error)
}

// AuditSink 审计事件 sink
type AuditSink interface {
	Record(ctx context.Context, ev domain.AuditEvent) error
}

// BatchStore 批次存取
type BatchStore interface {
	GetBatch(ctx context.Context, batchID string) (*domain.Batch, error)
	UpdateBatch(ctx context.Context, b *domain.Batch) error
}

// LogLinker 把 NC 编号回写到监控记录
type LogLinker interface {
	LinkNonConformance(ctx context.Context, logID, ncID string) error
}

// Result 偏差响应结果，每个子步骤独立报告
type Result struct {
	AlertCreated     bool    `json:"alert_created"`
	NCCreated        bool    `json:"nc_created"`
	BatchQuarantined bool    `json:"batch_quarantined"`
	NCID             *string `json:"nc_id,omitempty"`
	// Errors 失败子步骤的错误（effect -> message）
	Errors map[string]string `json:"errors,omitempty"`
}

func (r *Result) fail(effect string, err error) {
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	r.Errors[effect] = err.Error()
}

// Coordinator 偏差响应协调器：报警、开立 NC、隔离批次
type Coordinator struct {
	notifier Notifier
	nc       NCOpener
	batches  BatchStore
	linker   LogLinker
	audit    AuditSink
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// Option 可选依赖
type Option func(*Coordinator)

// WithLogLinker 开立 NC 后回写监控记录
func WithLogLinker(l LogLinker) Option { return func(c *Coordinator) { c.linker = l } }

// WithAuditSink 处置审计
func WithAuditSink(a AuditSink) Option { return func(c *Coordinator) { c.audit = a } }

// WithMetrics 指标
func WithMetrics(m *metrics.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

// WithClock 测试用时钟
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// NewCoordinator 创建协调器
func NewCoordinator(notifier Notifier, nc NCOpener, batches BatchStore, logger *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		notifier: notifier,
		nc:       nc,
		batches:  batches,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleDeviation 处理一次超限监控。三个子步骤互不影响，失败只记录日志，不返回错误
func (c *Coordinator) HandleDeviation(ctx context.Context, ccp *domain.CCP, log *domain.MonitoringLog, actingUserID string) Result {
	var res Result
	now := c.now()

	var batch *domain.Batch
	if log.BatchID != nil && *log.BatchID != "" {
		b, err := c.batches.GetBatch(ctx, *log.BatchID)
		if err != nil {
			c.logger.Error("Failed to load batch for deviation",
				zap.String("batch_id", *log.BatchID),
				zap.String("log_id", log.LogID),
				zap.Error(err),
			)
		} else {
			batch = b
		}
	}

	// 1. 报警
	if err := c.sendAlert(ctx, ccp, log, batch); err != nil {
		res.fail("alert", err)
		c.metrics.ObserveDeviationEffect("alert", "failed")
		c.logger.Error("Failed to create deviation alert",
			zap.String("ccp_id", ccp.CCPID),
			zap.String("log_id", log.LogID),
			zap.Error(err),
		)
	} else {
		res.AlertCreated = true
		c.metrics.ObserveDeviationEffect("alert", "created")
	}

	// 2. 不符合项
	nc, err := c.openNC(ctx, ccp, log, actingUserID, now)
	if err != nil {
		res.fail("nc", err)
		c.metrics.ObserveDeviationEffect("nc", "failed")
		c.logger.Error("Failed to open non-conformance",
			zap.String("ccp_id", ccp.CCPID),
			zap.String("log_id", log.LogID),
			zap.Error(err),
		)
	} else {
		res.NCCreated = true
		res.NCID = &nc.NCID
		c.metrics.ObserveDeviationEffect("nc", "created")
		c.logger.Info("Non-conformance opened for CCP deviation",
			zap.String("ccp_id", ccp.CCPID),
			zap.String("log_id", log.LogID),
			zap.String("nc_id", nc.NCID),
			zap.String("severity", string(nc.Severity)),
		)
		if c.linker != nil {
			if err := c.linker.LinkNonConformance(ctx, log.LogID, nc.NCID); err != nil {
				c.logger.Warn("Failed to link non-conformance to monitoring log",
					zap.String("log_id", log.LogID),
					zap.String("nc_id", nc.NCID),
					zap.Error(err),
				)
			} else {
				log.NonConformanceID = &nc.NCID
			}
		}
	}

	// 3. 批次隔离
	if log.BatchID != nil && *log.BatchID != "" {
		quarantined, err := c.quarantine(ctx, batch, ccp, log, res.NCID, actingUserID, now)
		switch {
		case err != nil:
			res.fail("quarantine", err)
			c.metrics.ObserveDeviationEffect("quarantine", "failed")
			c.logger.Error("Failed to quarantine batch",
				zap.String("batch_id", *log.BatchID),
				zap.String("log_id", log.LogID),
				zap.Error(err),
			)
		case quarantined:
			res.BatchQuarantined = true
			c.metrics.ObserveDeviationEffect("quarantine", "created")
		default:
			c.metrics.ObserveDeviationEffect("quarantine", "skipped")
		}
	}

	return res
}

func (c *Coordinator) sendAlert(ctx context.Context, ccp *domain.CCP, log *domain.MonitoringLog, batch *domain.Batch) error {
	if c.notifier == nil {
		return errors.New("notifier not configured")
	}
	limits := evaluator.FormatLimits(ccp)
	batchNumber := ""
	if batch != nil {
		batchNumber = batch.BatchNumber
	}

	msg := fmt.Sprintf("CCP %s (%s) out of limits: measured %g %s, limits %s",
		ccp.CCPNumber, ccp.CCPName, log.MeasuredValue, log.Unit, limits)
	if batchNumber != "" {
		msg += fmt.Sprintf(", batch %s", batchNumber)
	}

	data := map[string]any{
		"ccp_id":            ccp.CCPID,
		"ccp_number":        ccp.CCPNumber,
		"monitoring_log_id": log.LogID,
		"measured_value":    log.MeasuredValue,
		"unit":              log.Unit,
		"critical_limits":   limits,
	}
	if batchNumber != "" {
		data["batch_number"] = batchNumber
	}
	if ccp.CriticalLimitMin != nil {
		data["critical_limit_min"] = *ccp.CriticalLimitMin
	}
	if ccp.CriticalLimitMax != nil {
		data["critical_limit_max"] = *ccp.CriticalLimitMax
	}

	return c.notifier.Notify(ctx, domain.Notification{
		UserID:   ccp.AlertRecipient(),
		Title:    fmt.Sprintf("CCP deviation: %s", ccp.CCPNumber),
		Message:  msg,
		Priority: domain.PriorityHigh,
		Category: NotificationCategory,
		Data:     data,
	})
}

func (c *Coordinator) openNC(ctx context.Context, ccp *domain.CCP, log *domain.MonitoringLog, actingUserID string, now time.Time) (*domain.NonConformance, error) {
	if c.nc == nil {
		return nil, errors.New("non-conformance service not configured")
	}
	req := domain.NonConformanceRequest{
		Source: NCSource,
		Title:  fmt.Sprintf("CCP %s critical limit deviation", ccp.CCPNumber),
		Description: fmt.Sprintf("Monitoring log %s recorded %g %s against limits %s",
			log.LogID, log.MeasuredValue, log.Unit, evaluator.FormatLimits(ccp)),
		Severity:             evaluator.DeviationSeverity(ccp, log.MeasuredValue),
		ProductID:            ccp.ProductID,
		CCPID:                ccp.CCPID,
		MonitoringLogID:      log.LogID,
		BatchID:              log.BatchID,
		ReportedBy:           actingUserID,
		TargetResolutionDate: now.Add(NCResolutionWindow),
	}
	nc, err := c.nc.OpenNonConformance(ctx, req)
	if err != nil {
		return nil, err
	}
	if nc == nil || nc.NCID == "" {
		return nil, errors.New("non-conformance service returned no id")
	}
	return nc, nil
}

// quarantine 返回 (是否新隔离, 错误)；已隔离的批次保持不变
func (c *Coordinator) quarantine(ctx context.Context, batch *domain.Batch, ccp *domain.CCP, log *domain.MonitoringLog, ncID *string, actingUserID string, now time.Time) (bool, error) {
	if batch == nil {
		return false, fmt.Errorf("batch %s unavailable", *log.BatchID)
	}
	if batch.Status == domain.BatchQuarantined {
		c.logger.Info("Batch already quarantined, no-op",
			zap.String("batch_id", batch.BatchID),
			zap.String("log_id", log.LogID),
		)
		return false, nil
	}

	batch.Status = domain.BatchQuarantined
	batch.Quarantine = &domain.QuarantineInfo{
		Reason:           QuarantineReason,
		CCPID:            ccp.CCPID,
		CCPName:          ccp.CCPName,
		MonitoringLogID:  log.LogID,
		NonConformanceID: ncID,
		MeasuredValue:    log.MeasuredValue,
		CriticalLimitMin: ccp.CriticalLimitMin,
		CriticalLimitMax: ccp.CriticalLimitMax,
		QuarantinedBy:    actingUserID,
		QuarantinedAt:    now,
	}
	batch.UpdatedAt = now
	if err := c.batches.UpdateBatch(ctx, batch); err != nil {
		return false, err
	}
	c.logger.Info("Batch quarantined",
		zap.String("batch_id", batch.BatchID),
		zap.String("batch_number", batch.BatchNumber),
		zap.String("ccp_id", ccp.CCPID),
	)
	return true, nil
}

// DispositionRequest 隔离批次处置请求
type DispositionRequest struct {
	BatchID           string                 `json:"batch_id" validate:"required"`
	DispositionType   domain.DispositionType `json:"disposition_type" validate:"required,oneof=release dispose rework"`
	Reason            string                 `json:"reason" validate:"notblank"`
	ApproverID        string                 `json:"approver_id" validate:"required"`
	CorrectiveActions string                 `json:"corrective_actions,omitempty"`
	VerificationTests string                 `json:"verification_tests,omitempty"`
}

// DisposeBatch 处置隔离批次：release -> released，dispose -> disposed，rework -> in_production
func (c *Coordinator) DisposeBatch(ctx context.Context, req DispositionRequest) (*domain.Batch, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	target, _ := req.DispositionType.TargetStatus()

	batch, err := c.batches.GetBatch(ctx, req.BatchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != domain.BatchQuarantined {
		return nil, fmt.Errorf("%w: batch %s is %s, not quarantined", domain.ErrPrecondition, batch.BatchID, batch.Status)
	}

	now := c.now()
	batch.Disposition = &domain.DispositionInfo{
		DispositionType:   req.DispositionType,
		Reason:            req.Reason,
		ApprovedBy:        req.ApproverID,
		ApprovedAt:        now,
		CorrectiveActions: req.CorrectiveActions,
		VerificationTests: req.VerificationTests,
		PreviousStatus:    batch.Status,
	}
	batch.Status = target
	batch.UpdatedAt = now
	if err := c.batches.UpdateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to update batch: %w", err)
	}

	c.logger.Info("Batch disposition recorded",
		zap.String("batch_id", batch.BatchID),
		zap.String("disposition_type", string(req.DispositionType)),
		zap.String("approver_id", req.ApproverID),
	)
	c.recordAudit(ctx, domain.AuditEvent{
		ActorID:    req.ApproverID,
		Action:     "batch.disposition",
		Resource:   "batch",
		ResourceID: batch.BatchID,
		Details: map[string]any{
			"disposition_type": string(req.DispositionType),
			"reason":           req.Reason,
			"new_status":       string(target),
		},
		OccurredAt: now,
	})
	return batch, nil
}

func (c *Coordinator) recordAudit(ctx context.Context, ev domain.AuditEvent) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Record(ctx, ev); err != nil {
		c.logger.Warn("Failed to record audit event",
			zap.String("action", ev.Action),
			zap.String("resource_id", ev.ResourceID),
			zap.Error(err),
		)
	}
}
