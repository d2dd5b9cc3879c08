package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"haccp-core/internal/deviation"
	"haccp-core/internal/domain"
	"haccp-core/internal/evaluator"
	"haccp-core/internal/metrics"
	"haccp-core/internal/repository"
	"haccp-core/internal/schedule"
	"haccp-core/internal/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DeviationHandler 超限时的偏差响应
type DeviationHandler interface {
	HandleDeviation(ctx context.Context, ccp *domain.CCP, log *domain.MonitoringLog, actingUserID string) deviation.Result
}

// MonitoringService CCP 监控服务接口
type MonitoringService interface {
	RecordMonitoringLog(ctx context.Context, req RecordMonitoringLogRequest) (*RecordMonitoringLogResponse, error)
	VerifyMonitoringLog(ctx context.Context, req VerifyMonitoringLogRequest) (*domain.MonitoringLog, error)
	GetMonitoringScheduleStatus(ctx context.Context, ccpID string) (*schedule.Status, error)
	// ListOverdueSchedules 所有启用计划中已逾期的
	ListOverdueSchedules(ctx context.Context) ([]schedule.Status, error)
}

type monitoringService struct {
	ccps      repository.CCPRepository
	logs      repository.MonitoringLogRepository
	batches   repository.BatchRepository
	users     repository.UserRepository
	scheduler *schedule.Scheduler
	deviation DeviationHandler
	audit     AuditSink
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// MonitoringDeps 监控服务依赖
type MonitoringDeps struct {
	CCPs      repository.CCPRepository
	Logs      repository.MonitoringLogRepository
	Batches   repository.BatchRepository
	Users     repository.UserRepository
	Scheduler *schedule.Scheduler
	Deviation DeviationHandler
}

// NewMonitoringService 创建监控服务
func NewMonitoringService(deps MonitoringDeps, logger *zap.Logger, opts ...Option) MonitoringService {
	o := applyOptions(opts)
	return &monitoringService{
		ccps:      deps.CCPs,
		logs:      deps.Logs,
		batches:   deps.Batches,
		users:     deps.Users,
		scheduler: deps.Scheduler,
		deviation: deps.Deviation,
		audit:     o.audit,
		metrics:   o.metrics,
		logger:    logger,
		now:       o.now,
	}
}

// RecordMonitoringLogRequest 记录监控
type RecordMonitoringLogRequest struct {
	CCPID                       string         `json:"ccp_id" validate:"required"`
	MeasuredValue               float64        `json:"measured_value"`
	Unit                        string         `json:"unit,omitempty"`
	BatchID                     *string        `json:"batch_id,omitempty"`
	AdditionalParameters        map[string]any `json:"additional_parameters,omitempty"`
	Observations                string         `json:"observations,omitempty"`
	CorrectiveActionTaken       bool           `json:"corrective_action_taken"`
	CorrectiveActionDescription string         `json:"corrective_action_description,omitempty"`
	EquipmentID                 *string        `json:"equipment_id,omitempty"`
	// MonitoredAt 为空时取当前时间
	MonitoredAt *time.Time `json:"monitored_at,omitempty"`
	UserID      string     `json:"user_id" validate:"required"`
	// AllowOverride 主管代录，需要 monitoring override 权限
	AllowOverride bool `json:"allow_override"`
}

// RecordMonitoringLogResponse 记录结果
type RecordMonitoringLogResponse struct {
	Log              *domain.MonitoringLog `json:"log"`
	AlertCreated     bool                  `json:"alert_created"`
	NCCreated        bool                  `json:"nc_created"`
	BatchQuarantined bool                  `json:"batch_quarantined"`
	NCID             *string               `json:"nc_id,omitempty"`
	// DeviationErrors 失败的偏差响应子步骤
	DeviationErrors map[string]string `json:"deviation_errors,omitempty"`
	NextDueTime     *time.Time        `json:"next_due_time,omitempty"`
}

// RecordMonitoringLog 记录一次监控并判定是否超限，超限时触发偏差响应
func (s *monitoringService) RecordMonitoringLog(ctx context.Context, req RecordMonitoringLogRequest) (*RecordMonitoringLogResponse, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	ccp, err := s.ccps.GetCCP(ctx, req.CCPID)
	if err != nil {
		return nil, err
	}
	if ccp.Status != domain.CCPActive {
		return nil, fmt.Errorf("%w: ccp %s is %s", domain.ErrPrecondition, ccp.CCPID, ccp.Status)
	}
	if err := s.authorize(ctx, req.UserID, ccp.MonitoringResponsible, req.AllowOverride, domain.PermissionMonitoringOverride, "record monitoring"); err != nil {
		return nil, err
	}

	now := s.now()
	if req.EquipmentID != nil && *req.EquipmentID != "" {
		if err := s.checkEquipment(ctx, *req.EquipmentID, now); err != nil {
			return nil, err
		}
	}
	if req.BatchID != nil && *req.BatchID != "" {
		if _, err := s.batches.GetBatch(ctx, *req.BatchID); err != nil {
			return nil, err
		}
	}

	eval := evaluator.Evaluate(ccp, req.MeasuredValue, req.AdditionalParameters)
	monitoredAt := now
	if req.MonitoredAt != nil {
		monitoredAt = *req.MonitoredAt
	}
	log := &domain.MonitoringLog{
		LogID:                       uuid.New().String(),
		CCPID:                       ccp.CCPID,
		BatchID:                     req.BatchID,
		MeasuredValue:               req.MeasuredValue,
		Unit:                        req.Unit,
		IsWithinLimits:              eval.WithinLimits,
		AdditionalParameters:        req.AdditionalParameters,
		LimitResults:                eval.LimitResults,
		Observations:                req.Observations,
		CorrectiveActionTaken:       req.CorrectiveActionTaken,
		CorrectiveActionDescription: req.CorrectiveActionDescription,
		EquipmentID:                 req.EquipmentID,
		MonitoredAt:                 monitoredAt,
		CreatedBy:                   req.UserID,
		CreatedAt:                   now,
	}
	if log.Unit == "" {
		log.Unit = ccp.CriticalLimitUnit
	}
	if req.CorrectiveActionTaken {
		by := req.UserID
		log.CorrectiveActionBy = &by
	}
	if err := s.logs.CreateMonitoringLog(ctx, log); err != nil {
		return nil, fmt.Errorf("failed to create monitoring log: %w", err)
	}
	s.metrics.ObserveMonitoringLog(log.IsWithinLimits)

	resp := &RecordMonitoringLogResponse{Log: log}
	resp.NextDueTime = s.advanceSchedule(ctx, ccp.CCPID, now)

	if !log.IsWithinLimits {
		s.logger.Warn("CCP deviation detected",
			zap.String("ccp_id", ccp.CCPID),
			zap.String("ccp_number", ccp.CCPNumber),
			zap.String("log_id", log.LogID),
			zap.Float64("measured_value", log.MeasuredValue),
			zap.String("limits", evaluator.FormatLimits(ccp)),
		)
		if s.deviation != nil {
			res := s.deviation.HandleDeviation(ctx, ccp, log, req.UserID)
			resp.AlertCreated = res.AlertCreated
			resp.NCCreated = res.NCCreated
			resp.BatchQuarantined = res.BatchQuarantined
			resp.NCID = res.NCID
			resp.DeviationErrors = res.Errors
		}
	}

	recordAudit(ctx, s.audit, s.logger, domain.AuditEvent{
		ActorID:    req.UserID,
		Action:     "monitoring.record",
		Resource:   "ccp_monitoring_log",
		ResourceID: log.LogID,
		Details: map[string]any{
			"ccp_id":           ccp.CCPID,
			"is_within_limits": log.IsWithinLimits,
			"override":         req.AllowOverride && !isUser(ccp.MonitoringResponsible, req.UserID),
		},
		OccurredAt: now,
	})
	return resp, nil
}

// authorize 负责人本人，或持有 override 权限且显式请求代录
func (s *monitoringService) authorize(ctx context.Context, userID string, responsible *string, allowOverride bool, permission, action string) error {
	if isUser(responsible, userID) {
		return nil
	}
	if allowOverride {
		ok, err := s.users.HasPermission(ctx, userID, permission)
		if err != nil {
			return fmt.Errorf("failed to check permission: %w", err)
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: user %s is not allowed to %s for this ccp", domain.ErrAuthorization, userID, action)
}

func (s *monitoringService) checkEquipment(ctx context.Context, equipmentID string, now time.Time) error {
	eq, err := s.logs.GetEquipment(ctx, equipmentID)
	if err != nil {
		return err
	}
	if !eq.IsActive {
		return fmt.Errorf("%w: equipment %s is not active", domain.ErrPrecondition, equipmentID)
	}
	if !eq.CalibrationValid(now) {
		return fmt.Errorf("%w: equipment %s calibration is not valid", domain.ErrPrecondition, equipmentID)
	}
	return nil
}

// advanceSchedule 推进监控计划；计划为辅助信息，失败只记日志
func (s *monitoringService) advanceSchedule(ctx context.Context, ccpID string, now time.Time) *time.Time {
	sch, err := s.ccps.GetSchedule(ctx, ccpID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("Failed to load monitoring schedule", zap.String("ccp_id", ccpID), zap.Error(err))
		}
		return nil
	}
	if !sch.IsActive {
		return sch.NextDueTime
	}
	next := s.scheduler.Advance(sch, now)
	if next.Degraded {
		s.metrics.ObserveScheduleDegraded()
	}
	if err := s.ccps.SaveSchedule(ctx, sch); err != nil {
		s.logger.Warn("Failed to save monitoring schedule", zap.String("ccp_id", ccpID), zap.Error(err))
	}
	return next.Time
}

// VerifyMonitoringLogRequest 验证监控记录
type VerifyMonitoringLogRequest struct {
	CCPID              string `json:"ccp_id" validate:"required"`
	LogID              string `json:"log_id" validate:"required"`
	VerifierID         string `json:"verifier_id" validate:"required"`
	VerificationResult string `json:"verification_result" validate:"notblank"`
	VerificationNotes  string `json:"verification_notes,omitempty"`
	AllowOverride      bool   `json:"allow_override"`
}

// VerifyMonitoringLog 验证人必须不同于记录人，且为验证负责人或持有 override 权限
func (s *monitoringService) VerifyMonitoringLog(ctx context.Context, req VerifyMonitoringLogRequest) (*domain.MonitoringLog, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	log, err := s.logs.GetMonitoringLog(ctx, req.LogID)
	if err != nil {
		return nil, err
	}
	if log.CCPID != req.CCPID {
		return nil, fmt.Errorf("%w: monitoring log %s does not belong to ccp %s", domain.ErrNotFound, req.LogID, req.CCPID)
	}
	if log.IsVerified {
		return nil, fmt.Errorf("%w: monitoring log %s is already verified", domain.ErrValidation, req.LogID)
	}
	if log.CreatedBy == req.VerifierID {
		return nil, fmt.Errorf("%w: a monitoring log cannot be verified by the user who recorded it", domain.ErrAuthorization)
	}
	ccp, err := s.ccps.GetCCP(ctx, req.CCPID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, req.VerifierID, ccp.VerificationResponsible, req.AllowOverride, domain.PermissionVerificationOverride, "verify monitoring"); err != nil {
		return nil, err
	}

	now := s.now()
	by := req.VerifierID
	log.IsVerified = true
	log.VerifiedBy = &by
	log.VerifiedAt = &now
	log.VerificationResult = req.VerificationResult
	log.VerificationNotes = req.VerificationNotes
	if err := s.logs.SaveVerification(ctx, log); err != nil {
		return nil, fmt.Errorf("failed to save verification: %w", err)
	}

	s.logger.Info("Monitoring log verified",
		zap.String("log_id", log.LogID),
		zap.String("verifier_id", req.VerifierID),
		zap.String("result", req.VerificationResult),
	)
	recordAudit(ctx, s.audit, s.logger, domain.AuditEvent{
		ActorID:    req.VerifierID,
		Action:     "monitoring.verify",
		Resource:   "ccp_monitoring_log",
		ResourceID: log.LogID,
		Details:    map[string]any{"result": req.VerificationResult},
		OccurredAt: now,
	})
	return log, nil
}

// GetMonitoringScheduleStatus 查询 CCP 监控计划状态
func (s *monitoringService) GetMonitoringScheduleStatus(ctx context.Context, ccpID string) (*schedule.Status, error) {
	sch, err := s.ccps.GetSchedule(ctx, ccpID)
	if err != nil {
		return nil, err
	}
	last, err := s.logs.LastMonitoredAt(ctx, ccpID)
	if err != nil {
		return nil, fmt.Errorf("failed to get last monitoring time: %w", err)
	}
	st := schedule.StatusOf(sch, last, s.now())
	return &st, nil
}

// ListOverdueSchedules 扫描启用的计划，返回已逾期的
func (s *monitoringService) ListOverdueSchedules(ctx context.Context) ([]schedule.Status, error) {
	schedules, err := s.ccps.ListActiveSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	now := s.now()
	var overdue []schedule.Status
	for _, sch := range schedules {
		if !schedule.IsOverdue(sch, now) {
			continue
		}
		last, err := s.logs.LastMonitoredAt(ctx, sch.CCPID)
		if err != nil {
			s.logger.Warn("Failed to get last monitoring time", zap.String("ccp_id", sch.CCPID), zap.Error(err))
		}
		overdue = append(overdue, schedule.StatusOf(sch, last, now))
	}
	return overdue, nil
}

func isUser(id *string, userID string) bool {
	return id != nil && *id != "" && *id == userID
}
