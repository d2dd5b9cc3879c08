package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"haccp-core/internal/domain"
	"haccp-core/internal/repository"
	"haccp-core/internal/schedule"
	"haccp-core/internal/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CCPService 关键控制点服务接口
type CCPService interface {
	CreateCCP(ctx context.Context, req CreateCCPRequest) (*CreateCCPResponse, error)
	GetCCP(ctx context.Context, ccpID string) (*domain.CCP, error)
}

type ccpService struct {
	hazards   repository.HazardRepository
	ccps      repository.CCPRepository
	scheduler *schedule.Scheduler
	audit     AuditSink
	logger    *zap.Logger
	now       func() time.Time
}

// NewCCPService 创建 CCP 服务
func NewCCPService(hazards repository.HazardRepository, ccps repository.CCPRepository, scheduler *schedule.Scheduler, logger *zap.Logger, opts ...Option) CCPService {
	o := applyOptions(opts)
	return &ccpService{
		hazards:   hazards,
		ccps:      ccps,
		scheduler: scheduler,
		audit:     o.audit,
		logger:    logger,
		now:       o.now,
	}
}

// ScheduleInput 监控计划
type ScheduleInput struct {
	ScheduleType           domain.ScheduleType `json:"schedule_type" validate:"required,oneof=interval cron manual"`
	IntervalMinutes        *int                `json:"interval_minutes,omitempty"`
	CronExpression         *string             `json:"cron_expression,omitempty"`
	ToleranceWindowMinutes int                 `json:"tolerance_window_minutes" validate:"gte=0"`
}

// CreateCCPRequest 新建 CCP
type CreateCCPRequest struct {
	HazardID string `json:"hazard_id" validate:"required"`
	// ManualDetermination 未经决策树、由 HACCP 小组直接认定为 CCP
	ManualDetermination bool   `json:"manual_determination"`
	CCPNumber           string `json:"ccp_number" validate:"notblank"`
	CCPName             string `json:"ccp_name" validate:"notblank"`

	CriticalLimitMin  *float64               `json:"critical_limit_min,omitempty"`
	CriticalLimitMax  *float64               `json:"critical_limit_max,omitempty"`
	CriticalLimitUnit string                 `json:"critical_limit_unit,omitempty"`
	CriticalLimits    []domain.CriticalLimit `json:"critical_limits,omitempty"`

	MonitoringResponsible   *string `json:"monitoring_responsible,omitempty"`
	VerificationResponsible *string `json:"verification_responsible,omitempty"`
	MonitoringFrequency     string  `json:"monitoring_frequency,omitempty"`
	MonitoringMethod        string  `json:"monitoring_method,omitempty"`
	VerificationFrequency   string  `json:"verification_frequency,omitempty"`
	VerificationMethod      string  `json:"verification_method,omitempty"`

	Schedule *ScheduleInput `json:"schedule,omitempty"`
	UserID   string         `json:"user_id" validate:"required"`
}

// CreateCCPResponse 新建 CCP 结果
type CreateCCPResponse struct {
	CCP      *domain.CCP                `json:"ccp"`
	Schedule *domain.MonitoringSchedule `json:"schedule,omitempty"`
}

// CreateCCP 为已判定为 CCP 的危害建立关键控制点及其监控计划
func (s *ccpService) CreateCCP(ctx context.Context, req CreateCCPRequest) (*CreateCCPResponse, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if req.Schedule != nil {
		if err := validation.Struct(req.Schedule); err != nil {
			return nil, err
		}
	}
	if sameUser(req.MonitoringResponsible, req.VerificationResponsible) {
		return nil, fmt.Errorf("%w: monitoring and verification must be assigned to different users", domain.ErrAuthorization)
	}

	h, err := s.hazards.GetHazard(ctx, req.HazardID)
	if err != nil {
		return nil, err
	}
	if existing, err := s.ccps.GetCCPByHazard(ctx, h.HazardID); err == nil {
		return nil, fmt.Errorf("%w: hazard %s already has ccp %s", domain.ErrValidation, h.HazardID, existing.CCPID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing ccp: %w", err)
	}
	now := s.now()
	markHazard := !h.IsCCP
	if markHazard {
		if !req.ManualDetermination {
			return nil, fmt.Errorf("%w: hazard %s has not been determined to be a CCP", domain.ErrPrecondition, h.HazardID)
		}
		by := req.UserID
		h.IsCCP = true
		h.CCPJustification = "manual CCP determination"
		h.DecisionTreeRunAt = &now
		h.DecisionTreeRunBy = &by
		h.UpdatedAt = now
	}

	c := &domain.CCP{
		CCPID:                   uuid.New().String(),
		ProductID:               h.ProductID,
		HazardID:                h.HazardID,
		CCPNumber:               strings.TrimSpace(req.CCPNumber),
		CCPName:                 strings.TrimSpace(req.CCPName),
		Status:                  domain.CCPActive,
		CriticalLimitMin:        req.CriticalLimitMin,
		CriticalLimitMax:        req.CriticalLimitMax,
		CriticalLimitUnit:       req.CriticalLimitUnit,
		CriticalLimits:          req.CriticalLimits,
		MonitoringResponsible:   req.MonitoringResponsible,
		VerificationResponsible: req.VerificationResponsible,
		MonitoringFrequency:     req.MonitoringFrequency,
		MonitoringMethod:        req.MonitoringMethod,
		VerificationFrequency:   req.VerificationFrequency,
		VerificationMethod:      req.VerificationMethod,
		CreatedBy:               req.UserID,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if !c.HasRange() && len(c.CriticalLimits) == 0 {
		return nil, fmt.Errorf("%w: a CCP needs a critical limit range or at least one critical limit", domain.ErrValidation)
	}
	if err := c.ValidateLimits(); err != nil {
		return nil, err
	}

	var sch *domain.MonitoringSchedule
	if req.Schedule != nil {
		sch = &domain.MonitoringSchedule{
			ScheduleID:             uuid.New().String(),
			CCPID:                  c.CCPID,
			ScheduleType:           req.Schedule.ScheduleType,
			IntervalMinutes:        req.Schedule.IntervalMinutes,
			CronExpression:         req.Schedule.CronExpression,
			ToleranceWindowMinutes: req.Schedule.ToleranceWindowMinutes,
			IsActive:               true,
			UpdatedAt:              now,
		}
		if err := s.scheduler.Validate(sch); err != nil {
			return nil, err
		}
		sch.NextDueTime = s.scheduler.CalculateNextDue(sch, now).Time
	}

	var marked *domain.Hazard
	if markHazard {
		marked = h
	}
	if err := s.ccps.CreateCCPWithSchedule(ctx, marked, c, sch); err != nil {
		return nil, fmt.Errorf("failed to create ccp: %w", err)
	}

	s.logger.Info("CCP created",
		zap.String("ccp_id", c.CCPID),
		zap.String("ccp_number", c.CCPNumber),
		zap.String("hazard_id", c.HazardID),
		zap.Bool("scheduled", sch != nil),
	)
	recordAudit(ctx, s.audit, s.logger, domain.AuditEvent{
		ActorID:    req.UserID,
		Action:     "ccp.create",
		Resource:   "ccp",
		ResourceID: c.CCPID,
		Details:    map[string]any{"hazard_id": c.HazardID, "manual": req.ManualDetermination},
		OccurredAt: now,
	})
	return &CreateCCPResponse{CCP: c, Schedule: sch}, nil
}

// GetCCP 查询 CCP
func (s *ccpService) GetCCP(ctx context.Context, ccpID string) (*domain.CCP, error) {
	return s.ccps.GetCCP(ctx, ccpID)
}

func sameUser(a, b *string) bool {
	return a != nil && b != nil && *a != "" && *a == *b
}
