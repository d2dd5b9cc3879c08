package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"haccp-core/internal/decisiontree"
	"haccp-core/internal/domain"
	"haccp-core/internal/metrics"
	"haccp-core/internal/repository"
	"haccp-core/internal/risk"
	"haccp-core/internal/validation"
	"haccp-core/internal/worksheet"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HazardService 危害分析服务接口
type HazardService interface {
	// CalculateRisk 按产品风险配置计算评分和等级（不落库）
	CalculateRisk(ctx context.Context, req CalculateRiskRequest) (*CalculateRiskResponse, error)
	CreateHazard(ctx context.Context, req CreateHazardRequest) (*domain.Hazard, error)
	UpdateHazardRisk(ctx context.Context, req UpdateHazardRiskRequest) (*domain.Hazard, error)
	// RunDecisionTree 一次性启发式判定并写回危害
	RunDecisionTree(ctx context.Context, req RunDecisionTreeRequest) (*RunDecisionTreeResponse, error)
	DeleteHazard(ctx context.Context, req DeleteHazardRequest) error
	// ImportHazards 批量导入危害分析表的行
	ImportHazards(ctx context.Context, req ImportHazardsRequest) (*ImportHazardsResponse, error)
}

// hazardService 实现
type hazardService struct {
	products repository.ProductRepository
	hazards  repository.HazardRepository
	audit    AuditSink
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
	defaults risk.Config
}

// NewHazardService 创建危害分析服务
func NewHazardService(products repository.ProductRepository, hazards repository.HazardRepository, logger *zap.Logger, opts ...Option) HazardService {
	o := applyOptions(opts)
	return &hazardService{
		products: products,
		hazards:  hazards,
		audit:    o.audit,
		metrics:  o.metrics,
		logger:   logger,
		now:      o.now,
		defaults: o.risk,
	}
}

// CalculateRiskRequest 风险计算请求
type CalculateRiskRequest struct {
	Likelihood int    `json:"likelihood"`
	Severity   int    `json:"severity"`
	ProductID  string `json:"product_id,omitempty"` // 为空时使用全局默认配置
}

// CalculateRiskResponse 风险计算响应
type CalculateRiskResponse struct {
	RiskScore      int                          `json:"risk_score"`
	RiskLevel      domain.RiskLevel             `json:"risk_level"`
	Method         domain.RiskCalculationMethod `json:"method"`
	MatrixFallback bool                         `json:"matrix_fallback,omitempty"`
}

// CalculateRisk 计算风险
func (s *hazardService) CalculateRisk(ctx context.Context, req CalculateRiskRequest) (*CalculateRiskResponse, error) {
	cfg, err := s.riskConfig(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	res, err := risk.Calculate(req.Likelihood, req.Severity, cfg)
	if err != nil {
		return nil, err
	}
	if res.MatrixFallback {
		s.logger.Warn("Risk matrix not configured, fell back to multiplication",
			zap.String("product_id", req.ProductID),
		)
	}
	return &CalculateRiskResponse{
		RiskScore:      res.Score,
		RiskLevel:      res.Level,
		Method:         res.Method,
		MatrixFallback: res.MatrixFallback,
	}, nil
}

func (s *hazardService) riskConfig(ctx context.Context, productID string) (risk.Config, error) {
	if productID == "" {
		return s.defaults, nil
	}
	pc, err := s.products.GetRiskConfig(ctx, productID)
	if err != nil {
		return risk.Config{}, fmt.Errorf("failed to load risk config: %w", err)
	}
	return risk.Merge(s.defaults, pc), nil
}

// CreateHazardRequest 新建危害请求
type CreateHazardRequest struct {
	ProductID            string            `json:"product_id" validate:"required"`
	ProcessStepID        string            `json:"process_step_id" validate:"required"`
	HazardType           domain.HazardType `json:"hazard_type" validate:"required,oneof=biological chemical physical allergen"`
	HazardName           string            `json:"hazard_name" validate:"notblank"`
	Description          string            `json:"description,omitempty"`
	Likelihood           int               `json:"likelihood" validate:"gte=1"`
	Severity             int               `json:"severity" validate:"gte=1"`
	ControlMeasures      string            `json:"control_measures,omitempty"`
	IsControlled         bool              `json:"is_controlled"`
	ControlEffectiveness int               `json:"control_effectiveness" validate:"gte=0,lte=5"`
	UserID               string            `json:"user_id" validate:"required"`
}

// CreateHazard 新建危害，评分按产品风险配置计算
func (s *hazardService) CreateHazard(ctx context.Context, req CreateHazardRequest) (*domain.Hazard, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	step, err := s.products.GetProcessStep(ctx, req.ProcessStepID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: process step %s does not exist", domain.ErrValidation, req.ProcessStepID)
		}
		return nil, fmt.Errorf("failed to get process step: %w", err)
	}
	if step.ProductID != req.ProductID {
		return nil, fmt.Errorf("%w: process step %s belongs to another product", domain.ErrValidation, req.ProcessStepID)
	}

	now := s.now()
	h := &domain.Hazard{
		HazardID:             uuid.New().String(),
		ProductID:            req.ProductID,
		ProcessStepID:        req.ProcessStepID,
		HazardType:           req.HazardType,
		HazardName:           req.HazardName,
		Description:          req.Description,
		Likelihood:           req.Likelihood,
		Severity:             req.Severity,
		ControlMeasures:      req.ControlMeasures,
		IsControlled:         req.IsControlled,
		ControlEffectiveness: req.ControlEffectiveness,
		CreatedBy:            req.UserID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	cfg, err := s.riskConfig(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if _, err := risk.Apply(h, cfg); err != nil {
		return nil, err
	}
	if err := s.hazards.CreateHazard(ctx, h); err != nil {
		return nil, fmt.Errorf("failed to create hazard: %w", err)
	}

	s.logger.Info("Hazard created",
		zap.String("hazard_id", h.HazardID),
		zap.String("product_id", h.ProductID),
		zap.Int("risk_score", h.RiskScore),
		zap.String("risk_level", string(h.RiskLevel)),
	)
	recordAudit(ctx, s.audit, s.logger, domain.AuditEvent{
		ActorID:    req.UserID,
		Action:     "hazard.create",
		Resource:   "hazard",
		ResourceID: h.HazardID,
		OccurredAt: now,
	})
	return h, nil
}

// UpdateHazardRiskRequest 重新评估危害风险
type UpdateHazardRiskRequest struct {
	HazardID   string `json:"hazard_id" validate:"required"`
	Likelihood int    `json:"likelihood" validate:"gte=1"`
	Severity   int    `json:"severity" validate:"gte=1"`
	// 控制措施字段为 nil 时保持不变
	ControlMeasures      *string `json:"control_measures,omitempty"`
	IsControlled         *bool   `json:"is_controlled,omitempty"`
	ControlEffectiveness *int    `json:"control_effectiveness,omitempty" validate:"omitempty,gte=0,lte=5"`
	UserID               string  `json:"user_id" validate:"required"`
}

// UpdateHazardRisk 更新可能性/严重性并重新计算评分
func (s *hazardService) UpdateHazardRisk(ctx context.Context, req UpdateHazardRiskRequest) (*domain.Hazard, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	h, err := s.hazards.GetHazard(ctx, req.HazardID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.riskConfig(ctx, h.ProductID)
	if err != nil {
		return nil, err
	}

	prevScore, prevLevel := h.RiskScore, h.RiskLevel
	h.Likelihood = req.Likelihood
	h.Severity = req.Severity
	if _, err := risk.Apply(h, cfg); err != nil {
		return nil, err
	}
	if req.ControlMeasures != nil {
		h.ControlMeasures = *req.ControlMeasures
	}
	if req.IsControlled != nil {
		h.IsControlled = *req.IsControlled
	}
	if req.ControlEffectiveness != nil {
		h.ControlEffectiveness = *req.ControlEffectiveness
	}
	h.UpdatedAt = s.now()
	if err := s.hazards.UpdateHazard(ctx, h); err != nil {
		return nil, fmt.Errorf("failed to update hazard: %w", err)
	}

	recordAudit(ctx, s.audit, s.logger, domain.AuditEvent{
		ActorID:    req.UserID,
		Action:     "hazard.risk_update",
		Resource:   "hazard",
		ResourceID: h.HazardID,
		Details: map[string]any{
			"previous_score": prevScore,
			"previous_level": prevLevel,
			"risk_score":     h.RiskScore,
			"risk_level":     h.RiskLevel,
		},
		OccurredAt: h.UpdatedAt,
	})
	return h, nil
}

// RunDecisionTreeRequest 一次性判定请求
type RunDecisionTreeRequest struct {
	HazardID string `json:"hazard_id" validate:"required"`
	UserID   string `json:"user_id" validate:"required"`
}

// RunDecisionTreeResponse 判定结果
type RunDecisionTreeResponse struct {
	HazardID      string                `json:"hazard_id"`
	IsCCP         bool                  `json:"is_ccp"`
	Justification string                `json:"justification"`
	Steps         []domain.DecisionStep `json:"steps"`
}

// RunDecisionTree 按危害当前评分做启发式判定，结论写回危害
func (s *hazardService) RunDecisionTree(ctx context.Context, req RunDecisionTreeRequest) (*RunDecisionTreeResponse, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	h, err := s.hazards.GetHazard(ctx, req.HazardID)
	if err != nil {
		return nil, err
	}
	step, err := s.products.GetProcessStep(ctx, h.ProcessStepID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: hazard %s references missing process step %s", domain.ErrValidation, h.HazardID, h.ProcessStepID)
		}
		return nil, fmt.Errorf("failed to get process step: %w", err)
	}
	cfg, err := s.riskConfig(ctx, h.ProductID)
	if err != nil {
		return nil, err
	}
	downstream, err := s.hazards.ListDownstreamHazards(ctx, h.ProductID, step.StepNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list downstream hazards: %w", err)
	}

	out := decisiontree.Evaluate(decisiontree.Input{
		Hazard:           h,
		ControlThreshold: cfg.ControlThreshold(),
		Downstream:       downstream,
	})

	now := s.now()
	by := req.UserID
	h.IsCCP = out.IsCCP
	h.CCPJustification = out.Justification
	h.DecisionTreeSteps = out.Steps
	h.DecisionTreeRunAt = &now
	h.DecisionTreeRunBy = &by
	h.UpdatedAt = now
	if err := s.hazards.UpdateHazard(ctx, h); err != nil {
		return nil, fmt.Errorf("failed to save decision tree result: %w", err)
	}
	s.metrics.ObserveDecisionTree("heuristic", out.IsCCP)

	s.logger.Info("Decision tree evaluated",
		zap.String("hazard_id", h.HazardID),
		zap.Bool("is_ccp", out.IsCCP),
		zap.Int("steps", len(out.Steps)),
	)
	return &RunDecisionTreeResponse{
		HazardID:      h.HazardID,
		IsCCP:         out.IsCCP,
		Justification: out.Justification,
		Steps:         out.Steps,
	}, nil
}

// DeleteHazardRequest 删除危害
type DeleteHazardRequest struct {
	HazardID string `json:"hazard_id" validate:"required"`
	UserID   string `json:"user_id" validate:"required"`
}

// DeleteHazard 级联删除危害及其 CCP、监控计划、监控记录和决策树
func (s *hazardService) DeleteHazard(ctx context.Context, req DeleteHazardRequest) error {
	if err := validation.Struct(req); err != nil {
		return err
	}
	if err := s.hazards.DeleteHazard(ctx, req.HazardID); err != nil {
		return fmt.Errorf("failed to delete hazard: %w", err)
	}
	s.logger.Info("Hazard deleted", zap.String("hazard_id", req.HazardID), zap.String("user_id", req.UserID))
	recordAudit(ctx, s.audit, s.logger, domain.AuditEvent{
		ActorID:    req.UserID,
		Action:     "hazard.delete",
		Resource:   "hazard",
		ResourceID: req.HazardID,
		OccurredAt: s.now(),
	})
	return nil
}

// ImportHazardsRequest 导入请求
type ImportHazardsRequest struct {
	ProductID string                `json:"product_id" validate:"required"`
	UserID    string                `json:"user_id" validate:"required"`
	Rows      []worksheet.HazardRow `json:"rows"`
}

// ImportHazardsResponse 导入结果
type ImportHazardsResponse struct {
	Created []*domain.Hazard     `json:"created"`
	Errors  []worksheet.RowError `json:"errors,omitempty"`
}

// ImportHazards 按工序号解析工序后逐行新建危害
// 校验失败的行记入 Errors，存储错误直接返回
func (s *hazardService) ImportHazards(ctx context.Context, req ImportHazardsRequest) (*ImportHazardsResponse, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if _, err := s.products.GetProduct(ctx, req.ProductID); err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	steps, err := s.products.ListProcessSteps(ctx, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("failed to list process steps: %w", err)
	}
	byNumber := make(map[int]string, len(steps))
	for _, st := range steps {
		byNumber[st.StepNumber] = st.StepID
	}

	resp := &ImportHazardsResponse{}
	for _, row := range req.Rows {
		stepID, ok := byNumber[row.StepNumber]
		if !ok {
			resp.Errors = append(resp.Errors, worksheet.RowError{
				Row:     row.Row,
				Message: fmt.Sprintf("process step %d does not exist", row.StepNumber),
			})
			continue
		}
		h, err := s.CreateHazard(ctx, CreateHazardRequest{
			ProductID:            req.ProductID,
			ProcessStepID:        stepID,
			HazardType:           row.HazardType,
			HazardName:           row.HazardName,
			Description:          row.Description,
			Likelihood:           row.Likelihood,
			Severity:             row.Severity,
			ControlMeasures:      row.ControlMeasures,
			IsControlled:         row.IsControlled,
			ControlEffectiveness: row.ControlEffectiveness,
			UserID:               req.UserID,
		})
		if err != nil {
			if errors.Is(err, domain.ErrValidation) {
				resp.Errors = append(resp.Errors, worksheet.RowError{Row: row.Row, Message: err.Error()})
				continue
			}
			return resp, err
		}
		resp.Created = append(resp.Created, h)
	}

	s.logger.Info("Hazards imported",
		zap.String("product_id", req.ProductID),
		zap.Int("created", len(resp.Created)),
		zap.Int("rejected", len(resp.Errors)),
	)
	return resp, nil
}
