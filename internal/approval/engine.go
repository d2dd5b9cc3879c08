package approval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"haccp-core/internal/domain"
	"haccp-core/internal/metrics"
	"haccp-core/internal/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store 审批链存储
type Store interface {
	GetEntity(ctx context.Context, kind domain.EntityKind, entityID string) (*domain.ApprovableEntity, error)
	UpdateEntity(ctx context.Context, e *domain.ApprovableEntity) error
	ListSteps(ctx context.Context, kind domain.EntityKind, entityID string) ([]*domain.ApprovalStep, error)
	GetStep(ctx context.Context, stepID string) (*domain.ApprovalStep, error)
	// ReplacePendingSteps 删除实体所有 pending 步骤并插入新步骤
	ReplacePendingSteps(ctx context.Context, kind domain.EntityKind, entityID string, steps []*domain.ApprovalStep) error
	// TransitionStep 仅当步骤仍为 pending 时更新（compare-and-swap），返回是否更新成功
	TransitionStep(ctx context.Context, stepID string, to domain.StepStatus, comments string, at time.Time) (bool, error)
}

// FinalizeGuard 最后一步审批前的额外检查，返回错误则实体保持 under_review
type FinalizeGuard interface {
	CanFinalize(ctx context.Context, e *domain.ApprovableEntity) error
}

// PasswordVerifier 电子签名密码校验
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, userID, password string) (bool, error)
}

// AuditSink 审计事件 sink
type AuditSink interface {
	Record(ctx context.Context, ev domain.AuditEvent) error
}

// ApproverInput 提交审批链时的单个审批人
type ApproverInput struct {
	ApproverID    string `json:"approver_id" validate:"required"`
	ApprovalOrder int    `json:"approval_order" validate:"gte=1"`
}

// SubmitRequest 提交审批链
type SubmitRequest struct {
	Kind      domain.EntityKind `json:"kind" validate:"required,oneof=document template haccp_plan"`
	EntityID  string            `json:"entity_id" validate:"required"`
	Approvals []ApproverInput   `json:"approvals" validate:"required,min=1,dive"`
}

// DecisionRequest 审批/驳回请求
type DecisionRequest struct {
	Kind       domain.EntityKind `json:"kind" validate:"required,oneof=document template haccp_plan"`
	EntityID   string            `json:"entity_id" validate:"required"`
	StepID     string            `json:"step_id" validate:"required"`
	ApproverID string            `json:"approver_id" validate:"required"`
	// Password 可选电子签名
	Password string `json:"password,omitempty"`
	Comments string `json:"comments,omitempty"`
}

// Engine 通用审批链引擎（文件、模板、HACCP 计划共用）
type Engine struct {
	store    Store
	guards   map[domain.EntityKind]FinalizeGuard
	verifier PasswordVerifier
	audit    AuditSink
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// Option 可选依赖
type Option func(*Engine)

// WithGuard 为某类实体注册最终审批检查；HACCP 计划的检查追加在 ProcessFlowGuard 之后
func WithGuard(kind domain.EntityKind, g FinalizeGuard) Option {
	return func(e *Engine) { e.guards[kind] = g }
}

// WithPasswordVerifier 电子签名校验
func WithPasswordVerifier(v PasswordVerifier) Option { return func(e *Engine) { e.verifier = v } }

// WithAuditSink 审计
func WithAuditSink(a AuditSink) Option { return func(e *Engine) { e.audit = a } }

// WithMetrics 指标
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithClock 测试用时钟
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine 创建审批引擎
// HACCP 计划始终安装 ProcessFlowGuard；WithGuard 可追加其它实体的检查
func NewEngine(store Store, steps ProcessStepCounter, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		guards: make(map[domain.EntityKind]FinalizeGuard),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	flow := ProcessFlowGuard{Steps: steps}
	if extra, ok := e.guards[domain.EntityHACCPPlan]; ok {
		e.guards[domain.EntityHACCPPlan] = guardChain{flow, extra}
	} else {
		e.guards[domain.EntityHACCPPlan] = flow
	}
	return e
}

// Submit 提交审批链：清除旧的 pending 步骤，插入新步骤，实体进入 under_review
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (int, error) {
	if err := validation.Struct(req); err != nil {
		return 0, err
	}
	seen := make(map[int]bool, len(req.Approvals))
	for _, a := range req.Approvals {
		if seen[a.ApprovalOrder] {
			return 0, fmt.Errorf("%w: duplicate approval_order %d", domain.ErrValidation, a.ApprovalOrder)
		}
		seen[a.ApprovalOrder] = true
	}

	entity, err := e.store.GetEntity(ctx, req.Kind, req.EntityID)
	if err != nil {
		return 0, err
	}
	existing, err := e.store.ListSteps(ctx, req.Kind, req.EntityID)
	if err != nil {
		return 0, fmt.Errorf("failed to list approval steps: %w", err)
	}
	round := 1
	for _, s := range existing {
		if s.Round >= round {
			round = s.Round + 1
		}
	}

	now := e.now()
	steps := make([]*domain.ApprovalStep, 0, len(req.Approvals))
	for _, a := range req.Approvals {
		steps = append(steps, &domain.ApprovalStep{
			StepID:        uuid.New().String(),
			Kind:          req.Kind,
			EntityID:      req.EntityID,
			ApproverID:    a.ApproverID,
			ApprovalOrder: a.ApprovalOrder,
			Round:         round,
			Status:        domain.StepPending,
			CreatedAt:     now,
		})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].ApprovalOrder < steps[j].ApprovalOrder })

	if err := e.store.ReplacePendingSteps(ctx, req.Kind, req.EntityID, steps); err != nil {
		return 0, fmt.Errorf("failed to save approval steps: %w", err)
	}

	entity.Status = domain.EntityUnderReview
	entity.ApprovedBy = nil
	entity.ApprovedAt = nil
	if err := e.store.UpdateEntity(ctx, entity); err != nil {
		return 0, fmt.Errorf("failed to update %s status: %w", req.Kind, err)
	}

	e.logger.Info("Approval chain submitted",
		zap.String("kind", string(req.Kind)),
		zap.String("entity_id", req.EntityID),
		zap.Int("round", round),
		zap.Int("steps", len(steps)),
	)
	e.metrics.ObserveApproval(string(req.Kind), "submitted")
	e.recordAudit(ctx, "", "approval.submit", entity, map[string]any{"round": round, "steps": len(steps)})
	return len(steps), nil
}

// Approve 审批通过，返回本轮剩余 pending 步骤数
func (e *Engine) Approve(ctx context.Context, req DecisionRequest) (int, error) {
	entity, step, round, err := e.checkDecision(ctx, req)
	if err != nil {
		return 0, err
	}

	if req.Password != "" {
		if e.verifier == nil {
			return 0, fmt.Errorf("%w: electronic signature not supported", domain.ErrPrecondition)
		}
		ok, err := e.verifier.VerifyPassword(ctx, req.ApproverID, req.Password)
		if err != nil {
			return 0, fmt.Errorf("failed to verify signature: %w", err)
		}
		if !ok {
			return 0, fmt.Errorf("%w: electronic signature rejected", domain.ErrAuthorization)
		}
	}

	remaining := 0
	for _, s := range round {
		if s.StepID != step.StepID && s.Status == domain.StepPending {
			remaining++
		}
	}

	if remaining == 0 {
		if g, ok := e.guards[entity.Kind]; ok {
			if err := g.CanFinalize(ctx, entity); err != nil {
				e.metrics.ObserveApproval(string(entity.Kind), "blocked")
				e.logger.Warn("Final approval blocked",
					zap.String("kind", string(entity.Kind)),
					zap.String("entity_id", entity.EntityID),
					zap.Error(err),
				)
				return 0, err
			}
		}
	}

	now := e.now()
	swapped, err := e.store.TransitionStep(ctx, step.StepID, domain.StepApproved, req.Comments, now)
	if err != nil {
		return 0, fmt.Errorf("failed to approve step: %w", err)
	}
	if !swapped {
		return 0, fmt.Errorf("%w: step %s is no longer pending", domain.ErrValidation, step.StepID)
	}
	e.metrics.ObserveApproval(string(entity.Kind), "approved")

	if remaining == 0 {
		entity.Status = domain.EntityApproved
		entity.ApprovedBy = &req.ApproverID
		entity.ApprovedAt = &now
		if err := e.store.UpdateEntity(ctx, entity); err != nil {
			return 0, fmt.Errorf("failed to finalize %s: %w", entity.Kind, err)
		}
		e.metrics.ObserveApproval(string(entity.Kind), "finalized")
		e.logger.Info("Entity approved",
			zap.String("kind", string(entity.Kind)),
			zap.String("entity_id", entity.EntityID),
			zap.String("approver_id", req.ApproverID),
		)
	}

	e.recordAudit(ctx, req.ApproverID, "approval.approve", entity, map[string]any{
		"step_id":   step.StepID,
		"order":     step.ApprovalOrder,
		"remaining": remaining,
		"signed":    req.Password != "",
	})
	return remaining, nil
}

// Reject 驳回：步骤 rejected，实体回到 draft，本轮其余 pending 步骤不再有效
func (e *Engine) Reject(ctx context.Context, req DecisionRequest) error {
	entity, step, _, err := e.checkDecision(ctx, req)
	if err != nil {
		return err
	}

	now := e.now()
	swapped, err := e.store.TransitionStep(ctx, step.StepID, domain.StepRejected, req.Comments, now)
	if err != nil {
		return fmt.Errorf("failed to reject step: %w", err)
	}
	if !swapped {
		return fmt.Errorf("%w: step %s is no longer pending", domain.ErrValidation, step.StepID)
	}

	entity.Status = domain.EntityDraft
	entity.ApprovedBy = nil
	entity.ApprovedAt = nil
	if err := e.store.UpdateEntity(ctx, entity); err != nil {
		return fmt.Errorf("failed to return %s to draft: %w", entity.Kind, err)
	}

	e.metrics.ObserveApproval(string(entity.Kind), "rejected")
	e.logger.Info("Approval step rejected",
		zap.String("kind", string(entity.Kind)),
		zap.String("entity_id", entity.EntityID),
		zap.String("step_id", step.StepID),
		zap.String("approver_id", req.ApproverID),
	)
	e.recordAudit(ctx, req.ApproverID, "approval.reject", entity, map[string]any{
		"step_id":  step.StepID,
		"comments": req.Comments,
	})
	return nil
}

// checkDecision 审批/驳回共用前置条件，返回实体、步骤和该步骤所在轮次的全部步骤
func (e *Engine) checkDecision(ctx context.Context, req DecisionRequest) (*domain.ApprovableEntity, *domain.ApprovalStep, []*domain.ApprovalStep, error) {
	if err := validation.Struct(req); err != nil {
		return nil, nil, nil, err
	}
	step, err := e.store.GetStep(ctx, req.StepID)
	if err != nil {
		return nil, nil, nil, err
	}
	if step.Kind != req.Kind || step.EntityID != req.EntityID {
		return nil, nil, nil, fmt.Errorf("%w: step %s does not belong to %s %s", domain.ErrNotFound, req.StepID, req.Kind, req.EntityID)
	}
	if step.ApproverID != req.ApproverID {
		return nil, nil, nil, fmt.Errorf("%w: user %s is not the approver of step %s", domain.ErrAuthorization, req.ApproverID, step.StepID)
	}
	if step.Status != domain.StepPending {
		return nil, nil, nil, fmt.Errorf("%w: step %s is already %s", domain.ErrValidation, step.StepID, step.Status)
	}

	entity, err := e.store.GetEntity(ctx, req.Kind, req.EntityID)
	if err != nil {
		return nil, nil, nil, err
	}
	if entity.Status != domain.EntityUnderReview {
		return nil, nil, nil, fmt.Errorf("%w: %s %s is %s, not under review", domain.ErrPrecondition, entity.Kind, entity.EntityID, entity.Status)
	}

	all, err := e.store.ListSteps(ctx, req.Kind, req.EntityID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to list approval steps: %w", err)
	}
	round := make([]*domain.ApprovalStep, 0, len(all))
	for _, s := range all {
		if s.Round == step.Round {
			round = append(round, s)
		}
	}
	for _, s := range round {
		if s.ApprovalOrder < step.ApprovalOrder && s.Status != domain.StepApproved {
			return nil, nil, nil, fmt.Errorf("%w: step with approval_order %d is not approved yet", domain.ErrPrecondition, s.ApprovalOrder)
		}
	}
	return entity, step, round, nil
}

func (e *Engine) recordAudit(ctx context.Context, actor, action string, entity *domain.ApprovableEntity, details map[string]any) {
	if e.audit == nil {
		return
	}
	ev := domain.AuditEvent{
		ActorID:    actor,
		Action:     action,
		Resource:   string(entity.Kind),
		ResourceID: entity.EntityID,
		Details:    details,
		OccurredAt: e.now(),
	}
	if err := e.audit.Record(ctx, ev); err != nil {
		e.logger.Warn("Failed to record audit event",
			zap.String("action", action),
			zap.String("entity_id", entity.EntityID),
			zap.Error(err),
		)
	}
}
