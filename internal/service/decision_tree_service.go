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
	"haccp-core/internal/validation"

	"go.uber.org/zap"
)

// DecisionTreeService 交互式决策树服务接口
type DecisionTreeService interface {
	StartDecisionTree(ctx context.Context, req StartDecisionTreeRequest) (*DecisionTreeView, error)
	GetDecisionTree(ctx context.Context, hazardID string) (*DecisionTreeView, error)
	// AnswerDecisionTreeQuestion 作答，危害尚无决策树时自动创建
	AnswerDecisionTreeQuestion(ctx context.Context, req AnswerQuestionRequest) (*DecisionTreeView, error)
	ReviewDecisionTree(ctx context.Context, req ReviewDecisionTreeRequest) (*DecisionTreeView, error)
}

type decisionTreeService struct {
	hazards repository.HazardRepository
	trees   repository.DecisionTreeRepository
	audit   AuditSink
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewDecisionTreeService 创建交互式决策树服务
func NewDecisionTreeService(hazards repository.HazardRepository, trees repository.DecisionTreeRepository, logger *zap.Logger, opts ...Option) DecisionTreeService {
	o := applyOptions(opts)
	return &decisionTreeService{
		hazards: hazards,
		trees:   trees,
		audit:   o.audit,
		metrics: o.metrics,
		logger:  logger,
		now:     o.now,
	}
}

// DecisionTreeView 决策树及下一步提示
type DecisionTreeView struct {
	Tree *domain.DecisionTree `json:"tree"`
	// NextQuestion 0 表示已得出结论
	NextQuestion     domain.Question `json:"next_question"`
	NextQuestionText string          `json:"next_question_text,omitempty"`
}

func newView(t *domain.DecisionTree) *DecisionTreeView {
	v := &DecisionTreeView{Tree: t}
	if t.Status == domain.DecisionTreeInProgress {
		v.NextQuestion = decisiontree.CurrentQuestion(t)
		v.NextQuestionText = decisiontree.QuestionText[v.NextQuestion]
	}
	return v
}

// StartDecisionTreeRequest 开始决策树
type StartDecisionTreeRequest struct {
	HazardID string `json:"hazard_id" validate:"required"`
	UserID   string `json:"user_id" validate:"required"`
}

// StartDecisionTree 为危害创建决策树，已存在时返回校验错误
func (s *decisionTreeService) StartDecisionTree(ctx context.Context, req StartDecisionTreeRequest) (*DecisionTreeView, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if _, err := s.hazards.GetHazard(ctx, req.HazardID); err != nil {
		return nil, err
	}
	t := decisiontree.NewTree(req.HazardID, req.UserID, s.now())
	if err := s.trees.CreateDecisionTree(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info("Decision tree started", zap.String("hazard_id", req.HazardID), zap.String("tree_id", t.TreeID))
	return newView(t), nil
}

// GetDecisionTree 查询危害的决策树
func (s *decisionTreeService) GetDecisionTree(ctx context.Context, hazardID string) (*DecisionTreeView, error) {
	t, err := s.trees.GetDecisionTreeByHazard(ctx, hazardID)
	if err != nil {
		return nil, err
	}
	return newView(t), nil
}

// AnswerQuestionRequest 作答请求
type AnswerQuestionRequest struct {
	HazardID      string          `json:"hazard_id" validate:"required"`
	Question      domain.Question `json:"question" validate:"gte=1,lte=4"`
	Answer        bool            `json:"answer"`
	Justification string          `json:"justification,omitempty"`
	UserID        string          `json:"user_id" validate:"required"`
}

// AnswerDecisionTreeQuestion 作答；得出结论时同步危害的 is_ccp 和说明
func (s *decisionTreeService) AnswerDecisionTreeQuestion(ctx context.Context, req AnswerQuestionRequest) (*DecisionTreeView, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	h, err := s.hazards.GetHazard(ctx, req.HazardID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	t, err := s.trees.GetDecisionTreeByHazard(ctx, req.HazardID)
	created := false
	switch {
	case errors.Is(err, domain.ErrNotFound):
		t = decisiontree.NewTree(req.HazardID, req.UserID, now)
		created = true
	case err != nil:
		return nil, fmt.Errorf("failed to get decision tree: %w", err)
	}

	if err := decisiontree.Answer(t, req.Question, req.Answer, req.Justification, req.UserID, now); err != nil {
		return nil, err
	}
	if created {
		err = s.trees.CreateDecisionTree(ctx, t)
	} else {
		err = s.trees.UpdateDecisionTree(ctx, t)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save decision tree: %w", err)
	}

	if t.Status == domain.DecisionTreeCompleted {
		if err := s.syncHazard(ctx, h, t, now); err != nil {
			return nil, err
		}
	}
	return newView(t), nil
}

// syncHazard 把交互式结论写回危害
func (s *decisionTreeService) syncHazard(ctx context.Context, h *domain.Hazard, t *domain.DecisionTree, now time.Time) error {
	steps := make([]domain.DecisionStep, 0, len(t.Answers))
	for i, a := range t.Answers {
		if !a.Answered() {
			continue
		}
		steps = append(steps, domain.DecisionStep{
			Question:    domain.Question(i + 1),
			Answer:      *a.Answer,
			Explanation: a.Justification,
		})
	}
	h.IsCCP = t.IsCCP != nil && *t.IsCCP
	h.CCPJustification = t.Reasoning
	h.DecisionTreeSteps = steps
	h.DecisionTreeRunAt = t.DecisionAt
	h.DecisionTreeRunBy = t.DecisionBy
	h.UpdatedAt = now
	if err := s.hazards.UpdateHazard(ctx, h); err != nil {
		return fmt.Errorf("failed to sync decision to hazard: %w", err)
	}
	s.metrics.ObserveDecisionTree("interactive", h.IsCCP)

	s.logger.Info("Decision tree completed",
		zap.String("hazard_id", h.HazardID),
		zap.String("tree_id", t.TreeID),
		zap.Bool("is_ccp", h.IsCCP),
	)
	var by string
	if t.DecisionBy != nil {
		by = *t.DecisionBy
	}
	recordAudit(ctx, s.audit, s.logger, domain.AuditEvent{
		ActorID:    by,
		Action:     "decision_tree.complete",
		Resource:   "hazard",
		ResourceID: h.HazardID,
		Details:    map[string]any{"is_ccp": h.IsCCP, "reasoning": t.Reasoning},
		OccurredAt: now,
	})
	return nil
}

// ReviewDecisionTreeRequest 复核请求
type ReviewDecisionTreeRequest struct {
	HazardID   string `json:"hazard_id" validate:"required"`
	ReviewerID string `json:"reviewer_id" validate:"required"`
}

// ReviewDecisionTree 复核已完成的决策树
func (s *decisionTreeService) ReviewDecisionTree(ctx context.Context, req ReviewDecisionTreeRequest) (*DecisionTreeView, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	t, err := s.trees.GetDecisionTreeByHazard(ctx, req.HazardID)
	if err != nil {
		return nil, err
	}
	if err := decisiontree.Review(t, req.ReviewerID, s.now()); err != nil {
		return nil, err
	}
	if err := s.trees.UpdateDecisionTree(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to save decision tree review: %w", err)
	}
	recordAudit(ctx, s.audit, s.logger, domain.AuditEvent{
		ActorID:    req.ReviewerID,
		Action:     "decision_tree.review",
		Resource:   "hazard",
		ResourceID: req.HazardID,
		OccurredAt: *t.ReviewedAt,
	})
	return newView(t), nil
}
