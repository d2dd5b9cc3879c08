package service

import (
	"context"
	"errors"
	"fmt"

	"haccp-core/internal/approval"
	"haccp-core/internal/deviation"
	"haccp-core/internal/domain"
	"haccp-core/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ApprovalService 审批链与批次处置服务接口
type ApprovalService interface {
	SubmitApprovalChain(ctx context.Context, req approval.SubmitRequest) (*SubmitApprovalChainResponse, error)
	ApproveStep(ctx context.Context, req approval.DecisionRequest) (*ApproveStepResponse, error)
	RejectStep(ctx context.Context, req approval.DecisionRequest) error
	// DisposeBatch 隔离批次的最终处置（放行/销毁/返工）
	DisposeBatch(ctx context.Context, req deviation.DispositionRequest) (*domain.Batch, error)
}

type approvalService struct {
	engine      *approval.Engine
	coordinator *deviation.Coordinator
	logger      *zap.Logger
}

// NewApprovalService 创建审批服务
func NewApprovalService(engine *approval.Engine, coordinator *deviation.Coordinator, logger *zap.Logger) ApprovalService {
	return &approvalService{
		engine:      engine,
		coordinator: coordinator,
		logger:      logger,
	}
}

// SubmitApprovalChainResponse 提交结果
type SubmitApprovalChainResponse struct {
	StepsCreated int `json:"steps_created"`
}

// SubmitApprovalChain 提交审批链
func (s *approvalService) SubmitApprovalChain(ctx context.Context, req approval.SubmitRequest) (*SubmitApprovalChainResponse, error) {
	n, err := s.engine.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return &SubmitApprovalChainResponse{StepsCreated: n}, nil
}

// ApproveStepResponse 审批结果
type ApproveStepResponse struct {
	RemainingSteps int  `json:"remaining_steps"`
	Finalized      bool `json:"finalized"`
}

// ApproveStep 审批一步，最后一步通过时实体变为 approved
func (s *approvalService) ApproveStep(ctx context.Context, req approval.DecisionRequest) (*ApproveStepResponse, error) {
	remaining, err := s.engine.Approve(ctx, req)
	if err != nil {
		return nil, err
	}
	return &ApproveStepResponse{RemainingSteps: remaining, Finalized: remaining == 0}, nil
}

// RejectStep 驳回，实体回到 draft
func (s *approvalService) RejectStep(ctx context.Context, req approval.DecisionRequest) error {
	return s.engine.Reject(ctx, req)
}

// DisposeBatch 批次处置
func (s *approvalService) DisposeBatch(ctx context.Context, req deviation.DispositionRequest) (*domain.Batch, error) {
	return s.coordinator.DisposeBatch(ctx, req)
}

// BcryptVerifier 用用户表中的 bcrypt 哈希校验电子签名密码
type BcryptVerifier struct {
	Users repository.UserRepository
}

var _ approval.PasswordVerifier = BcryptVerifier{}

// VerifyPassword 实现 approval.PasswordVerifier；停用或不存在的用户校验失败
func (v BcryptVerifier) VerifyPassword(ctx context.Context, userID, password string) (bool, error) {
	u, err := v.Users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get user: %w", err)
	}
	if !u.IsActive || u.PasswordHash == "" {
		return false, nil
	}
	err = bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("failed to compare password hash: %w", err)
	}
}
