package approval

import (
	"context"
	"fmt"

	"haccp-core/internal/domain"
)

// ProcessStepCounter 统计产品的工艺流程步骤数
type ProcessStepCounter interface {
	CountProcessSteps(ctx context.Context, productID string) (int, error)
}

// ProcessFlowGuard HACCP 计划最终审批前要求产品至少有一个工艺流程步骤
type ProcessFlowGuard struct {
	Steps ProcessStepCounter
}

// CanFinalize 实现 FinalizeGuard
func (g ProcessFlowGuard) CanFinalize(ctx context.Context, e *domain.ApprovableEntity) error {
	if e.ProductID == nil || *e.ProductID == "" {
		return fmt.Errorf("%w: HACCP plan %s has no product", domain.ErrPrecondition, e.EntityID)
	}
	if g.Steps == nil {
		return fmt.Errorf("%w: no process step source configured for HACCP plan %s", domain.ErrPrecondition, e.EntityID)
	}
	n, err := g.Steps.CountProcessSteps(ctx, *e.ProductID)
	if err != nil {
		return fmt.Errorf("failed to count process steps: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: product %s has no process flow steps", domain.ErrPrecondition, *e.ProductID)
	}
	return nil
}

// guardChain 依次执行，遇到第一个错误即返回
type guardChain []FinalizeGuard

func (c guardChain) CanFinalize(ctx context.Context, e *domain.ApprovableEntity) error {
	for _, g := range c {
		if err := g.CanFinalize(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
