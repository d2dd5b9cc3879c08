package repository

import (
	"context"
	"time"

	"haccp-core/internal/domain"
)

// 所有 Get* 方法在记录不存在时返回包装了 domain.ErrNotFound 的错误

// ProductRepository 产品、工艺流程与风险配置
type ProductRepository interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	// GetRiskConfig 产品风险配置，未配置时返回 (nil, nil)
	GetRiskConfig(ctx context.Context, productID string) (*domain.ProductRiskConfig, error)
	GetProcessStep(ctx context.Context, stepID string) (*domain.ProcessStep, error)
	ListProcessSteps(ctx context.Context, productID string) ([]*domain.ProcessStep, error)
	CountProcessSteps(ctx context.Context, productID string) (int, error)
}

// HazardRepository 危害分析
type HazardRepository interface {
	GetHazard(ctx context.Context, hazardID string) (*domain.Hazard, error)
	CreateHazard(ctx context.Context, h *domain.Hazard) error
	UpdateHazard(ctx context.Context, h *domain.Hazard) error
	ListHazardsByProduct(ctx context.Context, productID string) ([]*domain.Hazard, error)
	// ListDownstreamHazards 同一产品中 step_number 大于给定值的工艺步骤上的危害
	ListDownstreamHazards(ctx context.Context, productID string, stepNumber int) ([]*domain.Hazard, error)
	// DeleteHazard 级联删除：监控记录/计划 -> CCP -> 决策树 -> 危害
	DeleteHazard(ctx context.Context, hazardID string) error
}

// DecisionTreeRepository 交互式决策树
type DecisionTreeRepository interface {
	GetDecisionTreeByHazard(ctx context.Context, hazardID string) (*domain.DecisionTree, error)
	// CreateDecisionTree 同一危害已有决策树时返回 domain.ErrValidation
	CreateDecisionTree(ctx context.Context, t *domain.DecisionTree) error
	UpdateDecisionTree(ctx context.Context, t *domain.DecisionTree) error
}

// CCPRepository 关键控制点与监控计划
type CCPRepository interface {
	GetCCP(ctx context.Context, ccpID string) (*domain.CCP, error)
	GetCCPByHazard(ctx context.Context, hazardID string) (*domain.CCP, error)
	CreateCCP(ctx context.Context, c *domain.CCP) error
	// CreateCCPWithSchedule 原子地标记危害（hazard 非 nil 时）、创建 CCP、保存监控计划（s 非 nil 时）
	CreateCCPWithSchedule(ctx context.Context, hazard *domain.Hazard, c *domain.CCP, s *domain.MonitoringSchedule) error

	GetSchedule(ctx context.Context, ccpID string) (*domain.MonitoringSchedule, error)
	// SaveSchedule 按 ccp_id upsert（last-writer-wins）
	SaveSchedule(ctx context.Context, s *domain.MonitoringSchedule) error
	ListActiveSchedules(ctx context.Context) ([]*domain.MonitoringSchedule, error)
}

// MonitoringLogRepository 监控记录与设备
type MonitoringLogRepository interface {
	CreateMonitoringLog(ctx context.Context, l *domain.MonitoringLog) error
	GetMonitoringLog(ctx context.Context, logID string) (*domain.MonitoringLog, error)
	// SaveVerification 只更新验证字段，is_within_limits 不可变
	SaveVerification(ctx context.Context, l *domain.MonitoringLog) error
	LinkNonConformance(ctx context.Context, logID, ncID string) error
	// LastMonitoredAt 最近一次监控时间，无记录时返回 nil
	LastMonitoredAt(ctx context.Context, ccpID string) (*time.Time, error)

	GetEquipment(ctx context.Context, equipmentID string) (*domain.Equipment, error)
}

// BatchRepository 生产批次
type BatchRepository interface {
	GetBatch(ctx context.Context, batchID string) (*domain.Batch, error)
	UpdateBatch(ctx context.Context, b *domain.Batch) error
}

// ApprovalRepository 审批链（实体状态 + 审批步骤）
type ApprovalRepository interface {
	GetEntity(ctx context.Context, kind domain.EntityKind, entityID string) (*domain.ApprovableEntity, error)
	UpdateEntity(ctx context.Context, e *domain.ApprovableEntity) error
	ListSteps(ctx context.Context, kind domain.EntityKind, entityID string) ([]*domain.ApprovalStep, error)
	GetStep(ctx context.Context, stepID string) (*domain.ApprovalStep, error)
	ReplacePendingSteps(ctx context.Context, kind domain.EntityKind, entityID string, steps []*domain.ApprovalStep) error
	TransitionStep(ctx context.Context, stepID string, to domain.StepStatus, comments string, at time.Time) (bool, error)
}

// UserRepository 用户与权限（只读）
type UserRepository interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	HasPermission(ctx context.Context, userID, permission string) (bool, error)
}
