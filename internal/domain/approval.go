package domain

import "time"

// EntityKind 可审批实体类型
type EntityKind string

const (
	EntityDocument  EntityKind = "document"
	EntityTemplate  EntityKind = "template"
	EntityHACCPPlan EntityKind = "haccp_plan"
)

// Valid 是否为已知实体类型
func (k EntityKind) Valid() bool {
	switch k {
	case EntityDocument, EntityTemplate, EntityHACCPPlan:
		return true
	}
	return false
}

// EntityStatus 可审批实体状态
type EntityStatus string

const (
	EntityDraft       EntityStatus = "draft"
	EntityUnderReview EntityStatus = "under_review"
	EntityApproved    EntityStatus = "approved"
)

// ApprovableEntity 审批链的父实体（文件、模板、HACCP 计划）
type ApprovableEntity struct {
	Kind       EntityKind   `json:"kind"`
	EntityID   string       `json:"entity_id"`
	ProductID  *string      `json:"product_id,omitempty"` // HACCP 计划关联的产品
	Title      string       `json:"title,omitempty"`
	Status     EntityStatus `json:"status"`
	ApprovedBy *string      `json:"approved_by,omitempty"`
	ApprovedAt *time.Time   `json:"approved_at,omitempty"`
}

// StepStatus 审批步骤状态
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
)

// ApprovalStep 审批步骤（对应 approval_steps 表）
type ApprovalStep struct {
	StepID        string     `json:"step_id" db:"step_id"`
	Kind          EntityKind `json:"kind" db:"entity_kind"`
	EntityID      string     `json:"entity_id" db:"entity_id"`
	ApproverID    string     `json:"approver_id" db:"approver_id"`
	ApprovalOrder int        `json:"approval_order" db:"approval_order"`
	// Round 第几次提交，重新提交后旧轮次的步骤只作历史记录
	Round     int        `json:"round" db:"round"`
	Status    StepStatus `json:"status" db:"status"`
	Comments  string     `json:"comments,omitempty" db:"comments"`
	DecidedAt *time.Time `json:"decided_at,omitempty" db:"decided_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}
