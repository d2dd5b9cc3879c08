package domain

import "time"

// User 用户（身份服务提供，此处只读）
type User struct {
	UserID       string `json:"user_id" db:"user_id"`
	Username     string `json:"username" db:"username"`
	FullName     string `json:"full_name" db:"full_name"`
	Role         string `json:"role" db:"role"`
	PasswordHash string `json:"-" db:"password_hash"`
	IsActive     bool   `json:"is_active" db:"is_active"`
}

// DisplayName 展示名称
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// 权限动作
const (
	PermissionMonitoringOverride   = "haccp:monitoring:override"
	PermissionVerificationOverride = "haccp:verification:override"
)

// NotificationPriority 通知优先级
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityMedium NotificationPriority = "medium"
	PriorityHigh   NotificationPriority = "high"
)

// Notification 通知（只负责"是否通知"的决策，投递由 sink 实现）
type Notification struct {
	UserID   string               `json:"user_id"`
	Title    string               `json:"title"`
	Message  string               `json:"message"`
	Priority NotificationPriority `json:"priority"`
	Category string               `json:"category"`
	Data     map[string]any       `json:"data,omitempty"`
}

// AuditEvent 审计事件（fire-and-forget）
type AuditEvent struct {
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
