package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CCPStatus CCP 状态
type CCPStatus string

const (
	CCPActive    CCPStatus = "active"
	CCPInactive  CCPStatus = "inactive"
	CCPSuspended CCPStatus = "suspended"
)

// LimitType 关键限值类型
type LimitType string

const (
	LimitNumeric     LimitType = "numeric"
	LimitQualitative LimitType = "qualitative"
)

// CriticalLimit 多参数关键限值（JSONB 数组元素）
// numeric：按 Min/Max 判断；qualitative：按 Value 精确匹配
type CriticalLimit struct {
	Parameter string    `json:"parameter"`
	LimitType LimitType `json:"limit_type"`
	Min       *float64  `json:"min,omitempty"`
	Max       *float64  `json:"max,omitempty"`
	Value     string    `json:"value,omitempty"`
	Unit      string    `json:"unit,omitempty"`
	Condition string    `json:"condition,omitempty"`
}

// Validate 校验限值结构
func (l CriticalLimit) Validate() error {
	if strings.TrimSpace(l.Parameter) == "" {
		return fmt.Errorf("%w: critical limit parameter is required", ErrValidation)
	}
	switch l.LimitType {
	case LimitNumeric:
		if l.Min == nil && l.Max == nil {
			return fmt.Errorf("%w: numeric limit %q needs min or max", ErrValidation, l.Parameter)
		}
		if l.Min != nil && l.Max != nil && *l.Min > *l.Max {
			return fmt.Errorf("%w: numeric limit %q has min > max", ErrValidation, l.Parameter)
		}
		if l.Value != "" {
			return fmt.Errorf("%w: numeric limit %q must not set value", ErrValidation, l.Parameter)
		}
	case LimitQualitative:
		if l.Value == "" {
			return fmt.Errorf("%w: qualitative limit %q needs value", ErrValidation, l.Parameter)
		}
		if l.Min != nil || l.Max != nil {
			return fmt.Errorf("%w: qualitative limit %q must not set min/max", ErrValidation, l.Parameter)
		}
	default:
		return fmt.Errorf("%w: unknown limit_type %q for %q", ErrValidation, l.LimitType, l.Parameter)
	}
	return nil
}

// UnmarshalJSON 解码时即校验，避免非法限值进入业务层
func (l *CriticalLimit) UnmarshalJSON(data []byte) error {
	type raw CriticalLimit
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	if err := CriticalLimit(r).Validate(); err != nil {
		return err
	}
	*l = CriticalLimit(r)
	return nil
}

// ValidationEvidence 关键限值验证证据
type ValidationEvidence struct {
	Title       string    `json:"title"`
	Reference   string    `json:"reference,omitempty"`
	Description string    `json:"description,omitempty"`
	AddedBy     string    `json:"added_by,omitempty"`
	AddedAt     time.Time `json:"added_at"`
}

// CCP 关键控制点（对应 ccps 表）
type CCP struct {
	CCPID     string    `json:"ccp_id" db:"ccp_id"`
	ProductID string    `json:"product_id" db:"product_id"`
	HazardID  string    `json:"hazard_id" db:"hazard_id"`
	CCPNumber string    `json:"ccp_number" db:"ccp_number"`
	CCPName   string    `json:"ccp_name" db:"ccp_name"`
	Status    CCPStatus `json:"status" db:"status"`

	// 单一范围限值（兼容旧数据）
	CriticalLimitMin  *float64 `json:"critical_limit_min,omitempty" db:"critical_limit_min"`
	CriticalLimitMax  *float64 `json:"critical_limit_max,omitempty" db:"critical_limit_max"`
	CriticalLimitUnit string   `json:"critical_limit_unit,omitempty" db:"critical_limit_unit"`

	CriticalLimits []CriticalLimit `json:"critical_limits,omitempty" db:"critical_limits"`

	// 职责分离：监控人与验证人必须不同
	MonitoringResponsible   *string `json:"monitoring_responsible,omitempty" db:"monitoring_responsible"`
	VerificationResponsible *string `json:"verification_responsible,omitempty" db:"verification_responsible"`

	MonitoringFrequency   string `json:"monitoring_frequency,omitempty" db:"monitoring_frequency"`
	MonitoringMethod      string `json:"monitoring_method,omitempty" db:"monitoring_method"`
	VerificationFrequency string `json:"verification_frequency,omitempty" db:"verification_frequency"`
	VerificationMethod    string `json:"verification_method,omitempty" db:"verification_method"`

	ValidationEvidence []ValidationEvidence `json:"validation_evidence,omitempty" db:"validation_evidence"`

	CreatedBy string    `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasRange 是否配置了单一范围限值
func (c *CCP) HasRange() bool {
	return c.CriticalLimitMin != nil || c.CriticalLimitMax != nil
}

// AlertRecipient 偏差报警接收人：监控责任人，未设置时为创建人
func (c *CCP) AlertRecipient() string {
	if c.MonitoringResponsible != nil && *c.MonitoringResponsible != "" {
		return *c.MonitoringResponsible
	}
	return c.CreatedBy
}

// ValidateLimits 校验全部多参数限值
func (c *CCP) ValidateLimits() error {
	if c.CriticalLimitMin != nil && c.CriticalLimitMax != nil && *c.CriticalLimitMin > *c.CriticalLimitMax {
		return fmt.Errorf("%w: critical_limit_min > critical_limit_max", ErrValidation)
	}
	seen := make(map[string]bool, len(c.CriticalLimits))
	for _, l := range c.CriticalLimits {
		if err := l.Validate(); err != nil {
			return err
		}
		if seen[l.Parameter] {
			return fmt.Errorf("%w: duplicate critical limit parameter %q", ErrValidation, l.Parameter)
		}
		seen[l.Parameter] = true
	}
	return nil
}
