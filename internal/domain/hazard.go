package domain

import "time"

// HazardType 危害类型
type HazardType string

const (
	HazardBiological HazardType = "biological"
	HazardChemical   HazardType = "chemical"
	HazardPhysical   HazardType = "physical"
	HazardAllergen   HazardType = "allergen"
)

// Valid 是否为已知危害类型
func (t HazardType) Valid() bool {
	switch t {
	case HazardBiological, HazardChemical, HazardPhysical, HazardAllergen:
		return true
	}
	return false
}

// RiskLevel 风险等级
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank 等级序号（low=1 ... critical=4），未知等级为 0
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	}
	return 0
}

// Question Codex 决策树问题编号
type Question int

const (
	Q1 Question = iota + 1 // 此步骤是否需要控制？
	Q2                     // 污染是否可能发生或增加到不可接受水平？
	Q3                     // 后续步骤是否会消除或降低危害？
	Q4                     // 此步骤是否专门设计用于消除或降低危害？
)

// String 返回 "Q1".."Q4"
func (q Question) String() string {
	switch q {
	case Q1:
		return "Q1"
	case Q2:
		return "Q2"
	case Q3:
		return "Q3"
	case Q4:
		return "Q4"
	}
	return "Q?"
}

// Valid 是否在 Q1..Q4 范围内
func (q Question) Valid() bool {
	return q >= Q1 && q <= Q4
}

// DecisionStep 决策树执行轨迹中的一步（持久化为 JSONB 数组，用于审计回放）
type DecisionStep struct {
	Question    Question `json:"question"`
	Answer      bool     `json:"answer"`
	Explanation string   `json:"explanation"`
}

// Hazard 危害分析记录（对应 hazards 表）
type Hazard struct {
	HazardID      string     `json:"hazard_id" db:"hazard_id"`
	ProductID     string     `json:"product_id" db:"product_id"`
	ProcessStepID string     `json:"process_step_id" db:"process_step_id"`
	HazardType    HazardType `json:"hazard_type" db:"hazard_type"`
	HazardName    string     `json:"hazard_name" db:"hazard_name"`
	Description   string     `json:"description,omitempty" db:"description"`

	// 风险评估
	Likelihood int       `json:"likelihood" db:"likelihood"` // 1..scale
	Severity   int       `json:"severity" db:"severity"`     // 1..scale
	RiskScore  int       `json:"risk_score" db:"risk_score"`
	RiskLevel  RiskLevel `json:"risk_level" db:"risk_level"`

	// 控制措施
	ControlMeasures      string `json:"control_measures,omitempty" db:"control_measures"`
	IsControlled         bool   `json:"is_controlled" db:"is_controlled"`
	ControlEffectiveness int    `json:"control_effectiveness" db:"control_effectiveness"` // 1..5，0 表示未评估

	// 决策树结果
	IsCCP             bool           `json:"is_ccp" db:"is_ccp"`
	CCPJustification  string         `json:"ccp_justification,omitempty" db:"ccp_justification"`
	DecisionTreeSteps []DecisionStep `json:"decision_tree_steps,omitempty" db:"decision_tree_steps"`
	DecisionTreeRunAt *time.Time     `json:"decision_tree_run_at,omitempty" db:"decision_tree_run_at"`
	DecisionTreeRunBy *string        `json:"decision_tree_run_by,omitempty" db:"decision_tree_run_by"`

	CreatedBy string    `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
