package domain

import "time"

// Product 产品
type Product struct {
	ProductID string    `json:"product_id" db:"product_id"`
	Code      string    `json:"code" db:"code"`
	Name      string    `json:"name" db:"name"`
	CreatedBy string    `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ProcessStep 工艺流程步骤（process flow），step_number 决定上下游顺序
type ProcessStep struct {
	StepID      string    `json:"step_id" db:"step_id"`
	ProductID   string    `json:"product_id" db:"product_id"`
	StepNumber  int       `json:"step_number" db:"step_number"`
	StepName    string    `json:"step_name" db:"step_name"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// RiskCalculationMethod 风险计算方法
type RiskCalculationMethod string

const (
	RiskMethodMultiplication RiskCalculationMethod = "multiplication"
	RiskMethodAddition       RiskCalculationMethod = "addition"
	RiskMethodMatrix         RiskCalculationMethod = "matrix"
)

// ProductRiskConfig 产品级风险配置（与 Product 一对一，可选）
type ProductRiskConfig struct {
	ProductID         string                `json:"product_id" db:"product_id"`
	CalculationMethod RiskCalculationMethod `json:"calculation_method" db:"calculation_method"`
	LikelihoodScale   int                   `json:"likelihood_scale" db:"likelihood_scale"`
	SeverityScale     int                   `json:"severity_scale" db:"severity_scale"`
	LowThreshold      int                   `json:"low_threshold" db:"low_threshold"`
	MediumThreshold   int                   `json:"medium_threshold" db:"medium_threshold"`
	HighThreshold     int                   `json:"high_threshold" db:"high_threshold"`
	// RiskMatrix [likelihood-1][severity-1]，仅 matrix 方法使用
	RiskMatrix [][]int   `json:"risk_matrix,omitempty" db:"risk_matrix"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}
