package risk

import (
	"fmt"

	"haccp-core/internal/domain"
)

// Config 风险计算配置（阈值升序：Low <= Medium <= High）
type Config struct {
	Method          domain.RiskCalculationMethod
	LikelihoodScale int
	SeverityScale   int
	Low             int
	Medium          int
	High            int
	// Matrix [likelihood-1][severity-1]，仅 matrix 方法使用
	Matrix [][]int
}

// DefaultConfig 未配置产品风险参数时使用的全局默认值（4/8/15，5x5）
var DefaultConfig = Config{
	Method:          domain.RiskMethodMultiplication,
	LikelihoodScale: 5,
	SeverityScale:   5,
	Low:             4,
	Medium:          8,
	High:            15,
}

// FromProduct 由产品风险配置构造 Config，nil 时返回默认值
// 未填写的字段沿用默认值
func FromProduct(pc *domain.ProductRiskConfig) Config {
	return Merge(DefaultConfig, pc)
}

// Merge 以 base 为底叠加产品风险配置
func Merge(base Config, pc *domain.ProductRiskConfig) Config {
	cfg := base
	if pc == nil {
		return cfg
	}
	if pc.CalculationMethod != "" {
		cfg.Method = pc.CalculationMethod
	}
	if pc.LikelihoodScale > 0 {
		cfg.LikelihoodScale = pc.LikelihoodScale
	}
	if pc.SeverityScale > 0 {
		cfg.SeverityScale = pc.SeverityScale
	}
	if pc.LowThreshold > 0 || pc.MediumThreshold > 0 || pc.HighThreshold > 0 {
		cfg.Low = pc.LowThreshold
		cfg.Medium = pc.MediumThreshold
		cfg.High = pc.HighThreshold
	}
	cfg.Matrix = pc.RiskMatrix
	return cfg
}

// Validate 校验配置
func (c Config) Validate() error {
	switch c.Method {
	case domain.RiskMethodMultiplication, domain.RiskMethodAddition, domain.RiskMethodMatrix:
	default:
		return fmt.Errorf("%w: unknown calculation method %q", domain.ErrValidation, c.Method)
	}
	if c.LikelihoodScale < 1 || c.SeverityScale < 1 {
		return fmt.Errorf("%w: scales must be positive", domain.ErrValidation)
	}
	if c.Low > c.Medium || c.Medium > c.High {
		return fmt.Errorf("%w: thresholds must be ascending (low=%d medium=%d high=%d)",
			domain.ErrValidation, c.Low, c.Medium, c.High)
	}
	if c.Matrix != nil {
		if !c.matrixFits() {
			return fmt.Errorf("%w: risk matrix must be %dx%d", domain.ErrValidation, c.LikelihoodScale, c.SeverityScale)
		}
		if !c.matrixMonotonic() {
			return fmt.Errorf("%w: risk matrix must be non-decreasing in likelihood and severity", domain.ErrValidation)
		}
	}
	return nil
}

// ControlThreshold 决策树 Q1 使用的控制阈值（中风险阈值）
func (c Config) ControlThreshold() int {
	return c.Medium
}

func (c Config) matrixFits() bool {
	if len(c.Matrix) != c.LikelihoodScale {
		return false
	}
	for _, row := range c.Matrix {
		if len(row) != c.SeverityScale {
			return false
		}
	}
	return true
}

func (c Config) matrixMonotonic() bool {
	for i, row := range c.Matrix {
		for j, v := range row {
			if j > 0 && v < row[j-1] {
				return false
			}
			if i > 0 && v < c.Matrix[i-1][j] {
				return false
			}
		}
	}
	return true
}

// Result 风险计算结果
type Result struct {
	Score  int
	Level  domain.RiskLevel
	Method domain.RiskCalculationMethod
	// MatrixFallback matrix 方法未配置有效矩阵，按乘法计算
	MatrixFallback bool
}

// Calculate 计算风险评分和等级
func Calculate(likelihood, severity int, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if likelihood < 1 || likelihood > cfg.LikelihoodScale {
		return Result{}, fmt.Errorf("%w: likelihood %d out of range [1,%d]", domain.ErrValidation, likelihood, cfg.LikelihoodScale)
	}
	if severity < 1 || severity > cfg.SeverityScale {
		return Result{}, fmt.Errorf("%w: severity %d out of range [1,%d]", domain.ErrValidation, severity, cfg.SeverityScale)
	}

	res := Result{Method: cfg.Method}
	switch cfg.Method {
	case domain.RiskMethodAddition:
		res.Score = likelihood + severity
	case domain.RiskMethodMatrix:
		if cfg.Matrix != nil {
			res.Score = cfg.Matrix[likelihood-1][severity-1]
		} else {
			res.Score = likelihood * severity
			res.MatrixFallback = true
		}
	default:
		res.Score = likelihood * severity
	}
	res.Level = LevelFor(res.Score, cfg)
	return res, nil
}

// LevelFor 按阈值映射风险等级
func LevelFor(score int, cfg Config) domain.RiskLevel {
	switch {
	case score <= cfg.Low:
		return domain.RiskLow
	case score <= cfg.Medium:
		return domain.RiskMedium
	case score <= cfg.High:
		return domain.RiskHigh
	default:
		return domain.RiskCritical
	}
}

// Apply 计算并写回 hazard 的 RiskScore / RiskLevel，出错时不修改 hazard
func Apply(h *domain.Hazard, cfg Config) (Result, error) {
	res, err := Calculate(h.Likelihood, h.Severity, cfg)
	if err != nil {
		return res, err
	}
	h.RiskScore = res.Score
	h.RiskLevel = res.Level
	return res, nil
}
