package evaluator

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"haccp-core/internal/domain"
)

// PrimaryParameter 主测量值在多参数校验中的参数名
// 当 additional_parameters 未提供同名参数时，以 measured_value 补齐
const PrimaryParameter = "measured_value"

// CriticalEscalationRatio 偏差超过限值区间的该比例时，NC 升级为 critical
const CriticalEscalationRatio = 0.10

// Evaluation 一次监控测量的判定结果
type Evaluation struct {
	WithinLimits bool
	// RangeChecked 是否执行了单一范围检查
	RangeChecked bool
	RangeOK      bool
	// LimitResults 多参数限值逐项结果（未配置多参数限值时为空）
	LimitResults map[string]domain.LimitResult
}

// CheckRange 单一范围检查：min 已设置且 v < min，或 max 已设置且 v > max 时超限
func CheckRange(min, max *float64, v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	if min != nil && v < *min {
		return false
	}
	if max != nil && v > *max {
		return false
	}
	return true
}

// ValidateLimits 多参数限值校验，返回整体结果和逐参数结果
// 缺失参数判为不合格；numeric 检查上下限；qualitative 精确匹配
func ValidateLimits(limits []domain.CriticalLimit, measured map[string]any) (bool, map[string]domain.LimitResult) {
	results := make(map[string]domain.LimitResult, len(limits))
	allValid := true
	for _, limit := range limits {
		res := checkLimit(limit, measured)
		results[limit.Parameter] = res
		if !res.Valid {
			allValid = false
		}
	}
	return allValid, results
}

func checkLimit(limit domain.CriticalLimit, measured map[string]any) domain.LimitResult {
	res := domain.LimitResult{Parameter: limit.Parameter}
	raw, ok := measured[limit.Parameter]
	if !ok || raw == nil {
		res.Error = fmt.Sprintf("parameter %q not measured", limit.Parameter)
		return res
	}
	res.Measured = raw

	switch limit.LimitType {
	case domain.LimitNumeric:
		v, err := toFloat(raw)
		if err != nil {
			res.Error = fmt.Sprintf("parameter %q: %v", limit.Parameter, err)
			return res
		}
		res.Valid = CheckRange(limit.Min, limit.Max, v)
		if !res.Valid {
			res.Error = fmt.Sprintf("%s=%g outside %s", limit.Parameter, v, formatRange(limit.Min, limit.Max, limit.Unit))
		}
	case domain.LimitQualitative:
		got := strings.TrimSpace(fmt.Sprint(raw))
		res.Valid = got == strings.TrimSpace(limit.Value)
		if !res.Valid {
			res.Error = fmt.Sprintf("%s=%q, expected %q", limit.Parameter, got, limit.Value)
		}
	default:
		res.Error = fmt.Sprintf("unknown limit_type %q", limit.LimitType)
	}
	return res
}

// Evaluate 按 CCP 的关键限值判定测量是否合格
// 单一范围与多参数限值都配置时两者都须通过
func Evaluate(ccp *domain.CCP, measuredValue float64, additional map[string]any) Evaluation {
	ev := Evaluation{WithinLimits: true}

	if ccp.HasRange() {
		ev.RangeChecked = true
		ev.RangeOK = CheckRange(ccp.CriticalLimitMin, ccp.CriticalLimitMax, measuredValue)
		if !ev.RangeOK {
			ev.WithinLimits = false
		}
	}

	if len(ccp.CriticalLimits) > 0 {
		measured := make(map[string]any, len(additional)+1)
		for k, v := range additional {
			measured[k] = v
		}
		if _, ok := measured[PrimaryParameter]; !ok {
			measured[PrimaryParameter] = measuredValue
		}
		ok, results := ValidateLimits(ccp.CriticalLimits, measured)
		ev.LimitResults = results
		if !ok {
			ev.WithinLimits = false
		}
	}

	return ev
}

// Deviation 测量值超出范围的绝对量，范围内为 0
func Deviation(min, max *float64, v float64) float64 {
	if min != nil && v < *min {
		return *min - v
	}
	if max != nil && v > *max {
		return v - *max
	}
	return 0
}

// DeviationSeverity NC 严重度：偏差超过 (max-min) 的 10% 为 critical，否则 high
// 只有单侧限值时无法计算区间，一律 high
func DeviationSeverity(ccp *domain.CCP, v float64) domain.NonConformanceSeverity {
	if ccp.CriticalLimitMin == nil || ccp.CriticalLimitMax == nil {
		return domain.NCSeverityHigh
	}
	span := *ccp.CriticalLimitMax - *ccp.CriticalLimitMin
	if span <= 0 {
		return domain.NCSeverityHigh
	}
	if Deviation(ccp.CriticalLimitMin, ccp.CriticalLimitMax, v) > span*CriticalEscalationRatio {
		return domain.NCSeverityCritical
	}
	return domain.NCSeverityHigh
}

// FormatLimits 限值的可读描述，用于报警和 NC 文本
func FormatLimits(ccp *domain.CCP) string {
	if ccp.HasRange() {
		return formatRange(ccp.CriticalLimitMin, ccp.CriticalLimitMax, ccp.CriticalLimitUnit)
	}
	parts := make([]string, 0, len(ccp.CriticalLimits))
	for _, l := range ccp.CriticalLimits {
		if l.LimitType == domain.LimitQualitative {
			parts = append(parts, fmt.Sprintf("%s=%s", l.Parameter, l.Value))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s", l.Parameter, formatRange(l.Min, l.Max, l.Unit)))
	}
	if len(parts) == 0 {
		return "no limits"
	}
	return strings.Join(parts, "; ")
}

func formatRange(min, max *float64, unit string) string {
	var s string
	switch {
	case min != nil && max != nil:
		s = fmt.Sprintf("[%g, %g]", *min, *max)
	case min != nil:
		s = fmt.Sprintf(">= %g", *min)
	case max != nil:
		s = fmt.Sprintf("<= %g", *max)
	default:
		s = "unbounded"
	}
	if unit != "" {
		s += " " + unit
	}
	return s
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("not a number: %v", v)
}
