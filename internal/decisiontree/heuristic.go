package decisiontree

import (
	"fmt"

	"haccp-core/internal/domain"
)

// 启发式评估使用的常量
const (
	// LikelihoodThreshold Q2：likelihood >= 3 视为污染可能发生
	LikelihoodThreshold = 3
	// EffectivenessThreshold Q4：control_effectiveness >= 3 视为本步骤有效控制
	EffectivenessThreshold = 3
)

// 结论说明文本（写入 hazard.ccp_justification）
const (
	JustificationNotNecessary = "control at this step is not necessary – not a CCP"
	JustificationNotLikely    = "contamination is not likely to occur or increase to unacceptable levels – not a CCP"
	JustificationDownstream   = "a subsequent step will eliminate or reduce the hazard – not a CCP"
	JustificationDesigned     = "specifically designed to reduce the hazard – CCP"
	JustificationByExclusion  = "no subsequent step controls the hazard and this step is not adequately designed – CCP by exclusion, requires attention"
)

// Input 一次性启发式评估输入
type Input struct {
	Hazard *domain.Hazard
	// ControlThreshold Q1 阈值（产品中风险阈值，默认 8）
	ControlThreshold int
	// Downstream 同一产品 step_number 更大的工艺步骤上的危害
	Downstream []*domain.Hazard
}

// Outcome 评估结论
type Outcome struct {
	IsCCP         bool
	Justification string
	Steps         []domain.DecisionStep
}

// Evaluate 按 Codex 四问对危害做一次性判定，Q1/Q2 为否时提前终止
func Evaluate(in Input) Outcome {
	h := in.Hazard
	var out Outcome

	q1 := h.RiskScore >= in.ControlThreshold
	out.Steps = append(out.Steps, domain.DecisionStep{
		Question:    domain.Q1,
		Answer:      q1,
		Explanation: fmt.Sprintf("risk score %d %s control threshold %d", h.RiskScore, cmp(q1, ">=", "<"), in.ControlThreshold),
	})
	if !q1 {
		out.Justification = JustificationNotNecessary
		return out
	}

	q2 := h.Likelihood >= LikelihoodThreshold
	out.Steps = append(out.Steps, domain.DecisionStep{
		Question:    domain.Q2,
		Answer:      q2,
		Explanation: fmt.Sprintf("likelihood %d %s %d", h.Likelihood, cmp(q2, ">=", "<"), LikelihoodThreshold),
	})
	if !q2 {
		out.Justification = JustificationNotLikely
		return out
	}

	controller := downstreamController(in.Downstream)
	q3 := controller != nil
	q3Explanation := "no hazard on a subsequent process step is controlled"
	if q3 {
		q3Explanation = fmt.Sprintf("hazard %s on a subsequent process step is controlled", controller.HazardID)
	}
	out.Steps = append(out.Steps, domain.DecisionStep{
		Question:    domain.Q3,
		Answer:      q3,
		Explanation: q3Explanation,
	})

	q4 := h.IsControlled && h.ControlEffectiveness >= EffectivenessThreshold
	out.Steps = append(out.Steps, domain.DecisionStep{
		Question: domain.Q4,
		Answer:   q4,
		Explanation: fmt.Sprintf("is_controlled=%t, control effectiveness %d %s %d",
			h.IsControlled, h.ControlEffectiveness, cmp(h.ControlEffectiveness >= EffectivenessThreshold, ">=", "<"), EffectivenessThreshold),
	})

	switch {
	case q3:
		out.Justification = JustificationDownstream
	case q4:
		out.IsCCP = true
		out.Justification = JustificationDesigned
	default:
		out.IsCCP = true
		out.Justification = JustificationByExclusion
	}
	return out
}

func downstreamController(hazards []*domain.Hazard) *domain.Hazard {
	for _, d := range hazards {
		if d != nil && d.IsControlled {
			return d
		}
	}
	return nil
}

func cmp(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
