package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "haccp"

// Metrics HACCP 核心指标，nil 接收者上的方法均为空操作
type Metrics struct {
	// monitoringLogs 监控记录数
	// Labels: result (within_limits, deviation)
	monitoringLogs *prometheus.CounterVec

	// deviationEffects 偏差响应各子步骤结果
	// Labels: effect (alert, nc, quarantine), outcome (created, failed, skipped)
	deviationEffects *prometheus.CounterVec

	// approvalTransitions 审批步骤状态迁移
	// Labels: kind (document, template, haccp_plan), status (approved, rejected, finalized, blocked)
	approvalTransitions *prometheus.CounterVec

	// decisionTrees 决策树结论
	// Labels: mode (heuristic, interactive), result (ccp, not_ccp)
	decisionTrees *prometheus.CounterVec

	// scheduleDegraded cron 降级次数
	scheduleDegraded prometheus.Counter
}

// New 在 reg 上注册指标；reg 为 nil 时使用默认注册表
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		monitoringLogs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitoring",
			Name:      "logs_total",
			Help:      "Total CCP monitoring logs recorded by result",
		}, []string{"result"}),
		deviationEffects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deviation",
			Name:      "effects_total",
			Help:      "Deviation response side effects by outcome",
		}, []string{"effect", "outcome"}),
		approvalTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "approval",
			Name:      "transitions_total",
			Help:      "Approval step transitions by entity kind",
		}, []string{"kind", "status"}),
		decisionTrees: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision_tree",
			Name:      "results_total",
			Help:      "CCP decision tree results",
		}, []string{"mode", "result"}),
		scheduleDegraded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "schedule",
			Name:      "cron_degraded_total",
			Help:      "Next-due calculations that fell back to the +1h interval",
		}),
	}
}

// ObserveMonitoringLog 记录一次监控
func (m *Metrics) ObserveMonitoringLog(withinLimits bool) {
	if m == nil {
		return
	}
	result := "within_limits"
	if !withinLimits {
		result = "deviation"
	}
	m.monitoringLogs.WithLabelValues(result).Inc()
}

// ObserveDeviationEffect 记录偏差响应子步骤
func (m *Metrics) ObserveDeviationEffect(effect, outcome string) {
	if m == nil {
		return
	}
	m.deviationEffects.WithLabelValues(effect, outcome).Inc()
}

// ObserveApproval 记录审批迁移
func (m *Metrics) ObserveApproval(kind, status string) {
	if m == nil {
		return
	}
	m.approvalTransitions.WithLabelValues(kind, status).Inc()
}

// ObserveDecisionTree 记录决策树结论
func (m *Metrics) ObserveDecisionTree(mode string, isCCP bool) {
	if m == nil {
		return
	}
	result := "not_ccp"
	if isCCP {
		result = "ccp"
	}
	m.decisionTrees.WithLabelValues(mode, result).Inc()
}

// ObserveScheduleDegraded 记录 cron 降级
func (m *Metrics) ObserveScheduleDegraded() {
	if m == nil {
		return
	}
	m.scheduleDegraded.Inc()
}
