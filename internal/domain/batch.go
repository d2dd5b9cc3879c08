package domain

import "time"

// BatchStatus 批次状态
type BatchStatus string

const (
	BatchInProduction BatchStatus = "in_production"
	BatchQuarantined  BatchStatus = "quarantined"
	BatchReleased     BatchStatus = "released"
	BatchDisposed     BatchStatus = "disposed"
)

// DispositionType 隔离批次处置类型
type DispositionType string

const (
	DispositionRelease DispositionType = "release"
	DispositionDispose DispositionType = "dispose"
	DispositionRework  DispositionType = "rework"
)

// TargetStatus 处置后的批次状态
func (d DispositionType) TargetStatus() (BatchStatus, bool) {
	switch d {
	case DispositionRelease:
		return BatchReleased, true
	case DispositionDispose:
		return BatchDisposed, true
	case DispositionRework:
		return BatchInProduction, true
	}
	return "", false
}

// QuarantineInfo 隔离元数据
type QuarantineInfo struct {
	Reason           string    `json:"reason"`
	CCPID            string    `json:"ccp_id"`
	CCPName          string    `json:"ccp_name"`
	MonitoringLogID  string    `json:"monitoring_log_id"`
	NonConformanceID *string   `json:"non_conformance_id,omitempty"`
	MeasuredValue    float64   `json:"measured_value"`
	CriticalLimitMin *float64  `json:"critical_limit_min,omitempty"`
	CriticalLimitMax *float64  `json:"critical_limit_max,omitempty"`
	QuarantinedBy    string    `json:"quarantined_by"`
	QuarantinedAt    time.Time `json:"quarantined_at"`
}

// DispositionInfo 处置审计元数据
type DispositionInfo struct {
	DispositionType   DispositionType `json:"disposition_type"`
	Reason            string          `json:"reason"`
	ApprovedBy        string          `json:"approved_by"`
	ApprovedAt        time.Time       `json:"approved_at"`
	CorrectiveActions string          `json:"corrective_actions,omitempty"`
	VerificationTests string          `json:"verification_tests,omitempty"`
	PreviousStatus    BatchStatus     `json:"previous_status"`
}

// Batch 生产批次（对应 batches 表）
type Batch struct {
	BatchID     string           `json:"batch_id" db:"batch_id"`
	BatchNumber string           `json:"batch_number" db:"batch_number"`
	ProductID   string           `json:"product_id" db:"product_id"`
	Status      BatchStatus      `json:"status" db:"status"`
	Quarantine  *QuarantineInfo  `json:"quarantine,omitempty" db:"quarantine"`
	Disposition *DispositionInfo `json:"disposition,omitempty" db:"disposition"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}

// NonConformanceSeverity 不符合项严重度
type NonConformanceSeverity string

const (
	NCSeverityHigh     NonConformanceSeverity = "high"
	NCSeverityCritical NonConformanceSeverity = "critical"
)

// NonConformanceRequest 自动开立不符合项的请求（外部 NC 服务）
type NonConformanceRequest struct {
	Source               string                 `json:"source"`
	Title                string                 `json:"title"`
	Description          string                 `json:"description"`
	Severity             NonConformanceSeverity `json:"severity"`
	ProductID            string                 `json:"product_id"`
	CCPID                string                 `json:"ccp_id"`
	MonitoringLogID      string                 `json:"monitoring_log_id"`
	BatchID              *string                `json:"batch_id,omitempty"`
	ReportedBy           string                 `json:"reported_by"`
	TargetResolutionDate time.Time              `json:"target_resolution_date"`
}

// NonConformance 外部 NC 服务返回的记录
type NonConformance struct {
	NCID     string                 `json:"nc_id"`
	NCNumber string                 `json:"nc_number,omitempty"`
	Status   string                 `json:"status,omitempty"`
	Severity NonConformanceSeverity `json:"severity"`
}
