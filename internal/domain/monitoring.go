package domain

import "time"

// ScheduleType 监控计划类型
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
	ScheduleManual   ScheduleType = "manual"
)

// MonitoringSchedule CCP 监控计划（与 CCP 一对一）
type MonitoringSchedule struct {
	ScheduleID             string       `json:"schedule_id" db:"schedule_id"`
	CCPID                  string       `json:"ccp_id" db:"ccp_id"`
	ScheduleType           ScheduleType `json:"schedule_type" db:"schedule_type"`
	IntervalMinutes        *int         `json:"interval_minutes,omitempty" db:"interval_minutes"`
	CronExpression         *string      `json:"cron_expression,omitempty" db:"cron_expression"`
	ToleranceWindowMinutes int          `json:"tolerance_window_minutes" db:"tolerance_window_minutes"`
	LastScheduledTime      *time.Time   `json:"last_scheduled_time,omitempty" db:"last_scheduled_time"`
	NextDueTime            *time.Time   `json:"next_due_time,omitempty" db:"next_due_time"`
	IsActive               bool         `json:"is_active" db:"is_active"`
	UpdatedAt              time.Time    `json:"updated_at" db:"updated_at"`
}

// Tolerance 容差窗口
func (s *MonitoringSchedule) Tolerance() time.Duration {
	return time.Duration(s.ToleranceWindowMinutes) * time.Minute
}

// LimitResult 单个参数的限值判定结果
type LimitResult struct {
	Parameter string `json:"parameter"`
	Valid     bool   `json:"valid"`
	Measured  any    `json:"measured,omitempty"`
	Error     string `json:"error,omitempty"`
}

// MonitoringLog CCP 监控记录（is_within_limits 创建时计算，之后不可变）
type MonitoringLog struct {
	LogID   string  `json:"log_id" db:"log_id"`
	CCPID   string  `json:"ccp_id" db:"ccp_id"`
	BatchID *string `json:"batch_id,omitempty" db:"batch_id"`

	MeasuredValue        float64                `json:"measured_value" db:"measured_value"`
	Unit                 string                 `json:"unit,omitempty" db:"unit"`
	IsWithinLimits       bool                   `json:"is_within_limits" db:"is_within_limits"`
	AdditionalParameters map[string]any         `json:"additional_parameters,omitempty" db:"additional_parameters"`
	LimitResults         map[string]LimitResult `json:"limit_results,omitempty" db:"limit_results"`
	Observations         string                 `json:"observations,omitempty" db:"observations"`

	// 纠偏措施
	CorrectiveActionTaken       bool    `json:"corrective_action_taken" db:"corrective_action_taken"`
	CorrectiveActionDescription string  `json:"corrective_action_description,omitempty" db:"corrective_action_description"`
	CorrectiveActionBy          *string `json:"corrective_action_by,omitempty" db:"corrective_action_by"`

	// 验证（由独立的验证人后续填写）
	IsVerified         bool       `json:"is_verified" db:"is_verified"`
	VerifiedBy         *string    `json:"verified_by,omitempty" db:"verified_by"`
	VerifiedAt         *time.Time `json:"verified_at,omitempty" db:"verified_at"`
	VerificationResult string     `json:"verification_result,omitempty" db:"verification_result"`
	VerificationNotes  string     `json:"verification_notes,omitempty" db:"verification_notes"`

	EquipmentID      *string `json:"equipment_id,omitempty" db:"equipment_id"`
	NonConformanceID *string `json:"non_conformance_id,omitempty" db:"non_conformance_id"`

	MonitoredAt time.Time `json:"monitored_at" db:"monitored_at"`
	CreatedBy   string    `json:"created_by" db:"created_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Equipment 监控设备（温度计、探针等）
type Equipment struct {
	EquipmentID         string     `json:"equipment_id" db:"equipment_id"`
	Name                string     `json:"name" db:"name"`
	SerialNumber        string     `json:"serial_number,omitempty" db:"serial_number"`
	IsActive            bool       `json:"is_active" db:"is_active"`
	IsCalibrated        bool       `json:"is_calibrated" db:"is_calibrated"`
	LastCalibrationDate *time.Time `json:"last_calibration_date,omitempty" db:"last_calibration_date"`
	NextCalibrationDue  *time.Time `json:"next_calibration_due,omitempty" db:"next_calibration_due"`
}

// CalibrationValid 校准是否在有效期内
func (e *Equipment) CalibrationValid(now time.Time) bool {
	if !e.IsCalibrated {
		return false
	}
	if e.NextCalibrationDue != nil && now.After(*e.NextCalibrationDue) {
		return false
	}
	return true
}
