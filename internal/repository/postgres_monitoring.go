package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"haccp-core/internal/domain"
)

// PostgresMonitoringRepository 监控记录与设备
type PostgresMonitoringRepository struct {
	db *sql.DB
}

// NewPostgresMonitoringRepository 创建监控记录 Repository
func NewPostgresMonitoringRepository(db *sql.DB) *PostgresMonitoringRepository {
	return &PostgresMonitoringRepository{db: db}
}

var _ MonitoringLogRepository = (*PostgresMonitoringRepository)(nil)

// CreateMonitoringLog 写入监控记录
func (r *PostgresMonitoringRepository) CreateMonitoringLog(ctx context.Context, l *domain.MonitoringLog) error {
	params, err := toJSONB(l.AdditionalParameters)
	if err != nil {
		return err
	}
	results, err := toJSONB(l.LimitResults)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO ccp_monitoring_logs (
			log_id, ccp_id, batch_id, measured_value, unit, is_within_limits,
			additional_parameters, limit_results, observations,
			corrective_action_taken, corrective_action_description, corrective_action_by,
			equipment_id, monitored_at, created_by, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9,
			$10, $11, $12,
			$13, $14, $15, $16
		)
	`
	_, err = r.db.ExecContext(ctx, query,
		l.LogID, l.CCPID, nullString(l.BatchID), l.MeasuredValue, l.Unit, l.IsWithinLimits,
		params, results, l.Observations,
		l.CorrectiveActionTaken, l.CorrectiveActionDescription, nullString(l.CorrectiveActionBy),
		nullString(l.EquipmentID), l.MonitoredAt, l.CreatedBy, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create monitoring log: %w", err)
	}
	return nil
}

// GetMonitoringLog 根据 log_id 获取监控记录
func (r *PostgresMonitoringRepository) GetMonitoringLog(ctx context.Context, logID string) (*domain.MonitoringLog, error) {
	query := `
		SELECT
			log_id::text,
			ccp_id::text,
			batch_id::text,
			measured_value,
			COALESCE(unit, ''),
			is_within_limits,
			additional_parameters,
			limit_results,
			COALESCE(observations, ''),
			corrective_action_taken,
			COALESCE(corrective_action_description, ''),
			corrective_action_by::text,
			is_verified,
			verified_by::text,
			verified_at,
			COALESCE(verification_result, ''),
			COALESCE(verification_notes, ''),
			equipment_id::text,
			non_conformance_id::text,
			monitored_at,
			created_by::text,
			created_at
		FROM ccp_monitoring_logs
		WHERE log_id = $1
	`
	var (
		l            domain.MonitoringLog
		batchID      sql.NullString
		params       sql.NullString
		results      sql.NullString
		correctiveBy sql.NullString
		verifiedBy   sql.NullString
		verifiedAt   sql.NullTime
		equipmentID  sql.NullString
		ncID         sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, logID).Scan(
		&l.LogID,
		&l.CCPID,
		&batchID,
		&l.MeasuredValue,
		&l.Unit,
		&l.IsWithinLimits,
		&params,
		&results,
		&l.Observations,
		&l.CorrectiveActionTaken,
		&l.CorrectiveActionDescription,
		&correctiveBy,
		&l.IsVerified,
		&verifiedBy,
		&verifiedAt,
		&l.VerificationResult,
		&l.VerificationNotes,
		&equipmentID,
		&ncID,
		&l.MonitoredAt,
		&l.CreatedBy,
		&l.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: monitoring log %s", domain.ErrNotFound, logID)
		}
		return nil, fmt.Errorf("failed to get monitoring log: %w", err)
	}
	l.BatchID = stringPtr(batchID)
	l.CorrectiveActionBy = stringPtr(correctiveBy)
	l.VerifiedBy = stringPtr(verifiedBy)
	l.VerifiedAt = timePtr(verifiedAt)
	l.EquipmentID = stringPtr(equipmentID)
	l.NonConformanceID = stringPtr(ncID)
	if err := fromJSONB(params, &l.AdditionalParameters); err != nil {
		return nil, err
	}
	if err := fromJSONB(results, &l.LimitResults); err != nil {
		return nil, err
	}
	return &l, nil
}

// SaveVerification 只更新验证与纠偏字段
func (r *PostgresMonitoringRepository) SaveVerification(ctx context.Context, l *domain.MonitoringLog) error {
	query := `
		UPDATE ccp_monitoring_logs SET
			is_verified = $2,
			verified_by = $3,
			verified_at = $4,
			verification_result = $5,
			verification_notes = $6,
			corrective_action_taken = $7,
			corrective_action_description = $8,
			corrective_action_by = $9
		WHERE log_id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		l.LogID, l.IsVerified, nullString(l.VerifiedBy), l.VerifiedAt, l.VerificationResult, l.VerificationNotes,
		l.CorrectiveActionTaken, l.CorrectiveActionDescription, nullString(l.CorrectiveActionBy),
	)
	if err != nil {
		return fmt.Errorf("failed to save verification: %w", err)
	}
	return expectOneRow(res, "monitoring log", l.LogID)
}

// LinkNonConformance 回写 NC 编号
func (r *PostgresMonitoringRepository) LinkNonConformance(ctx context.Context, logID, ncID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE ccp_monitoring_logs SET non_conformance_id = $2 WHERE log_id = $1`, logID, ncID)
	if err != nil {
		return fmt.Errorf("failed to link non-conformance: %w", err)
	}
	return expectOneRow(res, "monitoring log", logID)
}

// LastMonitoredAt 最近一次监控时间
func (r *PostgresMonitoringRepository) LastMonitoredAt(ctx context.Context, ccpID string) (*time.Time, error) {
	var last sql.NullTime
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(monitored_at) FROM ccp_monitoring_logs WHERE ccp_id = $1`, ccpID).Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to get last monitoring time: %w", err)
	}
	return timePtr(last), nil
}

// GetEquipment 根据 equipment_id 获取设备
func (r *PostgresMonitoringRepository) GetEquipment(ctx context.Context, equipmentID string) (*domain.Equipment, error) {
	query := `
		SELECT
			equipment_id::text,
			name,
			COALESCE(serial_number, ''),
			is_active,
			is_calibrated,
			last_calibration_date,
			next_calibration_due
		FROM equipment
		WHERE equipment_id = $1
	`
	var (
		e       domain.Equipment
		lastCal sql.NullTime
		nextDue sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, equipmentID).Scan(
		&e.EquipmentID, &e.Name, &e.SerialNumber, &e.IsActive, &e.IsCalibrated, &lastCal, &nextDue,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: equipment %s", domain.ErrNotFound, equipmentID)
		}
		return nil, fmt.Errorf("failed to get equipment: %w", err)
	}
	e.LastCalibrationDate = timePtr(lastCal)
	e.NextCalibrationDue = timePtr(nextDue)
	return &e, nil
}
