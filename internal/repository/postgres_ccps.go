package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"haccp-core/common/database"
	"haccp-core/internal/domain"
)

// PostgresCCPRepository CCP 与监控计划
type PostgresCCPRepository struct {
	db *sql.DB
}

// NewPostgresCCPRepository 创建 CCP Repository
func NewPostgresCCPRepository(db *sql.DB) *PostgresCCPRepository {
	return &PostgresCCPRepository{db: db}
}

var _ CCPRepository = (*PostgresCCPRepository)(nil)

const ccpColumns = `
	ccp_id::text,
	product_id::text,
	hazard_id::text,
	ccp_number,
	ccp_name,
	status,
	critical_limit_min,
	critical_limit_max,
	COALESCE(critical_limit_unit, ''),
	critical_limits,
	monitoring_responsible::text,
	verification_responsible::text,
	COALESCE(monitoring_frequency, ''),
	COALESCE(monitoring_method, ''),
	COALESCE(verification_frequency, ''),
	COALESCE(verification_method, ''),
	validation_evidence,
	created_by::text,
	created_at,
	updated_at`

func scanCCP(row rowScanner) (*domain.CCP, error) {
	var (
		c        domain.CCP
		status   string
		min, max sql.NullFloat64
		limits   sql.NullString
		monitor  sql.NullString
		verifier sql.NullString
		evidence sql.NullString
	)
	err := row.Scan(
		&c.CCPID,
		&c.ProductID,
		&c.HazardID,
		&c.CCPNumber,
		&c.CCPName,
		&status,
		&min,
		&max,
		&c.CriticalLimitUnit,
		&limits,
		&monitor,
		&verifier,
		&c.MonitoringFrequency,
		&c.MonitoringMethod,
		&c.VerificationFrequency,
		&c.VerificationMethod,
		&evidence,
		&c.CreatedBy,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = domain.CCPStatus(status)
	c.CriticalLimitMin = floatPtr(min)
	c.CriticalLimitMax = floatPtr(max)
	c.MonitoringResponsible = stringPtr(monitor)
	c.VerificationResponsible = stringPtr(verifier)
	// critical_limits 解码时逐项校验（CriticalLimit.UnmarshalJSON）
	if err := fromJSONB(limits, &c.CriticalLimits); err != nil {
		return nil, err
	}
	if err := fromJSONB(evidence, &c.ValidationEvidence); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCCP 根据 ccp_id 获取 CCP
func (r *PostgresCCPRepository) GetCCP(ctx context.Context, ccpID string) (*domain.CCP, error) {
	c, err := scanCCP(r.db.QueryRowContext(ctx, `SELECT `+ccpColumns+` FROM ccps WHERE ccp_id = $1`, ccpID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: ccp %s", domain.ErrNotFound, ccpID)
		}
		return nil, fmt.Errorf("failed to get ccp: %w", err)
	}
	return c, nil
}

// GetCCPByHazard 危害对应的 CCP
func (r *PostgresCCPRepository) GetCCPByHazard(ctx context.Context, hazardID string) (*domain.CCP, error) {
	c, err := scanCCP(r.db.QueryRowContext(ctx, `SELECT `+ccpColumns+` FROM ccps WHERE hazard_id = $1`, hazardID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: ccp for hazard %s", domain.ErrNotFound, hazardID)
		}
		return nil, fmt.Errorf("failed to get ccp: %w", err)
	}
	return c, nil
}

// CreateCCP 创建 CCP
func (r *PostgresCCPRepository) CreateCCP(ctx context.Context, c *domain.CCP) error {
	return insertCCP(ctx, r.db, c)
}

// CreateCCPWithSchedule 在同一事务内标记危害、创建 CCP 并保存监控计划
// hazard 或 s 为 nil 时跳过对应写入
func (r *PostgresCCPRepository) CreateCCPWithSchedule(ctx context.Context, hazard *domain.Hazard, c *domain.CCP, s *domain.MonitoringSchedule) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if hazard != nil {
			if err := updateHazard(ctx, tx, hazard); err != nil {
				return err
			}
		}
		if err := insertCCP(ctx, tx, c); err != nil {
			return err
		}
		if s != nil {
			return upsertSchedule(ctx, tx, s)
		}
		return nil
	})
}

func insertCCP(ctx context.Context, ex execer, c *domain.CCP) error {
	limits, err := toJSONB(c.CriticalLimits)
	if err != nil {
		return err
	}
	evidence, err := toJSONB(c.ValidationEvidence)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO ccps (
			ccp_id, product_id, hazard_id, ccp_number, ccp_name, status,
			critical_limit_min, critical_limit_max, critical_limit_unit, critical_limits,
			monitoring_responsible, verification_responsible,
			monitoring_frequency, monitoring_method, verification_frequency, verification_method,
			validation_evidence, created_by, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12,
			$13, $14, $15, $16,
			$17, $18, $19, $20
		)
	`
	_, err = ex.ExecContext(ctx, query,
		c.CCPID, c.ProductID, c.HazardID, c.CCPNumber, c.CCPName, string(c.Status),
		c.CriticalLimitMin, c.CriticalLimitMax, c.CriticalLimitUnit, limits,
		nullString(c.MonitoringResponsible), nullString(c.VerificationResponsible),
		c.MonitoringFrequency, c.MonitoringMethod, c.VerificationFrequency, c.VerificationMethod,
		evidence, c.CreatedBy, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create ccp: %w", err)
	}
	return nil
}

const scheduleColumns = `
	schedule_id::text,
	ccp_id::text,
	schedule_type,
	interval_minutes,
	cron_expression,
	tolerance_window_minutes,
	last_scheduled_time,
	next_due_time,
	is_active,
	updated_at`

func scanSchedule(row rowScanner) (*domain.MonitoringSchedule, error) {
	var (
		s        domain.MonitoringSchedule
		typ      string
		interval sql.NullInt64
		cronExpr sql.NullString
		last     sql.NullTime
		next     sql.NullTime
	)
	err := row.Scan(
		&s.ScheduleID,
		&s.CCPID,
		&typ,
		&interval,
		&cronExpr,
		&s.ToleranceWindowMinutes,
		&last,
		&next,
		&s.IsActive,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.ScheduleType = domain.ScheduleType(typ)
	s.IntervalMinutes = intPtr(interval)
	s.CronExpression = stringPtr(cronExpr)
	s.LastScheduledTime = timePtr(last)
	s.NextDueTime = timePtr(next)
	return &s, nil
}

// GetSchedule CCP 的监控计划
func (r *PostgresCCPRepository) GetSchedule(ctx context.Context, ccpID string) (*domain.MonitoringSchedule, error) {
	s, err := scanSchedule(r.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM ccp_monitoring_schedules WHERE ccp_id = $1`, ccpID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: monitoring schedule for ccp %s", domain.ErrNotFound, ccpID)
		}
		return nil, fmt.Errorf("failed to get monitoring schedule: %w", err)
	}
	return s, nil
}

// SaveSchedule 按 ccp_id upsert 监控计划
func (r *PostgresCCPRepository) SaveSchedule(ctx context.Context, s *domain.MonitoringSchedule) error {
	return upsertSchedule(ctx, r.db, s)
}

func upsertSchedule(ctx context.Context, ex execer, s *domain.MonitoringSchedule) error {
	query := `
		INSERT INTO ccp_monitoring_schedules (
			schedule_id, ccp_id, schedule_type, interval_minutes, cron_expression,
			tolerance_window_minutes, last_scheduled_time, next_due_time, is_active, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (ccp_id) DO UPDATE SET
			schedule_type = EXCLUDED.schedule_type,
			interval_minutes = EXCLUDED.interval_minutes,
			cron_expression = EXCLUDED.cron_expression,
			tolerance_window_minutes = EXCLUDED.tolerance_window_minutes,
			last_scheduled_time = EXCLUDED.last_scheduled_time,
			next_due_time = EXCLUDED.next_due_time,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
	`
	_, err := ex.ExecContext(ctx, query,
		s.ScheduleID, s.CCPID, string(s.ScheduleType), s.IntervalMinutes, nullString(s.CronExpression),
		s.ToleranceWindowMinutes, s.LastScheduledTime, s.NextDueTime, s.IsActive, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save monitoring schedule: %w", err)
	}
	return nil
}

// ListActiveSchedules 所有启用的监控计划
func (r *PostgresCCPRepository) ListActiveSchedules(ctx context.Context) ([]*domain.MonitoringSchedule, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM ccp_monitoring_schedules WHERE is_active = true ORDER BY next_due_time NULLS LAST`)
	if err != nil {
		return nil, fmt.Errorf("failed to list monitoring schedules: %w", err)
	}
	defer rows.Close()

	var out []*domain.MonitoringSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan monitoring schedule: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
