package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"haccp-core/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockCCPDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresCCPRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewPostgresCCPRepository(db)
}

var ccpRowColumns = []string{
	"ccp_id", "product_id", "hazard_id", "ccp_number", "ccp_name", "status",
	"critical_limit_min", "critical_limit_max", "critical_limit_unit", "critical_limits",
	"monitoring_responsible", "verification_responsible",
	"monitoring_frequency", "monitoring_method", "verification_frequency", "verification_method",
	"validation_evidence", "created_by", "created_at", "updated_at",
}

func TestGetCCP_DecodesLimits(t *testing.T) {
	db, mock, repo := setupMockCCPDB(t)
	defer db.Close()

	now := time.Now()
	limits := `[{"parameter":"core_temp","limit_type":"numeric","min":72,"unit":"C"},{"parameter":"seal","limit_type":"qualitative","value":"intact"}]`
	rows := sqlmock.NewRows(ccpRowColumns).AddRow(
		"ccp-1", "p-1", "h-1", "CCP-1", "Cooking", "active",
		65.0, 85.0, "C", limits,
		"u-mon", "u-ver",
		"every batch", "probe", "daily", "record review",
		`[{"title":"Thermal study","added_at":"2026-01-01T00:00:00Z"}]`, "u-qa", now, now,
	)
	mock.ExpectQuery(`FROM ccps WHERE ccp_id = \$1`).WithArgs("ccp-1").WillReturnRows(rows)

	c, err := repo.GetCCP(context.Background(), "ccp-1")
	require.NoError(t, err)
	require.NotNil(t, c.CriticalLimitMin)
	assert.Equal(t, 65.0, *c.CriticalLimitMin)
	require.Len(t, c.CriticalLimits, 2)
	assert.Equal(t, domain.LimitQualitative, c.CriticalLimits[1].LimitType)
	assert.Equal(t, "u-mon", c.AlertRecipient())
	require.Len(t, c.ValidationEvidence, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCCP_RejectsMalformedLimits(t *testing.T) {
	db, mock, repo := setupMockCCPDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(ccpRowColumns).AddRow(
		"ccp-1", "p-1", "h-1", "CCP-1", "Cooking", "active",
		nil, nil, "", `[{"parameter":"seal","limit_type":"qualitative","min":1}]`,
		nil, nil, "", "", "", "", nil, "u-qa", now, now,
	)
	mock.ExpectQuery(`FROM ccps`).WithArgs("ccp-1").WillReturnRows(rows)

	_, err := repo.GetCCP(context.Background(), "ccp-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestGetSchedule_NotFound(t *testing.T) {
	db, mock, repo := setupMockCCPDB(t)
	defer db.Close()

	mock.ExpectQuery(`FROM ccp_monitoring_schedules WHERE ccp_id = \$1`).WithArgs("ccp-9").WillReturnError(sql.ErrNoRows)
	_, err := repo.GetSchedule(context.Background(), "ccp-9")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSaveSchedule_Upsert(t *testing.T) {
	db, mock, repo := setupMockCCPDB(t)
	defer db.Close()

	interval := 30
	next := time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)
	s := &domain.MonitoringSchedule{
		ScheduleID:             "s-1",
		CCPID:                  "ccp-1",
		ScheduleType:           domain.ScheduleInterval,
		IntervalMinutes:        &interval,
		ToleranceWindowMinutes: 5,
		NextDueTime:            &next,
		IsActive:               true,
	}
	mock.ExpectExec(`ON CONFLICT \(ccp_id\) DO UPDATE`).
		WithArgs("s-1", "ccp-1", "interval", 30, nil, 5, nil, next, true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveSchedule(context.Background(), s))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveSchedules(t *testing.T) {
	db, mock, repo := setupMockCCPDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"schedule_id", "ccp_id", "schedule_type", "interval_minutes", "cron_expression",
		"tolerance_window_minutes", "last_scheduled_time", "next_due_time", "is_active", "updated_at",
	}).
		AddRow("s-1", "ccp-1", "interval", 30, nil, 5, now, now.Add(30*time.Minute), true, now).
		AddRow("s-2", "ccp-2", "cron", nil, "0 * * * *", 10, nil, nil, true, now)
	mock.ExpectQuery(`WHERE is_active = true`).WillReturnRows(rows)

	out, err := repo.ListActiveSchedules(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.NotNil(t, out[0].IntervalMinutes)
	assert.Equal(t, 30, *out[0].IntervalMinutes)
	assert.Nil(t, out[1].IntervalMinutes)
	require.NotNil(t, out[1].CronExpression)
	assert.Equal(t, "0 * * * *", *out[1].CronExpression)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCCPWithSchedule_RollsBackWhenScheduleFails(t *testing.T) {
	db, mock, repo := setupMockCCPDB(t)
	defer db.Close()

	now := time.Now()
	by := "sup-1"
	h := &domain.Hazard{HazardID: "h-1", HazardType: domain.HazardBiological, IsCCP: true,
		CCPJustification: "manual CCP determination", DecisionTreeRunAt: &now, DecisionTreeRunBy: &by, UpdatedAt: now}
	c := &domain.CCP{CCPID: "ccp-1", ProductID: "p-1", HazardID: "h-1", CCPNumber: "CCP-1", CCPName: "Cooking",
		Status: domain.CCPActive, CreatedBy: "sup-1", CreatedAt: now, UpdatedAt: now}
	interval := 30
	s := &domain.MonitoringSchedule{ScheduleID: "s-1", CCPID: "ccp-1", ScheduleType: domain.ScheduleInterval,
		IntervalMinutes: &interval, IsActive: true, UpdatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE hazards SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ccps`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ccp_monitoring_schedules`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.CreateCCPWithSchedule(context.Background(), h, c, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCCPWithSchedule_SkipsHazardAndSchedule(t *testing.T) {
	db, mock, repo := setupMockCCPDB(t)
	defer db.Close()

	now := time.Now()
	c := &domain.CCP{CCPID: "ccp-1", ProductID: "p-1", HazardID: "h-1", CCPNumber: "CCP-1", CCPName: "Cooking",
		Status: domain.CCPActive, CreatedBy: "sup-1", CreatedAt: now, UpdatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO ccps`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CreateCCPWithSchedule(context.Background(), nil, c, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}
