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

func setupMockApprovalDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresApprovalRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewPostgresApprovalRepository(db)
}

func TestTransitionStep_CompareAndSwap(t *testing.T) {
	db, mock, repo := setupMockApprovalDB(t)
	defer db.Close()

	at := time.Now()
	mock.ExpectExec(`UPDATE approval_steps SET .* WHERE step_id = \$1 AND status = 'pending'`).
		WithArgs("st-1", "approved", "", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE approval_steps SET`).
		WithArgs("st-1", "approved", "", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.TransitionStep(context.Background(), "st-1", domain.StepApproved, "", at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.TransitionStep(context.Background(), "st-1", domain.StepApproved, "", at)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplacePendingSteps(t *testing.T) {
	db, mock, repo := setupMockApprovalDB(t)
	defer db.Close()

	now := time.Now()
	steps := []*domain.ApprovalStep{
		{StepID: "st-1", Kind: domain.EntityDocument, EntityID: "d-1", ApproverID: "u-1", ApprovalOrder: 1, Round: 2, Status: domain.StepPending, CreatedAt: now},
		{StepID: "st-2", Kind: domain.EntityDocument, EntityID: "d-1", ApproverID: "u-2", ApprovalOrder: 2, Round: 2, Status: domain.StepPending, CreatedAt: now},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM approval_steps WHERE entity_kind = \$1 AND entity_id = \$2 AND status = 'pending'`).
		WithArgs("document", "d-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO approval_steps`).
		WithArgs("st-1", "document", "d-1", "u-1", 1, 2, "pending", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO approval_steps`).
		WithArgs("st-2", "document", "d-1", "u-2", 2, 2, "pending", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.ReplacePendingSteps(context.Background(), domain.EntityDocument, "d-1", steps))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEntity_HACCPPlan(t *testing.T) {
	db, mock, repo := setupMockApprovalDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"plan_id", "product_id", "title", "status", "approved_by", "approved_at"}).
		AddRow("plan-1", "p-1", "Plan v3", "under_review", nil, nil)
	mock.ExpectQuery(`FROM haccp_plans\s+WHERE plan_id = \$1`).WithArgs("plan-1").WillReturnRows(rows)

	e, err := repo.GetEntity(context.Background(), domain.EntityHACCPPlan, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, domain.EntityHACCPPlan, e.Kind)
	assert.Equal(t, domain.EntityUnderReview, e.Status)
	require.NotNil(t, e.ProductID)
	assert.Equal(t, "p-1", *e.ProductID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEntity_UnknownKind(t *testing.T) {
	db, _, repo := setupMockApprovalDB(t)
	defer db.Close()

	_, err := repo.GetEntity(context.Background(), "invoice", "x")
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestGetStep_NotFound(t *testing.T) {
	db, mock, repo := setupMockApprovalDB(t)
	defer db.Close()

	mock.ExpectQuery(`FROM approval_steps WHERE step_id = \$1`).WithArgs("st-x").WillReturnError(sql.ErrNoRows)
	_, err := repo.GetStep(context.Background(), "st-x")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
