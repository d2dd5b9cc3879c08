package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"haccp-core/common/database"
	"haccp-core/internal/domain"
)

// PostgresApprovalRepository 审批链存储
type PostgresApprovalRepository struct {
	db *sql.DB
}

// NewPostgresApprovalRepository 创建审批 Repository
func NewPostgresApprovalRepository(db *sql.DB) *PostgresApprovalRepository {
	return &PostgresApprovalRepository{db: db}
}

var _ ApprovalRepository = (*PostgresApprovalRepository)(nil)

// entityTable 各类实体的表名、主键列、产品列
type entityTable struct {
	table      string
	idColumn   string
	productCol string
}

var entityTables = map[domain.EntityKind]entityTable{
	domain.EntityDocument:  {table: "documents", idColumn: "document_id", productCol: "NULL"},
	domain.EntityTemplate:  {table: "document_templates", idColumn: "template_id", productCol: "NULL"},
	domain.EntityHACCPPlan: {table: "haccp_plans", idColumn: "plan_id", productCol: "product_id::text"},
}

func tableFor(kind domain.EntityKind) (entityTable, error) {
	t, ok := entityTables[kind]
	if !ok {
		return entityTable{}, fmt.Errorf("%w: unknown entity kind %q", domain.ErrValidation, kind)
	}
	return t, nil
}

// GetEntity 获取可审批实体
func (r *PostgresApprovalRepository) GetEntity(ctx context.Context, kind domain.EntityKind, entityID string) (*domain.ApprovableEntity, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT %s::text, %s, COALESCE(title, ''), status, approved_by::text, approved_at
		FROM %s
		WHERE %s = $1
	`, t.idColumn, t.productCol, t.table, t.idColumn)

	var (
		e          = domain.ApprovableEntity{Kind: kind}
		productID  sql.NullString
		status     string
		approvedBy sql.NullString
		approvedAt sql.NullTime
	)
	err = r.db.QueryRowContext(ctx, query, entityID).Scan(&e.EntityID, &productID, &e.Title, &status, &approvedBy, &approvedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, entityID)
		}
		return nil, fmt.Errorf("failed to get %s: %w", kind, err)
	}
	e.ProductID = stringPtr(productID)
	e.Status = domain.EntityStatus(status)
	e.ApprovedBy = stringPtr(approvedBy)
	e.ApprovedAt = timePtr(approvedAt)
	return &e, nil
}

// UpdateEntity 更新实体审批状态
func (r *PostgresApprovalRepository) UpdateEntity(ctx context.Context, e *domain.ApprovableEntity) error {
	t, err := tableFor(e.Kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET status = $2, approved_by = $3, approved_at = $4, updated_at = NOW() WHERE %s = $1`, t.table, t.idColumn)
	res, err := r.db.ExecContext(ctx, query, e.EntityID, string(e.Status), nullString(e.ApprovedBy), e.ApprovedAt)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", e.Kind, err)
	}
	return expectOneRow(res, string(e.Kind), e.EntityID)
}

const stepColumns = `
	step_id::text,
	entity_kind,
	entity_id::text,
	approver_id::text,
	approval_order,
	round,
	status,
	COALESCE(comments, ''),
	decided_at,
	created_at`

func scanStep(row rowScanner) (*domain.ApprovalStep, error) {
	var (
		s         domain.ApprovalStep
		kind      string
		status    string
		decidedAt sql.NullTime
	)
	if err := row.Scan(&s.StepID, &kind, &s.EntityID, &s.ApproverID, &s.ApprovalOrder, &s.Round, &status, &s.Comments, &decidedAt, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.Kind = domain.EntityKind(kind)
	s.Status = domain.StepStatus(status)
	s.DecidedAt = timePtr(decidedAt)
	return &s, nil
}

// ListSteps 实体的全部审批步骤（含历史轮次）
func (r *PostgresApprovalRepository) ListSteps(ctx context.Context, kind domain.EntityKind, entityID string) ([]*domain.ApprovalStep, error) {
	query := `SELECT ` + stepColumns + ` FROM approval_steps WHERE entity_kind = $1 AND entity_id = $2 ORDER BY round, approval_order`
	rows, err := r.db.QueryContext(ctx, query, string(kind), entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approval steps: %w", err)
	}
	defer rows.Close()

	var out []*domain.ApprovalStep
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval step: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetStep 根据 step_id 获取审批步骤
func (r *PostgresApprovalRepository) GetStep(ctx context.Context, stepID string) (*domain.ApprovalStep, error) {
	s, err := scanStep(r.db.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM approval_steps WHERE step_id = $1`, stepID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: approval step %s", domain.ErrNotFound, stepID)
		}
		return nil, fmt.Errorf("failed to get approval step: %w", err)
	}
	return s, nil
}

// ReplacePendingSteps 事务内删除 pending 步骤并插入新一轮步骤
func (r *PostgresApprovalRepository) ReplacePendingSteps(ctx context.Context, kind domain.EntityKind, entityID string, steps []*domain.ApprovalStep) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM approval_steps WHERE entity_kind = $1 AND entity_id = $2 AND status = 'pending'`,
			string(kind), entityID,
		); err != nil {
			return fmt.Errorf("failed to clear pending steps: %w", err)
		}
		for _, s := range steps {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO approval_steps (step_id, entity_kind, entity_id, approver_id, approval_order, round, status, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, s.StepID, string(s.Kind), s.EntityID, s.ApproverID, s.ApprovalOrder, s.Round, string(s.Status), s.CreatedAt); err != nil {
				return fmt.Errorf("failed to insert approval step: %w", err)
			}
		}
		return nil
	})
}

// TransitionStep pending -> approved/rejected 的 compare-and-swap 更新
func (r *PostgresApprovalRepository) TransitionStep(ctx context.Context, stepID string, to domain.StepStatus, comments string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE approval_steps SET status = $2, comments = $3, decided_at = $4 WHERE step_id = $1 AND status = 'pending'`,
		stepID, string(to), comments, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition approval step: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}
