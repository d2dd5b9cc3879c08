package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"haccp-core/common/database"
	"haccp-core/internal/domain"

	"github.com/lib/pq"
)

// PostgresHazardRepository 危害分析与决策树
type PostgresHazardRepository struct {
	db *sql.DB
}

// NewPostgresHazardRepository 创建危害 Repository
func NewPostgresHazardRepository(db *sql.DB) *PostgresHazardRepository {
	return &PostgresHazardRepository{db: db}
}

var (
	_ HazardRepository       = (*PostgresHazardRepository)(nil)
	_ DecisionTreeRepository = (*PostgresHazardRepository)(nil)
)

const hazardColumns = `
	h.hazard_id::text,
	h.product_id::text,
	h.process_step_id::text,
	h.hazard_type,
	h.hazard_name,
	COALESCE(h.description, ''),
	h.likelihood,
	h.severity,
	h.risk_score,
	h.risk_level,
	COALESCE(h.control_measures, ''),
	h.is_controlled,
	COALESCE(h.control_effectiveness, 0),
	h.is_ccp,
	COALESCE(h.ccp_justification, ''),
	h.decision_tree_steps,
	h.decision_tree_run_at,
	h.decision_tree_run_by::text,
	h.created_by::text,
	h.created_at,
	h.updated_at`

// execer *sql.DB 与 *sql.Tx 共有的写接口
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHazard(row rowScanner) (*domain.Hazard, error) {
	var (
		h       domain.Hazard
		steps   sql.NullString
		runAt   sql.NullTime
		runBy   sql.NullString
		hzType  string
		hzLevel string
	)
	err := row.Scan(
		&h.HazardID,
		&h.ProductID,
		&h.ProcessStepID,
		&hzType,
		&h.HazardName,
		&h.Description,
		&h.Likelihood,
		&h.Severity,
		&h.RiskScore,
		&hzLevel,
		&h.ControlMeasures,
		&h.IsControlled,
		&h.ControlEffectiveness,
		&h.IsCCP,
		&h.CCPJustification,
		&steps,
		&runAt,
		&runBy,
		&h.CreatedBy,
		&h.CreatedAt,
		&h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	h.HazardType = domain.HazardType(hzType)
	h.RiskLevel = domain.RiskLevel(hzLevel)
	h.DecisionTreeRunAt = timePtr(runAt)
	h.DecisionTreeRunBy = stringPtr(runBy)
	if err := fromJSONB(steps, &h.DecisionTreeSteps); err != nil {
		return nil, err
	}
	return &h, nil
}

// GetHazard 根据 hazard_id 获取危害
func (r *PostgresHazardRepository) GetHazard(ctx context.Context, hazardID string) (*domain.Hazard, error) {
	query := `SELECT ` + hazardColumns + ` FROM hazards h WHERE h.hazard_id = $1`
	h, err := scanHazard(r.db.QueryRowContext(ctx, query, hazardID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: hazard %s", domain.ErrNotFound, hazardID)
		}
		return nil, fmt.Errorf("failed to get hazard: %w", err)
	}
	return h, nil
}

// CreateHazard 创建危害
func (r *PostgresHazardRepository) CreateHazard(ctx context.Context, h *domain.Hazard) error {
	steps, err := toJSONB(h.DecisionTreeSteps)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO hazards (
			hazard_id, product_id, process_step_id, hazard_type, hazard_name, description,
			likelihood, severity, risk_score, risk_level,
			control_measures, is_controlled, control_effectiveness,
			is_ccp, ccp_justification, decision_tree_steps, decision_tree_run_at, decision_tree_run_by,
			created_by, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20, $21
		)
	`
	_, err = r.db.ExecContext(ctx, query,
		h.HazardID, h.ProductID, h.ProcessStepID, string(h.HazardType), h.HazardName, h.Description,
		h.Likelihood, h.Severity, h.RiskScore, string(h.RiskLevel),
		h.ControlMeasures, h.IsControlled, h.ControlEffectiveness,
		h.IsCCP, h.CCPJustification, steps, h.DecisionTreeRunAt, nullString(h.DecisionTreeRunBy),
		h.CreatedBy, h.CreatedAt, h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create hazard: %w", err)
	}
	return nil
}

// UpdateHazard 更新危害（风险评估、控制措施、决策树结果）
func (r *PostgresHazardRepository) UpdateHazard(ctx context.Context, h *domain.Hazard) error {
	return updateHazard(ctx, r.db, h)
}

func updateHazard(ctx context.Context, ex execer, h *domain.Hazard) error {
	steps, err := toJSONB(h.DecisionTreeSteps)
	if err != nil {
		return err
	}
	query := `
		UPDATE hazards SET
			hazard_type = $2,
			hazard_name = $3,
			description = $4,
			likelihood = $5,
			severity = $6,
			risk_score = $7,
			risk_level = $8,
			control_measures = $9,
			is_controlled = $10,
			control_effectiveness = $11,
			is_ccp = $12,
			ccp_justification = $13,
			decision_tree_steps = $14,
			decision_tree_run_at = $15,
			decision_tree_run_by = $16,
			updated_at = $17
		WHERE hazard_id = $1
	`
	res, err := ex.ExecContext(ctx, query,
		h.HazardID, string(h.HazardType), h.HazardName, h.Description,
		h.Likelihood, h.Severity, h.RiskScore, string(h.RiskLevel),
		h.ControlMeasures, h.IsControlled, h.ControlEffectiveness,
		h.IsCCP, h.CCPJustification, steps, h.DecisionTreeRunAt, nullString(h.DecisionTreeRunBy),
		h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update hazard: %w", err)
	}
	return expectOneRow(res, "hazard", h.HazardID)
}

// ListHazardsByProduct 产品的全部危害
func (r *PostgresHazardRepository) ListHazardsByProduct(ctx context.Context, productID string) ([]*domain.Hazard, error) {
	query := `SELECT ` + hazardColumns + ` FROM hazards h WHERE h.product_id = $1 ORDER BY h.created_at`
	return r.queryHazards(ctx, query, productID)
}

// ListDownstreamHazards 后续工艺步骤上的危害
func (r *PostgresHazardRepository) ListDownstreamHazards(ctx context.Context, productID string, stepNumber int) ([]*domain.Hazard, error) {
	query := `
		SELECT ` + hazardColumns + `
		FROM hazards h
		JOIN process_flow_steps ps ON ps.step_id = h.process_step_id
		WHERE h.product_id = $1 AND ps.step_number > $2
		ORDER BY ps.step_number
	`
	return r.queryHazards(ctx, query, productID, stepNumber)
}

func (r *PostgresHazardRepository) queryHazards(ctx context.Context, query string, args ...any) ([]*domain.Hazard, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list hazards: %w", err)
	}
	defer rows.Close()

	var out []*domain.Hazard
	for rows.Next() {
		h, err := scanHazard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hazard: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// DeleteHazard 在一个事务内级联删除 CCP 相关数据、决策树和危害
func (r *PostgresHazardRepository) DeleteHazard(ctx context.Context, hazardID string) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var ccpIDs []string
		rows, err := tx.QueryContext(ctx, `SELECT ccp_id::text FROM ccps WHERE hazard_id = $1`, hazardID)
		if err != nil {
			return fmt.Errorf("failed to find ccps: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan ccp id: %w", err)
			}
			ccpIDs = append(ccpIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to read ccp ids: %w", err)
		}

		if len(ccpIDs) > 0 {
			for _, stmt := range []string{
				`DELETE FROM ccp_monitoring_logs WHERE ccp_id = ANY($1)`,
				`DELETE FROM ccp_monitoring_schedules WHERE ccp_id = ANY($1)`,
				`DELETE FROM ccps WHERE ccp_id = ANY($1)`,
			} {
				if _, err := tx.ExecContext(ctx, stmt, pq.Array(ccpIDs)); err != nil {
					return fmt.Errorf("failed to delete ccp data (%s): %w", strings.Fields(stmt)[2], err)
				}
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM decision_trees WHERE hazard_id = $1`, hazardID); err != nil {
			return fmt.Errorf("failed to delete decision tree: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM hazards WHERE hazard_id = $1`, hazardID)
		if err != nil {
			return fmt.Errorf("failed to delete hazard: %w", err)
		}
		return expectOneRow(res, "hazard", hazardID)
	})
}

// GetDecisionTreeByHazard 危害的交互式决策树
func (r *PostgresHazardRepository) GetDecisionTreeByHazard(ctx context.Context, hazardID string) (*domain.DecisionTree, error) {
	query := `
		SELECT
			tree_id::text,
			hazard_id::text,
			answers,
			is_ccp,
			COALESCE(reasoning, ''),
			decision_at,
			decision_by::text,
			status,
			reviewed_by::text,
			reviewed_at,
			created_by::text,
			created_at,
			updated_at
		FROM decision_trees
		WHERE hazard_id = $1
	`
	var (
		t          domain.DecisionTree
		answers    sql.NullString
		isCCP      sql.NullBool
		decisionAt sql.NullTime
		decisionBy sql.NullString
		status     string
		reviewedBy sql.NullString
		reviewedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, hazardID).Scan(
		&t.TreeID,
		&t.HazardID,
		&answers,
		&isCCP,
		&t.Reasoning,
		&decisionAt,
		&decisionBy,
		&status,
		&reviewedBy,
		&reviewedAt,
		&t.CreatedBy,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: decision tree for hazard %s", domain.ErrNotFound, hazardID)
		}
		return nil, fmt.Errorf("failed to get decision tree: %w", err)
	}
	if err := fromJSONB(answers, &t.Answers); err != nil {
		return nil, err
	}
	if isCCP.Valid {
		v := isCCP.Bool
		t.IsCCP = &v
	}
	t.DecisionAt = timePtr(decisionAt)
	t.DecisionBy = stringPtr(decisionBy)
	t.Status = domain.DecisionTreeStatus(status)
	t.ReviewedBy = stringPtr(reviewedBy)
	t.ReviewedAt = timePtr(reviewedAt)
	return &t, nil
}

// CreateDecisionTree 创建决策树，hazard_id 唯一约束冲突视为重复创建
func (r *PostgresHazardRepository) CreateDecisionTree(ctx context.Context, t *domain.DecisionTree) error {
	answers, err := toJSONB(t.Answers)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO decision_trees (tree_id, hazard_id, answers, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.ExecContext(ctx, query, t.TreeID, t.HazardID, answers, string(t.Status), t.CreatedBy, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: decision tree already exists for hazard %s", domain.ErrValidation, t.HazardID)
		}
		return fmt.Errorf("failed to create decision tree: %w", err)
	}
	return nil
}

// UpdateDecisionTree 保存作答、结论和复核信息
func (r *PostgresHazardRepository) UpdateDecisionTree(ctx context.Context, t *domain.DecisionTree) error {
	answers, err := toJSONB(t.Answers)
	if err != nil {
		return err
	}
	var isCCP sql.NullBool
	if t.IsCCP != nil {
		isCCP = sql.NullBool{Bool: *t.IsCCP, Valid: true}
	}
	query := `
		UPDATE decision_trees SET
			answers = $2,
			is_ccp = $3,
			reasoning = $4,
			decision_at = $5,
			decision_by = $6,
			status = $7,
			reviewed_by = $8,
			reviewed_at = $9,
			updated_at = $10
		WHERE tree_id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		t.TreeID, answers, isCCP, t.Reasoning, t.DecisionAt, nullString(t.DecisionBy),
		string(t.Status), nullString(t.ReviewedBy), t.ReviewedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update decision tree: %w", err)
	}
	return expectOneRow(res, "decision tree", t.TreeID)
}

func expectOneRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, what, id)
	}
	return nil
}
