package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"haccp-core/internal/domain"
)

// PostgresProductRepository 产品、工艺流程、风险配置
type PostgresProductRepository struct {
	db *sql.DB
}

// NewPostgresProductRepository 创建产品 Repository
func NewPostgresProductRepository(db *sql.DB) *PostgresProductRepository {
	return &PostgresProductRepository{db: db}
}

var _ ProductRepository = (*PostgresProductRepository)(nil)

// GetProduct 根据 product_id 获取产品
func (r *PostgresProductRepository) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	query := `
		SELECT product_id::text, code, name, created_by::text, created_at
		FROM products
		WHERE product_id = $1
	`
	var p domain.Product
	err := r.db.QueryRowContext(ctx, query, productID).Scan(&p.ProductID, &p.Code, &p.Name, &p.CreatedBy, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, productID)
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &p, nil
}

// GetRiskConfig 产品风险配置，未配置返回 (nil, nil)
func (r *PostgresProductRepository) GetRiskConfig(ctx context.Context, productID string) (*domain.ProductRiskConfig, error) {
	query := `
		SELECT
			product_id::text,
			calculation_method,
			likelihood_scale,
			severity_scale,
			low_threshold,
			medium_threshold,
			high_threshold,
			risk_matrix,
			updated_at
		FROM product_risk_configs
		WHERE product_id = $1
	`
	var (
		cfg    domain.ProductRiskConfig
		matrix sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, productID).Scan(
		&cfg.ProductID,
		&cfg.CalculationMethod,
		&cfg.LikelihoodScale,
		&cfg.SeverityScale,
		&cfg.LowThreshold,
		&cfg.MediumThreshold,
		&cfg.HighThreshold,
		&matrix,
		&cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get risk config: %w", err)
	}
	if err := fromJSONB(matrix, &cfg.RiskMatrix); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetProcessStep 根据 step_id 获取工艺步骤
func (r *PostgresProductRepository) GetProcessStep(ctx context.Context, stepID string) (*domain.ProcessStep, error) {
	query := `
		SELECT step_id::text, product_id::text, step_number, step_name, COALESCE(description, ''), created_at
		FROM process_flow_steps
		WHERE step_id = $1
	`
	var s domain.ProcessStep
	err := r.db.QueryRowContext(ctx, query, stepID).Scan(&s.StepID, &s.ProductID, &s.StepNumber, &s.StepName, &s.Description, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: process step %s", domain.ErrNotFound, stepID)
		}
		return nil, fmt.Errorf("failed to get process step: %w", err)
	}
	return &s, nil
}

// ListProcessSteps 按 step_number 排序列出产品工艺步骤
func (r *PostgresProductRepository) ListProcessSteps(ctx context.Context, productID string) ([]*domain.ProcessStep, error) {
	query := `
		SELECT step_id::text, product_id::text, step_number, step_name, COALESCE(description, ''), created_at
		FROM process_flow_steps
		WHERE product_id = $1
		ORDER BY step_number
	`
	rows, err := r.db.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list process steps: %w", err)
	}
	defer rows.Close()

	var steps []*domain.ProcessStep
	for rows.Next() {
		var s domain.ProcessStep
		if err := rows.Scan(&s.StepID, &s.ProductID, &s.StepNumber, &s.StepName, &s.Description, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan process step: %w", err)
		}
		steps = append(steps, &s)
	}
	return steps, rows.Err()
}

// CountProcessSteps 产品工艺步骤数
func (r *PostgresProductRepository) CountProcessSteps(ctx context.Context, productID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM process_flow_steps WHERE product_id = $1`, productID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count process steps: %w", err)
	}
	return n, nil
}
