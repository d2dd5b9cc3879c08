package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"haccp-core/internal/domain"
)

// PostgresBatchRepository 生产批次
type PostgresBatchRepository struct {
	db *sql.DB
}

// NewPostgresBatchRepository 创建批次 Repository
func NewPostgresBatchRepository(db *sql.DB) *PostgresBatchRepository {
	return &PostgresBatchRepository{db: db}
}

var _ BatchRepository = (*PostgresBatchRepository)(nil)

// GetBatch 根据 batch_id 获取批次
func (r *PostgresBatchRepository) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	query := `
		SELECT batch_id::text, batch_number, product_id::text, status, quarantine, disposition, updated_at
		FROM batches
		WHERE batch_id = $1
	`
	var (
		b           domain.Batch
		status      string
		quarantine  sql.NullString
		disposition sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, batchID).Scan(
		&b.BatchID, &b.BatchNumber, &b.ProductID, &status, &quarantine, &disposition, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	b.Status = domain.BatchStatus(status)
	if err := fromJSONB(quarantine, &b.Quarantine); err != nil {
		return nil, err
	}
	if err := fromJSONB(disposition, &b.Disposition); err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateBatch 更新批次状态与隔离/处置元数据
func (r *PostgresBatchRepository) UpdateBatch(ctx context.Context, b *domain.Batch) error {
	quarantine, err := toJSONB(b.Quarantine)
	if err != nil {
		return err
	}
	disposition, err := toJSONB(b.Disposition)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE batches SET status = $2, quarantine = $3, disposition = $4, updated_at = $5 WHERE batch_id = $1`,
		b.BatchID, string(b.Status), quarantine, disposition, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	return expectOneRow(res, "batch", b.BatchID)
}
