package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"haccp-core/internal/domain"
)

// PostgresUserRepository 用户与权限（只读）
type PostgresUserRepository struct {
	db *sql.DB
}

// NewPostgresUserRepository 创建用户 Repository
func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

var _ UserRepository = (*PostgresUserRepository)(nil)

// GetUser 根据 user_id 获取用户
func (r *PostgresUserRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id::text, username, COALESCE(full_name, ''), role, COALESCE(password_hash, ''), is_active
		FROM users
		WHERE user_id = $1
	`
	var u domain.User
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&u.UserID, &u.Username, &u.FullName, &u.Role, &u.PasswordHash, &u.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, userID)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// HasPermission 用户角色是否拥有权限
func (r *PostgresUserRepository) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM users u
			JOIN role_permissions rp ON rp.role_code = u.role
			WHERE u.user_id = $1 AND u.is_active = true AND rp.permission = $2
		)
	`
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, userID, permission).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check permission: %w", err)
	}
	return ok, nil
}
