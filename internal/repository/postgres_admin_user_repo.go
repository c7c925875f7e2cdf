package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/pdfgate/internal/model"
)

// PostgresAdminUserRepo はPostgreSQLを使用した管理者リポジトリ。
type PostgresAdminUserRepo struct {
	db *sql.DB
}

// NewPostgresAdminUserRepo はPostgresAdminUserRepoを生成する。
func NewPostgresAdminUserRepo(db *sql.DB) *PostgresAdminUserRepo {
	return &PostgresAdminUserRepo{db: db}
}

// FindByEmail はメールアドレスで管理者を検索する。見つからない場合はnilを返す。
func (r *PostgresAdminUserRepo) FindByEmail(ctx context.Context, email string) (*model.AdminUser, error) {
	admin := &model.AdminUser{}
	var passwordHash, legacyPassword sql.NullString
	var passwordUpdatedAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, password, active,
		        force_password_change, password_updated_at, created_at, updated_at
		 FROM admin_users
		 WHERE lower(email) = lower($1)
		 LIMIT 1`,
		email,
	).Scan(&admin.ID, &admin.Email, &passwordHash, &legacyPassword, &admin.Active,
		&admin.ForcePasswordChange, &passwordUpdatedAt, &admin.CreatedAt, &admin.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find admin user: %w", err)
	}

	admin.PasswordHash = passwordHash.String
	admin.LegacyPassword = legacyPassword.String
	if passwordUpdatedAt.Valid {
		t := passwordUpdatedAt.Time
		admin.PasswordUpdatedAt = &t
	}
	return admin, nil
}

// UpdatePassword はパスワードハッシュを差し替え、リセットフラグを解除する。
// 平文カラムのクリアとローテーション日時の記録を同時に行う。
func (r *PostgresAdminUserRepo) UpdatePassword(ctx context.Context, email, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE admin_users
		 SET password_hash = $2,
		     password = NULL,
		     force_password_change = false,
		     password_updated_at = now(),
		     updated_at = now()
		 WHERE lower(email) = lower($1)`,
		email, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update admin password: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("admin user not found: %s", email)
	}
	return nil
}
