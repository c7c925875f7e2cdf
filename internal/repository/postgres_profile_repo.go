package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/pdfgate/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロファイルリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByID は指定ユーザーIDのプロファイルを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	return r.findBy(ctx, "id = $1", id)
}

// FindByEmail はメールアドレスでプロファイルを検索する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByEmail(ctx context.Context, email string) (*model.Profile, error) {
	return r.findBy(ctx, "lower(email) = lower($1)", email)
}

func (r *PostgresProfileRepo) findBy(ctx context.Context, where string, arg any) (*model.Profile, error) {
	profile := &model.Profile{}
	var firstName, lastName, fullName, email sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, full_name, email
		 FROM profiles
		 WHERE `+where+`
		 LIMIT 1`,
		arg,
	).Scan(&profile.ID, &firstName, &lastName, &fullName, &email)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}

	profile.FirstName = firstName.String
	profile.LastName = lastName.String
	profile.FullName = fullName.String
	profile.Email = email.String
	return profile, nil
}

// ExistsByEmail はメールアドレスのプロファイル行が存在するか調べる。
func (r *PostgresProfileRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM profiles WHERE lower(email) = lower($1))`,
		email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check profile existence: %w", err)
	}
	return exists, nil
}

// Upsert はプロファイル行を冪等に作成・更新する。
func (r *PostgresProfileRepo) Upsert(ctx context.Context, profile *model.Profile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, first_name, last_name, full_name, email, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (id) DO UPDATE SET
		   first_name = EXCLUDED.first_name,
		   last_name  = EXCLUDED.last_name,
		   full_name  = EXCLUDED.full_name,
		   email      = EXCLUDED.email,
		   updated_at = now()`,
		profile.ID, profile.FirstName, profile.LastName, profile.FullName, profile.Email,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}
