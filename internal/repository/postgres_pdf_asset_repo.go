package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/pdfgate/internal/model"
)

// pdfAssetColumns はpdf_assetsのSELECT列。Scanの順序と一致させること。
const pdfAssetColumns = `id, module, lesson, label, order_index, bucket, path,
	is_default, score_min, score_max, active, created_at, updated_at`

// PostgresPdfAssetRepo はPostgreSQLを使用したPDFアセットリポジトリ。
type PostgresPdfAssetRepo struct {
	db *sql.DB
}

// NewPostgresPdfAssetRepo はPostgresPdfAssetRepoを生成する。
func NewPostgresPdfAssetRepo(db *sql.DB) *PostgresPdfAssetRepo {
	return &PostgresPdfAssetRepo{db: db}
}

func scanPdfAsset(row interface{ Scan(...any) error }) (*model.PdfAsset, error) {
	asset := &model.PdfAsset{}
	var lesson, label, bucket sql.NullString
	var scoreMin, scoreMax sql.NullInt64

	err := row.Scan(&asset.ID, &asset.Module, &lesson, &label, &asset.OrderIndex,
		&bucket, &asset.Path, &asset.IsDefault, &scoreMin, &scoreMax,
		&asset.Active, &asset.CreatedAt, &asset.UpdatedAt)
	if err != nil {
		return nil, err
	}

	asset.Lesson = lesson.String
	asset.Label = label.String
	asset.Bucket = bucket.String
	if scoreMin.Valid {
		v := int(scoreMin.Int64)
		asset.ScoreMin = &v
	}
	if scoreMax.Valid {
		v := int(scoreMax.Int64)
		asset.ScoreMax = &v
	}
	return asset, nil
}

// FindByID は指定IDのアセットを取得する。見つからない場合はnilを返す。
func (r *PostgresPdfAssetRepo) FindByID(ctx context.Context, id string) (*model.PdfAsset, error) {
	asset, err := scanPdfAsset(r.db.QueryRowContext(ctx,
		`SELECT `+pdfAssetColumns+` FROM pdf_assets WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pdf asset: %w", err)
	}
	return asset, nil
}

// List はフィルタ条件に一致するアセット一覧をmodule、order_index順で返す。
func (r *PostgresPdfAssetRepo) List(ctx context.Context, filter PdfAssetFilter) ([]*model.PdfAsset, error) {
	var conditions []string
	var args []any

	if filter.Module != "" {
		args = append(args, filter.Module)
		conditions = append(conditions, fmt.Sprintf("module = $%d", len(args)))
	}
	if filter.Lesson != "" {
		args = append(args, filter.Lesson)
		conditions = append(conditions, fmt.Sprintf("lesson = $%d", len(args)))
	}

	query := `SELECT ` + pdfAssetColumns + ` FROM pdf_assets`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY module ASC, order_index ASC"

	args = append(args, filter.Limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pdf assets: %w", err)
	}
	defer rows.Close()

	return collectPdfAssets(rows)
}

// ListActiveByModule は指定moduleの有効なアセットを返す。
func (r *PostgresPdfAssetRepo) ListActiveByModule(ctx context.Context, module, lesson string) ([]*model.PdfAsset, error) {
	query := `SELECT ` + pdfAssetColumns + `
	 FROM pdf_assets
	 WHERE module = $1 AND active = true`
	args := []any{module}

	if lesson != "" {
		query += ` AND (lesson = $2 OR lesson IS NULL OR lesson = '')`
		args = append(args, lesson)
	}
	query += ` ORDER BY order_index ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active pdf assets: %w", err)
	}
	defer rows.Close()

	return collectPdfAssets(rows)
}

func collectPdfAssets(rows *sql.Rows) ([]*model.PdfAsset, error) {
	var assets []*model.PdfAsset
	for rows.Next() {
		asset, err := scanPdfAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pdf asset: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pdf assets: %w", err)
	}
	return assets, nil
}

// Create はアセットを作成する。
func (r *PostgresPdfAssetRepo) Create(ctx context.Context, asset *model.PdfAsset) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pdf_assets
		   (id, module, lesson, label, order_index, bucket, path,
		    is_default, score_min, score_max, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		asset.ID, asset.Module, nullString(asset.Lesson), nullString(asset.Label),
		asset.OrderIndex, nullString(asset.Bucket), asset.Path, asset.IsDefault,
		nullInt(asset.ScoreMin), nullInt(asset.ScoreMax), asset.Active,
		asset.CreatedAt, asset.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create pdf asset: %w", err)
	}
	return nil
}

// Update は部分更新を適用し、更新後の行を返す。対象が存在しない場合はnilを返す。
func (r *PostgresPdfAssetRepo) Update(ctx context.Context, id string, patch *PdfAssetPatch) (*model.PdfAsset, error) {
	var sets []string
	var args []any

	addSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Module != nil {
		addSet("module", *patch.Module)
	}
	if patch.Lesson != nil {
		addSet("lesson", nullString(*patch.Lesson))
	}
	if patch.Label != nil {
		addSet("label", nullString(*patch.Label))
	}
	if patch.OrderIndex != nil {
		addSet("order_index", *patch.OrderIndex)
	}
	if patch.Path != nil {
		addSet("path", *patch.Path)
	}
	if patch.IsDefault != nil {
		addSet("is_default", *patch.IsDefault)
	}
	if patch.ScoreMin != nil {
		addSet("score_min", *patch.ScoreMin)
	}
	if patch.ScoreMax != nil {
		addSet("score_max", *patch.ScoreMax)
	}
	if patch.Active != nil {
		addSet("active", *patch.Active)
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("empty pdf asset patch")
	}

	sets = append(sets, "updated_at = now()")
	args = append(args, id)

	query := fmt.Sprintf(
		`UPDATE pdf_assets SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), pdfAssetColumns,
	)

	asset, err := scanPdfAsset(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update pdf asset: %w", err)
	}
	return asset, nil
}

// Delete は指定IDのアセットを削除する。削除対象が存在した場合にtrueを返す。
func (r *PostgresPdfAssetRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM pdf_assets WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete pdf asset: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
