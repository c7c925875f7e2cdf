// Package repository はデータ永続化のインターフェースを定義する。
// ホスト型データベース（プロバイダーが公開するPostgres）のテーブル群を扱う。
package repository

import (
	"context"

	"github.com/hitoshi/pdfgate/internal/model"
)

// ProfileRepository はprofilesテーブルの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定ユーザーIDのプロファイルを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// FindByEmail はメールアドレスでプロファイルを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Profile, error)

	// ExistsByEmail はメールアドレスのプロファイル行が存在するか調べる。
	// サインアップ前の重複チェックに使用する（大文字小文字を区別しない）。
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// Upsert はプロファイル行を冪等に作成・更新する。
	Upsert(ctx context.Context, profile *model.Profile) error
}

// AdminUserRepository はadmin_usersテーブルの永続化インターフェース。
type AdminUserRepository interface {
	// FindByEmail はメールアドレスで管理者を検索する（大文字小文字を区別しない）。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.AdminUser, error)

	// UpdatePassword はパスワードハッシュを差し替え、全リセットフラグを解除し、
	// ローテーション日時を記録する。移行前の平文カラムはクリアする。
	UpdatePassword(ctx context.Context, email, passwordHash string) error
}

// PdfAssetFilter は管理画面向け一覧の検索条件。
type PdfAssetFilter struct {
	Module string
	Lesson string
	Limit  int
	Offset int
}

// PdfAssetPatch はPDFアセットの部分更新を表す。nilフィールドは変更しない。
type PdfAssetPatch struct {
	Module     *string
	Lesson     *string
	Label      *string
	OrderIndex *int
	Path       *string
	IsDefault  *bool
	ScoreMin   *int
	ScoreMax   *int
	Active     *bool
}

// IsEmpty は更新対象フィールドが1つもないことを判定する。
func (p *PdfAssetPatch) IsEmpty() bool {
	return p.Module == nil && p.Lesson == nil && p.Label == nil &&
		p.OrderIndex == nil && p.Path == nil && p.IsDefault == nil &&
		p.ScoreMin == nil && p.ScoreMax == nil && p.Active == nil
}

// PdfAssetRepository はpdf_assetsテーブルの永続化インターフェース。
type PdfAssetRepository interface {
	// FindByID は指定IDのアセットを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.PdfAsset, error)

	// List はフィルタ条件に一致するアセット一覧をmodule、order_index順で返す。
	List(ctx context.Context, filter PdfAssetFilter) ([]*model.PdfAsset, error)

	// ListActiveByModule は指定moduleの有効なアセットを返す。
	// lessonが空でない場合はlesson一致行と未設定行の両方を含む。
	ListActiveByModule(ctx context.Context, module, lesson string) ([]*model.PdfAsset, error)

	// Create はアセットを作成する。
	Create(ctx context.Context, asset *model.PdfAsset) error

	// Update は部分更新を適用し、更新後の行を返す。対象が存在しない場合はnilを返す。
	Update(ctx context.Context, id string, patch *PdfAssetPatch) (*model.PdfAsset, error)

	// Delete は指定IDのアセットを削除する。削除対象が存在した場合にtrueを返す。
	Delete(ctx context.Context, id string) (bool, error)
}
