// Package manifest はPDFアセットのマニフェスト管理を提供する。
// 公開読み取りは生のストレージパスを返さず、期限付きの署名URLへ解決する。
package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/pdfgate/internal/model"
	"github.com/hitoshi/pdfgate/internal/repository"
	"github.com/hitoshi/pdfgate/internal/storage"
)

// 管理画面向け一覧のlimitクランプ範囲。
const (
	defaultAdminListLimit = 50
	maxAdminListLimit     = 200
)

// Config はマニフェストサービスの設定。
type Config struct {
	// DefaultBucket は行にbucketが設定されていない場合に使うバケット名。
	DefaultBucket string
	// SignedURLTTL は取得用署名URLの有効期限。
	SignedURLTTL time.Duration
	// UploadURLTTL はアップロード用署名URLの有効期限。
	UploadURLTTL time.Duration
}

// PublicItem は公開マニフェストの1エントリ。ストレージパスの代わりに署名URLを持つ。
type PublicItem struct {
	ID         string `json:"id"`
	Module     string `json:"module"`
	Lesson     string `json:"lesson,omitempty"`
	Label      string `json:"label,omitempty"`
	OrderIndex int    `json:"order_index"`
	IsDefault  bool   `json:"is_default"`
	URL        string `json:"url"`
}

// UploadTarget は署名付きアップロードURLの発行結果。
// 呼び出し側はこのURLへ直接PUTした後、マニフェスト行を登録する（2段階アップロード）。
// 両段階の間で失敗するとマニフェスト行のない孤児オブジェクトが残るが、
// 自動回収は行わない。
type UploadTarget struct {
	SignedURL string `json:"signed_url"`
	Path      string `json:"path"`
	Module    string `json:"module"`
}

// Service はマニフェスト操作のビジネスロジックを提供する。
type Service struct {
	assets  repository.PdfAssetRepository
	objects storage.ObjectStorage
	config  Config
}

// NewService はServiceを生成する。
func NewService(assets repository.PdfAssetRepository, objects storage.ObjectStorage, config Config) *Service {
	return &Service{assets: assets, objects: objects, config: config}
}

// ListPublic は指定moduleの有効なアセットを署名URL付きで返す。
// scoreが指定された場合はスコア範囲の一致する行を優先し、
// 一致がなければmoduleのデフォルト行へフォールバックする。
// score未指定の場合はデフォルト行のみを返す。
// 個別行の署名失敗はその行のスキップとして扱い、一覧全体は失敗させない。
func (s *Service) ListPublic(ctx context.Context, module, lesson string, score *int, limit int) ([]*PublicItem, error) {
	if strings.TrimSpace(module) == "" {
		return nil, model.NewClientError("module is required")
	}

	assets, err := s.assets.ListActiveByModule(ctx, module, lesson)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}

	selected := selectForScore(assets, score)
	if limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}

	items := make([]*PublicItem, 0, len(selected))
	for _, asset := range selected {
		url, err := s.objects.SignedGetURL(ctx, s.bucketFor(asset), asset.Path, s.config.SignedURLTTL)
		if err != nil {
			slog.Warn("failed to sign asset URL",
				slog.String("asset_id", asset.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		items = append(items, &PublicItem{
			ID:         asset.ID,
			Module:     asset.Module,
			Lesson:     asset.Lesson,
			Label:      asset.Label,
			OrderIndex: asset.OrderIndex,
			IsDefault:  asset.IsDefault,
			URL:        url,
		})
	}
	return items, nil
}

// AdminList はフィルタ条件に一致するアセット一覧を返す。limitは1..200にクランプする。
func (s *Service) AdminList(ctx context.Context, filter repository.PdfAssetFilter) ([]*model.PdfAsset, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultAdminListLimit
	}
	if filter.Limit > maxAdminListLimit {
		filter.Limit = maxAdminListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	assets, err := s.assets.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	return assets, nil
}

// Create はアセットを登録する。module・pathは必須。
func (s *Service) Create(ctx context.Context, asset *model.PdfAsset) (*model.PdfAsset, error) {
	asset.Module = strings.TrimSpace(asset.Module)
	asset.Path = strings.TrimSpace(asset.Path)
	if asset.Module == "" {
		return nil, model.NewClientError("module is required")
	}
	if asset.Path == "" {
		return nil, model.NewClientError("path is required")
	}
	if asset.ScoreMin != nil && asset.ScoreMax != nil && *asset.ScoreMin > *asset.ScoreMax {
		return nil, model.NewClientError("score_min must not exceed score_max")
	}

	if asset.ID == "" {
		asset.ID = uuid.New().String()
	}
	now := time.Now()
	asset.CreatedAt = now
	asset.UpdatedAt = now

	if err := s.assets.Create(ctx, asset); err != nil {
		return nil, fmt.Errorf("failed to create asset: %w", err)
	}

	slog.Info("pdf asset created",
		slog.String("asset_id", asset.ID),
		slog.String("module", asset.Module),
	)
	return asset, nil
}

// Update は部分更新を適用する。空のパッチは400、対象不在は404。
func (s *Service) Update(ctx context.Context, id string, patch *repository.PdfAssetPatch) (*model.PdfAsset, error) {
	if patch == nil || patch.IsEmpty() {
		return nil, model.NewClientError("no fields to update")
	}
	if patch.Module != nil && strings.TrimSpace(*patch.Module) == "" {
		return nil, model.NewClientError("module must not be empty")
	}
	if patch.Path != nil && strings.TrimSpace(*patch.Path) == "" {
		return nil, model.NewClientError("path must not be empty")
	}

	updated, err := s.assets.Update(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update asset: %w", err)
	}
	if updated == nil {
		return nil, model.NewNotFoundError("PDF asset not found")
	}

	slog.Info("pdf asset updated", slog.String("asset_id", id))
	return updated, nil
}

// Delete はアセットを削除する。対象不在は404であり、成功として握り潰さない。
func (s *Service) Delete(ctx context.Context, id string) error {
	deleted, err := s.assets.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	if !deleted {
		return model.NewNotFoundError("PDF asset not found")
	}

	slog.Info("pdf asset deleted", slog.String("asset_id", id))
	return nil
}

// IssueUploadURL は署名付きアップロードURLを発行する。
// ストレージキーは module/<module>/[<lesson>/]<タイムスタンプ付きファイル名> のレイアウト。
func (s *Service) IssueUploadURL(ctx context.Context, module, lesson, filename string) (*UploadTarget, error) {
	module = strings.TrimSpace(module)
	filename = strings.TrimSpace(filename)
	if module == "" {
		return nil, model.NewClientError("module is required")
	}
	if filename == "" {
		return nil, model.NewClientError("filename is required")
	}

	key := s.uploadKey(module, strings.TrimSpace(lesson), filename)
	url, err := s.objects.SignedPutURL(ctx, s.config.DefaultBucket, key, s.config.UploadURLTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign upload URL: %w", err)
	}

	slog.Info("upload URL issued",
		slog.String("module", module),
		slog.String("path", key),
	)
	return &UploadTarget{SignedURL: url, Path: key, Module: module}, nil
}

func (s *Service) uploadKey(module, lesson, filename string) string {
	name := fmt.Sprintf("%d_%s", time.Now().UnixMilli(), sanitizeFilename(filename))
	if lesson != "" {
		return path.Join("module", module, lesson, name)
	}
	return path.Join("module", module, name)
}

func (s *Service) bucketFor(asset *model.PdfAsset) string {
	if asset.Bucket != "" {
		return asset.Bucket
	}
	return s.config.DefaultBucket
}

// sanitizeFilename はストレージキーに安全な文字だけを残す。
// パス区切りを除去し、英数字と . _ - 以外はアンダースコアに置き換える。
func sanitizeFilename(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	sanitized := b.String()
	if sanitized == "" || sanitized == "." || sanitized == ".." {
		return "file"
	}
	return sanitized
}

// selectForScore はスコアに応じた行選択を行う。
// スコア未指定の場合はデフォルト行のみを返す。
// スコア指定時はスコア範囲を持ちscoreに一致する行を優先し、なければデフォルト行を返す。
func selectForScore(assets []*model.PdfAsset, score *int) []*model.PdfAsset {
	if score == nil {
		var defaults []*model.PdfAsset
		for _, a := range assets {
			if a.IsDefault {
				defaults = append(defaults, a)
			}
		}
		return defaults
	}

	var matched []*model.PdfAsset
	for _, a := range assets {
		if (a.ScoreMin != nil || a.ScoreMax != nil) && a.MatchesScore(*score) {
			matched = append(matched, a)
		}
	}
	if len(matched) > 0 {
		return matched
	}

	var defaults []*model.PdfAsset
	for _, a := range assets {
		if a.IsDefault {
			defaults = append(defaults, a)
		}
	}
	return defaults
}
