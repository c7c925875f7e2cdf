package manifest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/pdfgate/internal/model"
	"github.com/hitoshi/pdfgate/internal/repository"
)

// fakeAssetRepo はrepository.PdfAssetRepositoryのテスト用フェイク実装。
type fakeAssetRepo struct {
	findByIDFunc   func(ctx context.Context, id string) (*model.PdfAsset, error)
	listFunc       func(ctx context.Context, filter repository.PdfAssetFilter) ([]*model.PdfAsset, error)
	listActiveFunc func(ctx context.Context, module, lesson string) ([]*model.PdfAsset, error)
	createFunc     func(ctx context.Context, asset *model.PdfAsset) error
	updateFunc     func(ctx context.Context, id string, patch *repository.PdfAssetPatch) (*model.PdfAsset, error)
	deleteFunc     func(ctx context.Context, id string) (bool, error)
}

func (f *fakeAssetRepo) FindByID(ctx context.Context, id string) (*model.PdfAsset, error) {
	if f.findByIDFunc != nil {
		return f.findByIDFunc(ctx, id)
	}
	return nil, nil
}

func (f *fakeAssetRepo) List(ctx context.Context, filter repository.PdfAssetFilter) ([]*model.PdfAsset, error) {
	if f.listFunc != nil {
		return f.listFunc(ctx, filter)
	}
	return nil, nil
}

func (f *fakeAssetRepo) ListActiveByModule(ctx context.Context, module, lesson string) ([]*model.PdfAsset, error) {
	if f.listActiveFunc != nil {
		return f.listActiveFunc(ctx, module, lesson)
	}
	return nil, nil
}

func (f *fakeAssetRepo) Create(ctx context.Context, asset *model.PdfAsset) error {
	if f.createFunc != nil {
		return f.createFunc(ctx, asset)
	}
	return nil
}

func (f *fakeAssetRepo) Update(ctx context.Context, id string, patch *repository.PdfAssetPatch) (*model.PdfAsset, error) {
	if f.updateFunc != nil {
		return f.updateFunc(ctx, id, patch)
	}
	return nil, nil
}

func (f *fakeAssetRepo) Delete(ctx context.Context, id string) (bool, error) {
	if f.deleteFunc != nil {
		return f.deleteFunc(ctx, id)
	}
	return false, nil
}

// fakeStorage はstorage.ObjectStorageのテスト用フェイク実装。
type fakeStorage struct {
	getErr error
	putErr error
}

func (f *fakeStorage) SignedGetURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	return fmt.Sprintf("https://storage.example.com/%s/%s?sig=abc&exp=%d", bucket, key, int(expires.Seconds())), nil
}

func (f *fakeStorage) SignedPutURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	return fmt.Sprintf("https://storage.example.com/%s/%s?sig=put&exp=%d", bucket, key, int(expires.Seconds())), nil
}

func testService(repo *fakeAssetRepo, store *fakeStorage) *Service {
	return NewService(repo, store, Config{
		DefaultBucket: "pdfs",
		SignedURLTTL:  30 * time.Minute,
		UploadURLTTL:  15 * time.Minute,
	})
}

func intPtr(v int) *int { return &v }

// ids は選択結果の確認用にIDだけを取り出す。
func ids(items []*PublicItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.ID)
	}
	return out
}

func strPtr(v string) *string { return &v }

func scoredAsset(id string, min, max *int, isDefault bool) *model.PdfAsset {
	return &model.PdfAsset{
		ID:        id,
		Module:    "module_1",
		Path:      "module/module_1/" + id + ".pdf",
		ScoreMin:  min,
		ScoreMax:  max,
		IsDefault: isDefault,
		Active:    true,
	}
}

func assertStatus(t *testing.T, err error, wantStatus int) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Status != wantStatus {
		t.Fatalf("status = %d, want %d (detail=%q)", apiErr.Status, wantStatus, apiErr.Detail)
	}
}

func TestListPublic_SignedURLs(t *testing.T) {
	repo := &fakeAssetRepo{
		listActiveFunc: func(ctx context.Context, module, lesson string) ([]*model.PdfAsset, error) {
			return []*model.PdfAsset{scoredAsset("a1", nil, nil, false)}, nil
		},
	}
	svc := testService(repo, &fakeStorage{})

	items, err := svc.ListPublic(context.Background(), "module_1", "", nil, 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if !strings.Contains(items[0].URL, "sig=") {
		t.Errorf("URL is not signed: %s", items[0].URL)
	}
	// 30分の有効期限が署名に渡る
	if !strings.Contains(items[0].URL, "exp=1800") {
		t.Errorf("URL does not carry signing TTL: %s", items[0].URL)
	}
}

func TestListPublic_MissingModule(t *testing.T) {
	svc := testService(&fakeAssetRepo{}, &fakeStorage{})

	_, err := svc.ListPublic(context.Background(), "  ", "", nil, 0)
	assertStatus(t, err, http.StatusBadRequest)
}

// TestListPublic_ScoreSelection はスコアに応じた行選択を検証する:
// スコア範囲一致を優先し、一致がなければデフォルト行へフォールバックする。
// スコア未指定の場合はデフォルト行のみを返す。
func TestListPublic_ScoreSelection(t *testing.T) {
	low := scoredAsset("low", nil, intPtr(49), false)
	high := scoredAsset("high", intPtr(50), nil, false)
	fallback := scoredAsset("fallback", nil, nil, true)

	repo := &fakeAssetRepo{
		listActiveFunc: func(ctx context.Context, module, lesson string) ([]*model.PdfAsset, error) {
			return []*model.PdfAsset{low, high, fallback}, nil
		},
	}
	svc := testService(repo, &fakeStorage{})

	t.Run("低スコアは下限なし範囲に一致", func(t *testing.T) {
		items, err := svc.ListPublic(context.Background(), "module_1", "", intPtr(30), 0)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(items) != 1 || items[0].ID != "low" {
			t.Errorf("unexpected selection: %+v", ids(items))
		}
	})

	t.Run("高スコアは上限なし範囲に一致", func(t *testing.T) {
		items, err := svc.ListPublic(context.Background(), "module_1", "", intPtr(80), 0)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(items) != 1 || items[0].ID != "high" {
			t.Errorf("unexpected selection: %+v", ids(items))
		}
	})

	t.Run("範囲一致なしはデフォルトへフォールバック", func(t *testing.T) {
		repoNoRange := &fakeAssetRepo{
			listActiveFunc: func(ctx context.Context, module, lesson string) ([]*model.PdfAsset, error) {
				return []*model.PdfAsset{scoredAsset("only-high", intPtr(90), nil, false), fallback}, nil
			},
		}
		svcNoRange := testService(repoNoRange, &fakeStorage{})

		items, err := svcNoRange.ListPublic(context.Background(), "module_1", "", intPtr(10), 0)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(items) != 1 || items[0].ID != "fallback" {
			t.Errorf("unexpected selection: %+v", ids(items))
		}
	})

	t.Run("スコア未指定はデフォルト行のみ", func(t *testing.T) {
		items, err := svc.ListPublic(context.Background(), "module_1", "", nil, 0)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(items) != 1 || items[0].ID != "fallback" {
			t.Errorf("unexpected selection: %+v", ids(items))
		}
	})
}

// TestListPublic_SigningFailureSkipsRow は個別行の署名失敗が一覧全体を
// 失敗させないことを検証する。
func TestListPublic_SigningFailureSkipsRow(t *testing.T) {
	repo := &fakeAssetRepo{
		listActiveFunc: func(ctx context.Context, module, lesson string) ([]*model.PdfAsset, error) {
			return []*model.PdfAsset{scoredAsset("a1", nil, nil, false)}, nil
		},
	}
	svc := testService(repo, &fakeStorage{getErr: errors.New("storage down")})

	items, err := svc.ListPublic(context.Background(), "module_1", "", nil, 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(items) != 0 {
		t.Errorf("len(items) = %d, want 0", len(items))
	}
}

func TestAdminList_LimitClamp(t *testing.T) {
	var captured repository.PdfAssetFilter
	repo := &fakeAssetRepo{
		listFunc: func(ctx context.Context, filter repository.PdfAssetFilter) ([]*model.PdfAsset, error) {
			captured = filter
			return nil, nil
		},
	}
	svc := testService(repo, &fakeStorage{})

	tests := []struct {
		name      string
		limit     int
		wantLimit int
	}{
		{"ゼロはデフォルト", 0, 50},
		{"負数はデフォルト", -5, 50},
		{"上限超過は200", 1000, 200},
		{"範囲内はそのまま", 25, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AdminList(context.Background(), repository.PdfAssetFilter{Limit: tt.limit})
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if captured.Limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", captured.Limit, tt.wantLimit)
			}
		})
	}
}

func TestCreate_Validation(t *testing.T) {
	svc := testService(&fakeAssetRepo{}, &fakeStorage{})

	t.Run("module必須", func(t *testing.T) {
		_, err := svc.Create(context.Background(), &model.PdfAsset{Path: "a.pdf"})
		assertStatus(t, err, http.StatusBadRequest)
	})

	t.Run("path必須", func(t *testing.T) {
		_, err := svc.Create(context.Background(), &model.PdfAsset{Module: "module_1"})
		assertStatus(t, err, http.StatusBadRequest)
	})

	t.Run("不正なスコア範囲", func(t *testing.T) {
		_, err := svc.Create(context.Background(), &model.PdfAsset{
			Module: "module_1", Path: "a.pdf",
			ScoreMin: intPtr(80), ScoreMax: intPtr(50),
		})
		assertStatus(t, err, http.StatusBadRequest)
	})
}

func TestCreate_AssignsID(t *testing.T) {
	var created *model.PdfAsset
	repo := &fakeAssetRepo{
		createFunc: func(ctx context.Context, asset *model.PdfAsset) error {
			created = asset
			return nil
		},
	}
	svc := testService(repo, &fakeStorage{})

	asset, err := svc.Create(context.Background(), &model.PdfAsset{Module: "module_1", Path: "a.pdf"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if asset.ID == "" {
		t.Error("expected generated ID")
	}
	if created == nil || created.ID != asset.ID {
		t.Errorf("repository received different asset: %+v", created)
	}
}

func TestUpdate(t *testing.T) {
	t.Run("空のパッチは400", func(t *testing.T) {
		svc := testService(&fakeAssetRepo{}, &fakeStorage{})
		_, err := svc.Update(context.Background(), "id-1", &repository.PdfAssetPatch{})
		assertStatus(t, err, http.StatusBadRequest)
	})

	t.Run("moduleを空にする更新は400", func(t *testing.T) {
		svc := testService(&fakeAssetRepo{}, &fakeStorage{})
		_, err := svc.Update(context.Background(), "id-1", &repository.PdfAssetPatch{Module: strPtr("  ")})
		assertStatus(t, err, http.StatusBadRequest)
	})

	t.Run("対象不在は404", func(t *testing.T) {
		repo := &fakeAssetRepo{
			updateFunc: func(ctx context.Context, id string, patch *repository.PdfAssetPatch) (*model.PdfAsset, error) {
				return nil, nil
			},
		}
		svc := testService(repo, &fakeStorage{})
		_, err := svc.Update(context.Background(), "missing", &repository.PdfAssetPatch{Label: strPtr("x")})
		assertStatus(t, err, http.StatusNotFound)
	})

	t.Run("成功時は更新後の行を返す", func(t *testing.T) {
		repo := &fakeAssetRepo{
			updateFunc: func(ctx context.Context, id string, patch *repository.PdfAssetPatch) (*model.PdfAsset, error) {
				return &model.PdfAsset{ID: id, Label: *patch.Label}, nil
			},
		}
		svc := testService(repo, &fakeStorage{})
		updated, err := svc.Update(context.Background(), "id-1", &repository.PdfAssetPatch{Label: strPtr("new label")})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if updated.Label != "new label" {
			t.Errorf("label = %q, want %q", updated.Label, "new label")
		}
	})
}

func TestDelete(t *testing.T) {
	t.Run("対象不在は404", func(t *testing.T) {
		repo := &fakeAssetRepo{
			deleteFunc: func(ctx context.Context, id string) (bool, error) {
				return false, nil
			},
		}
		svc := testService(repo, &fakeStorage{})
		err := svc.Delete(context.Background(), "missing")
		assertStatus(t, err, http.StatusNotFound)
	})

	t.Run("成功", func(t *testing.T) {
		repo := &fakeAssetRepo{
			deleteFunc: func(ctx context.Context, id string) (bool, error) {
				return true, nil
			},
		}
		svc := testService(repo, &fakeStorage{})
		if err := svc.Delete(context.Background(), "id-1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})
}

func TestIssueUploadURL(t *testing.T) {
	svc := testService(&fakeAssetRepo{}, &fakeStorage{})

	t.Run("module必須", func(t *testing.T) {
		_, err := svc.IssueUploadURL(context.Background(), "", "", "a.pdf")
		assertStatus(t, err, http.StatusBadRequest)
	})

	t.Run("filename必須", func(t *testing.T) {
		_, err := svc.IssueUploadURL(context.Background(), "module_1", "", "")
		assertStatus(t, err, http.StatusBadRequest)
	})

	t.Run("lessonなしのパスレイアウト", func(t *testing.T) {
		target, err := svc.IssueUploadURL(context.Background(), "module_1", "", "worksheet.pdf")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !strings.HasPrefix(target.Path, "module/module_1/") {
			t.Errorf("path = %q, want module/module_1/ prefix", target.Path)
		}
		if !strings.HasSuffix(target.Path, "_worksheet.pdf") {
			t.Errorf("path = %q, want timestamped filename suffix", target.Path)
		}
		if target.Module != "module_1" {
			t.Errorf("module = %q, want module_1", target.Module)
		}
		if !strings.Contains(target.SignedURL, "sig=put") {
			t.Errorf("URL is not a signed PUT URL: %s", target.SignedURL)
		}
	})

	t.Run("lessonありのパスレイアウト", func(t *testing.T) {
		target, err := svc.IssueUploadURL(context.Background(), "module_1", "lesson_2", "worksheet.pdf")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !strings.HasPrefix(target.Path, "module/module_1/lesson_2/") {
			t.Errorf("path = %q, want lesson segment", target.Path)
		}
	})

	t.Run("ファイル名のサニタイズ", func(t *testing.T) {
		target, err := svc.IssueUploadURL(context.Background(), "module_1", "", "../../etc/pass wd?.pdf")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if strings.Contains(target.Path, "..") {
			t.Errorf("path traversal not neutralized: %q", target.Path)
		}
		if strings.ContainsAny(target.Path, " ?") {
			t.Errorf("unsafe characters remain: %q", target.Path)
		}
	})
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"worksheet.pdf", "worksheet.pdf"},
		{"my file (1).pdf", "my_file__1_.pdf"},
		{"../../evil.pdf", "evil.pdf"},
		{"..", "file"},
		{"", "file"},
		{"dir\\sub\\name.pdf", "name.pdf"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
