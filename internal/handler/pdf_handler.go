package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pdfgate/internal/manifest"
	"github.com/hitoshi/pdfgate/internal/metrics"
	"github.com/hitoshi/pdfgate/internal/middleware"
	"github.com/hitoshi/pdfgate/internal/model"
	"github.com/hitoshi/pdfgate/internal/repository"
)

// ManifestServiceInterface はPDFハンドラーが必要とするサービスインターフェース。
type ManifestServiceInterface interface {
	ListPublic(ctx context.Context, module, lesson string, score *int, limit int) ([]*manifest.PublicItem, error)
	AdminList(ctx context.Context, filter repository.PdfAssetFilter) ([]*model.PdfAsset, error)
	Create(ctx context.Context, asset *model.PdfAsset) (*model.PdfAsset, error)
	Update(ctx context.Context, id string, patch *repository.PdfAssetPatch) (*model.PdfAsset, error)
	Delete(ctx context.Context, id string) error
	IssueUploadURL(ctx context.Context, module, lesson, filename string) (*manifest.UploadTarget, error)
}

// PdfHandler はPDFマニフェスト関連のHTTPハンドラー。
type PdfHandler struct {
	service ManifestServiceInterface
	metrics metrics.MetricsCollector
}

// NewPdfHandler はPdfHandlerを生成する。metricsはnil可。
func NewPdfHandler(service ManifestServiceInterface, collector metrics.MetricsCollector) *PdfHandler {
	return &PdfHandler{
		service: service,
		metrics: collector,
	}
}

// createAssetRequest はPDFアセット登録リクエストのボディ。
type createAssetRequest struct {
	Module     string `json:"module"`
	Lesson     string `json:"lesson"`
	Label      string `json:"label"`
	OrderIndex int    `json:"order_index"`
	Bucket     string `json:"bucket"`
	Path       string `json:"path"`
	IsDefault  bool   `json:"is_default"`
	ScoreMin   *int   `json:"score_min"`
	ScoreMax   *int   `json:"score_max"`
	Active     *bool  `json:"active"`
}

// updateAssetRequest はPDFアセット部分更新リクエストのボディ。
// nilフィールドは変更しない。
type updateAssetRequest struct {
	Module     *string `json:"module"`
	Lesson     *string `json:"lesson"`
	Label      *string `json:"label"`
	OrderIndex *int    `json:"order_index"`
	Path       *string `json:"path"`
	IsDefault  *bool   `json:"is_default"`
	ScoreMin   *int    `json:"score_min"`
	ScoreMax   *int    `json:"score_max"`
	Active     *bool   `json:"active"`
}

// uploadURLRequest はアップロードURL発行リクエストのボディ。
type uploadURLRequest struct {
	Module   string `json:"module"`
	Lesson   string `json:"lesson"`
	Filename string `json:"filename"`
}

// ListPublic は公開マニフェストを返す。
// GET /pdfs?module=xxx&lesson=yyy&score=NN&limit=NN
func (h *PdfHandler) ListPublic(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var score *int
	if raw := q.Get("score"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, "score must be an integer")
			return
		}
		score = &n
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	items, err := h.service.ListPublic(r.Context(), q.Get("module"), q.Get("lesson"), score, limit)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	if h.metrics != nil {
		for range items {
			h.metrics.RecordSignedURLIssued("get")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"items": items})
}

// AdminList は管理画面向けにマニフェスト行を返す。
// GET /admin/pdfs?module=xxx&lesson=yyy&limit=NN&offset=NN
func (h *PdfHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := repository.PdfAssetFilter{
		Module: q.Get("module"),
		Lesson: q.Get("lesson"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, "offset must be an integer")
			return
		}
		filter.Offset = n
	}

	assets, err := h.service.AdminList(r.Context(), filter)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"items": assets})
}

// Create はマニフェスト行を登録する。
// POST /admin/pdfs
func (h *PdfHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	asset := &model.PdfAsset{
		Module:     req.Module,
		Lesson:     req.Lesson,
		Label:      req.Label,
		OrderIndex: req.OrderIndex,
		Bucket:     req.Bucket,
		Path:       req.Path,
		IsDefault:  req.IsDefault,
		ScoreMin:   req.ScoreMin,
		ScoreMax:   req.ScoreMax,
		Active:     true,
	}
	if req.Active != nil {
		asset.Active = *req.Active
	}

	created, err := h.service.Create(r.Context(), asset)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

// Update はマニフェスト行を部分更新する。
// PATCH /admin/pdfs/{id}
func (h *PdfHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	patch := &repository.PdfAssetPatch{
		Module:     req.Module,
		Lesson:     req.Lesson,
		Label:      req.Label,
		OrderIndex: req.OrderIndex,
		Path:       req.Path,
		IsDefault:  req.IsDefault,
		ScoreMin:   req.ScoreMin,
		ScoreMax:   req.ScoreMax,
		Active:     req.Active,
	}

	updated, err := h.service.Update(r.Context(), id, patch)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}

// Delete はマニフェスト行を削除する。
// DELETE /admin/pdfs/{id}
func (h *PdfHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), id); err != nil {
		middleware.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// IssueUploadURL はアップロード用署名URLを発行する。
// multipart/formエンコードとJSONの両方を受け付ける。
// POST /admin/upload-url
func (h *PdfHandler) IssueUploadURL(w http.ResponseWriter, r *http.Request) {
	req, err := parseUploadURLRequest(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	target, err := h.service.IssueUploadURL(r.Context(), req.Module, req.Lesson, req.Filename)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordSignedURLIssued("put")
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(target)
}

// parseUploadURLRequest はContent-Typeに応じてアップロードURLリクエストを解析する。
func parseUploadURLRequest(r *http.Request) (*uploadURLRequest, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") || strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		if strings.HasPrefix(ct, "multipart/form-data") {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				return nil, err
			}
		} else if err := r.ParseForm(); err != nil {
			return nil, err
		}
		return &uploadURLRequest{
			Module:   r.FormValue("module"),
			Lesson:   r.FormValue("lesson"),
			Filename: r.FormValue("filename"),
		}, nil
	}

	var req uploadURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}
