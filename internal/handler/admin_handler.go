package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/pdfgate/internal/adminauth"
	"github.com/hitoshi/pdfgate/internal/middleware"
	"github.com/hitoshi/pdfgate/internal/model"
)

// AdminAuthServiceInterface は管理者ハンドラーが必要とするサービスインターフェース。
type AdminAuthServiceInterface interface {
	Login(ctx context.Context, email, password string) (*adminauth.LoginResult, error)
	UpdatePassword(ctx context.Context, resetToken, newPassword, confirm string) (*adminauth.LoginResult, error)
}

// AdminHandlerConfig は管理者ハンドラーの設定。
type AdminHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AdminHandler は管理者セッション関連のHTTPハンドラー。
type AdminHandler struct {
	service AdminAuthServiceInterface
	config  AdminHandlerConfig
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminAuthServiceInterface, config AdminHandlerConfig) *AdminHandler {
	return &AdminHandler{
		service: service,
		config:  config,
	}
}

// adminLoginRequest は管理者ログインリクエストのボディ。
type adminLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// adminLoginResponse は管理者ログインの成功応答。
// パスワード変更が必要な場合はセッションを張らずリセットトークンのみ返す。
type adminLoginResponse struct {
	Email                  string `json:"email,omitempty"`
	RequiresPasswordChange bool   `json:"requires_password_change"`
	ResetToken             string `json:"reset_token,omitempty"`
}

// updatePasswordRequest はパスワード更新リクエストのボディ。
type updatePasswordRequest struct {
	ResetToken      string `json:"reset_token"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Login は管理者ログインを処理する。
// POST /admin/login
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "email and password are required")
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	if result.RequiresPasswordChange {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(adminLoginResponse{
			Email:                  result.Email,
			RequiresPasswordChange: true,
			ResetToken:             result.ResetToken,
		})
		return
	}

	h.setSessionCookie(w, result.SessionToken)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(adminLoginResponse{
		Email:                  result.Email,
		RequiresPasswordChange: false,
	})
}

// UpdatePassword はリセットトークンによるパスワード更新を処理する。
// 成功時は新しい資格情報で署名されたセッションを張る。
// POST /admin/password
func (h *AdminHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req updatePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ResetToken == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.DetailInvalidResetToken)
		return
	}

	result, err := h.service.UpdatePassword(r.Context(), req.ResetToken, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	h.setSessionCookie(w, result.SessionToken)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"email":   result.Email,
		"message": "Password updated",
	})
}

// Logout は管理者セッションCookieを破棄する。
// POST /admin/logout
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AdminSessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"message": "Logged out"})
}

// Me は現在の管理者セッション情報を返す。
// GET /admin/me（セッションミドルウェアの背後）
func (h *AdminHandler) Me(w http.ResponseWriter, r *http.Request) {
	email, err := middleware.AdminEmailFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.DetailNotAuthenticated)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"email":    email,
		"is_admin": true,
	})
}

// setSessionCookie は管理者セッションCookieを設定する。
func (h *AdminHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AdminSessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
