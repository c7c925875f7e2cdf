// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/pdfgate/internal/handshake"
	"github.com/hitoshi/pdfgate/internal/metrics"
	"github.com/hitoshi/pdfgate/internal/middleware"
	"github.com/hitoshi/pdfgate/internal/model"
)

// accessTokenCookieName はプロバイダーのアクセストークンを保持するCookie名。
const accessTokenCookieName = "sb_access_token"

// HandshakeServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type HandshakeServiceInterface interface {
	Authenticate(ctx context.Context, req *handshake.AuthRequest) (*handshake.AuthResponse, error)
	Profile(ctx context.Context, accessToken, returnKey string) (*handshake.ProfileResponse, error)
}

// profileRequest は POST /profile のリクエストボディを表す。
type profileRequest struct {
	ReturnKey string `json:"rtk"`
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
}

// AuthHandler は認証ハンドシェイクのHTTPハンドラー。
type AuthHandler struct {
	service HandshakeServiceInterface
	metrics metrics.MetricsCollector
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。metricsはnil可。
func NewAuthHandler(service HandshakeServiceInterface, collector metrics.MetricsCollector, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		metrics: collector,
		config:  config,
	}
}

// Authenticate はログイン・サインアップのハンドシェイクを処理する。
// POST /auth
func (h *AuthHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req handshake.AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.service.Authenticate(r.Context(), &req)
	if err != nil {
		h.recordOutcome(req.Mode, err)
		middleware.WriteError(w, err)
		return
	}
	h.recordOutcome(req.Mode, nil)

	// プロバイダーのセッショントークンはHTTP Only Cookieで保持する
	if resp.Session != nil && resp.Session.AccessToken != "" {
		maxAge := resp.Session.ExpiresIn
		if maxAge <= 0 {
			maxAge = 3600
		}
		http.SetCookie(w, &http.Cookie{
			Name:     accessTokenCookieName,
			Value:    resp.Session.AccessToken,
			Path:     "/",
			Domain:   h.config.CookieDomain,
			MaxAge:   maxAge,
			HttpOnly: true,
			Secure:   h.config.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Profile はログイン済みユーザーのプロファイルを暗号化して返す。
// セッションの根拠はHTTP Only Cookieのアクセストークンで、応答は常に暗号化される。
// POST /profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(accessTokenCookieName)
	if err != nil || cookie.Value == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.DetailNotAuthenticated)
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.service.Profile(r.Context(), cookie.Value, req.ReturnKey)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			middleware.WriteError(w, err)
			return
		}
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, "Failed to fetch profile")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// recordOutcome は認証試行の結果をメトリクスに反映する。
func (h *AuthHandler) recordOutcome(mode string, err error) {
	if h.metrics == nil {
		return
	}

	success := err == nil
	switch mode {
	case handshake.ModeSignup:
		h.metrics.RecordSignup(success)
	default:
		h.metrics.RecordLogin(success)
	}

	if err == nil {
		return
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusConflict:
			h.metrics.RecordDuplicateSignup()
		case http.StatusBadGateway:
			h.metrics.RecordProviderError()
		}
	}
}
