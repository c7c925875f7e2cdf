package model

import (
	"fmt"
	"net/http"
)

// APIError はハンドラー境界で解決されるエラーの統一フォーマット。
// Detailはレスポンスの detail フィールドとしてそのままブラウザに表示されるため、
// ユーザー向けの文言をここで確定させる。
type APIError struct {
	Status int    // HTTPステータスコード
	Detail string // ユーザー向けエラーメッセージ
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%d] %s", e.Status, e.Detail)
}

// 定義済みのユーザー向け文言。
const (
	DetailInvalidMode       = "Invalid mode. Use 'login' or 'signup'."
	DetailDuplicateEmail    = "Email already registered. Please log in instead."
	DetailInvalidEnvelope   = "Invalid encrypted payload"
	DetailNamesRequired     = "first_name and last_name are required for signup"
	DetailNotAuthenticated  = "Not authenticated"
	DetailInvalidSession    = "Invalid session"
	DetailNotAuthorized     = "Not authorized"
	DetailInvalidResetToken = "Invalid or expired reset token"
	DetailWeakPassword      = "Password must be at least 8 characters"
)

// NewClientError は不正な入力（400）のエラーを生成する。
func NewClientError(detail string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Detail: detail}
}

// NewConflictError はリソース重複（409）のエラーを生成する。
func NewConflictError(detail string) *APIError {
	return &APIError{Status: http.StatusConflict, Detail: detail}
}

// NewUnauthorizedError は未認証（401）のエラーを生成する。
func NewUnauthorizedError(detail string) *APIError {
	return &APIError{Status: http.StatusUnauthorized, Detail: detail}
}

// NewForbiddenError は権限不足（403）のエラーを生成する。
func NewForbiddenError(detail string) *APIError {
	return &APIError{Status: http.StatusForbidden, Detail: detail}
}

// NewNotFoundError はリソース未検出（404）のエラーを生成する。
func NewNotFoundError(detail string) *APIError {
	return &APIError{Status: http.StatusNotFound, Detail: detail}
}

// NewProviderError は上流のIDプロバイダー障害のエラーを生成する。
// プロバイダーのメッセージを握り潰さずそのまま伝播する。
func NewProviderError(detail string) *APIError {
	return &APIError{Status: http.StatusBadGateway, Detail: detail}
}

// NewDecryptionError はエンベロープ復号失敗のエラーを生成する。
// 改ざんや鍵不一致を警告扱いに弱めることはせず、常にクライアントエラーとする。
func NewDecryptionError() *APIError {
	return &APIError{Status: http.StatusBadRequest, Detail: DetailInvalidEnvelope}
}
