// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/pdfgate/internal/model"
)

// AdminSessionCookieName は管理者セッショントークンを運ぶCookie名。
const AdminSessionCookieName = "admin_session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// adminEmailContextKey はリクエストコンテキストに管理者メールアドレスを格納するためのキー。
var adminEmailContextKey = contextKey("admin_email")

// SessionVerifier はセッショントークンの検証に必要なインターフェース。
// adminauth.Serviceの部分集合として定義する。
type SessionVerifier interface {
	VerifySession(ctx context.Context, token string) (string, error)
}

// NewAdminSessionMiddleware はHTTP Only Cookieから管理者セッションを読み取り、
// 有効性を検証するミドルウェアを返す。
// 認証済み管理者のメールアドレスをリクエストコンテキストに注入する。
// Cookieがない・無効・期限切れのリクエストにはセッションの状態に応じた401/403を返す。
func NewAdminSessionMiddleware(verifier SessionVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(AdminSessionCookieName)
			if err != nil || cookie.Value == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.DetailNotAuthenticated)
				return
			}

			email, err := verifier.VerifySession(r.Context(), cookie.Value)
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), adminEmailContextKey, email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminEmailFromContext はリクエストコンテキストから管理者メールアドレスを取得する。
// 管理者セッションミドルウェアを通過したリクエストでのみ有効。
func AdminEmailFromContext(ctx context.Context) (string, error) {
	email, ok := ctx.Value(adminEmailContextKey).(string)
	if !ok || email == "" {
		return "", fmt.Errorf("admin email not found in context")
	}
	return email, nil
}

// ContextWithAdminEmail はコンテキストに管理者メールアドレスを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithAdminEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, adminEmailContextKey, email)
}
