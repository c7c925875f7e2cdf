// Package provider はホスト型IDプロバイダー（認証API）のクライアントを提供する。
// プロバイダーはアカウント作成・認証を担う外部のSystem of Recordであり、
// ここでは必要な操作だけをインターフェースとして切り出す。
package provider

import (
	"context"
	"errors"
	"fmt"
)

// UserMetadata はアカウントに付随するユーザーメタデータを表す。
type UserMetadata struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Name      string `json:"name,omitempty"`
}

// AuthUser はプロバイダーのユーザーレコードを表す。
type AuthUser struct {
	ID       string       `json:"id"`
	Email    string       `json:"email"`
	Metadata UserMetadata `json:"user_metadata"`
}

// AuthSession はプロバイダーが発行したセッションを表す。
type AuthSession struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// AuthResult は認証・登録操作の結果を表す。
// プロバイダーの応答形によってはSessionがnilになる（メール確認待ち等）。
type AuthResult struct {
	User    *AuthUser
	Session *AuthSession
}

// Client はIDプロバイダーへの操作を抽象化するインターフェース。
// ハンドシェイク処理のテストではフェイク実装に差し替える。
type Client interface {
	// SignInWithPassword はメールアドレスとパスワードで認証する。
	SignInWithPassword(ctx context.Context, email, password string) (*AuthResult, error)

	// SignUp はアカウントを作成する。メタデータはアカウントに付随して保存される。
	SignUp(ctx context.Context, email, password string, meta UserMetadata) (*AuthResult, error)

	// GetUser はアクセストークンに対応するユーザーを取得する。
	// トークンが無効な場合はAPIレベルのエラーを返す。
	GetUser(ctx context.Context, accessToken string) (*AuthUser, error)

	// AdminUserExists はユーザーディレクトリにメールアドレスが登録済みか調べる。
	// サービスキーが必要。利用できない場合はErrAdminUnavailableを返す。
	AdminUserExists(ctx context.Context, email string) (bool, error)
}

// ErrAdminUnavailable は管理APIが利用できない（サービスキー未設定等）ことを表す。
// 呼び出し側は存在チェックをスキップして処理を継続する。
var ErrAdminUnavailable = errors.New("provider: admin API unavailable")

// Error はプロバイダーがAPIレベルで返したエラーを表す。
// Messageはプロバイダーのエラーメッセージ原文で、握り潰さずに上位へ伝播する。
type Error struct {
	StatusCode int
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Message)
}
