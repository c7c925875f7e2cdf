// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Profile はユーザーのPII（氏名・メールアドレス）を表す。
// IDプロバイダーのユーザーレコードとprofilesテーブル行から都度再構成され、
// サーバー側にはキャッシュされない。
type Profile struct {
	ID        string `json:"id,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	FullName  string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
}

// BuildFullName はfirst_nameとlast_nameからフルネームを導出する。
// full_nameが個別に与えられていない場合は常にこの導出値を使用する。
func BuildFullName(firstName, lastName string) string {
	return strings.TrimSpace(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName))
}

// CredentialPayload は認証リクエストの資格情報を表す。
// 暗号化エンベロープの復号結果、または平文リクエストボディから得られる。
// ReturnKey（rtk）はログイン試行ごとにクライアントが生成する対称鍵で、
// レスポンスの暗号化にのみ使用し、サーバー側には保存しない。
type CredentialPayload struct {
	Mode      string `json:"mode,omitempty"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	ReturnKey string `json:"rtk,omitempty"`
}

// AdminUser は管理者アカウントを表す。
// PasswordHashはbcryptハッシュ。LegacyPasswordは移行前の平文カラムで、
// 値が残っている場合は初回ログイン時に強制ローテーションの対象となる。
type AdminUser struct {
	ID                  string
	Email               string
	PasswordHash        string
	LegacyPassword      string
	Active              bool
	ForcePasswordChange bool
	PasswordUpdatedAt   *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
