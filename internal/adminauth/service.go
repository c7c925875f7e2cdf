// Package adminauth は管理者アカウントの認証とセッション管理を提供する。
// セッションとリセットトークンはHS256のJWTで、署名鍵にサーバー秘密と
// 現在のパスワードハッシュを連結する。パスワードが変わると既存トークンは
// すべて検証不能になるため、リセットトークンの単回使用と
// ローテーション時の全セッション失効が追加の状態なしに成立する。
package adminauth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/pdfgate/internal/cryptoutil"
	"github.com/hitoshi/pdfgate/internal/model"
	"github.com/hitoshi/pdfgate/internal/repository"
)

// トークンのpurposeクレーム値。セッションとリセットを相互に流用できないようにする。
const (
	PurposeSession = "session"
	PurposeReset   = "reset"
)

// MinPasswordLength は新パスワードの最小長。
const MinPasswordLength = 8

// Claims は管理者トークンのJWTクレーム。
type Claims struct {
	jwt.RegisteredClaims
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
}

// LoginResult は管理者ログインの結果を表す。
// RequiresPasswordChangeがtrueの場合、SessionTokenは発行されず
// ResetTokenのみが返る。
type LoginResult struct {
	Email                  string
	SessionToken           string
	ResetToken             string
	RequiresPasswordChange bool
}

// Config は管理者認証サービスの設定。
type Config struct {
	Secret     string
	SessionTTL time.Duration
	ResetTTL   time.Duration
}

// Service は管理者認証のビジネスロジックを提供する。
type Service struct {
	store  repository.AdminUserRepository
	config Config
}

// NewService はServiceを生成する。
func NewService(store repository.AdminUserRepository, config Config) *Service {
	return &Service{store: store, config: config}
}

// Login は管理者の資格情報を検証する。
// ローテーション対象（強制変更フラグ、ローテーション日時なし、非ハッシュ資格情報）の
// 場合はセッションを発行せず、単回使用のリセットトークンを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	admin, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find admin user: %w", err)
	}
	if admin == nil {
		return nil, model.NewUnauthorizedError("Invalid email or password")
	}
	if !admin.Active {
		return nil, model.NewForbiddenError(model.DetailNotAuthorized)
	}

	credential := storedCredential(admin)
	if credential == "" || !verifyPassword(credential, password) {
		slog.Warn("admin login rejected", slog.String("email", cryptoutil.MaskEmail(email)))
		return nil, model.NewUnauthorizedError("Invalid email or password")
	}

	if needsRotation(admin, credential) {
		resetToken, err := s.issueToken(admin, credential, PurposeReset, s.config.ResetTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to issue reset token: %w", err)
		}
		slog.Info("admin password rotation required", slog.String("email", cryptoutil.MaskEmail(admin.Email)))
		return &LoginResult{
			Email:                  admin.Email,
			ResetToken:             resetToken,
			RequiresPasswordChange: true,
		}, nil
	}

	sessionToken, err := s.issueToken(admin, credential, PurposeSession, s.config.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}
	slog.Info("admin logged in", slog.String("email", cryptoutil.MaskEmail(admin.Email)))
	return &LoginResult{Email: admin.Email, SessionToken: sessionToken}, nil
}

// UpdatePassword はリセットトークンを検証し、新パスワードへローテーションして
// フルセッションを発行する。保存済みハッシュが変わるため、同じリセットトークンの
// 2回目の使用は署名検証で弾かれる。
func (s *Service) UpdatePassword(ctx context.Context, resetToken, newPassword, confirm string) (*LoginResult, error) {
	if len(newPassword) < MinPasswordLength {
		return nil, model.NewClientError(model.DetailWeakPassword)
	}
	if newPassword != confirm {
		return nil, model.NewClientError("Passwords do not match")
	}

	admin, claims, err := s.verifyToken(ctx, resetToken, PurposeReset)
	if err != nil {
		return nil, model.NewClientError(model.DetailInvalidResetToken)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.store.UpdatePassword(ctx, claims.Email, string(hash)); err != nil {
		return nil, fmt.Errorf("failed to update admin password: %w", err)
	}

	// セッションは新しいハッシュで署名する。旧資格情報に紐づくトークンは全て失効する。
	sessionToken, err := s.issueToken(admin, string(hash), PurposeSession, s.config.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	slog.Info("admin password rotated", slog.String("email", cryptoutil.MaskEmail(claims.Email)))
	return &LoginResult{Email: claims.Email, SessionToken: sessionToken}, nil
}

// VerifySession はセッショントークンを検証し、管理者のメールアドレスを返す。
func (s *Service) VerifySession(ctx context.Context, token string) (string, error) {
	admin, claims, err := s.verifyToken(ctx, token, PurposeSession)
	if err != nil {
		return "", model.NewUnauthorizedError(model.DetailInvalidSession)
	}
	if !admin.Active {
		return "", model.NewForbiddenError(model.DetailNotAuthorized)
	}
	return claims.Email, nil
}

// issueToken は署名鍵 secret‖credential でHS256トークンを発行する。
func (s *Service) issueToken(admin *model.AdminUser, credential, purpose string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   admin.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:   admin.Email,
		Purpose: purpose,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.signingKey(credential))
}

// verifyToken はトークンの署名・有効期限・purposeを検証する。
// 署名鍵が現在の保存済み資格情報に依存するため、まず未検証でメールアドレスを
// 取り出してから該当管理者の資格情報で再検証する。
func (s *Service) verifyToken(ctx context.Context, tokenStr, purpose string) (*model.AdminUser, *Claims, error) {
	unverified := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, unverified); err != nil {
		return nil, nil, fmt.Errorf("malformed token: %w", err)
	}
	if unverified.Email == "" {
		return nil, nil, fmt.Errorf("token has no email claim")
	}

	admin, err := s.store.FindByEmail(ctx, unverified.Email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find admin user: %w", err)
	}
	if admin == nil {
		return nil, nil, fmt.Errorf("admin user not found")
	}

	credential := storedCredential(admin)
	claims := &Claims{}
	_, err = jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey(credential), nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("token verification failed: %w", err)
	}
	if claims.Purpose != purpose {
		return nil, nil, fmt.Errorf("token purpose mismatch: %s", claims.Purpose)
	}

	return admin, claims, nil
}

func (s *Service) signingKey(credential string) []byte {
	return []byte(s.config.Secret + credential)
}

// storedCredential は検証に使う保存済み資格情報を返す。
// ハッシュカラムを優先し、空の場合は移行前の平文カラムへフォールバックする。
func storedCredential(admin *model.AdminUser) string {
	if admin.PasswordHash != "" {
		return admin.PasswordHash
	}
	return admin.LegacyPassword
}

// isHashed は資格情報がbcryptハッシュかどうかを判定する。
func isHashed(credential string) bool {
	return strings.HasPrefix(credential, "$2")
}

// verifyPassword は提出されたパスワードを保存済み資格情報と照合する。
// 平文資格情報は一致すればログイン自体は成功するが、ローテーションが強制される。
func verifyPassword(credential, password string) bool {
	if isHashed(credential) {
		return bcrypt.CompareHashAndPassword([]byte(credential), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(credential), []byte(password)) == 1
}

// needsRotation はパスワードの強制ローテーションが必要かを判定する。
func needsRotation(admin *model.AdminUser, credential string) bool {
	return admin.ForcePasswordChange || admin.PasswordUpdatedAt == nil || !isHashed(credential)
}
