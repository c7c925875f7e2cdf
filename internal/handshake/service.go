// Package handshake は暗号化認証ハンドシェイクのビジネスロジックを提供する。
// クライアントはRSAエンベロープで資格情報を送り、応答のプロファイルは
// エンベロープに同梱されたリターンキーでAES-GCM暗号化して返す。
package handshake

import (
	"context"
	"crypto/rsa"
	"errors"
	"log/slog"
	"strings"

	"github.com/hitoshi/pdfgate/internal/cryptoutil"
	"github.com/hitoshi/pdfgate/internal/model"
	"github.com/hitoshi/pdfgate/internal/provider"
	"github.com/hitoshi/pdfgate/internal/repository"
)

// ModeLogin, ModeSignup は認証リクエストの動作モード。
const (
	ModeLogin  = "login"
	ModeSignup = "signup"
)

// 応答暗号化アルゴリズムの識別子。クライアントの復号処理が参照する。
const profileCipherAlg = "AES-GCM"

// AuthRequest は POST /auth のリクエストボディを表す。
// encが存在する場合は暗号化エンベロープとして扱い、平文フィールドは無視する。
type AuthRequest struct {
	Mode      string `json:"mode,omitempty"`
	Enc       string `json:"enc,omitempty"`
	Email     string `json:"email,omitempty"`
	Password  string `json:"password,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	ReturnKey string `json:"rtk,omitempty"`
}

// UserInfo は応答に含めるプロバイダーユーザーの最小情報。
type UserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// AuthResponse は POST /auth の成功応答を表す。
// リターンキーが供給された場合はProfileの代わりにEncProfile+IVを返す。
type AuthResponse struct {
	User       *UserInfo             `json:"user,omitempty"`
	Session    *provider.AuthSession `json:"session,omitempty"`
	Profile    *model.Profile        `json:"profile,omitempty"`
	EncProfile string                `json:"enc_profile,omitempty"`
	IV         string                `json:"iv,omitempty"`
	Alg        string                `json:"alg,omitempty"`
	Message    string                `json:"message"`
}

// ProfileResponse は POST /profile の成功応答を表す。
// プロファイルは常にクライアント供給のリターンキーで暗号化して返す。
type ProfileResponse struct {
	EncProfile string `json:"enc_profile"`
	IV         string `json:"iv"`
	Alg        string `json:"alg"`
}

// Service は認証ハンドシェイクのビジネスロジックを提供する。
type Service struct {
	provider   provider.Client
	profiles   repository.ProfileRepository
	privateKey *rsa.PrivateKey
}

// NewService はServiceを生成する。
// privateKeyがnilの場合、暗号化エンベロープは受け付けず平文経路のみ動作する。
func NewService(p provider.Client, profiles repository.ProfileRepository, privateKey *rsa.PrivateKey) *Service {
	return &Service{
		provider:   p,
		profiles:   profiles,
		privateKey: privateKey,
	}
}

// Authenticate は認証リクエストを処理する。
// エンベロープの復号失敗はクライアントエラーとして終端し、
// encが存在した場合は平文フィールドへのフォールバックを行わない（ダウングレード防止）。
func (s *Service) Authenticate(ctx context.Context, req *AuthRequest) (*AuthResponse, error) {
	cred := model.CredentialPayload{
		Mode:      req.Mode,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		ReturnKey: req.ReturnKey,
	}

	if req.Enc != "" {
		var decrypted model.CredentialPayload
		if err := cryptoutil.DecryptEnvelope(s.privateKey, req.Enc, &decrypted); err != nil {
			slog.Warn("envelope decryption failed", slog.String("reason", err.Error()))
			return nil, model.NewDecryptionError()
		}
		if decrypted.Mode == "" {
			decrypted.Mode = req.Mode
		}
		cred = decrypted
	}

	// メールアドレスの正規化はログイン・サインアップ共通。
	cred.Email = strings.ToLower(strings.TrimSpace(cred.Email))

	switch cred.Mode {
	case ModeLogin:
		return s.login(ctx, &cred)
	case ModeSignup:
		return s.signup(ctx, &cred)
	default:
		return nil, model.NewClientError(model.DetailInvalidMode)
	}
}

// login はメールアドレスとパスワードでプロバイダー認証する。
// プロファイル付加の失敗はログインを失敗させない。
func (s *Service) login(ctx context.Context, cred *model.CredentialPayload) (*AuthResponse, error) {
	if cred.Email == "" || cred.Password == "" {
		return nil, model.NewClientError("email and password are required")
	}

	result, err := s.provider.SignInWithPassword(ctx, cred.Email, cred.Password)
	if err != nil {
		return nil, mapProviderError(err)
	}

	profile := s.enrichProfile(ctx, result.User)

	// メッセージはセッションの有無で決まる（メール確認待ち等ではセッションが返らない）。
	message := "Login response received"
	if result.Session != nil {
		message = "Login successful"
	}

	resp := &AuthResponse{
		Session: result.Session,
		Message: message,
	}
	if result.User != nil {
		resp.User = &UserInfo{ID: result.User.ID, Email: result.User.Email}
	}

	if err := s.attachProfile(resp, profile, cred.ReturnKey); err != nil {
		return nil, err
	}

	slog.Info("user logged in",
		slog.String("email", cryptoutil.MaskEmail(cred.Email)),
		slog.Bool("encrypted_response", cred.ReturnKey != ""),
	)
	return resp, nil
}

// signup はアカウントを作成する。重複チェックはプロバイダーのユーザーディレクトリと
// profilesテーブルの両方に対して行うが、最終的な一意性保証はプロバイダーの制約に委ねる。
func (s *Service) signup(ctx context.Context, cred *model.CredentialPayload) (*AuthResponse, error) {
	email := cred.Email
	if email == "" || cred.Password == "" {
		return nil, model.NewClientError("email and password are required")
	}
	if strings.TrimSpace(cred.FirstName) == "" || strings.TrimSpace(cred.LastName) == "" {
		return nil, model.NewClientError(model.DetailNamesRequired)
	}

	if s.emailTaken(ctx, email) {
		return nil, model.NewConflictError(model.DetailDuplicateEmail)
	}

	fullName := model.BuildFullName(cred.FirstName, cred.LastName)
	result, err := s.provider.SignUp(ctx, email, cred.Password, provider.UserMetadata{
		FirstName: cred.FirstName,
		LastName:  cred.LastName,
		Name:      fullName,
	})
	if err != nil {
		return nil, mapProviderError(err)
	}

	profile := &model.Profile{
		FirstName: cred.FirstName,
		LastName:  cred.LastName,
		FullName:  fullName,
		Email:     email,
	}

	// profiles行はベストエフォートで作成する。アカウントは既に存在するため、
	// ここでの失敗はサインアップ応答を失敗させない。
	if result.User != nil {
		profile.ID = result.User.ID
		if err := s.profiles.Upsert(ctx, profile); err != nil {
			slog.Warn("profile row creation failed after signup",
				slog.String("user_id", result.User.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	// メッセージはユーザー作成の有無で決まる。
	message := "Signup response received"
	if result.User != nil {
		message = "Signup initiated"
	}

	resp := &AuthResponse{
		Session: result.Session,
		Message: message,
	}
	if result.User != nil {
		resp.User = &UserInfo{ID: result.User.ID, Email: result.User.Email}
	}

	if err := s.attachProfile(resp, profile, cred.ReturnKey); err != nil {
		return nil, err
	}

	slog.Info("user signed up", slog.String("email", cryptoutil.MaskEmail(email)))
	return resp, nil
}

// Profile はアクセストークンに対応するユーザーのプロファイルを暗号化して返す。
// トークンの検証はプロバイダーに委ね、検証失敗は認証エラーとして終端する。
// この経路は平文プロファイルを返さないため、リターンキーは必須。
func (s *Service) Profile(ctx context.Context, accessToken, returnKey string) (*ProfileResponse, error) {
	user, err := s.provider.GetUser(ctx, accessToken)
	if err != nil {
		slog.Info("session token verification failed", slog.String("reason", err.Error()))
		return nil, model.NewUnauthorizedError(model.DetailInvalidSession)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError(model.DetailInvalidSession)
	}

	profile := s.enrichProfile(ctx, user)

	encProfile, iv, err := cryptoutil.SealProfile(returnKey, profile)
	if err != nil {
		return nil, model.NewClientError("Encryption unavailable")
	}
	return &ProfileResponse{
		EncProfile: encProfile,
		IV:         iv,
		Alg:        profileCipherAlg,
	}, nil
}

// attachProfile はプロファイルを応答へ添付する。リターンキーが供給されている場合は
// 毎回新しいIVでAES-GCM暗号化し、平文プロファイルは一切含めない。
func (s *Service) attachProfile(resp *AuthResponse, profile *model.Profile, returnKey string) error {
	if returnKey == "" {
		resp.Profile = profile
		return nil
	}

	encProfile, iv, err := cryptoutil.SealProfile(returnKey, profile)
	if err != nil {
		return model.NewClientError("Invalid return key")
	}
	resp.EncProfile = encProfile
	resp.IV = iv
	resp.Alg = profileCipherAlg
	return nil
}

// enrichProfile はプロバイダーのユーザー情報をprofilesテーブルの行で補強する。
// 行の検索はユーザーID、次にメールアドレスの順で試み、いずれの失敗も
// アカウントメタデータへのフォールバックで回復する。
func (s *Service) enrichProfile(ctx context.Context, user *provider.AuthUser) *model.Profile {
	if user == nil {
		return &model.Profile{}
	}

	profile := &model.Profile{
		ID:        user.ID,
		FirstName: user.Metadata.FirstName,
		LastName:  user.Metadata.LastName,
		FullName:  user.Metadata.Name,
		Email:     user.Email,
	}

	row, err := s.profiles.FindByID(ctx, user.ID)
	if err != nil {
		slog.Warn("profile lookup by id failed", slog.String("error", err.Error()))
	}
	if row == nil && user.Email != "" {
		row, err = s.profiles.FindByEmail(ctx, user.Email)
		if err != nil {
			slog.Warn("profile lookup by email failed", slog.String("error", err.Error()))
		}
	}

	if row != nil {
		if row.FirstName != "" {
			profile.FirstName = row.FirstName
		}
		if row.LastName != "" {
			profile.LastName = row.LastName
		}
		if row.FullName != "" {
			profile.FullName = row.FullName
		}
		if row.Email != "" {
			profile.Email = row.Email
		}
	}

	if profile.FullName == "" {
		profile.FullName = model.BuildFullName(profile.FirstName, profile.LastName)
	}
	return profile
}

// emailTaken はメールアドレスの登録済みチェックを行う。
// 各経路の失敗はチェックのスキップとして扱う。このチェックは競合を減らす最適化であり、
// 真の一意性はプロバイダー側の制約が保証する。
func (s *Service) emailTaken(ctx context.Context, email string) bool {
	exists, err := s.provider.AdminUserExists(ctx, email)
	if err != nil {
		if !errors.Is(err, provider.ErrAdminUnavailable) {
			slog.Warn("provider directory check failed", slog.String("error", err.Error()))
		}
	} else if exists {
		return true
	}

	inProfiles, err := s.profiles.ExistsByEmail(ctx, email)
	if err != nil {
		slog.Warn("profile existence check failed", slog.String("error", err.Error()))
		return false
	}
	return inProfiles
}

// duplicateSignals はプロバイダーのエラーメッセージに現れる重複登録の兆候。
var duplicateSignals = []string{
	"already registered",
	"user exists",
	"duplicate",
	"email already in use",
}

// isDuplicateSignal はエラーメッセージが重複登録を示しているか判定する。
func isDuplicateSignal(message string) bool {
	lower := strings.ToLower(message)
	for _, signal := range duplicateSignals {
		if strings.Contains(lower, signal) {
			return true
		}
	}
	return false
}

// mapProviderError はプロバイダー呼び出しのエラーをAPIエラーへ変換する。
// APIレベルのエラーはプロバイダーのメッセージ原文を保ち、
// トランスポート障害・5xxは上流障害（502）として扱う。
func mapProviderError(err error) error {
	var pe *provider.Error
	if errors.As(err, &pe) {
		if isDuplicateSignal(pe.Message) {
			return model.NewConflictError(model.DetailDuplicateEmail)
		}
		if pe.StatusCode < 500 {
			return model.NewClientError(pe.Message)
		}
		return model.NewProviderError(pe.Message)
	}
	return model.NewProviderError("Authentication service is unavailable")
}
