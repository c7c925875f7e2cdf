package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const (
	tokenPath      = "/auth/v1/token"
	signupPath     = "/auth/v1/signup"
	userPath       = "/auth/v1/user"
	adminUsersPath = "/auth/v1/admin/users"
)

// RESTClient はプロバイダーの認証REST APIを呼び出すClient実装。
// 公開キー（anon key）で認証エンドポイントを、サービスキーで管理エンドポイントを呼ぶ。
// タイムアウトは渡されたhttp.Clientが持つ。
type RESTClient struct {
	baseURL    string
	anonKey    string
	serviceKey string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRESTClient はRESTClientを生成する。serviceKeyは空でもよい。
func NewRESTClient(baseURL, anonKey, serviceKey string, httpClient *http.Client, logger *slog.Logger) *RESTClient {
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		serviceKey: serviceKey,
		httpClient: httpClient,
		logger:     logger,
	}
}

// authResponse はトークン・サインアップ両エンドポイントの応答を受ける。
// プロバイダーはセッション同梱形 {access_token,...,user:{...}} と
// ユーザー単体形 {id, email, ...} の両方を返しうる。
type authResponse struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresIn   int      `json:"expires_in"`
	User        *AuthUser `json:"user"`

	// ユーザー単体形のフィールド
	ID       string       `json:"id"`
	Email    string       `json:"email"`
	Metadata UserMetadata `json:"user_metadata"`
}

// toResult は応答形の揺れを吸収してAuthResultへ変換する。
func (r *authResponse) toResult() *AuthResult {
	result := &AuthResult{User: r.User}
	if result.User == nil && r.ID != "" {
		result.User = &AuthUser{ID: r.ID, Email: r.Email, Metadata: r.Metadata}
	}
	if r.AccessToken != "" {
		result.Session = &AuthSession{
			AccessToken: r.AccessToken,
			TokenType:   r.TokenType,
			ExpiresIn:   r.ExpiresIn,
		}
	}
	return result
}

// SignInWithPassword はパスワードグラントでトークンエンドポイントを呼ぶ。
func (c *RESTClient) SignInWithPassword(ctx context.Context, email, password string) (*AuthResult, error) {
	body := map[string]string{"email": email, "password": password}

	var resp authResponse
	if err := c.postJSON(ctx, tokenPath+"?grant_type=password", c.anonKey, body, &resp); err != nil {
		return nil, err
	}
	return resp.toResult(), nil
}

// SignUp はサインアップエンドポイントを呼ぶ。メタデータはdataフィールドに載せる。
func (c *RESTClient) SignUp(ctx context.Context, email, password string, meta UserMetadata) (*AuthResult, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     meta,
	}

	var resp authResponse
	if err := c.postJSON(ctx, signupPath, c.anonKey, body, &resp); err != nil {
		return nil, err
	}
	return resp.toResult(), nil
}

// GetUser はユーザーエンドポイントをアクセストークンで呼び、対応するユーザーを返す。
// apikeyヘッダーには公開キーを、Authorizationヘッダーにはトークンを載せる。
func (c *RESTClient) GetUser(ctx context.Context, accessToken string) (*AuthUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+userPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read user response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{StatusCode: resp.StatusCode, Message: extractMessage(raw)}
	}

	var user AuthUser
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user response: %w", err)
	}
	if user.ID == "" {
		return nil, &Error{StatusCode: http.StatusUnauthorized, Message: "user not found for token"}
	}
	return &user, nil
}

// AdminUserExists は管理APIでユーザーディレクトリを検索する。
// emailフィルタが使えない環境向けに、先頭ページの列挙によるフォールバックを持つ。
// 比較は大文字小文字を区別しない。
func (c *RESTClient) AdminUserExists(ctx context.Context, email string) (bool, error) {
	if c.serviceKey == "" {
		return false, ErrAdminUnavailable
	}

	query := url.Values{"email": {email}}
	users, err := c.listAdminUsers(ctx, query)
	if err == nil {
		return matchEmail(users, email), nil
	}
	c.logger.Info("admin email filter unsupported or failed",
		slog.String("error", err.Error()),
	)

	// フォールバック: 先頭ページを列挙してクライアント側で照合する
	query = url.Values{"page": {"1"}, "per_page": {"200"}}
	users, err = c.listAdminUsers(ctx, query)
	if err != nil {
		return false, err
	}
	return matchEmail(users, email), nil
}

// adminUsersResponse は管理ユーザー一覧の応答を受ける。
// 配列単体とオブジェクト包み {users: [...]} の両形式がある。
type adminUsersResponse struct {
	Users []AuthUser `json:"users"`
}

func (c *RESTClient) listAdminUsers(ctx context.Context, query url.Values) ([]AuthUser, error) {
	reqURL := c.baseURL + adminUsersPath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin request: %w", err)
	}
	c.setAuthHeaders(req, c.serviceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("admin users request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read admin response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{StatusCode: resp.StatusCode, Message: extractMessage(raw)}
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var users []AuthUser
		if err := json.Unmarshal(trimmed, &users); err != nil {
			return nil, fmt.Errorf("failed to decode admin response: %w", err)
		}
		return users, nil
	}

	var wrapped adminUsersResponse
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode admin response: %w", err)
	}
	return wrapped.Users, nil
}

func matchEmail(users []AuthUser, email string) bool {
	for _, u := range users {
		if strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

// postJSON はJSONボディのPOSTを実行し、応答をoutへデコードする。
// 2xx以外は*Errorとして返し、プロバイダーのメッセージ原文を保持する。
func (c *RESTClient) postJSON(ctx context.Context, path, apiKey string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req, apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{StatusCode: resp.StatusCode, Message: extractMessage(raw)}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}

func (c *RESTClient) setAuthHeaders(req *http.Request, apiKey string) {
	req.Header.Set("apikey", apiKey)
	req.Header.Set("Authorization", "Bearer "+apiKey)
}

// extractMessage はプロバイダーのエラーボディからメッセージを取り出す。
// フィールド名はAPIのバージョンにより揺れるため、既知の候補を順に試す。
func extractMessage(raw []byte) string {
	var body struct {
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
		ErrorField       string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		for _, m := range []string{body.Msg, body.Message, body.ErrorDescription, body.ErrorField} {
			if m != "" {
				return m
			}
		}
	}
	return strings.TrimSpace(string(raw))
}
