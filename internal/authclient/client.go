// Package authclient は認証ハンドシェイクを行うHTTPクライアントを提供する。
// サーバーの公開鍵が与えられた場合、資格情報はRSAエンベロープで送信し、
// 応答のプロファイルは試行ごとに生成したリターンキーで復号する。
package authclient

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hitoshi/pdfgate/internal/cryptoutil"
	"github.com/hitoshi/pdfgate/internal/handshake"
	"github.com/hitoshi/pdfgate/internal/model"
)

// defaultTimeout は明示的なHTTPクライアントが与えられない場合のタイムアウト。
const defaultTimeout = 15 * time.Second

// Client は認証エンドポイントを呼び出すクライアント。
type Client struct {
	baseURL    string
	httpClient *http.Client
	publicKey  *rsa.PublicKey
}

// Result は認証ハンドシェイクの結果。暗号化応答は復号済みのProfileを持つ。
type Result struct {
	User    *handshake.UserInfo
	Profile *model.Profile
	Message string
}

// APIError はサーバーが返したエラー応答を表す。
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("auth request failed [%d]: %s", e.StatusCode, e.Detail)
}

// New はClientを生成する。publicKeyがnilの場合は平文ハンドシェイクになる。
// httpClientがnilの場合はデフォルトのタイムアウト付きクライアントを使う。
func New(baseURL string, publicKey *rsa.PublicKey, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		publicKey:  publicKey,
	}
}

// Login はログインのハンドシェイクを実行する。
func (c *Client) Login(ctx context.Context, email, password string) (*Result, error) {
	return c.authenticate(ctx, &model.CredentialPayload{
		Mode:     handshake.ModeLogin,
		Email:    email,
		Password: password,
	})
}

// Signup はサインアップのハンドシェイクを実行する。
func (c *Client) Signup(ctx context.Context, email, password, firstName, lastName string) (*Result, error) {
	return c.authenticate(ctx, &model.CredentialPayload{
		Mode:      handshake.ModeSignup,
		Email:     email,
		Password:  password,
		FirstName: firstName,
		LastName:  lastName,
	})
}

// authenticate はハンドシェイクを1回実行する。
// 公開鍵がある場合、リターンキーは試行ごとに生成してエンベロープに同梱する。
func (c *Client) authenticate(ctx context.Context, cred *model.CredentialPayload) (*Result, error) {
	var req handshake.AuthRequest
	var returnKey []byte

	if c.publicKey != nil {
		key, err := cryptoutil.GenerateSessionKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate return key: %w", err)
		}
		returnKey = key
		cred.ReturnKey = base64.StdEncoding.EncodeToString(key)

		enc, err := cryptoutil.EncryptEnvelope(c.publicKey, cred)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt credentials: %w", err)
		}
		req = handshake.AuthRequest{Mode: cred.Mode, Enc: enc}
	} else {
		req = handshake.AuthRequest{
			Mode:      cred.Mode,
			Email:     cred.Email,
			Password:  cred.Password,
			FirstName: cred.FirstName,
			LastName:  cred.LastName,
		}
	}

	resp, err := c.post(ctx, &req)
	if err != nil {
		return nil, err
	}

	result := &Result{
		User:    resp.User,
		Profile: resp.Profile,
		Message: resp.Message,
	}

	// 暗号化応答はリターンキーで復号する
	if resp.EncProfile != "" {
		if returnKey == nil {
			return nil, fmt.Errorf("server returned encrypted profile without return key")
		}
		var profile model.Profile
		if err := cryptoutil.OpenProfile(returnKey, resp.IV, resp.EncProfile, &profile); err != nil {
			return nil, fmt.Errorf("failed to decrypt profile: %w", err)
		}
		result.Profile = &profile
	}

	return result, nil
}

// post は/authへリクエストを送信し応答をデコードする。
func (c *Client) post(ctx context.Context, body *handshake.AuthRequest) (*handshake.AuthResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("auth request failed: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var errBody struct {
			Detail string `json:"detail"`
		}
		_ = json.Unmarshal(raw, &errBody)
		if errBody.Detail == "" {
			errBody.Detail = http.StatusText(httpResp.StatusCode)
		}
		return nil, &APIError{StatusCode: httpResp.StatusCode, Detail: errBody.Detail}
	}

	var resp handshake.AuthResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}
