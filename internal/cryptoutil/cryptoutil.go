// Package cryptoutil は認証ハンドシェイクの暗号処理を提供する。
// クライアントからのRSA-OAEPエンベロープ復号と、クライアントが持ち込んだ
// セッション鍵によるAES-GCMプロファイル暗号化を扱う。
//
// セッション鍵はログイン試行ごとにクライアントが生成し、エンベロープの内側に
// 同梱されて一度だけ送信される。サーバーはこの鍵を生成も保存もしない。
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

const (
	// SessionKeySize はセッション鍵の長さ（AES-256）。
	SessionKeySize = 32
	// gcmNonceSize はAES-GCMの標準nonce長。
	gcmNonceSize = 12
)

var (
	// ErrNotConfigured は鍵が未設定のまま暗号処理を要求された場合のエラー。
	// クライアント側はこのエラーを受けて平文フォールバック経路に切り替える。
	ErrNotConfigured = errors.New("cryptoutil: key not configured")
	// ErrDecrypt は復号失敗を表す。認証タグ不一致・鍵不一致・改ざんを区別せず、
	// 部分的な平文を一切返さない。
	ErrDecrypt = errors.New("cryptoutil: decryption failed")
	// ErrInvalidKey は対称鍵の長さが不正な場合のエラー。
	ErrInvalidKey = errors.New("cryptoutil: invalid symmetric key length")
)

// GenerateSessionKey は暗号的に安全な256bitのセッション鍵を生成する。
// ログイン試行ごとに1回だけ使用し、試行をまたいで再利用しない。
func GenerateSessionKey() ([]byte, error) {
	key := make([]byte, SessionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	return key, nil
}

// LoadPrivateKey はPEM文字列からRSA秘密鍵を読み込む。
// 環境変数経由で渡される際に改行が「\n」にエスケープされている場合は復元する。
// PKCS#1とPKCS#8の両形式を受け付ける。空文字列の場合はErrNotConfiguredを返す。
func LoadPrivateKey(pemStr string) (*rsa.PrivateKey, error) {
	if pemStr == "" {
		return nil, ErrNotConfigured
	}
	if strings.Contains(pemStr, `\n`) && !strings.Contains(pemStr, "\n") {
		pemStr = strings.ReplaceAll(pemStr, `\n`, "\n")
	}

	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("failed to decode private key PEM")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return key, nil
}

// LoadPublicKey はPEM文字列からRSA公開鍵を読み込む。クライアント側で使用する。
func LoadPublicKey(pemStr string) (*rsa.PublicKey, error) {
	if pemStr == "" {
		return nil, ErrNotConfigured
	}
	if strings.Contains(pemStr, `\n`) && !strings.Contains(pemStr, "\n") {
		pemStr = strings.ReplaceAll(pemStr, `\n`, "\n")
	}

	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("failed to decode public key PEM")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return key, nil
}

// EncryptEnvelope は任意の値をJSONシリアライズし、RSA-OAEP（SHA-256）で
// 暗号化してbase64文字列を返す。公開鍵がnilの場合はErrNotConfiguredを返す。
func EncryptEnvelope(pub *rsa.PublicKey, v any) (string, error) {
	if pub == nil {
		return "", ErrNotConfigured
	}

	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to serialize envelope payload: %w", err)
	}

	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt envelope: %w", err)
	}

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptEnvelope はbase64のRSA-OAEP（SHA-256）エンベロープを復号し、
// 得られたJSONをvにデコードする。
// 復号に関わるあらゆる失敗はErrDecryptに畳み込む。リクエスト処理上は終端であり、
// エンベロープが存在した場合に平文フィールドへフォールバックしてはならない。
func DecryptEnvelope(priv *rsa.PrivateKey, encB64 string, v any) error {
	if priv == nil {
		return ErrNotConfigured
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encB64)
	if err != nil {
		return ErrDecrypt
	}

	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return ErrDecrypt
	}

	if err := json.Unmarshal(plaintext, v); err != nil {
		return ErrDecrypt
	}
	return nil
}

// SealProfile は任意の値をJSONシリアライズし、base64のセッション鍵で
// AES-GCM暗号化する。レスポンスごとに新しいIV（12バイト）を生成する。
// 戻り値はいずれもbase64文字列。
func SealProfile(returnKeyB64 string, v any) (encB64, ivB64 string, err error) {
	key, err := base64.StdEncoding.DecodeString(returnKeyB64)
	if err != nil {
		return "", "", ErrInvalidKey
	}
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return "", "", ErrInvalidKey
	}

	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", "", fmt.Errorf("failed to serialize profile: %w", err)
	}

	iv := make([]byte, gcmNonceSize)
	if _, err := rand.Read(iv); err != nil {
		return "", "", fmt.Errorf("failed to generate IV: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", "", fmt.Errorf("failed to create cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", "", fmt.Errorf("failed to create GCM: %w", err)
	}

	ciphertext := aesgcm.Seal(nil, iv, plaintext, nil)

	return base64.StdEncoding.EncodeToString(ciphertext),
		base64.StdEncoding.EncodeToString(iv), nil
}

// OpenProfile はSealProfileで暗号化されたプロファイルを復号し、vにデコードする。
// 認証タグの検証に失敗した場合はErrDecryptを返し、部分データは一切返さない。
func OpenProfile(key []byte, ivB64, encB64 string, v any) error {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return ErrInvalidKey
	}

	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return ErrDecrypt
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encB64)
	if err != nil {
		return ErrDecrypt
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := aesgcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return ErrDecrypt
	}

	if err := json.Unmarshal(plaintext, v); err != nil {
		return ErrDecrypt
	}
	return nil
}

// MaskEmail はログ出力用にメールアドレスをマスクする。
// ローカル部の先頭と末尾の1文字だけを残す（例: a***b@example.com）。
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}
	local, domain, found := strings.Cut(email, "@")
	first := "*"
	last := "*"
	if len(local) > 0 {
		first = local[:1]
		last = local[len(local)-1:]
	}
	masked := first + "***" + last
	if found {
		return masked + "@" + domain
	}
	return masked
}
