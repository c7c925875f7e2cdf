package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Provider（ホスト型ID基盤）
	ProviderURL        string
	ProviderAnonKey    string
	ProviderServiceKey string
	ProviderTimeout    time.Duration

	// Handshake
	// AuthPrivateKeyPEM が空の場合、暗号化ハンドシェイクは無効になり
	// プレーンテキストのフォールバック経路のみ受け付ける。
	AuthPrivateKeyPEM string

	// Admin session
	AdminSessionSecret string
	AdminSessionTTL    time.Duration
	ResetTokenTTL      time.Duration

	// Storage
	StorageBucket    string
	StorageRegion    string
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	SignedURLTTL     time.Duration
	UploadURLTTL     time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitAuth    int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.ProviderURL = os.Getenv("PROVIDER_URL")
	if cfg.ProviderURL == "" {
		missing = append(missing, "PROVIDER_URL")
	}

	cfg.ProviderAnonKey = os.Getenv("PROVIDER_ANON_KEY")
	if cfg.ProviderAnonKey == "" {
		missing = append(missing, "PROVIDER_ANON_KEY")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ProviderServiceKey = os.Getenv("PROVIDER_SERVICE_KEY")
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.AuthPrivateKeyPEM = os.Getenv("AUTH_PRIVATE_KEY_PEM")

	// 管理セッションの署名秘密。専用の値がなければプロバイダキーを流用する。
	cfg.AdminSessionSecret = getEnvString("ADMIN_SESSION_SECRET", cfg.ProviderServiceKey)
	if cfg.AdminSessionSecret == "" {
		cfg.AdminSessionSecret = cfg.ProviderAnonKey
	}
	cfg.AdminSessionTTL = getEnvDuration("ADMIN_SESSION_TTL", 12*time.Hour)
	cfg.ResetTokenTTL = getEnvDuration("RESET_TOKEN_TTL", 10*time.Minute)

	cfg.StorageBucket = getEnvString("STORAGE_BUCKET", "pdfs")
	cfg.StorageRegion = getEnvString("STORAGE_REGION", "us-east-1")
	cfg.StorageEndpoint = getEnvString("STORAGE_ENDPOINT", "")
	cfg.StorageAccessKey = getEnvString("STORAGE_ACCESS_KEY", "")
	cfg.StorageSecretKey = getEnvString("STORAGE_SECRET_KEY", "")
	cfg.SignedURLTTL = getEnvDuration("SIGNED_URL_TTL", 30*time.Minute)
	cfg.UploadURLTTL = getEnvDuration("UPLOAD_URL_TTL", 15*time.Minute)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
