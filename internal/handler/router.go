package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/pdfgate/internal/metrics"
	"github.com/hitoshi/pdfgate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionVerifier   middleware.SessionVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// サービス
	HandshakeService HandshakeServiceInterface
	AdminAuthService AdminAuthServiceInterface
	ManifestService  ManifestServiceInterface

	// メトリクス
	Metrics  metrics.MetricsCollector
	Gatherer prometheus.Gatherer

	// ハンドラー設定
	AuthConfig  AuthHandlerConfig
	AdminConfig AdminHandlerConfig
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → RateLimit(General)
//
// 認証エンドポイント（POST /auth, POST /admin/login）には認証専用の
// より厳しいレート制限を追加で適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	if deps.Metrics != nil {
		r.Use(newMetricsMiddleware(deps.Metrics))
	}
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.GeneralMiddleware())
	}

	authHandler := NewAuthHandler(deps.HandshakeService, deps.Metrics, deps.AuthConfig)
	adminHandler := NewAdminHandler(deps.AdminAuthService, deps.AdminConfig)
	pdfHandler := NewPdfHandler(deps.ManifestService, deps.Metrics)

	authLimit := func(next http.Handler) http.Handler { return next }
	if deps.RateLimiter != nil {
		authLimit = deps.RateLimiter.AuthMiddleware()
	}

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler)
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// 認証ハンドシェイク（認証専用レート制限を適用）
	r.With(authLimit).Post("/auth", authHandler.Authenticate)

	// セッションCookieに基づく暗号化プロファイル取得
	r.Post("/profile", authHandler.Profile)

	// 公開マニフェスト
	r.Get("/pdfs", pdfHandler.ListPublic)

	// --- 管理者ルート ---
	r.Route("/admin", func(r chi.Router) {
		// セッション未確立でも呼べるルート
		r.With(authLimit).Post("/login", adminHandler.Login)
		r.Post("/password", adminHandler.UpdatePassword)
		r.Post("/logout", adminHandler.Logout)

		// セッションが必要なルート
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAdminSessionMiddleware(deps.SessionVerifier))

			r.Get("/me", adminHandler.Me)
			r.Post("/upload-url", pdfHandler.IssueUploadURL)

			r.Route("/pdfs", func(r chi.Router) {
				r.Get("/", pdfHandler.AdminList)
				r.Post("/", pdfHandler.Create)

				r.Route("/{id}", func(r chi.Router) {
					r.Put("/", pdfHandler.Update)
					r.Patch("/", pdfHandler.Update)
					r.Delete("/", pdfHandler.Delete)
				})
			})
		})
	})

	return r
}

// healthHandler はヘルスチェック応答を返す。
// GET /health
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// metricsStatusRecorder はレスポンスのステータスコードを捕捉するラッパー。
type metricsStatusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *metricsStatusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// newMetricsMiddleware はHTTPステータスとレイテンシをメトリクスに記録するミドルウェアを返す。
func newMetricsMiddleware(collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &metricsStatusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			collector.RecordHTTPStatus(rec.status)
			collector.RecordRequestLatency(time.Since(start))
		})
	}
}
