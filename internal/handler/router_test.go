package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/pdfgate/internal/adminauth"
	"github.com/hitoshi/pdfgate/internal/handshake"
	"github.com/hitoshi/pdfgate/internal/manifest"
	"github.com/hitoshi/pdfgate/internal/metrics"
	"github.com/hitoshi/pdfgate/internal/middleware"
	"github.com/hitoshi/pdfgate/internal/model"
)

// mockSessionVerifier はSessionVerifierのモック実装。
type mockSessionVerifier struct {
	verifyFn func(ctx context.Context, token string) (string, error)
}

func (m *mockSessionVerifier) VerifySession(ctx context.Context, token string) (string, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, token)
	}
	return "", model.NewUnauthorizedError(model.DetailInvalidSession)
}

// newTestRouter はテスト用の依存関係でルーターを組み立てるヘルパー。
func newTestRouter(t *testing.T, mutate func(deps *RouterDeps)) http.Handler {
	t.Helper()

	deps := &RouterDeps{
		SessionVerifier: &mockSessionVerifier{
			verifyFn: func(ctx context.Context, token string) (string, error) {
				if token == "valid-session" {
					return "admin@example.com", nil
				}
				return "", model.NewUnauthorizedError(model.DetailInvalidSession)
			},
		},
		CORSAllowedOrigin: "http://localhost:3000",
		HandshakeService:  &mockHandshakeService{},
		AdminAuthService:  &mockAdminAuthService{},
		ManifestService:   &mockManifestService{},
		AuthConfig:        AuthHandlerConfig{},
		AdminConfig:       AdminHandlerConfig{SessionMaxAge: 43200},
	}
	if mutate != nil {
		mutate(deps)
	}
	return NewRouter(deps)
}

func TestRouter_Health(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %q, want to contain ok", w.Body.String())
	}
}

func TestRouter_AuthRouteWired(t *testing.T) {
	called := false
	router := newTestRouter(t, func(deps *RouterDeps) {
		deps.HandshakeService = &mockHandshakeService{
			authenticateFn: func(ctx context.Context, req *handshake.AuthRequest) (*handshake.AuthResponse, error) {
				called = true
				return &handshake.AuthResponse{Message: "Login successful"}, nil
			},
		}
	})

	req := postJSON(t, "/auth", `{"mode":"login","email":"a@example.com","password":"pw"}`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !called {
		t.Error("handshake service should have been called")
	}
}

func TestRouter_ProfileRouteWired(t *testing.T) {
	called := false
	router := newTestRouter(t, func(deps *RouterDeps) {
		deps.HandshakeService = &mockHandshakeService{
			profileFn: func(ctx context.Context, accessToken, returnKey string) (*handshake.ProfileResponse, error) {
				called = true
				return &handshake.ProfileResponse{EncProfile: "b64-ciphertext", IV: "b64-iv", Alg: "AES-GCM"}, nil
			},
		}
	})

	req := postJSON(t, "/profile", `{"rtk":"b64-rtk"}`)
	req.AddCookie(&http.Cookie{Name: accessTokenCookieName, Value: "tok-abc"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !called {
		t.Error("handshake service should have been called")
	}
}

func TestRouter_PublicPdfsWired(t *testing.T) {
	router := newTestRouter(t, func(deps *RouterDeps) {
		deps.ManifestService = &mockManifestService{
			listPublicFn: func(ctx context.Context, module, lesson string, score *int, limit int) ([]*manifest.PublicItem, error) {
				return []*manifest.PublicItem{{ID: "a-1", Module: module, URL: "https://signed.example/a-1"}}, nil
			},
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/pdfs?module=reading", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "a-1") {
		t.Errorf("body = %q, want to contain asset", w.Body.String())
	}
}

// 管理者セッションなしでは管理操作は一切サービス層に届かない。
func TestRouter_AdminRoutesRequireSession(t *testing.T) {
	var mutated []string
	router := newTestRouter(t, func(deps *RouterDeps) {
		deps.ManifestService = &mockManifestService{
			createFn: func(ctx context.Context, asset *model.PdfAsset) (*model.PdfAsset, error) {
				mutated = append(mutated, "create")
				return asset, nil
			},
			deleteFn: func(ctx context.Context, id string) error {
				mutated = append(mutated, "delete")
				return nil
			},
			issueUploadURLFn: func(ctx context.Context, module, lesson, filename string) (*manifest.UploadTarget, error) {
				mutated = append(mutated, "upload-url")
				return &manifest.UploadTarget{}, nil
			},
		}
	})

	requests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/admin/me", ""},
		{http.MethodGet, "/admin/pdfs", ""},
		{http.MethodPost, "/admin/pdfs", `{"module":"reading","path":"module/reading/a.pdf"}`},
		{http.MethodPatch, "/admin/pdfs/asset-1", `{"label":"x"}`},
		{http.MethodDelete, "/admin/pdfs/asset-1", ""},
		{http.MethodPost, "/admin/upload-url", `{"module":"reading","filename":"a.pdf"}`},
	}

	for _, tt := range requests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			var req *http.Request
			if tt.body != "" {
				req = postJSON(t, tt.path, tt.body)
				req.Method = tt.method
			} else {
				req = httptest.NewRequest(tt.method, tt.path, nil)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}

	if len(mutated) != 0 {
		t.Errorf("mutations without session: %v", mutated)
	}
}

func TestRouter_AdminRoutesWithValidSession(t *testing.T) {
	router := newTestRouter(t, func(deps *RouterDeps) {
		deps.ManifestService = &mockManifestService{}
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/me", nil)
	req.AddCookie(&http.Cookie{Name: middleware.AdminSessionCookieName, Value: "valid-session"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "admin@example.com") {
		t.Errorf("body = %q, want to contain admin email", w.Body.String())
	}
}

func TestRouter_AdminLoginOpenWithoutSession(t *testing.T) {
	router := newTestRouter(t, func(deps *RouterDeps) {
		deps.AdminAuthService = &mockAdminAuthService{
			loginFn: func(ctx context.Context, email, password string) (*adminauth.LoginResult, error) {
				return &adminauth.LoginResult{Email: email, SessionToken: "session-jwt"}, nil
			},
		}
	})

	req := postJSON(t, "/admin/login", `{"email":"admin@example.com","password":"secret12"}`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_AuthRateLimited(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     1000,
		GeneralBurst:    1000,
		AuthRate:        1,
		AuthBurst:       2,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	router := newTestRouter(t, func(deps *RouterDeps) {
		deps.RateLimiter = rl
	})

	var last int
	for i := 0; i < 5; i++ {
		req := postJSON(t, "/auth", `{"mode":"login","email":"a@example.com","password":"pw"}`)
		req.RemoteAddr = "10.1.1.1:5000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		last = w.Code
	}

	if last != http.StatusTooManyRequests {
		t.Errorf("status after burst = %d, want %d", last, http.StatusTooManyRequests)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	router := newTestRouter(t, func(deps *RouterDeps) {
		deps.Metrics = collector
		deps.Gatherer = reg
	})

	// 何件かリクエストを流してから/metricsを確認する
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = fmt.Sprintf("10.2.2.%d:5000", i)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "pdfgate_http_status_total") {
		t.Error("metrics output should contain pdfgate_http_status_total")
	}
}

func TestRouter_SecurityHeadersApplied(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/auth", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q, want allowed origin", got)
	}
}
