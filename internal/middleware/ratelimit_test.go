package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(1),
		GeneralBurst:    2,
		AuthRate:        rate.Limit(1),
		AuthBurst:       1,
		CleanupInterval: time.Hour,
	}
}

func doRequest(handler http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/auth", nil)
	req.RemoteAddr = ip + ":12345"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_LimitsPerIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.AuthMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// バースト1: 1回目は通り、即座の2回目は429
	if w := doRequest(handler, "203.0.113.1"); w.Code != http.StatusOK {
		t.Fatalf("1回目: status = %d, want 200", w.Code)
	}
	w := doRequest(handler, "203.0.113.1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("2回目: status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header not set")
	}
	if detail := decodeDetail(t, w); detail == "" {
		t.Error("429 response must carry a detail message")
	}

	// 別IPは独立したバケット
	if w := doRequest(handler, "203.0.113.2"); w.Code != http.StatusOK {
		t.Errorf("別IP: status = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_XForwardedForTakesPrecedence(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.AuthMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth", nil)
	req.RemoteAddr = "10.0.0.1:1111"
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if rl.AuthLimiterCount() != 1 {
		t.Fatalf("limiter count = %d, want 1", rl.AuthLimiterCount())
	}

	// 同じXFFの2回目はバケットを共有して429
	req2 := httptest.NewRequest(http.MethodPost, "/auth", nil)
	req2.RemoteAddr = "10.0.0.2:2222"
	req2.Header.Set("X-Forwarded-For", "198.51.100.7")
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)

	if w2.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w2.Code)
	}
}

func TestGeneralMiddleware_IndependentFromAuth(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	authHandler := rl.AuthMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	generalHandler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// 認証バケットを使い切る
	doRequest(authHandler, "203.0.113.9")
	if w := doRequest(authHandler, "203.0.113.9"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("auth: status = %d, want 429", w.Code)
	}

	// API全般バケットは影響を受けない
	if w := doRequest(generalHandler, "203.0.113.9"); w.Code != http.StatusOK {
		t.Errorf("general: status = %d, want 200", w.Code)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	cfg := testRateLimiterConfig()
	cfg.CleanupInterval = time.Millisecond
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.AuthMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	doRequest(handler, "203.0.113.5")

	if rl.AuthLimiterCount() != 1 {
		t.Fatalf("limiter count = %d, want 1", rl.AuthLimiterCount())
	}

	// TTL（CleanupInterval*2）経過後にエントリが回収される
	deadline := time.Now().Add(time.Second)
	for rl.AuthLimiterCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rl.AuthLimiterCount() != 0 {
		t.Errorf("limiter count = %d, want 0 after cleanup", rl.AuthLimiterCount())
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"RemoteAddrのみ", "192.0.2.1:5000", "", "192.0.2.1"},
		{"XFF単独", "10.0.0.1:80", "198.51.100.1", "198.51.100.1"},
		{"XFF複数は先頭", "10.0.0.1:80", "198.51.100.1, 10.0.0.2", "198.51.100.1"},
		{"ポートなしRemoteAddr", "192.0.2.9", "", "192.0.2.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
