package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testLimiterConfig(generalBurst, uploadBurst int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    generalBurst,
		UploadRate:      rate.Limit(1.0 / 60.0),
		UploadBurst:     uploadBurst,
		CleanupInterval: time.Minute,
	}
}

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(5, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 5; i++ {
		w := serve(handler, withUser(httptest.NewRequest(http.MethodGet, "/audio", nil), 1))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(2, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		serve(handler, withUser(httptest.NewRequest(http.MethodGet, "/audio", nil), 1))
	}
	w := serve(handler, withUser(httptest.NewRequest(http.MethodGet, "/audio", nil), 1))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter != 1 {
		t.Errorf("Retry-After = %q, want 1", w.Header().Get("Retry-After"))
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q", body.Code)
	}
}

func TestRateLimitMiddleware_IsolatesUsers(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	serve(handler, withUser(httptest.NewRequest(http.MethodGet, "/audio", nil), 1))
	if w := serve(handler, withUser(httptest.NewRequest(http.MethodGet, "/audio", nil), 1)); w.Code != http.StatusTooManyRequests {
		t.Errorf("user 1 second request: status = %d, want 429", w.Code)
	}
	if w := serve(handler, withUser(httptest.NewRequest(http.MethodGet, "/audio", nil), 2)); w.Code != http.StatusOK {
		t.Errorf("user 2 first request: status = %d, want 200", w.Code)
	}
}

func TestUploadRateLimit_IndependentFromGeneral(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(10, 1))
	defer rl.Stop()

	upload := rl.UploadMiddleware()(okHandler())
	general := rl.GeneralMiddleware()(okHandler())

	if w := serve(upload, withUser(httptest.NewRequest(http.MethodPost, "/audio", nil), 1)); w.Code != http.StatusOK {
		t.Fatalf("first upload: status = %d", w.Code)
	}
	w := serve(upload, withUser(httptest.NewRequest(http.MethodPost, "/audio", nil), 1))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second upload: status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}

	if w := serve(general, withUser(httptest.NewRequest(http.MethodGet, "/audio", nil), 1)); w.Code != http.StatusOK {
		t.Errorf("general request after upload limit: status = %d, want 200", w.Code)
	}
}

func TestRateLimitMiddleware_NoUser_Returns401(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1, 1))
	defer rl.Stop()

	w := serve(rl.GeneralMiddleware()(okHandler()), httptest.NewRequest(http.MethodGet, "/audio", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRateLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(5, 5))
	defer rl.Stop()

	serve(rl.GeneralMiddleware()(okHandler()), withUser(httptest.NewRequest(http.MethodGet, "/audio", nil), 1))
	serve(rl.UploadMiddleware()(okHandler()), withUser(httptest.NewRequest(http.MethodPost, "/audio", nil), 1))
	if rl.GeneralLimiterCount() != 1 || rl.UploadLimiterCount() != 1 {
		t.Fatalf("counts = %d/%d, want 1/1", rl.GeneralLimiterCount(), rl.UploadLimiterCount())
	}

	rl.general.evictIdle(time.Now().Add(time.Hour), time.Minute)
	rl.upload.evictIdle(time.Now().Add(time.Hour), time.Minute)

	if rl.GeneralLimiterCount() != 0 || rl.UploadLimiterCount() != 0 {
		t.Errorf("counts = %d/%d, want 0/0", rl.GeneralLimiterCount(), rl.UploadLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1, 1))
	rl.Stop()
	rl.Stop()
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralBurst != 120 || cfg.UploadBurst != 20 {
		t.Errorf("bursts = %d/%d, want 120/20", cfg.GeneralBurst, cfg.UploadBurst)
	}
	if cfg.GeneralRate != rate.Limit(2) {
		t.Errorf("GeneralRate = %v, want 2", cfg.GeneralRate)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v", cfg.CleanupInterval)
	}
}
