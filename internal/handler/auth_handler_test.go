package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/audiobox/internal/auth"
	"github.com/hitoshi/audiobox/internal/middleware"
	"github.com/hitoshi/audiobox/internal/model"
)

// authRouter はURLパラメータを解決するため、ハンドラーをchiに載せる。
func authRouter(h *AuthHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/auth/token/refresh", h.Refresh)
	r.Get("/auth/{provider}/login", h.Login)
	r.Get("/auth/{provider}/callback", h.Callback)
	return r
}

func decodeError(t *testing.T, body string) middleware.ErrorResponseBody {
	t.Helper()
	var e middleware.ErrorResponseBody
	require.NoError(t, json.Unmarshal([]byte(body), &e), body)
	return e
}

func TestAuthHandler_Login_ReturnsURL(t *testing.T) {
	svc := &mockAuthService{authorizationURLFn: func(provider string) (string, error) {
		assert.Equal(t, "yandex", provider)
		return "https://oauth.yandex.ru/authorize?client_id=cid&response_type=code", nil
	}}
	r := authRouter(NewAuthHandler(svc, nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/yandex/login", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "https://oauth.yandex.ru/authorize?client_id=cid&response_type=code", body["url"])
}

func TestAuthHandler_Login_UnknownProvider(t *testing.T) {
	svc := &mockAuthService{authorizationURLFn: func(provider string) (string, error) {
		return "", fmt.Errorf("%w: %s", auth.ErrUnknownProvider, provider)
	}}
	r := authRouter(NewAuthHandler(svc, nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/github/login", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, model.ErrCodeUnknownProvider, decodeError(t, w.Body.String()).Code)
}

func TestAuthHandler_Callback_Success(t *testing.T) {
	rec := &fakeRecorder{}
	svc := &mockAuthService{handleCallbackFn: func(_ context.Context, provider, code string) (*model.TokenPair, error) {
		assert.Equal(t, "yandex", provider)
		assert.Equal(t, "abc123", code)
		return testPair(), nil
	}}
	r := authRouter(NewAuthHandler(svc, rec))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/yandex/callback?code=abc123", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var pair model.TokenPair
	require.NoError(t, json.NewDecoder(w.Body).Decode(&pair))
	assert.Equal(t, *testPair(), pair)
	assert.Equal(t, []string{"yandex:success"}, rec.logins)
}

func TestAuthHandler_Callback_Failures(t *testing.T) {
	providerErr := &auth.ProviderError{Provider: "yandex", Op: "token exchange", Err: errors.New("status 400: {\"error\":\"invalid_grant\"}")}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMetric string
	}{
		{
			name:       "コード欠落",
			err:        &auth.FlowError{Stage: auth.StageAwaitingCode, Err: auth.ErrMissingCode},
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeMissingCode,
			wantMetric: "yandex:failure",
		},
		{
			name:       "コード交換の失敗",
			err:        &auth.FlowError{Stage: auth.StageExchangingToken, Err: providerErr},
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeProviderError,
			wantMetric: "yandex:provider_error",
		},
		{
			name:       "プロフィール取得の失敗",
			err:        &auth.FlowError{Stage: auth.StageFetchingProfile, Err: providerErr},
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeProviderError,
			wantMetric: "yandex:provider_error",
		},
		{
			name:       "アカウント解決の失敗",
			err:        &auth.FlowError{Stage: auth.StageResolvingAccount, Err: errors.New("db down")},
			wantStatus: http.StatusUnauthorized,
			wantCode:   model.ErrCodeUnauthorized,
			wantMetric: "yandex:failure",
		},
		{
			name:       "トークン発行の失敗",
			err:        &auth.FlowError{Stage: auth.StageIssuingTokens, Err: errors.New("sign failed")},
			wantStatus: http.StatusUnauthorized,
			wantCode:   model.ErrCodeUnauthorized,
			wantMetric: "yandex:failure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			svc := &mockAuthService{handleCallbackFn: func(context.Context, string, string) (*model.TokenPair, error) {
				return nil, tt.err
			}}
			r := authRouter(NewAuthHandler(svc, rec))

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/yandex/callback?code=abc123", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			body := w.Body.String()
			assert.Equal(t, tt.wantCode, decodeError(t, body).Code)
			assert.NotContains(t, body, "invalid_grant")
			assert.NotContains(t, body, "db down")
			assert.Equal(t, []string{tt.wantMetric}, rec.logins)
		})
	}
}

func TestAuthHandler_Callback_UnknownProvider(t *testing.T) {
	svc := &mockAuthService{handleCallbackFn: func(_ context.Context, provider, _ string) (*model.TokenPair, error) {
		return nil, &auth.FlowError{Stage: auth.StageAwaitingCode, Err: fmt.Errorf("%w: %s", auth.ErrUnknownProvider, provider)}
	}}
	r := authRouter(NewAuthHandler(svc, nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/github/callback?code=x", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthHandler_Refresh(t *testing.T) {
	svc := &mockAuthService{refreshFn: func(_ context.Context, token string) (*model.TokenPair, error) {
		if token == "valid-refresh" {
			return testPair(), nil
		}
		return nil, fmt.Errorf("%w: %v", auth.ErrUnauthorized, auth.ErrExpired)
	}}

	tests := []struct {
		name        string
		target      string
		body        string
		contentType string
		wantStatus  int
	}{
		{name: "クエリパラメータ", target: "/auth/token/refresh?refresh_token=valid-refresh", wantStatus: http.StatusOK},
		{name: "JSONボディ", target: "/auth/token/refresh", body: `{"refresh_token":"valid-refresh"}`, contentType: "application/json", wantStatus: http.StatusOK},
		{name: "期限切れ", target: "/auth/token/refresh?refresh_token=expired", wantStatus: http.StatusUnauthorized},
		{name: "トークンなし", target: "/auth/token/refresh", wantStatus: http.StatusUnauthorized},
		{name: "不正なJSON", target: "/auth/token/refresh", body: `{"refresh_token":`, contentType: "application/json", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			r := authRouter(NewAuthHandler(svc, rec))

			req := httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			switch tt.wantStatus {
			case http.StatusOK:
				var pair model.TokenPair
				require.NoError(t, json.NewDecoder(w.Body).Decode(&pair))
				assert.Equal(t, "acc", pair.AccessToken)
				assert.Equal(t, []string{"success"}, rec.refreshs)
			case http.StatusUnauthorized:
				assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
				assert.Equal(t, []string{"failure"}, rec.refreshs)
			}
		})
	}
}
