// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/audiobox/internal/auth"
	"github.com/hitoshi/audiobox/internal/metrics"
	"github.com/hitoshi/audiobox/internal/middleware"
	"github.com/hitoshi/audiobox/internal/model"
)

// ログイン結果（メトリクスのラベル）
const (
	resultSuccess       = "success"
	resultProviderError = "provider_error"
	resultFailure       = "failure"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	AuthorizationURL(provider string) (string, error)
	HandleCallback(ctx context.Context, provider, code string) (*model.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*model.TokenPair, error)
}

// AuthHandler はOAuthログインとトークン更新のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	recorder metrics.Recorder
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, recorder metrics.Recorder) *AuthHandler {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &AuthHandler{
		service:  service,
		recorder: recorder,
	}
}

// Login はIdPの認可URLを返す。
// GET /auth/{provider}/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	url, err := h.service.AuthorizationURL(provider)
	if errors.Is(err, auth.ErrUnknownProvider) {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewUnknownProviderError(provider))
		return
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Callback は認可コードを受け取り、トークンペアを返す。
// GET /auth/{provider}/callback?code=xxx
//
// IdPとの通信失敗とコード欠落は400、それ以外の失敗は401を返す。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	pair, err := h.service.HandleCallback(r.Context(), provider, r.URL.Query().Get("code"))
	if err == nil {
		h.recorder.RecordLogin(provider, resultSuccess)
		writeJSON(w, http.StatusOK, pair)
		return
	}

	attrs := []any{slog.String("provider", provider), slog.String("error", err.Error())}
	var flowErr *auth.FlowError
	if errors.As(err, &flowErr) {
		attrs = append(attrs, slog.String("stage", string(flowErr.Stage)))
	}

	switch {
	case errors.Is(err, auth.ErrUnknownProvider):
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewUnknownProviderError(provider))
	case errors.Is(err, auth.ErrMissingCode):
		h.recorder.RecordLogin(provider, resultFailure)
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMissingCodeError())
	case auth.IsProviderFailure(err):
		h.recorder.RecordLogin(provider, resultProviderError)
		slog.Warn("identity provider call failed", attrs...)
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewProviderError(provider))
	default:
		h.recorder.RecordLogin(provider, resultFailure)
		slog.Error("login failed", attrs...)
		middleware.WriteUnauthorized(w)
	}
}

// refreshRequest はトークン更新のリクエストボディ。
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh はリフレッシュトークンから新しいトークンペアを発行する。
// POST /auth/token/refresh
//
// トークンはJSONボディのrefresh_tokenまたは同名のクエリパラメータで受け付ける。
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("refresh_token")
	if token == "" && r.Body != nil && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req refreshRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("malformed JSON body"))
			return
		}
		token = req.RefreshToken
	}

	if token == "" {
		h.recorder.RecordRefresh(resultFailure)
		middleware.WriteUnauthorized(w)
		return
	}

	pair, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		h.recorder.RecordRefresh(resultFailure)
		slog.Info("token refresh rejected", slog.String("error", err.Error()))
		middleware.WriteUnauthorized(w)
		return
	}

	h.recorder.RecordRefresh(resultSuccess)
	writeJSON(w, http.StatusOK, pair)
}
