// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/audiobox/internal/auth"
	"github.com/hitoshi/audiobox/internal/metrics"
	"github.com/hitoshi/audiobox/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// TokenVerifier はアクセストークンからユーザーIDを取り出す。auth.TokenCodecが満たす。
type TokenVerifier interface {
	VerifyUserID(token string, kind auth.TokenKind) (int64, error)
}

// UserFinder はユーザーの検索に必要なインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
}

// 認証拒否の理由（メトリクスのラベル）
const (
	rejectMissingToken = "missing_token"
	rejectExpired      = "expired"
	rejectInvalidToken = "invalid_token"
	rejectUnknownUser  = "unknown_user"
	rejectLookupFailed = "lookup_failed"
	rejectForbidden    = "forbidden"
)

// NewAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// 認証済みユーザーをリクエストコンテキストに注入するミドルウェアを返す。
// 検証に失敗したリクエストには401とWWW-Authenticate: Bearerを返す。
func NewAuthMiddleware(verifier TokenVerifier, users UserFinder, recorder metrics.Recorder) func(next http.Handler) http.Handler {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reject := func(reason string) {
				recorder.RecordAuthRejection(reason)
				WriteUnauthorized(w)
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				reject(rejectMissingToken)
				return
			}

			userID, err := verifier.VerifyUserID(token, auth.AccessToken)
			if err != nil {
				if errors.Is(err, auth.ErrExpired) {
					reject(rejectExpired)
				} else {
					reject(rejectInvalidToken)
				}
				return
			}

			user, err := users.FindByID(r.Context(), userID)
			if err != nil {
				slog.Error("failed to find user for access token",
					slog.Int64("user_id", userID),
					slog.String("error", err.Error()),
				)
				reject(rejectLookupFailed)
				return
			}
			if user == nil {
				reject(rejectUnknownUser)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// NewSuperuserMiddleware は認証済みユーザーのメールアドレスがadminEmailと
// 完全一致する場合のみ通過させるミドルウェアを返す。adminEmailが空の場合は誰も通過できない。
// NewAuthMiddlewareの後に配置する。
func NewSuperuserMiddleware(adminEmail string, recorder metrics.Recorder) func(next http.Handler) http.Handler {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				recorder.RecordAuthRejection(rejectMissingToken)
				WriteUnauthorized(w)
				return
			}
			if !IsSuperuser(user, adminEmail) {
				recorder.RecordAuthRejection(rejectForbidden)
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IsSuperuser はユーザーがスーパーユーザーかどうかを返す。
func IsSuperuser(user *model.User, adminEmail string) bool {
	return adminEmail != "" && user != nil && user.Email == adminEmail
}

// bearerToken は"Bearer <token>"形式のヘッダー値からトークンを取り出す。スキーム名の大小文字は区別しない。
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	return user, ok && user != nil
}

// ContextWithUser はコンテキストに認証済みユーザーを注入する。
// リクエストログ用のホルダーがあればユーザーIDも記録する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok && user != nil {
		info.setUserID(user.ID)
	}
	return context.WithValue(ctx, userContextKey, user)
}
