package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/audiobox/internal/auth"
	"github.com/hitoshi/audiobox/internal/model"
)

func newGateFixture() (*mockVerifier, *mockUserFinder, *fakeRecorder) {
	verifier := &mockVerifier{
		tokens: map[string]int64{"good": 42, "ghost": 99},
		errs: map[string]error{
			"expired":   auth.ErrExpired,
			"malformed": auth.ErrMalformed,
			"refresh":   auth.ErrWrongTokenKind,
		},
	}
	users := &mockUserFinder{users: map[int64]*model.User{
		42: {ID: 42, Email: "a@x.com", FirstName: "Ivan"},
	}}
	return verifier, users, &fakeRecorder{}
}

func TestAuthMiddleware_ValidToken_InjectsUser(t *testing.T) {
	verifier, users, rec := newGateFixture()

	var got *model.User
	handler := NewAuthMiddleware(verifier, users, rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := serve(handler, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, int64(42), got.ID)
	assert.Equal(t, []auth.TokenKind{auth.AccessToken}, verifier.kinds)
	assert.Empty(t, rec.rejections)
}

func TestAuthMiddleware_SchemeIsCaseInsensitive(t *testing.T) {
	verifier, users, rec := newGateFixture()
	handler := NewAuthMiddleware(verifier, users, rec)(okHandler())

	for _, header := range []string{"bearer good", "BEARER good", "Bearer   good"} {
		req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
		req.Header.Set("Authorization", header)
		assert.Equal(t, http.StatusOK, serve(handler, req).Code, header)
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantReason string
	}{
		{name: "ヘッダーなし", header: "", wantReason: "missing_token"},
		{name: "Basicスキーム", header: "Basic Zm9vOmJhcg==", wantReason: "missing_token"},
		{name: "トークンなし", header: "Bearer ", wantReason: "missing_token"},
		{name: "期限切れ", header: "Bearer expired", wantReason: "expired"},
		{name: "不正な形式", header: "Bearer malformed", wantReason: "invalid_token"},
		{name: "リフレッシュトークン", header: "Bearer refresh", wantReason: "invalid_token"},
		{name: "署名不正", header: "Bearer forged", wantReason: "invalid_token"},
		{name: "削除済みユーザー", header: "Bearer ghost", wantReason: "unknown_user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier, users, rec := newGateFixture()
			handler := NewAuthMiddleware(verifier, users, rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/audio", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(handler, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))

			var body ErrorResponseBody
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, model.ErrCodeUnauthorized, body.Code)
			assert.Equal(t, "Could not validate credentials", body.Message)

			assert.Equal(t, []string{tt.wantReason}, rec.rejections)
		})
	}
}

func TestAuthMiddleware_LookupError_Returns401(t *testing.T) {
	verifier, users, rec := newGateFixture()
	users.err = errors.New("db down")
	handler := NewAuthMiddleware(verifier, users, rec)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/audio", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := serve(handler, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotContains(t, w.Body.String(), "db down")
	assert.Equal(t, []string{"lookup_failed"}, rec.rejections)
}

func TestSuperuserMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		adminEmail string
		userEmail  string
		wantStatus int
	}{
		{name: "一致", adminEmail: "admin@x.com", userEmail: "admin@x.com", wantStatus: http.StatusOK},
		{name: "不一致", adminEmail: "admin@x.com", userEmail: "a@x.com", wantStatus: http.StatusForbidden},
		{name: "大文字小文字は区別", adminEmail: "admin@x.com", userEmail: "Admin@x.com", wantStatus: http.StatusForbidden},
		{name: "未設定なら誰も不可", adminEmail: "", userEmail: "", wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			handler := NewSuperuserMiddleware(tt.adminEmail, rec)(okHandler())

			req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
			req = req.WithContext(ContextWithUser(req.Context(), &model.User{ID: 1, Email: tt.userEmail}))
			w := serve(handler, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusForbidden {
				var body ErrorResponseBody
				require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
				assert.Equal(t, model.ErrCodeForbidden, body.Code)
				assert.Equal(t, []string{"forbidden"}, rec.rejections)
			}
		})
	}
}

func TestSuperuserMiddleware_WithoutUser_Returns401(t *testing.T) {
	handler := NewSuperuserMiddleware("admin@x.com", nil)(okHandler())

	w := serve(handler, httptest.NewRequest(http.MethodGet, "/admin/users", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUserFromContext_NoValue(t *testing.T) {
	_, ok := UserFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.False(t, ok)
}
