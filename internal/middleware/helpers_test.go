package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/hitoshi/audiobox/internal/auth"
	"github.com/hitoshi/audiobox/internal/model"
)

// fakeRecorder はmetrics.Recorderの記録内容を保持する。
type fakeRecorder struct {
	mu         sync.Mutex
	rejections []string
	statuses   []int
	latencies  int
}

func (f *fakeRecorder) RecordLogin(string, string) {}
func (f *fakeRecorder) RecordRefresh(string)       {}
func (f *fakeRecorder) RecordUpload(int64)         {}
func (f *fakeRecorder) RecordObjectPurge(string)   {}

func (f *fakeRecorder) RecordAuthRejection(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejections = append(f.rejections, reason)
}

func (f *fakeRecorder) RecordHTTPStatus(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, code)
}

func (f *fakeRecorder) RecordRequestLatency(time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latencies++
}

// mockVerifier はトークン文字列をキーにユーザーIDまたはエラーを返す。
type mockVerifier struct {
	tokens map[string]int64
	errs   map[string]error
	kinds  []auth.TokenKind
}

func (m *mockVerifier) VerifyUserID(token string, kind auth.TokenKind) (int64, error) {
	m.kinds = append(m.kinds, kind)
	if err, ok := m.errs[token]; ok {
		return 0, err
	}
	if id, ok := m.tokens[token]; ok {
		return id, nil
	}
	return 0, auth.ErrInvalidSignature
}

// mockUserFinder はインメモリのユーザー検索。
type mockUserFinder struct {
	users map[int64]*model.User
	err   error
}

func (m *mockUserFinder) FindByID(_ context.Context, id int64) (*model.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.users[id], nil
}

// withUser は認証済みユーザーを注入したリクエストを返す。
func withUser(req *http.Request, id int64) *http.Request {
	return req.WithContext(ContextWithUser(req.Context(), &model.User{ID: id}))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}
