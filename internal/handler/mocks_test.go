package handler

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/hitoshi/audiobox/internal/audio"
	"github.com/hitoshi/audiobox/internal/auth"
	"github.com/hitoshi/audiobox/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	authorizationURLFn func(provider string) (string, error)
	handleCallbackFn   func(ctx context.Context, provider, code string) (*model.TokenPair, error)
	refreshFn          func(ctx context.Context, token string) (*model.TokenPair, error)
}

func (m *mockAuthService) AuthorizationURL(provider string) (string, error) {
	if m.authorizationURLFn != nil {
		return m.authorizationURLFn(provider)
	}
	return "", auth.ErrUnknownProvider
}

func (m *mockAuthService) HandleCallback(ctx context.Context, provider, code string) (*model.TokenPair, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, provider, code)
	}
	return nil, nil
}

func (m *mockAuthService) Refresh(ctx context.Context, token string) (*model.TokenPair, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, token)
	}
	return nil, auth.ErrUnauthorized
}

type mockAudioService struct {
	uploadFn func(ctx context.Context, userID int64, in audio.UploadInput) (*model.AudioFile, error)
	listFn   func(ctx context.Context, userID int64, offset, limit int) ([]audio.Item, error)
	getFn    func(ctx context.Context, userID, id int64) (*audio.Item, error)
	deleteFn func(ctx context.Context, userID, id int64) error
}

func (m *mockAudioService) Upload(ctx context.Context, userID int64, in audio.UploadInput) (*model.AudioFile, error) {
	if m.uploadFn != nil {
		return m.uploadFn(ctx, userID, in)
	}
	return nil, nil
}

func (m *mockAudioService) List(ctx context.Context, userID int64, offset, limit int) ([]audio.Item, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, offset, limit)
	}
	return nil, nil
}

func (m *mockAudioService) Get(ctx context.Context, userID, id int64) (*audio.Item, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, id)
	}
	return nil, model.NewAudioNotFoundError()
}

func (m *mockAudioService) Delete(ctx context.Context, userID, id int64) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, id)
	}
	return nil
}

type mockAdminService struct {
	listUsersFn     func(ctx context.Context, skip, limit int) ([]*model.User, error)
	getUserFn       func(ctx context.Context, id int64) (*model.User, error)
	updateUserFn    func(ctx context.Context, id int64, patch model.UserPatch) (*model.User, error)
	deleteUserFn    func(ctx context.Context, id int64) error
	listUserAudioFn func(ctx context.Context, userID int64, skip, limit int) ([]audio.Item, error)
}

func (m *mockAdminService) ListUsers(ctx context.Context, skip, limit int) ([]*model.User, error) {
	if m.listUsersFn != nil {
		return m.listUsersFn(ctx, skip, limit)
	}
	return nil, nil
}

func (m *mockAdminService) GetUser(ctx context.Context, id int64) (*model.User, error) {
	if m.getUserFn != nil {
		return m.getUserFn(ctx, id)
	}
	return nil, model.NewUserNotFoundError()
}

func (m *mockAdminService) UpdateUser(ctx context.Context, id int64, patch model.UserPatch) (*model.User, error) {
	if m.updateUserFn != nil {
		return m.updateUserFn(ctx, id, patch)
	}
	return nil, model.NewUserNotFoundError()
}

func (m *mockAdminService) DeleteUser(ctx context.Context, id int64) error {
	if m.deleteUserFn != nil {
		return m.deleteUserFn(ctx, id)
	}
	return nil
}

func (m *mockAdminService) ListUserAudio(ctx context.Context, userID int64, skip, limit int) ([]audio.Item, error) {
	if m.listUserAudioFn != nil {
		return m.listUserAudioFn(ctx, userID, skip, limit)
	}
	return nil, nil
}

// fakeRecorder はmetrics.Recorderの記録内容を保持する。
type fakeRecorder struct {
	mu       sync.Mutex
	logins   []string
	refreshs []string
}

func (f *fakeRecorder) RecordLogin(provider, result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins = append(f.logins, provider+":"+result)
}

func (f *fakeRecorder) RecordRefresh(result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshs = append(f.refreshs, result)
}

func (f *fakeRecorder) RecordAuthRejection(string)         {}
func (f *fakeRecorder) RecordUpload(int64)                 {}
func (f *fakeRecorder) RecordObjectPurge(string)           {}
func (f *fakeRecorder) RecordHTTPStatus(int)               {}
func (f *fakeRecorder) RecordRequestLatency(time.Duration) {}

// stubPinger はHealthCheckerのスタブ。
type stubPinger struct{ err error }

func (s stubPinger) PingContext(context.Context) error { return s.err }

func testPair() *model.TokenPair {
	return &model.TokenPair{AccessToken: "acc", RefreshToken: "ref", TokenType: "bearer"}
}

func readAll(r io.Reader) string {
	b, _ := io.ReadAll(r)
	return string(b)
}

