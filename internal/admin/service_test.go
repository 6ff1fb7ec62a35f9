package admin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/audiobox/internal/audio"
	"github.com/hitoshi/audiobox/internal/model"
	"github.com/hitoshi/audiobox/internal/repository"
	"github.com/hitoshi/audiobox/internal/worker/cleanup"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn        func(ctx context.Context, id int64) (*model.User, error)
	listFn            func(ctx context.Context, offset, limit int) ([]*model.User, error)
	updateFn          func(ctx context.Context, id int64, patch model.UserPatch) (*model.User, error)
	deleteWithAudioFn func(ctx context.Context, id int64) ([]model.PendingObjectDeletion, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByProviderID(context.Context, string, string) (*model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(context.Context, string) (*model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) List(ctx context.Context, offset, limit int) ([]*model.User, error) {
	if m.listFn != nil {
		return m.listFn(ctx, offset, limit)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(context.Context, *model.User) error {
	return nil
}

func (m *mockUserRepo) Update(ctx context.Context, id int64, patch model.UserPatch) (*model.User, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, patch)
	}
	return nil, repository.ErrNotFound
}

func (m *mockUserRepo) DeleteWithAudio(ctx context.Context, id int64) ([]model.PendingObjectDeletion, error) {
	if m.deleteWithAudioFn != nil {
		return m.deleteWithAudioFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

type mockAudioLister struct {
	listFn func(ctx context.Context, userID int64, offset, limit int) ([]audio.Item, error)
}

func (m *mockAudioLister) List(ctx context.Context, userID int64, offset, limit int) ([]audio.Item, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, offset, limit)
	}
	return nil, nil
}

type mockPurger struct {
	purged []model.PendingObjectDeletion
	failed int
}

func (m *mockPurger) PurgeEntries(_ context.Context, entries []model.PendingObjectDeletion) cleanup.PurgeResult {
	m.purged = append(m.purged, entries...)
	return cleanup.PurgeResult{Deleted: len(entries) - m.failed, Failed: m.failed}
}

func strPtr(s string) *string { return &s }

func requireAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr), "expected *model.APIError, got %v", err)
	assert.Equal(t, code, apiErr.Code)
}

// --- NormalizePage ---

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		name                string
		skip, limit         int
		wantSkip, wantLimit int
	}{
		{name: "既定値", skip: 0, limit: 0, wantSkip: 0, wantLimit: 100},
		{name: "範囲内はそのまま", skip: 20, limit: 10, wantSkip: 20, wantLimit: 10},
		{name: "上限超過は既定値", skip: 0, limit: 1000, wantSkip: 0, wantLimit: 100},
		{name: "負のskipは0", skip: -5, limit: 10, wantSkip: 0, wantLimit: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			skip, limit := NormalizePage(tt.skip, tt.limit)
			assert.Equal(t, tt.wantSkip, skip)
			assert.Equal(t, tt.wantLimit, limit)
		})
	}
}

// --- ListUsers / GetUser ---

func TestListUsers_PassesNormalizedPage(t *testing.T) {
	repo := &mockUserRepo{listFn: func(_ context.Context, offset, limit int) ([]*model.User, error) {
		assert.Equal(t, 5, offset)
		assert.Equal(t, 100, limit)
		return []*model.User{{ID: 1}, {ID: 2}}, nil
	}}
	svc := NewService(repo, &mockAudioLister{}, nil)

	users, err := svc.ListUsers(context.Background(), 5, 500)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestGetUser_NotFound(t *testing.T) {
	svc := NewService(&mockUserRepo{}, &mockAudioLister{}, nil)

	_, err := svc.GetUser(context.Background(), 99)
	requireAPIError(t, err, model.ErrCodeUserNotFound)
}

// --- UpdateUser ---

func TestUpdateUser_AppliesPatch(t *testing.T) {
	repo := &mockUserRepo{updateFn: func(_ context.Context, id int64, patch model.UserPatch) (*model.User, error) {
		assert.Equal(t, int64(3), id)
		assert.Nil(t, patch.LastName)
		return &model.User{ID: id, Email: *patch.Email, FirstName: *patch.FirstName}, nil
	}}
	svc := NewService(repo, &mockAudioLister{}, nil)

	user, err := svc.UpdateUser(context.Background(), 3, model.UserPatch{
		Email:     strPtr("new@example.com"),
		FirstName: strPtr("Anna"),
	})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)
	assert.Equal(t, "Anna", user.FirstName)
}

func TestUpdateUser_Validation(t *testing.T) {
	tests := []struct {
		name  string
		patch model.UserPatch
	}{
		{name: "不正なメールアドレス", patch: model.UserPatch{Email: strPtr("not-an-email")}},
		{name: "空のメールアドレス", patch: model.UserPatch{Email: strPtr("")}},
		{name: "空の名", patch: model.UserPatch{FirstName: strPtr("")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockUserRepo{updateFn: func(context.Context, int64, model.UserPatch) (*model.User, error) {
				t.Fatal("Update must not be called for invalid input")
				return nil, nil
			}}
			svc := NewService(repo, &mockAudioLister{}, nil)

			_, err := svc.UpdateUser(context.Background(), 1, tt.patch)
			requireAPIError(t, err, model.ErrCodeInvalidInput)
		})
	}
}

func TestUpdateUser_ValidationMessageUsesJSONNames(t *testing.T) {
	svc := NewService(&mockUserRepo{}, &mockAudioLister{}, nil)

	_, err := svc.UpdateUser(context.Background(), 1, model.UserPatch{FirstName: strPtr("")})
	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Contains(t, apiErr.Message, "first_name")
}

func TestUpdateUser_EmptyLastNameIsAllowed(t *testing.T) {
	repo := &mockUserRepo{updateFn: func(_ context.Context, id int64, patch model.UserPatch) (*model.User, error) {
		require.NotNil(t, patch.LastName)
		return &model.User{ID: id, LastName: *patch.LastName}, nil
	}}
	svc := NewService(repo, &mockAudioLister{}, nil)

	user, err := svc.UpdateUser(context.Background(), 1, model.UserPatch{LastName: strPtr("")})
	require.NoError(t, err)
	assert.Empty(t, user.LastName)
}

func TestUpdateUser_EmptyPatchReturnsCurrent(t *testing.T) {
	repo := &mockUserRepo{
		findByIDFn: func(_ context.Context, id int64) (*model.User, error) {
			return &model.User{ID: id, Email: "a@x.com"}, nil
		},
		updateFn: func(context.Context, int64, model.UserPatch) (*model.User, error) {
			t.Fatal("Update must not be called for an empty patch")
			return nil, nil
		},
	}
	svc := NewService(repo, &mockAudioLister{}, nil)

	user, err := svc.UpdateUser(context.Background(), 4, model.UserPatch{})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", user.Email)
}

func TestUpdateUser_RepositoryErrors(t *testing.T) {
	tests := []struct {
		name     string
		repoErr  error
		wantCode string
	}{
		{name: "重複メール", repoErr: repository.ErrUniqueViolation, wantCode: model.ErrCodeDuplicateEmail},
		{name: "存在しない", repoErr: repository.ErrNotFound, wantCode: model.ErrCodeUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockUserRepo{updateFn: func(context.Context, int64, model.UserPatch) (*model.User, error) {
				return nil, tt.repoErr
			}}
			svc := NewService(repo, &mockAudioLister{}, nil)

			_, err := svc.UpdateUser(context.Background(), 1, model.UserPatch{Email: strPtr("b@x.com")})
			requireAPIError(t, err, tt.wantCode)
		})
	}
}

func TestUpdateUser_UnexpectedErrorIsWrapped(t *testing.T) {
	dbErr := errors.New("connection reset")
	repo := &mockUserRepo{updateFn: func(context.Context, int64, model.UserPatch) (*model.User, error) {
		return nil, dbErr
	}}
	svc := NewService(repo, &mockAudioLister{}, nil)

	_, err := svc.UpdateUser(context.Background(), 1, model.UserPatch{Email: strPtr("b@x.com")})
	assert.ErrorIs(t, err, dbErr)
	var apiErr *model.APIError
	assert.False(t, errors.As(err, &apiErr))
}

// --- DeleteUser ---

func TestDeleteUser_PurgesQueuedObjects(t *testing.T) {
	pending := []model.PendingObjectDeletion{
		{ID: 1, StoragePath: "user_5/a.mp3"},
		{ID: 2, StoragePath: "user_5/b.ogg"},
	}
	repo := &mockUserRepo{deleteWithAudioFn: func(_ context.Context, id int64) ([]model.PendingObjectDeletion, error) {
		assert.Equal(t, int64(5), id)
		return pending, nil
	}}
	purger := &mockPurger{}
	svc := NewService(repo, &mockAudioLister{}, purger)

	require.NoError(t, svc.DeleteUser(context.Background(), 5))
	assert.Equal(t, pending, purger.purged)
}

func TestDeleteUser_PurgeFailureStillSucceeds(t *testing.T) {
	repo := &mockUserRepo{deleteWithAudioFn: func(context.Context, int64) ([]model.PendingObjectDeletion, error) {
		return []model.PendingObjectDeletion{{ID: 1, StoragePath: "user_5/a.mp3"}}, nil
	}}
	svc := NewService(repo, &mockAudioLister{}, &mockPurger{failed: 1})

	assert.NoError(t, svc.DeleteUser(context.Background(), 5))
}

func TestDeleteUser_WithoutAudioSkipsPurge(t *testing.T) {
	repo := &mockUserRepo{deleteWithAudioFn: func(context.Context, int64) ([]model.PendingObjectDeletion, error) {
		return nil, nil
	}}
	purger := &mockPurger{}
	svc := NewService(repo, &mockAudioLister{}, purger)

	require.NoError(t, svc.DeleteUser(context.Background(), 5))
	assert.Empty(t, purger.purged)
}

func TestDeleteUser_NotFound(t *testing.T) {
	purger := &mockPurger{}
	svc := NewService(&mockUserRepo{}, &mockAudioLister{}, purger)

	err := svc.DeleteUser(context.Background(), 5)
	requireAPIError(t, err, model.ErrCodeUserNotFound)
	assert.Empty(t, purger.purged)
}

// --- ListUserAudio ---

func TestListUserAudio(t *testing.T) {
	repo := &mockUserRepo{findByIDFn: func(_ context.Context, id int64) (*model.User, error) {
		if id == 5 {
			return &model.User{ID: 5}, nil
		}
		return nil, nil
	}}
	lister := &mockAudioLister{listFn: func(_ context.Context, userID int64, offset, limit int) ([]audio.Item, error) {
		assert.Equal(t, int64(5), userID)
		assert.Equal(t, 100, limit)
		return []audio.Item{{File: &model.AudioFile{ID: 1, UserID: 5}, URL: "https://minio.local/x"}}, nil
	}}
	svc := NewService(repo, lister, nil)

	items, err := svc.ListUserAudio(context.Background(), 5, 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, err = svc.ListUserAudio(context.Background(), 6, 0, 0)
	requireAPIError(t, err, model.ErrCodeUserNotFound)
}
