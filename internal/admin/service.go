// Package admin はスーパーユーザー向けのユーザー管理のドメインロジックを提供する。
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/audiobox/internal/audio"
	"github.com/hitoshi/audiobox/internal/model"
	"github.com/hitoshi/audiobox/internal/repository"
)

const (
	// DefaultLimit は一覧取得の既定件数。
	DefaultLimit = 100
	// MaxLimit は一覧取得の上限件数。
	MaxLimit = 100
)

// AudioLister はユーザーの音声ファイル一覧を返す。audio.Serviceが満たす。
type AudioLister interface {
	List(ctx context.Context, userID int64, offset, limit int) ([]audio.Item, error)
}

// Service はユーザー管理のサービス層。
type Service struct {
	users    repository.UserRepository
	audio    AudioLister
	purger   audio.Purger
	validate *validator.Validate
}

// NewService はServiceの新しいインスタンスを生成する。
// purgerがnilの場合、オブジェクトの削除はワーカーに任せる。
func NewService(users repository.UserRepository, audioLister AudioLister, purger audio.Purger) *Service {
	validate := validator.New(validator.WithRequiredStructEnabled())
	// エラーメッセージにはJSONのフィールド名を使う
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Service{
		users:    users,
		audio:    audioLister,
		purger:   purger,
		validate: validate,
	}
}

// NormalizePage はskip/limitを有効な範囲に丸める。
func NormalizePage(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 || limit > MaxLimit {
		limit = DefaultLimit
	}
	return skip, limit
}

// ListUsers はID昇順でユーザー一覧を返す。
func (s *Service) ListUsers(ctx context.Context, skip, limit int) ([]*model.User, error) {
	skip, limit = NormalizePage(skip, limit)
	users, err := s.users.List(ctx, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// GetUser はユーザーを取得する。存在しない場合はUSER_NOT_FOUNDを返す。
func (s *Service) GetUser(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// UpdateUser はユーザー情報を部分更新する。
// 空のパッチは現在の値をそのまま返す。
func (s *Service) UpdateUser(ctx context.Context, id int64, patch model.UserPatch) (*model.User, error) {
	if err := s.validate.Struct(patch); err != nil {
		return nil, model.NewInvalidInputError(describeValidation(err))
	}
	if patch.IsEmpty() {
		return s.GetUser(ctx, id)
	}

	user, err := s.users.Update(ctx, id, patch)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, model.NewUserNotFoundError()
	case errors.Is(err, repository.ErrUniqueViolation):
		return nil, model.NewDuplicateEmailError()
	case err != nil:
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	slog.Info("user updated by admin", slog.Int64("user_id", id))
	return user, nil
}

// DeleteUser はユーザーと所有する音声ファイルを削除する。
// 行の削除と削除待ちキューへの登録を同一トランザクションで行った後、オブジェクトを削除する。
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	pending, err := s.users.DeleteWithAudio(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewUserNotFoundError()
	}
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	slog.Info("user deleted by admin",
		slog.Int64("user_id", id),
		slog.Int("audio_files", len(pending)),
	)

	if s.purger != nil && len(pending) > 0 {
		result := s.purger.PurgeEntries(ctx, pending)
		if result.Failed > 0 {
			slog.Warn("some audio objects remain queued for deletion",
				slog.Int64("user_id", id),
				slog.Int("failed", result.Failed),
			)
		}
	}
	return nil
}

// ListUserAudio は指定ユーザーの音声ファイル一覧を返す。ユーザーが存在しない場合はUSER_NOT_FOUNDを返す。
func (s *Service) ListUserAudio(ctx context.Context, userID int64, skip, limit int) ([]audio.Item, error) {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	skip, limit = NormalizePage(skip, limit)
	return s.audio.List(ctx, userID, skip, limit)
}

// describeValidation はバリデーションエラーをクライアント向けの短い説明に変換する。
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request body"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return "invalid fields: " + strings.Join(fields, ", ")
}
