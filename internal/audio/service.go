// Package audio は音声ファイルのアップロード・一覧・削除のドメインロジックを提供する。
package audio

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/audiobox/internal/metrics"
	"github.com/hitoshi/audiobox/internal/model"
	"github.com/hitoshi/audiobox/internal/repository"
	"github.com/hitoshi/audiobox/internal/security"
	"github.com/hitoshi/audiobox/internal/storage"
	"github.com/hitoshi/audiobox/internal/worker/cleanup"
)

// Purger は削除待ちエントリのオブジェクトを即時に削除する。cleanup.ObjectPurgerが満たす。
type Purger interface {
	PurgeEntries(ctx context.Context, entries []model.PendingObjectDeletion) cleanup.PurgeResult
}

// UploadInput はアップロード要求を表す。
type UploadInput struct {
	Label            string // ユーザー指定の表示名（任意）
	OriginalFilename string
	ContentType      string
	Size             int64
	Body             io.Reader
}

// Item は音声ファイルとダウンロード用の署名付きURLの組。
type Item struct {
	File *model.AudioFile
	URL  string
}

// Service は音声ファイルのサービス層。
type Service struct {
	repo      repository.AudioRepository
	store     storage.ObjectStore
	purger    Purger
	recorder  metrics.Recorder
	sanitizer security.LabelSanitizerService
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.AudioRepository, store storage.ObjectStore, purger Purger, recorder metrics.Recorder) *Service {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Service{
		repo:      repo,
		store:     store,
		purger:    purger,
		recorder:  recorder,
		sanitizer: security.NewLabelSanitizer(security.DefaultMaxLabelLength),
	}
}

// Upload は音声ファイルをオブジェクトストレージに保存し、メタデータを登録する。
// メタデータの登録に失敗した場合は保存したオブジェクトを削除する。
func (s *Service) Upload(ctx context.Context, userID int64, in UploadInput) (*model.AudioFile, error) {
	if !strings.HasPrefix(in.ContentType, "audio/") {
		return nil, model.NewInvalidAudioError()
	}

	original := s.sanitizer.Sanitize(path.Base(strings.ReplaceAll(in.OriginalFilename, "\\", "/")))
	if original == "" || original == "." || original == "/" {
		original = "audio"
	}
	label := s.sanitizer.Sanitize(in.Label)
	if label == "" {
		label = original
	}

	key := objectKey(userID, original)
	if err := s.store.Put(ctx, key, in.Body, in.Size, in.ContentType); err != nil {
		slog.Error("failed to store audio object",
			slog.Int64("user_id", userID),
			slog.String("storage_path", key),
			slog.String("error", err.Error()),
		)
		return nil, model.NewStorageFailedError()
	}

	file := &model.AudioFile{
		UserID:           userID,
		Filename:         label,
		OriginalFilename: original,
		StoragePath:      key,
		ContentType:      in.ContentType,
		SizeBytes:        in.Size,
	}
	if err := s.repo.Create(ctx, file); err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			slog.Warn("failed to remove orphaned audio object",
				slog.String("storage_path", key),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, fmt.Errorf("failed to save audio file: %w", err)
	}

	s.recorder.RecordUpload(in.Size)
	slog.Info("audio uploaded",
		slog.Int64("user_id", userID),
		slog.Int64("audio_id", file.ID),
		slog.Int64("size_bytes", in.Size),
	)
	return file, nil
}

// List はユーザーの音声ファイルを新しい順に返す。
// 署名付きURLの生成に失敗したファイルはURLを空にして返す。
func (s *Service) List(ctx context.Context, userID int64, offset, limit int) ([]Item, error) {
	files, err := s.repo.ListByUserID(ctx, userID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audio files: %w", err)
	}

	items := make([]Item, 0, len(files))
	for _, f := range files {
		items = append(items, Item{File: f, URL: s.presign(ctx, f)})
	}
	return items, nil
}

// Get は所有者のみが参照できる音声ファイルを返す。
func (s *Service) Get(ctx context.Context, userID, id int64) (*Item, error) {
	f, err := s.repo.FindByIDAndUserID(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find audio file: %w", err)
	}
	if f == nil {
		return nil, model.NewAudioNotFoundError()
	}
	return &Item{File: f, URL: s.presign(ctx, f)}, nil
}

// Delete は音声ファイルを削除する。行の削除と削除待ちキューへの登録を同一トランザクションで行い、
// その後オブジェクトを削除する。オブジェクトの削除に失敗した場合はワーカーが再試行する。
func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	pending, err := s.repo.DeleteByIDAndUserID(ctx, id, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewAudioNotFoundError()
	}
	if err != nil {
		return fmt.Errorf("failed to delete audio file: %w", err)
	}

	if s.purger != nil {
		s.purger.PurgeEntries(ctx, []model.PendingObjectDeletion{*pending})
	}
	slog.Info("audio deleted",
		slog.Int64("user_id", userID),
		slog.Int64("audio_id", id),
	)
	return nil
}

func (s *Service) presign(ctx context.Context, f *model.AudioFile) string {
	u, err := s.store.PresignGet(ctx, f.StoragePath)
	if err != nil {
		slog.Warn("failed to presign audio url",
			slog.Int64("audio_id", f.ID),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return u
}

// objectKey は"user_<id>/<uuid hex><ext>"形式のストレージキーを生成する。
func objectKey(userID int64, filename string) string {
	id := uuid.New()
	return fmt.Sprintf("user_%d/%s%s", userID, hex.EncodeToString(id[:]), strings.ToLower(path.Ext(filename)))
}
