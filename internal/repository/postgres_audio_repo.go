package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/audiobox/internal/model"
)

const audioColumns = `id, user_id, filename, original_filename, storage_path, content_type, size_bytes, created_at`

// PostgresAudioRepo はPostgreSQLを使用した音声ファイルリポジトリ。
type PostgresAudioRepo struct {
	db *sql.DB
}

// NewPostgresAudioRepo はPostgresAudioRepoを生成する。
func NewPostgresAudioRepo(db *sql.DB) *PostgresAudioRepo {
	return &PostgresAudioRepo{db: db}
}

func scanAudio(row rowScanner) (*model.AudioFile, error) {
	f := &model.AudioFile{}
	err := row.Scan(&f.ID, &f.UserID, &f.Filename, &f.OriginalFilename, &f.StoragePath, &f.ContentType, &f.SizeBytes, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Create は音声ファイルのメタデータを登録する。
func (r *PostgresAudioRepo) Create(ctx context.Context, file *model.AudioFile) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO audio_files (user_id, filename, original_filename, storage_path, content_type, size_bytes)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		file.UserID, file.Filename, file.OriginalFilename, file.StoragePath, file.ContentType, file.SizeBytes,
	).Scan(&file.ID, &file.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audio file: %w", translateError(err))
	}
	return nil
}

// ListByUserID はユーザーの音声ファイルを新しい順に返す。
func (r *PostgresAudioRepo) ListByUserID(ctx context.Context, userID int64, offset, limit int) ([]*model.AudioFile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+audioColumns+` FROM audio_files
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 OFFSET $2 LIMIT $3`,
		userID, offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audio files: %w", err)
	}
	defer rows.Close()

	files := make([]*model.AudioFile, 0)
	for rows.Next() {
		f, err := scanAudio(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audio file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audio files: %w", err)
	}
	return files, nil
}

// FindByIDAndUserID は所有者が一致する音声ファイルを取得する。見つからない場合はnilを返す。
func (r *PostgresAudioRepo) FindByIDAndUserID(ctx context.Context, id, userID int64) (*model.AudioFile, error) {
	f, err := scanAudio(r.db.QueryRowContext(ctx,
		`SELECT `+audioColumns+` FROM audio_files WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find audio file: %w", err)
	}
	return f, nil
}

// DeleteByIDAndUserID は音声ファイルの行を削除し、実体を削除待ちキューに登録する。
func (r *PostgresAudioRepo) DeleteByIDAndUserID(ctx context.Context, id, userID int64) (*model.PendingObjectDeletion, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var key string
	err = tx.QueryRowContext(ctx,
		`DELETE FROM audio_files WHERE id = $1 AND user_id = $2 RETURNING storage_path`,
		id, userID,
	).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete audio file: %w", err)
	}

	pending, err := enqueueDeletions(ctx, tx, []string{key})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &pending[0], nil
}

// compile-time interface check
var _ AudioRepository = (*PostgresAudioRepo)(nil)
