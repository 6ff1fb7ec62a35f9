package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/audiobox/internal/model"
)

// PostgresPendingDeletionRepo はオブジェクト削除待ちキューのリポジトリ。
type PostgresPendingDeletionRepo struct {
	db *sql.DB
}

// NewPostgresPendingDeletionRepo はPostgresPendingDeletionRepoを生成する。
func NewPostgresPendingDeletionRepo(db *sql.DB) *PostgresPendingDeletionRepo {
	return &PostgresPendingDeletionRepo{db: db}
}

// enqueueDeletions はトランザクション内でストレージキーを削除待ちキューに登録する。
// 行の削除と同じトランザクションで呼ぶことで、コミットされた削除の実体が必ずキューに残る。
func enqueueDeletions(ctx context.Context, tx *sql.Tx, keys []string) ([]model.PendingObjectDeletion, error) {
	pending := make([]model.PendingObjectDeletion, 0, len(keys))
	if len(keys) == 0 {
		return pending, nil
	}

	rows, err := tx.QueryContext(ctx,
		`INSERT INTO pending_object_deletions (storage_path)
		 SELECT unnest($1::text[])
		 RETURNING id, storage_path, attempts, created_at`,
		pq.Array(keys),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue object deletions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.PendingObjectDeletion
		if err := rows.Scan(&p.ID, &p.StoragePath, &p.Attempts, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending deletion: %w", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending deletions: %w", err)
	}
	return pending, nil
}

// ListDue は最終更新が古い順に削除待ちエントリを返す。
func (r *PostgresPendingDeletionRepo) ListDue(ctx context.Context, limit int) ([]model.PendingObjectDeletion, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, storage_path, attempts, last_error, created_at
		 FROM pending_object_deletions
		 ORDER BY updated_at, id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending deletions: %w", err)
	}
	defer rows.Close()

	var pending []model.PendingObjectDeletion
	for rows.Next() {
		var p model.PendingObjectDeletion
		var lastError sql.NullString
		if err := rows.Scan(&p.ID, &p.StoragePath, &p.Attempts, &lastError, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending deletion: %w", err)
		}
		p.LastError = lastError.String
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending deletions: %w", err)
	}
	return pending, nil
}

// Delete は削除待ちエントリを取り除く。存在しない場合も成功とする。
func (r *PostgresPendingDeletionRepo) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pending_object_deletions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete pending deletion: %w", err)
	}
	return nil
}

// MarkFailed は削除失敗を記録する。updated_atを進めるため、次回のListDueでは後回しになる。
func (r *PostgresPendingDeletionRepo) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE pending_object_deletions
		 SET attempts = attempts + 1, last_error = $2, updated_at = NOW()
		 WHERE id = $1`,
		id, reason,
	)
	if err != nil {
		return fmt.Errorf("failed to mark pending deletion as failed: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PendingDeletionRepository = (*PostgresPendingDeletionRepo)(nil)
