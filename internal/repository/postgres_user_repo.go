package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/audiobox/internal/model"
)

const userColumns = `id, provider, provider_user_id, email, first_name, last_name, created_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var lastName sql.NullString
	if err := row.Scan(&user.ID, &user.Provider, &user.ProviderUserID, &user.Email, &user.FirstName, &lastName, &user.CreatedAt); err != nil {
		return nil, err
	}
	user.LastName = lastName.String
	return user, nil
}

// findOne は1行を返すクエリを実行する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) findOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByProviderID はproviderとprovider_user_idでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByProviderID(ctx context.Context, provider, providerUserID string) (*model.User, error) {
	user, err := r.findOne(ctx,
		`SELECT `+userColumns+` FROM users WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by provider ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// List はID昇順でユーザー一覧を返す。
func (r *PostgresUserRepo) List(ctx context.Context, offset, limit int) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id OFFSET $1 LIMIT $2`,
		offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*model.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// Create はユーザーを作成する。IDとcreated_atはDBで採番される。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (provider, provider_user_id, email, first_name, last_name)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		user.Provider, user.ProviderUserID, user.Email, user.FirstName, user.LastName,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", translateError(err))
	}
	return nil
}

// Update はnilでないフィールドのみを更新する。
// COALESCEで未指定のカラムは現在の値を維持する。
func (r *PostgresUserRepo) Update(ctx context.Context, id int64, patch model.UserPatch) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users SET
			email      = COALESCE($2, email),
			first_name = COALESCE($3, first_name),
			last_name  = COALESCE($4, last_name)
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, nullableString(patch.Email), nullableString(patch.FirstName), nullableString(patch.LastName),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", translateError(err))
	}
	return user, nil
}

// DeleteWithAudio はユーザーと音声ファイルの行を削除し、実体を削除待ちキューに登録する。
// audio_filesはFKのCASCADEでも消えるが、ストレージキーを回収するため先に明示的に削除する。
// 先にユーザー行をロックし、並行するアップロードの行がキーを回収されないまま消えるのを防ぐ。
func (r *PostgresUserRepo) DeleteWithAudio(ctx context.Context, id int64) ([]model.PendingObjectDeletion, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var locked int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`DELETE FROM audio_files WHERE user_id = $1 RETURNING storage_path`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to delete audio files: %w", err)
	}
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan storage path: %w", err)
		}
		keys = append(keys, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate storage paths: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	pending, err := enqueueDeletions(ctx, tx, keys)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return pending, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
