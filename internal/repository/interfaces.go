// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"

	"github.com/hitoshi/audiobox/internal/model"
)

// UserRepository はユーザー（アカウント）の永続化インターフェース。
// Find系は見つからない場合にnil, nilを返す。
type UserRepository interface {
	// FindByID はローカルIDでユーザーを取得する。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByProviderID はIdP名とIdP側ユーザーIDの完全一致でユーザーを取得する。
	FindByProviderID(ctx context.Context, provider, providerUserID string) (*model.User, error)

	// FindByEmail はメールアドレスの完全一致でユーザーを取得する。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// List はID昇順でユーザー一覧を返す。
	List(ctx context.Context, offset, limit int) ([]*model.User, error)

	// Create はユーザーを作成し、採番されたIDと作成日時をuserに設定する。
	// IdPユーザーIDまたはメールアドレスが重複する場合はErrUniqueViolationを返す。
	Create(ctx context.Context, user *model.User) error

	// Update はnilでないフィールドのみを更新し、更新後のユーザーを返す。
	// 存在しない場合はErrNotFound、メールアドレス重複の場合はErrUniqueViolationを返す。
	Update(ctx context.Context, id int64, patch model.UserPatch) (*model.User, error)

	// DeleteWithAudio はユーザーと所有する音声ファイルの行を同一トランザクションで削除し、
	// 音声ファイルの実体を削除待ちキューに登録する。登録したエントリを返す。
	// 存在しない場合はErrNotFoundを返す。
	DeleteWithAudio(ctx context.Context, id int64) ([]model.PendingObjectDeletion, error)
}

// AudioRepository は音声ファイルメタデータの永続化インターフェース。
type AudioRepository interface {
	// Create は音声ファイルを作成し、採番されたIDと作成日時を設定する。
	Create(ctx context.Context, file *model.AudioFile) error

	// ListByUserID はユーザーの音声ファイルを作成日時の降順で返す。
	ListByUserID(ctx context.Context, userID int64, offset, limit int) ([]*model.AudioFile, error)

	// FindByIDAndUserID は所有者を限定して音声ファイルを取得する。見つからない場合はnilを返す。
	FindByIDAndUserID(ctx context.Context, id, userID int64) (*model.AudioFile, error)

	// DeleteByIDAndUserID は音声ファイルの行を削除し、実体を削除待ちキューに登録する。
	// 見つからない場合はErrNotFoundを返す。
	DeleteByIDAndUserID(ctx context.Context, id, userID int64) (*model.PendingObjectDeletion, error)
}

// PendingDeletionRepository はオブジェクト削除待ちキューの永続化インターフェース。
type PendingDeletionRepository interface {
	// ListDue は最終試行が古い順に削除待ちエントリを返す。
	ListDue(ctx context.Context, limit int) ([]model.PendingObjectDeletion, error)

	// Delete は実体の削除が完了したエントリを取り除く。
	Delete(ctx context.Context, id int64) error

	// MarkFailed は試行回数を増やし、最後のエラーを記録する。
	MarkFailed(ctx context.Context, id int64, reason string) error
}
