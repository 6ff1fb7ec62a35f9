package model

import "time"

// AudioFile はアップロードされた音声ファイルのメタデータを表す。
// 実体はオブジェクトストレージのStoragePathに保存される。
type AudioFile struct {
	ID               int64
	UserID           int64
	Filename         string // ユーザーが付けた名前
	OriginalFilename string // アップロード時のファイル名
	StoragePath      string // オブジェクトストレージのキー
	ContentType      string
	SizeBytes        int64
	CreatedAt        time.Time
}

// PendingObjectDeletion はオブジェクトストレージからの削除待ちエントリ。
// DBの行削除と同一トランザクションで登録され、実体の削除に成功した時点で消える。
type PendingObjectDeletion struct {
	ID          int64
	StoragePath string
	Attempts    int
	LastError   string
	CreatedAt   time.Time
}
