// Package cleanup はオブジェクトストレージ上の音声ファイル実体の削除ジョブを提供する。
// DBの行削除と同じトランザクションでpending_object_deletionsに登録されたキーを
// 読み出してオブジェクトを削除し、成功したエントリをキューから取り除く。
// 失敗したエントリは試行回数とエラーを記録して次回に持ち越す。
package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/audiobox/internal/metrics"
	"github.com/hitoshi/audiobox/internal/model"
)

const (
	// DefaultBatchSize はBatchSizeが0以下の場合に使う件数。
	DefaultBatchSize = 100
	// DefaultInterval はStartに0以下の間隔が渡された場合に使う間隔。
	DefaultInterval = 10 * time.Minute
)

// Queue は削除待ちキューの操作。repository.PendingDeletionRepositoryが満たす。
type Queue interface {
	ListDue(ctx context.Context, limit int) ([]model.PendingObjectDeletion, error)
	Delete(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error
}

// ObjectDeleter はオブジェクトの削除操作。storage.Clientが満たす。
type ObjectDeleter interface {
	Delete(ctx context.Context, key string) error
}

// PurgeResult は1回の削除処理の結果。
type PurgeResult struct {
	Deleted int
	Failed  int
}

// ObjectPurger は削除待ちキューを消化するジョブ。
type ObjectPurger struct {
	queue          Queue
	store          ObjectDeleter
	recorder       metrics.Recorder
	logger         *slog.Logger
	BatchSize      int // 1回のPurgeで処理する最大件数（デフォルト: 100）
	MaxConcurrency int // 同時に削除するオブジェクト数（デフォルト: 4）
}

// NewObjectPurger は新しいObjectPurgerを生成する。
func NewObjectPurger(queue Queue, store ObjectDeleter, recorder metrics.Recorder, logger *slog.Logger) *ObjectPurger {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &ObjectPurger{
		queue:          queue,
		store:          store,
		recorder:       recorder,
		logger:         logger,
		BatchSize:      DefaultBatchSize,
		MaxConcurrency: 4,
	}
}

// Purge はキューから最大BatchSize件を取り出して削除する。
// 冪等: 削除対象がない場合や、オブジェクトが既に存在しない場合もエラーにならない。
func (p *ObjectPurger) Purge(ctx context.Context) (PurgeResult, error) {
	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	entries, err := p.queue.ListDue(ctx, batchSize)
	if err != nil {
		p.logger.Error("削除待ちキューの取得に失敗しました", slog.String("error", err.Error()))
		return PurgeResult{}, err
	}
	if len(entries) == 0 {
		return PurgeResult{}, nil
	}

	start := time.Now()
	result := p.PurgeEntries(ctx, entries)
	p.logger.Info("オブジェクト削除ジョブが完了しました",
		slog.Int("deleted_count", result.Deleted),
		slog.Int("failed_count", result.Failed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return result, nil
}

// PurgeEntries は指定エントリのオブジェクトを削除する。
// 行削除の直後にリクエスト内で呼び出し、失敗分はワーカーが再試行する。
func (p *ObjectPurger) PurgeEntries(ctx context.Context, entries []model.PendingObjectDeletion) PurgeResult {
	concurrency := p.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var (
		mu     sync.Mutex
		result PurgeResult
		wg     sync.WaitGroup
	)
	sem := make(chan struct{}, concurrency)

	for _, entry := range entries {
		wg.Add(1)
		sem <- struct{}{}

		go func(e model.PendingObjectDeletion) {
			defer wg.Done()
			defer func() { <-sem }()

			ok := p.purgeOne(ctx, e)
			mu.Lock()
			if ok {
				result.Deleted++
			} else {
				result.Failed++
			}
			mu.Unlock()
		}(entry)
	}
	wg.Wait()

	return result
}

func (p *ObjectPurger) purgeOne(ctx context.Context, e model.PendingObjectDeletion) bool {
	if err := p.store.Delete(ctx, e.StoragePath); err != nil {
		p.recorder.RecordObjectPurge("failed")
		p.logger.Warn("オブジェクトの削除に失敗しました",
			slog.Int64("pending_id", e.ID),
			slog.String("storage_path", e.StoragePath),
			slog.Int("attempts", e.Attempts+1),
			slog.String("error", err.Error()),
		)
		if markErr := p.queue.MarkFailed(ctx, e.ID, err.Error()); markErr != nil {
			p.logger.Error("削除失敗の記録に失敗しました",
				slog.Int64("pending_id", e.ID),
				slog.String("error", markErr.Error()),
			)
		}
		return false
	}

	if err := p.queue.Delete(ctx, e.ID); err != nil {
		// オブジェクトは削除済みなので次回の再削除も成功する
		p.logger.Error("削除待ちエントリの除去に失敗しました",
			slog.Int64("pending_id", e.ID),
			slog.String("error", err.Error()),
		)
	}
	p.recorder.RecordObjectPurge("deleted")
	return true
}

// Start はinterval間隔でPurgeを実行する。起動直後に1回実行し、
// コンテキストがキャンセルされるまで継続する。
// intervalが0以下の場合はDefaultIntervalを使う。
func (p *ObjectPurger) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		p.logger.Warn("不正な実行間隔のためデフォルト値を使用します",
			slog.Duration("interval", interval),
			slog.Duration("default", DefaultInterval),
		)
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("オブジェクト削除ワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("batch_size", p.BatchSize),
	)

	p.Purge(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("オブジェクト削除ワーカーを停止しました")
			return
		case <-ticker.C:
			p.Purge(ctx)
		}
	}
}
