// Package cleanup は終了済み同期ジョブの自動削除ジョブを提供する。
// 保持期間（デフォルト30日）を超過したdone/failedのジョブを日次バッチで
// 削除する。pending/runningのジョブは対象外で、失敗ジョブも保持期間内は
// 調査用に残る。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/fitsync/internal/repository"
)

// CleanupJob は保持期間を超過した同期ジョブの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	jobRepo       repository.SyncJobRepository
	logger        *slog.Logger
	RetentionDays int // 終了済みジョブの保持日数（デフォルト: 30）
	now           func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は30日。
func NewCleanupJob(jobRepo repository.SyncJobRepository, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		jobRepo:       jobRepo,
		logger:        logger,
		RetentionDays: 30,
		now:           time.Now,
	}
}

// Start は指定間隔のティッカーでクリーンアップを定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("ジョブクリーンアップを開始しました",
		slog.Duration("interval", interval),
		slog.Int("retention_days", j.RetentionDays),
	)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("ジョブクリーンアップを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("ジョブクリーンアップの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Run は保持期間を超過した終了済みジョブを削除する。
// finished_atがRetentionDays日前より古いdone/failedのジョブが対象。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.jobRepo.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("終了済みジョブの削除に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("終了済みジョブの削除に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("ジョブクリーンアップが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
