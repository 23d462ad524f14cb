// Package queue は同期ジョブキューの消化ワーカーを提供する。
// 定期ティックごとに呼び出し予算の残っているプロバイダのジョブを
// 最古から1件claimして実行する。1ティック1件に絞ることで、バックログが
// 積もっていても予算を食い尽くさずに少しずつ消化する。
package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/fitsync/internal/metrics"
	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/normalize"
	"github.com/hitoshi/fitsync/internal/ratelimit"
	"github.com/hitoshi/fitsync/internal/repository"
)

// SyncRunner は同期パイプラインの実行インターフェース。syncer.Engineが実装する。
type SyncRunner interface {
	RunSync(ctx context.Context, userID string, provider model.Provider) error
}

// Worker は同期ジョブキューの消化ワーカー。
type Worker struct {
	jobRepo   repository.SyncJobRepository
	runner    SyncRunner
	limiters  *ratelimit.Registry
	collector metrics.MetricsCollector
	logger    *slog.Logger

	// skipAlertThreshold は連続予算スキップの警告しきい値。
	// 「ジョブは積まれているのに予算がなく消化できない」ティックが
	// この回数続いたら、キューが停滞しているとみなして警告する。
	skipAlertThreshold int
	skipStreak         int
}

// NewWorker はWorkerの新しいインスタンスを生成する。
// skipAlertThresholdが0以下の場合はデフォルト値10を使用する。
func NewWorker(
	jobRepo repository.SyncJobRepository,
	runner SyncRunner,
	limiters *ratelimit.Registry,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	skipAlertThreshold int,
) *Worker {
	if skipAlertThreshold <= 0 {
		skipAlertThreshold = 10
	}
	return &Worker{
		jobRepo:            jobRepo,
		runner:             runner,
		limiters:           limiters,
		collector:          collector,
		logger:             logger,
		skipAlertThreshold: skipAlertThreshold,
	}
}

// Start は指定間隔のティッカーでワーカーを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (w *Worker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("キューワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("skip_alert_threshold", w.skipAlertThreshold),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("キューワーカーを停止しました")
			return
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil {
				w.logger.Error("キューティックの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Tick は1ティック分のキュー消化を行う。キュー深度の計測、予算のある
// プロバイダへの絞り込み、最古ジョブ1件のclaimと実行の順に進む。
// ジョブはあるのに予算の残っているプロバイダがない場合はスキップとして
// 数え、連続スキップがしきい値に達したら停滞を警告する。
func (w *Worker) Tick(ctx context.Context) error {
	depth, err := w.jobRepo.CountByStatus(ctx, model.JobStatusPending)
	if err != nil {
		return err
	}
	w.setQueueDepth(depth)
	w.publishRateLimitUsage()

	if depth == 0 {
		w.resetSkipStreak()
		return nil
	}

	allowed := w.allowedProviders()
	if len(allowed) == 0 {
		w.recordSkip(depth)
		return nil
	}

	job, err := w.jobRepo.ClaimOldestPending(ctx, allowed...)
	if err != nil {
		return err
	}
	if job == nil {
		// pendingはあるが予算のあるプロバイダのジョブではない
		w.recordSkip(depth)
		return nil
	}
	w.resetSkipStreak()

	w.runJob(ctx, job)
	return nil
}

// runJob はclaim済みジョブの同期を実行し、終了状態を記録する。
func (w *Worker) runJob(ctx context.Context, job *model.SyncJob) {
	w.logger.Info("同期ジョブを実行します",
		slog.String("job_id", job.ID),
		slog.String("user_id", job.UserID),
		slog.String("provider", string(job.Provider)),
	)
	start := time.Now()

	if err := w.runner.RunSync(ctx, job.UserID, job.Provider); err != nil {
		msg := normalize.Truncate(err.Error(), model.JobErrorMaxLen)
		if markErr := w.jobRepo.MarkFailed(ctx, job.ID, msg); markErr != nil {
			w.logger.Error("ジョブの失敗記録に失敗しました",
				slog.String("job_id", job.ID),
				slog.String("error", markErr.Error()),
			)
		}
		w.recordJob("failed")
		w.logger.Error("同期ジョブが失敗しました",
			slog.String("job_id", job.ID),
			slog.String("user_id", job.UserID),
			slog.String("provider", string(job.Provider)),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := w.jobRepo.MarkDone(ctx, job.ID); err != nil {
		w.logger.Error("ジョブの完了記録に失敗しました",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
	w.recordJob("done")
	w.logger.Info("同期ジョブが完了しました",
		slog.String("job_id", job.ID),
		slog.String("user_id", job.UserID),
		slog.String("provider", string(job.Provider)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}

// allowedProviders は呼び出し予算の残っているプロバイダを返す。
func (w *Worker) allowedProviders() []model.Provider {
	var allowed []model.Provider
	for _, p := range []model.Provider{model.ProviderStrava, model.ProviderIntervals} {
		if w.limiters.For(string(p)).CanCall() {
			allowed = append(allowed, p)
		}
	}
	return allowed
}

// publishRateLimitUsage は各プロバイダの呼び出しウィンドウ使用量をゲージに反映する。
// 使用量を報告できないLimiter実装では何もしない。
func (w *Worker) publishRateLimitUsage() {
	if w.collector == nil {
		return
	}
	for _, p := range []model.Provider{model.ProviderStrava, model.ProviderIntervals} {
		reporter, ok := w.limiters.For(string(p)).(interface{ Usage() (short, long int) })
		if !ok {
			continue
		}
		short, long := reporter.Usage()
		w.collector.SetRateLimitUsage(string(p), "15min", short)
		w.collector.SetRateLimitUsage(string(p), "daily", long)
	}
}

// recordSkip は予算スキップを数え、連続しきい値に達したら停滞を警告する。
func (w *Worker) recordSkip(depth int) {
	w.skipStreak++
	if w.collector != nil {
		w.collector.RecordWorkerTickSkipped()
	}
	if w.skipStreak < w.skipAlertThreshold {
		w.logger.Info("呼び出し予算がないためキュー消化をスキップしました",
			slog.Int("queue_depth", depth),
			slog.Int("skip_streak", w.skipStreak),
		)
		return
	}
	if w.collector != nil {
		w.collector.SetBacklogStalled(true)
	}
	w.logger.Warn("キューが停滞しています。呼び出し予算の設定とプロバイダのクォータを確認してください",
		slog.Int("queue_depth", depth),
		slog.Int("skip_streak", w.skipStreak),
		slog.Int("threshold", w.skipAlertThreshold),
	)
}

func (w *Worker) resetSkipStreak() {
	w.skipStreak = 0
	if w.collector != nil {
		w.collector.SetBacklogStalled(false)
	}
}

func (w *Worker) setQueueDepth(depth int) {
	if w.collector != nil {
		w.collector.SetQueueDepth(depth)
	}
}

func (w *Worker) recordJob(result string) {
	if w.collector != nil {
		w.collector.RecordQueueJob(result)
	}
}
