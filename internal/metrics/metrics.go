// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 同期エンジン、プロバイダクライアント、ワーカーから利用する。
type MetricsCollector interface {
	RecordProviderRequest(provider string, statusCode int)
	RecordProviderLatency(provider string, duration time.Duration)
	RecordSyncRun(provider, trigger, result string)
	RecordWorkoutUpserted(provider, action string)
	RecordQueueJob(result string)
	RecordWorkerTickSkipped()
	SetQueueDepth(depth int)
	SetBacklogStalled(stalled bool)
	SetRateLimitUsage(provider, window string, used int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	syncRuns         *prometheus.CounterVec
	workoutsUpserted *prometheus.CounterVec
	queueJobs        *prometheus.CounterVec
	workerSkips      prometheus.Counter
	queueDepth       prometheus.Gauge
	backlogStalled   prometheus.Gauge
	rateLimitUsage   *prometheus.GaugeVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitsync_provider_requests_total",
			Help: "プロバイダAPIリクエストのステータスコード別合計数",
		}, []string{"provider", "status_code"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fitsync_provider_request_seconds",
			Help:    "プロバイダAPIリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitsync_sync_runs_total",
			Help: "同期実行のトリガー・結果別合計数",
		}, []string{"provider", "trigger", "result"}),
		workoutsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitsync_workouts_upserted_total",
			Help: "取り込まれたワークアウトの操作別合計数",
		}, []string{"provider", "action"}),
		queueJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitsync_queue_jobs_total",
			Help: "処理された同期ジョブの結果別合計数",
		}, []string{"result"}),
		workerSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitsync_worker_ticks_skipped_total",
			Help: "レート制限予算不足でスキップされたワーカーティックの合計数",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fitsync_queue_depth",
			Help: "pending状態の同期ジョブ数",
		}),
		backlogStalled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fitsync_queue_backlog_stalled",
			Help: "キュー消化が停滞している場合に1",
		}),
		rateLimitUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fitsync_rate_limit_usage",
			Help: "レート制限ウィンドウ内の使用済みコール数",
		}, []string{"provider", "window"}),
	}

	reg.MustRegister(
		c.providerRequests,
		c.providerLatency,
		c.syncRuns,
		c.workoutsUpserted,
		c.queueJobs,
		c.workerSkips,
		c.queueDepth,
		c.backlogStalled,
		c.rateLimitUsage,
	)

	return c
}

// RecordProviderRequest はプロバイダAPIリクエストの結果を記録する。
func (c *Collector) RecordProviderRequest(provider string, statusCode int) {
	c.providerRequests.WithLabelValues(provider, strconv.Itoa(statusCode)).Inc()
}

// RecordProviderLatency はプロバイダAPIリクエストのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(provider string, duration time.Duration) {
	c.providerLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordSyncRun は同期実行の結果を記録する。
// trigger: "manual"=ユーザー起点, "poll"=定期実行, "queue"=キュー消化
// result: "synced", "queued", "partial", "failed"
func (c *Collector) RecordSyncRun(provider, trigger, result string) {
	c.syncRuns.WithLabelValues(provider, trigger, result).Inc()
}

// RecordWorkoutUpserted はワークアウトの取り込みを記録する。
// action: "created"=新規作成, "merged"=既存へのマージ
func (c *Collector) RecordWorkoutUpserted(provider, action string) {
	c.workoutsUpserted.WithLabelValues(provider, action).Inc()
}

// RecordQueueJob は同期ジョブの処理結果を記録する。
func (c *Collector) RecordQueueJob(result string) {
	c.queueJobs.WithLabelValues(result).Inc()
}

// RecordWorkerTickSkipped はレート制限予算不足によるティックのスキップを記録する。
func (c *Collector) RecordWorkerTickSkipped() {
	c.workerSkips.Inc()
}

// SetQueueDepth はpendingジョブ数を設定する。
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// SetBacklogStalled はキュー消化の停滞状態を設定する。
func (c *Collector) SetBacklogStalled(stalled bool) {
	if stalled {
		c.backlogStalled.Set(1)
	} else {
		c.backlogStalled.Set(0)
	}
}

// SetRateLimitUsage はレート制限ウィンドウ内の使用済みコール数を設定する。
// window: "15min" または "daily"
func (c *Collector) SetRateLimitUsage(provider, window string, used int) {
	c.rateLimitUsage.WithLabelValues(provider, window).Set(float64(used))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
