package handler

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/fitsync/internal/metrics"
	"github.com/hitoshi/fitsync/internal/middleware"
	"github.com/hitoshi/fitsync/internal/ratelimit"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ヘルスチェックのDB疎通確認用
	DB *sql.DB

	// Prometheusスクレイプ用
	Gatherer prometheus.Gatherer

	// ミドルウェア依存
	TriggerLimiter *middleware.TriggerLimiter

	// プロバイダ連携・同期
	LinkService LinkServiceInterface
	SyncEngine  SyncTriggerInterface
	Limiters    *ratelimit.Registry

	// ワークアウト
	WorkoutService WorkoutServiceInterface

	// トレーニング負荷
	FitnessService FitnessServiceInterface

	// コンディション記録
	WellnessService WellnessServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders
//
// 同期トリガーのルートにだけTriggerLimiterを追加で適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	providerHandler := NewProviderHandler(deps.LinkService, deps.SyncEngine, deps.Limiters)
	workoutHandler := NewWorkoutHandler(deps.WorkoutService)
	fitnessHandler := NewFitnessHandler(deps.FitnessService)
	wellnessHandler := NewWellnessHandler(deps.WellnessService)

	// --- 運用エンドポイント ---

	r.Get("/health", newHealthHandler(deps.DB))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	// --- API ---

	r.Route("/api/users/{userID}", func(r chi.Router) {
		// プロバイダ連携・同期
		r.Route("/providers/{provider}", func(r chi.Router) {
			r.Post("/link", providerHandler.Link)
			r.Delete("/link", providerHandler.Unlink)
			r.Get("/status", providerHandler.Status)

			// POST .../sync - 同期トリガー（連打防止のレート制限を追加）
			r.With(deps.TriggerLimiter.Middleware()).Post("/sync", providerHandler.Sync)
		})

		// ワークアウト管理
		r.Route("/workouts", func(r chi.Router) {
			r.Get("/", workoutHandler.List)
			r.Post("/", workoutHandler.CreateManual)
			r.Post("/fit", workoutHandler.IngestFit)
			r.Delete("/{workoutID}", workoutHandler.Delete)
		})

		// トレーニング負荷
		r.Get("/fitness", fitnessHandler.Get)

		// コンディション記録
		r.Route("/wellness", func(r chi.Router) {
			r.Get("/", wellnessHandler.List)
			r.Put("/{date}", wellnessHandler.Upsert)
		})
	})

	return r
}

// newHealthHandler はDBの疎通を確認するヘルスチェックハンドラーを返す。
func newHealthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
