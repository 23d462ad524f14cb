// Package app はアプリケーションの初期化と起動モードの振り分けを行う。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/fitsync/internal/config"
	"github.com/hitoshi/fitsync/internal/database"
	"github.com/hitoshi/fitsync/internal/fitness"
	"github.com/hitoshi/fitsync/internal/handler"
	"github.com/hitoshi/fitsync/internal/intervals"
	"github.com/hitoshi/fitsync/internal/logger"
	"github.com/hitoshi/fitsync/internal/metrics"
	"github.com/hitoshi/fitsync/internal/middleware"
	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/ratelimit"
	"github.com/hitoshi/fitsync/internal/reconcile"
	"github.com/hitoshi/fitsync/internal/repository"
	"github.com/hitoshi/fitsync/internal/security"
	"github.com/hitoshi/fitsync/internal/strava"
	"github.com/hitoshi/fitsync/internal/syncer"
	"github.com/hitoshi/fitsync/internal/token"
	"github.com/hitoshi/fitsync/internal/wellness"
	"github.com/hitoshi/fitsync/internal/worker/cleanup"
	"github.com/hitoshi/fitsync/internal/worker/poll"
	"github.com/hitoshi/fitsync/internal/worker/queue"
	"github.com/hitoshi/fitsync/internal/workout"
)

// textMaxLen はワークアウト名・メモなどの自由記述テキストの最大ルーン数。
const textMaxLen = 500

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモード（キュー消化・ポーリング・クリーンアップ）で起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "worker":
		return CommandWorker
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// レベル指定を反映して設定し直す
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// syncStack は同期系の依存一式。サーバーモードとワーカーモードの両方が
// 同じ構成の同期エンジンを使うため、ワイヤリングを一箇所にまとめる。
type syncStack struct {
	credRepo     repository.CredentialRepository
	jobRepo      repository.SyncJobRepository
	workoutRepo  repository.WorkoutRepository
	wellnessRepo repository.WellnessRepository

	limiters  *ratelimit.Registry
	sanitizer *security.TextSanitizer
	collector *metrics.Collector
	registry  *prometheus.Registry

	linkService *token.LinkService
	engine      *syncer.Engine
	wellnessSvc *wellness.Service
}

// buildSyncStack はDB接続から同期エンジンまでの依存関係を構築する。
func buildSyncStack(cfg *config.Config, db *sql.DB) (*syncStack, error) {
	// 保存時暗号化
	cipher, err := security.NewTokenCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token cipher: %w", err)
	}

	// リポジトリ
	credRepo := repository.NewPostgresCredentialRepo(db, cipher)
	jobRepo := repository.NewPostgresSyncJobRepo(db)
	workoutRepo := repository.NewPostgresWorkoutRepo(db)
	wellnessRepo := repository.NewPostgresWellnessRepo(db)

	// メトリクス
	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)

	// プロバイダ向け外部通信（SSRF防止付きクライアント）
	guard := security.NewOutboundGuard()
	for _, baseURL := range []string{cfg.StravaAPIBaseURL, cfg.StravaTokenURL, cfg.IntervalsBaseURL} {
		if err := guard.ValidateBaseURL(baseURL); err != nil {
			return nil, fmt.Errorf("provider base URL rejected: %w", err)
		}
	}
	httpClient := guard.NewSafeClient(cfg.ProviderHTTPTimeout)

	// プロバイダ呼び出し予算
	limiters := ratelimit.NewRegistry()
	limiters.Register(string(model.ProviderStrava), ratelimit.NewWindowLimiter(ratelimit.Config{
		ShortCeiling: cfg.StravaLimit15Min,
		LongCeiling:  cfg.StravaLimitDaily,
		Threshold:    cfg.RateLimitThreshold,
	}))
	limiters.Register(string(model.ProviderIntervals), ratelimit.NewWindowLimiter(ratelimit.Config{
		ShortCeiling: cfg.IntervalsLimit15Min,
		LongCeiling:  cfg.IntervalsLimitDaily,
		Threshold:    cfg.RateLimitThreshold,
	}))

	// プロバイダクライアント
	stravaClient := strava.NewClient(httpClient, slog.Default(), cfg.StravaAPIBaseURL,
		limiters.For("strava"), collector)
	intervalsClient := intervals.NewClient(httpClient, slog.Default(), cfg.IntervalsBaseURL,
		cfg.IntervalsRequestInterval, limiters.For("intervals"), collector)

	// トークン管理・連携サービス
	manager := token.NewManager(credRepo, token.ManagerConfig{
		StravaClientID:     cfg.StravaClientID,
		StravaClientSecret: cfg.StravaClientSecret,
		StravaTokenURL:     cfg.StravaTokenURL,
		HTTPClient:         httpClient,
	})
	linkService := token.NewLinkService(credRepo, manager, intervalsClient)

	// 取り込みパイプライン
	sanitizer := security.NewTextSanitizer(textMaxLen)
	reconciler := reconcile.NewReconciler(workoutRepo)
	wellnessSvc := wellness.NewService(wellnessRepo)

	engine := syncer.NewEngine(
		credRepo, jobRepo, manager, stravaClient, intervalsClient,
		reconciler, wellnessSvc, limiters, sanitizer, collector, slog.Default(),
		syncer.Config{
			LookbackDays:         cfg.SyncLookbackDays,
			PageSize:             cfg.SyncPageSize,
			DetailFetchCap:       cfg.SyncDetailFetchCap,
			DetailConcurrency:    cfg.SyncDetailConcurrency,
			WellnessLookbackDays: cfg.WellnessLookbackDays,
		},
	)

	return &syncStack{
		credRepo:     credRepo,
		jobRepo:      jobRepo,
		workoutRepo:  workoutRepo,
		wellnessRepo: wellnessRepo,
		limiters:     limiters,
		sanitizer:    sanitizer,
		collector:    collector,
		registry:     promRegistry,
		linkService:  linkService,
		engine:       engine,
		wellnessSvc:  wellnessSvc,
	}, nil
}

// openDatabase はDB接続を開き、疎通を確認して返す。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	stack, err := buildSyncStack(cfg, db)
	if err != nil {
		return err
	}

	// 同期系以外のドメインサービス
	reconciler := reconcile.NewReconciler(stack.workoutRepo)
	workoutSvc := workout.NewService(stack.workoutRepo, reconciler,
		workout.NewFitParser(), stack.sanitizer, stack.collector)
	fitnessSvc := fitness.NewService(stack.workoutRepo, stack.wellnessRepo)

	// 同期トリガーの連打防止
	triggerLimiter := middleware.NewTriggerLimiter(middleware.TriggerLimiterConfig{
		PerMinute: cfg.RateLimitSyncTrigger,
	})
	defer triggerLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:          slog.Default(),
		DB:              db,
		Gatherer:        stack.registry,
		TriggerLimiter:  triggerLimiter,
		LinkService:     stack.linkService,
		SyncEngine:      stack.engine,
		Limiters:        stack.limiters,
		WorkoutService:  workoutSvc,
		FitnessService:  fitnessSvc,
		WellnessService: stack.wellnessSvc,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// キュー消化ワーカー・定期ポーリング・ジョブクリーンアップの3つの
// バックグラウンドループを起動し、シグナル受信まで実行を続ける。
// /health と /metrics だけの小さなHTTPエンドポイントも提供する。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	stack, err := buildSyncStack(cfg, db)
	if err != nil {
		return err
	}

	queueWorker := queue.NewWorker(stack.jobRepo, stack.engine, stack.limiters,
		stack.collector, slog.Default(), cfg.WorkerSkipAlertThreshold)
	poller := poll.NewPoller(stack.credRepo, stack.engine, slog.Default())
	cleanupJob := cleanup.NewCleanupJob(stack.jobRepo, slog.Default())
	cleanupJob.RetentionDays = cfg.QueueRetentionDays

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// ワーカーのヘルスチェックとメトリクススクレイプ用エンドポイント
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(stack.registry))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := &http.Server{Addr: ":" + cfg.ServerPort, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("queue_tick_interval", cfg.QueueTickInterval),
		slog.Duration("sync_poll_interval", cfg.SyncPollInterval),
		slog.Int("retention_days", cleanupJob.RetentionDays),
	)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		queueWorker.Start(ctx, cfg.QueueTickInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Start(ctx, cfg.SyncPollInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		// 起動直後に1回実行してから定期実行に入る
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}
		cleanupJob.Start(ctx, cfg.CleanupInterval)
	}()

	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("worker metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
