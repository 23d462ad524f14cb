// Package syncer はプロバイダ同期のオーケストレーションを提供する。
// 呼び出し予算の事前判定、予算切れ時のジョブ投入、(ユーザー, プロバイダ)
// 単位のシングルフライト、取得→正規化→照合→保存のパイプラインを束ねる。
// 対話的な「今すぐ同期」も定期ポーリングもキュー消化も、すべて同じ
// 判定と同じパイプラインを通るため、バックプレッシャーの挙動が揃う。
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/fitsync/internal/intervals"
	"github.com/hitoshi/fitsync/internal/metrics"
	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/ratelimit"
	"github.com/hitoshi/fitsync/internal/repository"
	"github.com/hitoshi/fitsync/internal/security"
	"github.com/hitoshi/fitsync/internal/strava"
)

// 同期トリガーの種別。メトリクスのラベルに使う。
const (
	TriggerManual = "manual" // ユーザー起点の同期ボタン
	TriggerPoll   = "poll"   // 定期ポーリング
	TriggerQueue  = "queue"  // キューワーカーによる消化
)

// TokenSource は有効なアクセストークンの取得を抽象化する。token.Managerが実装する。
type TokenSource interface {
	EnsureAccessToken(ctx context.Context, userID string, provider model.Provider) (string, error)
}

// StravaAPI は同期エンジンが使うStravaクライアントの操作。
type StravaAPI interface {
	ListActivities(ctx context.Context, accessToken string, after, before int64, page, perPage int) ([]*strava.Activity, error)
}

// IntervalsAPI は同期エンジンが使うIntervals.icuクライアントの操作。
type IntervalsAPI interface {
	ListActivities(ctx context.Context, apiKey, athleteID, oldest, newest string, limit int) ([]*intervals.Activity, error)
	GetActivity(ctx context.Context, apiKey, activityID string) (*intervals.Activity, error)
	ListWellness(ctx context.Context, apiKey, athleteID, oldest, newest string) ([]*intervals.WellnessDay, error)
}

// Applier はワークアウトの単一の書き込み経路。reconcile.Reconcilerが実装する。
type Applier interface {
	Apply(ctx context.Context, userID string, incoming *model.Workout) (*model.Workout, bool, error)
}

// WellnessFiller はプロバイダ由来の日次記録の取り込み。wellness.Serviceが実装する。
type WellnessFiller interface {
	FillFromProvider(ctx context.Context, day *model.WellnessDay) error
}

// Config は同期パイプラインの調整値。
type Config struct {
	LookbackDays         int // アクティビティの遡り日数(既定365)
	PageSize             int // Stravaの1ページ取得件数(既定200)
	DetailFetchCap       int // 1回の同期あたりの詳細取得上限(既定30)
	DetailConcurrency    int // 詳細取得の並列数(既定4)
	WellnessLookbackDays int // コンディション記録の遡り日数(既定90)
}

func (c *Config) applyDefaults() {
	if c.LookbackDays <= 0 {
		c.LookbackDays = 365
	}
	if c.PageSize <= 0 {
		c.PageSize = 200
	}
	if c.DetailFetchCap <= 0 {
		c.DetailFetchCap = 30
	}
	if c.DetailConcurrency <= 0 {
		c.DetailConcurrency = 4
	}
	if c.WellnessLookbackDays <= 0 {
		c.WellnessLookbackDays = 90
	}
}

// Engine はプロバイダ同期のオーケストレーター。
type Engine struct {
	credRepo   repository.CredentialRepository
	jobRepo    repository.SyncJobRepository
	tokens     TokenSource
	strava     StravaAPI
	intervals  IntervalsAPI
	reconciler Applier
	wellness   WellnessFiller
	limiters   *ratelimit.Registry
	sanitizer  *security.TextSanitizer
	collector  metrics.MetricsCollector
	logger     *slog.Logger
	cfg        Config
	now        func() time.Time

	// inFlight は実行中の(ユーザー, プロバイダ)キー。同一キーの並行同期は
	// 同じワークアウト行を奪い合うため、後着はキューに回す。
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewEngine はEngineを生成する。
func NewEngine(
	credRepo repository.CredentialRepository,
	jobRepo repository.SyncJobRepository,
	tokens TokenSource,
	stravaAPI StravaAPI,
	intervalsAPI IntervalsAPI,
	reconciler Applier,
	wellness WellnessFiller,
	limiters *ratelimit.Registry,
	sanitizer *security.TextSanitizer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		credRepo:   credRepo,
		jobRepo:    jobRepo,
		tokens:     tokens,
		strava:     stravaAPI,
		intervals:  intervalsAPI,
		reconciler: reconciler,
		wellness:   wellness,
		limiters:   limiters,
		sanitizer:  sanitizer,
		collector:  collector,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
		inFlight:   make(map[string]struct{}),
	}
}

// SyncNowOrEnqueue は呼び出し予算があれば同期を即時実行し、なければ
// ジョブをキューに積む。未連携の場合はErrNotLinked、同期中に認証失効を
// 検出した場合はErrCredentialsRevokedを返す。それ以外の同期中の失敗は
// 「この回は不完全、次のトリガーでやり直す」としてログに落とし、
// 呼び出し元には伝播しない。
func (e *Engine) SyncNowOrEnqueue(ctx context.Context, userID string, provider model.Provider, trigger string) (model.SyncOutcome, error) {
	creds, err := e.credRepo.FindByUserAndProvider(ctx, userID, provider)
	if err != nil {
		return "", fmt.Errorf("認証情報の取得に失敗しました: %w", err)
	}
	if creds == nil {
		return "", model.ErrNotLinked
	}

	if !e.limiters.For(string(provider)).CanCall() {
		return e.enqueue(ctx, userID, provider, trigger)
	}

	// 同一(ユーザー, プロバイダ)の同期が走っている間の再トリガーは
	// 失敗させず、キュー経由で後から実行する
	if !e.tryLock(userID, provider) {
		return e.enqueue(ctx, userID, provider, trigger)
	}
	defer e.unlock(userID, provider)

	if err := e.runSync(ctx, creds, trigger); err != nil {
		if errors.Is(err, model.ErrCredentialsRevoked) {
			return "", err
		}
		e.logger.Error("同期が完了しませんでした",
			slog.String("user_id", userID),
			slog.String("provider", string(provider)),
			slog.String("trigger", trigger),
			slog.String("error", err.Error()),
		)
		// 取得済みの分は保存されている。次のトリガーで続きから埋まる。
		return model.SyncOutcomeSyncing, nil
	}
	return model.SyncOutcomeSyncing, nil
}

// RunSync は(ユーザー, プロバイダ)の同期パイプラインを実行する。
// キューワーカーからの呼び出し用で、予算判定は呼び出し側が済ませている
// 前提。同一キーの同期が既に実行中の場合はErrSyncInFlightを返す。
func (e *Engine) RunSync(ctx context.Context, userID string, provider model.Provider) error {
	creds, err := e.credRepo.FindByUserAndProvider(ctx, userID, provider)
	if err != nil {
		return fmt.Errorf("認証情報の取得に失敗しました: %w", err)
	}
	if creds == nil {
		return model.ErrNotLinked
	}

	if !e.tryLock(userID, provider) {
		return model.ErrSyncInFlight
	}
	defer e.unlock(userID, provider)

	return e.runSync(ctx, creds, TriggerQueue)
}

// enqueue はpendingジョブを積む。同一(ユーザー, プロバイダ)のpendingが
// 既にあれば積み増さない。キュー待ちの間に同期ボタンを連打しても
// バックログは伸びない。
func (e *Engine) enqueue(ctx context.Context, userID string, provider model.Provider, trigger string) (model.SyncOutcome, error) {
	has, err := e.jobRepo.HasPending(ctx, userID, provider)
	if err != nil {
		return "", fmt.Errorf("pendingジョブの確認に失敗しました: %w", err)
	}
	if !has {
		job := &model.SyncJob{UserID: userID, Provider: provider}
		if err := e.jobRepo.Enqueue(ctx, job); err != nil {
			return "", fmt.Errorf("同期ジョブの投入に失敗しました: %w", err)
		}
	}
	e.recordRun(provider, trigger, "queued")
	e.logger.Info("呼び出し予算がないため同期をキューに積みました",
		slog.String("user_id", userID),
		slog.String("provider", string(provider)),
		slog.String("trigger", trigger),
		slog.Bool("already_pending", has),
	)
	return model.SyncOutcomeQueued, nil
}

// runSync はプロバイダ別のパイプラインを実行し、結果をメトリクスに記録する。
// パイプライン中の401はトークン失効とみなし、連携解除してから
// ErrCredentialsRevokedに変換する。
func (e *Engine) runSync(ctx context.Context, creds *model.ProviderCredentials, trigger string) error {
	var partial bool
	var err error
	switch creds.Provider {
	case model.ProviderStrava:
		partial, err = e.syncStrava(ctx, creds)
	case model.ProviderIntervals:
		partial, err = e.syncIntervals(ctx, creds)
	default:
		return fmt.Errorf("未対応のプロバイダです: %s", creds.Provider)
	}

	if err != nil {
		if errors.Is(err, model.ErrProviderUnauthorized) {
			e.logger.Warn("プロバイダAPIが認証エラーを返したため連携を解除します",
				slog.String("user_id", creds.UserID),
				slog.String("provider", string(creds.Provider)),
			)
			if unlinkErr := e.credRepo.UnlinkCascade(ctx, creds.UserID, creds.Provider); unlinkErr != nil {
				return fmt.Errorf("失効した連携の解除に失敗しました: %w", unlinkErr)
			}
			e.recordRun(creds.Provider, trigger, "revoked")
			return fmt.Errorf("%w: %v", model.ErrCredentialsRevoked, err)
		}
		if errors.Is(err, model.ErrCredentialsRevoked) {
			e.recordRun(creds.Provider, trigger, "revoked")
			return err
		}
		e.recordRun(creds.Provider, trigger, "failed")
		return err
	}

	result := "synced"
	if partial {
		result = "partial"
	}
	e.recordRun(creds.Provider, trigger, result)
	return nil
}

func (e *Engine) tryLock(userID string, provider model.Provider) bool {
	key := userID + "/" + string(provider)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.inFlight[key]; ok {
		return false
	}
	e.inFlight[key] = struct{}{}
	return true
}

func (e *Engine) unlock(userID string, provider model.Provider) {
	key := userID + "/" + string(provider)
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, key)
}

func (e *Engine) recordRun(provider model.Provider, trigger, result string) {
	if e.collector == nil {
		return
	}
	e.collector.RecordSyncRun(string(provider), trigger, result)
}
