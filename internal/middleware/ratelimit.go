package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/hitoshi/fitsync/internal/model"
)

// TriggerLimiterConfig は同期トリガーのレート制限設定を保持する。
// プロバイダ呼び出し予算(ratelimitパッケージ)とは別物で、こちらは
// 同期ボタン連打のようなAPI面の乱用からエンドポイントを守る。
type TriggerLimiterConfig struct {
	PerMinute       int           // 1ユーザーあたりの毎分リクエスト上限
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultTriggerLimiterConfig はデフォルトのレート制限設定を返す。
// 同期トリガー 10 req/min/user。
func DefaultTriggerLimiterConfig() TriggerLimiterConfig {
	return TriggerLimiterConfig{
		PerMinute:       10,
		CleanupInterval: 5 * time.Minute,
	}
}

// userLimiter はユーザーごとのレートリミッターとアクセス時刻を保持する。
type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// TriggerLimiter は同期トリガーのユーザーごとレート制限を管理する。
type TriggerLimiter struct {
	config TriggerLimiterConfig

	mu       sync.RWMutex
	limiters map[string]*userLimiter

	stopCh chan struct{}
}

// NewTriggerLimiter は新しいTriggerLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewTriggerLimiter(config TriggerLimiterConfig) *TriggerLimiter {
	if config.PerMinute <= 0 {
		config.PerMinute = 10
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	tl := &TriggerLimiter{
		config:   config,
		limiters: make(map[string]*userLimiter),
		stopCh:   make(chan struct{}),
	}

	go tl.cleanupLoop()

	return tl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (tl *TriggerLimiter) Stop() {
	close(tl.stopCh)
}

// Middleware は同期トリガーのレート制限ミドルウェアを返す。
// パスパラメータのuserIDをキーにするため、chiのルートパラメータ
// {userID}を持つルートに配置する。
func (tl *TriggerLimiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := chi.URLParam(r, "userID")
			if userID == "" {
				WriteErrorResponse(w, http.StatusBadRequest,
					model.NewInvalidRequestError("ユーザーIDが指定されていません"))
				return
			}

			limiter := tl.getOrCreateLimiter(userID)

			if !limiter.Allow() {
				tl.writeRateLimitResponse(w)
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", "sync_trigger"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Count は現在管理されているリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (tl *TriggerLimiter) Count() int {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return len(tl.limiters)
}

// getOrCreateLimiter はユーザーのリミッターを取得または作成する。
func (tl *TriggerLimiter) getOrCreateLimiter(userID string) *rate.Limiter {
	tl.mu.RLock()
	ul, exists := tl.limiters[userID]
	tl.mu.RUnlock()

	if exists {
		tl.mu.Lock()
		ul.lastAccess = time.Now()
		tl.mu.Unlock()
		return ul.limiter
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()

	// ダブルチェック
	if ul, exists := tl.limiters[userID]; exists {
		ul.lastAccess = time.Now()
		return ul.limiter
	}

	limiter := rate.NewLimiter(rate.Limit(float64(tl.config.PerMinute)/60.0), tl.config.PerMinute)
	tl.limiters[userID] = &userLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (tl *TriggerLimiter) cleanupLoop() {
	ticker := time.NewTicker(tl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tl.cleanup()
		case <-tl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (tl *TriggerLimiter) cleanup() {
	ttl := tl.config.CleanupInterval * 2

	now := time.Now()

	tl.mu.Lock()
	for userID, ul := range tl.limiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(tl.limiters, userID)
		}
	}
	tl.mu.Unlock()
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func (tl *TriggerLimiter) writeRateLimitResponse(w http.ResponseWriter) {
	// Retry-Afterの算出: 1トークンが補充されるまでの秒数
	retryAfterSec := int(math.Ceil(60.0 / float64(tl.config.PerMinute)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}
