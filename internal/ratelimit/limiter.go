// Package ratelimit はプロバイダAPIの呼び出し予算を管理する。
// 公開クォータ(例: Stravaは15分200回・日次2000回)に対して、
// 硬い上限の手前のしきい値で自主的に止まることで、処理中のリクエストが
// 重なってもプロバイダ側のハードブロックを踏まないようにする。
package ratelimit

import (
	"sync"
	"time"
)

// Limiter は「今呼んでよいか」と「呼んだ事実の記録」を提供する。
// 実装は注入可能にしてある。同梱のWindowLimiterはプロセスローカルであり、
// 複数プロセスで同一クォータを共有する構成では呼び出し回数を過少に数える。
// その構成では共有ストアを背にした実装に差し替えること。
type Limiter interface {
	CanCall() bool
	RecordCall()
}

// Config はWindowLimiterの設定。
type Config struct {
	ShortWindow   time.Duration // 短期ウィンドウ幅(既定15分)
	ShortCeiling  int           // 短期ウィンドウのプロバイダ公開上限
	LongWindow    time.Duration // 長期ウィンドウ幅(既定24時間)
	LongCeiling   int           // 長期ウィンドウのプロバイダ公開上限
	Threshold     float64       // 上限に対する自主停止比率(既定0.9)
	Now           func() time.Time
}

// WindowLimiter はローリングウィンドウ方式のLimiter実装。
// 各ウィンドウの呼び出し時刻を追記し、チェック時に期限切れを遅延削除する。
type WindowLimiter struct {
	mu sync.Mutex

	shortWindow time.Duration
	longWindow  time.Duration
	shortLimit  int // しきい値適用後の実効上限
	longLimit   int
	short       []time.Time
	long        []time.Time
	now         func() time.Time
}

var _ Limiter = (*WindowLimiter)(nil)

// NewWindowLimiter は設定からWindowLimiterを生成する。
// 未指定の項目には既定値を適用する。
func NewWindowLimiter(cfg Config) *WindowLimiter {
	if cfg.ShortWindow <= 0 {
		cfg.ShortWindow = 15 * time.Minute
	}
	if cfg.LongWindow <= 0 {
		cfg.LongWindow = 24 * time.Hour
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = 0.9
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &WindowLimiter{
		shortWindow: cfg.ShortWindow,
		longWindow:  cfg.LongWindow,
		shortLimit:  effectiveLimit(cfg.ShortCeiling, cfg.Threshold),
		longLimit:   effectiveLimit(cfg.LongCeiling, cfg.Threshold),
		now:         cfg.Now,
	}
}

// effectiveLimit は公開上限にしきい値を掛けた実効上限を返す。
func effectiveLimit(ceiling int, threshold float64) int {
	if ceiling <= 0 {
		return 0
	}
	limit := int(float64(ceiling) * threshold)
	if limit < 1 {
		limit = 1
	}
	return limit
}

// CanCall は両ウィンドウとも実効上限未満のときtrueを返す。
// 上限0のウィンドウは無制限として扱う。
func (l *WindowLimiter) CanCall() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	if l.shortLimit > 0 && len(l.short) >= l.shortLimit {
		return false
	}
	if l.longLimit > 0 && len(l.long) >= l.longLimit {
		return false
	}
	return true
}

// RecordCall は現在時刻を両ウィンドウに追記する。
func (l *WindowLimiter) RecordCall() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.short = append(l.short, now)
	l.long = append(l.long, now)
}

// Usage は遅延削除後の各ウィンドウの呼び出し数を返す。状態エンドポイントと
// メトリクスゲージに使う。
func (l *WindowLimiter) Usage() (short, long int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(l.now())
	return len(l.short), len(l.long)
}

// prune はウィンドウ外に出た呼び出し時刻を捨てる。呼び出し側でロックを取る。
func (l *WindowLimiter) prune(now time.Time) {
	l.short = pruneBefore(l.short, now.Add(-l.shortWindow))
	l.long = pruneBefore(l.long, now.Add(-l.longWindow))
}

// pruneBefore は時刻順に並んだスライスからcutoff以前の要素を落とす。
func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}

// Registry はプロバイダ名ごとのLimiterを保持する。
type Registry struct {
	mu       sync.Mutex
	limiters map[string]Limiter
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]Limiter)}
}

// Register はプロバイダのLimiterを登録する。
func (r *Registry) Register(provider string, l Limiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[provider] = l
}

// For はプロバイダのLimiterを返す。未登録のプロバイダには
// 常に許可するnoopLimiterを返す。
func (r *Registry) For(provider string) Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[provider]; ok {
		return l
	}
	return noopLimiter{}
}

// noopLimiter は常に許可するLimiter。未登録プロバイダ用。
type noopLimiter struct{}

func (noopLimiter) CanCall() bool { return true }
func (noopLimiter) RecordCall()   {}
