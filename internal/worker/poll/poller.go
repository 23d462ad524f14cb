// Package poll は連携済みユーザーの定期同期を提供する。
// 一定間隔でプロバイダごとの連携一覧を列挙し、各(ユーザー, プロバイダ)に
// 対して同期を仕掛ける。予算判定とキュー退避は同期エンジン側の責務で、
// ポーラーは対象の列挙とトリガーだけを行う。
package poll

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/repository"
	"github.com/hitoshi/fitsync/internal/syncer"
)

// SyncTrigger は同期の起動インターフェース。syncer.Engineが実装する。
type SyncTrigger interface {
	SyncNowOrEnqueue(ctx context.Context, userID string, provider model.Provider, trigger string) (model.SyncOutcome, error)
}

// Poller は定期同期のスケジューラ。
type Poller struct {
	credRepo repository.CredentialRepository
	trigger  SyncTrigger
	logger   *slog.Logger
}

// NewPoller はPollerの新しいインスタンスを生成する。
func NewPoller(credRepo repository.CredentialRepository, trigger SyncTrigger, logger *slog.Logger) *Poller {
	return &Poller{
		credRepo: credRepo,
		trigger:  trigger,
		logger:   logger,
	}
}

// Start は指定間隔のティッカーでポーラーを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (p *Poller) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("定期同期ポーラーを開始しました",
		slog.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("定期同期ポーラーを停止しました")
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce は全プロバイダの連携を1巡して同期を仕掛ける。
// 個別の失敗はログに落として続行し、1件の失効や障害が他のユーザーの
// 定期同期を止めないようにする。
func (p *Poller) RunOnce(ctx context.Context) {
	start := time.Now()
	var triggered, queued, failed int

	for _, provider := range []model.Provider{model.ProviderStrava, model.ProviderIntervals} {
		credsList, err := p.credRepo.ListByProvider(ctx, provider)
		if err != nil {
			p.logger.Error("連携一覧の取得に失敗しました",
				slog.String("provider", string(provider)),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, creds := range credsList {
			outcome, err := p.trigger.SyncNowOrEnqueue(ctx, creds.UserID, provider, syncer.TriggerPoll)
			if err != nil {
				failed++
				// 失効はエンジン側で連携解除済み。次の巡回では列挙されない。
				if errors.Is(err, model.ErrCredentialsRevoked) {
					p.logger.Warn("定期同期中に連携の失効を検出しました",
						slog.String("user_id", creds.UserID),
						slog.String("provider", string(provider)),
					)
					continue
				}
				p.logger.Error("定期同期の起動に失敗しました",
					slog.String("user_id", creds.UserID),
					slog.String("provider", string(provider)),
					slog.String("error", err.Error()),
				)
				continue
			}
			if outcome == model.SyncOutcomeQueued {
				queued++
			} else {
				triggered++
			}
		}
	}

	p.logger.Info("定期同期の巡回が完了しました",
		slog.Int("triggered", triggered),
		slog.Int("queued", queued),
		slog.Int("failed", failed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}
