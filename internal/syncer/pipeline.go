package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/fitsync/internal/intervals"
	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/normalize"
	"github.com/hitoshi/fitsync/internal/ratelimit"
	"github.com/hitoshi/fitsync/internal/strava"
)

// intervalsListLimit はIntervals.icuの一覧取得の上限件数。
// ページングのないAPIのため、遡り期間全体が収まる値にしておく。
const intervalsListLimit = 1000

// syncStrava はStravaのアクティビティを遡り期間分ページングしながら
// 取り込む。ページ境界で呼び出し予算を確認し、尽きたら取得済みの分を
// 保存したまま打ち切る(partial=true)。打ち切った残りは次のトリガーで
// 同じ照合経路を通って埋まる。
func (e *Engine) syncStrava(ctx context.Context, creds *model.ProviderCredentials) (bool, error) {
	accessToken, err := e.tokens.EnsureAccessToken(ctx, creds.UserID, creds.Provider)
	if err != nil {
		return false, err
	}

	limiter := e.limiters.For(string(model.ProviderStrava))
	now := e.now().UTC()
	after := now.AddDate(0, 0, -e.cfg.LookbackDays).Unix()
	before := now.Unix()

	var (
		partial bool
		applied int
	)
	for page := 1; ; page++ {
		if !limiter.CanCall() {
			e.logger.Info("呼び出し予算が尽きたためStravaの同期を打ち切ります",
				slog.String("user_id", creds.UserID),
				slog.Int("page", page),
				slog.Int("applied", applied),
			)
			partial = true
			break
		}
		activities, err := e.strava.ListActivities(ctx, accessToken, after, before, page, e.cfg.PageSize)
		if err != nil {
			// ここまでのページは保存済み。エラーはページ単位で打ち切る。
			return false, fmt.Errorf("Stravaのアクティビティ取得に失敗しました: %w", err)
		}
		for _, a := range activities {
			if e.applyStravaActivity(ctx, creds.UserID, a) {
				applied++
			}
		}
		if len(activities) < e.cfg.PageSize {
			break
		}
	}

	e.logger.Info("Stravaの同期が完了しました",
		slog.String("user_id", creds.UserID),
		slog.Int("applied", applied),
		slog.Bool("partial", partial),
	)
	return partial, nil
}

// applyStravaActivity は1件のアクティビティを照合経路に通す。
// 変換できない行や保存に失敗した行はログに落としてスキップし、
// 同期全体は止めない。
func (e *Engine) applyStravaActivity(ctx context.Context, userID string, a *strava.Activity) bool {
	w, ok := a.ToWorkout(userID)
	if !ok {
		e.logger.Warn("変換できないStravaアクティビティをスキップします",
			slog.String("user_id", userID),
		)
		return false
	}
	e.sanitizeWorkout(w)
	_, created, err := e.reconciler.Apply(ctx, userID, w)
	if err != nil {
		e.logger.Warn("Stravaアクティビティの保存に失敗しました",
			slog.String("user_id", userID),
			slog.String("external_id", w.ExternalID),
			slog.String("error", err.Error()),
		)
		return false
	}
	e.recordUpsert(model.ProviderStrava, created)
	return true
}

// syncIntervals はIntervals.icuのアクティビティと日次コンディション記録を
// 取り込む。一覧は1回の呼び出しで取り、サマリーに欠けがある行だけ
// 上限付きで詳細APIから補完する。
func (e *Engine) syncIntervals(ctx context.Context, creds *model.ProviderCredentials) (bool, error) {
	apiKey, err := e.tokens.EnsureAccessToken(ctx, creds.UserID, creds.Provider)
	if err != nil {
		return false, err
	}
	if creds.AthleteID == "" {
		return false, fmt.Errorf("Intervals.icuのアスリートIDが設定されていません")
	}

	limiter := e.limiters.For(string(model.ProviderIntervals))
	now := e.now().UTC()
	newest := normalize.Date(now)
	oldest := normalize.Date(now.AddDate(0, 0, -e.cfg.LookbackDays))

	activities, err := e.intervals.ListActivities(ctx, apiKey, creds.AthleteID, oldest, newest, intervalsListLimit)
	if err != nil {
		return false, fmt.Errorf("Intervals.icuのアクティビティ取得に失敗しました: %w", err)
	}

	partial := e.backfillDetails(ctx, apiKey, creds.UserID, activities, limiter)

	applied := 0
	for _, a := range activities {
		w, ok := a.ToWorkout(creds.UserID)
		if !ok {
			e.logger.Warn("変換できないIntervals.icuアクティビティをスキップします",
				slog.String("user_id", creds.UserID),
				slog.String("activity_id", string(a.ID)),
			)
			continue
		}
		e.sanitizeWorkout(w)
		_, created, err := e.reconciler.Apply(ctx, creds.UserID, w)
		if err != nil {
			e.logger.Warn("Intervals.icuアクティビティの保存に失敗しました",
				slog.String("user_id", creds.UserID),
				slog.String("external_id", w.ExternalID),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.recordUpsert(model.ProviderIntervals, created)
		applied++
	}

	wellnessPartial := e.syncIntervalsWellness(ctx, apiKey, creds, limiter, now, newest)

	e.logger.Info("Intervals.icuの同期が完了しました",
		slog.String("user_id", creds.UserID),
		slog.Int("applied", applied),
		slog.Bool("partial", partial || wellnessPartial),
	)
	return partial || wellnessPartial, nil
}

// backfillDetails はサマリー行に欠けがあるアクティビティを詳細APIで
// 補完する。1回の同期あたりの取得件数と並列数に上限があり、予算切れで
// 途中打ち切りした場合はtrueを返す。詳細取得の失敗はサマリー行のまま
// 取り込む。
func (e *Engine) backfillDetails(ctx context.Context, apiKey, userID string, activities []*intervals.Activity, limiter ratelimit.Limiter) bool {
	var need []*intervals.Activity
	for _, a := range activities {
		if !a.NeedsDetail() {
			continue
		}
		need = append(need, a)
		if len(need) >= e.cfg.DetailFetchCap {
			break
		}
	}
	if len(need) == 0 {
		return false
	}

	var (
		partial bool
		wg      sync.WaitGroup
		sem     = make(chan struct{}, e.cfg.DetailConcurrency)
	)
	for _, a := range need {
		if !limiter.CanCall() {
			e.logger.Info("呼び出し予算が尽きたため詳細補完を打ち切ります",
				slog.String("user_id", userID),
			)
			partial = true
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(a *intervals.Activity) {
			defer wg.Done()
			defer func() { <-sem }()
			detail, err := e.intervals.GetActivity(ctx, apiKey, string(a.ID))
			if err != nil {
				e.logger.Warn("アクティビティ詳細の取得に失敗しました",
					slog.String("user_id", userID),
					slog.String("activity_id", string(a.ID)),
					slog.String("error", err.Error()),
				)
				return
			}
			a.FillFrom(detail)
		}(a)
	}
	wg.Wait()
	return partial
}

// syncIntervalsWellness は日次コンディション記録を取り込む。
// コンディション記録の失敗はアクティビティ同期の成果を失わせないため、
// ログに落として続行する。予算切れで取得できなかった場合はtrueを返す。
func (e *Engine) syncIntervalsWellness(ctx context.Context, apiKey string, creds *model.ProviderCredentials, limiter ratelimit.Limiter, now time.Time, newest string) bool {
	if e.wellness == nil {
		return false
	}
	if !limiter.CanCall() {
		return true
	}

	oldest := normalize.Date(now.AddDate(0, 0, -e.cfg.WellnessLookbackDays))
	days, err := e.intervals.ListWellness(ctx, apiKey, creds.AthleteID, oldest, newest)
	if err != nil {
		e.logger.Warn("コンディション記録の取得に失敗しました",
			slog.String("user_id", creds.UserID),
			slog.String("error", err.Error()),
		)
		return false
	}

	filled := 0
	for _, d := range days {
		day, ok := d.ToWellnessDay(creds.UserID)
		if !ok {
			continue
		}
		if err := e.wellness.FillFromProvider(ctx, day); err != nil {
			e.logger.Warn("コンディション記録の保存に失敗しました",
				slog.String("user_id", creds.UserID),
				slog.String("date", day.Date),
				slog.String("error", err.Error()),
			)
			continue
		}
		filled++
	}
	e.logger.Info("コンディション記録を取り込みました",
		slog.String("user_id", creds.UserID),
		slog.Int("filled", filled),
	)
	return false
}

func (e *Engine) sanitizeWorkout(w *model.Workout) {
	if e.sanitizer == nil {
		return
	}
	w.Name = e.sanitizer.Sanitize(w.Name)
	w.Sport = e.sanitizer.Sanitize(w.Sport)
	w.Notes = e.sanitizer.Sanitize(w.Notes)
}

func (e *Engine) recordUpsert(provider model.Provider, created bool) {
	if e.collector == nil {
		return
	}
	action := "merged"
	if created {
		action = "created"
	}
	e.collector.RecordWorkoutUpserted(string(provider), action)
}
