// Package fitness はトレーニング負荷指標(CTL/ATL/TSB)の計算とTSS推定を提供する。
// CTLは42日、ATLは7日の指数移動平均で、休養日をゼロで埋めながら
// 初回データ日から対象日まで1日ずつ更新する。休養日を飛ばすと
// 平均が減衰しなくなるため、ゼロ埋めは省略できない。
package fitness

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/normalize"
	"github.com/hitoshi/fitsync/internal/repository"
)

const (
	// ctlTau はCTL(慢性負荷)の時定数。日単位。
	ctlTau = 42
	// atlTau はATL(急性負荷)の時定数。日単位。
	atlTau = 7
	// defaultLookbackDays は計算対象範囲の既定値。
	defaultLookbackDays = 90
)

// Service はワークアウトのTSSからCTL/ATL/TSBを計算するサービス。
type Service struct {
	workoutRepo  repository.WorkoutRepository
	wellnessRepo repository.WellnessRepository
}

// NewService はServiceを生成する。
func NewService(workoutRepo repository.WorkoutRepository, wellnessRepo repository.WellnessRepository) *Service {
	return &Service{workoutRepo: workoutRepo, wellnessRepo: wellnessRepo}
}

// Compute は[asOf-lookbackDays, asOf]のワークアウトからCTL/ATL/TSBを計算する。
// 範囲内にTSSを持つワークアウトが1件もない場合は(nil, nil)を返す。
// データ不足は正当な状態でありエラーではない。
func (s *Service) Compute(ctx context.Context, userID string, asOf time.Time, lookbackDays int) (*model.LoadSummary, error) {
	if lookbackDays <= 0 {
		lookbackDays = defaultLookbackDays
	}
	asOfDay := midnightUTC(asOf)
	from := asOfDay.AddDate(0, 0, -lookbackDays)
	to := asOfDay.AddDate(0, 0, 1)

	workouts, err := s.workoutRepo.ListByDateRange(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("ワークアウトの取得に失敗しました: %w", err)
	}

	// 同日の複数ワークアウトは加算する。TSS未確定(nil)の行は
	// 「データあり」とは数えない。ゼロTSSとは区別される。
	daily := make(map[string]float64)
	var first time.Time
	for _, w := range workouts {
		if w.TSS == nil {
			continue
		}
		day := midnightUTC(w.StartDate)
		daily[normalize.Date(day)] += *w.TSS
		if first.IsZero() || day.Before(first) {
			first = day
		}
	}
	if first.IsZero() {
		return nil, nil
	}

	var ctl, atl float64
	for day := first; !day.After(asOfDay); day = day.AddDate(0, 0, 1) {
		tss := daily[normalize.Date(day)]
		ctl += (tss - ctl) / ctlTau
		atl += (tss - atl) / atlTau
	}

	return &model.LoadSummary{
		CTL:      round1(ctl),
		ATL:      round1(atl),
		TSB:      round1(ctl - atl),
		Date:     normalize.Date(asOfDay),
		Computed: true,
	}, nil
}

// Current はasOf時点の負荷指標を返す。範囲内にプラットフォーム提供の
// CTLを持つコンディション記録があればそれを優先する。プラットフォームは
// 自身の全履歴から計算しているため、参照範囲が限られるローカル計算より
// 正確な値を持つ。提供値がなければComputeにフォールバックする。
func (s *Service) Current(ctx context.Context, userID string, asOf time.Time, lookbackDays int) (*model.LoadSummary, error) {
	if lookbackDays <= 0 {
		lookbackDays = defaultLookbackDays
	}
	asOfDay := midnightUTC(asOf)
	fromDate := normalize.Date(asOfDay.AddDate(0, 0, -lookbackDays))
	toDate := normalize.Date(asOfDay)

	latest, err := s.wellnessRepo.LatestWithDerived(ctx, userID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("コンディション記録の取得に失敗しました: %w", err)
	}
	if latest != nil && latest.CTL != nil && latest.ATL != nil {
		tsb := *latest.CTL - *latest.ATL
		if latest.TSB != nil {
			tsb = *latest.TSB
		}
		return &model.LoadSummary{
			CTL:      round1(*latest.CTL),
			ATL:      round1(*latest.ATL),
			TSB:      round1(tsb),
			Date:     latest.Date,
			Computed: false,
		}, nil
	}
	return s.Compute(ctx, userID, asOf, lookbackDays)
}

// midnightUTC はUTC基準でその日の深夜0時を返す。
func midnightUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
