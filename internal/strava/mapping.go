package strava

import (
	"encoding/json"
	"strconv"

	"github.com/hitoshi/fitsync/internal/fitness"
	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/normalize"
)

// ToWorkout はStravaアクティビティを統合ワークアウトに変換する。
// IDがない行や開始時刻を解釈できない行は取り込めないためfalseを返す。
// 開始時刻はstart_date_localを優先する。FITファイル由来の行が
// ローカル時刻を持つため、照合窓を揃えるにはローカル側が基準になる。
func (a *Activity) ToWorkout(userID string) (*model.Workout, bool) {
	if a.ID == 0 {
		return nil, false
	}
	start, ok := normalize.ParseInstant(a.StartDateLocal)
	if !ok {
		start, ok = normalize.ParseInstant(a.StartDate)
	}
	if !ok {
		return nil, false
	}
	sport := a.SportType
	if sport == "" {
		sport = a.Type
	}
	w := &model.Workout{
		UserID:      userID,
		ExternalID:  strconv.FormatInt(a.ID, 10),
		StartDate:   start,
		Name:        a.Name,
		Sport:       sport,
		DurationSec: a.MovingTime,
		DistanceM:   a.Distance,
		TSS:         a.deriveTSS(sport),
		Source:      model.SourceStrava,
	}
	if len(a.Raw) > 0 {
		if err := json.Unmarshal(a.Raw, &w.Raw); err != nil {
			w.Raw = model.RawBag{}
		}
	}
	return w, true
}

// deriveTSS はTSSを導出する。Stravaはトレーニング負荷をsuffer_scoreとして
// 返すためそれを優先し、なければ種別ごとの時間あたり推定にフォールバック
// する。所要時間も不明な場合はnil（未確定）のまま取り込む。
func (a *Activity) deriveTSS(sport string) *float64 {
	if a.SufferScore != nil {
		v := *a.SufferScore
		return &v
	}
	if a.MovingTime == nil {
		return nil
	}
	v := fitness.EstimateTSSBySport(sport, *a.MovingTime)
	return &v
}
