package intervals

import (
	"encoding/json"

	"github.com/hitoshi/fitsync/internal/fitness"
	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/normalize"
)

// NeedsDetail は詳細取得による補完が必要かを返す。fieldsで絞った一覧行に
// name・moving_timeのどちらもない場合が対象。source=STRAVAの行は
// Intervals側に詳細が存在しない（詳細APIも同じ最小オブジェクトを返す）
// ため対象外。
func (a *Activity) NeedsDetail() bool {
	if a.ID == "" || a.Source == "STRAVA" {
		return false
	}
	return a.Name == "" && a.MovingTime == nil
}

// FillFrom は詳細レスポンスで欠けているフィールドを補完する。
// 一覧行で値が入っているフィールドはそのまま残す。raw属性は
// 詳細側が上位集合なので差し替える。
func (a *Activity) FillFrom(detail *Activity) {
	if detail == nil {
		return
	}
	if a.Name == "" {
		a.Name = detail.Name
	}
	if a.Type == "" {
		a.Type = detail.Type
	}
	if a.StartDateLocal == "" {
		a.StartDateLocal = detail.StartDateLocal
	}
	if a.StartDate == "" {
		a.StartDate = detail.StartDate
	}
	if a.Distance == nil {
		a.Distance = detail.Distance
	}
	if a.MovingTime == nil {
		a.MovingTime = detail.MovingTime
	}
	if a.ICUTrainingLoad == nil {
		a.ICUTrainingLoad = detail.ICUTrainingLoad
	}
	if a.TrainingLoad == nil {
		a.TrainingLoad = detail.TrainingLoad
	}
	if a.TSS == nil {
		a.TSS = detail.TSS
	}
	if len(detail.Raw) > 0 {
		a.Raw = detail.Raw
	}
}

// ToWorkout はIntervalsアクティビティを統合ワークアウトに変換する。
// IDがない行や開始時刻を解釈できない行は取り込めないためfalseを返す。
func (a *Activity) ToWorkout(userID string) (*model.Workout, bool) {
	if a.ID == "" {
		return nil, false
	}
	start, ok := normalize.ParseInstant(a.StartDateLocal)
	if !ok {
		start, ok = normalize.ParseInstant(a.StartDate)
	}
	if !ok {
		return nil, false
	}
	w := &model.Workout{
		UserID:      userID,
		ExternalID:  string(a.ID),
		StartDate:   start,
		Name:        a.Name,
		Sport:       a.Type,
		DurationSec: a.MovingTime,
		DistanceM:   a.Distance,
		TSS:         a.trainingLoad(),
		Source:      model.SourceIntervals,
	}
	if len(a.Raw) > 0 {
		if err := json.Unmarshal(a.Raw, &w.Raw); err != nil {
			w.Raw = model.RawBag{}
		}
	}
	return w, true
}

// trainingLoad はトレーニング負荷を導出する。プラットフォーム計算値を
// 優先し、icu_training_load → training_load → tssの順で探す。
// どれもなければ種別ごとの時間あたり推定にフォールバックする。
func (a *Activity) trainingLoad() *float64 {
	for _, v := range []*float64{a.ICUTrainingLoad, a.TrainingLoad, a.TSS} {
		if v != nil {
			f := *v
			return &f
		}
	}
	if a.MovingTime == nil {
		return nil
	}
	f := fitness.EstimateTSSBySport(a.Type, *a.MovingTime)
	return &f
}

// ToWellnessDay はIntervalsの日次記録を統合コンディション記録に変換する。
// 日付を特定できない行はfalseを返す。TSBが届かない場合はCTL−ATLで導出する。
func (d *WellnessDay) ToWellnessDay(userID string) (*model.WellnessDay, bool) {
	date := d.dateKey()
	if date == "" {
		return nil, false
	}
	w := &model.WellnessDay{
		UserID:    userID,
		Date:      date,
		RestingHR: d.RestingHR,
		HRV:       d.HRV,
		WeightKg:  d.Weight,
		CTL:       d.CTL,
		ATL:       d.ATL,
		TSB:       d.TSB,
	}
	if d.SleepSecs != nil {
		hours := *d.SleepSecs / 3600
		w.SleepHours = &hours
	}
	if w.TSB == nil && w.CTL != nil && w.ATL != nil {
		tsb := *w.CTL - *w.ATL
		w.TSB = &tsb
	}
	return w, true
}

// dateKey は日付キーを決める。APIは日付をdate・localDate・idのいずれかに
// 載せるため、順に解釈を試みる。
func (d *WellnessDay) dateKey() string {
	for _, s := range []string{d.Date, d.LocalDate, string(d.ID)} {
		if t, ok := normalize.ParseInstant(s); ok {
			return normalize.Date(t)
		}
	}
	return ""
}
