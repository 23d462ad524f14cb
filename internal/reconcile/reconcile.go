// Package reconcile はワークアウトの照合とマージを提供する。
// 同一のトレーニングセッションがFITファイルとプラットフォーム同期の
// 両方から届いても、1行のワークアウトに集約する。
package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/repository"
)

const (
	// startWindow は同一の開始とみなす開始時刻の差の上限。
	startWindow = 5 * time.Minute

	// 各項目の許容相対誤差
	durationTolerance = 0.02
	tssTolerance      = 0.05
	distanceTolerance = 0.02
)

// Reconciler はワークアウトの単一の書き込み経路。
// プロバイダ同期・手動入力・FIT取込のすべてがApplyを通る。
type Reconciler struct {
	workoutRepo repository.WorkoutRepository
}

// NewReconciler は照合器を生成する。
func NewReconciler(workoutRepo repository.WorkoutRepository) *Reconciler {
	return &Reconciler{workoutRepo: workoutRepo}
}

// Apply は届いたワークアウトを既存行と照合し、マージまたは新規作成する。
// 保存された行と、新規作成だったかどうかを返す。
// どの出所が先に観測しても最終状態が同じになるよう、マージは可換に作られている。
func (r *Reconciler) Apply(ctx context.Context, userID string, incoming *model.Workout) (*model.Workout, bool, error) {
	incoming.UserID = userID

	// プロバイダ側アクティビティIDでの照合が最優先
	if incoming.ExternalID != "" {
		existing, err := r.workoutRepo.FindByExternalID(ctx, userID, incoming.ExternalID)
		if err != nil {
			return nil, false, fmt.Errorf("ワークアウトの検索に失敗しました: %w", err)
		}
		if existing != nil {
			return r.mergeAndUpdate(ctx, existing, incoming)
		}
	}

	// 同一UTC日内のあいまい照合
	existing, err := r.findMatch(ctx, userID, incoming)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return r.mergeAndUpdate(ctx, existing, incoming)
	}

	if err := r.workoutRepo.Create(ctx, incoming); err != nil {
		// 並行する同期が同じ自然キーを先にINSERTした場合は
		// 再読込とマージで解決し、エラーにはしない
		if repository.IsUniqueViolation(err) {
			return r.resolveInsertRace(ctx, userID, incoming, err)
		}
		return nil, false, fmt.Errorf("ワークアウトの作成に失敗しました: %w", err)
	}
	return incoming, true, nil
}

func (r *Reconciler) mergeAndUpdate(ctx context.Context, existing, incoming *model.Workout) (*model.Workout, bool, error) {
	merge(existing, incoming)
	if err := r.workoutRepo.Update(ctx, existing); err != nil {
		return nil, false, fmt.Errorf("ワークアウトの更新に失敗しました: %w", err)
	}
	return existing, false, nil
}

func (r *Reconciler) resolveInsertRace(ctx context.Context, userID string, incoming *model.Workout, createErr error) (*model.Workout, bool, error) {
	var existing *model.Workout
	var err error
	switch {
	case incoming.ExternalID != "":
		existing, err = r.workoutRepo.FindByExternalID(ctx, userID, incoming.ExternalID)
	case incoming.FitChecksum != "":
		existing, err = r.workoutRepo.FindByFitChecksum(ctx, userID, incoming.FitChecksum)
	}
	if err != nil {
		return nil, false, fmt.Errorf("ワークアウトの再読込に失敗しました: %w", err)
	}
	if existing == nil {
		return nil, false, fmt.Errorf("ワークアウトの作成に失敗しました: %w", createErr)
	}
	return r.mergeAndUpdate(ctx, existing, incoming)
}

// findMatch は同一UTC日の既存ワークアウトから照合相手を探す。
// 開始時刻が5分以内、または比較可能な項目がすべて許容誤差内なら一致とみなす。
// 開始時刻が新しい候補から順に照合する。
func (r *Reconciler) findMatch(ctx context.Context, userID string, incoming *model.Workout) (*model.Workout, error) {
	start := incoming.StartDate.UTC()
	dayStart := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	rows, err := r.workoutRepo.ListByDateRange(ctx, userID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("ワークアウトの検索に失敗しました: %w", err)
	}
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if !row.StartDate.IsZero() && !incoming.StartDate.IsZero() &&
			absDuration(row.StartDate.Sub(incoming.StartDate)) <= startWindow {
			return row, nil
		}
		if matchesByTolerance(row, incoming) {
			return row, nil
		}
	}
	return nil, nil
}

// matchesByTolerance は時間・TSS・距離による一致判定。
// 両側に存在する項目だけを比較し、片側にしかない項目は不一致とみなさない。
// ただし比較できた項目が1つもなければ一致とはしない。
func matchesByTolerance(existing, incoming *model.Workout) bool {
	pairs := []struct {
		a, b *float64
		tol  float64
	}{
		{int64ToFloat(incoming.DurationSec), int64ToFloat(existing.DurationSec), durationTolerance},
		{incoming.TSS, existing.TSS, tssTolerance},
		{incoming.DistanceM, existing.DistanceM, distanceTolerance},
	}
	comparable := 0
	for _, p := range pairs {
		if p.a == nil || p.b == nil {
			continue
		}
		if !withinTolerance(*p.a, *p.b, p.tol) {
			return false
		}
		comparable++
	}
	return comparable > 0
}

// withinTolerance は相対誤差による近似一致判定。
// 両方ゼロなら一致、片方だけゼロなら絶対差で判定する。
func withinTolerance(a, b, tol float64) bool {
	if a == 0 && b == 0 {
		return true
	}
	if a == 0 || b == 0 {
		return math.Abs(a-b) < 1e-6
	}
	return math.Abs(a-b)/math.Max(math.Abs(a), math.Abs(b)) <= tol
}

// merge はincomingの値をexistingに取り込む。非空・非nilの入力値が優先され、
// start_dateだけは既存行のものを保持する（照合の基準点を動かさないため）。
func merge(existing, incoming *model.Workout) {
	if incoming.Name != "" {
		existing.Name = incoming.Name
	}
	if incoming.Sport != "" {
		existing.Sport = incoming.Sport
	}
	if incoming.DurationSec != nil {
		existing.DurationSec = incoming.DurationSec
	}
	if incoming.DistanceM != nil {
		existing.DistanceM = incoming.DistanceM
	}
	if incoming.TSS != nil {
		existing.TSS = incoming.TSS
	}
	if incoming.Notes != "" {
		existing.Notes = incoming.Notes
	}
	if incoming.Source != "" {
		existing.Source = incoming.Source
	}
	if incoming.ExternalID != "" {
		existing.ExternalID = incoming.ExternalID
	}
	if incoming.FitChecksum != "" {
		existing.FitChecksum = incoming.FitChecksum
	}
	existing.Raw = mergeRaw(existing.Raw, incoming.Raw)
}

// mergeRaw はraw属性バッグをキー単位で統合する。incomingの非nullキーが
// 優先されるが、時系列サンプルだけは例外で、後から届いた疎なペイロードが
// FIT由来の詳細なサンプルを消さないよう、既存側を保持する。
func mergeRaw(existing, incoming model.RawBag) model.RawBag {
	out := model.RawBag{
		Series: existing.Series,
		Fields: mergeFields(existing.Fields, incoming.Fields),
	}
	if incoming.HasSeries() {
		out.Series = incoming.Series
	}
	return out
}

func mergeFields(existing, incoming map[string]json.RawMessage) map[string]json.RawMessage {
	if len(incoming) == 0 {
		return existing
	}
	out := make(map[string]json.RawMessage, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		if isJSONNull(v) {
			continue
		}
		if prev, ok := out[k]; ok && isJSONObject(prev) && isJSONObject(v) {
			out[k] = mergeObjects(prev, v)
			continue
		}
		out[k] = v
	}
	return out
}

// mergeObjects はネストしたJSONオブジェクト同士を再帰的に統合する。
// どちらかが解釈できない場合はincoming側をそのまま採用する。
func mergeObjects(existing, incoming json.RawMessage) json.RawMessage {
	var em, im map[string]json.RawMessage
	if err := json.Unmarshal(existing, &em); err != nil {
		return incoming
	}
	if err := json.Unmarshal(incoming, &im); err != nil {
		return incoming
	}
	merged, err := json.Marshal(mergeFields(em, im))
	if err != nil {
		return incoming
	}
	return merged
}

func isJSONNull(v json.RawMessage) bool {
	t := bytes.TrimSpace(v)
	return len(t) == 0 || string(t) == "null"
}

func isJSONObject(v json.RawMessage) bool {
	t := bytes.TrimSpace(v)
	return len(t) > 0 && t[0] == '{'
}

func int64ToFloat(p *int64) *float64 {
	if p == nil {
		return nil
	}
	f := float64(*p)
	return &f
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
