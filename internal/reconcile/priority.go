package reconcile

import (
	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/normalize"
)

// sourcePriority は表示用の出所優先度。プラットフォーム同期 > FIT > 手動。
func sourcePriority(w *model.Workout) int {
	switch w.Source {
	case model.SourceIntervals, model.SourceStrava:
		return 2
	case model.SourceFit:
		return 1
	default:
		return 0
	}
}

// PickRepresentative はUTC日ごとに表示用の代表行を1件選ぶ。
// 保存は常にマージで1行に集約されるため、これは照合の網をすり抜けて
// 行が分かれてしまった日の表示側の救済にすぎない。
// 優先度が同じ場合は更新が新しい行を採用する。日の並びは入力順を保つ。
func PickRepresentative(rows []*model.Workout) []*model.Workout {
	best := make(map[string]*model.Workout, len(rows))
	order := make([]string, 0, len(rows))
	for _, row := range rows {
		key := normalize.Date(row.StartDate)
		cur, ok := best[key]
		if !ok {
			best[key] = row
			order = append(order, key)
			continue
		}
		if preferred(row, cur) {
			best[key] = row
		}
	}
	out := make([]*model.Workout, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

func preferred(candidate, current *model.Workout) bool {
	pc, pr := sourcePriority(candidate), sourcePriority(current)
	if pc != pr {
		return pc > pr
	}
	return candidate.UpdatedAt.After(current.UpdatedAt)
}
