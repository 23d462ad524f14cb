// Package model はドメインモデルを定義する。
package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Workout は1回のトレーニングセッションを表す統合レコード。
// 手動入力・FITファイル・外部プラットフォームのいずれから届いても、
// 同一セッションは1行に集約される。
type Workout struct {
	ID          string
	UserID      string
	ExternalID  string // プラットフォーム側のアクティビティID（連携由来の行のみ）
	FitChecksum string // アップロードされたFITファイルのSHA-256（FIT由来の行のみ）
	StartDate   time.Time
	Name        string
	Sport       string
	DurationSec *int64
	DistanceM   *float64
	TSS         *float64
	Notes       string
	Source      Source
	Raw         RawBag
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Source はワークアウトの出所を表す。
type Source string

const (
	// SourceManual は手動入力によるワークアウト。
	SourceManual Source = "manual"
	// SourceFit はアップロードされたFITファイル由来のワークアウト。
	SourceFit Source = "fit"
	// SourceIntervals はIntervals.icu同期由来のワークアウト。
	SourceIntervals Source = "intervals"
	// SourceStrava はStrava同期由来のワークアウト。
	SourceStrava Source = "strava"
)

// SyncOutcome は同期トリガーの結果を表す。
type SyncOutcome string

const (
	// SyncOutcomeSyncing は即時同期が実行されたことを表す。
	SyncOutcomeSyncing SyncOutcome = "syncing"
	// SyncOutcomeQueued はレート制限によりジョブが待機列に積まれたことを表す。
	SyncOutcomeQueued SyncOutcome = "queued"
)

// LoadSummary はある日付時点のトレーニング負荷指標を表す。
type LoadSummary struct {
	CTL      float64 `json:"ctl"`
	ATL      float64 `json:"atl"`
	TSB      float64 `json:"tsb"`
	Date     string  `json:"date"`
	Computed bool    `json:"computed"` // trueならローカル計算、falseならプラットフォーム提供値
}

// RawBag はプロバイダ固有の属性バッグを表す。
// リコンサイラが参照するのはSeries（時系列サンプル）の有無だけであり、
// 残りのキーは不透明なJSON断片として保持される。
type RawBag struct {
	Series json.RawMessage
	Fields map[string]json.RawMessage
}

// rawSeriesKey は時系列サンプルを格納するJSONキー。
const rawSeriesKey = "series"

// NewRawBag はフラットなJSONオブジェクトからRawBagを構築する。
func NewRawBag(fields map[string]json.RawMessage) RawBag {
	bag := RawBag{}
	for k, v := range fields {
		if k == rawSeriesKey {
			bag.Series = v
			continue
		}
		if bag.Fields == nil {
			bag.Fields = make(map[string]json.RawMessage)
		}
		bag.Fields[k] = v
	}
	return bag
}

// SetField は任意の値をJSONに変換してキーに格納する。
func (b *RawBag) SetField(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("raw属性の変換に失敗しました: %w", err)
	}
	if key == rawSeriesKey {
		b.Series = data
		return nil
	}
	if b.Fields == nil {
		b.Fields = make(map[string]json.RawMessage)
	}
	b.Fields[key] = data
	return nil
}

// HasSeries は空でない時系列サンプルを保持しているかを返す。
// JSONのnull・空配列・空オブジェクトは「なし」として扱う。
func (b RawBag) HasSeries() bool {
	s := bytes.TrimSpace(b.Series)
	if len(s) == 0 {
		return false
	}
	switch string(s) {
	case "null", "[]", "{}", `""`:
		return false
	}
	return true
}

// IsEmpty はバッグが何も保持していないかを返す。
func (b RawBag) IsEmpty() bool {
	return len(b.Fields) == 0 && !b.HasSeries()
}

// MarshalJSON はフラットなプロバイダ形式のJSONオブジェクトに変換する。
func (b RawBag) MarshalJSON() ([]byte, error) {
	flat := make(map[string]json.RawMessage, len(b.Fields)+1)
	for k, v := range b.Fields {
		flat[k] = v
	}
	if b.HasSeries() {
		flat[rawSeriesKey] = b.Series
	}
	return json.Marshal(flat)
}

// UnmarshalJSON はフラットなJSONオブジェクトからRawBagを復元する。
func (b *RawBag) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*b = RawBag{}
		return nil
	}
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &flat); err != nil {
		return err
	}
	*b = NewRawBag(flat)
	return nil
}

// Value はdatabase/sql用にJSONB表現を返す。
func (b RawBag) Value() (driver.Value, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Scan はJSONBカラムからRawBagを復元する。
func (b *RawBag) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*b = RawBag{}
		return nil
	case []byte:
		return b.UnmarshalJSON(v)
	case string:
		return b.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("raw属性のスキャンに失敗しました: 未対応の型 %T", src)
	}
}
